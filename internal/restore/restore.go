// Package restore recreates archived workspace items in a live workspace.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jomei/notionapi"
	"github.com/takak2166/notionsnap/internal/archive"
	"github.com/takak2166/notionsnap/internal/hasher"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/notion"
	"github.com/takak2166/notionsnap/internal/storage"
)

var (
	// ErrNoDestination means neither the job nor the configuration names a parent page
	ErrNoDestination = errors.New("no restore destination page")
	// ErrAuth means the Notion credential is missing, expired or revoked
	ErrAuth = errors.New("notion credential rejected")
)

// NothingToRestore is the completion message when the filter selects nothing
const NothingToRestore = "Nothing to restore"

// Progress percentages at each phase boundary
const (
	percentDownloading   = 5
	percentDecompressing = 15
	percentParsing       = 25
	percentRestoring     = 30
	percentRestoreSpan   = 69
	percentCompleted     = 100
)

// ProgressSink receives every status change of a restore
type ProgressSink interface {
	Report(ctx context.Context, ev models.ProgressEvent) error
}

// Options tunes an Engine
type Options struct {
	// DefaultParentPageID is used when a job names no target page
	DefaultParentPageID string
	RequestsPerSecond   int
	TempDir             string
	Observer            notion.Observer
}

// Engine runs restore jobs
type Engine struct {
	blobs     storage.BlobStore
	newClient notion.ClientFactory
	sink      ProgressSink
	opts      Options
}

// Outcome summarises a finished restore
type Outcome struct {
	Total          int
	Restored       int
	Failed         int
	BlocksRestored int
	BlocksSkipped  int
	Message        string
}

// New creates an Engine reading archives from blobs
func New(blobs storage.BlobStore, factory notion.ClientFactory, sink ProgressSink, opts Options) *Engine {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = notion.DefaultRequestsPerSecond
	}
	return &Engine{blobs: blobs, newClient: factory, sink: sink, opts: opts}
}

func (e *Engine) report(ctx context.Context, job models.RestoreJob, status models.RestoreStatus, pct int, msg string, out *Outcome) {
	ev := models.ProgressEvent{
		JobID:      job.RestoreID,
		Status:     string(status),
		Percentage: pct,
		Message:    msg,
	}
	if out != nil {
		ev.Total = out.Total
		ev.Done = out.Restored
		ev.Failed = out.Failed
	}
	if e.sink == nil {
		return
	}
	if err := e.sink.Report(ctx, ev); err != nil {
		logger.Error("Failed to report restore progress", err, map[string]interface{}{
			"restore_id": job.RestoreID,
			"status":     status,
		})
	}
}

func (e *Engine) fail(ctx context.Context, job models.RestoreJob, out *Outcome, err error) (*Outcome, error) {
	logger.Error("Restore failed", err, map[string]interface{}{
		"restore_id":  job.RestoreID,
		"snapshot_id": job.SnapshotID,
	})
	e.report(ctx, job, models.RestoreError, models.ErrorPercentage, err.Error(), out)
	return out, err
}

// Restore runs job to completion, reporting every phase to the sink. Item
// failures are counted; only a missing archive, a missing destination or a
// rejected credential fail the job.
func (e *Engine) Restore(ctx context.Context, job models.RestoreJob, token string) (*Outcome, error) {
	out := &Outcome{}
	parent := destination(job.TargetParentPageID, e.opts.DefaultParentPageID)
	if parent == "" {
		return e.fail(ctx, job, out, ErrNoDestination)
	}
	if token == "" {
		return e.fail(ctx, job, out, fmt.Errorf("%w: no token stored", ErrAuth))
	}

	e.report(ctx, job, models.RestoreDownloading, percentDownloading, "Downloading archive", nil)
	compressed, err := e.download(ctx, job)
	if err != nil {
		return e.fail(ctx, job, out, err)
	}
	defer os.Remove(compressed)

	e.report(ctx, job, models.RestoreDecompressing, percentDecompressing, "Decompressing archive", nil)
	plain, err := e.decompress(compressed)
	if err != nil {
		return e.fail(ctx, job, out, err)
	}
	defer os.Remove(plain)

	e.report(ctx, job, models.RestoreParsing, percentParsing, "Parsing archive", nil)
	doc, err := parseFile(plain)
	if err != nil {
		return e.fail(ctx, job, out, err)
	}

	selected := selectItems(doc.Items, job.Targets)
	if len(selected) == 0 {
		out.Message = NothingToRestore
		e.report(ctx, job, models.RestoreCompleted, percentCompleted, NothingToRestore, out)
		return out, nil
	}
	out.Total = units(selected)

	queue := notion.NewQueue(e.opts.RequestsPerSecond)
	if e.opts.Observer != nil {
		queue.WithObserver(e.opts.Observer)
	}
	r := &run{
		engine:  e,
		job:     job,
		client:  notion.New(e.newClient(token), queue),
		out:     out,
		created: map[string]target{},
	}
	e.report(ctx, job, models.RestoreRestoring, percentRestoring, fmt.Sprintf("Restoring %d items", out.Total), out)

	if err := r.restoreAll(ctx, order(selected), parent); err != nil {
		return e.fail(ctx, job, out, err)
	}

	out.Message = fmt.Sprintf("Restored %d of %d items", out.Restored, out.Total)
	if out.Failed > 0 {
		out.Message += fmt.Sprintf(", %d failed", out.Failed)
	}
	e.report(ctx, job, models.RestoreCompleted, percentCompleted, out.Message, out)
	logger.Info("Restore finished", map[string]interface{}{
		"restore_id":      job.RestoreID,
		"total":           out.Total,
		"restored":        out.Restored,
		"failed":          out.Failed,
		"blocks_restored": out.BlocksRestored,
		"blocks_skipped":  out.BlocksSkipped,
	})
	return out, nil
}

// download copies the compressed archive to a temp file and returns its path
func (e *Engine) download(ctx context.Context, job models.RestoreJob) (string, error) {
	path := archive.ArchivePath(job.UserID, job.SnapshotID)
	blob, err := e.blobs.Read(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", archive.ErrArchiveNotFound, path)
		}
		return "", fmt.Errorf("failed to download archive: %w", err)
	}
	f, err := os.CreateTemp(e.opts.TempDir, "restore-*.json.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(blob); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), nil
}

func (e *Engine) decompress(compressed string) (string, error) {
	src, err := os.Open(compressed)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(e.opts.TempDir, "restore-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dst.Close()
	if _, err := archive.Decompress(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("%w: %v", archive.ErrArchiveParse, err)
	}
	return dst.Name(), nil
}

func parseFile(path string) (*models.Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	return archive.ParseArchive(f)
}

// target is where an archived item now lives
type target struct {
	id string
	// page is the page that holds the item, used as parent for subpages
	page string
}

type run struct {
	engine  *Engine
	job     models.RestoreJob
	client  *notion.Client
	out     *Outcome
	created map[string]target
}

func (r *run) progress(ctx context.Context) {
	done := r.out.Restored + r.out.Failed
	pct := percentRestoring
	if r.out.Total > 0 {
		pct += percentRestoreSpan * done / r.out.Total
	}
	if pct > percentCompleted-1 {
		pct = percentCompleted - 1
	}
	r.engine.report(ctx, r.job, models.RestoreRestoring, pct,
		fmt.Sprintf("Restored %d of %d items", r.out.Restored, r.out.Total), r.out)
}

// unitFailed records a failed page, database or row together with every
// unit nested in it. A rejected credential is returned so the whole job stops.
func (r *run) unitFailed(ctx context.Context, item *models.WorkspaceItem, err error) error {
	if notion.IsUnauthorized(err) {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	logger.Error("Failed to restore item", err, map[string]interface{}{
		"restore_id": r.job.RestoreID,
		"item_id":    item.ID,
		"kind":       item.Kind,
	})
	r.out.Failed += units([]*models.WorkspaceItem{item})
	r.progress(ctx)
	return nil
}

func (r *run) unitDone(ctx context.Context, item *models.WorkspaceItem, t target) {
	r.created[hasher.NormalizeID(item.ID)] = t
	r.out.Restored++
	r.progress(ctx)
}

// parentPage returns the page a top-level item is created under
func (r *run) parentPage(item *models.WorkspaceItem, fallback string) string {
	if t, ok := r.created[hasher.NormalizeID(item.ParentID)]; ok {
		return t.page
	}
	return fallback
}

func (r *run) restoreAll(ctx context.Context, items []*models.WorkspaceItem, fallback string) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore interrupted: %w", err)
		}
		parent := r.parentPage(item, fallback)

		var err error
		switch item.Kind {
		case models.KindDatabase:
			err = r.restoreDatabase(ctx, item, parent)
		case models.KindPage:
			if item.ParentType == models.ParentTypeDatabase {
				if _, ok := r.created[hasher.NormalizeID(item.ParentID)]; !ok {
					logger.Warn("Skipping row whose database is not part of the restore", map[string]interface{}{
						"item_id":     item.ID,
						"database_id": item.ParentID,
					})
					r.out.Failed += units([]*models.WorkspaceItem{item})
					continue
				}
			}
			err = r.restorePage(ctx, item, parent, item.Title)
		default:
			logger.Warn("Skipping unexpected top-level item", map[string]interface{}{
				"item_id": item.ID,
				"kind":    item.Kind,
			})
			r.out.Failed += units([]*models.WorkspaceItem{item})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func pageParent(id string) notionapi.Parent {
	return notionapi.Parent{Type: notionapi.ParentTypePageID, PageID: notionapi.PageID(id)}
}

// restorePage creates a page under parent and then its blocks
func (r *run) restorePage(ctx context.Context, item *models.WorkspaceItem, parent, title string) error {
	page, err := r.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent:     pageParent(parent),
		Properties: titleProperties(title),
	})
	if err != nil {
		return r.unitFailed(ctx, item, err)
	}
	id := string(page.ID)
	r.unitDone(ctx, item, target{id: id, page: id})
	return r.restoreBlocks(ctx, item.Children, id, id)
}

func (r *run) restoreDatabase(ctx context.Context, item *models.WorkspaceItem, parent string) error {
	configs, schema := databaseSchema(item)
	db, err := r.client.CreateDatabase(ctx, &notionapi.DatabaseCreateRequest{
		Parent:     pageParent(parent),
		Title:      databaseTitle(item),
		Properties: configs,
		IsInline:   databaseIsInline(item),
	})
	if err != nil {
		return r.unitFailed(ctx, item, err)
	}
	dbID := string(db.ID)
	r.unitDone(ctx, item, target{id: dbID, page: parent})

	for _, row := range item.Rows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore interrupted: %w", err)
		}
		page, err := r.client.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(dbID)},
			Properties: rowProperties(row, schema),
		})
		if err != nil {
			if err := r.unitFailed(ctx, row, err); err != nil {
				return err
			}
			continue
		}
		rowID := string(page.ID)
		r.unitDone(ctx, row, target{id: rowID, page: rowID})
		if err := r.restoreBlocks(ctx, row.Children, rowID, rowID); err != nil {
			return err
		}
	}
	return nil
}

// restoreBlocks appends blocks under parent in archive order. Child pages
// are created as subpages of page, which flushes the blocks queued so far.
func (r *run) restoreBlocks(ctx context.Context, blocks []*models.WorkspaceItem, parent, page string) error {
	var batch []*models.WorkspaceItem
	var payloads []notionapi.Block

	flush := func() error {
		if len(payloads) == 0 {
			return nil
		}
		defer func() { batch, payloads = nil, nil }()
		created, err := r.client.AppendChildren(ctx, parent, payloads)
		if err != nil {
			if notion.IsUnauthorized(err) {
				return fmt.Errorf("%w: %v", ErrAuth, err)
			}
			logger.Error("Failed to append blocks", err, map[string]interface{}{
				"restore_id": r.job.RestoreID,
				"parent_id":  parent,
				"blocks":     len(payloads),
				"appended":   len(created),
			})
			r.out.BlocksSkipped += len(payloads) - len(created)
			// pages nested under blocks that were never created are lost too
			if lost := units(batch[min(len(created), len(batch)):]); lost > 0 {
				r.out.Failed += lost
				r.progress(ctx)
			}
		}
		r.out.BlocksRestored += len(created)
		for i, b := range created {
			if i >= len(batch) {
				break
			}
			src := batch[i]
			id := string(b.GetID())
			r.created[hasher.NormalizeID(src.ID)] = target{id: id, page: page}
			if len(src.Children) > 0 && src.BlockType != "table" {
				if err := r.restoreBlocks(ctx, src.Children, id, page); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, b := range flatten(blocks) {
		if b.BlockType == "child_page" {
			if err := flush(); err != nil {
				return err
			}
			if err := r.restorePage(ctx, b, page, childPageTitle(b)); err != nil {
				return err
			}
			continue
		}
		body, err := blockBody(b)
		if err != nil {
			logger.Warn("Skipping block", map[string]interface{}{
				"item_id": b.ID,
				"type":    b.BlockType,
				"reason":  err.Error(),
			})
			r.out.BlocksSkipped++
			continue
		}
		batch = append(batch, b)
		payloads = append(payloads, newRawBlock(b.BlockType, body))
	}
	return flush()
}
