// Package walker enumerates a Notion workspace into an item tree and a
// hash manifest.
package walker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jomei/notionapi"
	"github.com/takak2166/notionsnap/internal/embed"
	"github.com/takak2166/notionsnap/internal/hasher"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/notion"
	"github.com/takak2166/notionsnap/internal/parser"
	"golang.org/x/sync/errgroup"
)

// ErrMissingCredential aborts a walk when the user has no Notion token
var ErrMissingCredential = errors.New("missing notion credential")

// DefaultTopLevelConcurrency bounds how many top-level items are walked at once.
// The shared queue still caps the request rate.
const DefaultTopLevelConcurrency = 3

// Options tunes a Walker
type Options struct {
	RequestsPerSecond   int
	TopLevelConcurrency int
	// Embedder is optional; nil disables embeddings
	Embedder *embed.Embedder
	Observer notion.Observer
}

// Walker captures workspaces
type Walker struct {
	newClient notion.ClientFactory
	opts      Options
}

// Result is everything a walk produced
type Result struct {
	Items      []*models.WorkspaceItem
	Manifest   models.Manifest
	Embeddings []models.EmbeddingRecord
	// Failures counts subtrees that could not be enumerated
	Failures int
	Requests int64
}

// New creates a Walker
func New(factory notion.ClientFactory, opts Options) *Walker {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = notion.DefaultRequestsPerSecond
	}
	if opts.TopLevelConcurrency <= 0 {
		opts.TopLevelConcurrency = DefaultTopLevelConcurrency
	}
	return &Walker{newClient: factory, opts: opts}
}

// header holds the fields shared by pages, databases and blocks
type header struct {
	Object      string `json:"object"`
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
	Parent      struct {
		Type       string `json:"type"`
		PageID     string `json:"page_id"`
		DatabaseID string `json:"database_id"`
		BlockID    string `json:"block_id"`
	} `json:"parent"`
}

func (h header) parentID() string {
	switch h.Parent.Type {
	case models.ParentTypePage:
		return h.Parent.PageID
	case models.ParentTypeDatabase:
		return h.Parent.DatabaseID
	case models.ParentTypeBlock:
		return h.Parent.BlockID
	}
	return ""
}

// object is one API object re-encoded as JSON
type object struct {
	header
	raw json.RawMessage
}

func decode(v interface{}) (object, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return object{}, fmt.Errorf("failed to encode notion object: %w", err)
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return object{}, fmt.Errorf("failed to decode notion object header: %w", err)
	}
	return object{header: h, raw: raw}, nil
}

type run struct {
	client     *notion.Client
	snapshotID string
	embedder   *embed.Embedder

	topLevel map[string]bool

	mu         sync.Mutex
	manifest   models.Manifest
	embeddings embed.Collector
	failures   atomic.Int64
}

// Walk enumerates everything token can see. Embedding records are tagged
// with snapshotID.
func (w *Walker) Walk(ctx context.Context, snapshotID, token string) (*Result, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}

	queue := notion.NewQueue(w.opts.RequestsPerSecond)
	if w.opts.Observer != nil {
		queue.WithObserver(w.opts.Observer)
	}
	r := &run{
		client:     notion.New(w.newClient(token), queue),
		snapshotID: snapshotID,
		embedder:   w.opts.Embedder,
		manifest:   models.Manifest{},
	}

	roots, err := r.search(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Enumerated workspace", map[string]interface{}{
		"snapshot_id": snapshotID,
		"top_level":   len(roots),
	})

	items := make([]*models.WorkspaceItem, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.TopLevelConcurrency)
	for i, obj := range roots {
		g.Go(func() error {
			switch obj.Object {
			case "database":
				items[i] = r.walkDatabase(gctx, obj)
			default:
				items[i] = r.walkPage(gctx, obj, "")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("walk interrupted: %w", err)
	}

	result := &Result{
		Manifest:   r.manifest,
		Embeddings: r.embeddings.Records(),
		Failures:   int(r.failures.Load()),
	}
	for _, item := range items {
		if item != nil {
			result.Items = append(result.Items, item)
		}
	}
	result.Requests, _ = queue.Stats()

	logger.Info("Walk finished", map[string]interface{}{
		"snapshot_id": snapshotID,
		"items":       len(result.Manifest),
		"failures":    result.Failures,
		"requests":    result.Requests,
		"embeddings":  len(result.Embeddings),
	})
	return result, nil
}

// search pages through the search endpoint and returns the top-level items.
// Database rows are dropped because they are captured through their database.
func (r *run) search(ctx context.Context) ([]object, error) {
	var all []object
	var cursor notionapi.Cursor
	for {
		resp, err := r.client.Search(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to search workspace: %w", err)
		}
		for _, res := range resp.Results {
			obj, err := decode(res)
			if err != nil {
				logger.Error("Skipping undecodable search result", err)
				continue
			}
			all = append(all, obj)
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	databases := map[string]bool{}
	for _, obj := range all {
		if obj.Object == "database" {
			databases[hasher.NormalizeID(obj.ID)] = true
		}
	}

	r.topLevel = map[string]bool{}
	var roots []object
	seen := map[string]bool{}
	for _, obj := range all {
		id := hasher.NormalizeID(obj.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		if obj.Parent.Type == models.ParentTypeDatabase && databases[hasher.NormalizeID(obj.Parent.DatabaseID)] {
			continue
		}
		r.topLevel[id] = true
		roots = append(roots, obj)
	}
	return roots, nil
}

// record adds an item to the manifest. It reports false when the id was
// already recorded.
func (r *run) record(item *models.WorkspaceItem, entry models.HashManifestEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.manifest[item.ID]; dup {
		logger.Warn("Skipping duplicate item", map[string]interface{}{"item_id": item.ID})
		return false
	}
	entry.Kind = item.Kind
	entry.BlockType = item.BlockType
	entry.ParentID = item.ParentID
	entry.Name = parser.ItemName(item)
	r.manifest[item.ID] = entry
	return true
}

// annotate updates the recorded manifest entry for id
func (r *run) annotate(id string, fn func(*models.HashManifestEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.manifest[id]
	fn(&entry)
	r.manifest[id] = entry
}

func (r *run) embedShort(ctx context.Context, itemID, text string, field models.EmbeddingField) bool {
	if r.embedder == nil || text == "" {
		return false
	}
	emb, ok := r.embedder.EmbedShort(ctx, text)
	if !ok {
		return false
	}
	r.embeddings.Add(embed.Records(r.snapshotID, itemID, field, []embed.Embedding{*emb})...)
	return true
}

func newItem(obj object, kind models.ItemKind) *models.WorkspaceItem {
	return &models.WorkspaceItem{
		ID:          obj.ID,
		Kind:        kind,
		ParentID:    obj.parentID(),
		ParentType:  obj.Parent.Type,
		HasChildren: obj.HasChildren,
		Payload:     obj.raw,
	}
}

// walkPage captures a page and its block tree. databaseID is set for rows.
func (r *run) walkPage(ctx context.Context, obj object, databaseID string) *models.WorkspaceItem {
	item := newItem(obj, models.KindPage)
	item.Title = parser.PageTitle(obj.raw)

	var entry models.HashManifestEntry
	if databaseID != "" {
		entry.Hash = hasher.HashRow(obj.raw, databaseID)
	} else {
		entry.Hash = hasher.Hash(obj.raw)
	}
	if !r.record(item, entry) {
		return nil
	}
	if r.embedShort(ctx, item.ID, item.Title, models.FieldTitle) {
		r.annotate(item.ID, func(e *models.HashManifestEntry) { e.HasTitleEmbedding = true })
	}

	item.Children = r.walkChildren(ctx, item.ID)
	return item
}

func (r *run) walkDatabase(ctx context.Context, obj object) *models.WorkspaceItem {
	item := newItem(obj, models.KindDatabase)
	item.Title = parser.DatabaseTitle(obj.raw)

	if !r.record(item, models.HashManifestEntry{Hash: hasher.Hash(obj.raw)}) {
		return nil
	}
	title := r.embedShort(ctx, item.ID, item.Title, models.FieldTitle)
	description := r.embedShort(ctx, item.ID, parser.DatabaseDescription(obj.raw), models.FieldDescription)
	r.annotate(item.ID, func(e *models.HashManifestEntry) {
		e.HasTitleEmbedding = title
		e.HasDescriptionEmbedding = description
	})

	var cursor notionapi.Cursor
	for {
		resp, err := r.client.QueryDatabase(ctx, item.ID, cursor)
		if err != nil {
			logger.Error("Failed to query database, keeping rows fetched so far", err, map[string]interface{}{
				"database_id": item.ID,
				"rows":        len(item.Rows),
			})
			r.failures.Add(1)
			break
		}
		for i := range resp.Results {
			rowObj, err := decode(&resp.Results[i])
			if err != nil {
				logger.Error("Skipping undecodable row", err, map[string]interface{}{"database_id": item.ID})
				continue
			}
			if row := r.walkPage(ctx, rowObj, item.ID); row != nil {
				item.Rows = append(item.Rows, row)
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
	return item
}

// walkChildren fetches the blocks under parentID, recursing into blocks that
// have children. A failed page of results ends this subtree only.
func (r *run) walkChildren(ctx context.Context, parentID string) []*models.WorkspaceItem {
	var children []*models.WorkspaceItem
	var cursor notionapi.Cursor
	for {
		resp, err := r.client.BlockChildren(ctx, parentID, cursor)
		if err != nil {
			logger.Error("Failed to list block children, keeping partial subtree", err, map[string]interface{}{
				"parent_id": parentID,
				"children":  len(children),
			})
			r.failures.Add(1)
			return children
		}
		for _, b := range resp.Results {
			obj, err := decode(b)
			if err != nil {
				logger.Error("Skipping undecodable block", err, map[string]interface{}{"parent_id": parentID})
				continue
			}
			if child := r.walkBlock(ctx, obj); child != nil {
				children = append(children, child)
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return children
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
}

func (r *run) walkBlock(ctx context.Context, obj object) *models.WorkspaceItem {
	switch obj.Type {
	case "child_page", "child_database":
		// Shared pages and databases are captured at the top level.
		if r.topLevel[hasher.NormalizeID(obj.ID)] {
			logger.Debug("Skipping child reference captured at top level", map[string]interface{}{
				"item_id": obj.ID,
				"type":    obj.Type,
			})
			return nil
		}
	}

	item := newItem(obj, models.KindBlock)
	item.BlockType = obj.Type

	if !r.record(item, models.HashManifestEntry{Hash: hasher.Hash(obj.raw)}) {
		return nil
	}
	if r.embedder != nil {
		if text := parser.BlockText(obj.Type, obj.raw); text != "" {
			embs := r.embedder.Embed(ctx, text)
			if len(embs) > 0 {
				r.annotate(item.ID, func(e *models.HashManifestEntry) { e.TotalChunks = embs[0].TotalChunks })
				r.embeddings.Add(embed.Records(r.snapshotID, item.ID, models.FieldContent, embs)...)
			}
		}
	}

	if obj.HasChildren && obj.Type != "child_database" {
		item.Children = r.walkChildren(ctx, item.ID)
	}
	return item
}
