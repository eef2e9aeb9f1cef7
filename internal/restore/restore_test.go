package restore

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takak2166/notionsnap/internal/archive"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/notion"
	"github.com/takak2166/notionsnap/internal/notion/notiontest"
	"github.com/takak2166/notionsnap/internal/storage"
	"github.com/takak2166/notionsnap/internal/store"
	"github.com/takak2166/notionsnap/internal/walker"
)

const destPage = "dest-page"

type fixture struct {
	ctx    context.Context
	blobs  *storage.FSStore
	db     *store.Store
	target *notiontest.Workspace
	engine *Engine
}

func factory(ws *notiontest.Workspace) notion.ClientFactory {
	return func(string) notion.NotionClient { return ws.Client() }
}

// sourceWorkspace has a page with blocks and a database with two rows
func sourceWorkspace() *notiontest.Workspace {
	ws := notiontest.New()
	ws.AddPage("page-a", "Alpha", notiontest.WorkspaceParent())
	ws.AddBlock("page-a", "block-1", "paragraph", "Hello")
	ws.AddBlock("page-a", "block-2", "heading_1", "World")
	ws.AddDatabase("db-1", "Tasks", "Things to do", notiontest.WorkspaceParent())
	ws.AddRow("db-1", "row-1", "First task", 3)
	ws.AddRow("db-1", "row-2", "Second task", 5)
	return ws
}

// newFixture walks source, stores its archive as snapshot "snap" of "user"
// and returns an engine restoring into an empty workspace
func newFixture(t *testing.T, source *notiontest.Workspace, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()

	res, err := walker.New(factory(source), walker.Options{RequestsPerSecond: 100}).Walk(ctx, "snap", "token")
	require.NoError(t, err)
	pkg, err := archive.Pack("user", "snap", time.Now(), res.Items, res.Manifest)
	require.NoError(t, err)

	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	for _, obj := range pkg.Objects(nil) {
		require.NoError(t, blobs.Write(ctx, obj.Path, obj.Data, obj.Metadata))
	}

	db, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 100
	}
	opts.TempDir = t.TempDir()
	target := notiontest.New()
	return &fixture{
		ctx:    ctx,
		blobs:  blobs,
		db:     db,
		target: target,
		engine: New(blobs, factory(target), store.RestoreSink{Store: db}, opts),
	}
}

func (f *fixture) job(t *testing.T, id string, targets []string, parent string) models.RestoreJob {
	t.Helper()
	job := models.RestoreJob{
		RestoreID:          id,
		UserID:             "user",
		SnapshotID:         "snap",
		Targets:            targets,
		TargetParentPageID: parent,
	}
	require.NoError(t, f.db.CreateRestore(f.ctx, job))
	return job
}

func (f *fixture) record(t *testing.T, id string) models.RestoreJob {
	t.Helper()
	job, err := f.db.GetRestore(f.ctx, id)
	require.NoError(t, err)
	return job
}

func TestRestore_DatabaseBeforeRows(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})

	out, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	require.NoError(t, err)

	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 4, out.Restored)
	assert.Equal(t, 0, out.Failed)

	dbs := f.target.CreatedOfKind("database")
	require.Len(t, dbs, 1)
	assert.Equal(t, destPage, dbs[0].ParentID)

	dbIndex, rows := -1, 0
	for i, c := range f.target.Created() {
		if c.Kind == "database" {
			dbIndex = i
		}
		if c.Kind == "page" && c.ParentID == dbs[0].ID {
			assert.Greater(t, i, dbIndex, "row created before its database")
			rows++
		}
	}
	assert.Equal(t, 2, rows)

	job := f.record(t, "r1")
	assert.Equal(t, models.RestoreCompleted, job.Status)
	assert.Equal(t, 100, job.Percentage)
	assert.Equal(t, 4, job.ItemsTotal)
	assert.Equal(t, 4, job.ItemsRestored)
}

func TestRestore_RowProperties(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})

	_, err := f.engine.Restore(f.ctx, f.job(t, "r1", []string{"row-2"}, destPage), "token")
	require.NoError(t, err)

	dbs := f.target.CreatedOfKind("database")
	require.Len(t, dbs, 1)
	schema, ok := dbs[0].Body["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, schema, "Name")
	assert.Contains(t, schema, "Tag")
	assert.NotContains(t, schema, "Owner")

	var row *notiontest.Created
	for _, c := range f.target.CreatedOfKind("page") {
		if c.ParentID == dbs[0].ID {
			row = &c
		}
	}
	require.NotNil(t, row, "row-2 was not restored")

	props, ok := row.Body["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "Name")
	assert.Contains(t, props, "Score")
	assert.NotContains(t, props, "Owner")
	assert.NotContains(t, props, "Formula")

	assert.Equal(t, float64(5), props["Score"].(map[string]interface{})["number"])
	tag := props["Tag"].(map[string]interface{})["select"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "urgent"}, tag)
}

func TestRestore_EmptyTargets(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})

	out, err := f.engine.Restore(f.ctx, f.job(t, "r1", []string{}, destPage), "token")
	require.NoError(t, err)
	assert.Equal(t, NothingToRestore, out.Message)
	assert.Empty(t, f.target.Created())

	job := f.record(t, "r1")
	assert.Equal(t, models.RestoreCompleted, job.Status)
	assert.Equal(t, 100, job.Percentage)
	assert.Equal(t, NothingToRestore, job.Message)
}

func TestRestore_UnknownTargets(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})

	out, err := f.engine.Restore(f.ctx, f.job(t, "r1", []string{"nope"}, destPage), "token")
	require.NoError(t, err)
	assert.Equal(t, NothingToRestore, out.Message)
	assert.Empty(t, f.target.Created())
}

func TestRestore_Destination(t *testing.T) {
	tests := map[string]struct {
		parent   string
		fallback string
		want     string
		err      error
	}{
		"explicit page":        {parent: "p1", fallback: "default", want: "p1"},
		"mode sentinel":        {parent: "new", fallback: "default", want: "default"},
		"empty uses default":   {parent: "", fallback: "default", want: "default"},
		"nothing configured":   {parent: "in_place", err: ErrNoDestination},
		"empty and no default": {err: ErrNoDestination},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, sourceWorkspace(), Options{DefaultParentPageID: tt.fallback})
			_, err := f.engine.Restore(f.ctx, f.job(t, "r1", []string{"page-a"}, tt.parent), "token")

			job := f.record(t, "r1")
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err))
				assert.Equal(t, models.RestoreError, job.Status)
				assert.Equal(t, models.ErrorPercentage, job.Percentage)
				assert.Empty(t, f.target.Created())
				return
			}
			require.NoError(t, err)
			pages := f.target.CreatedOfKind("page")
			require.Len(t, pages, 1)
			assert.Equal(t, tt.want, pages[0].ParentID)
		})
	}
}

func TestRestore_AuthFailureIsFatal(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})
	f.target.FailCreate(func(kind string, _ map[string]interface{}) int {
		if kind == "page" {
			return http.StatusUnauthorized
		}
		return 0
	})

	_, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	assert.True(t, errors.Is(err, ErrAuth))

	job := f.record(t, "r1")
	assert.Equal(t, models.RestoreError, job.Status)
	assert.Equal(t, models.ErrorPercentage, job.Percentage)
}

func TestRestore_MissingToken(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})
	_, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "")
	assert.True(t, errors.Is(err, ErrAuth))
}

func TestRestore_MissingArchive(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})
	job := f.job(t, "r1", nil, destPage)
	job.SnapshotID = "other"

	_, err := f.engine.Restore(f.ctx, job, "token")
	assert.True(t, errors.Is(err, archive.ErrArchiveNotFound))
	assert.Equal(t, models.RestoreError, f.record(t, "r1").Status)
}

func TestRestore_PartialFailure(t *testing.T) {
	source := sourceWorkspace()
	source.AddPage("page-b", "Broken", notiontest.WorkspaceParent())
	f := newFixture(t, source, Options{})
	f.target.FailCreate(func(kind string, body map[string]interface{}) int {
		if kind == "page" && titleOf(body) == "Broken" {
			return http.StatusBadRequest
		}
		return 0
	})

	out, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	require.NoError(t, err)
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 4, out.Restored)
	assert.Equal(t, 1, out.Failed)

	job := f.record(t, "r1")
	assert.Equal(t, models.RestoreCompleted, job.Status)
	assert.Equal(t, 1, job.ItemsFailed)
	assert.Contains(t, job.Message, "1 failed")
}

func titleOf(body map[string]interface{}) string {
	props, _ := body["properties"].(map[string]interface{})
	title, _ := props["title"].(map[string]interface{})
	parts, _ := title["title"].([]interface{})
	if len(parts) == 0 {
		return ""
	}
	text, _ := parts[0].(map[string]interface{})["text"].(map[string]interface{})
	s, _ := text["content"].(string)
	return s
}

func TestRestore_Blocks(t *testing.T) {
	source := notiontest.New()
	source.AddPage("page-a", "Alpha", notiontest.WorkspaceParent())
	source.AddBlock("page-a", "intro", "paragraph", "Intro")
	source.AddRawBlock("page-a", "cols", "column_list", map[string]interface{}{})
	source.AddRawBlock("cols", "col-1", "column", map[string]interface{}{})
	source.AddBlock("col-1", "inside", "paragraph", "Inside a column")
	source.AddBlock("page-a", "toggle", "toggle", "More")
	source.AddBlock("toggle", "nested", "paragraph", "Nested")
	source.AddRawBlock("page-a", "hosted", "image", map[string]interface{}{
		"type": "file",
		"file": map[string]interface{}{"url": "https://files.example/x.png", "expiry_time": "2025-01-01T00:00:00.000Z"},
	})
	source.AddRawBlock("page-a", "sub", "child_page", map[string]interface{}{"title": "Sub page"})

	f := newFixture(t, source, Options{})
	out, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	require.NoError(t, err)

	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 2, out.Restored)
	assert.Equal(t, 1, out.BlocksSkipped)

	pages := f.target.CreatedOfKind("page")
	require.Len(t, pages, 2)
	page := pages[0]
	assert.Equal(t, destPage, page.ParentID)
	assert.Equal(t, page.ID, pages[1].ParentID, "child page nests under the restored page")
	assert.Equal(t, "Sub page", titleOf(pages[1].Body))

	byType := map[string][]notiontest.Created{}
	for _, b := range f.target.CreatedOfKind("block") {
		byType[b.Body["type"].(string)] = append(byType[b.Body["type"].(string)], b)
	}
	assert.NotContains(t, byType, "column_list")
	assert.NotContains(t, byType, "column")
	assert.NotContains(t, byType, "image")
	require.Len(t, byType["paragraph"], 3)
	require.Len(t, byType["toggle"], 1)

	toggle := byType["toggle"][0]
	assert.Equal(t, page.ID, toggle.ParentID)
	parents := map[string]bool{}
	for _, p := range byType["paragraph"] {
		parents[p.ParentID] = true
	}
	assert.Equal(t, map[string]bool{page.ID: true, toggle.ID: true}, parents)
}

func TestRestore_TopLevelSubpageNestsUnderRestoredParent(t *testing.T) {
	source := notiontest.New()
	source.AddPage("parent", "Parent", notiontest.WorkspaceParent())
	source.AddRawBlock("parent", "child", "child_page", map[string]interface{}{"title": "Child"})
	source.AddPage("child", "Child", notiontest.PageParent("parent"))

	f := newFixture(t, source, Options{})
	_, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	require.NoError(t, err)

	pages := f.target.CreatedOfKind("page")
	require.Len(t, pages, 2)
	assert.Equal(t, destPage, pages[0].ParentID)
	assert.Equal(t, pages[0].ID, pages[1].ParentID)
}

// recordingSink keeps every event and forwards it to the store
type recordingSink struct {
	next   ProgressSink
	events []models.ProgressEvent
}

func (s *recordingSink) Report(ctx context.Context, ev models.ProgressEvent) error {
	s.events = append(s.events, ev)
	return s.next.Report(ctx, ev)
}

func TestRestore_ProgressPercentages(t *testing.T) {
	f := newFixture(t, sourceWorkspace(), Options{})
	sink := &recordingSink{next: store.RestoreSink{Store: f.db}}
	engine := New(f.blobs, factory(f.target), sink, Options{RequestsPerSecond: 100, TempDir: t.TempDir()})

	_, err := engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	require.NoError(t, err)

	var statuses []string
	var percents []int
	for _, ev := range sink.events {
		statuses = append(statuses, ev.Status)
		percents = append(percents, ev.Percentage)
	}
	assert.Equal(t, []int{5, 15, 25, 30, 47, 64, 81, 99, 100}, percents)
	assert.Equal(t, []string{
		string(models.RestoreDownloading),
		string(models.RestoreDecompressing),
		string(models.RestoreParsing),
		string(models.RestoreRestoring),
		string(models.RestoreRestoring),
		string(models.RestoreRestoring),
		string(models.RestoreRestoring),
		string(models.RestoreRestoring),
		string(models.RestoreCompleted),
	}, statuses)

	for i, ev := range sink.events {
		if ev.Status == string(models.RestoreRestoring) {
			assert.GreaterOrEqual(t, ev.Percentage, 30)
			assert.LessOrEqual(t, ev.Percentage, 99)
			assert.GreaterOrEqual(t, ev.Percentage, sink.events[i-1].Percentage)
		}
	}
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, 4, last.Total)
	assert.Equal(t, 4, last.Done)

	job := f.record(t, "r1")
	assert.Equal(t, 100, job.Percentage)
	assert.Equal(t, 4, job.ItemsRestored)
}

func TestRestore_FailedBlockCountsNestedPages(t *testing.T) {
	source := notiontest.New()
	source.AddPage("page-a", "Alpha", notiontest.WorkspaceParent())
	source.AddBlock("page-a", "toggle", "toggle", "More")
	source.AddRawBlock("toggle", "sub", "child_page", map[string]interface{}{"title": "Hidden"})

	f := newFixture(t, source, Options{})
	f.target.FailCreate(func(kind string, body map[string]interface{}) int {
		if kind == "block" && body["type"] == "toggle" {
			return http.StatusBadRequest
		}
		return 0
	})

	out, err := f.engine.Restore(f.ctx, f.job(t, "r1", nil, destPage), "token")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.Restored)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.BlocksSkipped)
	assert.Equal(t, out.Total, out.Restored+out.Failed)

	job := f.record(t, "r1")
	assert.Equal(t, models.RestoreCompleted, job.Status)
	assert.Equal(t, 1, job.ItemsFailed)
	assert.Len(t, f.target.CreatedOfKind("page"), 1)
}

func TestSelectItems(t *testing.T) {
	items := []*models.WorkspaceItem{
		{ID: "aaaa-1111", Kind: models.KindPage},
		{ID: "db", Kind: models.KindDatabase, Rows: []*models.WorkspaceItem{{ID: "r1"}, {ID: "r2"}}},
	}

	assert.Len(t, selectItems(items, nil), 2)
	assert.Empty(t, selectItems(items, []string{}))

	got := selectItems(items, []string{"AAAA1111"})
	require.Len(t, got, 1)
	assert.Equal(t, "aaaa-1111", got[0].ID)

	got = selectItems(items, []string{"r2"})
	require.Len(t, got, 1)
	require.Len(t, got[0].Rows, 1)
	assert.Equal(t, "r2", got[0].Rows[0].ID)
	assert.Len(t, items[1].Rows, 2, "filtering must not modify the archive")
}

func TestCleanRichText(t *testing.T) {
	in := []interface{}{
		map[string]interface{}{"type": "text", "text": map[string]interface{}{"content": "Hi "}, "plain_text": "Hi "},
		map[string]interface{}{"type": "mention", "mention": map[string]interface{}{"type": "user"}, "plain_text": "@Ann"},
		map[string]interface{}{"type": "equation", "equation": map[string]interface{}{"expression": "x"}, "plain_text": "x"},
		map[string]interface{}{"type": "mention", "plain_text": ""},
	}
	out := cleanRichText(in)
	require.Len(t, out, 3)
	for _, part := range out {
		assert.Equal(t, "text", part.(map[string]interface{})["type"])
	}
	assert.Equal(t, "@Ann", out[1].(map[string]interface{})["text"].(map[string]interface{})["content"])
}
