package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takak2166/notionsnap/internal/jobs"
	"github.com/takak2166/notionsnap/internal/metrics"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/store"
)

type fixture struct {
	db     *store.Store
	queues map[models.JobKind]*jobs.Queue
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	validator, err := jobs.NewValidator()
	require.NoError(t, err)
	queues := jobs.Queues(db, jobs.QueueOptions{})
	api := New(jobs.NewEnqueuer(db, queues, validator), db, metrics.New().Handler())

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &fixture{db: db, queues: queues, srv: srv}
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestEnqueue(t *testing.T) {
	tests := map[string]struct {
		kind       string
		body       string
		wantStatus int
		wantQueued int
	}{
		"snapshot": {
			kind:       "snapshot",
			body:       `{"userId":"u1"}`,
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		"diff": {
			kind:       "diff",
			body:       `{"userId":"u1","snapshotIdFrom":"a","snapshotIdTo":"b"}`,
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		"restore": {
			kind:       "restore",
			body:       `{"userId":"u1","snapshotId":"s1","targets":["p1"]}`,
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		"missing field": {
			kind:       "diff",
			body:       `{"userId":"u1"}`,
			wantStatus: http.StatusBadRequest,
		},
		"malformed json": {
			kind:       "snapshot",
			body:       `{"userId":`,
			wantStatus: http.StatusBadRequest,
		},
		"unknown kind": {
			kind:       "export",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			resp, err := http.Post(f.srv.URL+"/v1/jobs/"+tt.kind, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			if tt.wantStatus == http.StatusAccepted {
				assert.NotEmpty(t, body["id"])
			} else {
				assert.NotEmpty(t, body["error"])
			}

			if q, ok := f.queues[models.JobKind(tt.kind)]; ok {
				n, err := q.Len(context.Background())
				require.NoError(t, err)
				assert.Equal(t, tt.wantQueued, n)
			}
		})
	}
}

func TestEnqueueThenPollRestore(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/v1/jobs/restore", "application/json",
		strings.NewReader(`{"userId":"u1","snapshotId":"s1"}`))
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	status, body := f.get(t, "/v1/restores/"+created["id"])
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "s1", body["snapshotId"])
}

func TestRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.PutDiff(ctx, models.DiffResult{
		JobID: "d1", UserID: "u1", SnapshotIDFrom: "a", SnapshotIDTo: "b",
		Status: models.DiffCompleted, CreatedAt: time.Now(),
	}))
	require.NoError(t, f.db.PutSnapshotRun(ctx, models.SnapshotRun{
		RunID: "s1", UserID: "u1", SnapshotID: "s1", Status: models.SnapshotWalking, Percentage: 10,
	}))

	tests := map[string]struct {
		path       string
		wantStatus int
		wantField  string
		wantValue  interface{}
	}{
		"diff":                 {path: "/v1/diffs/d1", wantStatus: http.StatusOK, wantField: "status", wantValue: "completed"},
		"missing diff":         {path: "/v1/diffs/nope", wantStatus: http.StatusNotFound},
		"snapshot run":         {path: "/v1/snapshot-runs/s1", wantStatus: http.StatusOK, wantField: "status", wantValue: "walking"},
		"missing restore":      {path: "/v1/restores/nope", wantStatus: http.StatusNotFound},
		"missing snapshot run": {path: "/v1/snapshot-runs/nope", wantStatus: http.StatusNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			status, body := f.get(t, tt.path)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantValue, body[tt.wantField])
			}
		})
	}
}

func TestSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := http.Get(f.srv.URL + "/v1/snapshots/u1")
	require.NoError(t, err)
	var empty []models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, f.db.SaveSnapshot(ctx, models.Snapshot{
		SnapshotID: "s1", UserID: "u1", Timestamp: time.Now(), ItemCount: 3, Status: models.SnapshotCompleted,
	}))
	resp, err = http.Get(f.srv.URL + "/v1/snapshots/u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snaps []models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].ItemCount)
}

type failingEnqueuer struct{}

func (failingEnqueuer) EnqueueJSON(context.Context, models.JobKind, []byte) (string, error) {
	return "", errors.New("database is locked")
}

func TestEnqueue_InternalError(t *testing.T) {
	srv := httptest.NewServer(New(failingEnqueuer{}, nil, nil).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/jobs/snapshot", "application/json", strings.NewReader(`{"userId":"u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
