package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takak2166/notionsnap/internal/archive"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/storage"
	"github.com/takak2166/notionsnap/internal/store"
)

func manifest(hashes map[string]string) models.Manifest {
	m := models.Manifest{}
	for id, h := range hashes {
		m[id] = models.HashManifestEntry{Hash: h, Kind: models.KindBlock}
	}
	return m
}

func put(t *testing.T, blobs storage.BlobStore, snapshotID string, m models.Manifest, withArchive bool) {
	t.Helper()
	pkg, err := archive.Pack("u1", snapshotID, time.Now(), nil, m)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, blobs.Write(ctx, pkg.ManifestPath, pkg.Manifest, nil))
	if withArchive {
		require.NoError(t, blobs.Write(ctx, pkg.ArchivePath, pkg.Archive, nil))
	}
}

func fsStore(t *testing.T) *storage.FSStore {
	t.Helper()
	s, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCompare(t *testing.T) {
	primary := manifest(map[string]string{"a": "1", "b": "2", "c": "3"})
	remote := manifest(map[string]string{"b": "2", "c": "9", "d": "4"})

	missing, extra, mismatched := Compare(primary, remote)
	assert.Equal(t, []string{"a"}, missing)
	assert.Equal(t, []string{"d"}, extra)
	assert.Equal(t, []string{"c"}, mismatched)

	missing, extra, mismatched = Compare(primary, primary)
	assert.Empty(t, missing)
	assert.Empty(t, extra)
	assert.Empty(t, mismatched)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	good := manifest(map[string]string{"a": "1", "b": "2"})
	primary := fsStore(t)
	put(t, primary, "s1", good, true)

	stores := map[string]storage.BlobStore{
		"ok":    fsStore(t),
		"drift": fsStore(t),
		"empty": fsStore(t),
	}
	put(t, stores["ok"], "s1", good, true)
	put(t, stores["drift"], "s1", manifest(map[string]string{"a": "1", "b": "x", "c": "3"}), false)

	for _, id := range []string{"ok", "drift", "empty", "broken"} {
		require.NoError(t, db.PutDestination(ctx, models.StorageDestinationConfig{
			ID: id, UserID: "u1", Type: models.DestinationS3, Bucket: id, IsEnabled: true,
		}))
	}
	require.NoError(t, db.PutDestination(ctx, models.StorageDestinationConfig{
		ID: "disabled", UserID: "u1", Type: models.DestinationS3, Bucket: "disabled",
	}))
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, db.SaveSnapshot(ctx, models.Snapshot{
			SnapshotID: id, UserID: "u1", Timestamp: time.Now(), Status: models.SnapshotCompleted,
		}))
	}

	open := func(dest models.StorageDestinationConfig) (storage.BlobStore, error) {
		if s, ok := stores[dest.ID]; ok {
			return s, nil
		}
		return nil, errors.New("bad credentials")
	}

	report, err := New(db, primary, open).Audit(ctx)
	require.NoError(t, err)

	byKey := map[string]Entry{}
	for _, e := range report.Entries {
		byKey[e.SnapshotID+"/"+e.Destination] = e
	}
	// two snapshots on four enabled destinations
	assert.Len(t, report.Entries, 8)
	assert.Equal(t, 8, report.Checked)
	assert.Equal(t, 7, report.Inconsistent)

	ok := byKey["s1/s3:ok"]
	assert.True(t, ok.Consistent())

	drift := byKey["s1/s3:drift"]
	assert.False(t, drift.ArchiveExists)
	assert.Empty(t, drift.Missing)
	assert.Equal(t, []string{"c"}, drift.Extra)
	assert.Equal(t, []string{"b"}, drift.Mismatched)
	assert.Empty(t, drift.Error)

	empty := byKey["s1/s3:empty"]
	assert.False(t, empty.ArchiveExists)
	assert.Contains(t, empty.Error, "archive not found")

	assert.Equal(t, "destination could not be opened", byKey["s1/s3:broken"].Error)

	for _, d := range []string{"ok", "drift", "empty", "broken"} {
		e := byKey["s2/s3:"+d]
		assert.Contains(t, e.Error, "primary manifest unavailable", d)
	}
	_, audited := byKey["s1/s3:disabled"]
	assert.False(t, audited)
}

func TestAudit_ReadOnly(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PutDestination(ctx, models.StorageDestinationConfig{
		ID: "d1", UserID: "u1", Type: models.DestinationS3, Bucket: "b", IsEnabled: true,
	}))
	require.NoError(t, db.SaveSnapshot(ctx, models.Snapshot{SnapshotID: "s1", UserID: "u1", Timestamp: time.Now()}))

	primary := fsStore(t)
	put(t, primary, "s1", manifest(map[string]string{"a": "1"}), true)
	dest := fsStore(t)

	_, err = New(db, primary, func(models.StorageDestinationConfig) (storage.BlobStore, error) {
		return dest, nil
	}).Audit(ctx)
	require.NoError(t, err)

	exists, err := dest.Exists(ctx, archive.ManifestPath("u1", "s1"))
	require.NoError(t, err)
	assert.False(t, exists, "audit must not repair destinations")

	configs, err := db.ListDestinations(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, configs[0].LastValidationStatus)
}
