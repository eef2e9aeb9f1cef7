// Package archive packages a walked workspace into the two gzip blobs that
// make up a snapshot, and reads them back.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/storage"
)

var (
	// ErrArchiveNotFound means no blob exists at the expected snapshot path
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrManifestParse means a manifest blob could not be decoded
	ErrManifestParse = errors.New("failed to parse manifest")
	// ErrArchiveParse means an archive blob could not be decoded
	ErrArchiveParse = errors.New("failed to parse archive")
)

// ArchivePath is where the item tree of a snapshot is stored
func ArchivePath(userID, snapshotID string) string {
	return fmt.Sprintf("%s/%s.json.gz", userID, snapshotID)
}

// ManifestPath is where the hash manifest of a snapshot is stored
func ManifestPath(userID, snapshotID string) string {
	return fmt.Sprintf("%s/%s.manifest.json.gz", userID, snapshotID)
}

// Package holds the compressed blobs of one snapshot
type Package struct {
	Archive      []byte
	Manifest     []byte
	ArchivePath  string
	ManifestPath string
	ItemCount    int
}

// Objects returns the blobs ready for replication
func (p *Package) Objects(metadata map[string]string) []storage.Object {
	return []storage.Object{
		{Path: p.ArchivePath, Data: p.Archive, Metadata: metadata},
		{Path: p.ManifestPath, Data: p.Manifest, Metadata: metadata},
	}
}

// SizeBytes is the compressed size of both blobs
func (p *Package) SizeBytes() int64 {
	return int64(len(p.Archive) + len(p.Manifest))
}

// Pack serializes items and manifest into two independent gzip streams
func Pack(userID, snapshotID string, createdAt time.Time, items []*models.WorkspaceItem, manifest models.Manifest) (*Package, error) {
	doc := &models.Archive{
		Version:    models.ArchiveVersion,
		SnapshotID: snapshotID,
		UserID:     userID,
		CreatedAt:  createdAt.UTC().Format(time.RFC3339),
		Items:      items,
	}
	if doc.Items == nil {
		doc.Items = []*models.WorkspaceItem{}
	}

	archiveBlob, err := Compress(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to package archive: %w", err)
	}
	if manifest == nil {
		manifest = models.Manifest{}
	}
	manifestBlob, err := Compress(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to package manifest: %w", err)
	}

	return &Package{
		Archive:      archiveBlob,
		Manifest:     manifestBlob,
		ArchivePath:  ArchivePath(userID, snapshotID),
		ManifestPath: ManifestPath(userID, snapshotID),
		ItemCount:    len(manifest),
	}, nil
}

// Compress encodes v as JSON and gzips it
func Compress(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress copies the gunzipped content of r to w
func Decompress(w io.Writer, r io.Reader) (int64, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()
	n, err := io.Copy(w, zr)
	if err != nil {
		return n, fmt.Errorf("failed to decompress: %w", err)
	}
	return n, nil
}

// ParseArchive decodes an uncompressed archive document
func ParseArchive(r io.Reader) (*models.Archive, error) {
	var doc models.Archive
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveParse, err)
	}
	return &doc, nil
}

// ParseManifest decodes a compressed manifest blob
func ParseManifest(blob []byte) (models.Manifest, error) {
	var buf bytes.Buffer
	if _, err := Decompress(&buf, bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	var m models.Manifest
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	if m == nil {
		m = models.Manifest{}
	}
	return m, nil
}

// LoadManifest reads and parses the manifest of a snapshot from store
func LoadManifest(ctx context.Context, store storage.BlobStore, userID, snapshotID string) (models.Manifest, error) {
	path := ManifestPath(userID, snapshotID)
	blob, err := store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(blob)
}

// LoadArchive reads, decompresses and parses the archive of a snapshot
func LoadArchive(ctx context.Context, store storage.BlobStore, userID, snapshotID string) (*models.Archive, error) {
	path := ArchivePath(userID, snapshotID)
	blob, err := store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, path)
		}
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	var buf bytes.Buffer
	if _, err := Decompress(&buf, bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveParse, err)
	}
	return ParseArchive(&buf)
}
