package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps blobs as files under a root directory. Metadata is written
// next to each blob as <name>.meta.json.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

// Write stores data at path, replacing any existing blob
func (s *FSStore) Write(_ context.Context, path string, data []byte, metadata map[string]string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("failed to move blob into place: %w", err)
	}

	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if err := os.WriteFile(full+".meta.json", meta, 0o644); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}
	return nil
}

// Read returns the blob at path
func (s *FSStore) Read(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Exists reports whether a blob is stored at path
func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

// Metadata returns the metadata written with the blob at path
func (s *FSStore) Metadata(path string) (map[string]string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(full + ".meta.json")
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}
