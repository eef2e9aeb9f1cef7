// Package storage writes snapshot blobs to the primary object store and to
// user-configured S3-compatible destinations.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the path holds no object
var ErrNotFound = errors.New("object not found")

// BlobStore is an object store addressed by slash-separated paths
type BlobStore interface {
	Write(ctx context.Context, path string, data []byte, metadata map[string]string) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}
