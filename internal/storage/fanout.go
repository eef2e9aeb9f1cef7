package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
)

// Object is one blob to replicate
type Object struct {
	Path     string
	Data     []byte
	Metadata map[string]string
}

// Destination is a named BlobStore
type Destination struct {
	Name    string
	Primary bool
	Config  *models.StorageDestinationConfig
	Store   BlobStore
}

// Result is the outcome of writing every object to one destination
type Result struct {
	Destination string `json:"destination"`
	Primary     bool   `json:"primary"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
}

// Opener builds a BlobStore for a configured destination
type Opener func(dest models.StorageDestinationConfig) (BlobStore, error)

// OpenS3 is the Opener for real S3 and R2 destinations
func OpenS3(dest models.StorageDestinationConfig) (BlobStore, error) {
	return NewS3Store(dest)
}

// Destinations opens every enabled destination. A destination that cannot
// be opened is returned with a nil Store so Replicate reports it as failed.
func Destinations(configs []models.StorageDestinationConfig, open Opener) []Destination {
	var out []Destination
	for i := range configs {
		cfg := configs[i]
		if !cfg.IsEnabled {
			continue
		}
		d := Destination{Name: cfg.Name(), Config: &cfg}
		store, err := open(cfg)
		if err != nil {
			logger.Error("Failed to open destination", err, map[string]interface{}{"destination": d.Name})
		} else {
			d.Store = store
		}
		out = append(out, d)
	}
	return out
}

// Replicate writes objects to the primary and every secondary concurrently.
// Every destination runs to completion regardless of the others; the
// primary's result is always first.
func Replicate(ctx context.Context, primary Destination, secondaries []Destination, objects []Object) []Result {
	primary.Primary = true
	all := append([]Destination{primary}, secondaries...)
	results := make([]Result, len(all))

	var wg sync.WaitGroup
	for i, dest := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = write(ctx, dest, objects)
		}()
	}
	wg.Wait()

	for _, r := range results {
		fields := map[string]interface{}{"destination": r.Destination, "primary": r.Primary}
		if r.OK {
			logger.Debug("Replicated snapshot", fields)
			continue
		}
		fields["error"] = r.Error
		logger.Warn("Replication to destination failed", fields)
	}
	return results
}

func write(ctx context.Context, dest Destination, objects []Object) (res Result) {
	res = Result{Destination: dest.Name, Primary: dest.Primary}
	defer func() {
		if p := recover(); p != nil {
			res.OK = false
			res.Error = fmt.Sprintf("panic: %v", p)
		}
	}()

	if dest.Store == nil {
		res.Error = "destination is not available"
		return res
	}
	for _, obj := range objects {
		if err := dest.Store.Write(ctx, obj.Path, obj.Data, obj.Metadata); err != nil {
			res.Error = err.Error()
			return res
		}
	}
	res.OK = true
	return res
}

// PrimaryOK reports whether the primary write succeeded
func PrimaryOK(results []Result) bool {
	for _, r := range results {
		if r.Primary {
			return r.OK
		}
	}
	return false
}
