// Package reconcile audits secondary destinations against the primary store.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/takak2166/notionsnap/internal/archive"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many destination checks run at once
const DefaultConcurrency = 4

// Catalog lists what the audit covers. *store.Store implements it.
type Catalog interface {
	SnapshotUsers(ctx context.Context) ([]string, error)
	ListSnapshots(ctx context.Context, userID string) ([]models.Snapshot, error)
	ListDestinations(ctx context.Context, userID string, enabledOnly bool) ([]models.StorageDestinationConfig, error)
}

// Entry is the finding for one snapshot on one destination
type Entry struct {
	UserID        string   `json:"userId"`
	SnapshotID    string   `json:"snapshotId"`
	Destination   string   `json:"destination"`
	ArchiveExists bool     `json:"archiveExists"`
	Missing       []string `json:"missing,omitempty"`
	Extra         []string `json:"extra,omitempty"`
	Mismatched    []string `json:"mismatched,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Consistent reports whether the destination fully matches the primary
func (e Entry) Consistent() bool {
	return e.Error == "" && e.ArchiveExists && len(e.Missing) == 0 && len(e.Extra) == 0 && len(e.Mismatched) == 0
}

// Report is the outcome of one audit
type Report struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Entries    []Entry   `json:"entries"`
	Checked    int       `json:"checked"`
	// Inconsistent counts entries with any discrepancy or error
	Inconsistent int `json:"inconsistent"`
}

// Auditor compares destination manifests with the primary
type Auditor struct {
	catalog     Catalog
	primary     storage.BlobStore
	open        storage.Opener
	concurrency int
}

// New creates an Auditor. open builds stores for secondary destinations.
func New(catalog Catalog, primary storage.BlobStore, open storage.Opener) *Auditor {
	return &Auditor{catalog: catalog, primary: primary, open: open, concurrency: DefaultConcurrency}
}

// WithConcurrency overrides DefaultConcurrency
func (a *Auditor) WithConcurrency(n int) *Auditor {
	if n > 0 {
		a.concurrency = n
	}
	return a
}

type check struct {
	snapshot models.Snapshot
	primary  models.Manifest
	dest     storage.Destination
}

// Audit checks every snapshot of every user on every enabled destination.
// It never writes. Failures are recorded per entry; only a failure to list
// users is returned.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}
	users, err := a.catalog.SnapshotUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var checks []check
	for _, userID := range users {
		entries, userChecks := a.plan(ctx, userID)
		report.Entries = append(report.Entries, entries...)
		checks = append(checks, userChecks...)
	}

	results := make([]Entry, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = a.verify(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	report.Entries = append(report.Entries, results...)

	sort.SliceStable(report.Entries, func(i, j int) bool {
		ei, ej := report.Entries[i], report.Entries[j]
		if ei.UserID != ej.UserID {
			return ei.UserID < ej.UserID
		}
		if ei.SnapshotID != ej.SnapshotID {
			return ei.SnapshotID < ej.SnapshotID
		}
		return ei.Destination < ej.Destination
	})
	for _, e := range report.Entries {
		report.Checked++
		if !e.Consistent() {
			report.Inconsistent++
		}
	}
	report.FinishedAt = time.Now().UTC()

	logger.Info("Audit finished", map[string]interface{}{
		"users":        len(users),
		"checked":      report.Checked,
		"inconsistent": report.Inconsistent,
	})
	return report, nil
}

// plan loads what one user's checks need. Anything that prevents checking
// becomes an error entry.
func (a *Auditor) plan(ctx context.Context, userID string) ([]Entry, []check) {
	configs, err := a.catalog.ListDestinations(ctx, userID, true)
	if err != nil {
		logger.Error("Failed to list destinations", err, map[string]interface{}{"user_id": userID})
		return []Entry{{UserID: userID, Error: err.Error()}}, nil
	}
	if len(configs) == 0 {
		return nil, nil
	}
	snapshots, err := a.catalog.ListSnapshots(ctx, userID)
	if err != nil {
		logger.Error("Failed to list snapshots", err, map[string]interface{}{"user_id": userID})
		return []Entry{{UserID: userID, Error: err.Error()}}, nil
	}
	dests := storage.Destinations(configs, a.open)

	var entries []Entry
	var checks []check
	for _, snap := range snapshots {
		primary, err := archive.LoadManifest(ctx, a.primary, userID, snap.SnapshotID)
		if err != nil {
			logger.Error("Failed to load primary manifest", err, map[string]interface{}{
				"user_id":     userID,
				"snapshot_id": snap.SnapshotID,
			})
			for _, d := range dests {
				entries = append(entries, Entry{
					UserID:      userID,
					SnapshotID:  snap.SnapshotID,
					Destination: d.Name,
					Error:       fmt.Sprintf("primary manifest unavailable: %v", err),
				})
			}
			continue
		}
		for _, d := range dests {
			checks = append(checks, check{snapshot: snap, primary: primary, dest: d})
		}
	}
	return entries, checks
}

func (a *Auditor) verify(ctx context.Context, c check) Entry {
	entry := Entry{UserID: c.snapshot.UserID, SnapshotID: c.snapshot.SnapshotID, Destination: c.dest.Name}
	fields := map[string]interface{}{
		"user_id":     entry.UserID,
		"snapshot_id": entry.SnapshotID,
		"destination": entry.Destination,
	}
	if c.dest.Store == nil {
		entry.Error = "destination could not be opened"
		return entry
	}

	exists, err := c.dest.Store.Exists(ctx, archive.ArchivePath(entry.UserID, entry.SnapshotID))
	if err != nil {
		logger.Error("Failed to check archive", err, fields)
		entry.Error = err.Error()
		return entry
	}
	entry.ArchiveExists = exists

	remote, err := archive.LoadManifest(ctx, c.dest.Store, entry.UserID, entry.SnapshotID)
	if err != nil {
		logger.Warn("Destination manifest unavailable", map[string]interface{}{
			"user_id":     entry.UserID,
			"snapshot_id": entry.SnapshotID,
			"destination": entry.Destination,
			"error":       err.Error(),
		})
		entry.Error = err.Error()
		return entry
	}
	entry.Missing, entry.Extra, entry.Mismatched = Compare(c.primary, remote)
	if !entry.Consistent() {
		logger.Warn("Destination out of sync", fields)
	}
	return entry
}

// Compare returns the ids present only in primary, only in remote, and
// present in both with different hashes, each sorted
func Compare(primary, remote models.Manifest) (missing, extra, mismatched []string) {
	for _, id := range primary.IDs() {
		r, ok := remote[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if r.Hash != primary[id].Hash {
			mismatched = append(mismatched, id)
		}
	}
	for _, id := range remote.IDs() {
		if _, ok := primary[id]; !ok {
			extra = append(extra, id)
		}
	}
	return missing, extra, mismatched
}
