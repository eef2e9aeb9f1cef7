// Package diff compares two snapshot manifests at hash level and classifies
// changed items by embedding similarity.
package diff

import (
	"context"
	"sort"
	"time"

	"github.com/takak2166/notionsnap/internal/embed"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
)

const (
	// DefaultThreshold is the similarity at or above which a hash change is cosmetic
	DefaultThreshold = 0.95
	// TopChanges is how many changed items are handed to the summarizer
	TopChanges = 10
	// PlaceholderSummary is stored when summary generation fails
	PlaceholderSummary = "Summary unavailable: the structured diff is complete but no narrative could be generated."
)

// EmbeddingSource returns the stored vectors of one item in one snapshot
type EmbeddingSource interface {
	Embeddings(ctx context.Context, snapshotID, itemID string) ([]models.EmbeddingRecord, error)
}

// Summarizer turns a structured diff into prose
type Summarizer interface {
	Summarize(ctx context.Context, result *models.DiffResult, top []models.ChangedItem) (string, error)
}

// Options tunes an Engine
type Options struct {
	Threshold float64
	// Summarizer is optional; nil skips the narrative summary
	Summarizer Summarizer
}

// Engine computes DiffResults
type Engine struct {
	embeddings EmbeddingSource
	summarizer Summarizer
	threshold  float64
}

// New creates an Engine. A nil source means no embedding provider is
// configured, and every changed item is treated as hash-only-similar.
func New(src EmbeddingSource, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Engine{embeddings: src, summarizer: opts.Summarizer, threshold: opts.Threshold}
}

// Request identifies the diff being computed
type Request struct {
	JobID          string
	UserID         string
	SnapshotIDFrom string
	SnapshotIDTo   string
}

// Compare returns the ids only in to (added), only in from (deleted) and in
// both with different hashes (changed), each sorted by id
func Compare(from, to models.Manifest) (added, deleted []models.DiffItem, changed []models.ChangedItem) {
	added = []models.DiffItem{}
	deleted = []models.DiffItem{}
	changed = []models.ChangedItem{}

	for _, id := range to.IDs() {
		entry := to[id]
		prev, ok := from[id]
		if !ok {
			added = append(added, item(id, entry))
			continue
		}
		if prev.Hash != entry.Hash {
			changed = append(changed, models.ChangedItem{
				DiffItem: item(id, entry),
				OldHash:  prev.Hash,
				NewHash:  entry.Hash,
			})
		}
	}
	for _, id := range from.IDs() {
		if _, ok := to[id]; !ok {
			deleted = append(deleted, item(id, from[id]))
		}
	}
	return added, deleted, changed
}

func item(id string, e models.HashManifestEntry) models.DiffItem {
	return models.DiffItem{ID: id, Kind: e.Kind, BlockType: e.BlockType, Name: e.Name}
}

// Diff compares two manifests and returns a completed DiffResult
func (e *Engine) Diff(ctx context.Context, req Request, from, to models.Manifest) *models.DiffResult {
	added, deleted, changed := Compare(from, to)

	for i := range changed {
		e.classify(ctx, req, &changed[i])
	}

	res := &models.DiffResult{
		JobID:          req.JobID,
		UserID:         req.UserID,
		SnapshotIDFrom: req.SnapshotIDFrom,
		SnapshotIDTo:   req.SnapshotIDTo,
		Status:         models.DiffCompleted,
		Summary: models.DiffSummary{
			Added:              len(added),
			Deleted:            len(deleted),
			ContentHashChanged: len(changed),
		},
		Details: models.DiffDetails{
			AddedItems:   added,
			DeletedItems: deleted,
			ChangedItems: changed,
		},
		CreatedAt: time.Now().UTC(),
	}
	for _, c := range changed {
		switch c.Classification {
		case models.HashOnlySimilar:
			res.Summary.SemanticallySimilar++
		case models.SemanticDivergence, models.StructuralChange:
			res.Summary.SemanticallyChanged++
		}
	}

	if e.summarizer != nil {
		text, err := e.summarizer.Summarize(ctx, res, Significant(changed, TopChanges))
		if err != nil {
			logger.Error("Failed to generate diff summary", err, map[string]interface{}{"job_id": req.JobID})
			text = PlaceholderSummary
		}
		res.LLMSummary = text
	}

	completed := time.Now().UTC()
	res.CompletedAt = &completed
	logger.Info("Diff computed", map[string]interface{}{
		"job_id":               req.JobID,
		"added":                res.Summary.Added,
		"deleted":              res.Summary.Deleted,
		"changed":              res.Summary.ContentHashChanged,
		"semantically_changed": res.Summary.SemanticallyChanged,
	})
	return res
}

func (e *Engine) classify(ctx context.Context, req Request, c *models.ChangedItem) {
	if e.embeddings == nil {
		c.Classification = models.HashOnlySimilar
		return
	}

	before := e.representative(ctx, req.SnapshotIDFrom, c.ID, c.Kind)
	after := e.representative(ctx, req.SnapshotIDTo, c.ID, c.Kind)
	switch {
	case before == nil && after == nil:
		c.Classification = models.NoEmbeddingsFound
	case before == nil || after == nil:
		c.Classification = models.StructuralChange
	default:
		s := embed.CosineSimilarity(before, after)
		c.Similarity = &s
		if s >= e.threshold {
			c.Classification = models.HashOnlySimilar
		} else {
			c.Classification = models.SemanticDivergence
		}
	}
}

// representative averages the vectors that stand for an item: title and
// description for pages and databases, content chunks for blocks
func (e *Engine) representative(ctx context.Context, snapshotID, itemID string, kind models.ItemKind) []float32 {
	records, err := e.embeddings.Embeddings(ctx, snapshotID, itemID)
	if err != nil {
		logger.Error("Failed to load embeddings", err, map[string]interface{}{
			"snapshot_id": snapshotID,
			"item_id":     itemID,
		})
		return nil
	}

	var vectors [][]float32
	for _, r := range records {
		switch kind {
		case models.KindBlock:
			if r.Field != models.FieldContent {
				continue
			}
		default:
			if r.Field != models.FieldTitle && r.Field != models.FieldDescription {
				continue
			}
		}
		if len(r.Vector) > 0 {
			vectors = append(vectors, r.Vector)
		}
	}
	if len(vectors) == 0 {
		return nil
	}
	return embed.Average(vectors)
}

var classRank = map[models.Classification]int{
	models.SemanticDivergence: 0,
	models.StructuralChange:   1,
	models.NoEmbeddingsFound:  2,
	models.HashOnlySimilar:    3,
}

// Significant returns up to n changed items, most meaningful first:
// divergent items by ascending similarity, then structural changes, then
// unclassifiable and cosmetic ones
func Significant(changed []models.ChangedItem, n int) []models.ChangedItem {
	out := make([]models.ChangedItem, len(changed))
	copy(out, changed)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := classRank[out[i].Classification], classRank[out[j].Classification]
		if ri != rj {
			return ri < rj
		}
		si, sj := similarity(out[i]), similarity(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func similarity(c models.ChangedItem) float64 {
	if c.Similarity == nil {
		return 1
	}
	return *c.Similarity
}
