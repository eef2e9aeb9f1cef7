// Package embed splits text into token windows and turns them into vectors.
package embed

import (
	"context"
	"sync"
	"time"

	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/parser"
	"github.com/takak2166/notionsnap/internal/retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultAttempts    = 3
	DefaultBaseDelay   = time.Second
	DefaultConcurrency = 4
	// ShortTextLimit bounds titles and descriptions, which are embedded whole
	ShortTextLimit = 2000
)

// Embedding is the vector of one chunk
type Embedding struct {
	Vector      []float32
	ChunkIndex  int
	TotalChunks int
}

// Options tunes an Embedder
type Options struct {
	Attempts    int
	BaseDelay   time.Duration
	Concurrency int
	// Limiter throttles provider calls when the provider enforces its own quota
	Limiter *rate.Limiter
}

// Embedder chunks text and calls the provider once per chunk with retries
type Embedder struct {
	provider Provider
	chunker  *Chunker
	opts     Options
}

// New creates an Embedder. A nil provider yields nil, which callers treat
// as "embeddings disabled".
func New(provider Provider, chunker *Chunker, opts Options) *Embedder {
	if provider == nil {
		return nil
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Embedder{provider: provider, chunker: chunker, opts: opts}
}

// Embed chunks text and embeds every chunk. Chunks that fail every retry
// are dropped, so the result may cover only part of the text.
func (e *Embedder) Embed(ctx context.Context, text string) []Embedding {
	chunks := e.chunker.Split(text)
	if len(chunks) == 0 {
		return nil
	}

	results := make([]*Embedding, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := e.call(gctx, chunk.Text)
			if err != nil {
				logger.Error("Dropping chunk after failed embedding attempts", err, map[string]interface{}{
					"chunk_index":  chunk.Index,
					"total_chunks": chunk.TotalChunks,
				})
				return nil
			}
			results[i] = &Embedding{Vector: vec, ChunkIndex: chunk.Index, TotalChunks: chunk.TotalChunks}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Embedding, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// EmbedShort embeds a title or description as a single truncated unit
func (e *Embedder) EmbedShort(ctx context.Context, text string) (*Embedding, bool) {
	text = parser.Truncate(text, ShortTextLimit)
	if text == "" {
		return nil, false
	}
	vec, err := e.call(ctx, text)
	if err != nil {
		logger.Error("Failed to embed short text", err)
		return nil, false
	}
	return &Embedding{Vector: vec, ChunkIndex: 0, TotalChunks: 1}, true
}

func (e *Embedder) call(ctx context.Context, text string) ([]float32, error) {
	return retry.Value(ctx, func(ctx context.Context) ([]float32, error) {
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				return nil, retry.Permanent(err)
			}
		}
		return e.provider.Embed(ctx, text)
	}, e.opts.Attempts, e.opts.BaseDelay)
}

// Records converts embeddings of one item field into storable records
func Records(snapshotID, itemID string, field models.EmbeddingField, embs []Embedding) []models.EmbeddingRecord {
	out := make([]models.EmbeddingRecord, 0, len(embs))
	for _, e := range embs {
		out = append(out, models.EmbeddingRecord{
			SnapshotID:  snapshotID,
			ItemID:      itemID,
			Field:       field,
			ChunkIndex:  e.ChunkIndex,
			TotalChunks: e.TotalChunks,
			Vector:      e.Vector,
		})
	}
	return out
}

// Collector accumulates records from concurrent walkers
type Collector struct {
	mu      sync.Mutex
	records []models.EmbeddingRecord
}

// Add appends records
func (c *Collector) Add(records ...models.EmbeddingRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
}

// Records returns everything collected so far
func (c *Collector) Records() []models.EmbeddingRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EmbeddingRecord, len(c.records))
	copy(out, c.records)
	return out
}
