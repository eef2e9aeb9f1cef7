package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/takak2166/notionsnap/internal/config"
	"github.com/takak2166/notionsnap/internal/diff"
	"github.com/takak2166/notionsnap/internal/embed"
	"github.com/takak2166/notionsnap/internal/httpapi"
	"github.com/takak2166/notionsnap/internal/jobs"
	"github.com/takak2166/notionsnap/internal/logger"
	"github.com/takak2166/notionsnap/internal/metrics"
	"github.com/takak2166/notionsnap/internal/models"
	"github.com/takak2166/notionsnap/internal/notion"
	"github.com/takak2166/notionsnap/internal/reconcile"
	"github.com/takak2166/notionsnap/internal/restore"
	"github.com/takak2166/notionsnap/internal/storage"
	"github.com/takak2166/notionsnap/internal/store"
	"github.com/takak2166/notionsnap/internal/walker"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: notionsnap <command> [args]

commands:
  run                  consume job queues and serve the HTTP API
  worker               consume job queues only
  serve                serve the HTTP API only
  audit                check every destination against the primary and print the report
  enqueue <kind> JSON  publish a snapshot, diff or restore trigger
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize", err, nil)
		os.Exit(1)
	}
	defer a.db.Close()

	switch cmd := flag.Arg(0); cmd {
	case "run":
		err = a.run(ctx, true, true)
	case "worker":
		err = a.run(ctx, true, false)
	case "serve":
		err = a.run(ctx, false, true)
	case "audit":
		err = a.audit(ctx)
	case "enqueue":
		if flag.NArg() != 3 {
			flag.Usage()
			os.Exit(2)
		}
		err = a.enqueue(ctx, models.JobKind(flag.Arg(1)), flag.Arg(2))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", err, map[string]interface{}{"command": flag.Arg(0)})
		os.Exit(1)
	}
}

// app holds the wired components
type app struct {
	cfg      *config.Config
	db       *store.Store
	primary  storage.BlobStore
	metrics  *metrics.Metrics
	queues   map[models.JobKind]*jobs.Queue
	enqueuer *jobs.Enqueuer
	worker   *jobs.Worker
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := seed(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	primary, err := openPrimary(cfg.Primary)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()
	factory := func(token string) notion.NotionClient { return notion.NewAPIClient(token) }

	embedder, err := newEmbedder(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	// without an embedding provider every changed item is hash-only
	var vectors diff.EmbeddingSource
	if embedder != nil {
		vectors = db
	}
	var summarizer diff.Summarizer
	if cfg.OpenAI.APIKey != "" {
		client := embed.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		if s := diff.NewOpenAISummarizer(client, cfg.OpenAI.SummaryModel); s != nil {
			summarizer = s
		}
	}

	validator, err := jobs.NewValidator()
	if err != nil {
		db.Close()
		return nil, err
	}
	queues := jobs.Queues(db, jobs.QueueOptions{
		Visibility:   cfg.Worker.Visibility,
		PollInterval: cfg.Worker.PollInterval,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	})

	worker := jobs.NewWorker(jobs.Deps{
		Store:   db,
		Primary: primary,
		Open:    storage.OpenS3,
		Walker: walker.New(factory, walker.Options{
			RequestsPerSecond: cfg.Notion.RateLimit,
			Embedder:          embedder,
			Observer:          m.NotionObserver(),
		}),
		Differ: diff.New(vectors, diff.Options{
			Threshold:  cfg.Diff.Threshold,
			Summarizer: summarizer,
		}),
		Restorer: restore.New(primary, factory, store.RestoreSink{Store: db}, restore.Options{
			DefaultParentPageID: cfg.Notion.DefaultParentPageID,
			RequestsPerSecond:   cfg.Notion.RateLimit,
			TempDir:             cfg.TempDir,
			Observer:            m.NotionObserver(),
		}),
		Metrics:       m,
		FallbackToken: cfg.Notion.APIKey,
	}, queues, validator)

	logger.Info("Initialized", map[string]interface{}{
		"database":   cfg.Database.Driver,
		"primary":    cfg.Primary.Store,
		"embeddings": embedder != nil,
		"summaries":  summarizer != nil,
	})

	return &app{
		cfg:      cfg,
		db:       db,
		primary:  primary,
		metrics:  m,
		queues:   queues,
		enqueuer: jobs.NewEnqueuer(db, queues, validator),
		worker:   worker,
	}, nil
}

// seed stores the destinations and credentials listed in the config file
func seed(ctx context.Context, db *store.Store, cfg *config.Config) error {
	for _, d := range cfg.Destinations {
		if err := db.PutDestination(ctx, d); err != nil {
			return err
		}
	}
	for userID, token := range cfg.Credentials {
		if err := db.PutAccessToken(ctx, userID, token); err != nil {
			return err
		}
	}
	return nil
}

func openPrimary(p config.Primary) (storage.BlobStore, error) {
	if p.Store == config.PrimaryS3 {
		s3, err := storage.NewS3Store(p.Destination())
		if err != nil {
			return nil, fmt.Errorf("failed to open primary bucket: %w", err)
		}
		return s3, nil
	}
	fs, err := storage.NewFSStore(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary directory: %w", err)
	}
	return fs, nil
}

func newEmbedder(cfg *config.Config) (*embed.Embedder, error) {
	provider := embed.NewOpenAIProvider(embed.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.EmbeddingModel,
	})
	if provider == nil {
		return nil, nil
	}
	tokenizer, err := embed.NewTiktokenTokenizer(cfg.Embedding.Encoding)
	if err != nil {
		return nil, err
	}
	chunker := embed.NewChunker(tokenizer, cfg.Embedding.ChunkTokens, cfg.Embedding.OverlapTokens)
	return embed.New(provider, chunker, embed.Options{Limiter: cfg.Embedding.Limiter()}), nil
}

func (a *app) run(ctx context.Context, work, serve bool) error {
	g, ctx := errgroup.WithContext(ctx)
	if work {
		g.Go(func() error { return a.worker.Run(ctx) })
	}
	if serve {
		api := httpapi.New(a.enqueuer, a.db, a.metrics.Handler())
		g.Go(func() error { return api.ListenAndServe(ctx, a.cfg.HTTPAddr) })
	}
	return g.Wait()
}

func (a *app) audit(ctx context.Context) error {
	report, err := reconcile.New(a.db, a.primary, storage.OpenS3).Audit(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info("Audit completed", map[string]interface{}{
		"checked":      report.Checked,
		"inconsistent": report.Inconsistent,
	})
	return nil
}

func (a *app) enqueue(ctx context.Context, kind models.JobKind, payload string) error {
	id, err := a.enqueuer.EnqueueJSON(ctx, kind, []byte(payload))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
