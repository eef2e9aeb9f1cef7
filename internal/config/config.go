// Package config reads notionsnap settings from the environment (optionally
// seeded from a .env file) and an optional YAML override file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/takak2166/notionsnap/internal/models"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const (
	PrimaryFS = "fs"
	PrimaryS3 = "s3"
)

// Config is the full process configuration
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	HTTPAddr  string `yaml:"http_addr"`
	TempDir   string `yaml:"temp_dir"`

	Database  Database  `yaml:"database"`
	Primary   Primary   `yaml:"primary"`
	Notion    Notion    `yaml:"notion"`
	OpenAI    OpenAI    `yaml:"openai"`
	Embedding Embedding `yaml:"embedding"`
	Diff      Diff      `yaml:"diff"`
	Worker    Worker    `yaml:"worker"`

	// Destinations and Credentials are seeded into the store at startup
	Destinations []models.StorageDestinationConfig `yaml:"destinations"`
	Credentials  map[string]string                 `yaml:"credentials"`
}

// Database selects the document database
type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Primary is the store every snapshot must reach
type Primary struct {
	Store           string `yaml:"store"`
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// Destination returns the primary bucket as a destination config
func (p Primary) Destination() models.StorageDestinationConfig {
	return models.StorageDestinationConfig{
		ID:             "primary",
		Type:           models.DestinationS3,
		Bucket:         p.Bucket,
		Region:         p.Region,
		Endpoint:       p.Endpoint,
		ForcePathStyle: p.ForcePathStyle,
		IsEnabled:      true,
		Credentials: models.Credentials{
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
		},
	}
}

type Notion struct {
	// APIKey is used for users without a stored token
	APIKey              string `yaml:"api_key"`
	RateLimit           int    `yaml:"rate_limit"`
	DefaultParentPageID string `yaml:"default_parent_page_id"`
}

type OpenAI struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	SummaryModel   string `yaml:"summary_model"`
}

type Embedding struct {
	Encoding      string `yaml:"encoding"`
	ChunkTokens   int    `yaml:"chunk_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	// RateLimit caps provider calls per second, 0 means unlimited
	RateLimit int `yaml:"rate_limit"`
}

// Limiter returns the provider call limiter, nil when unlimited
func (e Embedding) Limiter() *rate.Limiter {
	if e.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(e.RateLimit), e.RateLimit)
}

type Diff struct {
	Threshold float64 `yaml:"threshold"`
}

type Worker struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Visibility   time.Duration `yaml:"visibility"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// Load reads .env if present, then the environment, then CONFIG_FILE
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment lookups with defaults applied
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	var err error
	cfg := &Config{
		LogLevel:  get("LOG_LEVEL", "info"),
		LogFormat: get("LOG_FORMAT", "text"),
		HTTPAddr:  get("HTTP_ADDR", ":8080"),
		TempDir:   getenv("TEMP_DIR"),
		Database: Database{
			Driver: get("DATABASE_DRIVER", "sqlite"),
			DSN:    get("DATABASE_DSN", "notionsnap.db"),
		},
		Primary: Primary{
			Store:           get("PRIMARY_STORE", PrimaryFS),
			Dir:             get("PRIMARY_DIR", "snapshots"),
			Bucket:          getenv("PRIMARY_BUCKET"),
			Region:          getenv("PRIMARY_REGION"),
			Endpoint:        getenv("PRIMARY_ENDPOINT"),
			AccessKeyID:     getenv("PRIMARY_ACCESS_KEY_ID"),
			SecretAccessKey: getenv("PRIMARY_SECRET_ACCESS_KEY"),
		},
		Notion: Notion{
			APIKey:              getenv("NOTION_API_KEY"),
			DefaultParentPageID: getenv("NOTION_DEFAULT_PARENT_PAGE_ID"),
		},
		OpenAI: OpenAI{
			APIKey:         getenv("OPENAI_API_KEY"),
			BaseURL:        getenv("OPENAI_BASE_URL"),
			EmbeddingModel: getenv("EMBEDDING_MODEL"),
			SummaryModel:   getenv("SUMMARY_MODEL"),
		},
		Embedding: Embedding{
			Encoding:      "cl100k_base",
			ChunkTokens:   500,
			OverlapTokens: 50,
		},
		Diff: Diff{Threshold: 0.95},
		Worker: Worker{
			PollInterval: time.Second,
			Visibility:   15 * time.Minute,
			MaxAttempts:  5,
		},
	}

	if cfg.Notion.RateLimit, err = atoi(get("NOTION_RATE_LIMIT", "3"), "NOTION_RATE_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.Embedding.RateLimit, err = atoi(get("EMBEDDING_RATE_LIMIT", "0"), "EMBEDDING_RATE_LIMIT"); err != nil {
		return nil, err
	}

	if v := getenv("PRIMARY_FORCE_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PRIMARY_FORCE_PATH_STYLE: %w", err)
		}
		cfg.Primary.ForcePathStyle = b
	}
	return cfg, nil
}

func atoi(v, key string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// ApplyFile overrides cfg with every key present in the YAML file at path
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}

	switch c.Primary.Store {
	case PrimaryFS:
		if c.Primary.Dir == "" {
			return errors.New("primary dir is required for the fs store")
		}
	case PrimaryS3:
		if c.Primary.Bucket == "" {
			return errors.New("primary bucket is required for the s3 store")
		}
	default:
		return fmt.Errorf("unsupported primary store %q", c.Primary.Store)
	}

	if c.Notion.RateLimit <= 0 {
		return fmt.Errorf("notion rate limit must be positive, got %d", c.Notion.RateLimit)
	}
	if c.Embedding.RateLimit < 0 {
		return fmt.Errorf("embedding rate limit must not be negative, got %d", c.Embedding.RateLimit)
	}
	if c.Embedding.ChunkTokens <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Embedding.ChunkTokens)
	}
	if c.Embedding.OverlapTokens < 0 || c.Embedding.OverlapTokens >= c.Embedding.ChunkTokens {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Embedding.ChunkTokens, c.Embedding.OverlapTokens)
	}
	if c.Diff.Threshold <= 0 || c.Diff.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", c.Diff.Threshold)
	}
	if c.Worker.PollInterval <= 0 || c.Worker.Visibility <= 0 {
		return errors.New("worker poll interval and visibility must be positive")
	}
	for _, d := range c.Destinations {
		if d.ID == "" || d.UserID == "" || d.Bucket == "" {
			return fmt.Errorf("destination %s needs an id, a user and a bucket", d.Name())
		}
	}
	return nil
}
