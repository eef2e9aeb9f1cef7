package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, PrimaryFS, cfg.Primary.Store)
	assert.Equal(t, 3, cfg.Notion.RateLimit)
	assert.Equal(t, 500, cfg.Embedding.ChunkTokens)
	assert.Equal(t, 50, cfg.Embedding.OverlapTokens)
	assert.Nil(t, cfg.Embedding.Limiter(), "embedding calls are unlimited by default")
	assert.Equal(t, 0.95, cfg.Diff.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.Worker.Visibility)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv(t *testing.T) {
	tests := map[string]struct {
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		"postgres": {
			env: map[string]string{"DATABASE_DRIVER": "postgres", "DATABASE_DSN": "postgres://localhost/snap"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "postgres://localhost/snap", cfg.Database.DSN)
			},
		},
		"s3 primary": {
			env: map[string]string{
				"PRIMARY_STORE":            "s3",
				"PRIMARY_BUCKET":           "snapshots",
				"PRIMARY_ENDPOINT":         "http://minio:9000",
				"PRIMARY_FORCE_PATH_STYLE": "true",
			},
			check: func(t *testing.T, cfg *Config) {
				dest := cfg.Primary.Destination()
				assert.Equal(t, "snapshots", dest.Bucket)
				assert.True(t, dest.ForcePathStyle)
				assert.True(t, dest.IsEnabled)
			},
		},
		"notion": {
			env: map[string]string{"NOTION_API_KEY": "secret", "NOTION_RATE_LIMIT": "2", "NOTION_DEFAULT_PARENT_PAGE_ID": "p1"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "secret", cfg.Notion.APIKey)
				assert.Equal(t, 2, cfg.Notion.RateLimit)
				assert.Equal(t, "p1", cfg.Notion.DefaultParentPageID)
			},
		},
		"embedding rate limit": {
			env: map[string]string{"EMBEDDING_RATE_LIMIT": "5"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5, cfg.Embedding.RateLimit)
				limiter := cfg.Embedding.Limiter()
				require.NotNil(t, limiter)
				assert.Equal(t, rate.Limit(5), limiter.Limit())
				assert.Equal(t, 5, limiter.Burst())
			},
		},
		"bad embedding rate limit": {
			env:     map[string]string{"EMBEDDING_RATE_LIMIT": "lots"},
			wantErr: true,
		},
		"bad rate limit": {
			env:     map[string]string{"NOTION_RATE_LIMIT": "fast"},
			wantErr: true,
		},
		"bad path style": {
			env:     map[string]string{"PRIMARY_FORCE_PATH_STYLE": "maybe"},
			wantErr: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := FromEnv(envMap(tt.env))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(cfg *Config)
	}{
		"unknown driver":          {mutate: func(cfg *Config) { cfg.Database.Driver = "mysql" }},
		"empty dsn":               {mutate: func(cfg *Config) { cfg.Database.DSN = "" }},
		"s3 without bucket":       {mutate: func(cfg *Config) { cfg.Primary.Store = PrimaryS3 }},
		"unknown primary":         {mutate: func(cfg *Config) { cfg.Primary.Store = "gcs" }},
		"zero rate":               {mutate: func(cfg *Config) { cfg.Notion.RateLimit = 0 }},
		"negative embedding rate": {mutate: func(cfg *Config) { cfg.Embedding.RateLimit = -1 }},
		"overlap too large":       {mutate: func(cfg *Config) { cfg.Embedding.OverlapTokens = 500 }},
		"threshold too high":      {mutate: func(cfg *Config) { cfg.Diff.Threshold = 1.5 }},
		"zero visibility":         {mutate: func(cfg *Config) { cfg.Worker.Visibility = 0 }},
		"incomplete destination":  {mutate: func(cfg *Config) {
			cfg.Destinations = append(cfg.Destinations, cfg.Primary.Destination())
		}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := FromEnv(envMap(nil))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notionsnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
embedding:
  chunk_tokens: 800
diff:
  threshold: 0.9
worker:
  poll_interval: 250ms
destinations:
  - id: d1
    user_id: u1
    type: r2
    bucket: backups
    endpoint: https://account.r2.cloudflarestorage.com
    is_enabled: true
    replication_mode: mirror
credentials:
  u1: secret_token
`), 0o600))

	cfg, err := FromEnv(envMap(map[string]string{"LOG_LEVEL": "warn"}))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 800, cfg.Embedding.ChunkTokens)
	// keys missing from the file keep their env values
	assert.Equal(t, 50, cfg.Embedding.OverlapTokens)
	assert.Equal(t, 0.9, cfg.Diff.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	require.Len(t, cfg.Destinations, 1)
	assert.Equal(t, "backups", cfg.Destinations[0].Bucket)
	assert.True(t, cfg.Destinations[0].IsEnabled)
	assert.Equal(t, "secret_token", cfg.Credentials["u1"])
}

func TestApplyFile_Errors(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Error(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker: [1, 2"), 0o600))
	assert.Error(t, cfg.ApplyFile(path))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notionsnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_DSN", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, ":memory:", cfg.Database.DSN)
}
