package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Point at a directory with no config file.
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "X-Owner-ID", cfg.Server.IdentityHeader)
	assert.Equal(t, int64(10*1024), cfg.Ingest.MinSizeBytes)
	assert.Equal(t, int64(10*1024*1024), cfg.Ingest.MaxSizeBytes)
	assert.Equal(t, 250, cfg.Chunking.MaxTokens)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 3, cfg.Processor.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Processor.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Processor.LeaseTTL)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, 1000, cfg.Query.ContextBudgetTokens)
	assert.Equal(t, 15*time.Second, cfg.Query.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  addr: ":9000"
chunking:
  max_tokens: 300
  overlap: 40
query:
  top_k: 8
vectorstore:
  backend: qdrant
  qdrant:
    host: vectors.internal
    port: 6334
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 300, cfg.Chunking.MaxTokens)
	assert.Equal(t, 40, cfg.Chunking.Overlap)
	assert.Equal(t, 8, cfg.Query.TopK)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "vectors.internal", cfg.VectorStore.Qdrant.Host)
	// Untouched sections keep defaults.
	assert.Equal(t, 3, cfg.Processor.MaxAttempts)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CORPUSD_SERVER_ADDR", ":7070")
	t.Setenv("CORPUSD_QUERY_TOP_K", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Query.TopK)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vectorstore:\n  backend: pinecone\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectorstore.backend")
}

func TestConfigValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "max size below min size",
			mutate:  func(c *Config) { c.Ingest.MaxSizeBytes = c.Ingest.MinSizeBytes - 1 },
			wantErr: "max_size_bytes",
		},
		{
			name:    "overlap not below max tokens",
			mutate:  func(c *Config) { c.Chunking.Overlap = c.Chunking.MaxTokens },
			wantErr: "overlap",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Processor.Workers = -1 },
			wantErr: "workers",
		},
		{
			name:    "nats backend needs url",
			mutate:  func(c *Config) { c.Queue.Backend = "nats"; c.Queue.URL = "" },
			wantErr: "queue.url",
		},
		{
			name:    "qdrant backend needs host",
			mutate:  func(c *Config) { c.VectorStore.Backend = "qdrant"; c.VectorStore.Qdrant.Host = "" },
			wantErr: "qdrant.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
