// Package config provides configuration loading for corpusd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults for anything left unset.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/logging"
)

// Config holds the complete corpusd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Processor   ProcessorConfig   `koanf:"processor"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Metadata    MetadataConfig    `koanf:"metadata"`
	Blob        BlobConfig        `koanf:"blob"`
	Queue       QueueConfig       `koanf:"queue"`
	Query       QueryConfig       `koanf:"query"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// IdentityHeader names the request header carrying the caller's owner id.
	IdentityHeader string `koanf:"identity_header"`
}

// IngestConfig bounds accepted uploads.
type IngestConfig struct {
	MinSizeBytes int64 `koanf:"min_size_bytes"`
	MaxSizeBytes int64 `koanf:"max_size_bytes"`
}

// ChunkingConfig controls how extracted text is split.
type ChunkingConfig struct {
	MaxTokens int `koanf:"max_tokens"`
	Overlap   int `koanf:"overlap"`
}

// ProcessorConfig controls the background job workers.
type ProcessorConfig struct {
	Workers      int           `koanf:"workers"`
	MaxAttempts  int           `koanf:"max_attempts"`
	BackoffBase  time.Duration `koanf:"backoff_base"`
	BackoffMax   time.Duration `koanf:"backoff_max"`
	LeaseTTL     time.Duration `koanf:"lease_ttl"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Model             string        `koanf:"model"`
	Dimension         int           `koanf:"dimension"`
	BatchSize         int           `koanf:"batch_size"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	// Backend is "chromem" (embedded) or "qdrant" (external).
	Backend string        `koanf:"backend"`
	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem backend.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the external Qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey string `koanf:"api_key"`
}

// MetadataConfig configures the SQLite metadata store.
type MetadataConfig struct {
	Path string `koanf:"path"`
}

// BlobConfig configures raw document content storage.
type BlobConfig struct {
	Path string `koanf:"path"`
}

// QueueConfig selects and configures the job wake-up channel.
type QueueConfig struct {
	// Backend is "memory" (in-process channel), "nats" (external server),
	// or "nats-embedded" (in-process NATS server).
	Backend string `koanf:"backend"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// QueryConfig controls retrieval and answer assembly.
type QueryConfig struct {
	TopK                int           `koanf:"top_k"`
	ContextBudgetTokens int           `koanf:"context_budget_tokens"`
	MaxQuestionChars    int           `koanf:"max_question_chars"`
	Timeout             time.Duration `koanf:"timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Ingest.MinSizeBytes < 0 {
		return fmt.Errorf("ingest.min_size_bytes must be >= 0")
	}
	if c.Ingest.MaxSizeBytes <= c.Ingest.MinSizeBytes {
		return fmt.Errorf("ingest.max_size_bytes must be greater than min_size_bytes")
	}
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap must be in [0, max_tokens)")
	}
	if c.Processor.Workers <= 0 {
		return fmt.Errorf("processor.workers must be positive")
	}
	if c.Processor.MaxAttempts <= 0 {
		return fmt.Errorf("processor.max_attempts must be positive")
	}
	if c.Processor.LeaseTTL <= 0 {
		return fmt.Errorf("processor.lease_ttl must be positive")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive")
	}
	switch c.VectorStore.Backend {
	case "chromem":
		if c.VectorStore.Chromem.Path == "" {
			return fmt.Errorf("vectorstore.chromem.path is required")
		}
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("vectorstore.qdrant.host is required")
		}
	default:
		return fmt.Errorf("vectorstore.backend must be 'chromem' or 'qdrant', got %q", c.VectorStore.Backend)
	}
	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}
	if c.Blob.Path == "" {
		return fmt.Errorf("blob.path is required")
	}
	switch c.Queue.Backend {
	case "memory", "nats-embedded":
	case "nats":
		if c.Queue.URL == "" {
			return fmt.Errorf("queue.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("queue.backend must be 'memory', 'nats', or 'nats-embedded', got %q", c.Queue.Backend)
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("query.top_k must be positive")
	}
	if c.Query.ContextBudgetTokens <= 0 {
		return fmt.Errorf("query.context_budget_tokens must be positive")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive")
	}
	return nil
}
