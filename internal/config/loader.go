package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/corpusd/internal/logging"
)

const maxConfigFileSize = 1024 * 1024

// envPrefix scopes environment overrides to corpusd.
const envPrefix = "CORPUSD_"

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CORPUSD_SERVER_ADDR, CORPUSD_QUERY_TOP_K, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables drop the CORPUSD_ prefix and split on the first
// underscore into section and field:
//
//	CORPUSD_SERVER_ADDR          -> server.addr
//	CORPUSD_QUERY_TOP_K          -> query.top_k
//	CORPUSD_EMBEDDINGS_BASE_URL  -> embeddings.base_url
//
// If configPath is empty, ~/.config/corpusd/config.yaml is used. A missing
// file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "corpusd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.IdentityHeader == "" {
		cfg.Server.IdentityHeader = "X-Owner-ID"
	}

	if cfg.Logging.Level == "" || cfg.Logging.Format == "" {
		defaults := logging.NewDefaultConfig()
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = defaults.Level
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = defaults.Format
		}
		if cfg.Logging.Fields == nil {
			cfg.Logging.Fields = defaults.Fields
		}
	}

	if cfg.Ingest.MinSizeBytes == 0 {
		cfg.Ingest.MinSizeBytes = 10 * 1024
	}
	if cfg.Ingest.MaxSizeBytes == 0 {
		cfg.Ingest.MaxSizeBytes = 10 * 1024 * 1024
	}

	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = 250
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 50
	}

	if cfg.Processor.Workers == 0 {
		cfg.Processor.Workers = 4
	}
	if cfg.Processor.MaxAttempts == 0 {
		cfg.Processor.MaxAttempts = 3
	}
	if cfg.Processor.BackoffBase == 0 {
		cfg.Processor.BackoffBase = 2 * time.Second
	}
	if cfg.Processor.BackoffMax == 0 {
		cfg.Processor.BackoffMax = 60 * time.Second
	}
	if cfg.Processor.LeaseTTL == 0 {
		cfg.Processor.LeaseTTL = 5 * time.Minute
	}
	if cfg.Processor.PollInterval == 0 {
		cfg.Processor.PollInterval = 2 * time.Second
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8081"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "nomic-embed-text-v1.5"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 768
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 64
	}
	if cfg.Embeddings.RequestsPerSecond == 0 {
		cfg.Embeddings.RequestsPerSecond = 10
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}

	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.local/share/corpusd/vectors"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = "~/.local/share/corpusd/corpusd.db"
	}
	if cfg.Blob.Path == "" {
		cfg.Blob.Path = "~/.local/share/corpusd/blobs"
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.Subject == "" {
		cfg.Queue.Subject = "corpusd.jobs"
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Query.ContextBudgetTokens == 0 {
		cfg.Query.ContextBudgetTokens = 1000
	}
	if cfg.Query.MaxQuestionChars == 0 {
		cfg.Query.MaxQuestionChars = 1000
	}
	if cfg.Query.Timeout == 0 {
		cfg.Query.Timeout = 15 * time.Second
	}
}
