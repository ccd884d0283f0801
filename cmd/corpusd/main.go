// Corpusd is a multi-tenant document ingestion and retrieval daemon.
//
// It accepts document uploads over HTTP, processes them in the background
// (extract, chunk, embed, index), and answers questions against each
// owner's indexed corpus.
//
// Configuration is loaded from a YAML file and CORPUSD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	corpusd
//
//	# Start with an explicit config file
//	corpusd -config /etc/corpusd/config.yaml
//
//	# Override via environment
//	CORPUSD_SERVER_ADDR=:9090 corpusd
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/blob"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extraction"
	"github.com/fyrsmithlabs/corpusd/internal/httpapi"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/processor"
	"github.com/fyrsmithlabs/corpusd/internal/query"
	"github.com/fyrsmithlabs/corpusd/internal/queue"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("corpusd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "corpusd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	metaPath, err := expandPath(cfg.Metadata.Path)
	if err != nil {
		return fmt.Errorf("resolving metadata path: %w", err)
	}
	meta, err := metadata.NewStore(metaPath, logger)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer meta.Close()

	blobPath, err := expandPath(cfg.Blob.Path)
	if err != nil {
		return fmt.Errorf("resolving blob path: %w", err)
	}
	blobs, err := blob.NewFSStore(blobPath, logger)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	vectors, err := newVectorStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer vectors.Close()

	jobs, err := newQueue(cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting job queue: %w", err)
	}
	defer jobs.Close()

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:           cfg.Embeddings.BaseURL,
		Model:             cfg.Embeddings.Model,
		Dimension:         cfg.Embeddings.Dimension,
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Timeout:           cfg.Embeddings.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding client: %w", err)
	}
	defer embedder.Close()

	splitter, err := chunker.New(chunker.Config{
		MaxTokens: cfg.Chunking.MaxTokens,
		Overlap:   cfg.Chunking.Overlap,
	})
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	proc, err := processor.New(processor.Config{
		Workers:      cfg.Processor.Workers,
		MaxAttempts:  cfg.Processor.MaxAttempts,
		BackoffBase:  cfg.Processor.BackoffBase,
		BackoffMax:   cfg.Processor.BackoffMax,
		LeaseTTL:     cfg.Processor.LeaseTTL,
		PollInterval: cfg.Processor.PollInterval,
	}, meta, blobs, extraction.NewDefaultRegistry(), splitter, embedder, vectors, jobs, logger)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}

	ingestor, err := ingest.NewService(ingest.Config{
		MinSizeBytes: cfg.Ingest.MinSizeBytes,
		MaxSizeBytes: cfg.Ingest.MaxSizeBytes,
	}, meta, blobs, vectors, jobs, logger)
	if err != nil {
		return fmt.Errorf("creating ingest service: %w", err)
	}

	querier, err := query.NewService(query.Config{
		TopK:                cfg.Query.TopK,
		ContextBudgetTokens: cfg.Query.ContextBudgetTokens,
		MaxQuestionChars:    cfg.Query.MaxQuestionChars,
		Timeout:             cfg.Query.Timeout,
	}, meta, embedder, vectors, query.NewExtractiveSynthesizer(3), logger)
	if err != nil {
		return fmt.Errorf("creating query service: %w", err)
	}

	server, err := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.Server.Addr,
		IdentityHeader: cfg.Server.IdentityHeader,
		MaxUploadBytes: cfg.Ingest.MaxSizeBytes + 1024*1024,
	}, ingestor, querier, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	procDone := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(procDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		cancel()
		<-procDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	<-procDone

	logger.Info("corpusd stopped")
	return nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// newVectorStore builds the configured vector backend.
func newVectorStore(cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "chromem":
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		}, logger)
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			VectorSize: uint64(cfg.Embeddings.Dimension),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
}

// newQueue builds the configured job wake-up channel.
func newQueue(cfg *config.Config, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return queue.NewMemoryQueue(0), nil
	case "nats":
		return queue.NewNATSQueue(cfg.Queue.URL, cfg.Queue.Subject, logger)
	case "nats-embedded":
		return queue.NewEmbeddedNATSQueue(cfg.Queue.Subject, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
