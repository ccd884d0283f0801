// Package ingest accepts document uploads and hands them to the processing
// pipeline.
//
// An upload is validated before anything is persisted: a rejected file
// leaves no blob, no document row, and no job. An accepted upload returns
// its document id synchronously while processing continues in the
// background.
package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/blob"
	"github.com/fyrsmithlabs/corpusd/internal/document"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/queue"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var tracer = otel.Tracer("corpusd.ingest")

// Config bounds accepted uploads.
type Config struct {
	MinSizeBytes int64
	MaxSizeBytes int64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MinSizeBytes == 0 {
		c.MinSizeBytes = 10 * 1024
	}
	if c.MaxSizeBytes == 0 {
		c.MaxSizeBytes = 10 * 1024 * 1024
	}
}

// UploadInput describes one incoming file.
type UploadInput struct {
	OwnerID   string
	Filename  string
	SizeBytes int64
	Content   io.Reader
}

// Service coordinates uploads, status reads, and deletion.
type Service interface {
	// Upload validates, stores, and enqueues a document, returning it in
	// status pending.
	Upload(ctx context.Context, in UploadInput) (*document.Document, error)

	// Get returns the owner's document with current status.
	Get(ctx context.Context, ownerID, id string) (*document.Document, error)

	// List returns the owner's documents, newest first.
	List(ctx context.Context, ownerID string) ([]*document.Document, error)

	// Delete removes a document and everything derived from it: chunks,
	// vectors, job, and stored content.
	Delete(ctx context.Context, ownerID, id string) error

	// Stats summarizes the owner's corpus.
	Stats(ctx context.Context, ownerID string) (*metadata.OwnerStats, error)
}

type service struct {
	config  Config
	meta    *metadata.Store
	blobs   blob.Store
	vectors vectorstore.Store
	jobs    queue.Queue
	logger  *zap.Logger
}

// NewService creates the ingestion coordinator.
func NewService(config Config, meta *metadata.Store, blobs blob.Store, vectors vectorstore.Store, jobs queue.Queue, logger *zap.Logger) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if config.MaxSizeBytes <= config.MinSizeBytes {
		return nil, fmt.Errorf("max size must exceed min size")
	}
	if meta == nil || blobs == nil || vectors == nil || jobs == nil {
		return nil, fmt.Errorf("all dependencies are required")
	}
	return &service{
		config:  config,
		meta:    meta,
		blobs:   blobs,
		vectors: vectors,
		jobs:    jobs,
		logger:  logger,
	}, nil
}

func (s *service) Upload(ctx context.Context, in UploadInput) (*document.Document, error) {
	ctx, span := tracer.Start(ctx, "ingest.Upload")
	defer span.End()

	format, err := s.validate(in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	docID := uuid.NewString()
	span.SetAttributes(
		attribute.String("document.id", docID),
		attribute.String("document.format", string(format)),
		attribute.Int64("document.size_bytes", in.SizeBytes),
	)

	pointer, err := s.blobs.Put(ctx, in.OwnerID, docID, in.Filename, in.Content)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storing content: %w", err)
	}

	doc := &document.Document{
		ID:             docID,
		OwnerID:        in.OwnerID,
		Filename:       in.Filename,
		Format:         format,
		SizeBytes:      in.SizeBytes,
		ContentPointer: pointer,
		Status:         document.StatusPending,
	}
	if err := s.meta.CreateDocument(ctx, doc); err != nil {
		// Roll the blob back so a failed insert leaves nothing behind.
		if derr := s.blobs.Delete(ctx, pointer); derr != nil {
			s.logger.Warn("orphaned blob after failed insert",
				zap.String("pointer", pointer),
				zap.Error(derr),
			)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("creating document: %w", err)
	}

	if _, err := s.meta.EnqueueJob(ctx, docID, time.Time{}); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}
	if err := s.jobs.Publish(ctx, docID); err != nil {
		// Polling still picks the job up.
		s.logger.Warn("job wake-up publish failed",
			zap.String("document_id", docID),
			zap.Error(err),
		)
	}

	s.logger.With(logging.ContextFields(ctx)...).Info("document accepted",
		zap.String("document_id", docID),
		zap.String("owner_id", in.OwnerID),
		zap.String("format", string(format)),
		zap.Int64("size_bytes", in.SizeBytes),
	)
	return doc, nil
}

// validate checks the upload before any write happens.
func (s *service) validate(in UploadInput) (document.Format, error) {
	owner := vectorstore.Owner{ID: in.OwnerID}
	if err := owner.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", document.ErrValidation, err)
	}
	if in.Filename == "" {
		return "", fmt.Errorf("%w: filename is required", document.ErrValidation)
	}
	if in.Content == nil {
		return "", fmt.Errorf("%w: content is required", document.ErrValidation)
	}

	ext := filepath.Ext(in.Filename)
	if ext == "" {
		return "", fmt.Errorf("%w: filename has no extension", document.ErrValidation)
	}
	format, err := document.ParseFormat(ext)
	if err != nil {
		return "", err
	}

	if in.SizeBytes < s.config.MinSizeBytes {
		return "", fmt.Errorf("%w: file is %d bytes, minimum is %d",
			document.ErrValidation, in.SizeBytes, s.config.MinSizeBytes)
	}
	if in.SizeBytes > s.config.MaxSizeBytes {
		return "", fmt.Errorf("%w: file is %d bytes, maximum is %d",
			document.ErrValidation, in.SizeBytes, s.config.MaxSizeBytes)
	}
	return format, nil
}

func (s *service) Get(ctx context.Context, ownerID, id string) (*document.Document, error) {
	return s.meta.GetDocument(ctx, ownerID, id)
}

func (s *service) List(ctx context.Context, ownerID string) ([]*document.Document, error) {
	return s.meta.ListDocuments(ctx, ownerID)
}

func (s *service) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span := tracer.Start(ctx, "ingest.Delete")
	defer span.End()

	doc, err := s.meta.GetDocument(ctx, ownerID, id)
	if err != nil {
		return err
	}

	chunkIDs, err := s.meta.ChunkIDsForDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("listing chunks: %w", err)
	}
	if len(chunkIDs) > 0 {
		ownerCtx := vectorstore.ContextWithOwner(ctx, &vectorstore.Owner{ID: ownerID})
		if err := s.vectors.Delete(ownerCtx, chunkIDs); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting vectors: %w", err)
		}
	}

	if _, err := s.meta.DeleteDocument(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.ContentPointer); err != nil {
		s.logger.Warn("orphaned blob after delete",
			zap.String("pointer", doc.ContentPointer),
			zap.Error(err),
		)
	}

	s.logger.With(logging.ContextFields(ctx)...).Info("document deleted",
		zap.String("document_id", id),
		zap.String("owner_id", ownerID),
		zap.Int("chunks", len(chunkIDs)),
	)
	return nil
}

func (s *service) Stats(ctx context.Context, ownerID string) (*metadata.OwnerStats, error) {
	return s.meta.Stats(ctx, ownerID)
}
