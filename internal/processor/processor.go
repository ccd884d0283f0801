// Package processor drives documents from pending to a terminal status.
//
// A pool of workers leases jobs from the metadata store, runs the
// extract-chunk-embed-index pipeline, and records the outcome. Workers
// wake on queue notifications and fall back to polling, so a dropped
// notification only delays a job, it never loses one. Leases make a
// crashed worker's job reclaimable after the visibility timeout.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/blob"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/document"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extraction"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/queue"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var tracer = otel.Tracer("corpusd.processor")

// Config tunes the worker pool and retry policy.
type Config struct {
	// Workers is the number of concurrent pipeline workers.
	Workers int

	// MaxAttempts bounds processing attempts per document. Once reached,
	// a transient failure becomes terminal.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; it doubles per
	// attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// LeaseTTL is the visibility timeout on a leased job.
	LeaseTTL time.Duration

	// PollInterval is how often idle workers check for work, independent
	// of queue notifications.
	PollInterval time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff range is invalid")
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease ttl must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

// Processor runs the document processing pipeline.
type Processor struct {
	config   Config
	meta     *metadata.Store
	blobs    blob.Store
	registry *extraction.Registry
	splitter *chunker.Chunker
	embedder embeddings.Provider
	vectors  vectorstore.Store
	jobs     queue.Queue
	logger   *zap.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// New creates a processor. Run must be called to start the workers.
func New(config Config, meta *metadata.Store, blobs blob.Store, registry *extraction.Registry, splitter *chunker.Chunker, embedder embeddings.Provider, vectors vectorstore.Store, jobs queue.Queue, logger *zap.Logger) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}
	if meta == nil || blobs == nil || registry == nil || splitter == nil || embedder == nil || vectors == nil || jobs == nil {
		return nil, fmt.Errorf("all dependencies are required")
	}
	return &Processor{
		config:   config,
		meta:     meta,
		blobs:    blobs,
		registry: registry,
		splitter: splitter,
		embedder: embedder,
		vectors:  vectors,
		jobs:     jobs,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have drained their current job.
func (p *Processor) Run(ctx context.Context) {
	host, _ := os.Hostname()
	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d-%s", host, i, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.worker(ctx, workerID)
	}
	p.wg.Wait()
}

func (p *Processor) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	logger := p.logger.With(zap.String("worker_id", workerID))
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.drain(ctx, workerID, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.jobs.Notify():
			p.drain(ctx, workerID, logger)
		case <-ticker.C:
			p.drain(ctx, workerID, logger)
		}
	}
}

// drain processes ready jobs until none are left.
func (p *Processor) drain(ctx context.Context, workerID string, logger *zap.Logger) {
	for ctx.Err() == nil {
		job, err := p.meta.AcquireJob(ctx, workerID, p.config.LeaseTTL)
		if errors.Is(err, metadata.ErrNoJob) {
			return
		}
		if err != nil {
			logger.Warn("acquiring job failed", zap.Error(err))
			return
		}
		p.handle(ctx, job, workerID, logger)
	}
}

// ProcessOne leases and processes a single ready job. It exists for
// callers that drive the pipeline directly instead of through Run.
func (p *Processor) ProcessOne(ctx context.Context, workerID string) error {
	job, err := p.meta.AcquireJob(ctx, workerID, p.config.LeaseTTL)
	if err != nil {
		return err
	}
	p.handle(ctx, job, workerID, p.logger.With(zap.String("worker_id", workerID)))
	return nil
}

func (p *Processor) handle(ctx context.Context, job *document.Job, workerID string, logger *zap.Logger) {
	ctx, span := tracer.Start(ctx, "processor.handle")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", job.DocumentID))
	logger = logger.With(zap.String("document_id", job.DocumentID), zap.String("job_id", job.ID))

	doc, err := p.meta.GetDocumentByID(ctx, job.DocumentID)
	if errors.Is(err, document.ErrNotFound) {
		// Deleted while queued.
		p.finishJob(ctx, job.ID, logger)
		return
	}
	if err != nil {
		logger.Warn("loading document failed", zap.Error(err))
		return
	}

	if doc.Status.Terminal(doc.AttemptCount, p.config.MaxAttempts) {
		// Stale job for a document that already reached its final status,
		// either indexed or failed with the attempt budget spent.
		p.finishJob(ctx, job.ID, logger)
		return
	}
	if doc.Status == document.StatusProcessing {
		// A previous holder's lease expired mid-run. Put the document
		// back to pending so the attempt below is counted normally.
		if err := p.meta.ReleaseToPending(ctx, doc.ID, "lease expired mid-processing"); err != nil {
			logger.Warn("reclaiming stuck document failed", zap.Error(err))
			return
		}
		doc.Status = document.StatusPending
	}

	attempt, err := p.meta.MarkProcessing(ctx, doc.ID, doc.Status)
	if err != nil {
		logger.Warn("marking processing failed", zap.Error(err))
		return
	}
	span.SetAttributes(attribute.Int("document.attempt", attempt))
	logger = logger.With(zap.Int("attempt", attempt))
	logger.Info("processing document", zap.String("format", string(doc.Format)))

	stopHeartbeat := p.heartbeat(ctx, job.ID, workerID, logger)
	chunkCount, err := p.pipeline(ctx, doc)
	stopHeartbeat()

	if err == nil {
		if err := p.meta.CompleteDocument(ctx, doc.ID, chunkCount); err != nil {
			logger.Error("recording completion failed", zap.Error(err))
			return
		}
		p.finishJob(ctx, job.ID, logger)
		logger.Info("document completed", zap.Int("chunks", chunkCount))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "pipeline failed")

	if errors.Is(err, document.ErrIsolationViolation) {
		// Cross-partition data surfaced. This is never retried and is
		// logged at error so it pages.
		logger.Error("isolation violation during processing", zap.Error(err))
		p.fail(ctx, doc.ID, job.ID, err, logger)
		return
	}
	if document.Permanent(err) {
		logger.Warn("permanent failure", zap.Error(err))
		p.fail(ctx, doc.ID, job.ID, err, logger)
		return
	}

	// Unknown errors retry like transient ones.
	if attempt >= p.config.MaxAttempts {
		logger.Warn("retries exhausted", zap.Error(err))
		p.fail(ctx, doc.ID, job.ID, err, logger)
		return
	}

	delay := p.backoff(attempt)
	logger.Info("transient failure, will retry",
		zap.Error(err),
		zap.Duration("backoff", delay),
	)
	if err := p.meta.ReleaseToPending(ctx, doc.ID, err.Error()); err != nil {
		logger.Warn("releasing document failed", zap.Error(err))
		return
	}
	if err := p.meta.ReleaseJob(ctx, job.ID, p.now().Add(delay)); err != nil {
		logger.Warn("releasing job failed", zap.Error(err))
	}
}

// pipeline runs extract, chunk, embed, and index for one document and
// returns the number of chunks written.
func (p *Processor) pipeline(ctx context.Context, doc *document.Document) (int, error) {
	ctx, span := tracer.Start(ctx, "processor.pipeline")
	defer span.End()

	rc, err := p.blobs.Open(ctx, doc.ContentPointer)
	if errors.Is(err, blob.ErrNotFound) {
		return 0, fmt.Errorf("%w: stored content is missing: %v", document.ErrPermanent, err)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: opening content: %v", document.ErrTransient, err)
	}
	defer rc.Close()

	text, err := p.registry.Extract(ctx, doc.Format, rc)
	if err != nil {
		return 0, fmt.Errorf("extracting %s: %w", doc.Format, err)
	}

	parts := p.splitter.Split(text)
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: no chunks produced", document.ErrPermanent)
	}

	texts := make([]string, len(parts))
	for i, part := range parts {
		texts[i] = part.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks: %w", len(parts), err)
	}

	modelVersion := p.embedder.ModelVersion()
	chunks := make([]document.Chunk, len(parts))
	points := make([]vectorstore.Point, len(parts))
	for i, part := range parts {
		id := document.ChunkID(doc.ID, part.SequenceIndex)
		chunks[i] = document.Chunk{
			ID:            id,
			DocumentID:    doc.ID,
			OwnerID:       doc.OwnerID,
			SequenceIndex: part.SequenceIndex,
			Text:          part.Text,
			TokenCount:    part.TokenCount,
			Embedding:     vectors[i],
			ModelVersion:  modelVersion,
		}
		points[i] = vectorstore.Point{
			ID:     id,
			Vector: vectors[i],
			Payload: map[string]interface{}{
				vectorstore.PayloadDocumentID:    doc.ID,
				vectorstore.PayloadFilename:      doc.Filename,
				vectorstore.PayloadSequenceIndex: part.SequenceIndex,
				vectorstore.PayloadText:          part.Text,
				vectorstore.PayloadModelVersion:  modelVersion,
			},
		}
	}

	indexed, err := p.meta.ChunkIDsForDocument(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: listing indexed chunks: %v", document.ErrTransient, err)
	}

	ownerCtx := vectorstore.ContextWithOwner(ctx, &vectorstore.Owner{ID: doc.OwnerID})
	if err := p.vectors.Upsert(ownerCtx, points); err != nil {
		return 0, fmt.Errorf("%w: indexing vectors: %v", document.ErrTransient, err)
	}

	previous, err := p.meta.ReplaceChunks(ctx, doc.ID, chunks)
	if err != nil {
		// The metadata side still describes the old chunk set; remove the
		// staged points it does not cover so a failed attempt leaves no
		// orphan vectors.
		p.unstage(ownerCtx, chunks, indexed)
		return 0, fmt.Errorf("%w: replacing chunks: %v", document.ErrTransient, err)
	}

	// A reprocessed document may produce fewer chunks than before; drop
	// points the new set no longer covers.
	current := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		current[c.ID] = true
	}
	var stale []string
	for _, id := range previous {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		// Metadata and the new vectors are already consistent at this point,
		// and search resolves a chunk ID to at most one point. Failing the
		// attempt over leftover points would mark a queryable document failed,
		// so log and move on.
		if err := p.vectors.Delete(ownerCtx, stale); err != nil {
			p.logger.Warn("pruning stale vectors failed",
				zap.String("document_id", doc.ID),
				zap.Int("count", len(stale)),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(attribute.Int("document.chunks", len(chunks)))
	return len(chunks), nil
}

// unstage deletes staged points that are not part of the still-current
// indexed chunk set.
func (p *Processor) unstage(ownerCtx context.Context, staged []document.Chunk, indexed []string) {
	keep := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		keep[id] = true
	}
	var orphans []string
	for _, c := range staged {
		if !keep[c.ID] {
			orphans = append(orphans, c.ID)
		}
	}
	if len(orphans) == 0 {
		return
	}
	if err := p.vectors.Delete(ownerCtx, orphans); err != nil {
		p.logger.Warn("removing staged vectors failed",
			zap.Int("count", len(orphans)),
			zap.Error(err),
		)
	}
}

// heartbeat extends the job lease at half the TTL until the returned stop
// function is called.
func (p *Processor) heartbeat(ctx context.Context, jobID, workerID string, logger *zap.Logger) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(p.config.LeaseTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.meta.ExtendLease(ctx, jobID, workerID, p.config.LeaseTTL); err != nil {
					logger.Warn("extending lease failed", zap.Error(err))
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (p *Processor) fail(ctx context.Context, docID, jobID string, cause error, logger *zap.Logger) {
	if err := p.meta.FailDocument(ctx, docID, cause.Error()); err != nil {
		logger.Error("recording failure failed", zap.Error(err))
		return
	}
	p.finishJob(ctx, jobID, logger)
}

func (p *Processor) finishJob(ctx context.Context, jobID string, logger *zap.Logger) {
	if err := p.meta.CompleteJob(ctx, jobID); err != nil {
		logger.Warn("completing job failed", zap.Error(err))
	}
}

// backoff returns the retry delay after the given attempt number.
func (p *Processor) backoff(attempt int) time.Duration {
	delay := p.config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.config.BackoffMax {
			return p.config.BackoffMax
		}
	}
	if delay > p.config.BackoffMax {
		return p.config.BackoffMax
	}
	return delay
}
