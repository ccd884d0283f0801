package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

const documentColumns = `id, owner_id, filename, format, size_bytes, content_pointer,
	status, attempt_count, chunk_count, error, created_at, updated_at`

// CreateDocument inserts a new document row in status pending.
func (s *Store) CreateDocument(ctx context.Context, doc *document.Document) error {
	if doc.ID == "" || doc.OwnerID == "" {
		return fmt.Errorf("%w: document id and owner id are required", document.ErrValidation)
	}
	if doc.Status == "" {
		doc.Status = document.StatusPending
	}
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Filename, string(doc.Format), doc.SizeBytes,
		doc.ContentPointer, string(doc.Status), doc.AttemptCount, doc.ChunkCount,
		doc.Error, toMillis(doc.CreatedAt), toMillis(doc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// GetDocument returns the owner's document or document.ErrNotFound. The
// owner id is part of the lookup key, never a post-filter.
func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (*document.Document, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", document.ErrValidation)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	return scanDocument(row)
}

// GetDocumentByID resolves a document without an owner scope. It exists for
// job processing, where the worker acts on behalf of the system; API reads
// go through GetDocument.
func (s *Store) GetDocumentByID(ctx context.Context, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id,
	)
	return scanDocument(row)
}

// ListDocuments returns the owner's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]*document.Document, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", document.ErrValidation)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus moves a document along the state machine with a
// compare-and-set on the current status. Returns ErrInvalidTransition for
// illegal edges and ErrNotFound when the row is absent or the status
// already moved.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, from, to document.Status) error {
	if err := document.ValidateTransition(from, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), s.now().UnixMilli(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireOneRow(res, id)
}

// MarkProcessing transitions pending or failed to processing and counts the
// attempt. The CAS on the prior status makes concurrent workers safe: only
// one wins the row.
func (s *Store) MarkProcessing(ctx context.Context, id string, from document.Status) (int, error) {
	if err := document.ValidateTransition(from, document.StatusProcessing); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, attempt_count = attempt_count + 1, error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(document.StatusProcessing), s.now().UnixMilli(), id, string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("marking processing: %w", err)
	}
	if err := requireOneRow(res, id); err != nil {
		return 0, err
	}

	var attempts int
	row := s.db.QueryRowContext(ctx, `SELECT attempt_count FROM documents WHERE id = ?`, id)
	if err := row.Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading attempt count: %w", err)
	}
	return attempts, nil
}

// CompleteDocument transitions processing to completed and records the
// indexed chunk count.
func (s *Store) CompleteDocument(ctx context.Context, id string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, chunk_count = ?, error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(document.StatusCompleted), chunkCount, s.now().UnixMilli(),
		id, string(document.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("completing document: %w", err)
	}
	return requireOneRow(res, id)
}

// FailDocument transitions processing to failed with a diagnostic message.
func (s *Store) FailDocument(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(document.StatusFailed), message, s.now().UnixMilli(),
		id, string(document.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failing document: %w", err)
	}
	return requireOneRow(res, id)
}

// ReleaseToPending returns a processing document to pending after a
// transient failure, keeping the attempt count and recording the error for
// visibility while the retry waits.
func (s *Store) ReleaseToPending(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(document.StatusPending), message, s.now().UnixMilli(),
		id, string(document.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("releasing document: %w", err)
	}
	return requireOneRow(res, id)
}

// DeleteDocument removes the owner's document row. Chunks and jobs cascade.
// Returns the deleted document so callers can clean up derived state.
func (s *Store) DeleteDocument(ctx context.Context, ownerID, id string) (*document.Document, error) {
	doc, err := s.GetDocument(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND owner_id = ?`, id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("deleting document: %w", err)
	}
	if err := requireOneRow(res, id); err != nil {
		return nil, err
	}
	return doc, nil
}

// OwnerStats summarizes an owner's corpus.
type OwnerStats struct {
	Documents      int            `json:"documents"`
	ByStatus       map[string]int `json:"by_status"`
	Chunks         int            `json:"chunks"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
}

// Stats returns aggregate counts for the owner.
func (s *Store) Stats(ctx context.Context, ownerID string) (*OwnerStats, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", document.ErrValidation)
	}

	stats := &OwnerStats{ByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM documents WHERE owner_id = ? GROUP BY status`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		var size int64
		if err := rows.Scan(&status, &count, &size); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Documents += count
		stats.TotalSizeBytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE owner_id = ?`, ownerID,
	)
	if err := row.Scan(&stats.Chunks); err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var doc document.Document
	var format, status string
	var createdAt, updatedAt int64
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Filename, &format, &doc.SizeBytes,
		&doc.ContentPointer, &status, &doc.AttemptCount, &doc.ChunkCount,
		&doc.Error, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.Format = document.Format(format)
	doc.Status = document.Status(status)
	doc.CreatedAt = millis(createdAt)
	doc.UpdatedAt = millis(updatedAt)
	return &doc, nil
}

// requireOneRow converts a zero-row update into ErrNotFound, which for CAS
// updates also covers "status already moved".
func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return nil
}
