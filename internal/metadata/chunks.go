package metadata

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

// ReplaceChunks atomically swaps a document's chunk set inside one
// transaction and returns the ids of the replaced chunks so the caller can
// remove their vectors. Reprocessing a document never leaves a mixed set.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []document.Chunk) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ?`, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing previous chunks: %w", err)
	}
	var previous []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		previous = append(previous, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = ?`, documentID,
	); err != nil {
		return nil, fmt.Errorf("deleting previous chunks: %w", err)
	}

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, owner_id, sequence_index, text, token_count, model_version)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.OwnerID, c.SequenceIndex, c.Text, c.TokenCount, c.ModelVersion,
		); err != nil {
			return nil, fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing chunk replacement: %w", err)
	}
	return previous, nil
}

// ListChunks returns a document's chunks in sequence order.
func (s *Store) ListChunks(ctx context.Context, ownerID, documentID string) ([]document.Chunk, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", document.ErrValidation)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, owner_id, sequence_index, text, token_count, model_version
		FROM chunks WHERE document_id = ? AND owner_id = ?
		ORDER BY sequence_index`,
		documentID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []document.Chunk
	for rows.Next() {
		var c document.Chunk
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.OwnerID, &c.SequenceIndex,
			&c.Text, &c.TokenCount, &c.ModelVersion,
		); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkIDsForDocument returns a document's chunk ids, for vector cleanup on
// delete.
func (s *Store) ChunkIDsForDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY sequence_index`, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ModelVersions returns the distinct embedding model versions present in
// the owner's indexed chunks. Empty means the owner has no indexed content.
func (s *Store) ModelVersions(ctx context.Context, ownerID string) ([]string, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", document.ErrValidation)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT model_version FROM chunks WHERE owner_id = ? ORDER BY model_version`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing model versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning model version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
