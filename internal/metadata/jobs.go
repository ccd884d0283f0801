package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

// ErrNoJob indicates no job is ready for acquisition.
var ErrNoJob = errors.New("no job available")

// EnqueueJob creates a processing job for the document. One job exists per
// document; re-enqueueing an already queued document is a no-op.
func (s *Store) EnqueueJob(ctx context.Context, documentID string, notBefore time.Time) (*document.Job, error) {
	now := s.now().UTC()
	if notBefore.IsZero() {
		notBefore = now
	}
	job := &document.Job{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		NotBefore:  notBefore.UTC(),
		EnqueuedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, document_id, lease_owner, lease_expiry, not_before, enqueued_at)
		VALUES (?, ?, '', 0, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET not_before = excluded.not_before`,
		job.ID, job.DocumentID, toMillis(job.NotBefore), toMillis(job.EnqueuedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}
	return job, nil
}

// AcquireJob leases the oldest ready job for workerID. A job is ready when
// its not_before has passed and no live lease covers it; an expired lease
// counts as dead, which is how crashed workers' jobs get reclaimed. The
// conditional update is the mutual exclusion: of several workers racing for
// the same row, exactly one sees RowsAffected == 1.
func (s *Store) AcquireJob(ctx context.Context, workerID string, leaseTTL time.Duration) (*document.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	now := s.now().UTC()
	expiry := now.Add(leaseTTL)

	for {
		var job document.Job
		var leaseExpiry, notBefore, enqueuedAt int64
		row := s.db.QueryRowContext(ctx, `
			SELECT id, document_id, lease_owner, lease_expiry, not_before, enqueued_at
			FROM jobs
			WHERE not_before <= ? AND lease_expiry <= ?
			ORDER BY enqueued_at
			LIMIT 1`,
			now.UnixMilli(), now.UnixMilli(),
		)
		err := row.Scan(&job.ID, &job.DocumentID, &job.LeaseOwner, &leaseExpiry, &notBefore, &enqueuedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJob
		}
		if err != nil {
			return nil, fmt.Errorf("selecting job: %w", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET lease_owner = ?, lease_expiry = ?
			WHERE id = ? AND lease_expiry <= ?`,
			workerID, expiry.UnixMilli(), job.ID, now.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("leasing job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("checking lease: %w", err)
		}
		if n == 0 {
			// Another worker won the row; try the next candidate.
			continue
		}

		job.LeaseOwner = workerID
		job.LeaseExpiry = expiry
		job.NotBefore = millis(notBefore)
		job.EnqueuedAt = millis(enqueuedAt)
		return &job, nil
	}
}

// ExtendLease pushes out the lease expiry for a job the worker still holds.
func (s *Store) ExtendLease(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_expiry = ?
		WHERE id = ? AND lease_owner = ?`,
		s.now().Add(leaseTTL).UnixMilli(), jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("extending lease: %w", err)
	}
	return requireOneRow(res, jobID)
}

// CompleteJob removes a finished job. Used for both success and terminal
// failure; the document row carries the outcome.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return requireOneRow(res, jobID)
}

// ReleaseJob drops the lease and reschedules the job at notBefore, for
// transient failures awaiting backoff.
func (s *Store) ReleaseJob(ctx context.Context, jobID string, notBefore time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_owner = '', lease_expiry = 0, not_before = ?
		WHERE id = ?`,
		toMillis(notBefore.UTC()), jobID,
	)
	if err != nil {
		return fmt.Errorf("releasing job: %w", err)
	}
	return requireOneRow(res, jobID)
}

// QueueDepth returns the number of outstanding jobs.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}
