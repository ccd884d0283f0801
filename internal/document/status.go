package document

import "fmt"

// Status is a document's position in the processing lifecycle.
type Status string

const (
	// StatusPending means the document is stored and queued for processing.
	StatusPending Status = "pending"

	// StatusProcessing means a worker holds the document's job lease.
	StatusProcessing Status = "processing"

	// StatusCompleted means the document's chunks are indexed and queryable.
	StatusCompleted Status = "completed"

	// StatusFailed means processing gave up, either permanently or with
	// attempts exhausted.
	StatusFailed Status = "failed"
)

// transitions enumerates the legal state machine edges. A failed document
// may re-enter processing while attempts remain; processing may fall back
// to pending when a transient failure releases the job.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending},
	StatusFailed:     {StatusProcessing},
	StatusCompleted:  {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether a document in status s with the given attempt
// count has reached its final status. Completed is always terminal. Failed
// is terminal once the attempt budget is spent; the failed -> processing
// edge exists only while attempts remain.
func (s Status) Terminal(attempts, maxAttempts int) bool {
	switch s {
	case StatusCompleted:
		return true
	case StatusFailed:
		return attempts >= maxAttempts
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition if from -> to is not a
// legal edge.
func ValidateTransition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
