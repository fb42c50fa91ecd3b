package domain

import (
	"context"
	"time"
)

// JobStore defines persistence for job records. Implementations must be safe
// for concurrent use and must never expose partially written records.
type JobStore interface {
	// Create inserts a new record. ErrDuplicateJob is returned when the id exists.
	Create(ctx context.Context, job *Job) error
	// Get returns a copy of the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// Update replaces the mutable state of a record only when its current
	// status and progress equal expect. ErrConflict is returned otherwise.
	Update(ctx context.Context, id string, expect JobState, next JobState, at time.Time) error
	// ListByOwner returns the owner's records, most recent first.
	ListByOwner(ctx context.Context, owner string) ([]Job, error)
	// ListStale returns non-terminal records last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Job, error)
}
