package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"omnidownloader/internal/domain"
)

// MemoryJobStore keeps jobs in process memory. Records are copied on the way
// in and out so callers never share state with the store.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*domain.Job)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrDuplicateJob
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryJobStore) Update(ctx context.Context, id string, expect, next domain.JobState, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != expect.Status || job.Progress != expect.Progress {
		return domain.ErrConflict
	}
	job.Status = next.Status
	job.Progress = next.Progress
	job.Error = next.Error
	job.UpdatedAt = at
	return nil
}

func (s *MemoryJobStore) ListByOwner(ctx context.Context, owner string) ([]domain.Job, error) {
	return s.filter(ctx, 0, func(j *domain.Job) bool { return j.Owner == owner }, func(a, b domain.Job) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func (s *MemoryJobStore) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	return s.filter(ctx, limit, func(j *domain.Job) bool {
		return !j.Status.IsTerminal() && j.UpdatedAt.Before(before)
	}, func(a, b domain.Job) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	})
}

func (s *MemoryJobStore) filter(ctx context.Context, limit int, keep func(*domain.Job) bool, less func(a, b domain.Job) bool) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Job, 0)
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, *job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return less(out[i], out[k]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.JobStore = (*MemoryJobStore)(nil)
