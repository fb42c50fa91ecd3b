package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omnidownloader/internal/domain"
	"omnidownloader/internal/infra"
	"omnidownloader/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QCreateJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.Owner,
		job.SourceURL,
		job.Title,
		job.Thumbnail,
		job.SelectedFormat,
		string(job.Status),
		job.Progress,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return unavailable("insert job", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateJob
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable("select job", err)
	}
	return job, nil
}

// Update applies next only when the stored status and progress match expect.
func (r *JobRepositoryPG) Update(ctx context.Context, id string, expect, next domain.JobState, at time.Time) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobState,
		id,
		string(expect.Status),
		expect.Progress,
		string(next.Status),
		next.Progress,
		next.Error,
		at,
	)
	if err != nil {
		return unavailable("update job", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

// ListByOwner returns the owner's jobs ordered by creation time, newest first.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, owner string) ([]domain.Job, error) {
	return r.list(ctx, "list jobs by owner", sqlinline.QListJobsByOwner, owner)
}

// ListStale returns queued or running jobs not updated since before.
func (r *JobRepositoryPG) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, "list stale jobs", sqlinline.QListStaleJobs, before, limit)
}

func (r *JobRepositoryPG) list(ctx context.Context, op, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()
	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	if err := row.Scan(
		&job.ID,
		&job.Owner,
		&job.SourceURL,
		&job.Title,
		&job.Thumbnail,
		&job.SelectedFormat,
		&status,
		&job.Progress,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
