package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"omnidownloader/internal/domain"
	"omnidownloader/internal/sqlinline"
)

// JobRepositorySQLite implements domain.JobStore on an embedded SQLite file.
type JobRepositorySQLite struct {
	db *sql.DB
}

func NewSQLiteJobRepository(db *sql.DB) *JobRepositorySQLite {
	return &JobRepositorySQLite{db: db}
}

// EnsureSchema creates the jobs table and its indexes.
func (r *JobRepositorySQLite) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlinline.QSQLiteCreateJobsTable, sqlinline.QSQLiteCreateJobsIndexes} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("create jobs schema", err)
		}
	}
	return nil
}

func (r *JobRepositorySQLite) Create(ctx context.Context, job *domain.Job) error {
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLiteInsertJob,
		job.ID,
		job.Owner,
		job.SourceURL,
		job.Title,
		job.Thumbnail,
		job.SelectedFormat,
		string(job.Status),
		job.Progress,
		job.Error,
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return unavailable("insert job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("insert job", err)
	}
	if n == 0 {
		return domain.ErrDuplicateJob
	}
	return nil
}

func (r *JobRepositorySQLite) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanSQLiteJob(r.db.QueryRowContext(ctx, sqlinline.QSQLiteSelectJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable("select job", err)
	}
	return job, nil
}

func (r *JobRepositorySQLite) Update(ctx context.Context, id string, expect, next domain.JobState, at time.Time) error {
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLiteUpdateJobState,
		string(next.Status),
		next.Progress,
		next.Error,
		at.UnixNano(),
		id,
		string(expect.Status),
		expect.Progress,
	)
	if err != nil {
		return unavailable("update job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update job", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *JobRepositorySQLite) ListByOwner(ctx context.Context, owner string) ([]domain.Job, error) {
	return r.list(ctx, "list jobs by owner", sqlinline.QSQLiteListJobsByOwner, owner)
}

func (r *JobRepositorySQLite) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.list(ctx, "list stale jobs", sqlinline.QSQLiteListStaleJobs, before.UnixNano(), limit)
}

func (r *JobRepositorySQLite) list(ctx context.Context, op, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()
	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

func scanSQLiteJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var createdAt, updatedAt int64
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
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}

var _ domain.JobStore = (*JobRepositorySQLite)(nil)
