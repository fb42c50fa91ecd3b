// Package engine owns the download job lifecycle: it creates jobs, hands them
// to a fetch adapter in the background, applies the adapter's progress and
// outcome reports through the job state machine and answers status queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omnidownloader/internal/domain"
	"omnidownloader/internal/fetch"
)

const (
	defaultConcurrency = 4
	maxUpdateAttempts  = 5
	sweepBatchSize     = 500
	defaultFailDetail  = "fetch failed"
)

// CreateRequest carries the client supplied fields of a new job.
type CreateRequest struct {
	SourceURL      string
	SelectedFormat string
	Owner          string
	Title          string
	Thumbnail      string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds how many fetches run at the same time.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithFetchTimeout bounds a single fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.fetchTimeout = d }
}

// ArtifactRemover deletes whatever a job left in artifact storage.
type ArtifactRemover interface {
	Remove(ctx context.Context, jobID string) error
}

// WithArtifactRemover makes the engine discard the stored files of jobs that
// end up failed.
func WithArtifactRemover(r ArtifactRemover) Option {
	return func(e *Engine) { e.artifacts = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// Engine implements the job lifecycle on top of a JobStore.
type Engine struct {
	store        domain.JobStore
	fetcher      fetch.Fetcher
	logger       zerolog.Logger
	concurrency  int
	fetchTimeout time.Duration
	artifacts    ArtifactRemover
	now          func() time.Time
	newID        func() string

	locks *keyedMutex
	slots chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

var _ fetch.Reporter = (*Engine)(nil)

// New builds an engine. A nil fetcher is allowed for processes that only
// query or sweep jobs; created jobs then stay queued.
func New(store domain.JobStore, fetcher fetch.Fetcher, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		fetcher:     fetcher,
		logger:      logger.With().Str("component", "engine").Logger(),
		concurrency: defaultConcurrency,
		now:         time.Now,
		newID:       uuid.NewString,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.slots = make(chan struct{}, e.concurrency)
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Create validates the request, persists a queued job and starts fetching it
// in the background. It returns the new job id without waiting for the fetch.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (string, error) {
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	req.SelectedFormat = strings.TrimSpace(req.SelectedFormat)
	req.Owner = strings.TrimSpace(req.Owner)
	req.Title = strings.TrimSpace(req.Title)
	req.Thumbnail = strings.TrimSpace(req.Thumbnail)

	if req.SourceURL == "" {
		return "", fmt.Errorf("%w: sourceUrl is required", domain.ErrInvalidRequest)
	}
	if req.SelectedFormat == "" {
		return "", fmt.Errorf("%w: selectedFormat is required", domain.ErrInvalidRequest)
	}
	if !validSourceURL(req.SourceURL) {
		return "", fmt.Errorf("%w: sourceUrl must be an absolute http(s) URL", domain.ErrInvalidRequest)
	}
	if req.Title == "" {
		req.Title = domain.DefaultTitle
	}

	now := e.now().UTC()
	job := &domain.Job{
		Owner:          req.Owner,
		SourceURL:      req.SourceURL,
		Title:          req.Title,
		Thumbnail:      req.Thumbnail,
		SelectedFormat: req.SelectedFormat,
		Status:         domain.JobStatusQueued,
		Progress:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job.ID = e.newID()
		err = e.store.Create(ctx, job)
		if !errors.Is(err, domain.ErrDuplicateJob) {
			break
		}
		e.logger.Warn().Str("job_id", job.ID).Msg("generated job id already taken, retrying")
	}
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		e.logger.Error().Err(err).Str("source_url", job.SourceURL).Msg("create job")
		return "", err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner).
		Str("format", job.SelectedFormat).
		Msg("job queued")

	e.dispatch(fetch.Task{
		JobID:     job.ID,
		SourceURL: job.SourceURL,
		Format:    job.SelectedFormat,
		Title:     job.Title,
	})
	return job.ID, nil
}

// dispatch starts the fetcher for a task on its own goroutine once a slot is
// free. It never blocks the caller.
func (e *Engine) dispatch(task fetch.Task) {
	if e.fetcher == nil {
		e.logger.Warn().Str("job_id", task.JobID).Msg("no fetcher configured, job stays queued")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn().Str("job_id", task.JobID).Msg("engine shutting down, job stays queued")
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		select {
		case e.slots <- struct{}{}:
		case <-e.baseCtx.Done():
			return
		}
		defer func() { <-e.slots }()

		if !e.stillPending(task.JobID) {
			return
		}
		e.run(task)
	}()
}

// stillPending re-reads a job that waited for a slot. Jobs failed by a sweep
// or removed meanwhile are not fetched.
func (e *Engine) stillPending(jobID string) bool {
	log := e.logger.With().Str("job_id", jobID).Logger()
	job, err := e.store.Get(e.baseCtx, jobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("job vanished before fetch, skipping")
		return false
	case err != nil:
		// The adapter's reports go through the store as well; let them decide.
		log.Warn().Err(err).Msg("re-read job before fetch")
		return true
	case job.Status.IsTerminal():
		log.Info().Str("status", job.Status.String()).Msg("job finished before fetch, skipping")
		return false
	}
	return true
}

func (e *Engine) run(task fetch.Task) {
	log := e.logger.With().Str("job_id", task.JobID).Logger()

	ctx := e.baseCtx
	var cancel context.CancelFunc
	if e.fetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fetch adapter panicked")
			detail := fmt.Sprintf("%v: adapter panic: %v", domain.ErrAdapterFailure, r)
			if err := e.ReportOutcome(context.WithoutCancel(ctx), task.JobID, fetch.Failed(detail)); err != nil {
				log.Error().Err(err).Msg("record adapter panic")
			}
		}
	}()

	log.Debug().Msg("fetch started")
	e.fetcher.Start(ctx, task, e)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		detail := fmt.Sprintf("fetch timed out after %s", e.fetchTimeout)
		if err := e.ReportOutcome(context.WithoutCancel(ctx), task.JobID, fetch.Failed(detail)); err != nil {
			log.Error().Err(err).Msg("record fetch timeout")
		}
	}

	// A job failed while its fetch was still writing (e.g. swept) may have
	// gained files after the failure was recorded.
	if job, err := e.store.Get(context.WithoutCancel(ctx), task.JobID); err == nil && job.Status == domain.JobStatusFailed {
		e.discardArtifacts(context.WithoutCancel(ctx), task.JobID)
	}
	log.Debug().Msg("fetch returned")
}

func (e *Engine) discardArtifacts(ctx context.Context, jobID string) {
	if e.artifacts == nil {
		return
	}
	if err := e.artifacts.Remove(ctx, jobID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("discard artifacts of failed job")
	}
}

// ReportProgress records a progress report from an adapter. Out of range or
// decreasing values and reports for finished jobs are ignored.
func (e *Engine) ReportProgress(ctx context.Context, jobID string, percent int) error {
	_, err := e.mutate(ctx, jobID, func(job domain.Job) (domain.JobState, bool) {
		if percent < 0 || percent > 100 {
			return domain.JobState{}, false
		}
		if job.Status.IsTerminal() || percent < job.Progress {
			return domain.JobState{}, false
		}
		if job.Status == domain.JobStatusInProgress && percent == job.Progress {
			return domain.JobState{}, false
		}
		return domain.JobState{Status: domain.JobStatusInProgress, Progress: percent}, true
	})
	return err
}

// ReportOutcome records the terminal result of a fetch. The first terminal
// result wins; later ones are ignored.
func (e *Engine) ReportOutcome(ctx context.Context, jobID string, outcome fetch.Outcome) error {
	applied, err := e.mutate(ctx, jobID, func(job domain.Job) (domain.JobState, bool) {
		if job.Status.IsTerminal() {
			return domain.JobState{}, false
		}
		if outcome.Success {
			return domain.JobState{Status: domain.JobStatusCompleted, Progress: 100}, true
		}
		detail := strings.TrimSpace(outcome.Detail)
		if detail == "" {
			detail = defaultFailDetail
		}
		return domain.JobState{Status: domain.JobStatusFailed, Progress: job.Progress, Error: detail}, true
	})
	if err != nil {
		return err
	}
	if applied && !outcome.Success {
		e.discardArtifacts(ctx, jobID)
	}
	return nil
}

// mutate serializes a read-modify-write of one job. decide returns the next
// state, or false when the report does not change anything. mutate reports
// whether a new state was written.
func (e *Engine) mutate(ctx context.Context, jobID string, decide func(domain.Job) (domain.JobState, bool)) (bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return false, domain.ErrNotFound
	}

	unlock := e.locks.lock(jobID)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, err := e.store.Get(ctx, jobID)
		if err != nil {
			return false, err
		}
		next, ok := decide(*job)
		if !ok {
			return false, nil
		}
		if !domain.CanTransition(job.Status, next.Status) {
			return false, nil
		}

		err = e.store.Update(ctx, jobID, job.State(), next, e.now().UTC())
		if errors.Is(err, domain.ErrConflict) {
			// Another replica changed the record; re-read and decide again.
			continue
		}
		if err != nil {
			return false, err
		}
		e.logTransition(jobID, job.State(), next)
		return true, nil
	}
	return false, fmt.Errorf("update job %s: %w", jobID, domain.ErrConflict)
}

func (e *Engine) logTransition(jobID string, prev, next domain.JobState) {
	if prev.Status == next.Status {
		e.logger.Debug().Str("job_id", jobID).Int("progress", next.Progress).Msg("job progress")
		return
	}
	evt := e.logger.Info()
	if next.Status == domain.JobStatusFailed {
		evt = e.logger.Warn().Str("error", next.Error)
	}
	evt.Str("job_id", jobID).
		Str("from", prev.Status.String()).
		Str("to", next.Status.String()).
		Int("progress", next.Progress).
		Msg("job status changed")
}

// GetStatus returns a snapshot of a job.
func (e *Engine) GetStatus(ctx context.Context, jobID string) (domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.Job{}, domain.ErrNotFound
	}
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	return *job, nil
}

// GetHistory lists an owner's jobs, newest first. Anonymous jobs never show up.
func (e *Engine) GetHistory(ctx context.Context, owner string) ([]domain.Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return []domain.Job{}, nil
	}
	jobs, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return jobs, nil
}

// Sweep fails unfinished jobs that have not changed for staleAfter and
// returns how many were marked.
func (e *Engine) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		return 0, fmt.Errorf("%w: stale threshold must be positive", domain.ErrInvalidRequest)
	}
	cutoff := e.now().UTC().Add(-staleAfter)
	jobs, err := e.store.ListStale(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	detail := fmt.Sprintf("stalled: no progress for %s", staleAfter)
	marked := 0
	for _, candidate := range jobs {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		changed, err := e.mutate(ctx, candidate.ID, func(job domain.Job) (domain.JobState, bool) {
			if job.Status.IsTerminal() || job.UpdatedAt.After(cutoff) {
				return domain.JobState{}, false
			}
			return domain.JobState{Status: domain.JobStatusFailed, Progress: job.Progress, Error: detail}, true
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return marked, err
		}
		if changed {
			marked++
			e.discardArtifacts(ctx, candidate.ID)
		}
	}
	if marked > 0 {
		e.logger.Info().Int("count", marked).Dur("stale_after", staleAfter).Msg("stale jobs failed")
	}
	return marked, nil
}

// Shutdown stops dispatching new fetches and waits for running ones. When ctx
// ends first, running fetches are cancelled and ctx's error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Info().Msg("engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn().Msg("engine shutdown timed out, cancelling running fetches")
		e.cancel()
		return ctx.Err()
	}
}

func validSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
