// Package fetch defines the contract between the job engine and the adapters
// that actually retrieve remote media, plus the adapters shipped with the service.
package fetch

import (
	"context"
	"errors"
	"strings"

	"omnidownloader/internal/storage"
)

// Task is what an adapter needs to know about a job.
type Task struct {
	JobID     string
	SourceURL string
	Format    string
	Title     string
}

// Outcome is the terminal result an adapter reports for a task.
type Outcome struct {
	Success bool
	Detail  string
}

// Succeeded is the outcome of a finished fetch.
func Succeeded() Outcome { return Outcome{Success: true} }

// Failed builds a failure outcome with a human readable detail.
func Failed(detail string) Outcome {
	return Outcome{Detail: strings.TrimSpace(detail)}
}

// Reporter receives progress and outcome callbacks from adapters.
// Implementations must tolerate late, duplicate and out-of-order calls.
type Reporter interface {
	ReportProgress(ctx context.Context, jobID string, percent int) error
	ReportOutcome(ctx context.Context, jobID string, outcome Outcome) error
}

// Fetcher retrieves the resource behind a task. Start blocks until the fetch
// is done and is expected to report exactly one outcome before returning,
// unless ctx was cancelled: the job then keeps its persisted state.
type Fetcher interface {
	Start(ctx context.Context, task Task, reporter Reporter)
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, task Task, reporter Reporter)

func (f Func) Start(ctx context.Context, task Task, reporter Reporter) { f(ctx, task, reporter) }

// stopped reports whether ctx was cancelled, as opposed to timing out. A
// stopped fetch returns without an outcome.
func stopped(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// outcomeContext returns a context that outlives an expired ctx so a timeout
// can still be recorded.
func outcomeContext(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

// Workspace is the part of the artifact store adapters write into.
type Workspace interface {
	JobDir(jobID string) (string, error)
	Create(ctx context.Context, jobID, name string) (*storage.Writer, error)
}

var _ Workspace = (*storage.FileStore)(nil)

// progressTracker forwards only strictly increasing whole percentages so that
// chatty adapters do not hammer the store.
type progressTracker struct {
	last int
}

func newProgressTracker() *progressTracker { return &progressTracker{last: -1} }

func (p *progressTracker) next(pct float64) (int, bool) {
	v := int(pct)
	if v < 0 {
		v = 0
	}
	if v > 99 {
		// 100 is reserved for the completed outcome.
		v = 99
	}
	if v <= p.last {
		return 0, false
	}
	p.last = v
	return v, true
}
