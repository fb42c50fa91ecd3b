package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"omnidownloader/internal/adapter/repo"
	"omnidownloader/internal/domain"
	"omnidownloader/internal/fetch"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func statusOf(t *testing.T, e *Engine, id string) domain.Job {
	t.Helper()
	job, err := e.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus(%s): %v", id, err)
	}
	return job
}

func newTestEngine(t *testing.T, store domain.JobStore, f fetch.Fetcher, opts ...Option) *Engine {
	t.Helper()
	e := New(store, f, zerolog.Nop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

// failingStore reports every operation as unavailable.
type failingStore struct{ domain.JobStore }

func (failingStore) Create(context.Context, *domain.Job) error {
	return fmt.Errorf("insert: %w", domain.ErrStoreUnavailable)
}

// conflictingStore loses the first n compare-and-set attempts.
type conflictingStore struct {
	*repo.MemoryJobStore
	remaining atomic.Int32
	attempts  atomic.Int32
}

func (s *conflictingStore) Update(ctx context.Context, id string, expect, next domain.JobState, at time.Time) error {
	s.attempts.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return domain.ErrConflict
	}
	return s.MemoryJobStore.Update(ctx, id, expect, next, at)
}

// recordingStore remembers every applied state per job.
type recordingStore struct {
	*repo.MemoryJobStore
	mu      sync.Mutex
	applied []domain.JobState
}

func (s *recordingStore) Update(ctx context.Context, id string, expect, next domain.JobState, at time.Time) error {
	if err := s.MemoryJobStore.Update(ctx, id, expect, next, at); err != nil {
		return err
	}
	s.mu.Lock()
	s.applied = append(s.applied, next)
	s.mu.Unlock()
	return nil
}

func TestCreateAndLifecycleScenario(t *testing.T) {
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
	ctx := context.Background()

	id, err := e.Create(ctx, CreateRequest{SourceURL: "https://x/video", SelectedFormat: "720p", Owner: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job := statusOf(t, e, id)
	if job.Status != domain.JobStatusQueued || job.Progress != 0 {
		t.Fatalf("after create: %s/%d", job.Status, job.Progress)
	}
	if job.Title != domain.DefaultTitle || job.Thumbnail != "" || job.Owner != "u1" || job.SelectedFormat != "720p" {
		t.Fatalf("unexpected defaults: %+v", job)
	}

	if err := e.ReportProgress(ctx, id, 40); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	job = statusOf(t, e, id)
	if job.Status != domain.JobStatusInProgress || job.Progress != 40 {
		t.Fatalf("after progress: %s/%d", job.Status, job.Progress)
	}

	if err := e.ReportOutcome(ctx, id, fetch.Succeeded()); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	job = statusOf(t, e, id)
	if job.Status != domain.JobStatusCompleted || job.Progress != 100 || job.Error != "" {
		t.Fatalf("after outcome: %+v", job)
	}
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"empty url", CreateRequest{SelectedFormat: "720p", Owner: "u1"}},
		{"blank url", CreateRequest{SourceURL: "   ", SelectedFormat: "720p", Owner: "u1"}},
		{"empty format", CreateRequest{SourceURL: "https://x/video", Owner: "u1"}},
		{"relative url", CreateRequest{SourceURL: "/video", SelectedFormat: "720p", Owner: "u1"}},
		{"unsupported scheme", CreateRequest{SourceURL: "ftp://x/video", SelectedFormat: "720p", Owner: "u1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
			_, err := e.Create(context.Background(), tc.req)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
			history, err := e.GetHistory(context.Background(), "u1")
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(history) != 0 {
				t.Fatalf("history = %+v, want empty", history)
			}
		})
	}
}

func TestCreateStoreUnavailableStartsNothing(t *testing.T) {
	var started atomic.Bool
	f := fetch.Func(func(context.Context, fetch.Task, fetch.Reporter) { started.Store(true) })
	e := newTestEngine(t, failingStore{repo.NewMemoryJobStore()}, f)

	_, err := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	time.Sleep(20 * time.Millisecond)
	if started.Load() {
		t.Fatal("fetcher started for a job that was never stored")
	}
}

func TestCreateRetriesDuplicateIDs(t *testing.T) {
	store := repo.NewMemoryJobStore()
	ids := []string{"dup", "dup", "fresh"}
	var n int
	e := newTestEngine(t, store, nil, WithIDGenerator(func() string {
		id := ids[n]
		n++
		return id
	}))

	first, err := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/1", SelectedFormat: "best"})
	if err != nil || first != "dup" {
		t.Fatalf("first Create = %q, %v", first, err)
	}
	second, err := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/2", SelectedFormat: "best"})
	if err != nil || second != "fresh" {
		t.Fatalf("second Create = %q, %v", second, err)
	}
	if got := statusOf(t, e, "dup"); got.SourceURL != "https://x/1" {
		t.Fatalf("first job overwritten: %+v", got)
	}
}

func TestCreateDoesNotWaitForFetch(t *testing.T) {
	release := make(chan struct{})
	f := fetch.Func(func(ctx context.Context, task fetch.Task, r fetch.Reporter) {
		<-release
		_ = r.ReportOutcome(ctx, task.JobID, fetch.Succeeded())
	})
	e := newTestEngine(t, repo.NewMemoryJobStore(), f, WithConcurrency(1))

	done := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			id, err := e.Create(context.Background(), CreateRequest{SourceURL: fmt.Sprintf("https://x/%d", i), SelectedFormat: "best"})
			if err != nil {
				t.Errorf("Create: %v", err)
			}
			done <- id
		}(i)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			ids = append(ids, id)
		case <-time.After(2 * time.Second):
			t.Fatal("Create blocked on a busy fetcher")
		}
	}
	close(release)
	for _, id := range ids {
		id := id
		waitFor(t, func() bool { return statusOf(t, e, id).Status == domain.JobStatusCompleted })
	}
}

func TestReportProgressRules(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
	id, err := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best", Owner: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := e.ReportProgress(ctx, id, 0); err != nil {
		t.Fatalf("start signal: %v", err)
	}
	if got := statusOf(t, e, id); got.Status != domain.JobStatusInProgress || got.Progress != 0 {
		t.Fatalf("after start signal: %s/%d", got.Status, got.Progress)
	}

	steps := []struct {
		percent int
		want    int
	}{
		{30, 30},
		{10, 30},
		{-5, 30},
		{101, 30},
		{30, 30},
		{75, 75},
	}
	for _, s := range steps {
		if err := e.ReportProgress(ctx, id, s.percent); err != nil {
			t.Fatalf("ReportProgress(%d): %v", s.percent, err)
		}
		if got := statusOf(t, e, id).Progress; got != s.want {
			t.Fatalf("after %d progress = %d, want %d", s.percent, got, s.want)
		}
	}

	if err := e.ReportOutcome(ctx, id, fetch.Failed("network error")); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	if err := e.ReportProgress(ctx, id, 90); err != nil {
		t.Fatalf("progress after terminal: %v", err)
	}
	got := statusOf(t, e, id)
	if got.Status != domain.JobStatusFailed || got.Progress != 75 {
		t.Fatalf("terminal job changed: %+v", got)
	}

	if err := e.ReportProgress(ctx, "missing", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown job err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentProgressIsMonotonic(t *testing.T) {
	store := &recordingStore{MemoryJobStore: repo.NewMemoryJobStore()}
	e := newTestEngine(t, store, nil)
	ctx := context.Background()
	id, err := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	values := rand.New(rand.NewSource(7)).Perm(100)
	var wg sync.WaitGroup
	for _, v := range values {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if err := e.ReportProgress(ctx, id, v); err != nil {
				t.Errorf("ReportProgress(%d): %v", v, err)
			}
		}(v)
	}
	wg.Wait()

	if got := statusOf(t, e, id).Progress; got != 99 {
		t.Fatalf("final progress = %d, want max reported 99", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for i := 1; i < len(store.applied); i++ {
		if store.applied[i].Progress < store.applied[i-1].Progress {
			t.Fatalf("stored progress decreased at update %d: %+v", i, store.applied)
		}
	}
	if e.locks.size() != 0 {
		t.Fatalf("lock map leaked %d entries", e.locks.size())
	}
}

func TestFirstOutcomeWins(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
	id, err := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = e.ReportProgress(ctx, id, 20)

	for i := 0; i < 2; i++ {
		if err := e.ReportOutcome(ctx, id, fetch.Failed("network error")); err != nil {
			t.Fatalf("ReportOutcome #%d: %v", i, err)
		}
	}
	first := statusOf(t, e, id)
	if first.Status != domain.JobStatusFailed || first.Error != "network error" || first.Progress != 20 {
		t.Fatalf("after failure: %+v", first)
	}

	if err := e.ReportOutcome(ctx, id, fetch.Succeeded()); err != nil {
		t.Fatalf("late success: %v", err)
	}
	if got := statusOf(t, e, id); got != first {
		t.Fatalf("record changed by late outcome:\n got %+v\nwant %+v", got, first)
	}
}

func TestConcurrentOutcomesSettleOnce(t *testing.T) {
	store := &recordingStore{MemoryJobStore: repo.NewMemoryJobStore()}
	e := newTestEngine(t, store, nil)
	ctx := context.Background()
	id, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := fetch.Succeeded()
			if i%2 == 1 {
				outcome = fetch.Failed("boom")
			}
			_ = e.ReportOutcome(ctx, id, outcome)
		}(i)
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.applied) != 1 || !store.applied[0].Status.IsTerminal() {
		t.Fatalf("applied = %+v, want exactly one terminal update", store.applied)
	}
}

func TestFailureWithoutDetail(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
	id, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})
	if err := e.ReportOutcome(ctx, id, fetch.Outcome{}); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	if got := statusOf(t, e, id); got.Error != defaultFailDetail {
		t.Fatalf("error = %q, want %q", got.Error, defaultFailDetail)
	}
}

func TestOutcomeRetriesOnConflict(t *testing.T) {
	store := &conflictingStore{MemoryJobStore: repo.NewMemoryJobStore()}
	e := newTestEngine(t, store, nil)
	ctx := context.Background()
	id, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})

	store.remaining.Store(2)
	if err := e.ReportOutcome(ctx, id, fetch.Succeeded()); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	if got := store.attempts.Load(); got != 3 {
		t.Fatalf("update attempts = %d, want 3", got)
	}
	if got := statusOf(t, e, id); got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}

	id2, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/w", SelectedFormat: "best"})
	store.remaining.Store(maxUpdateAttempts)
	if err := e.ReportProgress(ctx, id2, 10); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict after exhausting retries", err)
	}
}

func TestGetStatusUnknown(t *testing.T) {
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
	for _, id := range []string{"", "nope", "00000000-0000-0000-0000-000000000000"} {
		job, err := e.GetStatus(context.Background(), id)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetStatus(%q) err = %v, want ErrNotFound", id, err)
		}
		if job != (domain.Job{}) {
			t.Fatalf("GetStatus(%q) returned a record: %+v", id, job)
		}
	}
}

func TestGetStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil)
	id, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})
	_ = e.ReportProgress(ctx, id, 50)

	first := statusOf(t, e, id)
	first.Title = "mutated by caller"
	second := statusOf(t, e, id)
	if second.Title != domain.DefaultTitle {
		t.Fatalf("caller mutation leaked into store: %+v", second)
	}
	if third := statusOf(t, e, id); third != second {
		t.Fatalf("repeated reads differ: %+v vs %+v", third, second)
	}
}

func TestGetHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil, WithClock(clock.Now))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := e.Create(ctx, CreateRequest{SourceURL: fmt.Sprintf("https://x/%d", i), SelectedFormat: "best", Owner: "u1"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
		clock.Advance(time.Minute)
	}
	if _, err := e.Create(ctx, CreateRequest{SourceURL: "https://x/other", SelectedFormat: "best", Owner: "u2"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Create(ctx, CreateRequest{SourceURL: "https://x/anon", SelectedFormat: "best"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	history, err := e.GetHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
	for i, job := range history {
		if job.ID != ids[len(ids)-1-i] {
			t.Fatalf("history[%d] = %s, want %s", i, job.ID, ids[len(ids)-1-i])
		}
		if i > 0 && !history[i-1].CreatedAt.After(job.CreatedAt) {
			t.Fatalf("history not strictly descending at %d", i)
		}
	}

	for _, owner := range []string{"", "  ", "nobody"} {
		got, err := e.GetHistory(ctx, owner)
		if err != nil {
			t.Fatalf("GetHistory(%q): %v", owner, err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("GetHistory(%q) = %#v, want empty slice", owner, got)
		}
	}
}

func TestAdapterRunsToCompletion(t *testing.T) {
	e := newTestEngine(t, repo.NewMemoryJobStore(), fetch.NewSimulated(nil, 20, time.Millisecond, zerolog.Nop()))
	id, err := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/v", SelectedFormat: "720p", Owner: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitFor(t, func() bool { return statusOf(t, e, id).Status == domain.JobStatusCompleted })
	if got := statusOf(t, e, id); got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
}

func TestAdapterPanicIsRecordedAsFailure(t *testing.T) {
	f := fetch.Func(func(ctx context.Context, task fetch.Task, r fetch.Reporter) {
		_ = r.ReportProgress(ctx, task.JobID, 10)
		panic("decoder exploded")
	})
	e := newTestEngine(t, repo.NewMemoryJobStore(), f)
	id, _ := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})

	waitFor(t, func() bool { return statusOf(t, e, id).Status == domain.JobStatusFailed })
	got := statusOf(t, e, id)
	if !strings.Contains(got.Error, "decoder exploded") || got.Progress != 10 {
		t.Fatalf("unexpected failed record: %+v", got)
	}
}

func TestSilentAdapterLeavesJobQueued(t *testing.T) {
	var calls atomic.Int32
	f := fetch.Func(func(context.Context, fetch.Task, fetch.Reporter) { calls.Add(1) })
	e := newTestEngine(t, repo.NewMemoryJobStore(), f)
	id, _ := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})

	waitFor(t, func() bool { return calls.Load() == 1 })
	if got := statusOf(t, e, id); got.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func TestFetchTimeoutFailsJob(t *testing.T) {
	f := fetch.Func(func(ctx context.Context, task fetch.Task, r fetch.Reporter) {
		_ = r.ReportProgress(ctx, task.JobID, 5)
		<-ctx.Done()
	})
	e := newTestEngine(t, repo.NewMemoryJobStore(), f, WithFetchTimeout(20*time.Millisecond))
	id, _ := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/v", SelectedFormat: "best"})

	waitFor(t, func() bool { return statusOf(t, e, id).Status == domain.JobStatusFailed })
	if got := statusOf(t, e, id); !strings.Contains(got.Error, "timed out") {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	f := fetch.Func(func(ctx context.Context, task fetch.Task, r fetch.Reporter) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		_ = r.ReportOutcome(ctx, task.JobID, fetch.Succeeded())
	})
	e := newTestEngine(t, repo.NewMemoryJobStore(), f, WithConcurrency(2))

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := e.Create(context.Background(), CreateRequest{SourceURL: fmt.Sprintf("https://x/%d", i), SelectedFormat: "best"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
	}
	waitFor(t, func() bool { return running.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	close(release)

	for _, id := range ids {
		id := id
		waitFor(t, func() bool { return statusOf(t, e, id).Status == domain.JobStatusCompleted })
	}
	if p := peak.Load(); p != 2 {
		t.Fatalf("peak concurrency = %d, want 2", p)
	}
}

func TestSweepFailsStaleJobs(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil, WithClock(clock.Now))

	stale, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/1", SelectedFormat: "best"})
	_ = e.ReportProgress(ctx, stale, 30)
	done, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/2", SelectedFormat: "best"})
	_ = e.ReportOutcome(ctx, done, fetch.Succeeded())

	clock.Advance(2 * time.Hour)
	fresh, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/3", SelectedFormat: "best"})

	n, err := e.Sweep(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("marked = %d, want 1", n)
	}
	got := statusOf(t, e, stale)
	if got.Status != domain.JobStatusFailed || got.Progress != 30 || got.Error != "stalled: no progress for 1h0m0s" {
		t.Fatalf("stale job = %+v", got)
	}
	if s := statusOf(t, e, done).Status; s != domain.JobStatusCompleted {
		t.Fatalf("completed job touched: %s", s)
	}
	if s := statusOf(t, e, fresh).Status; s != domain.JobStatusQueued {
		t.Fatalf("fresh job touched: %s", s)
	}

	if _, err := e.Sweep(ctx, 0); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("zero threshold err = %v", err)
	}
}

func TestShutdownStopsDispatching(t *testing.T) {
	started := make(chan struct{}, 4)
	f := fetch.Func(func(ctx context.Context, task fetch.Task, r fetch.Reporter) {
		started <- struct{}{}
		<-ctx.Done()
	})
	e := New(repo.NewMemoryJobStore(), f, zerolog.Nop())

	running, _ := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/1", SelectedFormat: "best"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := e.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v, want deadline exceeded", err)
	}

	late, err := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/2", SelectedFormat: "best"})
	if err != nil {
		t.Fatalf("Create after shutdown: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(started) != 0 {
		t.Fatal("fetch dispatched after shutdown")
	}
	for _, id := range []string{running, late} {
		if s := statusOf(t, e, id).Status; s != domain.JobStatusQueued {
			t.Fatalf("job %s status = %s, want queued", id, s)
		}
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdownKeepsStateOfRunningFetch(t *testing.T) {
	e := New(repo.NewMemoryJobStore(), fetch.NewSimulated(nil, 10, 50*time.Millisecond, zerolog.Nop()), zerolog.Nop())

	id, err := e.Create(context.Background(), CreateRequest{SourceURL: "https://x/v", SelectedFormat: "720p", Owner: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitFor(t, func() bool { return statusOf(t, e, id).Status == domain.JobStatusInProgress })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v, want deadline exceeded", err)
	}
	e.wg.Wait()

	got := statusOf(t, e, id)
	if got.Status != domain.JobStatusInProgress || got.Error != "" || got.Progress >= 100 {
		t.Fatalf("after shutdown: %+v, want untouched in_progress record", got)
	}
}

func TestSweptJobWaitingForSlotIsNotFetched(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	release := make(chan struct{})
	var mu sync.Mutex
	started := map[string]int{}
	f := fetch.Func(func(ctx context.Context, task fetch.Task, r fetch.Reporter) {
		mu.Lock()
		started[task.JobID]++
		mu.Unlock()
		<-release
		_ = r.ReportOutcome(ctx, task.JobID, fetch.Succeeded())
	})
	rm := &recordingRemover{}
	e := newTestEngine(t, repo.NewMemoryJobStore(), f,
		WithConcurrency(1), WithClock(clock.Now), WithArtifactRemover(rm))

	first, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/1", SelectedFormat: "best"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started[first] == 1
	})
	second, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/2", SelectedFormat: "best"})

	clock.Advance(2 * time.Hour)
	n, err := e.Sweep(ctx, time.Hour)
	if err != nil || n != 2 {
		t.Fatalf("Sweep = %d, %v; want 2", n, err)
	}

	close(release)
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if started[second] != 0 {
		t.Fatalf("swept job was fetched %d times", started[second])
	}
	for _, id := range []string{first, second} {
		if s := statusOf(t, e, id).Status; s != domain.JobStatusFailed {
			t.Fatalf("job %s status = %s, want failed", id, s)
		}
		if rm.count(id) == 0 {
			t.Fatalf("artifacts of swept job %s not discarded", id)
		}
	}
}

// recordingRemover remembers which jobs had their artifacts discarded.
type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) Remove(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, jobID)
	return nil
}

func (r *recordingRemover) count(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.removed {
		if id == jobID {
			n++
		}
	}
	return n
}

func TestFailedJobsDiscardArtifacts(t *testing.T) {
	ctx := context.Background()
	rm := &recordingRemover{}
	e := newTestEngine(t, repo.NewMemoryJobStore(), nil, WithArtifactRemover(rm))

	ok, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/1", SelectedFormat: "best"})
	bad, _ := e.Create(ctx, CreateRequest{SourceURL: "https://x/2", SelectedFormat: "best"})

	if err := e.ReportOutcome(ctx, ok, fetch.Succeeded()); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	if err := e.ReportOutcome(ctx, bad, fetch.Failed("HTTP 403")); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	// A second terminal report changes nothing and discards nothing.
	if err := e.ReportOutcome(ctx, bad, fetch.Failed("again")); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	if rm.count(ok) != 0 {
		t.Fatal("artifacts of completed job discarded")
	}
	if rm.count(bad) != 1 {
		t.Fatalf("discarded %d times, want 1", rm.count(bad))
	}
}
