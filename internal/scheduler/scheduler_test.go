package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/store"
	"github.com/roach88/bouncer/internal/testutil"
)

type fixture struct {
	clk   *testutil.FakeClock
	st    *store.Store
	queue *Queue
	deb   *bouncer.Debouncer
	reg   *Registry
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...bouncer.Option) *fixture {
	t.Helper()
	clk := testutil.NewFakeClockAt(100)
	st, err := store.Open(filepath.Join(t.TempDir(), "bouncer.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	queue := NewQueue(st, testutil.NewSequentialIDGenerator("job"))
	base := []bouncer.Option{bouncer.WithClock(clk), bouncer.WithLogger(quietLogger())}
	return &fixture{
		clk:   clk,
		st:    st,
		queue: queue,
		deb:   bouncer.New(st, queue, append(base, opts...)...),
		reg:   NewRegistry(),
	}
}

func (f *fixture) worker(opts ...WorkerOption) *Worker {
	base := []WorkerOption{WithWorkerClock(f.clk), WithWorkerLogger(quietLogger())}
	return NewWorker(f.st, f.deb, f.reg, append(base, opts...)...)
}

func (f *fixture) request(t *testing.T, seconds float64, id bouncer.Identity) {
	t.Helper()
	f.clk.Set(clock.FromSeconds(seconds))
	_, err := f.deb.Request(context.Background(), id)
	require.NoError(t, err)
}

func statuses(t *testing.T, st *store.Store, key string) []store.JobStatus {
	t.Helper()
	jobs, err := st.ListJobs(context.Background(), store.JobFilter{Key: key})
	require.NoError(t, err)
	out := make([]store.JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = j.Status
	}
	return out
}

func TestQueue_ScheduleAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runAt := clock.FromSeconds(160.01)
	err := f.queue.ScheduleAt(ctx, runAt, bouncer.Job{Identity: bouncer.NewIdentity("Foo", 1, 2)})
	require.NoError(t, err)

	jobs, err := f.st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "Foo", job.Topic)
	assert.Equal(t, []string{"1", "2"}, job.Params)
	assert.Equal(t, "Foo:1,2", job.Key)
	assert.True(t, job.RunAt.Equal(runAt))
	assert.Equal(t, store.JobPending, job.Status)
}

func TestQueue_KeepsCallerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.queue.ScheduleAt(ctx, f.clk.Now(), bouncer.Job{ID: "custom", Identity: bouncer.NewIdentity("Foo")})
	require.NoError(t, err)

	jobs, err := f.st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "custom", jobs[0].ID)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Lookup("Foo")
	assert.False(t, ok)

	reg.Register("Foo", func(context.Context, bouncer.Job) error { return nil })
	reg.Register("Bar", func(context.Context, bouncer.Job) error { return nil })
	_, ok = reg.Lookup("Foo")
	assert.True(t, ok)
	assert.Equal(t, []string{"Bar", "Foo"}, reg.Topics())

	boom := errors.New("fallback")
	reg.Fallback(func(context.Context, bouncer.Job) error { return boom })
	fn, ok := reg.Lookup("Baz")
	require.True(t, ok)
	assert.ErrorIs(t, fn(context.Background(), bouncer.Job{}), boom)
}

func TestWorker_BurstRunsHandlerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := bouncer.NewIdentity("Foo", 1, 2)

	var calls []bouncer.Job
	f.reg.Register("Foo", func(_ context.Context, job bouncer.Job) error {
		calls = append(calls, job)
		return nil
	})
	w := f.worker()

	f.request(t, 100, id)
	f.request(t, 105, id)
	f.request(t, 110, id)

	f.clk.Set(clock.FromSeconds(150))
	report, err := w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report, "nothing is due yet")

	f.clk.Set(clock.FromSeconds(160.01))
	report, err = w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claimed: 1, Superseded: 1}, report)
	assert.Empty(t, calls)

	f.clk.Set(clock.FromSeconds(170.01))
	report, err = w.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claimed: 2, Done: 1, Superseded: 1}, report)

	require.Len(t, calls, 1)
	assert.Equal(t, "job-3", calls[0].ID)
	assert.Equal(t, []string{"1", "2"}, calls[0].Identity.Params)
	assert.Equal(t, []store.JobStatus{store.JobSuperseded, store.JobSuperseded, store.JobDone}, statuses(t, f.st, id.Key()))

	_, present, err := f.st.Get(ctx, id.Key())
	require.NoError(t, err)
	assert.False(t, present, "the admitted job cleared the record")
}

func TestWorker_HandlerErrorDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.reg.Register("Bad", func(context.Context, bouncer.Job) error { return errors.New("boom") })
	ran := 0
	f.reg.Register("Good", func(context.Context, bouncer.Job) error { ran++; return nil })

	f.request(t, 100, bouncer.NewIdentity("Bad"))
	f.request(t, 100, bouncer.NewIdentity("Good"))

	f.clk.Set(clock.FromSeconds(200))
	report, err := f.worker().RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claimed: 2, Done: 1, Failed: 1}, report)
	assert.Equal(t, 1, ran)

	jobs, err := f.st.ListJobs(ctx, store.JobFilter{Status: store.JobFailed})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Bad", jobs[0].Topic)
	assert.Contains(t, jobs[0].LastError, "boom")
}

func TestWorker_NoHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := bouncer.NewIdentity("Orphan")

	f.request(t, 100, id)
	f.clk.Set(clock.FromSeconds(200))

	report, err := f.worker().RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claimed: 1, Failed: 1}, report)

	jobs, err := f.st.ListJobs(ctx, store.JobFilter{Key: id.Key()})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].LastError, "no handler")

	_, present, err := f.st.Get(ctx, id.Key())
	require.NoError(t, err)
	assert.True(t, present, "an unhandled job does not consume the admission")
}

func TestWorker_Fallback(t *testing.T) {
	f := newFixture(t)
	var topics []string
	f.reg.Fallback(func(_ context.Context, job bouncer.Job) error {
		topics = append(topics, job.Identity.Topic)
		return nil
	})

	f.request(t, 100, bouncer.NewIdentity("A"))
	f.request(t, 101, bouncer.NewIdentity("B"))
	f.clk.Set(clock.FromSeconds(200))

	report, err := f.worker().RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Done)
	assert.Equal(t, []string{"A", "B"}, topics)
}

func TestWorker_DrainsInBatches(t *testing.T) {
	f := newFixture(t)
	f.reg.Fallback(func(context.Context, bouncer.Job) error { return nil })

	for i := 0; i < 5; i++ {
		f.request(t, 100, bouncer.NewIdentity("Foo", i))
	}
	f.clk.Set(clock.FromSeconds(200))

	report, err := f.worker(WithBatchSize(2)).RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Claimed: 5, Done: 5}, report)
}

func TestWorker_FirstRunDispatchesImmediately(t *testing.T) {
	f := newFixture(t, bouncer.WithFirstRun(true))
	ctx := context.Background()
	id := bouncer.NewIdentity("Foo", 1)

	ran := 0
	f.reg.Register("Foo", func(context.Context, bouncer.Job) error { ran++; return nil })

	_, err := f.deb.FirstRunOrDebounce(ctx, id)
	require.NoError(t, err)

	report, err := f.worker().RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Claimed: 1, Done: 1}, report)
	assert.Equal(t, 1, ran)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	done := make(chan struct{})
	f.reg.Register("Foo", func(context.Context, bouncer.Job) error {
		once.Do(func() { close(done) })
		return nil
	})

	f.request(t, 100, bouncer.NewIdentity("Foo"))
	f.clk.Set(clock.FromSeconds(200))

	errCh := make(chan error, 1)
	go func() { errCh <- f.worker(WithPollInterval(5 * time.Millisecond)).Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not run")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestReport_Add(t *testing.T) {
	r := Report{Claimed: 1, Done: 1}
	r.Add(Report{Claimed: 2, Superseded: 1, Failed: 1})
	assert.Equal(t, Report{Claimed: 3, Done: 1, Superseded: 1, Failed: 1}, r)
}

func TestWorker_OnFinish(t *testing.T) {
	f := newFixture(t)
	f.reg.Fallback(func(context.Context, bouncer.Job) error { return nil })

	id := bouncer.NewIdentity("Foo")
	f.request(t, 100, id)
	f.request(t, 103, id)
	f.clk.Set(clock.FromSeconds(200))

	var seen []string
	w := f.worker(WithOnFinish(func(rec store.JobRecord, status store.JobStatus, err error) {
		assert.NoError(t, err)
		seen = append(seen, rec.ID+"="+string(status))
	}))

	_, err := w.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1=superseded", "job-2=done"}, seen)
}

func TestWorker_BacklogCoalescesPerIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ran := map[string]int{}
	f.reg.Fallback(func(_ context.Context, job bouncer.Job) error {
		ran[job.Identity.Key()]++
		return nil
	})

	a := bouncer.NewIdentity("Foo", "a")
	b := bouncer.NewIdentity("Foo", "b")
	f.request(t, 100, a)
	f.request(t, 101, b)
	f.request(t, 105, a)
	f.request(t, 110, a)

	// The worker was down; everything is overdue.
	f.clk.Set(clock.FromSeconds(500))
	report, err := f.worker().RunDue(ctx)
	require.NoError(t, err)

	assert.Equal(t, Report{Claimed: 4, Done: 2, Superseded: 2}, report)
	assert.Equal(t, map[string]int{a.Key(): 1, b.Key(): 1}, ran)
	assert.Equal(t, []store.JobStatus{store.JobSuperseded, store.JobSuperseded, store.JobDone}, statuses(t, f.st, a.Key()))
}
