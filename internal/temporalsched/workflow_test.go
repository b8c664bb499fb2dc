package temporalsched

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/scheduler"
	"github.com/roach88/bouncer/internal/store"
	"github.com/roach88/bouncer/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(seconds float64) clock.Clock {
	return testutil.NewFakeClockAt(seconds)
}

func newMemoryStore(t *testing.T, seconds float64) *store.Memory {
	t.Helper()
	return store.NewMemory(fixedClock(seconds))
}

type workflowFixture struct {
	env   *testsuite.TestWorkflowEnvironment
	st    *store.Memory
	reg   *scheduler.Registry
	calls []bouncer.Job
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	clk := testutil.NewFakeClockAt(200)
	f := &workflowFixture{
		st:  store.NewMemory(clk),
		reg: scheduler.NewRegistry(),
	}
	d := bouncer.New(f.st, bouncer.SchedulerFunc(func(context.Context, time.Time, bouncer.Job) error { return nil }),
		bouncer.WithClock(clk), bouncer.WithLogger(quietLogger()))

	var ts testsuite.WorkflowTestSuite
	f.env = ts.NewTestWorkflowEnvironment()
	f.env.SetStartTime(time.Unix(100, 0))
	f.env.RegisterWorkflow(DebouncedJob)
	f.env.RegisterActivity(&Activities{Debouncer: d, Registry: f.reg, Logger: quietLogger()})
	return f
}

func TestDebouncedJob_Admitted(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reg.Register("Foo", func(_ context.Context, job bouncer.Job) error {
		f.calls = append(f.calls, job)
		return nil
	})
	require.NoError(t, f.st.Set(context.Background(), "Foo:1,2", "160", 0))

	runAt := time.Unix(160, 10_000_000)
	f.env.ExecuteWorkflow(DebouncedJob, JobParams{ID: "wf-1", Topic: "Foo", Params: []string{"1", "2"}, RunAt: runAt})

	require.True(t, f.env.IsWorkflowCompleted())
	require.NoError(t, f.env.GetWorkflowError())

	var ran bool
	require.NoError(t, f.env.GetWorkflowResult(&ran))
	assert.True(t, ran)
	assert.False(t, f.env.Now().Before(runAt), "the workflow sleeps until the run time")

	require.Len(t, f.calls, 1)
	assert.Equal(t, "wf-1", f.calls[0].ID)
	assert.Equal(t, []string{"1", "2"}, f.calls[0].Identity.Params)

	_, present, err := f.st.Get(context.Background(), "Foo:1,2")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestDebouncedJob_Superseded(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reg.Register("Foo", func(_ context.Context, job bouncer.Job) error {
		f.calls = append(f.calls, job)
		return nil
	})
	require.NoError(t, f.st.Set(context.Background(), "Foo:", "260", 0))

	f.env.ExecuteWorkflow(DebouncedJob, JobParams{ID: "wf-1", Topic: "Foo", RunAt: time.Unix(160, 0)})

	require.True(t, f.env.IsWorkflowCompleted())
	require.NoError(t, f.env.GetWorkflowError())

	var ran bool
	require.NoError(t, f.env.GetWorkflowResult(&ran))
	assert.False(t, ran)
	assert.Empty(t, f.calls)
}

func TestDebouncedJob_NoHandler(t *testing.T) {
	f := newWorkflowFixture(t)

	f.env.ExecuteWorkflow(DebouncedJob, JobParams{ID: "wf-1", Topic: "Unknown", RunAt: time.Unix(100, 0)})

	require.True(t, f.env.IsWorkflowCompleted())
	err := f.env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}

func TestActivities_PerformHandlerError(t *testing.T) {
	clk := testutil.NewFakeClockAt(200)
	reg := scheduler.NewRegistry()
	boom := errors.New("boom")
	reg.Register("Foo", func(context.Context, bouncer.Job) error { return boom })

	acts := &Activities{
		Debouncer: bouncer.New(store.NewMemory(clk), nil, bouncer.WithClock(clk), bouncer.WithLogger(quietLogger())),
		Registry:  reg,
		Logger:    quietLogger(),
	}

	ran, err := acts.Perform(context.Background(), JobParams{ID: "wf-1", Topic: "Foo"})
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}

// failingStore fails every Get with err.
type failingStore struct {
	*store.Memory
	err error
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, s.err
}

func TestActivities_PerformStoreErrorRetry(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		nonRetryable bool
	}{
		{"undefined table", &pgconn.PgError{Code: pgerrcode.UndefinedTable}, true},
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, false},
		{"connection failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, false},
		{"not postgres", errors.New("disk I/O error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := testutil.NewFakeClockAt(200)
			reg := scheduler.NewRegistry()
			reg.Register("Foo", func(context.Context, bouncer.Job) error { return nil })
			st := &failingStore{Memory: store.NewMemory(clk), err: tt.err}

			acts := &Activities{
				Debouncer: bouncer.New(st, nil, bouncer.WithClock(clk), bouncer.WithLogger(quietLogger())),
				Registry:  reg,
				Logger:    quietLogger(),
			}

			ran, err := acts.Perform(context.Background(), JobParams{ID: "wf-1", Topic: "Foo"})
			assert.False(t, ran)
			require.Error(t, err)
			assert.True(t, bouncer.IsStoreError(err))
			assert.ErrorIs(t, err, tt.err)

			var appErr *temporal.ApplicationError
			if tt.nonRetryable {
				require.ErrorAs(t, err, &appErr)
				assert.True(t, appErr.NonRetryable())
				assert.Equal(t, StoreErrorType, appErr.Type())
			} else {
				assert.False(t, errors.As(err, &appErr), "retryable errors pass through unchanged")
			}
		})
	}
}
