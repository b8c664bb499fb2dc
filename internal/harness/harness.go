package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/scheduler"
	"github.com/roach88/bouncer/internal/store"
	"github.com/roach88/bouncer/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fake clock and sequential job IDs.
type Harness struct {
	store     *store.Store
	debouncer *bouncer.Debouncer
	worker    *scheduler.Worker
	clock     *testutil.FakeClock
	logger    *slog.Logger
	result    *Result
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Returned errors are infrastructure failures; expectation and assertion
// failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	var start float64
	if len(scenario.Steps) > 0 {
		start = scenario.Steps[0].At
	}
	clk := testutil.NewFakeClockAt(start)

	st, err := store.Open(":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &Harness{
		store:  st,
		clock:  clk,
		logger: logger,
		result: NewResult(),
	}

	queue := scheduler.NewQueue(st, testutil.NewSequentialIDGenerator("job"))
	opts := append(scenario.Config.options(), bouncer.WithClock(clk), bouncer.WithLogger(logger))
	h.debouncer = bouncer.New(st, queue, opts...)

	reg := scheduler.NewRegistry()
	reg.Fallback(func(_ context.Context, job bouncer.Job) error {
		h.result.Admissions[job.Identity.Key()]++
		return nil
	})
	h.worker = scheduler.NewWorker(st, h.debouncer, reg,
		scheduler.WithWorkerClock(clk),
		scheduler.WithWorkerLogger(logger),
		scheduler.WithOnFinish(h.recordJob),
	)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Store:     st,
		Debouncer: h.debouncer,
		Ctx:       ctx,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) error {
	at := clock.FromSeconds(step.At)

	if step.Advance {
		return h.advance(ctx, at)
	}
	h.clock.Set(at)

	var event TraceEvent
	switch {
	case step.Request != nil:
		delay := h.debouncer.Delay()
		if step.Request.Delay != nil {
			delay = *step.Request.Delay
		}
		out, err := h.debouncer.RequestAfter(ctx, step.Request.Identity(), delay)
		if err != nil {
			return err
		}
		event = outcomeEvent(EventRequest, step.Request.Identity(), out)

	case step.FirstRun != nil:
		out, err := h.debouncer.FirstRunOrDebounce(ctx, step.FirstRun.Identity())
		if err != nil {
			return err
		}
		event = outcomeEvent(EventFirstRun, step.FirstRun.Identity(), out)

	case step.Admit != nil:
		id := step.Admit.Identity()
		ok, err := h.debouncer.Admit(ctx, id)
		if err != nil {
			return err
		}
		event = TraceEvent{Type: EventAdmit, Key: id.Key(), Decision: "rejected"}
		if ok {
			event.Decision = "admitted"
			h.result.Admissions[id.Key()]++
		}
	}

	event.At = clock.FormatSeconds(at)
	h.result.AddEvent(event)

	if step.Expect != "" && step.Expect != event.Decision {
		h.result.AddError(fmt.Sprintf("steps[%d] (%s %s at %s): expected %s, got %s",
			index, event.Type, event.Key, event.At, step.Expect, event.Decision))
	}

	h.logger.Info("step completed", "step", index, "type", event.Type, "key", event.Key, "decision", event.Decision)
	return nil
}

// advance fires due jobs one run time at a time until the clock reaches until.
func (h *Harness) advance(ctx context.Context, until time.Time) error {
	for {
		next, ok, err := h.store.NextJobAt(ctx)
		if err != nil {
			return err
		}
		if !ok || next.After(until) {
			break
		}
		h.clock.Set(next)
		if _, err := h.worker.RunDue(ctx); err != nil {
			return err
		}
	}
	h.clock.Set(until)
	return nil
}

func (h *Harness) recordJob(rec store.JobRecord, status store.JobStatus, _ error) {
	h.result.AddEvent(TraceEvent{
		At:       clock.FormatSeconds(h.clock.Now()),
		Type:     EventJob,
		Key:      rec.Key,
		Decision: string(status),
		JobID:    rec.ID,
	})
}

func outcomeEvent(typ string, id bouncer.Identity, out bouncer.Outcome) TraceEvent {
	ev := TraceEvent{Type: typ, Key: id.Key(), Decision: out.Decision.String()}
	if !out.FireAt.IsZero() {
		ev.FireAt = clock.FormatSeconds(out.FireAt)
	}
	if !out.RunAt.IsZero() {
		ev.RunAt = clock.FormatSeconds(out.RunAt)
	}
	return ev
}
