package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", i+1, ev.At, ev.Type, ev.Key, ev.Decision)
		}
	}

	return buf.String()
}

// AssertionContext provides store access for state assertions.
type AssertionContext struct {
	Store     *store.Store
	Debouncer *bouncer.Debouncer
	Ctx       context.Context
}

func assertAdmittedCount(result *Result, a Assertion) error {
	got := result.TotalAdmissions()
	scope := "in total"
	if a.Topic != "" {
		key := a.identity().Key()
		got = result.Admissions[key]
		scope = "for " + key
	}
	if got != *a.Count {
		return &AssertionError{
			Type:     AssertAdmittedCount,
			Expected: fmt.Sprintf("%d admissions %s", *a.Count, scope),
			Actual:   fmt.Sprintf("%d admissions", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertRecord(actx *AssertionContext, a Assertion) error {
	st, err := actx.Debouncer.Inspect(actx.Ctx, a.identity())
	if err != nil {
		return err
	}

	switch {
	case a.Absent && st.Present:
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("no record for %s", st.Key),
			Actual:   fmt.Sprintf("record %q", st.Raw),
		}
	case !a.Absent && !st.Present:
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %q for %s", a.Value, st.Key),
			Actual:   "no record",
		}
	case !a.Absent && st.Raw != a.Value:
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %q for %s", a.Value, st.Key),
			Actual:   fmt.Sprintf("record %q", st.Raw),
		}
	}
	return nil
}

func assertPendingJobs(actx *AssertionContext, a Assertion) error {
	n, err := actx.Store.CountJobs(actx.Ctx, store.JobPending)
	if err != nil {
		return err
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertPendingJobs,
			Expected: fmt.Sprintf("%d pending jobs", *a.Count),
			Actual:   fmt.Sprintf("%d pending jobs", n),
		}
	}
	return nil
}

func assertFirstRunMarker(actx *AssertionContext, a Assertion) error {
	st, err := actx.Debouncer.Inspect(actx.Ctx, a.identity())
	if err != nil {
		return err
	}
	if st.FirstRun != *a.Present {
		return &AssertionError{
			Type:     AssertFirstRunMarker,
			Expected: fmt.Sprintf("marker %s present=%t", st.FirstRunKey, *a.Present),
			Actual:   fmt.Sprintf("present=%t", st.FirstRun),
		}
	}
	return nil
}

// assertTraceCount checks how many trace events match the event type and,
// when given, the decision.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == a.Event && (a.Decision == "" || ev.Decision == a.Decision) {
			count++
		}
	}

	if count != *a.Count {
		what := a.Event
		if a.Decision != "" {
			what += " " + a.Decision
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", *a.Count, what),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		needsStore := assertion.Type == AssertRecord ||
			assertion.Type == AssertPendingJobs ||
			assertion.Type == AssertFirstRunMarker
		if needsStore && (actx == nil || actx.Store == nil || actx.Debouncer == nil) {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s requires store context", i, assertion.Type))
			continue
		}

		switch assertion.Type {
		case AssertAdmittedCount:
			err = assertAdmittedCount(result, assertion)
		case AssertRecord:
			err = assertRecord(actx, assertion)
		case AssertPendingJobs:
			err = assertPendingJobs(actx, assertion)
		case AssertFirstRunMarker:
			err = assertFirstRunMarker(actx, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
