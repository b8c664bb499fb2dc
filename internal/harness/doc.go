// Package harness replays debounce scenarios against a real Debouncer.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: two_requests
//	description: "Two requests collapse into one execution"
//	config:
//	  delay: 60s
//	  skip_check: true
//	steps:
//	  - at: 100
//	    request: { topic: Foo, params: [1, 2] }
//	    expect: scheduled
//	  - at: 105
//	    request: { topic: Foo, params: [1, 2] }
//	  - at: 200
//	    advance: true
//	assertions:
//	  - type: admitted_count
//	    count: 1
//	  - type: record
//	    topic: Foo
//	    params: [1, 2]
//	    absent: true
//
// Every step sets the clock to `at` (epoch seconds) and performs one
// action: request, first_run, admit, or advance. Advance fires every
// scheduled job whose run time is not after `at`, one run time at a time,
// with the clock set to that run time.
//
// # Assertion Types
//
//   - admitted_count: number of admissions, optionally for one identity
//   - record: the stored debounce record for an identity, or its absence
//   - pending_jobs: number of jobs still waiting to fire
//   - first_run_marker: whether an identity has its first-run marker
//   - trace_count: number of trace events of a type and decision
//
// # Deterministic Testing
//
// Each scenario runs on a fresh in-memory SQLite store with a fake clock
// and sequential job IDs (job-1, job-2, ...), so the trace is identical
// across runs and can be compared against golden files.
package harness
