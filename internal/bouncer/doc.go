// Package bouncer implements a distributed debounce primitive for deferred
// jobs.
//
// Every trigger event for an Identity calls Request, which overwrites the
// identity's debounce record with "now + delay" and schedules the job for
// "now + delay + buffer". When a scheduled job fires it calls Admit first.
// Admit rejects the firing while the stored record is still in the future,
// so only the firing that belongs to the last request in a burst gets to do
// work; that firing deletes the record on its way through.
//
// # Coordination
//
// The Debouncer holds no state of its own. All coordination goes through
// the TimestampStore with last-write-wins semantics, so any number of
// Debouncers in any number of processes can share one store. There is no
// locking and no cross-identity ordering.
//
// # Timing constants
//
// This package uses the "small buffer plus skip pre-check" strategy:
//
//   - DefaultBuffer (10ms) is added to every scheduled run time so the job
//     fires strictly after the instant its record encodes.
//   - DefaultSkipBuffer (2s) is the pre-check margin: a request arriving
//     while the stored record plus 2s is already past its own deadline is
//     absorbed without writing or scheduling anything.
//
// Clock skew between producer and worker hosts must stay below the buffer.
//
// # Double admission
//
// With a plain get/set/delete store two firings that both observe an
// expired record can both be admitted. Stores implementing store.Claimer
// close that window: Admit only succeeds if it deletes the exact value it
// read.
//
// # First run
//
// With first-run enabled, FirstRunOrDebounce dispatches the very first
// trigger of an identity immediately and records a permanent "fr:" marker;
// later triggers go through Request as usual.
package bouncer
