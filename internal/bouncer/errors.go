package bouncer

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTopic is returned for an Identity without a topic.
	ErrEmptyTopic = errors.New("identity topic is empty")

	// ErrNegativeDelay is returned when a request asks for a negative delay.
	ErrNegativeDelay = errors.New("debounce delay is negative")
)

// StoreError wraps a TimestampStore failure. Store errors are never masked
// or retried here; they propagate to the caller of Request or Admit.
type StoreError struct {
	// Op is the store operation: "get", "set", "delete" or "compare-and-delete".
	Op string

	// Key is the store key involved.
	Key string

	// Err is the underlying store error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying store error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ScheduleError wraps a Scheduler failure. The debounce record has already
// been written when this is returned.
type ScheduleError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying scheduler error.
func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// IsStoreError returns true if err is or wraps a StoreError.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsScheduleError returns true if err is or wraps a ScheduleError.
func IsScheduleError(err error) bool {
	var se *ScheduleError
	return errors.As(err, &se)
}

func storeErr(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}
