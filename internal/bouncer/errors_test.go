package bouncer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("admit: %w", storeErr("get", "Foo:1,2", base))

	assert.True(t, IsStoreError(err))
	assert.False(t, IsScheduleError(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), `store get "Foo:1,2": connection refused`)
}

func TestScheduleError(t *testing.T) {
	base := errors.New("queue full")
	err := &ScheduleError{Key: "Foo:1,2", Err: base}

	assert.True(t, IsScheduleError(err))
	assert.False(t, IsStoreError(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, `schedule "Foo:1,2": queue full`, err.Error())
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "scheduled", Scheduled.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "dispatched", Dispatched.String())
	assert.Equal(t, "decision(0)", Decision(0).String())
}
