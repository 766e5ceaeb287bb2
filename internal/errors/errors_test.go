package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeFollowsWrapping(t *testing.T) {
	assert.Equal(t, "EVENT_FULL", Code(fmt.Errorf("book: %w", ErrEventFull)))
	assert.Equal(t, "ALREADY_BOOKED", Code(ErrAlreadyBooked))
	assert.Equal(t, "CANCEL_FAILED", Code(fmt.Errorf("%w: %w", ErrCancelFailed, ErrNetwork)))
	assert.Equal(t, "NOTIFICATION_NOT_FOUND", Code(fmt.Errorf("mark read: %w", ErrNotificationNotFound)))
	assert.Equal(t, "", Code(errors.New("something else")))
	assert.Equal(t, "", Code(nil))
}

func TestCounterDriftWarning(t *testing.T) {
	cause := errors.New("rpc down")
	w := &CounterDriftWarning{EventID: "e1", Delta: 1, Attempts: 3, Cause: cause}

	assert.ErrorIs(t, w, cause)
	assert.Contains(t, w.Error(), "e1")
	assert.Contains(t, w.Error(), "+1")
	assert.Equal(t, "COUNTER_DRIFT", Code(fmt.Errorf("worker: %w", w)))
}
