package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrActionFailed, "action failed").
		WithCause(root).
		WithRetryable(true)

	assert.Equal(t, ErrActionFailed, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[ACTION_FAILED] action failed: root", err.Error())
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrTimeout, "no response within %s", "2s")
	wrapped := fmt.Errorf("send_and_wait: %w", inner)

	assert.Equal(t, ErrTimeout, GetErrorCode(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_IsMatchesSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewError(ErrWorkerStopped, "worker is stopped")
	err := fmt.Errorf("submit: %w", NewError(ErrWorkerStopped, "worker is stopped"))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, NewError(ErrPoolBounds, "worker is stopped"))
}
