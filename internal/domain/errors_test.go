package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Get", ErrToolNotFound, "tool 'foo'")
	want := "Registry.Get: tool 'foo': tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Engine.Run", ErrTaskTimeout, "")
	want := "Engine.Run: task did not become ready in time"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Client.Get", ErrTransport, "dial"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Client.Get", de.Op)
	assert.Equal(t, CodeTransport, de.Code())
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	assert.ErrorIs(t, WrapOp("op", ErrInternal), ErrInternal)
}

func TestAPIError(t *testing.T) {
	err := &APIError{Op: "POST", Path: "/serp/google/organic/task_post", StatusCode: 40501, StatusMessage: "Invalid Field"}

	assert.ErrorIs(t, err, ErrApplication)
	assert.False(t, err.Server())
	assert.Equal(t, 40501, StatusCodeOf(fmt.Errorf("wrap: %w", err)))
	assert.Contains(t, err.Error(), "40501")

	server := &APIError{StatusCode: 50000}
	assert.True(t, server.Server())
	assert.Equal(t, 0, StatusCodeOf(ErrTransport))
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"unknown", fmt.Errorf("some random error"), CodeUnknown},
		{"validation", NewDomainError("Validate", ErrInvalidInput, "priority"), CodeInvalidInput},
		{"transport", fmt.Errorf("get: %w", ErrTransport), CodeTransport},
		{"application", &APIError{StatusCode: 40501}, CodeApplication},
		{"circuit open beats transport", fmt.Errorf("x: %w", ErrCircuitOpen), CodeCircuitOpen},
		{"task failed wrapping api error", fmt.Errorf("%w: %w", ErrTaskFailed, &APIError{StatusCode: 40400}), CodeTaskFailed},
		{"timeout", ErrTaskTimeout, CodeTaskTimeout},
		{"not found", ErrToolNotFound, CodeToolNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryNone, CategoryOf(nil))
	assert.Equal(t, CategoryValidation, CategoryOf(ErrInvalidInput))
	assert.Equal(t, CategoryValidation, CategoryOf(ErrToolNotFound))
	assert.Equal(t, CategoryUpstream, CategoryOf(ErrTransport))
	assert.Equal(t, CategoryUpstream, CategoryOf(&APIError{StatusCode: 40501}))
	assert.Equal(t, CategoryUpstream, CategoryOf(ErrTaskFailed))
	assert.Equal(t, CategoryUpstream, CategoryOf(ErrCircuitOpen))
	assert.Equal(t, CategoryTimeout, CategoryOf(fmt.Errorf("run: %w", ErrTaskTimeout)))
	assert.Equal(t, CategoryInternal, CategoryOf(errors.New("boom")))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrTransport))
	assert.True(t, IsRetryableError(ErrTaskTimeout))
	assert.True(t, IsRetryableError(&APIError{StatusCode: 50301}))
	assert.False(t, IsRetryableError(&APIError{StatusCode: 40501}))
	assert.False(t, IsRetryableError(ErrInvalidInput))
	assert.False(t, IsRetryableError(nil))
}
