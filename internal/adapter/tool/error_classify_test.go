package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serp-mcp/internal/domain"
)

func TestFailureResultClassification(t *testing.T) {
	upstream := &domain.APIError{Op: "POST", Path: "/serp", StatusCode: 40501, StatusMessage: "Invalid Field."}
	serverSide := &domain.APIError{Op: "GET", Path: "/serp", StatusCode: 50000, StatusMessage: "Internal Error."}

	tests := []struct {
		name      string
		err       error
		category  domain.FailureCategory
		code      domain.ErrorCode
		retryable bool
		message   string
	}{
		{"validation", domain.NewDomainError("tool.validate", domain.ErrInvalidInput, "/depth: too big"),
			domain.CategoryValidation, domain.CodeInvalidInput, false, "/depth: too big"},
		{"application", upstream,
			domain.CategoryUpstream, domain.CodeApplication, false, "upstream status 40501: Invalid Field."},
		{"application server side", serverSide,
			domain.CategoryUpstream, domain.CodeApplication, true, "upstream status 50000"},
		{"transport", fmt.Errorf("dial tcp: refused: %w", domain.ErrTransport),
			domain.CategoryUpstream, domain.CodeTransport, true, "upstream request failed"},
		{"circuit open", domain.ErrCircuitOpen,
			domain.CategoryUpstream, domain.CodeCircuitOpen, true, "temporarily unavailable"},
		{"task failed with status", fmt.Errorf("%w: %w", domain.ErrTaskFailed, upstream),
			domain.CategoryUpstream, domain.CodeTaskFailed, false, "task failed: upstream status 40501"},
		{"task failed", domain.ErrTaskFailed,
			domain.CategoryUpstream, domain.CodeTaskFailed, false, "task failed"},
		{"timeout", domain.NewDomainError("task.poll", domain.ErrTaskTimeout, "abc"),
			domain.CategoryTimeout, domain.CodeTaskTimeout, true, "before the timeout"},
		{"unknown", context.Canceled,
			domain.CategoryInternal, domain.CodeInternal, false, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FailureResult(tt.err)
			d := failureOf(t, res)

			assert.Equal(t, tt.category, d.Category)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.retryable, d.Retryable)
			assert.Contains(t, d.Message, tt.message)

			assert.Equal(t, tt.category, res.Category)
			assert.Equal(t, tt.code, res.Code)
			assert.Equal(t, tt.retryable, res.IsRetryable)
		})
	}
}

func TestFailureResultHidesInternalDetail(t *testing.T) {
	err := fmt.Errorf("read tcp 10.0.0.7:443: secret-host: %w", domain.ErrTransport)
	res := FailureResult(err)
	assert.NotContains(t, res.Content, "10.0.0.7")
	assert.NotContains(t, res.Content, "secret-host")
}

func TestFailureResultCarriesStatusCode(t *testing.T) {
	d := failureOf(t, FailureResult(&domain.APIError{StatusCode: 40400, StatusMessage: "Not Found."}))
	assert.Equal(t, 40400, d.StatusCode)

	d = failureOf(t, FailureResult(domain.ErrTransport))
	assert.Zero(t, d.StatusCode)
}

func TestSuccessResult(t *testing.T) {
	raw := json.RawMessage(`{"status_code":20000,"tasks":[{"id":"1"}]}`)
	res, err := SuccessResult(&domain.Response{StatusCode: 20000, Raw: raw})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, string(raw), res.Content)

	res, err = SuccessResult(&domain.Response{StatusCode: 20000, StatusMessage: "Ok."})
	require.NoError(t, err)
	assert.Contains(t, res.Content, `"status_message":"Ok."`)
}
