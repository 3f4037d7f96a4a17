package tool

import (
	"encoding/json"
	"errors"
	"fmt"

	"serp-mcp/internal/domain"
)

// FailureBody is the structured error payload returned to tool callers.
type FailureBody struct {
	Error FailureDetail `json:"error"`
}

// FailureDetail carries the category and code callers branch on, plus a
// human-readable message. Internal error chains are never included.
type FailureDetail struct {
	Category   domain.FailureCategory `json:"category"`
	Code       domain.ErrorCode       `json:"code"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code,omitempty"`
	Retryable  bool                   `json:"retryable"`
}

// FailureResult maps err onto the uniform failure ToolResult.
func FailureResult(err error) *domain.ToolResult {
	detail := classify(err)
	data, mErr := json.Marshal(FailureBody{Error: detail})
	if mErr != nil {
		data = []byte(`{"error":{"category":"internal","code":"INTERNAL","message":"internal error"}}`)
	}
	return &domain.ToolResult{
		Content:     string(data),
		IsError:     true,
		IsRetryable: detail.Retryable,
		Category:    detail.Category,
		Code:        detail.Code,
	}
}

func classify(err error) FailureDetail {
	d := FailureDetail{
		Category:   domain.CategoryOf(err),
		Code:       domain.ErrorCodeOf(err),
		StatusCode: domain.StatusCodeOf(err),
		Retryable:  domain.IsRetryableError(err),
	}
	if d.Code == domain.CodeUnknown {
		d.Code = domain.CodeInternal
	}
	d.Message = failureMessage(err, d)
	return d
}

// failureMessage picks the text shown to the caller for each category.
func failureMessage(err error, d FailureDetail) string {
	var ae *domain.APIError
	hasAPI := errors.As(err, &ae)

	switch d.Category {
	case domain.CategoryValidation:
		var de *domain.DomainError
		if errors.As(err, &de) && de.Detail != "" {
			return de.Detail
		}
		return err.Error()
	case domain.CategoryTimeout:
		return "task did not become ready before the timeout; it may still complete upstream"
	case domain.CategoryUpstream:
		switch {
		case errors.Is(err, domain.ErrCircuitOpen):
			return "upstream temporarily unavailable"
		case errors.Is(err, domain.ErrTaskFailed) && hasAPI:
			return fmt.Sprintf("task failed: upstream status %d: %s", ae.StatusCode, ae.StatusMessage)
		case errors.Is(err, domain.ErrTaskFailed):
			return "task failed"
		case hasAPI:
			return fmt.Sprintf("upstream status %d: %s", ae.StatusCode, ae.StatusMessage)
		default:
			return "upstream request failed"
		}
	default:
		return "internal error"
	}
}

// SuccessResult returns the upstream body verbatim.
func SuccessResult(resp *domain.Response) (*domain.ToolResult, error) {
	if len(resp.Raw) > 0 {
		return &domain.ToolResult{Content: string(resp.Raw)}, nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return &domain.ToolResult{Content: string(data)}, nil
}
