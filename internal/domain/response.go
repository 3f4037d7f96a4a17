package domain

import (
	"context"
	"encoding/json"
)

// StatusOK is the only upstream status code treated as application success.
const StatusOK = 20000

// StatusTaskCreated is reported per task by task_post when a task was queued.
const StatusTaskCreated = 20100

// Response is the upstream's self-reported outcome of a request. A Response
// only exists for a transport-level success; StatusCode tells whether the
// operation itself succeeded.
type Response struct {
	Version       string         `json:"version"`
	StatusCode    int            `json:"status_code"`
	StatusMessage string         `json:"status_message"`
	Time          string         `json:"time"`
	Cost          float64        `json:"cost"`
	TasksCount    int            `json:"tasks_count"`
	TasksError    int            `json:"tasks_error"`
	Tasks         []TaskEnvelope `json:"tasks"`

	// Raw is the response body exactly as received.
	Raw json.RawMessage `json:"-"`
}

// OK reports whether the envelope carries the success status.
func (r *Response) OK() bool { return r != nil && r.StatusCode == StatusOK }

// FirstTask returns the first task envelope, if any.
func (r *Response) FirstTask() (TaskEnvelope, bool) {
	if r == nil || len(r.Tasks) == 0 {
		return TaskEnvelope{}, false
	}
	return r.Tasks[0], true
}

// TaskEnvelope is one element of Response.Tasks. Data echoes the submitted
// parameters; Result is the loosely specified payload and is kept opaque.
type TaskEnvelope struct {
	ID            string          `json:"id"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	Time          string          `json:"time"`
	Cost          float64         `json:"cost"`
	ResultCount   int             `json:"result_count"`
	Path          []string        `json:"path"`
	Data          json.RawMessage `json:"data"`
	Result        json.RawMessage `json:"result"`
}

// Accepted reports whether the task-level status is a success or
// "task created" code.
func (t TaskEnvelope) Accepted() bool {
	return t.StatusCode == StatusOK || t.StatusCode == StatusTaskCreated
}

// APIClient is the capability set handlers are written against.
// Implementations must be safe for concurrent use.
type APIClient interface {
	// Post sends body as a single-element JSON array to path.
	Post(ctx context.Context, path string, body any) (*Response, error)
	// Get issues an idempotent GET for path (which may carry a query string).
	Get(ctx context.Context, path string) (*Response, error)
}
