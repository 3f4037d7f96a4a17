package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolKind distinguishes tools answered by a single request from tools that
// go through the submit / poll / fetch lifecycle.
type ToolKind int

const (
	KindLive ToolKind = iota
	KindTask
)

func (k ToolKind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind as "live" or "task".
func (k ToolKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *ToolKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "live":
		*k = KindLive
	case "task":
		*k = KindTask
	default:
		return fmt.Errorf("unknown tool kind %q", text)
	}
	return nil
}

// ToolDefinition describes a registered tool. It is immutable once registered.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Kind        ToolKind        `json:"kind"`
}

// RequestEnvelope is the validated, normalized parameter set handed to a
// handler. Keys not declared by the tool's schema have been dropped and numbers
// are kept as json.Number so they reach the upstream unchanged.
type RequestEnvelope struct {
	Tool   string
	Params map[string]any
}

// String returns the named parameter as a string, or "" when absent.
func (r RequestEnvelope) String(name string) string {
	if s, ok := r.Params[name].(string); ok {
		return s
	}
	return ""
}

// ToolResult is the uniform outcome of executing a tool.
type ToolResult struct {
	Content     string          `json:"content"`
	IsError     bool            `json:"is_error"`
	IsRetryable bool            `json:"is_retryable,omitempty"`
	Category    FailureCategory `json:"category,omitempty"`
	Code        ErrorCode       `json:"code,omitempty"`
}

// Tool is the interface every registered tool implements.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup for the protocol surface.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Definitions() []ToolDefinition
}
