package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/tracer"
)

// runFunc performs the upstream work for a validated request.
type runFunc func(ctx context.Context, req domain.RequestEnvelope) (*domain.Response, error)

// Execute is the standard pipeline: validate -> trace -> run -> format.
// Every outcome, including a panic in run, becomes a ToolResult; the error
// return is reserved for the domain.Tool contract and is always nil.
func Execute(
	ctx context.Context,
	def domain.ToolDefinition,
	schema *inputSchema,
	logger *slog.Logger,
	rawParams json.RawMessage,
	run runFunc,
) (result *domain.ToolResult, _ error) {
	invID := domain.InvocationIDFromContext(ctx)
	if invID == "" {
		invID = ulid.Make().String()
		ctx = domain.ContextWithInvocationID(ctx, invID)
	}
	log := logger.With("tool", def.Name, "invocation_id", invID)

	ctx, span := tracer.StartSpan(ctx, "tool."+def.Name, trace.WithAttributes(
		tracer.StringAttr(tracer.AttrTool, def.Name),
		tracer.StringAttr(tracer.AttrToolKind, def.Kind.String()),
		tracer.StringAttr(tracer.AttrInvocationID, invID),
	))
	start := time.Now()

	var runErr error
	defer func() {
		if rec := recover(); rec != nil {
			runErr = domain.NewDomainError("tool."+def.Name, domain.ErrInternal, fmt.Sprintf("panic: %v", rec))
			log.Error("tool handler panicked", "panic", rec, "stack", string(debug.Stack()))
			result = FailureResult(runErr)
		}
		tracer.End(span, runErr)
	}()

	params, err := schema.normalize(rawParams)
	if err != nil {
		runErr = err
		log.Debug("tool parameters rejected", "error", err)
		return FailureResult(err), nil
	}

	resp, err := run(ctx, domain.RequestEnvelope{Tool: def.Name, Params: params})
	if err == nil && resp == nil {
		err = domain.NewDomainError("tool."+def.Name, domain.ErrInternal, "handler returned no response")
	}
	if err != nil {
		runErr = err
		log.Warn("tool failed",
			"error", err,
			"code", domain.ErrorCodeOf(err),
			"duration", time.Since(start),
		)
		return FailureResult(err), nil
	}

	out, err := SuccessResult(resp)
	if err != nil {
		runErr = domain.NewDomainError("tool."+def.Name, domain.ErrInternal, err.Error())
		return FailureResult(runErr), nil
	}
	log.Debug("tool succeeded", "duration", time.Since(start), "bytes", len(out.Content))
	return out, nil
}
