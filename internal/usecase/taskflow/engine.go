// Package taskflow drives asynchronous upstream tasks through
// submit, poll and fetch on behalf of a single tool invocation.
package taskflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/config"
	"serp-mcp/internal/infra/tracer"
)

// Ticket is what a successful submit yields.
type Ticket struct {
	ID  string
	Tag string
}

// ReadySet holds the ids reported ready by one poll.
type ReadySet map[string]struct{}

// NewReadySet builds a ReadySet from ids.
func NewReadySet(ids ...string) ReadySet {
	s := make(ReadySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports exact membership of id. Prefixes and partial matches never count.
func (s ReadySet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// SubmitFunc creates the upstream task.
type SubmitFunc func(ctx context.Context, req domain.RequestEnvelope, client domain.APIClient) (Ticket, error)

// CheckReadyFunc lists tasks that are ready to fetch.
type CheckReadyFunc func(ctx context.Context, client domain.APIClient) (ReadySet, error)

// FetchFunc retrieves a completed task's result.
type FetchFunc func(ctx context.Context, id string, client domain.APIClient) (*domain.Response, error)

// Handlers bundles the three phases of one task kind.
type Handlers struct {
	Submit     SubmitFunc
	CheckReady CheckReadyFunc
	Fetch      FetchFunc
}

func (h Handlers) validate() error {
	if h.Submit == nil || h.CheckReady == nil || h.Fetch == nil {
		return domain.NewDomainError("taskflow.Handlers", domain.ErrInvalidInput, "submit, checkReady and fetch are all required")
	}
	return nil
}

// Config bounds the polling phase.
type Config struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	PollBackoff     float64
	Timeout         time.Duration
	MaxPollFailures int
}

// ConfigFrom converts the loaded tasks section.
func ConfigFrom(c config.TasksConfig) Config {
	return Config{
		PollInterval:    c.PollInterval,
		MaxPollInterval: c.MaxPollInterval,
		PollBackoff:     c.PollBackoff,
		Timeout:         c.Timeout,
		MaxPollFailures: c.MaxPollFailures,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Minute
	}
	if c.PollBackoff < 1 {
		c.PollBackoff = 1
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	if c.MaxPollFailures < 1 {
		c.MaxPollFailures = 1
	}
	return c
}

// next returns the wait before the poll following one that waited cur.
func (c Config) next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * c.PollBackoff)
	if n > c.MaxPollInterval {
		return c.MaxPollInterval
	}
	return n
}

// Result describes how an invocation ended. It is returned even on failure.
type Result struct {
	Response *domain.Response
	Record   domain.TaskRecord
	Polls    int
}

// Engine runs task invocations. It keeps no per-invocation state, so one
// Engine serves any number of concurrent Run calls.
type Engine struct {
	cfg    Config
	client domain.APIClient
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine bound to client.
func NewEngine(cfg Config, client domain.APIClient, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Run submits req, polls until the task is ready or the timeout elapses, then
// fetches the result exactly once.
func (e *Engine) Run(ctx context.Context, h Handlers, req domain.RequestEnvelope) (*Result, error) {
	res := &Result{}
	if err := h.validate(); err != nil {
		return res, err
	}

	invID := domain.InvocationIDFromContext(ctx)
	if invID == "" {
		invID = ulid.Make().String()
		ctx = domain.ContextWithInvocationID(ctx, invID)
	}
	res.Record.InvocationID = invID
	log := e.logger.With("tool", req.Tool, "invocation_id", invID)

	ctx, span := tracer.StartSpan(ctx, "taskflow.run", trace.WithAttributes(
		tracer.StringAttr(tracer.AttrTool, req.Tool),
		tracer.StringAttr(tracer.AttrInvocationID, invID),
	))
	var err error
	defer func() {
		span.SetAttributes(
			tracer.StringAttr(tracer.AttrTaskState, res.Record.State.String()),
			tracer.IntAttr(tracer.AttrPollAttempt, res.Polls),
		)
		tracer.End(span, err)
	}()

	if err = e.submit(ctx, h, req, res); err != nil {
		log.Warn("task submit failed", "error", err)
		return res, err
	}
	span.SetAttributes(tracer.StringAttr(tracer.AttrTaskID, res.Record.ID))
	log = log.With("task_id", res.Record.ID)
	log.Debug("task submitted", "tag", res.Record.Tag)

	if err = e.poll(ctx, h, res, log); err != nil {
		return res, err
	}

	err = e.fetch(ctx, h, res)
	if err != nil {
		log.Warn("task fetch failed", "error", err)
		return res, err
	}
	log.Info("task completed",
		"polls", res.Polls,
		"elapsed", e.now().Sub(res.Record.SubmittedAt),
	)
	return res, nil
}

func (e *Engine) submit(ctx context.Context, h Handlers, req domain.RequestEnvelope, res *Result) (err error) {
	ctx, span := tracer.StartSpan(ctx, "taskflow.submit")
	defer func() { tracer.End(span, err) }()

	ticket, err := h.Submit(ctx, req, e.client)
	if err != nil {
		_ = res.Record.Transition(domain.TaskFailed)
		return err
	}
	if err := res.Record.Assign(ticket.ID, ticket.Tag, e.now()); err != nil {
		_ = res.Record.Transition(domain.TaskFailed)
		return err
	}
	return nil
}

// poll waits for the task id to appear in a ready set. The deadline counts
// from submission, not from the first poll.
func (e *Engine) poll(ctx context.Context, h Handlers, res *Result, log *slog.Logger) (err error) {
	rec := &res.Record
	if err := rec.Transition(domain.TaskPolling); err != nil {
		return err
	}

	pollCtx, cancel := context.WithDeadline(ctx, rec.SubmittedAt.Add(e.cfg.Timeout))
	defer cancel()

	pollCtx, span := tracer.StartSpan(pollCtx, "taskflow.poll")
	defer func() { tracer.End(span, err) }()

	wait := e.cfg.PollInterval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-pollCtx.Done():
			return e.stopPolling(ctx, res, log)
		case <-timer.C:
		}

		res.Polls++
		ready, pollErr := h.CheckReady(pollCtx, e.client)
		switch {
		case pollErr == nil:
			failures = 0
			if ready.Has(rec.ID) {
				span.SetAttributes(tracer.IntAttr(tracer.AttrPollAttempt, res.Polls))
				return rec.Transition(domain.TaskReady)
			}
		case pollCtx.Err() != nil:
			// The deadline interrupted the request; report it as such below.
		case transient(pollErr):
			failures++
			log.Debug("transient poll failure",
				"attempt", res.Polls,
				"consecutive_failures", failures,
				"error", pollErr,
			)
			if failures >= e.cfg.MaxPollFailures {
				_ = rec.Transition(domain.TaskFailed)
				return fmt.Errorf("%w: polling %s: %d consecutive failures: %w",
					domain.ErrTaskFailed, rec.ID, failures, pollErr)
			}
		default:
			_ = rec.Transition(domain.TaskFailed)
			return fmt.Errorf("%w: polling %s: %w", domain.ErrTaskFailed, rec.ID, pollErr)
		}

		wait = e.cfg.next(wait)
		timer.Reset(wait)
	}
}

// stopPolling decides between timeout and caller cancellation once the
// polling context is done. ctx is the caller's context.
func (e *Engine) stopPolling(ctx context.Context, res *Result, log *slog.Logger) error {
	rec := &res.Record
	if errors.Is(ctx.Err(), context.Canceled) {
		_ = rec.Transition(domain.TaskFailed)
		log.Info("task abandoned by caller", "polls", res.Polls)
		return fmt.Errorf("%w: %s: %w", domain.ErrTaskFailed, rec.ID, context.Canceled)
	}
	_ = rec.Transition(domain.TaskTimedOut)
	log.Warn("task timed out",
		"polls", res.Polls,
		"timeout", e.cfg.Timeout,
	)
	return domain.NewDomainError("taskflow.poll", domain.ErrTaskTimeout,
		fmt.Sprintf("task %s not ready after %d polls", rec.ID, res.Polls))
}

func (e *Engine) fetch(ctx context.Context, h Handlers, res *Result) (err error) {
	ctx, span := tracer.StartSpan(domain.WithNoRetry(ctx), "taskflow.fetch")
	defer func() { tracer.End(span, err) }()

	resp, err := h.Fetch(ctx, res.Record.ID, e.client)
	if err != nil {
		_ = res.Record.Transition(domain.TaskFailed)
		if !errors.Is(err, domain.ErrTaskFailed) {
			err = fmt.Errorf("%w: fetching %s: %w", domain.ErrTaskFailed, res.Record.ID, err)
		}
		return err
	}
	res.Response = resp
	return res.Record.Transition(domain.TaskFetched)
}

// transient reports whether a poll failure may clear up on the next poll.
func transient(err error) bool {
	var ae *domain.APIError
	if errors.As(err, &ae) {
		return ae.Server()
	}
	return errors.Is(err, domain.ErrTransport)
}
