package taskflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/logger"
)

// fastConfig keeps tests quick while leaving room for several polls.
func fastConfig() Config {
	return Config{
		PollInterval:    2 * time.Millisecond,
		MaxPollInterval: 4 * time.Millisecond,
		PollBackoff:     1.5,
		Timeout:         500 * time.Millisecond,
		MaxPollFailures: 3,
	}
}

// recorder logs the order in which phases run.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func okResponse(id string) *domain.Response {
	raw := fmt.Sprintf(`{"status_code":20000,"tasks":[{"id":%q,"status_code":20000,"result":[{"items":[]}]}]}`, id)
	return &domain.Response{StatusCode: domain.StatusOK, Raw: json.RawMessage(raw)}
}

// scripted builds handlers whose ready set includes id after notReady polls.
func scripted(rec *recorder, id string, notReady int) Handlers {
	var polls atomic.Int32
	return Handlers{
		Submit: func(ctx context.Context, req domain.RequestEnvelope, _ domain.APIClient) (Ticket, error) {
			rec.add("submit")
			return Ticket{ID: id, Tag: "t"}, nil
		},
		CheckReady: func(ctx context.Context, _ domain.APIClient) (ReadySet, error) {
			rec.add("poll")
			if int(polls.Add(1)) > notReady {
				return NewReadySet("other", id), nil
			}
			return NewReadySet("other"), nil
		},
		Fetch: func(ctx context.Context, got string, _ domain.APIClient) (*domain.Response, error) {
			rec.add("fetch:" + got)
			return okResponse(got), nil
		},
	}
}

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, nil, logger.Nop())
}

func envelope() domain.RequestEnvelope {
	return domain.RequestEnvelope{Tool: "serp_google_organic_task", Params: map[string]any{"keyword": "coffee"}}
}

func TestRunSubmitPollFetchOrder(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(fastConfig())

	res, err := e.Run(context.Background(), scripted(rec, "task-1", 3), envelope())
	require.NoError(t, err)

	assert.Equal(t, []string{"submit", "poll", "poll", "poll", "poll", "fetch:task-1"}, rec.snapshot())
	assert.Equal(t, 4, res.Polls)
	assert.Equal(t, domain.TaskFetched, res.Record.State)
	assert.Equal(t, "task-1", res.Record.ID)
	assert.Equal(t, "t", res.Record.Tag)
	assert.NotEmpty(t, res.Record.InvocationID)
	assert.JSONEq(t, string(okResponse("task-1").Raw), string(res.Response.Raw))
}

func TestRunTimesOutWithoutFetching(t *testing.T) {
	rec := &recorder{}
	cfg := fastConfig()
	cfg.Timeout = 30 * time.Millisecond
	e := newTestEngine(cfg)

	start := time.Now()
	res, err := e.Run(context.Background(), scripted(rec, "never", 1<<30), envelope())
	require.Error(t, err)

	assert.ErrorIs(t, err, domain.ErrTaskTimeout)
	assert.Equal(t, domain.CategoryTimeout, domain.CategoryOf(err))
	assert.True(t, domain.IsRetryableError(err))
	assert.Equal(t, domain.TaskTimedOut, res.Record.State)
	assert.Nil(t, res.Response)
	assert.Greater(t, res.Polls, 0)
	assert.Less(t, time.Since(start), time.Second)
	for _, ev := range rec.snapshot() {
		assert.NotContains(t, ev, "fetch")
	}
}

func TestRunTimeoutShorterThanInterval(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(Config{PollInterval: time.Second, Timeout: 10 * time.Millisecond})

	res, err := e.Run(context.Background(), scripted(rec, "x", 0), envelope())
	assert.ErrorIs(t, err, domain.ErrTaskTimeout)
	assert.Equal(t, 0, res.Polls)
	assert.Equal(t, []string{"submit"}, rec.snapshot())
}

func TestRunSubmitRejectedSkipsPolling(t *testing.T) {
	var polls atomic.Int32
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{}, &domain.APIError{Op: "POST", Path: "/serp/google/organic/task_post", StatusCode: 40501, StatusMessage: "Invalid Field"}
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			polls.Add(1)
			return nil, nil
		},
		Fetch: func(context.Context, string, domain.APIClient) (*domain.Response, error) {
			t.Fatal("fetch must not run")
			return nil, nil
		},
	}

	res, err := newTestEngine(fastConfig()).Run(context.Background(), h, envelope())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrApplication)
	assert.Equal(t, 40501, domain.StatusCodeOf(err))
	assert.Equal(t, domain.CategoryUpstream, domain.CategoryOf(err))
	assert.Equal(t, domain.TaskFailed, res.Record.State)
	assert.Zero(t, polls.Load())
}

func TestRunEmptyTaskID(t *testing.T) {
	rec := &recorder{}
	h := scripted(rec, "", 0)

	res, err := newTestEngine(fastConfig()).Run(context.Background(), h, envelope())
	assert.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.Equal(t, domain.TaskFailed, res.Record.State)
	assert.Equal(t, []string{"submit"}, rec.snapshot())
}

func TestRunRequiresExactIDMatch(t *testing.T) {
	var fetched atomic.Bool
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{ID: "abc"}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			return NewReadySet("abcd", "xabc", "ab", "ABC"), nil
		},
		Fetch: func(context.Context, string, domain.APIClient) (*domain.Response, error) {
			fetched.Store(true)
			return nil, nil
		},
	}
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond

	_, err := newTestEngine(cfg).Run(context.Background(), h, envelope())
	assert.ErrorIs(t, err, domain.ErrTaskTimeout)
	assert.False(t, fetched.Load())
}

func TestRunToleratesTransientPollFailures(t *testing.T) {
	var polls atomic.Int32
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{ID: "id-1"}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			switch polls.Add(1) {
			case 1:
				return nil, fmt.Errorf("%w: connection reset", domain.ErrTransport)
			case 2:
				return nil, &domain.APIError{StatusCode: 50000, StatusMessage: "Internal Error."}
			case 3:
				// Success resets the failure streak.
				return NewReadySet(), nil
			case 4, 5:
				return nil, fmt.Errorf("%w: timeout", domain.ErrTransport)
			default:
				return NewReadySet("id-1"), nil
			}
		},
		Fetch: func(_ context.Context, id string, _ domain.APIClient) (*domain.Response, error) {
			return okResponse(id), nil
		},
	}

	res, err := newTestEngine(fastConfig()).Run(context.Background(), h, envelope())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Polls)
	assert.Equal(t, domain.TaskFetched, res.Record.State)
}

func TestRunEscalatesRepeatedPollFailures(t *testing.T) {
	var polls, fetches atomic.Int32
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{ID: "id-1"}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			polls.Add(1)
			return nil, fmt.Errorf("%w: dial tcp: connection refused", domain.ErrTransport)
		},
		Fetch: func(context.Context, string, domain.APIClient) (*domain.Response, error) {
			fetches.Add(1)
			return nil, nil
		},
	}

	res, err := newTestEngine(fastConfig()).Run(context.Background(), h, envelope())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, int32(3), polls.Load())
	assert.Zero(t, fetches.Load())
	assert.Equal(t, domain.TaskFailed, res.Record.State)
}

func TestRunClientPollErrorIsTerminal(t *testing.T) {
	var polls atomic.Int32
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{ID: "id-1"}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			polls.Add(1)
			return nil, &domain.APIError{StatusCode: 40100, StatusMessage: "not authorized"}
		},
		Fetch: func(context.Context, string, domain.APIClient) (*domain.Response, error) {
			return nil, nil
		},
	}

	_, err := newTestEngine(fastConfig()).Run(context.Background(), h, envelope())
	assert.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.Equal(t, 40100, domain.StatusCodeOf(err))
	assert.Equal(t, int32(1), polls.Load())
}

func TestRunFetchFailureIsNotRetried(t *testing.T) {
	var fetches atomic.Int32
	var sawNoRetry atomic.Bool
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{ID: "id-1"}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			return NewReadySet("id-1"), nil
		},
		Fetch: func(ctx context.Context, _ string, _ domain.APIClient) (*domain.Response, error) {
			fetches.Add(1)
			sawNoRetry.Store(domain.NoRetry(ctx))
			return nil, fmt.Errorf("%w: connection reset by peer", domain.ErrTransport)
		},
	}

	res, err := newTestEngine(fastConfig()).Run(context.Background(), h, envelope())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.Equal(t, domain.CodeTaskFailed, domain.ErrorCodeOf(err))
	assert.Equal(t, int32(1), fetches.Load())
	assert.True(t, sawNoRetry.Load())
	assert.Equal(t, domain.TaskFailed, res.Record.State)
}

func TestRunCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Handlers{
		Submit: func(context.Context, domain.RequestEnvelope, domain.APIClient) (Ticket, error) {
			return Ticket{ID: "id-1"}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			cancel()
			return NewReadySet(), nil
		},
		Fetch: func(context.Context, string, domain.APIClient) (*domain.Response, error) {
			return nil, nil
		},
	}

	res, err := newTestEngine(fastConfig()).Run(ctx, h, envelope())
	assert.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.TaskFailed, res.Record.State)
}

func TestRunMissingHandlers(t *testing.T) {
	_, err := newTestEngine(fastConfig()).Run(context.Background(), Handlers{}, envelope())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunKeepsInvocationIDFromContext(t *testing.T) {
	rec := &recorder{}
	ctx := domain.ContextWithInvocationID(context.Background(), "01JTESTINVOCATION")

	res, err := newTestEngine(fastConfig()).Run(ctx, scripted(rec, "id", 0), envelope())
	require.NoError(t, err)
	assert.Equal(t, "01JTESTINVOCATION", res.Record.InvocationID)
}

func TestConcurrentInvocationsAreIsolated(t *testing.T) {
	const n = 16
	e := newTestEngine(fastConfig())

	// One shared upstream: a task becomes ready 5ms after it was submitted.
	var mu sync.Mutex
	submitted := map[string]time.Time{}
	var seq atomic.Int32
	h := Handlers{
		Submit: func(_ context.Context, req domain.RequestEnvelope, _ domain.APIClient) (Ticket, error) {
			id := fmt.Sprintf("task-%02d-%s", seq.Add(1), req.String("keyword"))
			mu.Lock()
			submitted[id] = time.Now()
			mu.Unlock()
			return Ticket{ID: id}, nil
		},
		CheckReady: func(context.Context, domain.APIClient) (ReadySet, error) {
			mu.Lock()
			defer mu.Unlock()
			set := NewReadySet()
			for id, at := range submitted {
				if time.Since(at) > 5*time.Millisecond {
					set[id] = struct{}{}
				}
			}
			return set, nil
		},
		Fetch: func(_ context.Context, id string, _ domain.APIClient) (*domain.Response, error) {
			return okResponse(id), nil
		},
	}

	results := make([]*Result, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			req := domain.RequestEnvelope{Tool: "serp_google_organic_task", Params: map[string]any{"keyword": fmt.Sprintf("kw%d", i)}}
			res, err := e.Run(ctx, h, req)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	ids := map[string]bool{}
	invocations := map[string]bool{}
	for i, res := range results {
		require.NotNil(t, res.Response)
		assert.Contains(t, res.Record.ID, fmt.Sprintf("-kw%d", i))
		assert.Contains(t, string(res.Response.Raw), res.Record.ID)
		ids[res.Record.ID] = true
		invocations[res.Record.InvocationID] = true
	}
	assert.Len(t, ids, n)
	assert.Len(t, invocations, n)
}

func TestConfigBackoff(t *testing.T) {
	c := Config{PollInterval: 10 * time.Millisecond, MaxPollInterval: 30 * time.Millisecond, PollBackoff: 2}.withDefaults()
	assert.Equal(t, 20*time.Millisecond, c.next(10*time.Millisecond))
	assert.Equal(t, 30*time.Millisecond, c.next(20*time.Millisecond))
	assert.Equal(t, 30*time.Millisecond, c.next(30*time.Millisecond))

	fixed := Config{PollInterval: time.Second}.withDefaults()
	assert.Equal(t, time.Second, fixed.next(time.Second))
	assert.Equal(t, 3*time.Minute, fixed.Timeout)
	assert.Equal(t, 1, fixed.MaxPollFailures)
}

func TestReadySet(t *testing.T) {
	s := NewReadySet("a", "b")
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
	var empty ReadySet
	assert.False(t, empty.Has("a"))
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(domain.ErrTransport))
	assert.True(t, transient(domain.ErrCircuitOpen))
	assert.True(t, transient(&domain.APIError{StatusCode: 50401}))
	assert.False(t, transient(&domain.APIError{StatusCode: 40400}))
	assert.False(t, transient(errors.New("boom")))
}
