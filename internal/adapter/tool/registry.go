// Package tool holds the schema-validated tool registry. Tools are registered
// once at startup and executed concurrently afterwards.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"serp-mcp/internal/domain"
	"serp-mcp/internal/usecase/taskflow"
)

// LiveHandler answers a validated request with a single upstream call.
type LiveHandler func(ctx context.Context, req domain.RequestEnvelope, client domain.APIClient) (*domain.Response, error)

var toolNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Registry holds named tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*schemaTool
	client domain.APIClient
	engine *taskflow.Engine
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Live handlers receive client; task
// tools run through engine.
func NewRegistry(client domain.APIClient, engine *taskflow.Engine, logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*schemaTool),
		client: client,
		engine: engine,
		logger: logger,
	}
}

// RegisterLive adds a tool answered by one request.
func (r *Registry) RegisterLive(name, description string, schema json.RawMessage, h LiveHandler) error {
	if h == nil {
		return domain.NewDomainError("Registry.RegisterLive", domain.ErrInvalidInput, name+": nil handler")
	}
	run := func(ctx context.Context, req domain.RequestEnvelope) (*domain.Response, error) {
		return h(ctx, req, r.client)
	}
	return r.register(domain.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Kind:        domain.KindLive,
	}, run)
}

// RegisterTask adds a tool that submits a task, polls until it is ready and
// fetches the result.
func (r *Registry) RegisterTask(
	name, description string,
	schema json.RawMessage,
	submit taskflow.SubmitFunc,
	checkReady taskflow.CheckReadyFunc,
	fetch taskflow.FetchFunc,
) error {
	if r.engine == nil {
		return domain.NewDomainError("Registry.RegisterTask", domain.ErrInvalidInput, name+": registry has no task engine")
	}
	handlers := taskflow.Handlers{Submit: submit, CheckReady: checkReady, Fetch: fetch}
	if submit == nil || checkReady == nil || fetch == nil {
		return domain.NewDomainError("Registry.RegisterTask", domain.ErrInvalidInput, name+": submit, checkReady and fetch are required")
	}
	run := func(ctx context.Context, req domain.RequestEnvelope) (*domain.Response, error) {
		res, err := r.engine.Run(ctx, handlers, req)
		if err != nil {
			return nil, err
		}
		return res.Response, nil
	}
	return r.register(domain.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Kind:        domain.KindTask,
	}, run)
}

func (r *Registry) register(def domain.ToolDefinition, run runFunc) error {
	const op = "Registry.Register"
	if !toolNameRe.MatchString(def.Name) {
		return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("invalid tool name %q", def.Name))
	}

	def.InputSchema = bytes.Clone(def.InputSchema)
	compiled, err := compileInputSchema(def.Name, def.InputSchema)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return domain.NewDomainError(op, domain.ErrDuplicate, def.Name)
	}
	r.tools[def.Name] = &schemaTool{def: def, schema: compiled, run: run, logger: r.logger}
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, name := range r.sortedNames() {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Definitions returns the definitions of all tools sorted by name.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, name := range r.sortedNames() {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// sortedNames must be called with r.mu held.
func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// schemaTool is a registered tool: a definition, its compiled schema and the
// function doing the upstream work.
type schemaTool struct {
	def    domain.ToolDefinition
	schema *inputSchema
	run    runFunc
	logger *slog.Logger
}

// Definition returns a copy; the registered schema bytes are never shared.
func (t *schemaTool) Definition() domain.ToolDefinition {
	def := t.def
	def.InputSchema = bytes.Clone(t.def.InputSchema)
	return def
}

func (t *schemaTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.def, t.schema, t.logger, params, t.run)
}

var (
	_ domain.Tool         = (*schemaTool)(nil)
	_ domain.ToolExecutor = (*Registry)(nil)
)
