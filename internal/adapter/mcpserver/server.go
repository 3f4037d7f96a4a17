// Package mcpserver exposes the tool registry over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"serp-mcp/internal/adapter/tool"
	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/config"
	"serp-mcp/internal/infra/middleware"
)

const instructions = "Tools query the DataForSEO SERP API. Live tools answer immediately; " +
	"*_task tools queue a task and wait for its result, which can take minutes. " +
	"Use serp_google_locations and serp_google_languages to look up location and language codes."

// Server binds a tool executor to an MCP server.
type Server struct {
	cfg    config.ServerConfig
	tools  domain.ToolExecutor
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New creates a Server advertising every tool known to tools.
func New(cfg config.ServerConfig, version string, tools domain.ToolExecutor, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		tools:  tools,
		logger: logger,
	}
	s.mcp = server.NewMCPServer(cfg.Name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, def := range tools.Definitions() {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, def.InputSchema), s.callTool)
	}
	return s
}

// callTool adapts a tools/call request to the registry. Failures are returned
// as error results so the protocol exchange itself always succeeds.
func (s *Server) callTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := s.tools.Get(req.Params.Name)
	if err != nil {
		return toCallResult(tool.FailureResult(err)), nil
	}

	args := req.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return toCallResult(tool.FailureResult(
			domain.NewDomainError("mcpserver.callTool", domain.ErrInvalidInput, err.Error()))), nil
	}

	res, err := t.Execute(ctx, raw)
	if err != nil {
		res = tool.FailureResult(err)
	}
	return toCallResult(res), nil
}

func toCallResult(res *domain.ToolResult) *mcp.CallToolResult {
	if res.IsError {
		return mcp.NewToolResultError(res.Content)
	}
	return mcp.NewToolResultText(res.Content)
}

// Serve runs the configured transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	switch s.cfg.Transport {
	case "http":
		return s.ListenHTTP(ctx)
	default:
		return s.ServeStdio(ctx, stdin, stdout)
	}
}

// ServeStdio speaks newline-delimited JSON-RPC on in/out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	s.logger.Info("mcp server listening", "transport", "stdio", "tools", len(s.tools.Definitions()))

	err := stdio.Listen(ctx, in, out)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)) {
		return nil
	}
	return err
}

// Handler returns the streamable HTTP endpoint wrapped in the access log,
// security header and per-client rate limit middleware.
func (s *Server) Handler(ctx context.Context) http.Handler {
	streamable := server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(s.cfg.Path))

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, streamable)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","tools":%d}`, len(s.tools.Definitions()))
	})

	return middleware.Chain(mux,
		middleware.AccessLog(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RateLimit.RequestsPerMinute,
			BurstSize:      s.cfg.RateLimit.Burst,
			TrustedProxies: s.cfg.TrustedProxies,
		}),
	)
}

// ListenHTTP listens on cfg.Addr and shuts down gracefully when ctx ends.
func (s *Server) ListenHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", "transport", "http", "addr", s.cfg.Addr, "path", s.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

// slogWriter forwards the stdio server's log.Logger output to slog.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Warn("mcp stdio", "message", string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
