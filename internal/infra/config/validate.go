package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAPI(cfg, ve)
	validateTasks(cfg, ve)
	validateServer(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAPI(cfg *Config, ve *ValidationError) {
	api := cfg.API
	u, err := url.Parse(api.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("api.base_url must be an absolute http(s) URL, got %q", api.BaseURL)
	}
	if api.Login == "" {
		ve.Add("api.login is required (or set DATAFORSEO_LOGIN)")
	}
	if api.Password == "" {
		ve.Add("api.password is required (or set DATAFORSEO_PASSWORD)")
	}
	if api.ConnTimeout < 0 || api.RespTimeout < 0 {
		ve.Add("api timeouts must be >= 0")
	}
	if api.Retry.MaxAttempts < 1 {
		ve.Add("api.retry.max_attempts must be >= 1")
	}
	if api.RateLimit.RequestsPerMinute < 0 {
		ve.Add("api.rate_limit.requests_per_minute must be >= 0")
	}
	if api.CircuitBreaker.Enabled && api.CircuitBreaker.MaxFailures == 0 {
		ve.Add("api.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateTasks(cfg *Config, ve *ValidationError) {
	t := cfg.Tasks
	if t.PollInterval <= 0 {
		ve.Add("tasks.poll_interval must be > 0")
	}
	if t.Timeout <= 0 {
		ve.Add("tasks.timeout must be > 0")
	}
	if t.PollInterval > 0 && t.Timeout > 0 && t.PollInterval >= t.Timeout {
		ve.Add("tasks.poll_interval (%s) must be shorter than tasks.timeout (%s)", t.PollInterval, t.Timeout)
	}
	if t.MaxPollInterval != 0 && t.MaxPollInterval < t.PollInterval {
		ve.Add("tasks.max_poll_interval must be >= tasks.poll_interval")
	}
	if t.PollBackoff != 0 && t.PollBackoff < 1 {
		ve.Add("tasks.poll_backoff must be >= 1")
	}
	if t.MaxPollFailures < 1 {
		ve.Add("tasks.max_poll_failures must be >= 1")
	}
}

var validTransports = map[string]bool{
	"stdio": true,
	"http":  true,
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Name == "" {
		ve.Add("server.name must not be empty")
	}
	if !validTransports[s.Transport] {
		ve.Add("server.transport %q is invalid (want stdio or http)", s.Transport)
	}
	if s.Transport == "http" {
		if _, _, err := net.SplitHostPort(s.Addr); err != nil {
			ve.Add("server.addr %q is invalid: %v", s.Addr, err)
		}
		if !strings.HasPrefix(s.Path, "/") {
			ve.Add("server.path must start with '/'")
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
	// stdout carries protocol frames on the stdio transport.
	if cfg.Server.Transport == "stdio" && strings.EqualFold(cfg.Logger.Output, "stdout") {
		ve.Add("logger.output must not be stdout when server.transport is stdio")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is unsupported", cfg.Tracer.Exporter)
	}
}
