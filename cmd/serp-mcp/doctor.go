package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"serp-mcp/internal/adapter/dataforseo"
	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/config"
	"serp-mcp/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function. cfg is nil when loading failed.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

const connectivityPath = "/serp/google/languages"

func runDoctor(w io.Writer, flags cliFlags) error {
	cfgPath := configPath(flags)
	cfg, cfgErr := config.Load(cfgPath, flags.overrides)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Credentials", Fn: checkCredentials},
		{Name: "Tool catalog", Fn: checkToolCatalog},
		{Name: "API connectivity", Fn: checkConnectivity},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return report(w, runChecks(ctx, cfg, checks))
}

// runChecks runs every check concurrently and returns results in check order.
func runChecks(ctx context.Context, cfg *config.Config, checks []Check) []CheckResult {
	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Go(func() {
			res := check.Fn(ctx, cfg)
			res.Name = check.Name
			results[i] = res
		})
	}
	wg.Wait()
	return results
}

func report(w io.Writer, results []CheckResult) error {
	fmt.Fprintln(w, "serp-mcp doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, result := range results {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(_ context.Context, _ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Fix the reported problems in " + cfgPath + " or the SERPMCP_* environment",
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: cfgPath + " not found, using defaults and environment",
			}
		}
		return CheckResult{Status: StatusPass, Message: cfgPath + " loaded"}
	}
}

func checkCredentials(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, config did not load"}
	}
	if cfg.API.Login == "" || cfg.API.Password == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "login or password missing",
			Fix:     "Set DATAFORSEO_LOGIN and DATAFORSEO_PASSWORD",
		}
	}
	return CheckResult{Status: StatusPass, Message: "login " + cfg.API.Login}
}

func checkToolCatalog(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		cfg = config.Defaults()
	}
	_, names, err := buildRegistry(cfg, logger.Nop())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if len(names) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "every tool is disabled",
			Fix:     "Remove entries from tools.disabled",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d tools registered", len(names))}
}

func checkConnectivity(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, config did not load"}
	}

	client := dataforseo.NewClient(cfg.API, logger.Nop())
	_, err := client.Get(domain.WithNoRetry(ctx), connectivityPath)

	var (
		apiErr    *domain.APIError
		statusErr *dataforseo.HTTPStatusError
	)
	switch {
	case err == nil:
		return CheckResult{Status: StatusPass, Message: cfg.API.BaseURL + " reachable"}
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized,
		errors.As(err, &apiErr) && apiErr.StatusCode/100 == 401:
		return CheckResult{
			Status:  StatusFail,
			Message: "credentials rejected",
			Fix:     "Check the API login and password in the DataForSEO dashboard",
		}
	case errors.As(err, &apiErr):
		return CheckResult{Status: StatusWarn, Message: "reachable, but " + apiErr.Error()}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check network access to " + cfg.API.BaseURL,
		}
	}
}
