package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"serp-mcp/internal/adapter/catalog"
	"serp-mcp/internal/adapter/dataforseo"
	"serp-mcp/internal/adapter/mcpserver"
	"serp-mcp/internal/adapter/tool"
	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/config"
	"serp-mcp/internal/infra/logger"
	"serp-mcp/internal/infra/tracer"
	"serp-mcp/internal/usecase/taskflow"
)

var version = "dev"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Println("serp-mcp", version)
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(parseFlags(os.Args[1:])); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	flags := parseFlags(os.Args[2:])
	switch os.Args[1] {
	case "serve":
		if err := run(flags); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case "tools":
		if err := runTools(os.Stdout, flags); err != nil {
			fmt.Fprintf(os.Stderr, "tools: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Stdout, flags.Args); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Stdout, flags); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'serp-mcp --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`serp-mcp - MCP server for the DataForSEO SERP API

USAGE:
    serp-mcp [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the MCP server (default)
    tools       List the tools the server exposes
    encrypt     Encrypt a secret for config.yaml (needs SERPMCP_CONFIG_KEY)
    doctor      Check configuration and upstream connectivity
    version     Print the version

FLAGS:
    -h, --help           Show this help message
    --config PATH        Config file path (default: ./config.yaml)
    --transport NAME     stdio or http
    --addr HOST:PORT     Listen address for the http transport
    --json               Machine-readable output (tools)

CONFIGURATION:
    Config file: ./config.yaml, or SERPMCP_CONFIG
    Credentials: DATAFORSEO_LOGIN and DATAFORSEO_PASSWORD
    Environment: SERPMCP_* variables override config

EXAMPLES:
    serp-mcp                                  # stdio server for an MCP client
    serp-mcp serve --transport http --addr 127.0.0.1:8080
    serp-mcp tools --json
    SERPMCP_CONFIG_KEY=... serp-mcp encrypt my-password
    serp-mcp doctor`)
}

// cliFlags holds the flags shared by all commands.
type cliFlags struct {
	Config    string
	Transport string
	Addr      string
	JSON      bool
	Args      []string // positional arguments
}

// parseFlags extracts known flags from args. Unknown flags are ignored.
func parseFlags(args []string) cliFlags {
	var flags cliFlags
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			flags.Config = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			flags.Config = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--transport" && i+1 < len(args):
			flags.Transport = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--transport="):
			flags.Transport = strings.TrimPrefix(args[i], "--transport=")
		case args[i] == "--addr" && i+1 < len(args):
			flags.Addr = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--addr="):
			flags.Addr = strings.TrimPrefix(args[i], "--addr=")
		case args[i] == "--json":
			flags.JSON = true
		case !strings.HasPrefix(args[i], "-"):
			flags.Args = append(flags.Args, args[i])
		}
	}
	return flags
}

// configPath resolves the config file: --config, then SERPMCP_CONFIG, then ./config.yaml.
func configPath(flags cliFlags) string {
	if flags.Config != "" {
		return flags.Config
	}
	if p := os.Getenv("SERPMCP_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// overrides turns command-line flags into config overrides.
func (f cliFlags) overrides(cfg *config.Config) {
	if f.Transport != "" {
		cfg.Server.Transport = f.Transport
	}
	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
}

func run(flags cliFlags) error {
	cfg, err := config.Load(configPath(flags), flags.overrides)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	reg, names, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}
	log.Info("serp-mcp starting",
		"version", version,
		"transport", cfg.Server.Transport,
		"base_url", cfg.API.BaseURL,
		"tools", len(names),
	)

	srv := mcpserver.New(cfg.Server, version, reg, log)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("serp-mcp stopped")
	return nil
}

// buildRegistry wires the API client, the task engine and the catalog.
func buildRegistry(cfg *config.Config, log *slog.Logger) (*tool.Registry, []string, error) {
	client := dataforseo.NewClient(cfg.API, log)
	engine := taskflow.NewEngine(taskflow.ConfigFrom(cfg.Tasks), client, log)
	reg := tool.NewRegistry(client, engine, log)

	names, err := catalog.Register(reg, catalog.Endpoints(), cfg.Tools.Disabled, log)
	if err != nil {
		return nil, nil, fmt.Errorf("tool catalog: %w", err)
	}
	return reg, names, nil
}

// runTools prints the exposed tools. Credentials are not required.
func runTools(w io.Writer, flags cliFlags) error {
	cfg := config.Defaults()
	config.ApplyEnvOverrides(cfg)

	reg, _, err := buildRegistry(cfg, logger.Nop())
	if err != nil {
		return err
	}
	return printTools(w, reg.Definitions(), flags.JSON)
}

func printTools(w io.Writer, defs []domain.ToolDefinition, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Kind, firstSentence(d.Description))
	}
	return tw.Flush()
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

// runEncrypt prints an "enc:" value that Load decrypts with SERPMCP_CONFIG_KEY.
func runEncrypt(w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: serp-mcp encrypt <value>")
	}
	passphrase := os.Getenv("SERPMCP_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("SERPMCP_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "enc:%s\n", enc)
	return err
}
