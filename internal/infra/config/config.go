package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"serp-mcp/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Tasks  TasksConfig  `yaml:"tasks"`
	Server ServerConfig `yaml:"server"`
	Tools  ToolsConfig  `yaml:"tools"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// APIConfig holds the upstream connection settings. Values are loaded once at
// startup and never mutated afterwards.
type APIConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Login          string               `yaml:"login"`
	Password       string               `yaml:"password"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// RetryConfig bounds GET retries on transport failures. POST is never retried.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"` // total attempts, 1 = no retry
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RateLimitConfig paces outbound requests. 0 disables pacing.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CircuitBreakerConfig holds circuit breaker settings for the API client.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// TasksConfig governs the submit / poll / fetch lifecycle of task tools.
type TasksConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	PollBackoff     float64       `yaml:"poll_backoff"` // interval multiplier, 1 = fixed
	Timeout         time.Duration `yaml:"timeout"`
	MaxPollFailures int           `yaml:"max_poll_failures"` // consecutive transient failures that fail the task, 1 = none tolerated
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name      string          `yaml:"name"`
	Transport string          `yaml:"transport"` // "stdio" or "http"
	Addr      string          `yaml:"addr"`
	Path      string          `yaml:"path"`
	RateLimit RateLimitConfig `yaml:"rate_limit"` // per client IP, http transport only

	// TrustedProxies lists peer IPs whose X-Forwarded-For header is honored.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// ToolsConfig selects which catalog tools are exposed.
type ToolsConfig struct {
	Disabled []string `yaml:"disabled,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://api.dataforseo.com/v3",
			ConnTimeout: 10 * time.Second,
			RespTimeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 2000,
				Burst:             20,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Tasks: TasksConfig{
			PollInterval:    5 * time.Second,
			MaxPollInterval: 30 * time.Second,
			PollBackoff:     1.5,
			Timeout:         3 * time.Minute,
			MaxPollFailures: 3,
		},
		Server: ServerConfig{
			Name:      "dataforseo-serp",
			Transport: "stdio",
			Addr:      "127.0.0.1:8090",
			Path:      "/mcp",
			RateLimit: RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
// overrides run after the environment and before validation.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	for _, o := range overrides {
		o(cfg)
	}

	if passphrase := os.Getenv("SERPMCP_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SERPMCP_* and DATAFORSEO_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATAFORSEO_LOGIN"); v != "" {
		cfg.API.Login = v
	}
	if v := os.Getenv("DATAFORSEO_PASSWORD"); v != "" {
		cfg.API.Password = v
	}
	if v := os.Getenv("SERPMCP_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SERPMCP_API_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.API.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv("SERPMCP_API_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("SERPMCP_TASKS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tasks.PollInterval = d
		}
	}
	if v := os.Getenv("SERPMCP_TASKS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tasks.Timeout = d
		}
	}
	if v := os.Getenv("SERPMCP_TASKS_MAX_POLL_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tasks.MaxPollFailures = n
		}
	}
	if v := os.Getenv("SERPMCP_SERVER_TRANSPORT"); v != "" {
		cfg.Server.Transport = v
	}
	if v := os.Getenv("SERPMCP_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SERPMCP_TOOLS_DISABLED"); v != "" {
		cfg.Tools.Disabled = splitList(v)
	}
	if v := os.Getenv("SERPMCP_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SERPMCP_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SERPMCP_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SERPMCP_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:"-prefixed credentials with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	fields := map[string]*string{
		"api.login":    &cfg.API.Login,
		"api.password": &cfg.API.Password,
	}
	for name, field := range fields {
		if !strings.HasPrefix(*field, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions checks the config file has restrictive permissions,
// since it usually carries API credentials.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %#o (group or others can write)", path, mode)
	}
	return nil
}
