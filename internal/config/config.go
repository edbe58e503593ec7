// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted in BACKEND.
const (
	BackendTimestream = "timestream"
	BackendAgent      = "agent"
)

// AWSConfig holds the Timestream connection settings.
type AWSConfig struct {
	Region    string
	AccessKey string // optional; the default credential chain is used when empty
	SecretKey string
	Endpoint  string // optional query endpoint override
}

// Config holds the configuration of the query server.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // debug, info, warn, error (default "info")
	Backend    string // timestream (default) or agent

	AWS AWSConfig

	// Fallbacks for the $__database, $__table and $__measure macros.
	DefaultDatabase string
	DefaultTable    string
	DefaultMeasure  string

	// Query agent connection, used when Backend is agent.
	AgentAddr  string
	AgentToken string

	PageMaxRows      int32         // rows per backend page, 0 lets the backend decide
	EmptyPageBackoff time.Duration // delay after near-empty pages, 0 disables
	SchemaCacheTTL   time.Duration // default 5m

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPS     float64 // sustained requests per second (default 20)
	RateLimitBurst   int     // burst capacity (default 40)

	JWTSecret          string   // enables HS256 bearer auth on /v1 when set
	CORSAllowedOrigins []string // no CORS handling when empty
	HistoryDBPath      string   // SQLite query history, disabled when empty

	// Warnings collects non-fatal problems found while loading. They are
	// logged by the caller once the logger is set up.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numbers and durations fall back to their defaults with a warning.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr: os.Getenv("LISTEN_ADDR"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		Backend:    strings.ToLower(strings.TrimSpace(os.Getenv("BACKEND"))),
		AWS: AWSConfig{
			Region:    os.Getenv("AWS_REGION"),
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:  os.Getenv("TIMESTREAM_ENDPOINT"),
		},
		DefaultDatabase:  os.Getenv("DEFAULT_DATABASE"),
		DefaultTable:     os.Getenv("DEFAULT_TABLE"),
		DefaultMeasure:   os.Getenv("DEFAULT_MEASURE"),
		AgentAddr:        os.Getenv("AGENT_ADDR"),
		AgentToken:       os.Getenv("AGENT_TOKEN"),
		RateLimitEnabled: parseBoolEnvDefault("RATE_LIMIT_ENABLED", true),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		HistoryDBPath:    os.Getenv("HISTORY_DB_PATH"),
	}

	if v := os.Getenv("PAGE_MAX_ROWS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			cfg.warn("PAGE_MAX_ROWS=%q is not a non-negative integer, ignoring", v)
		} else {
			cfg.PageMaxRows = int32(n)
		}
	}
	cfg.EmptyPageBackoff = cfg.durationEnv("EMPTY_PAGE_BACKOFF", 0)
	cfg.SchemaCacheTTL = cfg.durationEnv("SCHEMA_CACHE_TTL", 5*time.Minute)

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		} else {
			cfg.warn("RATE_LIMIT_RPS=%q is not a number, ignoring", v)
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		} else {
			cfg.warn("RATE_LIMIT_BURST=%q is not an integer, ignoring", v)
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendTimestream
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.JWTSecret == "" {
		cfg.warn("JWT_SECRET not set, the /v1 API is unauthenticated")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the selected backend needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendTimestream:
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS_REGION is required for the timestream backend")
		}
		if (c.AWS.AccessKey == "") != (c.AWS.SecretKey == "") {
			return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
		}
	case BackendAgent:
		if c.AgentAddr == "" {
			return fmt.Errorf("AGENT_ADDR is required for the agent backend")
		}
	default:
		return fmt.Errorf("unknown BACKEND %q (want %s or %s)", c.Backend, BackendTimestream, BackendAgent)
	}
	if c.RateLimitEnabled && (c.RateLimitRPS < 0 || c.RateLimitBurst < 1) {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}
	return nil
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.warn("%s=%q is not a valid duration, using %s", key, v, def)
		return def
	}
	return d
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return defaultVal
	}
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines are KEY=VALUE; comments (#) and blank lines are skipped.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
