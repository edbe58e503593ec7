package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// AgentConfig holds configuration for the query agent. Flags override the
// QUERY_AGENT_* environment variables.
type AgentConfig struct {
	ListenAddr  string
	HealthAddr  string
	AgentToken  string
	DuckDBPath  string // empty for an in-memory database
	InitSQLFile string
	PageSize    int
	ResultTTL   time.Duration
	MaxMemoryGB int
	LogLevel    string
	ShowVersion bool
}

func loadAgentConfig(args []string) (*AgentConfig, error) {
	cfg := &AgentConfig{
		ListenAddr:  os.Getenv("QUERY_AGENT_LISTEN_ADDR"),
		HealthAddr:  os.Getenv("QUERY_AGENT_HEALTH_ADDR"),
		AgentToken:  os.Getenv("QUERY_AGENT_TOKEN"),
		DuckDBPath:  os.Getenv("QUERY_AGENT_DUCKDB_PATH"),
		InitSQLFile: os.Getenv("QUERY_AGENT_INIT_SQL"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}
	if v := os.Getenv("QUERY_AGENT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid QUERY_AGENT_PAGE_SIZE %q", v)
		}
		cfg.PageSize = n
	}
	if v := os.Getenv("QUERY_AGENT_RESULT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid QUERY_AGENT_RESULT_TTL %q", v)
		}
		cfg.ResultTTL = d
	}
	if v := os.Getenv("QUERY_AGENT_MAX_MEMORY_GB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QUERY_AGENT_MAX_MEMORY_GB: %w", err)
		}
		cfg.MaxMemoryGB = n
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9443"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = ":9444"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 1000
	}
	if cfg.ResultTTL == 0 {
		cfg.ResultTTL = 10 * time.Minute
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	fs := pflag.NewFlagSet("query-agent", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "gRPC listen address")
	fs.StringVar(&cfg.HealthAddr, "health-listen", cfg.HealthAddr, "HTTP health listen address")
	fs.StringVar(&cfg.DuckDBPath, "duckdb", cfg.DuckDBPath, "DuckDB database file (in-memory when empty)")
	fs.StringVar(&cfg.InitSQLFile, "init-sql", cfg.InitSQLFile, "SQL file executed once at startup")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "default rows per page")
	fs.DurationVar(&cfg.ResultTTL, "result-ttl", cfg.ResultTTL, "how long an idle stored result is kept")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print the DuckDB version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.AgentToken == "" {
		return nil, fmt.Errorf("QUERY_AGENT_TOKEN is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive")
	}
	return cfg, nil
}
