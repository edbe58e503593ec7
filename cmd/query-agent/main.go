// Package main is the entry point for the query agent binary. The agent runs
// SQL in DuckDB and serves the results one page at a time over gRPC, with a
// JSON health endpoint on a separate HTTP listener.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"pagequery/internal/agent"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadAgentConfig(args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelOf(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	db, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	if cfg.ShowVersion {
		var version string
		if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		fmt.Println(version)
		return nil
	}

	if cfg.MaxMemoryGB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET max_memory='%dGB'", cfg.MaxMemoryGB)); err != nil {
			return fmt.Errorf("set max_memory: %w", err)
		}
		logger.Info("memory limit set", "max_memory_gb", cfg.MaxMemoryGB)
	}
	if cfg.InitSQLFile != "" {
		if err := runInitSQL(ctx, db, cfg.InitSQLFile); err != nil {
			return err
		}
		logger.Info("init SQL executed", "file", cfg.InitSQLFile)
	}

	srv := agent.NewServer(agent.Config{
		DB:         db,
		AgentToken: cfg.AgentToken,
		PageSize:   cfg.PageSize,
		ResultTTL:  cfg.ResultTTL,
		Logger:     logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	grpcServer := grpc.NewServer()
	agent.Register(grpcServer, srv)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	healthSrv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           agent.NewHealthHandler(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("query agent listening", "addr", cfg.ListenAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("health endpoint listening", "addr", cfg.HealthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down agent")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = healthSrv.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

func runInitSQL(ctx context.Context, db *sql.DB, path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec // operator supplied
	if err != nil {
		return fmt.Errorf("read init SQL: %w", err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init SQL: %w", err)
		}
	}
	return nil
}

func levelOf(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
