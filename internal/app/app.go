// Package app wires configuration, backend, history store and HTTP adapter
// into a runnable query server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"pagequery/internal/api"
	"pagequery/internal/compute"
	"pagequery/internal/config"
	"pagequery/internal/datasource"
	"pagequery/internal/domain"
	"pagequery/internal/history"
	"pagequery/internal/macros"
	"pagequery/internal/middleware"
	"pagequery/internal/templates"
	"pagequery/internal/timestream"
)

// Deps holds what main must provide. Backend, when set, replaces the one
// built from Cfg.Backend.
type Deps struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Backend domain.Backend
}

// App is the fully wired server.
type App struct {
	DataSource *datasource.DataSource
	History    domain.HistoryRepository // nil when HISTORY_DB_PATH is unset
	Handler    http.Handler

	closers []func() error
}

// New builds the backend selected by the configuration, opens the history
// store and mounts the HTTP routes.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	settings := macros.Settings{
		DefaultDatabase: cfg.DefaultDatabase,
		DefaultTable:    cfg.DefaultTable,
		DefaultMeasure:  cfg.DefaultMeasure,
	}

	backend := deps.Backend
	if backend == nil {
		var err error
		backend, err = a.newBackend(ctx, cfg, settings, logger)
		if err != nil {
			return nil, err
		}
	}

	ds := datasource.New(backend, templates.NewService(nil), logger.With("component", "datasource"))
	ds.SetEmptyPageBackoff(cfg.EmptyPageBackoff)
	ds.SetSchema(datasource.NewSchemaInfo(backend, domain.Query{
		Database: cfg.DefaultDatabase,
		Table:    cfg.DefaultTable,
		Measure:  cfg.DefaultMeasure,
	}, cfg.SchemaCacheTTL))

	if cfg.HistoryDBPath != "" {
		db, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open query history: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		repo := history.NewRepo(db)
		ds.SetHistory(repo)
		a.History = repo
	}

	routerCfg := api.RouterConfig{AllowedOrigins: cfg.CORSAllowedOrigins}
	if cfg.RateLimitEnabled {
		routerCfg.RateLimit = &middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}
	}
	if cfg.JWTSecret != "" {
		v, err := middleware.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		routerCfg.Auth = v
	}

	a.DataSource = ds
	a.Handler = api.NewRouter(api.NewHandler(ds, a.History, logger.With("component", "api")), routerCfg)
	return a, nil
}

func (a *App) newBackend(ctx context.Context, cfg *config.Config, settings macros.Settings, logger *slog.Logger) (domain.Backend, error) {
	switch cfg.Backend {
	case config.BackendAgent:
		client, err := compute.Dial(cfg.AgentAddr, cfg.AgentToken)
		if err != nil {
			return nil, fmt.Errorf("dial query agent: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		logger.Info("using query agent backend", "addr", cfg.AgentAddr)
		return compute.NewRemoteBackend(client, settings, int(cfg.PageMaxRows), logger.With("component", "agent-backend")), nil
	default:
		client, err := timestream.NewClient(ctx, timestream.ClientConfig{
			Region:    cfg.AWS.Region,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
			Endpoint:  cfg.AWS.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("timestream client: %w", err)
		}
		logger.Info("using timestream backend", "region", cfg.AWS.Region)
		return timestream.NewBackend(client, settings,
			timestream.WithMaxRows(cfg.PageMaxRows),
			timestream.WithLogger(logger.With("component", "timestream")),
		), nil
	}
}

// Close releases the backend connection and the history database.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
