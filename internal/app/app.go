// Package app assembles arbor from a loaded configuration: registry, tree,
// storage, plugins and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/arbor/internal/api"
	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/auth"
	"github.com/mattjoyce/arbor/internal/builtin"
	"github.com/mattjoyce/arbor/internal/compose"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/events"
	"github.com/mattjoyce/arbor/internal/log"
	"github.com/mattjoyce/arbor/internal/metrics"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
	"github.com/mattjoyce/arbor/internal/records"
	"github.com/mattjoyce/arbor/internal/storage"
)

// App is one assembled arbor instance.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *plugin.Registry
	Actions  *compose.Actions
	Tree     *part.Tree
	Manager  *plugin.Manager
	Hub      *events.Hub
	Metrics  *metrics.Collector
	Records  *records.Store
	// Unbound lists action nodes left without a handler after Load.
	Unbound []string

	db *sql.DB
}

// Options adjust New.
type Options struct {
	// StatePath overrides cfg.State.Path, e.g. ":memory:" for dry runs.
	StatePath string
	// Registry replaces the default builtin registry.
	Registry *plugin.Registry
}

// NewRegistry returns the builtin plugins plus any manifests declared under
// cfg.PluginsDir.
func NewRegistry(cfg *config.Config, logger *slog.Logger) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return nil, fmt.Errorf("register builtin plugins: %w", err)
	}
	if cfg.PluginsDir != "" {
		n, err := plugin.Discover(reg, cfg.PluginsDir, logger)
		if err != nil {
			return nil, fmt.Errorf("discover plugins: %w", err)
		}
		logger.Debug("plugin manifests discovered", "count", n, "dir", cfg.PluginsDir)
	}
	return reg, nil
}

// New opens storage and builds the tree and plugin manager. Nothing is
// loaded yet; call Load.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = log.Discard()
	}
	reg := opts.Registry
	if reg == nil {
		var err error
		if reg, err = NewRegistry(cfg, logger); err != nil {
			return nil, apperr.Startup(err, "plugins")
		}
	}

	actions := compose.NewActions()
	tree, err := compose.Build(cfg.Tree, actions, part.WithLogger(log.WithComponent(logger, "tree")))
	if err != nil {
		return nil, apperr.Startup(err, "build tree")
	}

	statePath := cfg.State.Path
	if opts.StatePath != "" {
		statePath = opts.StatePath
	}
	db, err := storage.OpenSQLite(ctx, statePath)
	if err != nil {
		return nil, apperr.Startup(err, "open state")
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Actions:  actions,
		Tree:     tree,
		Hub:      events.NewHub(cfg.API.EventBuffer),
		Metrics:  metrics.New(),
		Records:  records.NewStore(db),
		db:       db,
	}
	a.Manager = plugin.NewManager(reg, plugin.Host{
		Tree:    a.Tree,
		Actions: a.Actions,
		Hub:     a.Hub,
		Metrics: a.Metrics,
		Records: a.Records,
		Logger:  logger,
	}, cfg.EnabledPlugins())
	return a, nil
}

// Load resolves and loads plugins, binds their actions and initializes the
// tree, after which it is read-only.
func (a *App) Load(ctx context.Context) error {
	if err := a.Manager.LoadAll(ctx); err != nil {
		return err
	}
	unbound, err := compose.Bind(a.Tree, a.Actions)
	if err != nil {
		return apperr.Startup(err, "bind actions")
	}
	a.Unbound = unbound
	for _, u := range unbound {
		a.Logger.Warn("action has no handler", "action", u)
	}
	if err := a.Tree.Initialize(ctx); err != nil {
		return apperr.Startup(err, "initialize tree")
	}
	return nil
}

// Start starts plugins in resolved order.
func (a *App) Start(ctx context.Context) error {
	return a.Manager.StartAll(ctx)
}

// Close stops plugins, finalizes the tree and closes storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Manager.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.Tree.Initialized() {
		if err := a.Tree.Finalize(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state: %w", err))
	}
	return errors.Join(errs...)
}

// Server builds the HTTP API for this instance.
func (a *App) Server() *api.Server {
	c := a.Config.API
	tokens := make([]auth.TokenConfig, 0, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.New(api.Config{
		Listen: c.Listen,
		APIKey: c.Auth.APIKey,
		Tokens: tokens,
		RateLimit: api.RateLimit{
			Enabled:           c.RateLimit.Enabled,
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
		},
		ShutdownTimeout: c.ShutdownTimeout,
	}, a.Tree, a.Manager, a.Hub, a.Metrics, log.WithComponent(a.Logger, "api"))
}
