// Package app wires configuration, storage, the engine and notification
// sinks into one container shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/engine/auth"
	"shiftline/internal/migrate"
	"shiftline/internal/notify"
	"shiftline/internal/repo"
)

// ErrUnknownPrincipal is returned when the caller's guard id is not in the directory.
var ErrUnknownPrincipal = errors.New("unknown guard")

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/shiftline.yml.
	ConfigPath string
	// LogLevel overrides log.level when set.
	LogLevel string
	LogOutput io.Writer
	// SkipMigrate leaves the schema untouched.
	SkipMigrate bool
}

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Repo     repo.Repo
	Engine   engine.Engine
	Auth     auth.Service
	Logger   *slog.Logger
	Notifier *notify.Hub

	webhooks *notify.WebhookSink
	cancel   context.CancelFunc
}

// LoadConfig resolves the config file for opts.
func LoadConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.Load(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = strings.ToLower(opts.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds the process logger from the log config section.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open builds the container and migrates the store.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(opts.LogOutput, cfg.Log.Level, cfg.Log.Format)
	conn, err := db.Open(db.Config{
		Workspace:     opts.Workspace,
		Path:          cfg.Database.Path,
		BusyTimeoutMS: cfg.Database.BusyTimeoutMS,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if !opts.SkipMigrate {
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	a := &App{
		Config: cfg,
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Auth:   auth.Service{Config: cfg},
		Logger: logger,
	}
	sinks := []notify.Sink{notify.LogSink{Logger: logger.With("component", "notify")}}
	if len(cfg.Webhooks) > 0 {
		var workerCtx context.Context
		workerCtx, a.cancel = context.WithCancel(context.Background())
		a.webhooks = notify.NewWebhookSink(cfg.Webhooks, logger.With("component", "webhook"))
		a.webhooks.Start(workerCtx)
		sinks = append(sinks, a.webhooks)
	}
	a.Notifier = notify.NewHub(logger, sinks...)
	a.Engine = engine.New(conn, cfg, logger)
	a.Engine.Notifier = a.Notifier
	return a, nil
}

// Close stops background delivery and releases the store.
func (a *App) Close() error {
	if a.webhooks != nil {
		a.webhooks.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	return a.DB.Close()
}

// Principal loads the directory entry for guardID.
func (a *App) Principal(ctx context.Context, guardID int64) (domain.Guard, error) {
	g, err := a.Repo.GetGuard(ctx, guardID)
	if errors.Is(err, repo.ErrNotFound) {
		return g, fmt.Errorf("%w: %d", ErrUnknownPrincipal, guardID)
	}
	return g, err
}

// Authorize loads guardID and checks it holds perm.
func (a *App) Authorize(ctx context.Context, guardID int64, perm string) (domain.Guard, error) {
	g, err := a.Principal(ctx, guardID)
	if err != nil {
		return g, err
	}
	return g, a.Auth.Require(g, perm)
}
