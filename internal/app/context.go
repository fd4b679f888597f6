package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/logging"
	"okrline/internal/metrics"
	"okrline/internal/migrate"
)

// Runtime bundles what a command or the server needs to run against a
// workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	DB        *sql.DB
	Engine    engine.Engine
}

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/okrline.yml.
	ConfigPath string
	// DBPath overrides <workspace>/.okrline/okrline.db.
	DBPath string
	// Metrics enables the Prometheus registry.
	Metrics bool
	// LogLevel overrides log.level from the config file.
	LogLevel string
	// Logger replaces the configured logger.
	Logger *zap.Logger
}

// Open loads config, migrates the database and wires the engine.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	log := opts.Logger
	if log == nil {
		if log, err = logging.New(cfg.Logging()); err != nil {
			return nil, err
		}
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rt := &Runtime{Workspace: opts.Workspace, Config: cfg, Log: log, DB: conn}
	if opts.Metrics {
		rt.Metrics = metrics.New()
	}
	rt.Engine = engine.New(conn, cfg, log)
	rt.Engine.Metrics = rt.Metrics
	if _, _, err := EnsureAdmin(ctx, rt.Engine, cfg.Bootstrap.Admin); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	return rt, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

func (r *Runtime) Close() error {
	_ = r.Log.Sync()
	return r.DB.Close()
}

// EnsureAdmin creates the configured admin when the database has no admin
// yet. A blank id disables bootstrap.
func EnsureAdmin(ctx context.Context, e engine.Engine, u config.BootstrapUser) (domain.User, bool, error) {
	if u.ID == "" {
		return domain.User{}, false, nil
	}
	users, err := e.ListUsers(ctx, "")
	if err != nil {
		return domain.User{}, false, err
	}
	for _, existing := range users {
		if existing.Role == domain.RoleAdmin {
			return existing, false, nil
		}
	}
	admin, err := e.RegisterUser(ctx, engine.UserInput{ID: u.ID, Username: u.Username, Email: u.Email, Role: domain.RoleAdmin})
	if errors.Is(err, domain.ErrValidation) {
		return domain.User{}, false, fmt.Errorf("admin %q: %w", u.Username, err)
	}
	if err != nil {
		return domain.User{}, false, err
	}
	e.Log.Info("bootstrap admin created", zap.String("user_id", admin.ID), zap.String("username", admin.Username))
	return admin, true, nil
}
