// Package app wires a workspace's subsystems together: config, database,
// migrations, engine, token store, undo, batch, and search. Both the CLI and
// the server boot through it.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"todome/internal/batch"
	"todome/internal/config"
	"todome/internal/db"
	"todome/internal/engine"
	"todome/internal/migrate"
	"todome/internal/search"
	"todome/internal/server"
	"todome/internal/tokenstore"
	"todome/internal/undo"
)

// App is an opened workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Store     tokenstore.Store
	Undo      *undo.Service
	Batch     *batch.Executor
	Search    *search.Index
	Log       *slog.Logger

	webhooks *server.WebhookDispatcher
}

// Options controls Open.
type Options struct {
	// Workspace directory; empty falls back to $TODOME_WORKSPACE, then
	// ~/.todome.
	Workspace string
	// ConfigPath loads config from an explicit file instead of
	// <workspace>/todome.yml.
	ConfigPath string
	// RequireConfig makes a missing config file an error instead of
	// falling back to defaults.
	RequireConfig bool
	Logger        *slog.Logger
}

// DefaultWorkspace resolves the workspace directory.
func DefaultWorkspace() string {
	if ws := os.Getenv("TODOME_WORKSPACE"); ws != "" {
		return ws
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".todome"
	}
	return filepath.Join(home, ".todome")
}

// Open loads config, opens and migrates the database, and wires the engine,
// token store, undo service, batch executor, and search index.
func Open(opts Options) (*App, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = DefaultWorkspace()
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", workspace, err)
	}

	var cfg *config.Config
	var err error
	switch {
	case opts.ConfigPath != "":
		cfg, err = config.FromFile(opts.ConfigPath)
	case opts.RequireConfig:
		cfg, err = config.Load(workspace)
	default:
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eng := engine.New(conn, cfg)
	eng.Log = logger

	var idx *search.Index
	if cfg.Search.Enabled {
		path := cfg.Search.Path
		if path == "" {
			path = filepath.Join(workspace, "search.bleve")
		}
		idx, err = search.Open(path)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("search index: %w", err)
		}
		eng.Search = idx
	}

	store := tokenstore.NewSQLiteStore(conn)
	svc := undo.NewService(store, eng, time.Duration(cfg.Undo.TTLSeconds)*time.Second)
	svc.Log = logger
	exec := batch.NewExecutor(eng, svc, cfg.Batch.MaxEntries)
	exec.Log = logger

	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Store:     store,
		Undo:      svc,
		Batch:     exec,
		Search:    idx,
		Log:       logger,
	}, nil
}

// Handler builds the HTTP API handler for this app and starts webhook
// delivery; Close stops it again.
func (a *App) Handler() (http.Handler, error) {
	if a.webhooks == nil {
		a.webhooks = server.StartWebhookDispatcher(a.Engine)
	}
	return server.New(server.Config{
		Engine:   a.Engine,
		Undo:     a.Undo,
		Batch:    a.Batch,
		BasePath: a.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:       a.Config.Auth.JWTSecret,
			AllowUserHeader: a.Config.Auth.AllowUserHeader,
			Logger:          a.Log,
		},
		Log: a.Log,
	})
}

// Close stops webhook delivery and releases the search index and database.
func (a *App) Close() error {
	var first error
	a.webhooks.Stop()
	if a.Search != nil {
		if err := a.Search.Close(); err != nil {
			first = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
