// Package server wires the chat server together: configuration,
// logging, SQLite storage, domain services, the TCP front end and the
// optional metrics listener, plus graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"oltchat/internal/logging"
	"oltchat/internal/observability"
	"oltchat/internal/server/config"
	"oltchat/internal/server/files"
	"oltchat/internal/server/groups"
	"oltchat/internal/server/messages"
	"oltchat/internal/server/storage"
	"oltchat/internal/server/tcp"
	"oltchat/internal/server/users"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *tcp.Server
}

func NewApp(cfg *config.Config) (*App, error) {

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.LogLevel),
	})
	logger := logging.NewSlogLogger(slog.New(handler))

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := storage.InitSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema init error: %w", err)
	}

	fileSvc, err := files.NewService(files.NewSQLiteRepository(db), cfg.DataDir, cfg.FileChunkSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("file storage init error: %w", err)
	}

	srv := tcp.NewServer(cfg, logger,
		users.NewService(users.NewSQLiteRepository(db)),
		groups.NewService(groups.NewSQLiteRepository(db)),
		messages.NewService(messages.NewSQLiteRepository(db)),
		fileSvc)

	return &App{config: cfg, logger: logger, db: db, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until the context is cancelled or a signal arrives.
// A non-nil error means the server stopped abnormally.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app",
		"bind", app.config.BindHost, "port", app.config.Port,
		"db", app.config.DBPath, "data_dir", app.config.DataDir)

	app.initSignalHandler(cancelFunc)

	go observability.Serve(ctx, app.config.MetricsAddr, app.logger)

	err := app.server.Run(ctx)

	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error(ctx, "closing database", "error", cerr)
	}

	if err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
		return err
	}

	app.logger.Info(ctx, "server stopped")
	return nil
}
