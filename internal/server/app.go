// Package server wires the fan-out hub together: configuration, account
// storage, the record database, the HTTP surface and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/dmitrijs2005/clipsync/internal/server/config"
	"github.com/dmitrijs2005/clipsync/internal/server/hub"
	"github.com/dmitrijs2005/clipsync/internal/server/httpapi"
	"github.com/dmitrijs2005/clipsync/internal/server/storage"
	"github.com/dmitrijs2005/clipsync/internal/server/users"
)

type App struct {
	config *config.Config
	logger logging.Logger
	api    *httpapi.API
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if c.SecretKey == "" {
		return nil, fmt.Errorf("token secret key is required")
	}

	var repo users.Repository
	if c.DatabaseDSN != "" {
		db, err := users.OpenPostgres(context.Background(), c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		repo = users.NewPostgresRepository(db)
	} else {
		logger.Warn(context.Background(), "no dsn configured, accounts are in-memory")
		repo = users.NewInMemoryRepository()
	}

	us := users.NewService(repo, users.NewLogMailer(logger))

	st, err := storage.New(c.DBDir)
	if err != nil {
		return nil, fmt.Errorf("record db init error: %w", err)
	}

	h := hub.New(st, logger)
	api := httpapi.New(us, h, []byte(c.SecretKey), c.TokenTTL, logger)

	return &App{config: c, logger: logger, api: api}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting server...", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:              app.config.EndpointAddr,
		Handler:           app.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// no blanket write timeout: /connect holds the socket open
	}
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			cancelFunc()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	app.logger.Info(ctx, "Stopping server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(ctx, "shutdown error", "error", err)
	}

	wg.Wait()
	return nil
}
