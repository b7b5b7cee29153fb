// Package client assembles the agent: clipboard bridge, local store, pending
// queue, sync engine and the GUI control socket, run as one process per
// desktop session.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/clipsync/internal/client/clipboard"
	"github.com/dmitrijs2005/clipsync/internal/client/config"
	"github.com/dmitrijs2005/clipsync/internal/client/ipc"
	"github.com/dmitrijs2005/clipsync/internal/client/pending"
	"github.com/dmitrijs2005/clipsync/internal/client/store"
	clientsync "github.com/dmitrijs2005/clipsync/internal/client/sync"
	"github.com/dmitrijs2005/clipsync/internal/cryptox"
	"github.com/dmitrijs2005/clipsync/internal/logging"
)

type App struct {
	config *config.Config
	logger logging.Logger

	store  *store.Store
	queue  *pending.Queue
	bridge *clipboard.Bridge
	engine *clientsync.Engine
	ipc    *ipc.Listener
}

// NewApp builds the agent. If another instance already owns the control
// socket, an open-GUI request is handed to it and ipc.ErrAlreadyRunning is
// returned so the caller can exit cleanly.
func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app := &App{config: cfg, logger: logger}

	l, err := ipc.Listen(cfg.SocketPath(), app, logger, &ipc.Message{Type: ipc.MsgOpenGUI})
	if err != nil {
		return nil, err
	}
	app.ipc = l

	st, err := store.New(cfg.RecordDir(), cfg.ImageDir(), cfg.Settings.MaxClipboard, logger)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}
	app.store = st

	q, err := pending.New(cfg.PendingPath())
	if err != nil {
		return nil, fmt.Errorf("pending queue init error: %w", err)
	}
	app.queue = q

	flag, err := clipboard.NewEchoFlag(cfg.EchoFlagPath())
	if err != nil {
		return nil, err
	}

	clip, err := clipboard.NewCommandClipboard()
	if err != nil {
		return nil, fmt.Errorf("clipboard init error: %w", err)
	}

	app.bridge = clipboard.NewBridge(clip, st, flag, cfg.Settings.StoreImage, app.onCapture, logger)

	if cfg.Settings.Sync != nil {
		opts := clientsync.Options{
			ServerURL: cfg.ServerURL,
			Cred:      *cfg.Settings.Sync,
			OnChange:  app.onRemoteChange,
		}
		if cfg.Settings.Encrypt != "" {
			key, err := cryptox.ParseKey(cfg.Settings.Encrypt)
			if err != nil {
				return nil, fmt.Errorf("bad encryption key: %w", err)
			}
			opts.EncryptKey = key
		}
		app.engine = clientsync.NewEngine(opts, st, q, logger)
	} else {
		logger.Warn(context.Background(), "sync not configured, running locally")
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run drives all agent loops until a signal arrives or one of them fails
// unrecoverably.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting agent...", "data", app.config.DataDir)
	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.ipc.Serve(ctx) })
	g.Go(func() error { return app.bridge.Run(ctx) })
	if app.engine != nil {
		g.Go(func() error { return app.engine.Run(ctx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	app.logger.Info(context.Background(), "Agent stopped")
	return nil
}

// onCapture runs after the bridge persisted a fresh clipboard record.
func (app *App) onCapture(id string, rec store.Record) {
	if app.engine != nil {
		if err := app.queue.Push(pending.Entry{Kind: pending.KindNew, ID: id, Typ: rec.Typ}); err != nil {
			app.logger.Error(context.Background(), "queue push failed", "id", id, "error", err)
		}
	}
	app.ipc.Broadcast(ipc.Message{Type: ipc.MsgUpdated, ID: id})
}

// onRemoteChange runs after the sync engine ingested or pruned a record.
func (app *App) onRemoteChange(id string) {
	app.ipc.Broadcast(ipc.Message{Type: ipc.MsgUpdated, ID: id})
}

// HandleMessage dispatches one control-socket request.
func (app *App) HandleMessage(ctx context.Context, msg ipc.Message) error {
	switch msg.Type {
	case ipc.MsgOpenGUI:
		// launching the front-end is the front-end's job; the handoff only
		// proves the agent is alive
		app.logger.Info(ctx, "open-gui request received")
		return nil

	case ipc.MsgPaste:
		return app.bridge.Paste(ctx, msg.ID)

	case ipc.MsgNew:
		if msg.Record == nil {
			return fmt.Errorf("new: record missing")
		}
		id, err := app.store.Write(*msg.Record)
		if err != nil {
			return err
		}
		app.onCapture(id, *msg.Record)
		return nil

	case ipc.MsgEdit:
		if msg.Record == nil {
			return fmt.Errorf("edit: record missing")
		}
		newID, err := app.store.Rewrite(msg.ID, *msg.Record)
		if err != nil {
			return err
		}
		if app.engine != nil {
			if err := app.queue.Push(pending.Entry{Kind: pending.KindEdit, ID: msg.ID, NewID: newID, Typ: msg.Record.Typ}); err != nil {
				return err
			}
		}
		app.ipc.Broadcast(ipc.Message{Type: ipc.MsgUpdated, ID: newID})
		return nil

	case ipc.MsgRemove:
		if err := app.store.Remove(msg.ID); err != nil {
			return err
		}
		if app.engine != nil {
			if err := app.queue.Push(pending.Entry{Kind: pending.KindRemove, ID: msg.ID}); err != nil {
				return err
			}
		}
		app.ipc.Broadcast(ipc.Message{Type: ipc.MsgUpdated, ID: msg.ID})
		return nil

	case ipc.MsgUpdateSettings:
		if msg.Settings == nil {
			return fmt.Errorf("update_settings: settings missing")
		}
		app.config.Settings = *msg.Settings
		if err := app.config.SaveSettings(); err != nil {
			return err
		}
		// sync and retention changes apply on the next start
		app.logger.Info(ctx, "settings updated, restart to apply sync changes")
		return nil

	default:
		return fmt.Errorf("unexpected ipc message %q", msg.Type)
	}
}
