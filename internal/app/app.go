// Package app wires the gateway's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dispatch-gateway/internal/data/store"
	"dispatch-gateway/internal/dispatch"
	"dispatch-gateway/internal/infra/config"
	"dispatch-gateway/internal/infra/logger"
	"dispatch-gateway/internal/qr"
	"dispatch-gateway/internal/server"
	"dispatch-gateway/internal/session"
	"dispatch-gateway/internal/transport/apikey"
	"dispatch-gateway/internal/whatsapp"
)

// App is the main application orchestrator.
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Store      *store.Store
	Dispatches *store.DispatchStore
	Provider   *apikey.Provider
	Session    *session.Manager // nil when the session transport is disabled
	Gateway    *dispatch.Gateway
	Server     *server.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new App instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New("gateway", cfg.LogLevel)
	log.Infof("Initializing dispatch gateway...")

	if err := cfg.EnsureStorePath(); err != nil {
		return nil, fmt.Errorf("failed to ensure store path: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	appStore, err := store.New(ctx, cfg.DBPath(), log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	a := &App{
		Config:     cfg,
		Log:        log,
		Store:      appStore,
		Dispatches: store.NewDispatchStore(appStore),
		Provider:   apikey.NewProvider(cfg.Provider, log),
		ctx:        ctx,
		cancel:     cancel,
	}

	// A nil *session.Manager must not reach the gateway as a non-nil interface.
	var sess dispatch.Session
	var view server.SessionView
	if cfg.Session.Enabled {
		renderer := qr.NewRenderer(cfg.Session.QRSize)
		a.Session = session.NewManager(ctx, a.newSessionClient, renderer.PNG, cfg.Session.QRTimeout, log)
		sess, view = a.Session, a.Session
	} else {
		log.Infof("Session transport disabled")
	}

	a.Gateway = dispatch.New(a.Provider, sess, a.Dispatches, log)
	a.Server = server.New(cfg.HTTP, a.Gateway, view, a.Dispatches, log)
	return a, nil
}

// newSessionClient builds the whatsmeow client for the stored device.
// The session manager calls it once.
func (a *App) newSessionClient() (session.Client, error) {
	device, err := a.Store.GetDevice(a.ctx)
	if err != nil {
		return nil, err
	}
	return whatsapp.NewClient(device, a.Config.DeviceName, a.Log), nil
}

// Context is cancelled on shutdown.
func (a *App) Context() context.Context {
	return a.ctx
}

// HandleSignals cancels the app context on SIGINT or SIGTERM.
func (a *App) HandleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			a.Log.Infof("Received %v, initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Run serves HTTP until the context is cancelled or the listener fails.
func (a *App) Run() error {
	a.Log.Infof("Starting dispatch gateway...")
	a.HandleSignals()

	// Start pairing early so the first request finds a code ready.
	if a.Session != nil {
		if err := a.Session.Initialize(); err != nil {
			a.Log.Errorf("Session initialization failed: %v", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start(nil) }()

	a.Log.Infof("Dispatch gateway is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-a.ctx.Done():
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.cancel()
	err := a.Server.Shutdown(context.Background())
	return errors.Join(err, a.Store.Close())
}
