package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/api"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/dispatcher"
	"chatrelay/internal/hub"
	"chatrelay/internal/presence"
	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
	"chatrelay/internal/router"
	"chatrelay/internal/websocket"
)

// Application owns every component and their start/stop order.
type Application struct {
	config     *config.Config
	log        zerolog.Logger
	store      database.Store
	registry   *registry.Registry
	hub        *hub.Hub
	limiter    *router.RateLimiter
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewApplication opens the store, applies migrations and wires the components:
// Store → Registry → Hub → Router → Presence → Relay → Dispatcher → WebSocket → API.
func NewApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}
	if err := database.Migrate(ctx, store, cfg.Database.Driver); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database migrations applied")

	reg := registry.NewRegistry()
	messageHub := hub.NewHub(cfg.Hub.QueueSize, log)
	rooms := router.NewRouter(reg, messageHub, log)

	notifier := presence.NewNotifier(rooms, log)
	notifier.Attach(reg)

	messageRelay := relay.New(store, rooms, log)
	limiter := router.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)

	d, err := dispatcher.New(dispatcher.Deps{
		Registry: reg,
		Notifier: notifier,
		Relay:    messageRelay,
		Limiter:  limiter,
		Logger:   log,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}

	wsHandler := websocket.NewHandler(d, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, log)

	apiServer := api.NewServer(store, reg, messageRelay, wsHandler, log)

	return &Application{
		config:   cfg,
		log:      log.With().Str("component", "app").Logger(),
		store:    store,
		registry: reg,
		hub:      messageHub,
		limiter:  limiter,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
			Handler:      apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// Start starts the hub and the limiter sweeper, then begins accepting connections.
// It returns once the listener is bound; serve errors are delivered on the returned channel.
func (app *Application) Start(ctx context.Context) (<-chan error, error) {
	if err := app.hub.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start message hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return nil, fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = ln
	app.stopCh = make(chan struct{})
	app.mu.Unlock()

	app.wg.Add(1)
	go app.sweepLimiter(app.stopCh)

	serveErr := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(serveErr)
	}()

	app.log.Info().Str("addr", ln.Addr().String()).Msg("chatrelay started")
	return serveErr, nil
}

func (app *Application) sweepLimiter(stop <-chan struct{}) {
	defer app.wg.Done()

	ticker := time.NewTicker(app.config.RateLimit.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.limiter.Cleanup()
		case <-stop:
			return
		}
	}
}

// Stop shuts down in reverse dependency order: HTTP, live connections, hub, store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, app.config.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	for _, conn := range app.registry.AllConnections() {
		_ = conn.Close()
	}

	app.mu.Lock()
	if app.stopCh != nil {
		close(app.stopCh)
		app.stopCh = nil
	}
	app.mu.Unlock()
	app.wg.Wait()

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	app.log.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listen address, or the configured one before Start.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
