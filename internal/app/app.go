package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"dmsdk/internal/config"
	dmerrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/internal/license"
	httpserver "dmsdk/internal/transport/http"
	ws "dmsdk/internal/websocket"
	"dmsdk/pkg/contracts/events"
	"dmsdk/pkg/dmapi"
)

const AppName = "DM Launcher SDK"

// Application wires the SDK components for a process started by the
// launcher.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	API           *dmapi.API
	License       *license.StatusRecorder

	// Status server parts, nil unless Config.Status.Enabled.
	Hub    *ws.Hub
	Router http.Handler
	Server *httpserver.Server

	listener  net.Listener
	lastState atomic.Pointer[dmapi.UpdateState]
}

// NewApplication loads the configuration from configFile and the
// environment, applies overrides (command line flags) and builds the
// application with the global logger.
func NewApplication(configFile string, overrides ...func(*config.Config)) (*Application, error) {
	cfg, err := config.LoadFrom(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(overrides) > 0 {
		for _, override := range overrides {
			override(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger)
}

// New builds the application from cfg. Nothing talks to the launcher
// until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", config.AppVersion),
	)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	keyPEM, err := cfg.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	recorder := license.NewStatusRecorder()
	api, err := dmapi.New(keyPEM,
		dmapi.WithLogger(logger),
		dmapi.WithEndpoint(cfg.Pipe),
		dmapi.WithConnectTimeout(cfg.ConnectTimeout),
		dmapi.WithRequestTimeout(cfg.RequestTimeout),
		dmapi.WithRetryPolicy(license.RetryPolicyFrom(cfg.Retry)),
		dmapi.WithMeter(otelProviders.Meter),
		dmapi.WithStatusRecorder(recorder),
	)
	if err != nil {
		return nil, err
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		API:           api,
		License:       recorder,
	}

	if cfg.Status.Enabled {
		if err := a.setupStatusServer(); err != nil {
			return nil, fmt.Errorf("failed to set up status server: %w", err)
		}
	}
	return a, nil
}

func (a *Application) setupStatusServer() error {
	hubMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}
	httpMetrics, err := infrastructure.NewHTTPMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	a.Hub = ws.NewHub(a.Logger, hubMetrics)
	a.Router = httpserver.NewRouter(httpserver.Deps{
		Config:      a.Config.Status,
		Session:     a.API,
		License:     a.License,
		Tracker:     a.API,
		Hub:         a.Hub,
		Snapshot:    a.snapshot,
		Metrics:     a.OTelProviders.PrometheusHTTP,
		HTTPMetrics: httpMetrics,
		Tracer:      a.OTelProviders.Tracer,
		Logger:      a.Logger,
	})
	a.Server = httpserver.NewServer(a.Config.Status, a.Router, a.Logger)
	return nil
}

// snapshot is sent to websocket clients when they connect. While the
// watcher runs it owns the launcher connection, so its last state is used
// instead of a request that would queue behind the long-poll.
func (a *Application) snapshot(ctx context.Context) []events.WebSocketMessage {
	state := a.lastState.Load()
	if state == nil && !a.Config.Updates.Watch {
		var err error
		if state, err = a.API.GetUpdateState(ctx); err != nil {
			a.Logger.Debug("No update state for snapshot", slog.String("error", err.Error()))
			return nil
		}
	}
	if state == nil {
		return nil
	}
	return []events.WebSocketMessage{{
		BaseMessage: events.BaseMessage{
			Type:      events.MessageTypeUpdateState,
			Timestamp: time.Now().UTC(),
		},
		Data: ws.UpdateStateEvent(*state),
	}}
}

// Start checks the license, tells the launcher the application is up and
// binds the status listener. A license that cannot be verified or
// activated fails Start with a verification error carrying the coarse
// message.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Checking license",
		slog.String("endpoint", a.API.Endpoint()),
		slog.Bool("status_server", a.Config.Status.Enabled),
		slog.Bool("watch_updates", a.Config.Updates.Watch),
	)

	result := a.API.VerifyAndActivate(ctx, a.Config.ConnectTimeout)
	if !result.Success {
		return &dmerrors.Error{
			Kind:    dmerrors.KindVerification,
			Op:      "app.start",
			Message: result.Error,
		}
	}

	if err := a.API.Initiated(ctx); err != nil {
		return fmt.Errorf("failed to notify launcher: %w", err)
	}

	if a.Server != nil {
		ln, err := net.Listen("tcp", a.Config.Status.Addr)
		if err != nil {
			return dmerrors.Wrap(dmerrors.KindConfiguration, "app.start",
				fmt.Errorf("failed to bind status server: %w", err))
		}
		a.listener = ln
	}

	a.Logger.InfoContext(ctx, "Application started", slog.String("status_addr", a.StatusAddr()))
	return nil
}

// StatusAddr returns the bound status server address, or "" before Start
// or when the server is disabled.
func (a *Application) StatusAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Serve runs the status server and the update watcher until ctx is done
// or one of them fails. It returns at once when neither is enabled.
func (a *Application) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Hub != nil {
		g.Go(func() error { return a.Hub.Run(ctx) })
	}
	if a.Server != nil && a.listener != nil {
		g.Go(func() error { return a.Server.Serve(ctx, a.listener) })
	}
	if a.Config.Updates.Watch {
		g.Go(func() error { return a.watch(ctx) })
	}

	return g.Wait()
}

func (a *Application) watch(ctx context.Context) error {
	opts := dmapi.WatchOptions{
		MinInterval: a.Config.Updates.MinPollInterval,
		Timeout:     a.Config.WaitTimeout,
	}
	return a.API.Watch(ctx, opts, func(ctx context.Context, state dmapi.UpdateState) {
		a.lastState.Store(&state)
		a.Logger.InfoContext(ctx, "Update state",
			slog.Uint64("sequence", state.Sequence),
			slog.String("status", state.RawStatus),
		)
		if a.Hub == nil {
			return
		}
		if err := a.Hub.PublishUpdateState(ctx, state); err != nil {
			a.Logger.DebugContext(ctx, "Update state not published", slog.String("error", err.Error()))
		}
	})
}

// Stop closes the launcher connection and flushes telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	if a.listener != nil {
		// Already closed when Serve ran.
		_ = a.listener.Close()
	}
	if err := a.API.Close(); err != nil {
		a.Logger.WarnContext(ctx, "Error closing launcher connection", slog.String("error", err.Error()))
	}

	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Status.ShutdownTimeout)
		defer cancel()
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run starts the application and serves until SIGINT or SIGTERM.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Stop(ctx)
		return err
	}

	serveErr := a.Serve(ctx)
	if ctx.Err() != nil {
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	}
	if err := a.Stop(ctx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
