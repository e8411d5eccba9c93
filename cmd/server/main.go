// Package main is the entry point for the API gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/auth-platform/platform/api-gateway/internal/circuitbreaker"
	"github.com/auth-platform/platform/api-gateway/internal/config"
	"github.com/auth-platform/platform/api-gateway/internal/events"
	"github.com/auth-platform/platform/api-gateway/internal/gateway"
	"github.com/auth-platform/platform/api-gateway/internal/observability"
	"github.com/auth-platform/platform/api-gateway/internal/policy"
	"github.com/auth-platform/platform/api-gateway/internal/routes"
	"github.com/auth-platform/platform/api-gateway/internal/store"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			NewLogger,
			prometheus.NewRegistry,
			observability.NewMetrics,
			NewTracerProvider,
			NewTracer,
			NewStore,
			events.NewBus,
			NewRouteManager,
			NewPolicyEngine,
			circuitbreaker.NewService,
			gateway.NewProxy,
			gateway.NewPipeline,
			gateway.NewAdmin,
			gateway.NewRouter,
		),
		fx.Invoke(LogStartup),
		fx.Invoke(RunServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),
	)

	app.Run()
}

// NewLogger creates a structured logger based on configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// NewTracerProvider sets up tracing and ties its shutdown to the app
// lifecycle.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*observability.TracerProvider, error) {
	provider, err := observability.NewTracerProvider(context.Background(), cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
	return provider, nil
}

// NewTracer extracts the tracer for pipeline injection.
func NewTracer(provider *observability.TracerProvider) trace.Tracer {
	return provider.Tracer()
}

// NewStore creates the shared Redis store and closes it on shutdown.
func NewStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) store.Store {
	st := store.NewRedisStore(cfg.Redis, logger)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return st.Close()
		},
	})
	return st
}

// NewRouteManager creates the route manager and loads the route table
// before the server starts accepting traffic.
func NewRouteManager(lc fx.Lifecycle, cfg *config.Config, st store.Store, logger *slog.Logger) *routes.Manager {
	manager := routes.NewManager(cfg.Routes, st, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return manager.Initialize(ctx)
		},
	})
	return manager
}

// NewPolicyEngine creates the engine with the built-in policies installed.
func NewPolicyEngine(cfg *config.Config, st store.Store, logger *slog.Logger) *policy.Engine {
	engine := policy.NewEngine(logger)
	engine.Register(policy.NewAuthentication(cfg.Auth))
	engine.Register(policy.NewRateLimit(st, cfg.Rate, logger))
	engine.Register(policy.NewIPFilter(cfg.IP))
	return engine
}

// LogStartup logs the effective configuration with secrets masked.
func LogStartup(cfg *config.Config, logger *slog.Logger) {
	logger.Info("gateway configuration loaded", slog.Any("config", cfg.LogSafe()))
}

// RunServer binds the HTTP server to the fx lifecycle with graceful
// shutdown.
func RunServer(lc fx.Lifecycle, cfg *config.Config, router *chi.Mux, logger *slog.Logger) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("gateway listening", slog.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			logger.Info("gateway shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
