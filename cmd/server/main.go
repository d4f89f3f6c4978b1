package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/aggregator"
	"github.com/dennisdiepolder/echo/backend/internal/api"
	"github.com/dennisdiepolder/echo/backend/internal/auth"
	"github.com/dennisdiepolder/echo/backend/internal/config"
	"github.com/dennisdiepolder/echo/backend/internal/events"
	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/logging"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/trend"
	"github.com/dennisdiepolder/echo/backend/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Bootstrap logger until the configured format is known
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	logger.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("store_driver", string(cfg.Store.Driver)).
		Str("trend_timezone", cfg.Analytics.TrendTimezone).
		Msg("starting echo backend server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	m := metrics.Get()

	publisher := events.New(&cfg.Kafka, m, logger)
	defer publisher.Close()

	authenticator := auth.NewAuthenticator(cfg.Auth, logger)
	if cfg.Auth.VerifySignature && !cfg.Auth.SkipAuth {
		if err := authenticator.InitJWKS(); err != nil {
			// Retried lazily on the first request
			logger.Warn().Err(err).Msg("failed to load JWKS at startup")
		}
	}

	l := ledger.New(store, logger, ledger.WithPublisher(publisher), ledger.WithMetrics(m))
	agg := aggregator.NewAggregator(store, store, cfg.Analytics.LeaderboardLimit, m, logger)
	builder := trend.NewBuilder(store, store, cfg.Analytics.TrendLocation, cfg.Analytics.TrendWindowDays, m, logger)

	srvHandlers := &api.Server{
		Calls:       api.NewCallsHandler(l, logger),
		Users:       api.NewUserHandler(l, builder, time.Now, logger),
		Leaderboard: api.NewLeaderboardHandler(agg, logger),
		Admin:       api.NewAdminHandler(l, logger),
	}

	r := newRouter(cfg, srvHandlers, authenticator, m, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// newRouter wires middleware, public routes and the authenticated /api tree
func newRouter(cfg *config.Config, handlers *api.Server, authenticator *auth.Authenticator, m *metrics.Metrics, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Handle("/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Use(api.Instrument(m))
		handlers.Routes(r)
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"echo-backend"}`)
}
