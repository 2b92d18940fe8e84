package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"consentkit/internal/consent/events"
	"consentkit/internal/consent/handler"
	consentmetrics "consentkit/internal/consent/metrics"
	"consentkit/internal/consent/receipt"
	"consentkit/internal/platform/config"
	"consentkit/internal/platform/health"
	"consentkit/internal/platform/httpserver"
	"consentkit/internal/platform/logger"
	"consentkit/internal/platform/metrics"
	"consentkit/internal/platform/middleware"
	"consentkit/pkg/platform/middleware/metadata"
	"consentkit/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Consent logic lives in internal/consent.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing consentkit",
		"addr", cfg.Addr,
		"store", cfg.Store,
		"environment", cfg.Environment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	healthHandler := health.New(cfg.Environment)
	bus := events.NewBus(log)
	consentMetrics := consentmetrics.New()

	backend, err := openBackend(ctx, cfg, log, healthHandler, consentMetrics)
	if err != nil {
		return err
	}
	defer backend.close()

	relay, err := startRelay(ctx, cfg, log, bus, healthHandler)
	if err != nil {
		return err
	}
	defer relay.close()

	consentHandler := handler.New(backend.backend, log,
		handler.WithPublisher(bus),
		handler.WithIssuer(receipt.NewIssuer(cfg.ReceiptSigningKey, "consentkit",
			receipt.WithRetention(cfg.Retention))),
		handler.WithMetrics(consentMetrics),
		handler.WithSecureCookies(cfg.CookieSecure),
		handler.WithRetention(cfg.Retention),
	)

	router := newRouter(log, metrics.New(), cfg.RequestTimeout, healthHandler, consentHandler)
	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if backend.purger != nil {
		g.Go(func() error {
			purgeExpired(ctx, backend.purger, cfg.PurgeInterval, log)
			return nil
		})
	}

	return g.Wait()
}

func newRouter(log *slog.Logger, m *metrics.Metrics, timeout time.Duration, healthHandler *health.Handler, consentHandler *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(m))
	r.Use(middleware.Timeout(timeout))

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	consentHandler.Register(r)
	return r
}
