package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"consentkit/internal/consent/events"
	"consentkit/internal/consent/handler"
	consentmetrics "consentkit/internal/consent/metrics"
	"consentkit/internal/consent/store"
	"consentkit/internal/platform/config"
	"consentkit/internal/platform/database"
	"consentkit/internal/platform/health"
	"consentkit/internal/platform/kafka"
	"consentkit/internal/platform/redis"
	"consentkit/pkg/platform/circuit"
)

// expiredPurger is implemented by stores that cannot expire rows on their own.
type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type openedBackend struct {
	backend handler.Backend
	purger  expiredPurger
	close   func()
}

// openBackend connects the store selected by CONSENT_STORE and registers its readiness check.
func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger, h *health.Handler, cm *consentmetrics.Metrics) (*openedBackend, error) {
	switch cfg.Store {
	case config.StoreCookie:
		return &openedBackend{
			backend: handler.CookieBackend(store.WithSecureCookies(cfg.CookieSecure)),
			close:   func() {},
		}, nil

	case config.StoreMemory:
		log.Warn("using in-memory consent store; records are lost on restart")
		return &openedBackend{
			backend: handler.SharedBackend(store.NewInMemory()),
			close:   func() {},
		}, nil

	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		if client == nil {
			return nil, fmt.Errorf("REDIS_URL is required for the %s store", cfg.Store)
		}
		h.RegisterCheck("redis", client.Health)
		log.Info("redis consent store connected")
		return &openedBackend{
			backend: sharedBackend(cfg, log, cm, store.NewRedis(client.Client)),
			close:   func() { closeQuietly(log, "redis", client.Close) },
		}, nil

	case config.StorePostgres:
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if pool == nil {
			return nil, fmt.Errorf("DATABASE_URL is required for the %s store", cfg.Store)
		}
		if cfg.Database.Migrate {
			if err := pool.Migrate(ctx); err != nil {
				closeQuietly(log, "postgres", pool.Close)
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		h.RegisterCheck("postgres", pool.Health)
		st := store.NewPostgres(pool.DB(), store.WithTable(cfg.Database.Table))
		log.Info("postgres consent store connected", "table", cfg.Database.Table)
		return &openedBackend{
			backend: sharedBackend(cfg, log, cm, st),
			purger:  st,
			close:   func() { closeQuietly(log, "postgres", pool.Close) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown consent store %q", cfg.Store)
	}
}

// sharedBackend wraps a server-side store in a cookie failover when enabled.
// An open circuit is reported on the consentkit_store_fallback_active gauge.
func sharedBackend(cfg config.Server, log *slog.Logger, cm *consentmetrics.Metrics, st store.KV) handler.Backend {
	if !cfg.CookieFallback {
		return handler.SharedBackend(st)
	}
	breaker := circuit.New("consent-store-"+cfg.Store, circuit.WithOnChange(func(name string, change circuit.StateChange) {
		if cm != nil {
			cm.SetStoreFallback(name, change.Opened)
		}
	}))
	return handler.FailoverBackend(st, breaker, log, store.WithSecureCookies(cfg.CookieSecure))
}

type startedRelay struct {
	close func()
}

// startRelay subscribes a Kafka relay to the bus when brokers are configured.
func startRelay(ctx context.Context, cfg config.Server, log *slog.Logger, bus *events.Bus, h *health.Handler) (*startedRelay, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka relay disabled; consent events stay in process")
		return &startedRelay{close: func() {}}, nil
	}

	kcfg := kafka.DefaultConfig()
	kcfg.Brokers = strings.Join(cfg.Kafka.Brokers, ",")
	kcfg.Acks = cfg.Kafka.Acks
	producer, err := kafka.New(kcfg, log)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.Topic, cfg.Kafka.Partitions, 1); err != nil {
		log.Warn("could not ensure consent topic", "topic", cfg.Kafka.Topic, "error", err)
	}

	relay, err := events.NewKafkaRelay(producer, cfg.Kafka.Topic, []byte(cfg.PseudonymKey), log)
	if err != nil {
		closeQuietly(log, "kafka", func() error { return producer.Close(5 * time.Second) })
		return nil, err
	}
	unsubscribe := bus.Subscribe("kafka-relay", relay.Handle)
	h.RegisterCheck("kafka", producer.Health)
	log.Info("kafka relay started", "topic", cfg.Kafka.Topic)

	return &startedRelay{close: func() {
		unsubscribe()
		closeQuietly(log, "kafka", func() error { return producer.Close(shutdownTimeout) })
	}}, nil
}

// purgeExpired deletes stale rows on an interval until ctx is done.
func purgeExpired(ctx context.Context, p expiredPurger, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				log.Warn("failed to purge expired consent records", "error", err)
				continue
			}
			if n > 0 {
				log.Info("purged expired consent records", "count", n)
			}
		}
	}
}

func closeQuietly(log *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("failed to close resource", "resource", name, "error", err)
	}
}
