package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"consentkit/pkg/platform/circuit"
	"consentkit/pkg/platform/sentinel"
)

// KV is the byte-level contract every backend in this package satisfies.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// FailoverStore fronts a shared server-side store with a per-visitor fallback,
// normally the consent cookie. Once the breaker opens, records are read from
// and written to the fallback under DefaultKey so decisions still stick while
// the shared store is down.
type FailoverStore struct {
	primary  KV
	fallback KV
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFailover(primary, fallback KV, breaker *circuit.Breaker, logger *slog.Logger) *FailoverStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverStore{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

// Get prefers the primary. A record missing there may have been written to
// the fallback during an earlier outage.
func (s *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.primary.Get(ctx, key)
	switch {
	case err == nil:
		s.succeeded(ctx)
		return value, nil
	case errors.Is(err, sentinel.ErrNotFound):
		s.succeeded(ctx)
		return s.fallback.Get(ctx, DefaultKey)
	case errors.Is(err, sentinel.ErrMalformed):
		s.succeeded(ctx)
		return nil, err
	}

	if s.failed(ctx, "get", err) {
		return s.fallback.Get(ctx, DefaultKey)
	}
	return nil, err
}

func (s *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.primary.Set(ctx, key, value, ttl)
	if err == nil {
		s.succeeded(ctx)
		return nil
	}
	if s.failed(ctx, "set", err) {
		return s.fallback.Set(ctx, DefaultKey, value, ttl)
	}
	return err
}

// Delete removes the record from both stores.
func (s *FailoverStore) Delete(ctx context.Context, key string) error {
	primaryErr := s.primary.Delete(ctx, key)
	if primaryErr == nil {
		s.succeeded(ctx)
	} else {
		s.failed(ctx, "delete", primaryErr)
	}
	return errors.Join(primaryErr, s.fallback.Delete(ctx, DefaultKey))
}

func (s *FailoverStore) failed(ctx context.Context, op string, err error) (useFallback bool) {
	useFallback, change := s.breaker.RecordFailure()
	if change.Opened {
		s.logger.WarnContext(ctx, "consent store circuit opened; using fallback",
			"breaker", s.breaker.Name(),
			"operation", op,
			"error", err,
		)
	}
	return useFallback
}

func (s *FailoverStore) succeeded(ctx context.Context) {
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "consent store circuit closed", "breaker", s.breaker.Name())
	}
}
