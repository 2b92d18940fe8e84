package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"consentkit/pkg/testutil"
)

func TestReadiness(t *testing.T) {
	h := New("test")
	r := chi.NewRouter()
	h.Register(r)

	t.Run("ready when every check passes", func(t *testing.T) {
		h.RegisterCheck("redis", func(context.Context) error { return nil })

		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health/ready"))

		assert.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[ReadinessResponse](t, rr)
		assert.Equal(t, "up", body.Checks["redis"])
	})

	t.Run("not ready when a check fails", func(t *testing.T) {
		h.RegisterCheck("postgres", func(context.Context) error { return errors.New("connection refused") })

		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health/ready"))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := testutil.UnmarshalResponse[ReadinessResponse](t, rr)
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "down: connection refused", body.Checks["postgres"])
	})
}

func TestLiveness(t *testing.T) {
	r := chi.NewRouter()
	New("test").Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health/live"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alive", testutil.UnmarshalResponse[LivenessResponse](t, rr).Status)
}

func TestReadinessBoundsSlowChecks(t *testing.T) {
	h := New("test", WithCheckTimeout(20*time.Millisecond))
	h.RegisterCheck("kafka", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.RegisterCheck("redis", func(context.Context) error { return nil })
	r := chi.NewRouter()
	h.Register(r)

	start := time.Now()
	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health/ready"))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := testutil.UnmarshalResponse[ReadinessResponse](t, rr)
	assert.Equal(t, "down: context deadline exceeded", body.Checks["kafka"])
	assert.Equal(t, "up", body.Checks["redis"])
}

func TestStatusCountsChecks(t *testing.T) {
	h := New("staging")
	h.RegisterCheck("postgres", func(context.Context) error { return nil })
	r := chi.NewRouter()
	h.Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/health"))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := testutil.UnmarshalResponse[StatusResponse](t, rr)
	assert.Equal(t, "staging", body.Environment)
	assert.Equal(t, 1, body.Checks)
}
