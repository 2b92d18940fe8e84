//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentkit/internal/consent/store"
	"consentkit/pkg/platform/sentinel"
	"consentkit/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	key := store.Key("client-1")

	_, err := s.store.Get(ctx, key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"necessary":true}`), time.Hour))
	got, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(`{"necessary":true}`, string(got))

	ttl, err := s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)
	s.InDelta(time.Hour.Seconds(), ttl.Seconds(), 5)

	s.Require().NoError(s.store.Delete(ctx, key))
	_, err = s.store.Get(ctx, key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestServerEnforcesExpiry() {
	ctx := context.Background()
	key := store.Key("client-2")

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{}`), time.Second))
	s.Eventually(func() bool {
		_, err := s.store.Get(ctx, key)
		return err != nil
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisStoreSuite) TestClosedClientIsUnavailable() {
	client := containers.NewRedisContainer(s.T()).Client
	s.Require().NoError(client.Close())
	closed := store.NewRedis(client)

	_, err := closed.Get(context.Background(), store.Key("client-3"))
	s.Require().ErrorIs(err, sentinel.ErrUnavailable)
}
