//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentkit/internal/consent/store"
	"consentkit/pkg/platform/sentinel"
	"consentkit/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	now      time.Time
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), store.DefaultTable))
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = store.NewPostgres(s.postgres.DB, store.WithPostgresClock(func() time.Time { return s.now }))
}

func (s *PostgresStoreSuite) TestUpsertKeepsOneRowPerClient() {
	ctx := context.Background()
	key := store.Key("client-1")

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"v":1}`), time.Hour))
	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"v":2}`), time.Hour))

	got, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(`{"v":2}`, string(got))

	n, err := s.postgres.CountRows(ctx, store.DefaultTable)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) TestExpiredRowsAreInvisibleAndPurged() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, store.Key("old"), []byte(`{}`), time.Hour))
	s.Require().NoError(s.store.Set(ctx, store.Key("kept"), []byte(`{}`), 0))

	s.now = s.now.Add(time.Hour)
	_, err := s.store.Get(ctx, store.Key("old"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	purged, err := s.store.PurgeExpired(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, purged)

	_, err = s.store.Get(ctx, store.Key("kept"))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	key := store.Key("client-2")
	s.Require().NoError(s.store.Set(ctx, key, []byte(`{}`), time.Hour))
	s.Require().NoError(s.store.Delete(ctx, key))

	_, err := s.store.Get(ctx, key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestMissingTableIsUnavailable() {
	missing := store.NewPostgres(s.postgres.DB, store.WithTable("no_such_table"))

	_, err := missing.Get(context.Background(), store.Key("client-3"))
	s.Require().ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *PostgresStoreSuite) TestConcurrentWritersLeaveOneRow() {
	ctx := context.Background()
	key := store.Key("client-4")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.Set(ctx, key, []byte(`{}`), time.Hour))
		}()
	}
	wg.Wait()

	n, err := s.postgres.CountRows(ctx, store.DefaultTable)
	s.Require().NoError(err)
	s.Equal(1, n)
}
