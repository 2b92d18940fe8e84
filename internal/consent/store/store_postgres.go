package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"consentkit/pkg/platform/sentinel"
)

// DefaultTable is the table created by the consent_records migration.
const DefaultTable = "consent_records"

// PostgreSQL error code for a missing relation.
const codeUndefinedTable = "42P01"

// PostgresStore persists consent values in a key/value table.
// Expired rows are invisible to Get and removed by PurgeExpired.
type PostgresStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTable overrides the table name.
func WithTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		if name != "" {
			s.table = name
		}
	}
}

// WithPostgresClock overrides the clock used for expiry.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		s.now = now
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`
		SELECT value
		FROM %s
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, pq.QuoteIdentifier(s.table))

	var value string
	err := s.db.QueryRowContext(ctx, query, key, s.now().UTC()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, unavailable("get consent value", err)
	}
	return []byte(value), nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`, pq.QuoteIdentifier(s.table))

	now := s.now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		at := now.Add(ttl)
		expiresAt = &at
	}
	if _, err := s.db.ExecContext(ctx, query, key, string(value), now, expiresAt); err != nil {
		return unavailable("set consent value", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return unavailable("delete consent value", err)
	}
	return nil
}

// PurgeExpired removes rows whose retention has elapsed and reports how many went.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, pq.QuoteIdentifier(s.table))

	res, err := s.db.ExecContext(ctx, query, s.now().UTC())
	if err != nil {
		return 0, unavailable("purge expired consent values", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired consent values: %w", err)
	}
	return n, nil
}

func unavailable(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
		return fmt.Errorf("%w: %s: table missing, run migrations: %w", sentinel.ErrUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel.ErrUnavailable, op, err)
}
