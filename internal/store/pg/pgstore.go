// Package pg implements auth.Store on PostgreSQL through the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"idgate.org/internal/auth"
	"idgate.org/internal/identity"
	"idgate.org/internal/outcome"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool is used by Open for zero PoolConfig fields.
var DefaultPool = PoolConfig{
	MaxOpenConns:    50,
	MaxIdleConns:    25,
	ConnMaxLifetime: 15 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
}

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = DefaultPool.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = DefaultPool.MaxIdleConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = DefaultPool.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = DefaultPool.ConnMaxIdleTime
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Accounts(context.Context) auth.AccountStore { return accountStore{s.db} }

func (s *Store) Groups(context.Context) auth.GroupStore { return groupStore{s.db} }

func (s *Store) Permissions(context.Context) auth.PermissionStore { return permissionStore{s.db} }

func (s *Store) RefreshTokens(context.Context) auth.RefreshTokenStore { return tokenStore{s.db} }

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// translate maps driver errors onto the auth sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func normalize(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func nullString(m outcome.Maybe[string]) sql.NullString {
	if m.HasNoValue() {
		return sql.NullString{}
	}
	return sql.NullString{String: m.Value(), Valid: true}
}

func nullTime(m outcome.Maybe[time.Time]) sql.NullTime {
	if m.HasNoValue() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: m.Value().UTC(), Valid: true}
}

func maybeString(ns sql.NullString) outcome.Maybe[string] {
	if !ns.Valid {
		return outcome.None[string]()
	}
	return outcome.Some(ns.String)
}

func maybeTime(nt sql.NullTime) outcome.Maybe[time.Time] {
	if !nt.Valid {
		return outcome.None[time.Time]()
	}
	return outcome.Some(nt.Time.UTC())
}

func storedEmail(raw string) (identity.Email, error) {
	r := identity.ParseEmail(raw)
	if r.IsFailure() {
		return identity.Email{}, fmt.Errorf("stored username %q: %w", raw, r.Err())
	}
	return r.Value(), nil
}
