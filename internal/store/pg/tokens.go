package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"idgate.org/internal/auth"
)

const tokenColumns = `id, account_id, token, expires_at, created_at, created_by_ip,
	revoked_at, revoked_by_ip, replaced_by_token`

type tokenStore struct {
	db *sql.DB
}

func scanToken(row rowScanner) (auth.RefreshToken, error) {
	var (
		t          auth.RefreshToken
		revokedAt  sql.NullTime
		revokedBy  sql.NullString
		replacedBy sql.NullString
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.CreatedByIP,
		&revokedAt, &revokedBy, &replacedBy); err != nil {
		return auth.RefreshToken{}, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.RevokedAt = maybeTime(revokedAt)
	t.RevokedByIP = maybeString(revokedBy)
	t.ReplacedByToken = maybeString(replacedBy)
	return t, nil
}

func insertToken(ctx context.Context, q execer, t *auth.RefreshToken) error {
	_, err := q.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, token, expires_at, created_at, created_by_ip)
		values ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.AccountID, t.Token, t.ExpiresAt.UTC(), t.CreatedAt.UTC(), t.CreatedByIP)
	return translate(err)
}

func (s tokenStore) Insert(ctx context.Context, t *auth.RefreshToken) error {
	return insertToken(ctx, s.db, t)
}

func (s tokenStore) Find(ctx context.Context, token string) (*auth.RefreshToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx, `select `+tokenColumns+` from refresh_tokens where token = $1`, token))
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// Exchange revokes the presented token with a conditional update and inserts
// its replacement in the same transaction. Of concurrent exchanges of one
// token only the first to update the row sees it still active.
func (s tokenStore) Exchange(ctx context.Context, accountID int64, presented string, now time.Time, ip string, next *auth.RefreshToken) (bool, error) {
	swapped := false
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			update refresh_tokens
			set revoked_at = $3, revoked_by_ip = $4, replaced_by_token = $5
			where token = $1 and account_id = $2 and revoked_at is null and expires_at > $3
			returning id
		`, presented, accountID, now.UTC(), ip, next.Token).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s tokenStore) Revoke(ctx context.Context, token string, now time.Time, ip string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_by_ip = $3
		where token = $1 and revoked_at is null and expires_at > $2
	`, token, now.UTC(), ip)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s tokenStore) RevokeAll(ctx context.Context, accountID int64, now time.Time, ip string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		update refresh_tokens
		set revoked_at = $2, revoked_by_ip = $3
		where account_id = $1 and revoked_at is null and expires_at > $2
		returning token
	`, accountID, now.UTC(), ip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var revoked []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		revoked = append(revoked, t)
	}
	return revoked, rows.Err()
}

func (s tokenStore) ListActive(ctx context.Context, now time.Time) ([]auth.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+tokenColumns+`
		from refresh_tokens
		where revoked_at is null and expires_at > $1
		order by id
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
