package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"idgate.org/internal/auth"
	"idgate.org/internal/ids"
)

const accountColumns = `id, first_name, last_name, username, password_hash,
	access_failed_count, lockout_end, created_at, modified_at`

type accountStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a                 auth.Account
		first, last       sql.NullString
		username          string
		lockout, modified sql.NullTime
	)
	if err := row.Scan(&a.ID, &first, &last, &username, &a.PasswordHash,
		&a.AccessFailedCount, &lockout, &a.CreatedAt, &modified); err != nil {
		return nil, err
	}
	email, err := storedEmail(username)
	if err != nil {
		return nil, err
	}
	a.Username = email
	a.FirstName = maybeString(first)
	a.LastName = maybeString(last)
	a.LockoutEnd = maybeTime(lockout)
	a.ModifiedAt = maybeTime(modified)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s accountStore) Insert(ctx context.Context, a *auth.Account) (int64, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			insert into accounts (first_name, last_name, username, normalized_username, password_hash, created_at)
			values ($1, $2, $3, $4, $5, $6)
			returning id
		`, nullString(a.FirstName), nullString(a.LastName), a.Username.String(), a.Username.Normalized(),
			a.PasswordHash, a.CreatedAt.UTC()).Scan(&a.ID)
		if err != nil {
			return translate(err)
		}
		return applyUserGroups(ctx, tx, a)
	})
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (s accountStore) Find(ctx context.Context, id int64) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
	return s.load(ctx, row)
}

func (s accountStore) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where normalized_username = $1`, normalize(username))
	return s.load(ctx, row)
}

func (s accountStore) load(ctx context.Context, row *sql.Row) (*auth.Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		return nil, translate(err)
	}
	rows, err := s.db.QueryContext(ctx, `
		select ag.id, ag.group_id, g.name
		from account_groups ag
		join user_groups g on g.id = ag.group_id
		where ag.account_id = $1
		order by g.name
	`, a.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		l := &auth.UserGroup{AccountID: a.ID}
		if err := rows.Scan(&l.ID, &l.GroupID, &l.GroupName); err != nil {
			return nil, err
		}
		a.Groups = append(a.Groups, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

func (s accountStore) HasUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from accounts where normalized_username = $1)`, normalize(username)).Scan(&exists)
	return exists, err
}

// Update writes profile fields and the membership diff. Lockout columns are left alone.
func (s accountStore) Update(ctx context.Context, a *auth.Account) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update accounts
			set first_name = $2, last_name = $3, password_hash = $4, modified_at = $5
			where id = $1
		`, a.ID, nullString(a.FirstName), nullString(a.LastName), a.PasswordHash, nullTime(a.ModifiedAt))
		if err != nil {
			return translate(err)
		}
		if err := mustAffect(res); err != nil {
			return err
		}
		return applyUserGroups(ctx, tx, a)
	})
}

func applyUserGroups(ctx context.Context, tx execer, a *auth.Account) error {
	for _, l := range a.Groups {
		switch l.State {
		case auth.LinkAdded:
			if l.ID == "" {
				l.ID = ids.New()
			}
			l.AccountID = a.ID
			if _, err := tx.ExecContext(ctx, `
				insert into account_groups (id, account_id, group_id)
				values ($1, $2, $3)
				on conflict (account_id, group_id) do nothing
			`, l.ID, a.ID, l.GroupID); err != nil {
				return translate(err)
			}
		case auth.LinkDeleted:
			if _, err := tx.ExecContext(ctx, `delete from account_groups where account_id = $1 and group_id = $2`, a.ID, l.GroupID); err != nil {
				return err
			}
		}
	}
	return nil
}

// IncrementFailedLogin counts the failure and applies the lockout in one
// statement so concurrent failures are all counted. A later lockout end is kept.
func (s accountStore) IncrementFailedLogin(ctx context.Context, id int64, now time.Time, policy auth.LockoutPolicy) (auth.LockoutState, error) {
	var (
		state auth.LockoutState
		end   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update accounts
		set access_failed_count = access_failed_count + 1,
		    lockout_end = case
		        when access_failed_count + 1 >= $2 then greatest(lockout_end, $3)
		        else lockout_end
		    end
		where id = $1
		returning access_failed_count, lockout_end
	`, id, policy.Threshold, now.Add(policy.Duration).UTC()).Scan(&state.AccessFailedCount, &end)
	if err != nil {
		return auth.LockoutState{}, translate(err)
	}
	state.LockoutEnd = maybeTime(end)
	return state, nil
}

func (s accountStore) ResetLockout(ctx context.Context, id int64, _ time.Time) error {
	res, err := s.db.ExecContext(ctx, `update accounts set access_failed_count = 0, lockout_end = null where id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s accountStore) Block(ctx context.Context, id int64, until, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `update accounts set lockout_end = $2, modified_at = $3 where id = $1`, id, until.UTC(), now.UTC())
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s accountStore) Search(ctx context.Context, q auth.AccountQuery) (auth.AccountPage, error) {
	where, args, err := whereClause(q.Filter, 0)
	if err != nil {
		return auth.AccountPage{}, err
	}
	var page auth.AccountPage
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&page.Total); err != nil {
		return auth.AccountPage{}, err
	}
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts where `+where, args...).Scan(&page.Filtered); err != nil {
		return auth.AccountPage{}, err
	}

	query := fmt.Sprintf(`select %s from accounts where %s order by %s offset $%d`,
		accountColumns, where, orderBy(q.Sort, q.Ascending), len(args)+1)
	args = append(args, max(q.Skip, 0))
	if q.Take > 0 {
		query += fmt.Sprintf(" limit $%d", len(args)+1)
		args = append(args, q.Take)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return auth.AccountPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return auth.AccountPage{}, err
		}
		page.Items = append(page.Items, a)
	}
	if err := rows.Err(); err != nil {
		return auth.AccountPage{}, err
	}
	return page, nil
}

func fullName(first, last sql.NullString) string {
	a := auth.Account{FirstName: maybeString(first), LastName: maybeString(last)}
	return a.FullName()
}
