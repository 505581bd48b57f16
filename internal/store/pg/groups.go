package pg

import (
	"context"
	"database/sql"
	"strings"

	"idgate.org/internal/auth"
	"idgate.org/internal/ids"
)

const groupSelect = `
	select g.id, g.name, g.description,
	       (select count(*) from account_groups ag where ag.group_id = g.id)
	from user_groups g`

type groupStore struct {
	db *sql.DB
}

func (s groupStore) Insert(ctx context.Context, g *auth.Group) (int64, error) {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			insert into user_groups (name, normalized_name, description)
			values ($1, $2, $3)
			returning id
		`, g.Name, normalize(g.Name), g.Description).Scan(&g.ID)
		if err != nil {
			return translate(err)
		}
		return applyGroupPermissions(ctx, tx, g)
	})
	if err != nil {
		return 0, err
	}
	return g.ID, nil
}

func (s groupStore) Find(ctx context.Context, id int64) (*auth.Group, error) {
	return s.one(ctx, groupSelect+` where g.id = $1`, id)
}

func (s groupStore) FindByName(ctx context.Context, name string) (*auth.Group, error) {
	return s.one(ctx, groupSelect+` where g.normalized_name = $1`, normalize(name))
}

func (s groupStore) one(ctx context.Context, query string, arg any) (*auth.Group, error) {
	var g auth.Group
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&g.ID, &g.Name, &g.Description, &g.MemberCount); err != nil {
		return nil, translate(err)
	}
	links, err := s.links(ctx, `where gp.group_id = $1`, g.ID)
	if err != nil {
		return nil, err
	}
	g.Permissions = links[g.ID]
	return &g, nil
}

func (s groupStore) links(ctx context.Context, where string, args ...any) (map[int64][]*auth.GroupPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select gp.id, gp.group_id, gp.permission_id, p.name
		from group_permissions gp
		join permissions p on p.id = gp.permission_id
		`+where+`
		order by gp.group_id, p.name
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]*auth.GroupPermission)
	for rows.Next() {
		var l auth.GroupPermission
		if err := rows.Scan(&l.ID, &l.GroupID, &l.PermissionID, &l.PermissionName); err != nil {
			return nil, err
		}
		out[l.GroupID] = append(out[l.GroupID], &l)
	}
	return out, rows.Err()
}

func (s groupStore) HasGroup(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from user_groups where normalized_name = $1)`, normalize(name)).Scan(&exists)
	return exists, err
}

func (s groupStore) Update(ctx context.Context, g *auth.Group) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update user_groups set name = $2, normalized_name = $3, description = $4
			where id = $1
		`, g.ID, g.Name, normalize(g.Name), g.Description)
		if err != nil {
			return translate(err)
		}
		if err := mustAffect(res); err != nil {
			return err
		}
		return applyGroupPermissions(ctx, tx, g)
	})
}

func applyGroupPermissions(ctx context.Context, tx execer, g *auth.Group) error {
	for _, l := range g.Permissions {
		switch l.State {
		case auth.LinkAdded:
			if l.ID == "" {
				l.ID = ids.New()
			}
			l.GroupID = g.ID
			if _, err := tx.ExecContext(ctx, `
				insert into group_permissions (id, group_id, permission_id)
				values ($1, $2, $3)
				on conflict (group_id, permission_id) do nothing
			`, l.ID, g.ID, l.PermissionID); err != nil {
				return translate(err)
			}
		case auth.LinkDeleted:
			if _, err := tx.ExecContext(ctx, `delete from group_permissions where group_id = $1 and permission_id = $2`, g.ID, l.PermissionID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes the group; memberships and permission links cascade.
func (s groupStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from user_groups where id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s groupStore) List(ctx context.Context) ([]*auth.Group, error) {
	rows, err := s.db.QueryContext(ctx, groupSelect+` order by g.id`)
	if err != nil {
		return nil, err
	}
	var groups []*auth.Group
	for rows.Next() {
		var g auth.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.MemberCount); err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, &g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := s.links(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		g.Permissions = links[g.ID]
	}
	return groups, nil
}

func (s groupStore) Members(ctx context.Context, id int64) ([]auth.GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		select a.id, a.username, a.first_name, a.last_name
		from account_groups ag
		join accounts a on a.id = ag.account_id
		where ag.group_id = $1
		order by a.id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.GroupMember
	for rows.Next() {
		var (
			m           auth.GroupMember
			first, last sql.NullString
		)
		if err := rows.Scan(&m.AccountID, &m.Username, &first, &last); err != nil {
			return nil, err
		}
		m.FullName = fullName(first, last)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s groupStore) GrantedPermissions(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from account_groups ag
		join group_permissions gp on gp.group_id = ag.group_id
		join permissions p on p.id = gp.permission_id
		where ag.account_id = $1
		order by p.name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

type permissionStore struct {
	db *sql.DB
}

func (s permissionStore) Insert(ctx context.Context, p *auth.Permission) (int64, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (name, normalized_name, description, permission_group)
		values ($1, $2, $3, $4)
		returning id
	`, p.Name, normalize(p.Name), p.Description, p.Group).Scan(&p.ID)
	if err != nil {
		return 0, translate(err)
	}
	return p.ID, nil
}

func (s permissionStore) FindByName(ctx context.Context, name string) (*auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, permission_group from permissions where normalized_name = $1
	`, normalize(name)).Scan(&p.ID, &p.Name, &p.Description, &p.Group)
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// Delete removes the permission and, by cascade, every group link to it.
func (s permissionStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, description, permission_group from permissions order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Group); err != nil {
			return nil, err
		}
		p.Name = strings.TrimSpace(p.Name)
		out = append(out, p)
	}
	return out, rows.Err()
}
