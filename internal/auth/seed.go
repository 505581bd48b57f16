package auth

import (
	"context"
	"errors"

	"idgate.org/internal/identity"
	"idgate.org/internal/outcome"
)

// SeedOptions describes the bootstrap administrator.
type SeedOptions struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Seed makes sure the administrator account, the UserAccountAdmin permission,
// the ADMIN group and the links between them exist. It is safe to run repeatedly.
func (s *Service) Seed(ctx context.Context, opts SeedOptions) outcome.Result[outcome.Unit] {
	log := s.log.WithField("username", opts.Username)
	log.Info("seeding initial data")

	email := identity.ParseEmail(opts.Username)
	if email.IsFailure() {
		return invalid[outcome.Unit](email)
	}

	accounts := s.store.Accounts(ctx)
	admin, err := accounts.FindByUsername(ctx, email.Value().Normalized())
	if errors.Is(err, ErrNotFound) {
		password := identity.ParsePassword(opts.Password, true, s.hasher)
		if password.IsFailure() {
			return invalid[outcome.Unit](password)
		}
		admin = NewAccount(optionalName(opts.FirstName), optionalName(opts.LastName), email.Value(), password.Value(), s.now())
		if _, err := accounts.Insert(ctx, admin); err != nil {
			return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
		}
		log.WithField("account_id", admin.ID).Info("administrator account created")
	} else if err != nil {
		return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
	}

	if r := s.CreatePermission(ctx, PermUserAccountAdmin); r.IsFailure() && !errors.Is(r.Err(), ErrValidation) {
		return r
	}
	perm, err := s.store.Permissions(ctx).FindByName(ctx, PermUserAccountAdmin)
	if err != nil {
		return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
	}

	groups := s.store.Groups(ctx)
	group, err := groups.FindByName(ctx, SystemGroupAdmin)
	if errors.Is(err, ErrNotFound) {
		group = NewGroup(SystemGroupAdmin, "System administrator permissions")
		if err := group.AddPermissions([]Permission{*perm}); err != nil {
			return outcome.FailErr[outcome.Unit](err)
		}
		if _, err := groups.Insert(ctx, group); err != nil {
			return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
		}
		group.MarkPersisted()
	} else if err != nil {
		return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
	} else if !group.hasActive(perm.ID) {
		group.UpdatePermissions(append(activePermissionsOf(group), *perm))
		if err := groups.Update(ctx, group); err != nil {
			return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
		}
		group.MarkPersisted()
	}

	member := false
	for _, l := range admin.ActiveGroups() {
		if l.GroupID == group.ID {
			member = true
		}
	}
	if !member {
		desired := []*Group{group}
		for _, l := range admin.ActiveGroups() {
			desired = append(desired, &Group{ID: l.GroupID, Name: l.GroupName})
		}
		admin.UpdateUserGroups(desired)
		if err := accounts.Update(ctx, admin); err != nil {
			return storeFailed(s, log, "seed", persistence[outcome.Unit](err))
		}
		admin.MarkPersisted()
	}
	log.Info("seeding complete")
	return outcome.Success()
}

func activePermissionsOf(g *Group) []Permission {
	var out []Permission
	for _, l := range g.ActivePermissions() {
		out = append(out, Permission{ID: l.PermissionID, Name: l.PermissionName})
	}
	return out
}
