package auth

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"idgate.org/internal/identity"
	"idgate.org/internal/outcome"
)

// PermissionView joins a catalog entry with its active row, if any.
type PermissionView struct {
	ID          outcome.Maybe[int64]
	Name        string
	Code        int
	Description string
	Group       string
	Active      bool
}

// CreatePermission activates a catalog permission.
func (s *Service) CreatePermission(ctx context.Context, name string) outcome.Result[outcome.Unit] {
	log := s.log.WithField("permission", name)
	log.Info("enabling permission")

	entry, ok := s.catalog.Lookup(name)
	if !ok {
		return rejected(s, log, "create_permission", fail[outcome.Unit](ErrValidation, "Specified permission is not valid: %s", name))
	}
	perms := s.store.Permissions(ctx)
	_, err := perms.FindByName(ctx, entry.Name)
	if err == nil {
		return rejected(s, log, "create_permission", fail[outcome.Unit](ErrValidation, "Specified permission already exist"))
	}
	if !errors.Is(err, ErrNotFound) {
		return storeFailed(s, log, "create_permission", persistence[outcome.Unit](err))
	}
	p := &Permission{Name: entry.Name, Description: entry.Description, Group: entry.Group}
	if _, err := perms.Insert(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return rejected(s, log, "create_permission", fail[outcome.Unit](ErrValidation, "Specified permission already exist"))
		}
		return storeFailed(s, log, "create_permission", persistence[outcome.Unit](err))
	}
	s.audit(ctx, "permission.created", map[string]any{"permission": p.Name, "permission_id": p.ID})
	s.metrics.Observe("create_permission", "success")
	return outcome.Success()
}

// DeletePermission deactivates a catalog permission and removes it from every group.
func (s *Service) DeletePermission(ctx context.Context, name string) outcome.Result[outcome.Unit] {
	log := s.log.WithField("permission", name)
	log.Info("disabling permission")

	entry, ok := s.catalog.Lookup(name)
	if !ok {
		return rejected(s, log, "delete_permission", fail[outcome.Unit](ErrValidation, "Specified permission is not valid: %s", name))
	}
	perms := s.store.Permissions(ctx)
	p, err := perms.FindByName(ctx, entry.Name)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "delete_permission", fail[outcome.Unit](ErrNotFound, "Specified permission is not found"))
	}
	if err != nil {
		return storeFailed(s, log, "delete_permission", persistence[outcome.Unit](err))
	}
	if err := perms.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(s, log, "delete_permission", fail[outcome.Unit](ErrNotFound, "Specified permission is not found"))
		}
		return storeFailed(s, log, "delete_permission", persistence[outcome.Unit](err))
	}
	s.audit(ctx, "permission.deleted", map[string]any{"permission": p.Name, "permission_id": p.ID})
	s.metrics.Observe("delete_permission", "success")
	return outcome.Success()
}

// ListPermissions returns the whole catalog with the activation state of each entry.
func (s *Service) ListPermissions(ctx context.Context) outcome.Result[[]PermissionView] {
	active, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return storeFailed(s, s.log, "list_permissions", persistence[[]PermissionView](err))
	}
	byName := make(map[string]Permission, len(active))
	for _, p := range active {
		if e, ok := s.catalog.Lookup(p.Name); ok {
			byName[e.Name] = p
		}
	}
	entries := s.catalog.Entries()
	out := make([]PermissionView, 0, len(entries))
	for _, e := range entries {
		v := PermissionView{Name: e.Name, Code: e.Code, Description: e.Description, Group: e.Group}
		if p, ok := byName[e.Name]; ok {
			v.ID = outcome.Some(p.ID)
			v.Active = true
		}
		out = append(out, v)
	}
	return outcome.Ok(out)
}

// GroupCommand is the input of CreateGroup and EditGroup.
type GroupCommand struct {
	Name        string
	Description string
	Permissions []string
}

// CreateGroup creates a group with an optional initial permission set.
func (s *Service) CreateGroup(ctx context.Context, cmd GroupCommand) outcome.Result[int64] {
	log := s.log.WithField("group", cmd.Name)
	log.Info("creating group")

	name := identity.GroupName(cmd.Name)
	desc := identity.GroupDescription(cmd.Description)
	if r := outcome.Combine(name, desc); r.IsFailure() {
		return rejected(s, log, "create_group", invalid[int64](r))
	}

	groups := s.store.Groups(ctx)
	exists, err := groups.HasGroup(ctx, name.Value())
	if err != nil {
		return storeFailed(s, log, "create_group", persistence[int64](err))
	}
	if exists {
		return rejected(s, log, "create_group", fail[int64](ErrValidation, "Specified user group already exist"))
	}

	g := NewGroup(name.Value(), desc.Value())
	if len(dedupeNames(cmd.Permissions)) > 0 {
		perms := s.matchingPermissions(ctx, cmd.Permissions)
		if perms.IsFailure() {
			return failed(s, log, "create_group", outcome.Propagate[int64](perms))
		}
		if err := g.AddPermissions(perms.Value()); err != nil {
			return rejected(s, log, "create_group", outcome.FailErr[int64](err))
		}
	}

	id, err := groups.Insert(ctx, g)
	if errors.Is(err, ErrConflict) {
		return rejected(s, log, "create_group", fail[int64](ErrValidation, "Specified user group already exist"))
	}
	if err != nil {
		return storeFailed(s, log, "create_group", persistence[int64](err))
	}
	g.MarkPersisted()
	s.audit(ctx, "group.created", map[string]any{"group_id": id, "group": g.Name, "permissions": linkNames(g)})
	s.metrics.Observe("create_group", "success")
	return outcome.Ok(id)
}

// EditGroup renames a group and makes cmd.Permissions its complete permission set.
func (s *Service) EditGroup(ctx context.Context, id int64, cmd GroupCommand) outcome.Result[outcome.Unit] {
	log := s.log.WithFields(logrus.Fields{"group_id": id, "group": cmd.Name})
	log.Info("updating group")

	name := identity.GroupName(cmd.Name)
	desc := identity.GroupDescription(cmd.Description)
	if r := outcome.Combine(name, desc); r.IsFailure() {
		return rejected(s, log, "edit_group", invalid[outcome.Unit](r))
	}

	groups := s.store.Groups(ctx)
	g, err := groups.Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "edit_group", groupNotFound[outcome.Unit](id))
	}
	if err != nil {
		return storeFailed(s, log, "edit_group", persistence[outcome.Unit](err))
	}

	if !g.IsNameSimilarTo(name.Value()) {
		exists, err := groups.HasGroup(ctx, name.Value())
		if err != nil {
			return storeFailed(s, log, "edit_group", persistence[outcome.Unit](err))
		}
		if exists {
			return rejected(s, log, "edit_group", fail[outcome.Unit](ErrValidation, "Specified user group already exist"))
		}
	}

	perms := s.matchingPermissions(ctx, cmd.Permissions)
	if perms.IsFailure() {
		return failed(s, log, "edit_group", outcome.Propagate[outcome.Unit](perms))
	}
	g.Update(name.Value(), desc.Value())
	g.UpdatePermissions(perms.Value())

	if err := groups.Update(ctx, g); err != nil {
		if errors.Is(err, ErrConflict) {
			return rejected(s, log, "edit_group", fail[outcome.Unit](ErrValidation, "Specified user group already exist"))
		}
		return storeFailed(s, log, "edit_group", persistence[outcome.Unit](err))
	}
	g.MarkPersisted()
	s.audit(ctx, "group.updated", map[string]any{"group_id": g.ID, "group": g.Name, "permissions": linkNames(g)})
	s.metrics.Observe("edit_group", "success")
	return outcome.Success()
}

// DeleteGroup removes a group and its memberships. System groups can not be deleted.
func (s *Service) DeleteGroup(ctx context.Context, name string) outcome.Result[outcome.Unit] {
	log := s.log.WithField("group", name)
	log.Info("removing group")

	if s.catalog.IsSystemGroup(name) {
		return rejected(s, log, "delete_group", fail[outcome.Unit](ErrValidation, "Removing a system user group is not permitted"))
	}
	groups := s.store.Groups(ctx)
	g, err := groups.FindByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "delete_group", fail[outcome.Unit](ErrNotFound, "No matching user group found: %s", name))
	}
	if err != nil {
		return storeFailed(s, log, "delete_group", persistence[outcome.Unit](err))
	}
	if err := groups.Delete(ctx, g.ID); err != nil {
		return storeFailed(s, log, "delete_group", persistence[outcome.Unit](err))
	}
	s.audit(ctx, "group.deleted", map[string]any{"group_id": g.ID, "group": g.Name})
	s.metrics.Observe("delete_group", "success")
	return outcome.Success()
}

// GroupDetails is a group with its permissions and members.
type GroupDetails struct {
	Group   *Group
	Members []GroupMember
}

// GetGroup loads a group with its members.
func (s *Service) GetGroup(ctx context.Context, id int64) outcome.Result[GroupDetails] {
	groups := s.store.Groups(ctx)
	g, err := groups.Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return groupNotFound[GroupDetails](id)
	}
	if err != nil {
		return storeFailed(s, s.log, "get_group", persistence[GroupDetails](err))
	}
	members, err := groups.Members(ctx, id)
	if err != nil {
		return storeFailed(s, s.log, "get_group", persistence[GroupDetails](err))
	}
	return outcome.Ok(GroupDetails{Group: g, Members: members})
}

// ListGroups returns every group with member counts.
func (s *Service) ListGroups(ctx context.Context) outcome.Result[[]*Group] {
	all, err := s.store.Groups(ctx).List(ctx)
	if err != nil {
		return storeFailed(s, s.log, "list_groups", persistence[[]*Group](err))
	}
	return outcome.Ok(all)
}

// NotAssignedPermissions lists active permissions the group does not hold.
func (s *Service) NotAssignedPermissions(ctx context.Context, groupID int64) outcome.Result[[]Permission] {
	g, err := s.store.Groups(ctx).Find(ctx, groupID)
	if errors.Is(err, ErrNotFound) {
		return groupNotFound[[]Permission](groupID)
	}
	if err != nil {
		return storeFailed(s, s.log, "not_assigned_permissions", persistence[[]Permission](err))
	}
	all, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return storeFailed(s, s.log, "not_assigned_permissions", persistence[[]Permission](err))
	}
	out := make([]Permission, 0, len(all))
	for _, p := range all {
		if _, known := s.catalog.Lookup(p.Name); !known || g.hasActive(p.ID) {
			continue
		}
		out = append(out, p)
	}
	return outcome.Ok(out)
}

// matchingPermissions resolves names against the active permissions, ignoring case.
func (s *Service) matchingPermissions(ctx context.Context, names []string) outcome.Result[[]Permission] {
	active, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return persistence[[]Permission](err)
	}
	out := make([]Permission, 0, len(names))
	for _, name := range dedupeNames(names) {
		var match *Permission
		for i := range active {
			if equalFold(active[i].Name, name) {
				match = &active[i]
				break
			}
		}
		if match == nil {
			return fail[[]Permission](ErrNotFound, "No matching permission found: %s", name)
		}
		out = append(out, *match)
	}
	return outcome.Ok(out)
}

func groupNotFound[T any](id int64) outcome.Result[T] {
	return fail[T](ErrNotFound, "No matching user group found: %d", id)
}

func linkNames(g *Group) []string {
	var names []string
	for _, l := range g.ActivePermissions() {
		names = append(names, l.PermissionName)
	}
	return names
}
