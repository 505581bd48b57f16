package auth

import (
	"strings"
)

// LinkState marks an association row relative to what is persisted.
type LinkState int

const (
	LinkUnchanged LinkState = iota
	LinkAdded
	LinkDeleted
)

func (s LinkState) String() string {
	switch s {
	case LinkAdded:
		return "added"
	case LinkDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

// Permission is an active row of the permission catalog.
type Permission struct {
	ID          int64
	Name        string
	Description string
	Group       string
}

// GroupPermission links a group to an active permission.
type GroupPermission struct {
	ID             string
	GroupID        int64
	PermissionID   int64
	PermissionName string
	State          LinkState
}

func (l *GroupPermission) target() int64     { return l.PermissionID }
func (l *GroupPermission) state() *LinkState { return &l.State }

// UserGroup links an account to a group.
type UserGroup struct {
	ID        string
	AccountID int64
	GroupID   int64
	GroupName string
	State     LinkState
}

func (l *UserGroup) target() int64     { return l.GroupID }
func (l *UserGroup) state() *LinkState { return &l.State }

type link interface {
	target() int64
	state() *LinkState
}

// reconcile diffs current links against the desired target ids. Links missing from
// desired are marked deleted (or dropped if never persisted), deleted links that are
// wanted again are restored, and new targets are appended via create.
// Calling it twice with the same desired set is a no-op the second time.
func reconcile[L link](current []L, desired []int64, create func(id int64) L) []L {
	want := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}

	out := make([]L, 0, len(current)+len(desired))
	have := make(map[int64]struct{}, len(current))
	for _, l := range current {
		_, keep := want[l.target()]
		st := l.state()
		switch {
		case keep && *st == LinkDeleted:
			*st = LinkUnchanged
		case !keep && *st == LinkAdded:
			continue
		case !keep:
			*st = LinkDeleted
		}
		out = append(out, l)
		have[l.target()] = struct{}{}
	}
	for _, id := range desired {
		if _, ok := have[id]; ok {
			continue
		}
		out = append(out, create(id))
		have[id] = struct{}{}
	}
	return out
}

// settle drops deleted links and marks the rest unchanged after a successful save.
func settle[L link](links []L) []L {
	out := links[:0]
	for _, l := range links {
		st := l.state()
		if *st == LinkDeleted {
			continue
		}
		*st = LinkUnchanged
		out = append(out, l)
	}
	return out
}

func pending[L link](links []L) int {
	n := 0
	for _, l := range links {
		if *l.state() != LinkUnchanged {
			n++
		}
	}
	return n
}

// Group is a named set of permissions that accounts are assigned to.
type Group struct {
	ID          int64
	Name        string
	Description string
	Permissions []*GroupPermission
	MemberCount int
}

// NewGroup returns an unsaved group. Inputs are expected to be validated.
func NewGroup(name, description string) *Group {
	return &Group{Name: name, Description: description}
}

// Update renames the group and replaces its description.
func (g *Group) Update(name, description string) {
	g.Name = name
	g.Description = description
}

// IsNameSimilarTo compares names ignoring case.
func (g *Group) IsNameSimilarTo(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), g.Name)
}

// AddPermissions appends links for perms. An empty list is rejected; a group
// without permissions is created by not calling AddPermissions at all.
func (g *Group) AddPermissions(perms []Permission) error {
	if len(perms) == 0 {
		return newFailure(ErrInvalidArgument, "No permissions are provided")
	}
	for _, p := range perms {
		if g.hasActive(p.ID) {
			continue
		}
		g.Permissions = append(g.Permissions, g.newLink(p))
	}
	return nil
}

// UpdatePermissions makes perms the desired permission set of the group.
func (g *Group) UpdatePermissions(perms []Permission) {
	byID := make(map[int64]Permission, len(perms))
	desired := make([]int64, 0, len(perms))
	for _, p := range perms {
		if _, dup := byID[p.ID]; dup {
			continue
		}
		byID[p.ID] = p
		desired = append(desired, p.ID)
	}
	g.Permissions = reconcile(g.Permissions, desired, func(id int64) *GroupPermission {
		return g.newLink(byID[id])
	})
}

// ActivePermissions returns the permissions not marked for deletion.
func (g *Group) ActivePermissions() []*GroupPermission {
	out := make([]*GroupPermission, 0, len(g.Permissions))
	for _, l := range g.Permissions {
		if l.State != LinkDeleted {
			out = append(out, l)
		}
	}
	return out
}

// PendingChanges counts links that still need to be written.
func (g *Group) PendingChanges() int { return pending(g.Permissions) }

// MarkPersisted settles link states once the store committed them.
func (g *Group) MarkPersisted() { g.Permissions = settle(g.Permissions) }

func (g *Group) hasActive(permissionID int64) bool {
	for _, l := range g.Permissions {
		if l.PermissionID == permissionID && l.State != LinkDeleted {
			return true
		}
	}
	return false
}

func (g *Group) newLink(p Permission) *GroupPermission {
	return &GroupPermission{GroupID: g.ID, PermissionID: p.ID, PermissionName: p.Name, State: LinkAdded}
}

// Clone returns a deep copy.
func (g *Group) Clone() *Group {
	cp := *g
	cp.Permissions = make([]*GroupPermission, len(g.Permissions))
	for i, l := range g.Permissions {
		lc := *l
		cp.Permissions[i] = &lc
	}
	return &cp
}
