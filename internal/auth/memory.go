package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"idgate.org/internal/criteria"
	"idgate.org/internal/ids"
	"idgate.org/internal/outcome"
)

// MemoryStore is an in-process Store. A single mutex serialises every write,
// which gives the same atomicity as the conditional updates of the SQL store.
type MemoryStore struct {
	mu sync.RWMutex

	accounts    map[int64]*Account
	groups      map[int64]*Group
	permissions map[int64]*Permission
	tokens      map[string]*RefreshToken

	nextAccount    int64
	nextGroup      int64
	nextPermission int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[int64]*Account),
		groups:      make(map[int64]*Group),
		permissions: make(map[int64]*Permission),
		tokens:      make(map[string]*RefreshToken),
	}
}

func (m *MemoryStore) Accounts(context.Context) AccountStore           { return memAccounts{m} }
func (m *MemoryStore) Groups(context.Context) GroupStore               { return memGroups{m} }
func (m *MemoryStore) Permissions(context.Context) PermissionStore     { return memPermissions{m} }
func (m *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memTokens{m} }

// TokensFor returns copies of every refresh token of an account, oldest first.
func (m *MemoryStore) TokensFor(accountID int64) []RefreshToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RefreshToken
	for _, t := range m.tokens {
		if t.AccountID == accountID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- accounts ---

type memAccounts struct{ m *MemoryStore }

func (s memAccounts) Insert(_ context.Context, a *Account) (int64, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usernameTaken(a.Username.Normalized()) {
		return 0, ErrConflict
	}
	m.nextAccount++
	a.ID = m.nextAccount
	stored := a.Clone()
	stored.Groups = nil
	m.accounts[a.ID] = stored
	m.applyUserGroups(stored, a.Groups)
	return a.ID, nil
}

func (s memAccounts) Find(_ context.Context, id int64) (*Account, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s memAccounts) FindByUsername(_ context.Context, username string) (*Account, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	key := strings.ToUpper(strings.TrimSpace(username))
	for _, a := range s.m.accounts {
		if a.Username.Normalized() == key {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s memAccounts) HasUsername(_ context.Context, username string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.m.usernameTaken(strings.ToUpper(strings.TrimSpace(username))), nil
}

func (s memAccounts) Update(_ context.Context, a *Account) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	cur.FirstName = a.FirstName
	cur.LastName = a.LastName
	cur.PasswordHash = a.PasswordHash
	cur.ModifiedAt = a.ModifiedAt
	m.applyUserGroups(cur, a.Groups)
	return nil
}

func (s memAccounts) IncrementFailedLogin(_ context.Context, id int64, now time.Time, policy LockoutPolicy) (LockoutState, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return LockoutState{}, ErrNotFound
	}
	a.RecordFailedLogin(now, policy)
	return LockoutState{AccessFailedCount: a.AccessFailedCount, LockoutEnd: a.LockoutEnd}, nil
}

func (s memAccounts) ResetLockout(_ context.Context, id int64, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.ResetLockout()
	return nil
}

func (s memAccounts) Block(_ context.Context, id int64, until, now time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.LockoutEnd = outcome.Some(until.UTC())
	a.ModifiedAt = outcome.Some(now.UTC())
	return nil
}

func (s memAccounts) Search(_ context.Context, q AccountQuery) (AccountPage, error) {
	s.m.mu.RLock()
	all := make([]*Account, 0, len(s.m.accounts))
	for _, a := range s.m.accounts {
		all = append(all, a.Clone())
	}
	s.m.mu.RUnlock()

	matched := criteria.Filter(q.Filter, all)
	sortAccounts(matched, q.Sort, q.Ascending)

	page := AccountPage{Total: len(all), Filtered: len(matched)}
	start := min(max(q.Skip, 0), len(matched))
	end := len(matched)
	if q.Take > 0 {
		end = min(start+q.Take, len(matched))
	}
	page.Items = matched[start:end]
	return page, nil
}

func sortAccounts(list []*Account, col SortColumn, asc bool) {
	less := func(a, b *Account) bool { return a.ID < b.ID }
	switch col {
	case SortByFirstName:
		less = func(a, b *Account) bool {
			return strings.ToLower(a.FirstName.OrElse("")) < strings.ToLower(b.FirstName.OrElse(""))
		}
	case SortByLastName:
		less = func(a, b *Account) bool {
			return strings.ToLower(a.LastName.OrElse("")) < strings.ToLower(b.LastName.OrElse(""))
		}
	case SortByUsername:
		less = func(a, b *Account) bool { return a.Username.Normalized() < b.Username.Normalized() }
	}
	sort.SliceStable(list, func(i, j int) bool {
		if asc {
			return less(list[i], list[j])
		}
		return less(list[j], list[i])
	})
}

func (m *MemoryStore) usernameTaken(normalized string) bool {
	for _, a := range m.accounts {
		if a.Username.Normalized() == normalized {
			return true
		}
	}
	return false
}

// applyUserGroups writes the link diff onto the stored account: added links are
// inserted, deleted links removed, unchanged links left alone.
func (m *MemoryStore) applyUserGroups(stored *Account, links []*UserGroup) {
	for _, l := range links {
		switch l.State {
		case LinkAdded:
			if _, ok := m.groups[l.GroupID]; !ok || hasUserGroup(stored.Groups, l.GroupID) {
				continue
			}
			if l.ID == "" {
				l.ID = ids.New()
			}
			l.AccountID = stored.ID
			cp := *l
			cp.State = LinkUnchanged
			stored.Groups = append(stored.Groups, &cp)
		case LinkDeleted:
			stored.Groups = removeUserGroup(stored.Groups, l.GroupID)
		}
	}
}

func hasUserGroup(links []*UserGroup, groupID int64) bool {
	for _, l := range links {
		if l.GroupID == groupID {
			return true
		}
	}
	return false
}

func removeUserGroup(links []*UserGroup, groupID int64) []*UserGroup {
	out := links[:0]
	for _, l := range links {
		if l.GroupID != groupID {
			out = append(out, l)
		}
	}
	return out
}

// --- groups ---

type memGroups struct{ m *MemoryStore }

func (s memGroups) Insert(_ context.Context, g *Group) (int64, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groupByName(g.Name) != nil {
		return 0, ErrConflict
	}
	m.nextGroup++
	g.ID = m.nextGroup
	stored := &Group{ID: g.ID, Name: g.Name, Description: g.Description}
	m.groups[g.ID] = stored
	m.applyGroupPermissions(stored, g.Permissions)
	return g.ID, nil
}

func (s memGroups) Find(_ context.Context, id int64) (*Group, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	g, ok := s.m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.m.groupView(g), nil
}

func (s memGroups) FindByName(_ context.Context, name string) (*Group, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	g := s.m.groupByName(name)
	if g == nil {
		return nil, ErrNotFound
	}
	return s.m.groupView(g), nil
}

func (s memGroups) HasGroup(_ context.Context, name string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.m.groupByName(name) != nil, nil
}

func (s memGroups) Update(_ context.Context, g *Group) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.groups[g.ID]
	if !ok {
		return ErrNotFound
	}
	if other := m.groupByName(g.Name); other != nil && other.ID != g.ID {
		return ErrConflict
	}
	cur.Name = g.Name
	cur.Description = g.Description
	m.applyGroupPermissions(cur, g.Permissions)
	for _, a := range m.accounts {
		for _, l := range a.Groups {
			if l.GroupID == g.ID {
				l.GroupName = g.Name
			}
		}
	}
	return nil
}

func (s memGroups) Delete(_ context.Context, id int64) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	for _, a := range m.accounts {
		a.Groups = removeUserGroup(a.Groups, id)
	}
	return nil
}

func (s memGroups) List(_ context.Context) ([]*Group, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]*Group, 0, len(s.m.groups))
	for _, g := range s.m.groups {
		out = append(out, s.m.groupView(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memGroups) Members(_ context.Context, id int64) ([]GroupMember, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	if _, ok := s.m.groups[id]; !ok {
		return nil, ErrNotFound
	}
	var out []GroupMember
	for _, a := range s.m.accounts {
		for _, l := range a.Groups {
			if l.GroupID == id {
				out = append(out, GroupMember{AccountID: a.ID, Username: a.Username.String(), FullName: a.FullName()})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s memGroups) GrantedPermissions(_ context.Context, accountID int64) ([]string, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	a, ok := s.m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	var out []string
	for _, l := range a.Groups {
		g, ok := s.m.groups[l.GroupID]
		if !ok {
			continue
		}
		for _, p := range g.Permissions {
			out = append(out, p.PermissionName)
		}
	}
	return dedupePermissions(out), nil
}

func (m *MemoryStore) groupByName(name string) *Group {
	for _, g := range m.groups {
		if g.IsNameSimilarTo(name) {
			return g
		}
	}
	return nil
}

func (m *MemoryStore) groupView(g *Group) *Group {
	cp := g.Clone()
	cp.MemberCount = 0
	for _, a := range m.accounts {
		for _, l := range a.Groups {
			if l.GroupID == g.ID {
				cp.MemberCount++
			}
		}
	}
	return cp
}

func (m *MemoryStore) applyGroupPermissions(stored *Group, links []*GroupPermission) {
	for _, l := range links {
		switch l.State {
		case LinkAdded:
			p, ok := m.permissions[l.PermissionID]
			if !ok || hasGroupPermission(stored.Permissions, l.PermissionID) {
				continue
			}
			if l.ID == "" {
				l.ID = ids.New()
			}
			l.GroupID = stored.ID
			stored.Permissions = append(stored.Permissions, &GroupPermission{
				ID:             l.ID,
				GroupID:        stored.ID,
				PermissionID:   p.ID,
				PermissionName: p.Name,
			})
		case LinkDeleted:
			stored.Permissions = removeGroupPermission(stored.Permissions, l.PermissionID)
		}
	}
}

func hasGroupPermission(links []*GroupPermission, permissionID int64) bool {
	for _, l := range links {
		if l.PermissionID == permissionID {
			return true
		}
	}
	return false
}

func removeGroupPermission(links []*GroupPermission, permissionID int64) []*GroupPermission {
	out := links[:0]
	for _, l := range links {
		if l.PermissionID != permissionID {
			out = append(out, l)
		}
	}
	return out
}

// --- permissions ---

type memPermissions struct{ m *MemoryStore }

func (s memPermissions) Insert(_ context.Context, p *Permission) (int64, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.permissions {
		if strings.EqualFold(cur.Name, p.Name) {
			return 0, ErrConflict
		}
	}
	m.nextPermission++
	p.ID = m.nextPermission
	cp := *p
	m.permissions[p.ID] = &cp
	return p.ID, nil
}

func (s memPermissions) FindByName(_ context.Context, name string) (*Permission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, p := range s.m.permissions {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memPermissions) Delete(_ context.Context, id int64) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, id)
	for _, g := range m.groups {
		g.Permissions = removeGroupPermission(g.Permissions, id)
	}
	return nil
}

func (s memPermissions) List(_ context.Context) ([]Permission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]Permission, 0, len(s.m.permissions))
	for _, p := range s.m.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- refresh tokens ---

type memTokens struct{ m *MemoryStore }

func (s memTokens) Insert(_ context.Context, t *RefreshToken) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, dup := s.m.tokens[t.Token]; dup {
		return ErrConflict
	}
	cp := *t
	s.m.tokens[t.Token] = &cp
	return nil
}

func (s memTokens) Find(_ context.Context, token string) (*RefreshToken, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s memTokens) Exchange(_ context.Context, accountID int64, presented string, now time.Time, ip string, next *RefreshToken) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tokens[presented]
	if !ok || t.AccountID != accountID || !t.IsActive(now) {
		return false, nil
	}
	if _, dup := s.m.tokens[next.Token]; dup {
		return false, ErrConflict
	}
	t.Revoke(now, ip, outcome.Some(next.Token))
	cp := *next
	s.m.tokens[next.Token] = &cp
	return true, nil
}

func (s memTokens) Revoke(_ context.Context, token string, now time.Time, ip string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tokens[token]
	if !ok || !t.IsActive(now) {
		return false, nil
	}
	return t.Revoke(now, ip, outcome.None[string]()), nil
}

func (s memTokens) RevokeAll(_ context.Context, accountID int64, now time.Time, ip string) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var revoked []string
	for _, t := range s.m.tokens {
		if t.AccountID == accountID && t.IsActive(now) {
			t.Revoke(now, ip, outcome.None[string]())
			revoked = append(revoked, t.Token)
		}
	}
	sort.Strings(revoked)
	return revoked, nil
}

func (s memTokens) ListActive(_ context.Context, now time.Time) ([]RefreshToken, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []RefreshToken
	for _, t := range s.m.tokens {
		if t.IsActive(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
