package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"idgate.org/internal/hasher"
	"idgate.org/internal/obs"
)

const (
	testSecret   = "test-secret"
	testPassword = "Passw0rdX"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	clock   *fakeClock
	index   *MemoryTokenIndex
	metrics *prometheus.Registry
	logs    *logtest.Hook
}

func newHarness(t *testing.T, opts ...ServiceOption) *harness {
	t.Helper()
	h, err := hasher.New(hasher.Params{N: 16, R: 1, P: 1, SaltLen: 8, KeyLen: 16})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	metrics, err := obs.NewAuthMetrics(reg)
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	clock := &fakeClock{now: t0}
	store := NewMemoryStore()
	index := NewMemoryTokenIndex(clock.Now)
	base := []ServiceOption{
		WithTokenSecret(testSecret),
		WithClock(clock.Now),
		WithHasher(h),
		WithTokenIndex(index),
		WithMetrics(metrics),
		WithLogger(logger),
	}
	svc, err := NewService(store, append(base, opts...)...)
	require.NoError(t, err)
	return &harness{svc: svc, store: store, clock: clock, index: index, metrics: reg, logs: hook}
}

func (h *harness) register(t *testing.T, username string) int64 {
	t.Helper()
	r := h.svc.Register(context.Background(), RegisterCommand{FirstName: "Test", LastName: "User", Username: username, Password: testPassword})
	require.True(t, r.IsSuccess(), r.Error())
	return r.Value()
}

func (h *harness) login(t *testing.T, username string) Session {
	t.Helper()
	r := h.svc.Authenticate(context.Background(), username, testPassword, "10.0.0.1")
	require.True(t, r.IsSuccess(), r.Error())
	return r.Value()
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(NewMemoryStore())
	assert.Error(t, err)
	_, err = NewService(NewMemoryStore(), WithTokenSecret("  "))
	assert.Error(t, err)
	_, err = NewService(NewMemoryStore(), WithTokenSecret("s"), WithLockoutPolicy(LockoutPolicy{}))
	assert.Error(t, err)
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.svc.Register(ctx, RegisterCommand{Username: "not-an-email", Password: testPassword})
	require.True(t, r.IsFailure())
	assert.Equal(t, "Email is invalid", r.Error())
	assert.ErrorIs(t, r.Err(), ErrValidation)

	page := h.svc.SearchAccounts(ctx, SearchRequest{})
	require.True(t, page.IsSuccess())
	assert.Zero(t, page.Value().Total, "no account may be created")
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	weak := h.svc.Register(ctx, RegisterCommand{Username: "a@b.com", Password: "password"})
	assert.Equal(t, "Strong password is required", weak.Error())

	long := h.svc.Register(ctx, RegisterCommand{Username: "a@b.com", Password: testPassword, FirstName: string(make([]byte, 101))})
	assert.ErrorIs(t, long.Err(), ErrValidation)
	assert.Equal(t, "First name is too long", long.Error())

	h.register(t, "Jane@Example.com")
	dup := h.svc.Register(ctx, RegisterCommand{Username: "jane@example.COM", Password: testPassword})
	assert.Equal(t, "Username already taken: jane@example.COM", dup.Error())
}

func TestAuthenticateIssuesTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	s := h.login(t, "JANE@example.com")
	assert.Equal(t, id, s.Account.ID)
	assert.Equal(t, "Test User", s.Account.FullName)
	assert.Equal(t, t0.Add(4*time.Hour), s.RefreshExpiresAt)
	assert.Equal(t, t0.Add(15*time.Minute), s.AccessExpiresAt)

	p := h.svc.AuthenticateToken(ctx, s.AccessToken)
	require.True(t, p.IsSuccess(), p.Error())
	assert.Equal(t, id, p.Value().AccountID)
	assert.Equal(t, "jane@example.com", p.Value().Username)

	owner, ok, err := h.index.Lookup(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, owner)

	h.clock.Advance(16 * time.Minute)
	assert.True(t, h.svc.AuthenticateToken(ctx, s.AccessToken).IsFailure(), "expired access token")

	assert.Equal(t, 1.0, counterValue(t, h.metrics, "idgate_auth_events_total", "authenticate", "success"))
}

func TestAuthenticateUpgradesLegacyHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte(testPassword), salt, 1, 8*1024, 1, 32)
	legacy := fmt.Sprintf("$argon2id$v=19$m=%d,t=1,p=1$%s$%s", 8*1024,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key))
	accounts := h.store.Accounts(ctx)
	acc, err := accounts.Find(ctx, id)
	require.NoError(t, err)
	acc.PasswordHash = legacy
	require.NoError(t, accounts.Update(ctx, acc))

	h.login(t, "jane@example.com")
	acc, err = accounts.Find(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acc.PasswordHash, "$scrypt$ln=4,r=1,p=1$"), acc.PasswordHash)

	upgraded := acc.PasswordHash
	h.login(t, "jane@example.com")
	acc, err = accounts.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, upgraded, acc.PasswordHash, "current hashes are left alone")
}

func TestAuthenticateDoesNotRevealUnknownUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "jane@example.com")

	unknown := h.svc.Authenticate(ctx, "ghost@example.com", testPassword, "")
	wrong := h.svc.Authenticate(ctx, "jane@example.com", "WrongPass1", "")
	require.True(t, unknown.IsFailure())
	require.True(t, wrong.IsFailure())
	assert.Equal(t, unknown.Error(), wrong.Error())
	assert.Equal(t, "Invalid account credentials provided", wrong.Error())
	assert.ErrorIs(t, wrong.Err(), ErrUnauthorized)

	for _, e := range h.logs.AllEntries() {
		assert.NotContains(t, e.Message, "WrongPass1")
		for _, v := range e.Data {
			assert.NotEqual(t, "WrongPass1", v)
		}
	}
}

func TestLockoutFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	for i := 0; i < 2; i++ {
		h.svc.Authenticate(ctx, "jane@example.com", "WrongPass1", "")
	}
	assert.False(t, h.svc.GetAccount(ctx, id).Value().Locked)

	h.svc.Authenticate(ctx, "jane@example.com", "WrongPass1", "")
	details := h.svc.GetAccount(ctx, id).Value()
	assert.True(t, details.Locked)
	assert.Equal(t, 3, details.AccessFailedCount)
	assert.Equal(t, 1.0, counterValue(t, h.metrics, "idgate_account_lockouts_total"))

	locked := h.svc.Authenticate(ctx, "jane@example.com", testPassword, "")
	require.True(t, locked.IsFailure())
	assert.Equal(t, "Too many unsuccessful login attempts. Please try again after 10 minutes", locked.Error())

	h.clock.Advance(10*time.Minute + time.Second)
	h.login(t, "jane@example.com")
	details = h.svc.GetAccount(ctx, id).Value()
	assert.False(t, details.Locked)
	assert.Zero(t, details.AccessFailedCount)
}

func TestRecordFailedLoginAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	for i := 1; i <= 3; i++ {
		r := h.svc.RecordFailedLogin(ctx, id)
		require.True(t, r.IsSuccess(), r.Error())
		assert.Equal(t, i, r.Value().AccessFailedCount)
		assert.Equal(t, i == 3, r.Value().LockoutEnd.HasValue())
	}
	assert.True(t, h.svc.GetAccount(ctx, id).Value().Locked)

	require.True(t, h.svc.ResetLockout(ctx, id).IsSuccess())
	assert.False(t, h.svc.GetAccount(ctx, id).Value().Locked)

	missing := h.svc.RecordFailedLogin(ctx, 999)
	assert.ErrorIs(t, missing.Err(), ErrNotFound)
	assert.Equal(t, "No matching user account found: 999", missing.Error())
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	h := newHarness(t, WithLockoutPolicy(LockoutPolicy{Threshold: 100, Duration: time.Minute}))
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.RecordFailedLogin(ctx, id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, h.svc.GetAccount(ctx, id).Value().AccessFailedCount)
}

func TestBlockAndUnblock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.register(t, "admin@example.com")
	user := h.register(t, "user@example.com")

	self := h.svc.Block(ctx, 5, 5)
	require.True(t, self.IsFailure())
	assert.Equal(t, "Cannot block own account", self.Error())
	assert.ErrorIs(t, self.Err(), ErrValidation)

	s := h.login(t, "user@example.com")
	require.True(t, h.svc.Block(ctx, user, admin).IsSuccess())

	blocked := h.svc.Authenticate(ctx, "user@example.com", testPassword, "")
	assert.Contains(t, blocked.Error(), "Too many unsuccessful login attempts")
	assert.True(t, h.svc.GetAccount(ctx, user).Value().Locked)

	rotated := h.svc.RotateRefreshToken(ctx, s.AccessToken, s.RefreshToken, "")
	assert.Equal(t, msgTokenInvalid, rotated.Error(), "block revokes sessions")
	_, indexed, _ := h.index.Lookup(ctx, s.RefreshToken)
	assert.False(t, indexed)

	require.True(t, h.svc.Unblock(ctx, user).IsSuccess())
	h.login(t, "user@example.com")

	assert.ErrorIs(t, h.svc.Block(ctx, 404, admin).Err(), ErrNotFound)
}

func TestRotateRefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")
	s := h.login(t, "jane@example.com")

	h.clock.Advance(time.Hour)
	require.True(t, h.svc.AuthenticateToken(ctx, s.AccessToken).IsFailure())

	r := h.svc.RotateRefreshToken(ctx, s.AccessToken, s.RefreshToken, "10.0.0.2")
	require.True(t, r.IsSuccess(), r.Error())
	pair := r.Value()
	assert.NotEqual(t, s.RefreshToken, pair.RefreshToken)
	assert.True(t, h.svc.AuthenticateToken(ctx, pair.AccessToken).IsSuccess())

	old := findToken(t, h.store, id, s.RefreshToken)
	assert.False(t, old.IsActive(h.clock.Now()))
	assert.Equal(t, pair.RefreshToken, old.ReplacedByToken.Value())
	assert.Equal(t, "10.0.0.2", old.RevokedByIP.Value())

	reused := h.svc.RotateRefreshToken(ctx, pair.AccessToken, s.RefreshToken, "")
	assert.Equal(t, msgTokenInvalid, reused.Error())

	h.clock.Advance(4 * time.Hour)
	expired := h.svc.RotateRefreshToken(ctx, pair.AccessToken, pair.RefreshToken, "")
	assert.Equal(t, msgTokenInvalid, expired.Error())

	garbage := h.svc.RotateRefreshToken(ctx, "not-a-jwt", pair.RefreshToken, "")
	assert.Equal(t, msgTokenInvalid, garbage.Error())
}

func TestRotateRejectsForeignAndForgedTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "jane@example.com")
	h.register(t, "john@example.com")
	jane := h.login(t, "jane@example.com")
	john := h.login(t, "john@example.com")

	foreign := h.svc.RotateRefreshToken(ctx, john.AccessToken, jane.RefreshToken, "")
	assert.Equal(t, msgTokenInvalid, foreign.Error())

	claims := &Claims{AccountID: 1, RegisteredClaims: jwt.RegisteredClaims{Issuer: defaultIssuer}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	assert.Equal(t, msgTokenInvalid, h.svc.RotateRefreshToken(ctx, forged, jane.RefreshToken, "").Error())

	require.True(t, h.svc.RotateRefreshToken(ctx, jane.AccessToken, jane.RefreshToken, "").IsSuccess())
}

func TestConcurrentRotationSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")
	s := h.login(t, "jane@example.com")

	const attempts = 16
	results := make(chan string, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r := h.svc.RotateRefreshToken(ctx, s.AccessToken, s.RefreshToken, "")
			if r.IsSuccess() {
				results <- r.Value().RefreshToken
				return
			}
			results <- ""
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var winners []string
	for tok := range results {
		if tok != "" {
			winners = append(winners, tok)
		}
	}
	require.Len(t, winners, 1)
	old := findToken(t, h.store, id, s.RefreshToken)
	assert.Equal(t, winners[0], old.ReplacedByToken.Value())
	assert.Len(t, h.store.TokensFor(id), 2)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "jane@example.com")
	s := h.login(t, "jane@example.com")

	require.True(t, h.svc.Logout(ctx, s.RefreshToken, "").IsSuccess())
	assert.Equal(t, msgTokenInvalid, h.svc.Logout(ctx, s.RefreshToken, "").Error())
	assert.Equal(t, msgTokenInvalid, h.svc.Logout(ctx, "unknown", "").Error())

	s2 := h.login(t, "jane@example.com")
	require.NoError(t, h.index.Remove(ctx, s2.RefreshToken))
	require.True(t, h.svc.Logout(ctx, s2.RefreshToken, "").IsSuccess(), "falls back to the store on an index miss")
}

func TestRebuildTokenIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "jane@example.com")
	a := h.login(t, "jane@example.com")
	b := h.login(t, "jane@example.com")
	require.True(t, h.svc.Logout(ctx, a.RefreshToken, "").IsSuccess())

	require.NoError(t, h.index.Remove(ctx, b.RefreshToken))
	r := h.svc.RebuildTokenIndex(ctx)
	require.True(t, r.IsSuccess())
	assert.Equal(t, 1, r.Value())
	_, ok, _ := h.index.Lookup(ctx, b.RefreshToken)
	assert.True(t, ok)
}

func TestLoginThrottle(t *testing.T) {
	h := newHarness(t, WithLoginRateLimit(0.01, 2))
	ctx := context.Background()
	h.register(t, "jane@example.com")

	h.login(t, "jane@example.com")
	h.login(t, "jane@example.com")
	r := h.svc.Authenticate(ctx, "jane@example.com", testPassword, "")
	assert.Equal(t, msgLoginThrottled, r.Error())
	assert.ErrorIs(t, r.Err(), ErrUnauthorized)

	h.register(t, "john@example.com")
	h.login(t, "john@example.com")

	h.clock.Advance(2 * time.Minute)
	h.login(t, "jane@example.com")
}

// counterValue sums the counter samples of a family whose label values equal labels, in order.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelsMatch(m *dto.Metric, want []string) bool {
	pairs := m.GetLabel()
	if len(want) > len(pairs) {
		return false
	}
	for i, v := range want {
		if pairs[i].GetValue() != v {
			return false
		}
	}
	return true
}

func findToken(t *testing.T, store *MemoryStore, accountID int64, value string) RefreshToken {
	t.Helper()
	for _, tok := range store.TokensFor(accountID) {
		if tok.Token == value {
			return tok
		}
	}
	t.Fatalf("token %q not found", value)
	return RefreshToken{}
}

func TestAssignGroupsGrantsPermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	require.True(t, h.svc.CreatePermission(ctx, PermUserAccountViewer).IsSuccess())
	require.True(t, h.svc.CreatePermission(ctx, PermSampleModuleAdmin).IsSuccess())
	g := h.svc.CreateGroup(ctx, GroupCommand{Name: "Viewers", Permissions: []string{"useraccountviewer"}})
	require.True(t, g.IsSuccess(), g.Error())
	g2 := h.svc.CreateGroup(ctx, GroupCommand{Name: "Sample Admins", Permissions: []string{PermSampleModuleAdmin, PermUserAccountViewer}})
	require.True(t, g2.IsSuccess(), g2.Error())

	missing := h.svc.AssignGroups(ctx, id, []string{"Viewers", "Nope Group"})
	assert.Equal(t, "No matching user group found: Nope Group", missing.Error())

	require.True(t, h.svc.AssignGroups(ctx, id, []string{"viewers", "SAMPLE ADMINS", "Viewers"}).IsSuccess())
	s := h.login(t, "jane@example.com")
	assert.Equal(t, []string{PermSampleModuleAdmin, PermUserAccountViewer}, s.Account.Permissions)

	p := h.svc.AuthenticateToken(ctx, s.AccessToken).Value()
	assert.True(t, p.HasPermission(PermSampleModuleAdmin))
	assert.False(t, p.HasPermission(PermUserAccountAdmin))

	assert.Equal(t, []string{"Sample Admins", "Viewers"}, h.svc.GetAccount(ctx, id).Value().Groups)
	notAssigned := h.svc.NotAssignedGroups(ctx, id)
	require.True(t, notAssigned.IsSuccess())
	assert.Empty(t, notAssigned.Value())

	require.True(t, h.svc.AssignGroups(ctx, id, []string{"Viewers"}).IsSuccess())
	assert.Equal(t, []string{"Viewers"}, h.svc.GetAccount(ctx, id).Value().Groups)
	assert.Len(t, h.svc.NotAssignedGroups(ctx, id).Value(), 1)

	require.True(t, h.svc.AssignGroups(ctx, id, nil).IsSuccess())
	assert.Empty(t, h.svc.GetAccount(ctx, id).Value().Groups)
}

func TestPermissionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := h.svc.CreatePermission(ctx, "LaunchMissiles")
	assert.Equal(t, "Specified permission is not valid: LaunchMissiles", bad.Error())
	assert.ErrorIs(t, bad.Err(), ErrValidation)

	require.True(t, h.svc.CreatePermission(ctx, "useraccounteditor").IsSuccess())
	dup := h.svc.CreatePermission(ctx, PermUserAccountEditor)
	assert.Equal(t, "Specified permission already exist", dup.Error())

	views := h.svc.ListPermissions(ctx).Value()
	require.Len(t, views, 8)
	for _, v := range views {
		assert.Equal(t, v.Name == PermUserAccountEditor, v.Active, v.Name)
		assert.Equal(t, v.Active, v.ID.HasValue(), v.Name)
	}

	g := h.svc.CreateGroup(ctx, GroupCommand{Name: "Editors", Permissions: []string{PermUserAccountEditor}})
	require.True(t, g.IsSuccess())

	require.True(t, h.svc.DeletePermission(ctx, PermUserAccountEditor).IsSuccess())
	notFound := h.svc.DeletePermission(ctx, PermUserAccountEditor)
	assert.Equal(t, "Specified permission is not found", notFound.Error())
	assert.ErrorIs(t, notFound.Err(), ErrNotFound)
	assert.Equal(t, "Specified permission is not valid: Bogus", h.svc.DeletePermission(ctx, "Bogus").Error())

	details := h.svc.GetGroup(ctx, g.Value()).Value()
	assert.Empty(t, details.Group.Permissions, "deleting a permission removes its group links")
}

func TestGroupLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.svc.CreatePermission(ctx, PermUserAccountViewer).IsSuccess())
	require.True(t, h.svc.CreatePermission(ctx, PermUserAccountEditor).IsSuccess())

	assert.Equal(t, "User group name is too short", h.svc.CreateGroup(ctx, GroupCommand{Name: "ab"}).Error())
	assert.Equal(t, "No matching permission found: Missing",
		h.svc.CreateGroup(ctx, GroupCommand{Name: "Operators", Permissions: []string{"Missing"}}).Error())

	ops := h.svc.CreateGroup(ctx, GroupCommand{Name: "Operators", Description: "ops"})
	require.True(t, ops.IsSuccess(), ops.Error())
	other := h.svc.CreateGroup(ctx, GroupCommand{Name: "Auditors", Permissions: []string{PermUserAccountViewer}})
	require.True(t, other.IsSuccess())
	assert.Equal(t, "Specified user group already exist", h.svc.CreateGroup(ctx, GroupCommand{Name: "operators"}).Error())

	edit := h.svc.EditGroup(ctx, ops.Value(), GroupCommand{Name: "OPERATORS", Description: "renamed", Permissions: []string{PermUserAccountViewer, PermUserAccountEditor}})
	require.True(t, edit.IsSuccess(), edit.Error())
	clash := h.svc.EditGroup(ctx, ops.Value(), GroupCommand{Name: "Auditors"})
	assert.Equal(t, "Specified user group already exist", clash.Error())
	assert.ErrorIs(t, h.svc.EditGroup(ctx, 999, GroupCommand{Name: "Ghost Group"}).Err(), ErrNotFound)

	d := h.svc.GetGroup(ctx, ops.Value()).Value()
	assert.Equal(t, "OPERATORS", d.Group.Name)
	assert.Equal(t, "renamed", d.Group.Description)
	assert.Len(t, d.Group.Permissions, 2)

	require.True(t, h.svc.EditGroup(ctx, ops.Value(), GroupCommand{Name: "Operators", Permissions: []string{PermUserAccountEditor}}).IsSuccess())
	left := h.svc.NotAssignedPermissions(ctx, ops.Value()).Value()
	require.Len(t, left, 1)
	assert.Equal(t, PermUserAccountViewer, left[0].Name)

	member := h.register(t, "ops@example.com")
	require.True(t, h.svc.AssignGroups(ctx, member, []string{"Operators"}).IsSuccess())
	granted, err := h.store.Groups(ctx).GrantedPermissions(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []string{PermUserAccountEditor}, granted)

	require.True(t, h.svc.DeleteGroup(ctx, "operators").IsSuccess())
	assert.Equal(t, "No matching user group found: operators", h.svc.DeleteGroup(ctx, "operators").Error())
	assert.Empty(t, h.svc.GetAccount(ctx, member).Value().Groups)
	granted, err = h.store.Groups(ctx).GrantedPermissions(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, granted)
	assert.Len(t, h.svc.ListGroups(ctx).Value(), 1)
}

func TestDeleteSystemGroupIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.svc.Seed(ctx, SeedOptions{Username: "root@example.com", Password: testPassword}).IsSuccess())

	r := h.svc.DeleteGroup(ctx, "Admin")
	require.True(t, r.IsFailure())
	assert.Equal(t, "Removing a system user group is not permitted", r.Error())
	assert.ErrorIs(t, r.Err(), ErrValidation)

	exists, err := h.store.Groups(ctx).HasGroup(ctx, SystemGroupAdmin)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSeedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	opts := SeedOptions{Username: "root@example.com", Password: testPassword, FirstName: "Root"}

	require.True(t, h.svc.Seed(ctx, opts).IsSuccess())
	require.True(t, h.svc.Seed(ctx, opts).IsSuccess())

	groups := h.svc.ListGroups(ctx).Value()
	require.Len(t, groups, 1)
	assert.Equal(t, SystemGroupAdmin, groups[0].Name)
	assert.Equal(t, 1, groups[0].MemberCount)
	assert.Len(t, groups[0].Permissions, 1)

	s := h.login(t, "root@example.com")
	assert.Equal(t, []string{PermUserAccountAdmin}, s.Account.Permissions)

	members := h.svc.GetGroup(ctx, groups[0].ID).Value().Members
	require.Len(t, members, 1)
	assert.Equal(t, "root@example.com", members[0].Username)
}

func TestSearchAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []struct{ first, last, user string }{
		{"Jane", "Doe", "jane@example.com"},
		{"John", "Smith", "john@example.com"},
		{"Ann", "Doering", "ann@example.com"},
	} {
		r := h.svc.Register(ctx, RegisterCommand{FirstName: u.first, LastName: u.last, Username: u.user, Password: testPassword})
		require.True(t, r.IsSuccess(), r.Error())
	}

	page := h.svc.SearchAccounts(ctx, SearchRequest{Terms: []string{"doe"}, Sort: "FirstName", Ascending: true}).Value()
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Filtered)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Ann", page.Items[0].FirstName.Value())

	page = h.svc.SearchAccounts(ctx, SearchRequest{Terms: []string{"john@example.com"}}).Value()
	assert.Equal(t, 1, page.Filtered)

	page = h.svc.SearchAccounts(ctx, SearchRequest{Skip: 1, Take: 1, Sort: "Id"}).Value()
	assert.Equal(t, 3, page.Filtered)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(2), page.Items[0].ID)

	bad := h.svc.SearchAccounts(ctx, SearchRequest{Skip: -1})
	assert.ErrorIs(t, bad.Err(), ErrValidation)
	assert.Equal(t, "Skip must be at least 0", bad.Error())
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")

	assert.Equal(t, "Password is too short", h.svc.ResetPassword(ctx, id, "short").Error())
	require.True(t, h.svc.ResetPassword(ctx, id, "N3wPassword").IsSuccess())

	assert.True(t, h.svc.Authenticate(ctx, "jane@example.com", testPassword, "").IsFailure())
	assert.True(t, h.svc.Authenticate(ctx, "jane@example.com", "N3wPassword", "").IsSuccess())
	assert.True(t, h.svc.GetAccount(ctx, id).Value().ModifiedAt.HasValue())
}

func TestPersistenceFailureIsReported(t *testing.T) {
	h := newHarness(t)
	broken := &failingStore{MemoryStore: h.store, err: errors.New("db down")}
	svc, err := NewService(broken, WithTokenSecret(testSecret), WithClock(h.clock.Now), WithLogger(logrus.New()))
	require.NoError(t, err)

	r := svc.Register(context.Background(), RegisterCommand{Username: "jane@example.com", Password: testPassword})
	require.True(t, r.IsFailure())
	assert.ErrorIs(t, r.Err(), ErrPersistence)
	assert.ErrorIs(t, r.Err(), broken.err)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Accounts(ctx context.Context) AccountStore {
	return failingAccounts{AccountStore: f.MemoryStore.Accounts(ctx), err: f.err}
}

type failingAccounts struct {
	AccountStore
	err error
}

func (f failingAccounts) HasUsername(context.Context, string) (bool, error) { return false, f.err }

type listFailingStore struct {
	*MemoryStore
	err error
}

func (f *listFailingStore) Groups(ctx context.Context) GroupStore {
	return listFailingGroups{GroupStore: f.MemoryStore.Groups(ctx), err: f.err}
}

func (f *listFailingStore) Permissions(ctx context.Context) PermissionStore {
	return listFailingPermissions{PermissionStore: f.MemoryStore.Permissions(ctx), err: f.err}
}

type listFailingGroups struct {
	GroupStore
	err error
}

func (f listFailingGroups) List(context.Context) ([]*Group, error) { return nil, f.err }

type listFailingPermissions struct {
	PermissionStore
	err error
}

func (f listFailingPermissions) List(context.Context) ([]Permission, error) { return nil, f.err }

func TestLookupFailuresAreCountedAsErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t, "jane@example.com")
	gid := h.svc.CreateGroup(ctx, GroupCommand{Name: "Operators"})
	require.True(t, gid.IsSuccess(), gid.Error())

	reg := prometheus.NewRegistry()
	metrics, err := obs.NewAuthMetrics(reg)
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	broken := &listFailingStore{MemoryStore: h.store, err: errors.New("db down")}
	svc, err := NewService(broken, WithTokenSecret(testSecret), WithClock(h.clock.Now), WithMetrics(metrics), WithLogger(logger))
	require.NoError(t, err)

	assign := svc.AssignGroups(ctx, id, []string{"Operators"})
	assert.ErrorIs(t, assign.Err(), ErrPersistence)
	create := svc.CreateGroup(ctx, GroupCommand{Name: "Auditors", Permissions: []string{PermUserAccountViewer}})
	assert.ErrorIs(t, create.Err(), ErrPersistence)
	edit := svc.EditGroup(ctx, gid.Value(), GroupCommand{Name: "Operators"})
	assert.ErrorIs(t, edit.Err(), ErrPersistence)

	for _, op := range []string{"assign_groups", "create_group", "edit_group"} {
		assert.Equal(t, 1.0, counterValue(t, reg, "idgate_auth_events_total", op, "error"), op)
		assert.Zero(t, counterValue(t, reg, "idgate_auth_events_total", op, "rejected"), op)
	}
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level, e.Message)
	}
}
