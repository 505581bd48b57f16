package auth

import (
	"context"
	"time"

	"idgate.org/internal/outcome"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Groups(ctx context.Context) GroupStore
	Permissions(ctx context.Context) PermissionStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// LockoutState is the security state written by the atomic lockout operations.
type LockoutState struct {
	AccessFailedCount int
	LockoutEnd        outcome.Maybe[time.Time]
}

// AccountStore manages accounts and their group memberships.
//
// Update never writes the lockout fields: those only change through
// IncrementFailedLogin, ResetLockout and Block, each a single atomic step,
// so concurrent failures can not lose or undo increments.
type AccountStore interface {
	Insert(ctx context.Context, a *Account) (int64, error)
	Find(ctx context.Context, id int64) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	HasUsername(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, a *Account) error
	IncrementFailedLogin(ctx context.Context, id int64, now time.Time, policy LockoutPolicy) (LockoutState, error)
	ResetLockout(ctx context.Context, id int64, now time.Time) error
	Block(ctx context.Context, id int64, until, now time.Time) error
	Search(ctx context.Context, q AccountQuery) (AccountPage, error)
}

// GroupStore manages groups and their permission links.
type GroupStore interface {
	Insert(ctx context.Context, g *Group) (int64, error)
	Find(ctx context.Context, id int64) (*Group, error)
	FindByName(ctx context.Context, name string) (*Group, error)
	HasGroup(ctx context.Context, name string) (bool, error)
	Update(ctx context.Context, g *Group) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*Group, error)
	Members(ctx context.Context, id int64) ([]GroupMember, error)
	// GrantedPermissions returns the permission names granted to an account
	// through all of its groups.
	GrantedPermissions(ctx context.Context, accountID int64) ([]string, error)
}

// GroupMember is an account listed as a member of a group.
type GroupMember struct {
	AccountID int64
	Username  string
	FullName  string
}

// PermissionStore manages the active rows of the permission catalog.
type PermissionStore interface {
	Insert(ctx context.Context, p *Permission) (int64, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Permission, error)
}

// RefreshTokenStore keeps the append-only refresh token chain.
type RefreshTokenStore interface {
	Insert(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, token string) (*RefreshToken, error)
	// Exchange atomically revokes the presented token if it belongs to accountID
	// and is still active, recording next as its replacement, and stores next.
	// It reports false when no active token matched.
	Exchange(ctx context.Context, accountID int64, presented string, now time.Time, ip string, next *RefreshToken) (bool, error)
	// Revoke revokes a single active token without replacement.
	Revoke(ctx context.Context, token string, now time.Time, ip string) (bool, error)
	// RevokeAll revokes every active token of an account and returns their values.
	RevokeAll(ctx context.Context, accountID int64, now time.Time, ip string) ([]string, error)
	ListActive(ctx context.Context, now time.Time) ([]RefreshToken, error)
}
