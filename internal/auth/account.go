package auth

import (
	"fmt"
	"strings"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/outcome"
)

const (
	defaultLockoutThreshold = 3
	defaultLockoutDuration  = 10 * time.Minute
	blockDuration           = 100 * 365 * 24 * time.Hour
)

// LockoutPolicy controls when repeated login failures lock an account.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: defaultLockoutThreshold, Duration: defaultLockoutDuration}
}

// Account is the identity aggregate. Usernames are email addresses.
type Account struct {
	ID                int64
	FirstName         outcome.Maybe[string]
	LastName          outcome.Maybe[string]
	Username          identity.Email
	PasswordHash      string
	AccessFailedCount int
	LockoutEnd        outcome.Maybe[time.Time]
	CreatedAt         time.Time
	ModifiedAt        outcome.Maybe[time.Time]
	Groups            []*UserGroup
}

// NewAccount returns an unsaved account with a clean security state.
func NewAccount(first, last outcome.Maybe[string], username identity.Email, password identity.Password, now time.Time) *Account {
	return &Account{
		FirstName:    first,
		LastName:     last,
		Username:     username,
		PasswordHash: password.Hash(),
		CreatedAt:    now.UTC(),
	}
}

func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName.OrElse("") + " " + a.LastName.OrElse(""))
}

// IsLocked covers both temporary lockouts and admin blocks.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockoutEnd.HasValue() && a.LockoutEnd.Value().After(now)
}

// LockoutRemaining renders the time left until the lockout ends.
func (a *Account) LockoutRemaining(now time.Time) string {
	if !a.IsLocked(now) {
		return "0 minutes"
	}
	left := a.LockoutEnd.Value().Sub(now)
	days := int(left / (24 * time.Hour))
	left -= time.Duration(days) * 24 * time.Hour
	hours := int(left / time.Hour)
	left -= time.Duration(hours) * time.Hour
	minutes := int((left + time.Minute - 1) / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%d days %d hours %d minutes", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d hours %d minutes", hours, minutes)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

// RecordFailedLogin counts a failed attempt and locks the account once the
// threshold is reached. The counter is not reset by the lockout, and an
// existing longer lockout (a block) is never shortened.
func (a *Account) RecordFailedLogin(now time.Time, policy LockoutPolicy) {
	a.AccessFailedCount++
	if a.AccessFailedCount < policy.Threshold {
		return
	}
	end := now.Add(policy.Duration).UTC()
	if a.LockoutEnd.HasValue() && a.LockoutEnd.Value().After(end) {
		return
	}
	a.LockoutEnd = outcome.Some(end)
}

// ResetLockout clears the failure counter and any lockout.
func (a *Account) ResetLockout() {
	a.AccessFailedCount = 0
	a.LockoutEnd = outcome.None[time.Time]()
}

// Block locks the account for good. Only Unblock clears it.
func (a *Account) Block(now time.Time) {
	a.LockoutEnd = outcome.Some(now.Add(blockDuration).UTC())
	a.ModifiedAt = outcome.Some(now.UTC())
}

func (a *Account) Unblock(now time.Time) {
	a.ResetLockout()
	a.ModifiedAt = outcome.Some(now.UTC())
}

func (a *Account) ChangePassword(p identity.Password, now time.Time) {
	a.PasswordHash = p.Hash()
	a.ModifiedAt = outcome.Some(now.UTC())
}

// UpdateUserGroups makes groups the desired membership of the account.
func (a *Account) UpdateUserGroups(groups []*Group) {
	byID := make(map[int64]*Group, len(groups))
	desired := make([]int64, 0, len(groups))
	for _, g := range groups {
		if _, dup := byID[g.ID]; dup {
			continue
		}
		byID[g.ID] = g
		desired = append(desired, g.ID)
	}
	a.Groups = reconcile(a.Groups, desired, func(id int64) *UserGroup {
		return &UserGroup{AccountID: a.ID, GroupID: id, GroupName: byID[id].Name, State: LinkAdded}
	})
}

// ActiveGroups returns memberships not marked for deletion.
func (a *Account) ActiveGroups() []*UserGroup {
	out := make([]*UserGroup, 0, len(a.Groups))
	for _, l := range a.Groups {
		if l.State != LinkDeleted {
			out = append(out, l)
		}
	}
	return out
}

func (a *Account) PendingChanges() int { return pending(a.Groups) }

func (a *Account) MarkPersisted() { a.Groups = settle(a.Groups) }

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Groups = make([]*UserGroup, len(a.Groups))
	for i, l := range a.Groups {
		lc := *l
		cp.Groups[i] = &lc
	}
	return &cp
}

// AccountSummary is returned to clients after authentication.
type AccountSummary struct {
	ID          int64
	Username    string
	FullName    string
	Permissions []string
}

// AccountDetails is the administrative view of an account.
type AccountDetails struct {
	ID                int64
	FirstName         outcome.Maybe[string]
	LastName          outcome.Maybe[string]
	FullName          string
	Username          string
	AccessFailedCount int
	Locked            bool
	LockoutRemaining  string
	CreatedAt         time.Time
	ModifiedAt        outcome.Maybe[time.Time]
	Groups            []string
}
