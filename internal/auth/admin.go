package auth

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"idgate.org/internal/identity"
	"idgate.org/internal/outcome"
)

// RecordFailedLogin counts a failed login for the account, locking it once the
// threshold is reached. The increment is a single atomic store operation.
func (s *Service) RecordFailedLogin(ctx context.Context, accountID int64) outcome.Result[LockoutState] {
	log := s.log.WithField("account_id", accountID)
	state, err := s.store.Accounts(ctx).IncrementFailedLogin(ctx, accountID, s.now(), s.lockout)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "record_failure", accountNotFound[LockoutState](accountID))
	}
	if err != nil {
		return storeFailed(s, log, "record_failure", persistence[LockoutState](err))
	}
	return outcome.Ok(state)
}

// ResetLockout clears the failure counter and any temporary lockout.
func (s *Service) ResetLockout(ctx context.Context, accountID int64) outcome.Result[outcome.Unit] {
	log := s.log.WithField("account_id", accountID)
	err := s.store.Accounts(ctx).ResetLockout(ctx, accountID, s.now())
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "reset_lockout", accountNotFound[outcome.Unit](accountID))
	}
	if err != nil {
		return storeFailed(s, log, "reset_lockout", persistence[outcome.Unit](err))
	}
	return outcome.Success()
}

// Block locks an account until an administrator unblocks it and revokes its
// refresh tokens. Blocking one's own account is rejected.
func (s *Service) Block(ctx context.Context, accountID, actingAccountID int64) outcome.Result[outcome.Unit] {
	log := s.log.WithFields(logrus.Fields{"account_id": accountID, "acting_account_id": actingAccountID})
	log.Info("blocking account")
	if accountID == actingAccountID {
		return rejected(s, log, "block", fail[outcome.Unit](ErrValidation, "Cannot block own account"))
	}

	accounts := s.store.Accounts(ctx)
	acc, err := accounts.Find(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "block", accountNotFound[outcome.Unit](accountID))
	}
	if err != nil {
		return storeFailed(s, log, "block", persistence[outcome.Unit](err))
	}

	now := s.now()
	acc.Block(now)
	if err := accounts.Block(ctx, acc.ID, acc.LockoutEnd.Value(), now); err != nil {
		return storeFailed(s, log, "block", persistence[outcome.Unit](err))
	}
	revoked, err := s.store.RefreshTokens(ctx).RevokeAll(ctx, acc.ID, now, "")
	if err != nil {
		return storeFailed(s, log, "block", persistence[outcome.Unit](err))
	}
	s.indexRemove(ctx, revoked...)
	s.audit(ctx, "account.blocked", map[string]any{"account_id": acc.ID, "revoked_tokens": len(revoked)})
	s.metrics.Observe("block", "success")
	return outcome.Success()
}

// Unblock clears a block or lockout and resets the failure counter.
func (s *Service) Unblock(ctx context.Context, accountID int64) outcome.Result[outcome.Unit] {
	log := s.log.WithField("account_id", accountID)
	log.Info("unblocking account")
	err := s.store.Accounts(ctx).ResetLockout(ctx, accountID, s.now())
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "unblock", accountNotFound[outcome.Unit](accountID))
	}
	if err != nil {
		return storeFailed(s, log, "unblock", persistence[outcome.Unit](err))
	}
	s.audit(ctx, "account.unblocked", map[string]any{"account_id": accountID})
	s.metrics.Observe("unblock", "success")
	return outcome.Success()
}

// AssignGroups makes groupNames the complete group membership of the account.
// Names are matched ignoring case; an empty list removes every membership.
func (s *Service) AssignGroups(ctx context.Context, accountID int64, groupNames []string) outcome.Result[outcome.Unit] {
	log := s.log.WithFields(logrus.Fields{"account_id": accountID, "groups": groupNames})
	log.Info("assigning groups")

	accounts := s.store.Accounts(ctx)
	acc, err := accounts.Find(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "assign_groups", accountNotFound[outcome.Unit](accountID))
	}
	if err != nil {
		return storeFailed(s, log, "assign_groups", persistence[outcome.Unit](err))
	}

	groups := s.matchingGroups(ctx, groupNames)
	if groups.IsFailure() {
		return failed(s, log, "assign_groups", outcome.Propagate[outcome.Unit](groups))
	}
	acc.UpdateUserGroups(groups.Value())
	if acc.PendingChanges() == 0 {
		return outcome.Success()
	}
	acc.ModifiedAt = outcome.Some(s.now().UTC())
	if err := accounts.Update(ctx, acc); err != nil {
		return storeFailed(s, log, "assign_groups", persistence[outcome.Unit](err))
	}
	acc.MarkPersisted()
	s.audit(ctx, "account.groups_assigned", map[string]any{"account_id": acc.ID, "groups": activeGroupNames(acc)})
	s.metrics.Observe("assign_groups", "success")
	return outcome.Success()
}

func (s *Service) matchingGroups(ctx context.Context, names []string) outcome.Result[[]*Group] {
	all, err := s.store.Groups(ctx).List(ctx)
	if err != nil {
		return persistence[[]*Group](err)
	}
	var out []*Group
	for _, name := range dedupeNames(names) {
		var match *Group
		for _, g := range all {
			if g.IsNameSimilarTo(name) {
				match = g
				break
			}
		}
		if match == nil {
			return fail[[]*Group](ErrNotFound, "No matching user group found: %s", name)
		}
		out = append(out, match)
	}
	return outcome.Ok(out)
}

// ResetPassword replaces an account password. Strong password rules apply.
func (s *Service) ResetPassword(ctx context.Context, accountID int64, newPassword string) outcome.Result[outcome.Unit] {
	log := s.log.WithField("account_id", accountID)
	log.Info("resetting password")

	password := identity.ParsePassword(newPassword, true, s.hasher)
	if password.IsFailure() {
		return rejected(s, log, "reset_password", invalid[outcome.Unit](password))
	}
	accounts := s.store.Accounts(ctx)
	acc, err := accounts.Find(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return rejected(s, log, "reset_password", accountNotFound[outcome.Unit](accountID))
	}
	if err != nil {
		return storeFailed(s, log, "reset_password", persistence[outcome.Unit](err))
	}
	acc.ChangePassword(password.Value(), s.now())
	if err := accounts.Update(ctx, acc); err != nil {
		return storeFailed(s, log, "reset_password", persistence[outcome.Unit](err))
	}
	s.audit(ctx, "account.password_reset", map[string]any{"account_id": acc.ID})
	return outcome.Success()
}

// GetAccount returns the administrative view of an account.
func (s *Service) GetAccount(ctx context.Context, accountID int64) outcome.Result[AccountDetails] {
	acc, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return accountNotFound[AccountDetails](accountID)
	}
	if err != nil {
		return storeFailed(s, s.log, "get_account", persistence[AccountDetails](err))
	}
	now := s.now()
	return outcome.Ok(AccountDetails{
		ID:                acc.ID,
		FirstName:         acc.FirstName,
		LastName:          acc.LastName,
		FullName:          acc.FullName(),
		Username:          acc.Username.String(),
		AccessFailedCount: acc.AccessFailedCount,
		Locked:            acc.IsLocked(now),
		LockoutRemaining:  acc.LockoutRemaining(now),
		CreatedAt:         acc.CreatedAt,
		ModifiedAt:        acc.ModifiedAt,
		Groups:            activeGroupNames(acc),
	})
}

// NotAssignedGroups lists the groups the account is not a member of.
func (s *Service) NotAssignedGroups(ctx context.Context, accountID int64) outcome.Result[[]*Group] {
	acc, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return accountNotFound[[]*Group](accountID)
	}
	if err != nil {
		return storeFailed(s, s.log, "not_assigned_groups", persistence[[]*Group](err))
	}
	all, err := s.store.Groups(ctx).List(ctx)
	if err != nil {
		return storeFailed(s, s.log, "not_assigned_groups", persistence[[]*Group](err))
	}
	member := make(map[int64]struct{}, len(acc.Groups))
	for _, l := range acc.ActiveGroups() {
		member[l.GroupID] = struct{}{}
	}
	out := make([]*Group, 0, len(all))
	for _, g := range all {
		if _, ok := member[g.ID]; !ok {
			out = append(out, g)
		}
	}
	return outcome.Ok(out)
}

// SearchAccounts pages through accounts matching free text terms.
func (s *Service) SearchAccounts(ctx context.Context, req SearchRequest) outcome.Result[AccountPage] {
	if r := checkStruct(req); r.IsFailure() {
		return rejected(s, s.log, "search", outcome.Propagate[AccountPage](r))
	}
	take := req.Take
	if take == 0 {
		take = defaultSearchTake
	}
	page, err := s.store.Accounts(ctx).Search(ctx, AccountQuery{
		Filter:    SearchCriterion(req.Terms),
		Skip:      req.Skip,
		Take:      take,
		Sort:      ParseSortColumn(req.Sort),
		Ascending: req.Ascending,
	})
	if err != nil {
		return storeFailed(s, s.log, "search", persistence[AccountPage](err))
	}
	return outcome.Ok(page)
}

func accountNotFound[T any](id int64) outcome.Result[T] {
	return fail[T](ErrNotFound, "No matching user account found: %d", id)
}

func activeGroupNames(acc *Account) []string {
	var names []string
	for _, l := range acc.ActiveGroups() {
		names = append(names, l.GroupName)
	}
	sort.Strings(names)
	return names
}

// dedupeNames trims names and drops blanks and case-insensitive duplicates.
func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToUpper(n)
		if n == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
