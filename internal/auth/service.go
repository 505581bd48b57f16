package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"idgate.org/internal/audit"
	"idgate.org/internal/hasher"
	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/outcome"
)

const (
	msgInvalidCredentials = "Invalid account credentials provided"
	msgTokenInvalid       = "Provided token is invalid or expired."
	msgLoginThrottled     = "Too many login attempts. Please try again later"
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encoded, candidate string) (hasher.Verdict, error)
}

// rehasher is implemented by hashers that can tell when a stored hash uses an
// outdated algorithm or cost.
type rehasher interface {
	NeedsRehash(encoded string) bool
}

// Service exposes the account, token and RBAC operations. Every operation
// returns an outcome.Result whose error is a *Failure.
type Service struct {
	store   Store
	now     func() time.Time
	random  io.Reader
	hasher  PasswordHasher
	signer  tokenSigner
	catalog *Catalog
	index   TokenIndex
	lockout LockoutPolicy
	log     logrus.FieldLogger
	metrics *obs.AuthMetrics

	refreshTTL time.Duration
	throttle   *loginThrottle
	loginRate  float64
	loginBurst int

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 key used for access tokens. It is required.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: token secret is empty")
		}
		s.signer.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.signer.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.signer.ttl = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRandom overrides the random source used for refresh tokens.
func WithRandom(r io.Reader) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.random = r
		}
		return nil
	}
}

// WithHasher sets the password hasher. The default is scrypt with the Sensitive preset.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithLockoutPolicy overrides the failed-login threshold and lockout duration.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if p.Threshold <= 0 || p.Duration <= 0 {
			return errors.New("auth: lockout threshold and duration must be positive")
		}
		s.lockout = p
		return nil
	}
}

// WithCatalog sets the permission catalog and reserved group names.
func WithCatalog(c *Catalog) ServiceOption {
	return func(s *Service) error {
		if c != nil {
			s.catalog = c
		}
		return nil
	}
}

// WithTokenIndex sets the derived refresh token index.
func WithTokenIndex(idx TokenIndex) ServiceOption {
	return func(s *Service) error {
		if idx != nil {
			s.index = idx
		}
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *obs.AuthMetrics) ServiceOption {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithLoginRateLimit throttles authentication attempts per username.
// A non-positive rate disables throttling.
func WithLoginRateLimit(perSecond float64, burst int) ServiceOption {
	return func(s *Service) error {
		s.loginRate = perSecond
		s.loginBurst = burst
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		random:     rand.Reader,
		catalog:    DefaultCatalog(),
		lockout:    DefaultLockoutPolicy(),
		log:        obs.Logger(),
		refreshTTL: defaultRefreshTTL,
		signer:     tokenSigner{issuer: defaultIssuer, ttl: defaultAccessTTL},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.signer.secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	svc.signer.now = svc.now
	if svc.hasher == nil {
		h, err := hasher.New(hasher.Sensitive)
		if err != nil {
			return nil, err
		}
		svc.hasher = h
	}
	if svc.index == nil {
		svc.index = NewMemoryTokenIndex(svc.now)
	}
	if svc.loginRate > 0 {
		svc.throttle = newLoginThrottle(svc.loginRate, svc.loginBurst, svc.now)
	}
	return svc, nil
}

// Register creates an account. The username must be an email address and the
// password must satisfy the strong password rules.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) outcome.Result[int64] {
	log := s.log.WithField("username", strings.TrimSpace(cmd.Username))
	log.Info("registering account")

	if r := checkStruct(cmd); r.IsFailure() {
		return rejected(s, log, "register", outcome.Propagate[int64](r))
	}
	email := identity.ParseEmail(cmd.Username)
	password := identity.ParsePassword(cmd.Password, true, s.hasher)
	if r := outcome.Combine(email, password); r.IsFailure() {
		return rejected(s, log, "register", invalid[int64](r))
	}

	accounts := s.store.Accounts(ctx)
	taken, err := accounts.HasUsername(ctx, email.Value().Normalized())
	if err != nil {
		return storeFailed(s, log, "register", persistence[int64](err))
	}
	if taken {
		return rejected(s, log, "register", fail[int64](ErrValidation, "Username already taken: %s", email.Value()))
	}

	acc := NewAccount(optionalName(cmd.FirstName), optionalName(cmd.LastName), email.Value(), password.Value(), s.now())
	id, err := accounts.Insert(ctx, acc)
	if errors.Is(err, ErrConflict) {
		return rejected(s, log, "register", fail[int64](ErrValidation, "Username already taken: %s", email.Value()))
	}
	if err != nil {
		return storeFailed(s, log, "register", persistence[int64](err))
	}
	s.audit(ctx, "account.registered", map[string]any{"account_id": id, "username": email.Value().String()})
	s.metrics.Observe("register", "success")
	return outcome.Ok(id)
}

// RegisterCommand is the input of Register. Names are optional.
type RegisterCommand struct {
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
	Username  string
	Password  string
}

// Authenticate verifies credentials and issues an access and refresh token.
// Unknown usernames and wrong passwords produce the same message.
func (s *Service) Authenticate(ctx context.Context, username, password, ip string) outcome.Result[Session] {
	log := s.log.WithFields(logrus.Fields{"username": strings.TrimSpace(username), "ip": ip})
	log.Info("authenticating account")

	email := identity.ParseEmail(username)
	text := identity.CheckPassword(optionalName(password), false)
	if r := outcome.Combine(email, text); r.IsFailure() {
		return rejected(s, log, "authenticate", invalid[Session](r))
	}
	if !s.throttle.allow(email.Value().Normalized()) {
		return rejected(s, log, "authenticate", fail[Session](ErrUnauthorized, msgLoginThrottled))
	}

	accounts := s.store.Accounts(ctx)
	acc, err := accounts.FindByUsername(ctx, email.Value().Normalized())
	if errors.Is(err, ErrNotFound) {
		s.burnVerify(password)
		return rejected(s, log, "authenticate", fail[Session](ErrUnauthorized, msgInvalidCredentials))
	}
	if err != nil {
		return storeFailed(s, log, "authenticate", persistence[Session](err))
	}

	now := s.now()
	if acc.IsLocked(now) {
		return rejected(s, log, "authenticate", fail[Session](ErrUnauthorized,
			"Too many unsuccessful login attempts. Please try again after %s", acc.LockoutRemaining(now)))
	}

	started := time.Now()
	verdict, err := s.hasher.Verify(acc.PasswordHash, password)
	s.metrics.ObserveVerify(time.Since(started))
	if err != nil {
		log.WithError(err).Error("password hash could not be verified")
	}
	if err != nil || verdict != hasher.Match {
		state, ierr := accounts.IncrementFailedLogin(ctx, acc.ID, now, s.lockout)
		if ierr != nil {
			return storeFailed(s, log, "authenticate", persistence[Session](ierr))
		}
		if state.LockoutEnd.HasValue() && state.LockoutEnd.Value().After(now) {
			log.WithField("account_id", acc.ID).Warn("account locked after repeated failures")
			s.metrics.Lockout()
		}
		return rejected(s, log, "authenticate", fail[Session](ErrUnauthorized, msgInvalidCredentials))
	}

	if acc.AccessFailedCount > 0 || acc.LockoutEnd.HasValue() {
		if err := accounts.ResetLockout(ctx, acc.ID, now); err != nil {
			return storeFailed(s, log, "authenticate", persistence[Session](err))
		}
	}

	s.upgradeHash(ctx, log, accounts, acc, password, now)

	perms, err := s.store.Groups(ctx).GrantedPermissions(ctx, acc.ID)
	if err != nil {
		return storeFailed(s, log, "authenticate", persistence[Session](err))
	}
	access, accessExp, err := s.signer.sign(acc.ID, acc.Username.String(), perms)
	if err != nil {
		return storeFailed(s, log, "authenticate", outcome.FailErr[Session](&Failure{Kind: ErrUnauthorized, Message: "Unable to issue access token", Cause: err}))
	}
	refresh, err := newRefreshToken(s.random, acc.ID, ip, now, s.refreshTTL)
	if err != nil {
		return storeFailed(s, log, "authenticate", persistence[Session](err))
	}
	if err := s.store.RefreshTokens(ctx).Insert(ctx, refresh); err != nil {
		return storeFailed(s, log, "authenticate", persistence[Session](err))
	}
	s.indexPut(ctx, refresh)

	s.metrics.Observe("authenticate", "success")
	return outcome.Ok(Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		Account: AccountSummary{
			ID:          acc.ID,
			Username:    acc.Username.String(),
			FullName:    acc.FullName(),
			Permissions: dedupePermissions(perms),
		},
	})
}

// RotateRefreshToken exchanges an access token (expired or not) and an active
// refresh token for a new pair. The refresh token is revoked in the same atomic
// step that records its replacement, so of several concurrent rotations with
// the same token at most one succeeds. Every failure returns the same message.
func (s *Service) RotateRefreshToken(ctx context.Context, accessToken, refreshToken, ip string) outcome.Result[TokenPair] {
	log := s.log.WithField("ip", ip)
	log.Info("rotating refresh token")
	rejected := func() outcome.Result[TokenPair] {
		return rejected(s, log, "rotate", fail[TokenPair](ErrUnauthorized, msgTokenInvalid))
	}

	claims, err := s.signer.parseSignature(accessToken)
	if err != nil || strings.TrimSpace(refreshToken) == "" {
		return rejected()
	}
	acc, err := s.store.Accounts(ctx).Find(ctx, claims.AccountID)
	if errors.Is(err, ErrNotFound) {
		return rejected()
	}
	if err != nil {
		return storeFailed(s, log, "rotate", persistence[TokenPair](err))
	}

	now := s.now()
	perms, err := s.store.Groups(ctx).GrantedPermissions(ctx, acc.ID)
	if err != nil {
		return storeFailed(s, log, "rotate", persistence[TokenPair](err))
	}
	access, accessExp, err := s.signer.sign(acc.ID, acc.Username.String(), perms)
	if err != nil {
		return rejected()
	}
	next, err := newRefreshToken(s.random, acc.ID, ip, now, s.refreshTTL)
	if err != nil {
		return storeFailed(s, log, "rotate", persistence[TokenPair](err))
	}

	swapped, err := s.store.RefreshTokens(ctx).Exchange(ctx, acc.ID, refreshToken, now, ip, next)
	if err != nil {
		return storeFailed(s, log, "rotate", persistence[TokenPair](err))
	}
	if !swapped {
		return rejected()
	}
	s.indexRemove(ctx, refreshToken)
	s.indexPut(ctx, next)

	s.metrics.Observe("rotate", "success")
	return outcome.Ok(TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     next.Token,
		RefreshExpiresAt: next.ExpiresAt,
	})
}

// Logout revokes a refresh token. The owner is looked up in the token index
// first and in the store on a miss.
func (s *Service) Logout(ctx context.Context, refreshToken, ip string) outcome.Result[outcome.Unit] {
	log := s.log.WithField("ip", ip)
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return rejected(s, log, "logout", fail[outcome.Unit](ErrUnauthorized, msgTokenInvalid))
	}

	tokens := s.store.RefreshTokens(ctx)
	owner, found, err := s.index.Lookup(ctx, refreshToken)
	if err != nil {
		log.WithError(err).Warn("token index lookup failed")
	}
	if !found {
		t, err := tokens.Find(ctx, refreshToken)
		if errors.Is(err, ErrNotFound) {
			return rejected(s, log, "logout", fail[outcome.Unit](ErrUnauthorized, msgTokenInvalid))
		}
		if err != nil {
			return storeFailed(s, log, "logout", persistence[outcome.Unit](err))
		}
		owner = t.AccountID
	}

	revoked, err := tokens.Revoke(ctx, refreshToken, s.now(), ip)
	if err != nil {
		return storeFailed(s, log, "logout", persistence[outcome.Unit](err))
	}
	s.indexRemove(ctx, refreshToken)
	if !revoked {
		return rejected(s, log, "logout", fail[outcome.Unit](ErrUnauthorized, msgTokenInvalid))
	}
	s.audit(ctx, "token.revoked", map[string]any{"account_id": owner})
	s.metrics.Observe("logout", "success")
	return outcome.Success()
}

// AuthenticateToken fully validates an access token and returns its principal.
func (s *Service) AuthenticateToken(ctx context.Context, accessToken string) outcome.Result[Principal] {
	claims, err := s.signer.parse(accessToken)
	if err != nil {
		s.metrics.Observe("verify", "rejected")
		return fail[Principal](ErrUnauthorized, msgTokenInvalid)
	}
	return outcome.Ok(NewPrincipal(claims.AccountID, claims.Username, claims.Permissions))
}

// RebuildTokenIndex repopulates the token index from the durable token store.
func (s *Service) RebuildTokenIndex(ctx context.Context) outcome.Result[int] {
	n, err := RebuildTokenIndex(ctx, s.store.RefreshTokens(ctx), s.index, s.now())
	if err != nil {
		return storeFailed(s, s.log, "reindex", persistence[int](err))
	}
	s.log.WithField("entries", n).Info("token index rebuilt")
	return outcome.Ok(n)
}

// burnVerify spends the same work as a real verification so unknown usernames
// can not be told apart by response time.
func (s *Service) burnVerify(candidate string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("idgate-unknown-account")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" && candidate != "" {
		_, _ = s.hasher.Verify(s.dummyHash, candidate)
	}
}

// upgradeHash re-hashes a verified password whose stored hash is outdated.
// Failures are logged; the login itself has already succeeded.
func (s *Service) upgradeHash(ctx context.Context, log logrus.FieldLogger, accounts AccountStore, acc *Account, password string, now time.Time) {
	rh, ok := s.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(acc.PasswordHash) {
		return
	}
	encoded, err := s.hasher.Hash(password)
	if err != nil {
		log.WithError(err).Warn("password rehash failed")
		return
	}
	acc.PasswordHash = encoded
	acc.ModifiedAt = outcome.Some(now.UTC())
	if err := accounts.Update(ctx, acc); err != nil {
		log.WithError(err).Warn("password rehash not stored")
		return
	}
	log.WithField("account_id", acc.ID).Info("password hash upgraded")
}

func (s *Service) indexPut(ctx context.Context, t *RefreshToken) {
	if err := s.index.Put(ctx, t.Token, t.AccountID, t.ExpiresAt); err != nil {
		s.log.WithError(err).Warn("token index update failed")
	}
}

func (s *Service) indexRemove(ctx context.Context, tokens ...string) {
	if len(tokens) == 0 {
		return
	}
	if err := s.index.Remove(ctx, tokens...); err != nil {
		s.log.WithError(err).Warn("token index update failed")
	}
}

func (s *Service) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		s.log.WithError(err).Warn("audit event dropped")
	}
}

func rejected[T any](s *Service, log logrus.FieldLogger, op string, r outcome.Result[T]) outcome.Result[T] {
	log.WithField("reason", r.Error()).Warn("validation failed")
	s.metrics.Observe(op, "rejected")
	return r
}

func storeFailed[T any](s *Service, log logrus.FieldLogger, op string, r outcome.Result[T]) outcome.Result[T] {
	entry := log.WithField("operation", op)
	var f *Failure
	if errors.As(r.Err(), &f) && f.Cause != nil {
		entry = entry.WithError(f.Cause)
	}
	entry.Error(r.Error())
	s.metrics.Observe(op, "error")
	return r
}

// failed routes a failure to storeFailed when persistence caused it and to
// rejected otherwise.
func failed[T any](s *Service, log logrus.FieldLogger, op string, r outcome.Result[T]) outcome.Result[T] {
	if errors.Is(r.Err(), ErrPersistence) {
		return storeFailed(s, log, op, r)
	}
	return rejected(s, log, op, r)
}

// optionalName maps blank input to None.
func optionalName(v string) outcome.Maybe[string] {
	v = strings.TrimSpace(v)
	if v == "" {
		return outcome.None[string]()
	}
	return outcome.Some(v)
}
