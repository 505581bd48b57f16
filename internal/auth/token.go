package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"idgate.org/internal/ids"
	"idgate.org/internal/outcome"
)

const (
	refreshTokenBytes = 32
	defaultRefreshTTL = 4 * time.Hour
	defaultAccessTTL  = 15 * time.Minute
)

// RefreshToken is an opaque per-device credential. Tokens are append-only:
// rotation revokes the presented token and records its replacement.
type RefreshToken struct {
	ID              string
	AccountID       int64
	Token           string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	CreatedByIP     string
	RevokedAt       outcome.Maybe[time.Time]
	RevokedByIP     outcome.Maybe[string]
	ReplacedByToken outcome.Maybe[string]
}

func (t *RefreshToken) IsExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

func (t *RefreshToken) IsRevoked() bool { return t.RevokedAt.HasValue() }

// IsActive is true iff the token is neither revoked nor expired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Revoke marks the token revoked. A revoked token is never modified again.
func (t *RefreshToken) Revoke(now time.Time, ip string, replacedBy outcome.Maybe[string]) bool {
	if t.IsRevoked() {
		return false
	}
	t.RevokedAt = outcome.Some(now.UTC())
	t.RevokedByIP = outcome.Some(ip)
	t.ReplacedByToken = replacedBy
	return true
}

func newRefreshToken(random io.Reader, accountID int64, ip string, now time.Time, ttl time.Duration) (*RefreshToken, error) {
	value, err := generateRefreshToken(random)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	return &RefreshToken{
		ID:          ids.At(now),
		AccountID:   accountID,
		Token:       value,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		CreatedByIP: ip,
	}, nil
}

func generateRefreshToken(random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Session is the result of a successful authentication.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          AccountSummary
}

// TokenPair is the result of a refresh token rotation.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
