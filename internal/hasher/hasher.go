// Package hasher provides the keyed, memory-hard credential hash used for account passwords.
package hasher

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"golang.org/x/crypto/scrypt"
)

var (
	ErrInvalidArgument = errors.New("hasher: invalid argument")
	ErrMalformedHash   = errors.New("hasher: malformed hash")
)

// Verdict is the outcome of comparing a candidate with a stored hash.
type Verdict int

const (
	Mismatch Verdict = iota
	Match
)

func (v Verdict) String() string {
	if v == Match {
		return "match"
	}
	return "mismatch"
}

// Params is an scrypt cost tuple. N must be a power of two greater than one.
type Params struct {
	N       int
	R       int
	P       int
	SaltLen int
	KeyLen  int
}

var (
	// Moderate suits interactive operations that run often.
	Moderate = Params{N: 16384, R: 8, P: 2, SaltLen: 16, KeyLen: 32}
	// Sensitive is used for stored account passwords.
	Sensitive = Params{N: 32768, R: 8, P: 4, SaltLen: 16, KeyLen: 32}
)

// Preset resolves a preset by name, defaulting to Sensitive.
func Preset(name string) (Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sensitive":
		return Sensitive, nil
	case "moderate":
		return Moderate, nil
	default:
		return Params{}, fmt.Errorf("hasher: unknown preset %q", name)
	}
}

func (p Params) validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("hasher: N must be a power of two > 1, got %d", p.N)
	}
	if p.R <= 0 || p.P <= 0 || p.SaltLen <= 0 || p.KeyLen <= 0 {
		return errors.New("hasher: cost parameters must be positive")
	}
	return nil
}

// Hasher hashes and verifies passwords. It is safe for concurrent use.
type Hasher struct {
	params Params
	pepper []byte
}

// Option customises a Hasher.
type Option func(*Hasher)

// WithPepper keys every hash with an application secret kept outside storage.
func WithPepper(pepper string) Option {
	return func(h *Hasher) {
		if pepper != "" {
			h.pepper = []byte(pepper)
		}
	}
}

// New builds a Hasher for params.
func New(params Params, opts ...Option) (*Hasher, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	h := &Hasher{params: params}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Hash returns an encoded hash embedding its own salt and parameters:
// $scrypt$ln=<log2 N>,r=<r>,p=<p>$<salt>$<key>
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrInvalidArgument
	}
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("hasher: read salt: %w", err)
	}
	key, err := scrypt.Key(h.keyed(password), salt, h.params.N, h.params.R, h.params.P, h.params.KeyLen)
	if err != nil {
		return "", fmt.Errorf("hasher: derive key: %w", err)
	}
	return fmt.Sprintf("$scrypt$ln=%d,r=%d,p=%d$%s$%s",
		bits.TrailingZeros(uint(h.params.N)),
		h.params.R,
		h.params.P,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares candidate with encoded. A wrong password is a Mismatch, not an error;
// empty inputs yield ErrInvalidArgument. Legacy argon2id and bcrypt hashes are accepted.
func (h *Hasher) Verify(encoded, candidate string) (Verdict, error) {
	if encoded == "" || candidate == "" {
		return Mismatch, ErrInvalidArgument
	}
	switch {
	case strings.HasPrefix(encoded, "$scrypt$"):
		return h.verifyScrypt(encoded, candidate)
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(encoded, candidate)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return verifyBcrypt(encoded, candidate)
	}
	return Mismatch, ErrMalformedHash
}

// NeedsRehash reports whether encoded was produced with another algorithm or cost.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, _, _, err := decodeScrypt(encoded)
	if err != nil {
		return true
	}
	return p.N != h.params.N || p.R != h.params.R || p.P != h.params.P
}

func (h *Hasher) verifyScrypt(encoded, candidate string) (Verdict, error) {
	p, salt, want, err := decodeScrypt(encoded)
	if err != nil {
		return Mismatch, err
	}
	got, err := scrypt.Key(h.keyed(candidate), salt, p.N, p.R, p.P, len(want))
	if err != nil {
		return Mismatch, fmt.Errorf("hasher: derive key: %w", err)
	}
	if subtle.ConstantTimeCompare(got, want) == 1 {
		return Match, nil
	}
	return Mismatch, nil
}

func (h *Hasher) keyed(password string) []byte {
	if len(h.pepper) == 0 {
		return []byte(password)
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

// Upper bounds for costs read from stored scrypt hashes.
const (
	maxScryptLogN = 20
	maxScryptR    = 32
	maxScryptP    = 16
)

func decodeScrypt(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// "", "scrypt", params, salt, key
	if len(parts) != 5 || parts[1] != "scrypt" {
		return Params{}, nil, nil, ErrMalformedHash
	}
	var ln, r, p int
	if _, err := fmt.Sscanf(parts[2], "ln=%d,r=%d,p=%d", &ln, &r, &p); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	if ln <= 0 || ln > maxScryptLogN || r <= 0 || r > maxScryptR || p <= 0 || p > maxScryptP {
		return Params{}, nil, nil, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	return Params{N: 1 << ln, R: r, P: p, SaltLen: len(salt), KeyLen: len(key)}, salt, key, nil
}
