package identity

import (
	"regexp"
	"strings"
	"unicode"

	"idgate.org/internal/outcome"
)

const minPasswordLength = 8

// Hasher turns password text into a storable hash.
type Hasher interface {
	Hash(password string) (string, error)
}

// Password holds only the hash of a validated password.
type Password struct {
	hash string
}

// NewPassword validates text and hashes it. When strong is set the text must contain
// a digit, a lower-case and an upper-case letter and no whitespace.
func NewPassword(text outcome.Maybe[string], strong bool, hasher Hasher) outcome.Result[Password] {
	checked := CheckPassword(text, strong)
	if checked.IsFailure() {
		return outcome.Propagate[Password](checked)
	}
	hash, err := hasher.Hash(text.Value())
	if err != nil {
		return outcome.FailErr[Password](err)
	}
	return outcome.Ok(Password{hash: hash})
}

// CheckPassword runs the validation pipeline without hashing and returns the trimmed text.
func CheckPassword(text outcome.Maybe[string], strong bool) outcome.Result[string] {
	r := text.ToResult("Password should not be empty")
	return outcome.Map(r, strings.TrimSpace).
		Ensure(func(s string) bool { return len(s) >= minPasswordLength }, "Password is too short").
		Ensure(func(s string) bool { return !strong || isStrong(s) }, "Strong password is required").
		Ensure(func(s string) bool { return s != "" }, "Password should not be empty")
}

// ParsePassword is NewPassword for a plain string.
func ParsePassword(text string, strong bool, hasher Hasher) outcome.Result[Password] {
	return NewPassword(optional(text), strong, hasher)
}

// PasswordFromHash wraps a hash loaded from storage.
func PasswordFromHash(hash string) Password { return Password{hash: hash} }

func (p Password) Hash() string { return p.hash }

func (p Password) String() string { return "[redacted]" }

var (
	hasDigit = regexp.MustCompile(`\d`)
	hasLower = regexp.MustCompile(`[a-z]`)
	hasUpper = regexp.MustCompile(`[A-Z]`)
)

func isStrong(s string) bool {
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	return hasDigit.MatchString(s) && hasLower.MatchString(s) && hasUpper.MatchString(s)
}
