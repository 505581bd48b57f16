// Package identity holds the validated value objects accepted at the core boundary.
// Each factory threads a trimmed input through an ordered list of checks; the first
// failing check determines the returned message.
package identity

import (
	"regexp"
	"strings"

	"idgate.org/internal/outcome"
)

const maxEmailLength = 500

var emailPattern = regexp.MustCompile(`^(.+)@(.+)$`)

// Email is a trimmed, syntactically valid address. Equality ignores case.
type Email struct {
	value string
}

// NewEmail validates raw as an email address.
func NewEmail(raw outcome.Maybe[string]) outcome.Result[Email] {
	r := raw.ToResult("Email should not be empty")
	r = outcome.Map(r, strings.TrimSpace).
		Ensure(func(s string) bool { return s != "" }, "Email should not be empty.").
		Ensure(func(s string) bool { return len(s) <= maxEmailLength }, "Email is too long.").
		Ensure(emailPattern.MatchString, "Email is invalid")
	return outcome.Map(r, func(s string) Email { return Email{value: s} })
}

// ParseEmail is NewEmail for a plain string; blank input counts as missing.
func ParseEmail(raw string) outcome.Result[Email] {
	return NewEmail(optional(raw))
}

func (e Email) String() string { return e.value }

// Normalized is the case-folded form used for uniqueness and lookups.
func (e Email) Normalized() string { return strings.ToUpper(e.value) }

func (e Email) Equal(other Email) bool { return e.Normalized() == other.Normalized() }

func (e Email) IsZero() bool { return e.value == "" }

// optional maps an empty string to None so that factories report the "missing" message.
func optional(raw string) outcome.Maybe[string] {
	if raw == "" {
		return outcome.None[string]()
	}
	return outcome.Some(raw)
}
