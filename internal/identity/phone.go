package identity

import (
	"regexp"
	"strings"

	"idgate.org/internal/outcome"
)

const maxPhoneLength = 15

var phonePattern = regexp.MustCompile(`\+[0-9]+$`)

// PhoneNumber is an international number: a leading '+' followed by digits.
type PhoneNumber struct {
	value string
}

func NewPhoneNumber(raw outcome.Maybe[string]) outcome.Result[PhoneNumber] {
	r := raw.ToResult("Phone number should not be empty")
	r = outcome.Map(r, strings.TrimSpace).
		Ensure(func(s string) bool { return s != "" }, "Phone number should not be empty.").
		Ensure(func(s string) bool { return len(s) <= maxPhoneLength }, "Phone number is too long.").
		Ensure(phonePattern.MatchString, "Phone number is invalid")
	return outcome.Map(r, func(s string) PhoneNumber { return PhoneNumber{value: s} })
}

func ParsePhoneNumber(raw string) outcome.Result[PhoneNumber] {
	return NewPhoneNumber(optional(raw))
}

func (p PhoneNumber) String() string { return p.value }
