package identity

import (
	"regexp"
	"strings"

	"idgate.org/internal/outcome"
)

const (
	minGroupNameLength = 5
	maxGroupNameLength = 50
	maxGroupDescLength = 250
)

var groupNamePattern = regexp.MustCompile(`^([a-zA-Z0-9 ])*$`)

// GroupName validates a group name: letters, digits and spaces, 5 to 50 characters.
func GroupName(raw string) outcome.Result[string] {
	r := optional(raw).ToResult("User group name is not specified")
	return outcome.Map(r, strings.TrimSpace).
		Ensure(func(s string) bool { return len(s) >= minGroupNameLength }, "User group name is too short").
		Ensure(func(s string) bool { return len(s) <= maxGroupNameLength }, "User group name is too long").
		Ensure(groupNamePattern.MatchString, "User group contains invalid characters")
}

// GroupDescription validates a description of at most 250 characters. Blank is allowed.
func GroupDescription(raw string) outcome.Result[string] {
	return outcome.Ok(strings.TrimSpace(raw)).
		Ensure(func(s string) bool { return len(s) <= maxGroupDescLength }, "User group description is too long")
}
