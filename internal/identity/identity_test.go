package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idgate.org/internal/outcome"
)

type fakeHasher struct {
	calls []string
	err   error
}

func (f *fakeHasher) Hash(pw string) (string, error) {
	f.calls = append(f.calls, pw)
	if f.err != nil {
		return "", f.err
	}
	return "hashed:" + pw, nil
}

func TestEmailValidation(t *testing.T) {
	cases := []struct {
		in   outcome.Maybe[string]
		want string
	}{
		{outcome.None[string](), "Email should not be empty"},
		{outcome.Some("   "), "Email should not be empty."},
		{outcome.Some(strings.Repeat("a", 495) + "@b.com"), "Email is too long."},
		{outcome.Some("not-an-email"), "Email is invalid"},
	}
	for _, tc := range cases {
		r := NewEmail(tc.in)
		require.True(t, r.IsFailure())
		assert.Equal(t, tc.want, r.Error())
	}

	r := ParseEmail("  Alice@Example.com ")
	require.True(t, r.IsSuccess(), r.Error())
	assert.Equal(t, "Alice@Example.com", r.Value().String())
	assert.True(t, r.Value().Equal(ParseEmail("alice@example.COM").Value()))
	assert.Equal(t, "ALICE@EXAMPLE.COM", r.Value().Normalized())
}

func TestPasswordValidation(t *testing.T) {
	h := &fakeHasher{}

	assert.Equal(t, "Password should not be empty", ParsePassword("", true, h).Error())
	assert.Equal(t, "Password is too short", ParsePassword("  Ab1  ", true, h).Error())
	assert.Equal(t, "Strong password is required", ParsePassword("alllowercase1", true, h).Error())
	assert.Equal(t, "Strong password is required", ParsePassword("Has Space1x", true, h).Error())
	assert.Empty(t, h.calls)

	r := ParsePassword("alllowercase", false, h)
	require.True(t, r.IsSuccess(), r.Error())
	assert.Equal(t, "hashed:alllowercase", r.Value().Hash())

	r = ParsePassword("Str0ngPass", true, h)
	require.True(t, r.IsSuccess(), r.Error())
	assert.NotContains(t, r.Value().String(), "Str0ngPass")
}

func TestPasswordHasherFailure(t *testing.T) {
	boom := errors.New("entropy exhausted")
	r := ParsePassword("Str0ngPass", true, &fakeHasher{err: boom})
	assert.ErrorIs(t, r.Err(), boom)
}

func TestPhoneNumber(t *testing.T) {
	assert.Equal(t, "Phone number should not be empty", ParsePhoneNumber("").Error())
	assert.Equal(t, "Phone number should not be empty.", ParsePhoneNumber("  ").Error())
	assert.Equal(t, "Phone number is too long.", ParsePhoneNumber("+1234567890123456").Error())
	assert.Equal(t, "Phone number is invalid", ParsePhoneNumber("0771234567").Error())

	r := ParsePhoneNumber(" +94771234567 ")
	require.True(t, r.IsSuccess(), r.Error())
	assert.Equal(t, "+94771234567", r.Value().String())
}

func TestGroupText(t *testing.T) {
	assert.Equal(t, "User group name is not specified", GroupName("").Error())
	assert.Equal(t, "User group name is too short", GroupName("  abc   ").Error())
	assert.Equal(t, "User group name is too long", GroupName(strings.Repeat("a", 51)).Error())
	assert.Equal(t, "User group contains invalid characters", GroupName("Ops-Team").Error())
	assert.Equal(t, "Ops Team 1", GroupName(" Ops Team 1 ").Value())

	assert.Equal(t, "", GroupDescription("   ").Value())
	assert.True(t, GroupDescription(strings.Repeat("d", 251)).IsFailure())
}
