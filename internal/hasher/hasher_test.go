package hasher

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// cheap keeps the suite fast; production presets are exercised once below.
var cheap = Params{N: 16, R: 1, P: 1, SaltLen: 8, KeyLen: 16}

func newCheap(t *testing.T, opts ...Option) *Hasher {
	t.Helper()
	h, err := New(cheap, opts...)
	require.NoError(t, err)
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := newCheap(t)
	for _, pw := range []string{"Passw0rd!", "correct horse battery staple", "ünïcødé-1A"} {
		encoded, err := h.Hash(pw)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encoded, "$scrypt$ln=4,r=1,p=1$"), encoded)

		v, err := h.Verify(encoded, pw)
		require.NoError(t, err)
		assert.Equal(t, Match, v)

		v, err = h.Verify(encoded, pw+"x")
		require.NoError(t, err)
		assert.Equal(t, Mismatch, v)
	}
}

func TestHashIsSalted(t *testing.T) {
	h := newCheap(t)
	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsEmptyInput(t *testing.T) {
	h := newCheap(t)
	_, err := h.Verify("", "x")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.Verify("$scrypt$ln=4,r=1,p=1$AAAA$AAAA", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.Hash("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVerifyMalformed(t *testing.T) {
	h := newCheap(t)
	for _, enc := range []string{
		"plain",
		"$scrypt$bad$x$y",
		"$scrypt$ln=4,r=1,p=1$!!$AAAA",
		"$scrypt$ln=4,r=1024,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$scrypt$ln=4,r=1,p=4096$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$scrypt$ln=28,r=8,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=65536,t=0,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=65536,t=1,p=0$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=4,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=4194304,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=65536,t=1000,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
	} {
		_, err := h.Verify(enc, "pw")
		assert.ErrorIs(t, err, ErrMalformedHash, enc)
	}
}

func TestPepperChangesKey(t *testing.T) {
	peppered := newCheap(t, WithPepper("server-secret"))
	plain := newCheap(t)

	encoded, err := peppered.Hash("Passw0rd")
	require.NoError(t, err)

	v, err := peppered.Verify(encoded, "Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, Match, v)

	v, err = plain.Verify(encoded, "Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, Mismatch, v)
}

func TestLegacyHashes(t *testing.T) {
	h := newCheap(t)

	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("legacy-pass"), salt, 1, 8*1024, 1, 32)
	argon := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", 8*1024, 1, 1,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key))

	v, err := h.Verify(argon, "legacy-pass")
	require.NoError(t, err)
	assert.Equal(t, Match, v)
	v, err = h.Verify(argon, "other")
	require.NoError(t, err)
	assert.Equal(t, Mismatch, v)

	bc, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	v, err = h.Verify(string(bc), "legacy-pass")
	require.NoError(t, err)
	assert.Equal(t, Match, v)
	assert.True(t, h.NeedsRehash(string(bc)))
}

func TestPresets(t *testing.T) {
	p, err := Preset("Moderate")
	require.NoError(t, err)
	assert.Equal(t, Moderate, p)
	p, err = Preset("")
	require.NoError(t, err)
	assert.Equal(t, Sensitive, p)
	_, err = Preset("extreme")
	assert.Error(t, err)

	_, err = New(Params{N: 1000, R: 1, P: 1, SaltLen: 8, KeyLen: 8})
	assert.Error(t, err)
}

func TestModeratePresetRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("slow preset")
	}
	h, err := New(Moderate)
	require.NoError(t, err)
	encoded, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$scrypt$ln=14,r=8,p=2$"))
	assert.False(t, h.NeedsRehash(encoded))
	v, err := h.Verify(encoded, "Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, Match, v)
}
