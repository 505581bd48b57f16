package hasher

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Upper bounds for costs read from stored argon2id hashes.
const (
	maxArgonMemory     = 256 * 1024 // KiB
	maxArgonIterations = 16
	maxArgonThreads    = 16
)

// verifyArgon2id checks hashes in the $argon2id$v=19$m=..,t=..,p=..$salt$hash format.
func verifyArgon2id(encoded, candidate string) (Verdict, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Mismatch, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Mismatch, ErrMalformedHash
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return Mismatch, ErrMalformedHash
	}
	if iterations == 0 || iterations > maxArgonIterations || parallelism == 0 || parallelism > maxArgonThreads ||
		memory < 8*uint32(parallelism) || memory > maxArgonMemory {
		return Mismatch, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Mismatch, ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return Mismatch, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(candidate), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) == 1 {
		return Match, nil
	}
	return Mismatch, nil
}

func verifyBcrypt(encoded, candidate string) (Verdict, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(candidate))
	switch {
	case err == nil:
		return Match, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return Mismatch, nil
	default:
		return Mismatch, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}
