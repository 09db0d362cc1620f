// Package token generates the opaque identifiers, slugs, activation keys
// and one-off passwords used across the portal. Every generator that
// promises uniqueness takes an ExistsFunc so the caller decides which
// collection the value must be unique within.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/gosimple/slug"
)

const (
	lowerAlphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	passwordAlphabet  = "1234567890ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz!@#$_"

	identifierMinLen = 40
	identifierMaxLen = 45
	keyMinLen        = 30
	keyMaxLen        = 45
	fallbackSlugLen  = 20
	slugSuffixLen    = 6

	// DefaultPasswordLength is used when a caller passes a non-positive length.
	DefaultPasswordLength = 8

	maxAttempts = 10
)

// ErrExhausted is returned when the uniqueness retry budget runs out
// without producing a collision-free value.
var ErrExhausted = errors.New("token: unique value retry budget exhausted")

// ExistsFunc reports whether a candidate value already exists in the
// owning collection. Storage errors propagate to the generator's caller.
type ExistsFunc func(value string) (bool, error)

// Identifier returns a random lowercase alphanumeric string of 40 to 45
// characters that does not collide with any existing value. Collisions
// are retried with a brand new candidate, never a derivative.
func Identifier(exists ExistsFunc) (string, error) {
	for range maxAttempts {
		length, err := randomInt(identifierMinLen, identifierMaxLen)
		if err != nil {
			return "", err
		}
		candidate, err := randomString(length, lowerAlphanumeric)
		if err != nil {
			return "", err
		}

		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("checking identifier uniqueness: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("generating identifier: %w", ErrExhausted)
}

// Slug returns a URL-safe slug for a record. A non-empty title is
// slugified; otherwise a random 20-character string is used. The record's
// own current slug never counts as a collision, so re-saving a record is
// stable. On collision a random 6-character suffix is appended to the
// base and the check repeats.
func Slug(title, current string, exists ExistsFunc) (string, error) {
	base := slug.Make(title)
	if base == "" {
		random, err := randomString(fallbackSlugLen, lowerAlphanumeric)
		if err != nil {
			return "", err
		}
		base = random
	}

	candidate := base
	for range maxAttempts {
		taken, err := slugTaken(candidate, current, exists)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}

		suffix, err := randomString(slugSuffixLen, lowerAlphanumeric)
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%s", base, suffix)
	}
	return "", fmt.Errorf("generating slug for %q: %w", base, ErrExhausted)
}

func slugTaken(candidate, current string, exists ExistsFunc) (bool, error) {
	if current != "" && candidate == current {
		return false, nil
	}
	taken, err := exists(candidate)
	if err != nil {
		return false, fmt.Errorf("checking slug uniqueness: %w", err)
	}
	return taken, nil
}

// Key returns an activation key: a random lowercase alphanumeric string
// of 30 to 45 characters, unique within the owning collection.
func Key(exists ExistsFunc) (string, error) {
	for range maxAttempts {
		length, err := randomInt(keyMinLen, keyMaxLen)
		if err != nil {
			return "", err
		}
		candidate, err := randomString(length, lowerAlphanumeric)
		if err != nil {
			return "", err
		}

		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("checking key uniqueness: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("generating activation key: %w", ErrExhausted)
}

// Password returns a random password drawn from digits, upper and lower
// case letters and a small symbol set. Passwords carry no uniqueness
// guarantee.
func Password(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasswordLength
	}
	return randomString(length, passwordAlphabet)
}

func randomString(length int, alphabet string) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// randomInt returns a uniform random value in [min, max].
func randomInt(min, max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, fmt.Errorf("reading random bytes: %w", err)
	}
	return min + int(n.Int64()), nil
}
