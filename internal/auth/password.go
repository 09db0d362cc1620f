package auth

import (
	"fmt"

	"github.com/matthewhartstonge/argon2"
)

// HashPassword returns an argon2id encoded hash of the password.
func HashPassword(password string) (string, error) {
	cfg := argon2.DefaultConfig()
	encoded, err := cfg.HashEncoded([]byte(password))
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(encoded), nil
}

// VerifyPassword reports whether password matches the encoded hash. A
// malformed hash is an error, a mismatch is just false.
func VerifyPassword(password, encodedHash string) (bool, error) {
	ok, err := argon2.VerifyEncoded([]byte(password), []byte(encodedHash))
	if err != nil {
		return false, fmt.Errorf("verifying password: %w", err)
	}
	return ok, nil
}
