/**
 * @description
 * This package provides API key generation and verification helpers. Keys are
 * random secrets with a recognizable "sk_live_" prefix; only a bcrypt hash and
 * a short display prefix are ever stored.
 */
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	keyScheme = "sk_live_"
	// prefixLength covers the scheme plus the first few secret characters,
	// enough to identify a key in a dashboard without revealing it.
	prefixLength = 12
	secretBytes  = 24
)

// GenerateAPIKey returns a new plaintext key and its display prefix.
func GenerateAPIKey() (plain string, prefix string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	plain = keyScheme + hex.EncodeToString(buf)
	return plain, plain[:prefixLength], nil
}

// HashAPIKey produces the bcrypt hash stored in place of the key.
func HashAPIKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey reports whether the plaintext key matches the stored hash.
func VerifyAPIKey(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// DisplayPrefix extracts the lookup prefix from a presented key. It returns
// false for anything that is not shaped like one of our keys.
func DisplayPrefix(plain string) (string, bool) {
	if !strings.HasPrefix(plain, keyScheme) || len(plain) < prefixLength+8 {
		return "", false
	}
	return plain[:prefixLength], true
}
