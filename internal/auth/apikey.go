// Package auth binds node and pod-runtime sessions to a principal:
// node API keys (bootstrap + reconnect), pod-runtime tokens, and
// interactive/admin JWTs. The hot path (heartbeat, scheduling) never calls
// into this package; it is consulted only at connection admission.
//
// Node API keys:
//   - 64 hex characters (32 bytes of crypto/rand)
//   - plaintext shown to the node operator exactly once, at mint time
//   - bcrypt hash (cost 12) is the only copy persisted on the node record
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the key size in bytes (32 bytes = 64 hex chars).
	APIKeyLength = 32
	// BcryptCost trades off hash latency against brute-force resistance;
	// 12 costs roughly 250ms per hash, acceptable for a one-shot mint and
	// one compare per node reconnect.
	BcryptCost = 12
)

// GenerateAPIKey returns a random 64-character hex string.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, APIKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// HashAPIKey bcrypt-hashes a plaintext key for storage.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(h), nil
}

// CompareAPIKey reports whether key matches the stored bcrypt hash.
func CompareAPIKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// ValidateAPIKeyFormat rejects anything that isn't 64 hex characters before
// it reaches bcrypt, which is the expensive step.
func ValidateAPIKeyFormat(key string) error {
	if len(key) != APIKeyLength*2 {
		return fmt.Errorf("api key must be %d characters, got %d", APIKeyLength*2, len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("api key must be hexadecimal")
	}
	return nil
}
