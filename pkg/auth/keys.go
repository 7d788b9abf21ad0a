// Package auth covers API-key issuance, request authentication and
// per-key rate limiting.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/loophive/hiveboard/pkg/model"
)

// KeyPrefix is the mandatory prefix of every API key.
const KeyPrefix = "hb_"

// GenerateKey mints a raw API key of the form hb_{type}_{32 hex}.
func GenerateKey(keyType model.KeyType) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	return fmt.Sprintf("%s%s_%s", KeyPrefix, keyType, hex.EncodeToString(buf)), nil
}

// HashKey returns the hex SHA-256 of a raw key. Only the hash is
// persisted.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix is the key fragment stored for display in key lists.
func DisplayPrefix(raw string) string {
	if len(raw) <= 12 {
		return raw
	}
	return raw[:12]
}
