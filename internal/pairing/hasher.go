// ABOUTME: Token minting and keyed hashing for device tokens and API keys
// ABOUTME: Raw tokens are shown once and only HMAC-SHA256 hashes are ever stored

package pairing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Credential prefixes make the two token families recognizable at a
// glance and impossible to confuse on the wire.
const (
	DeviceTokenPrefix = "wdt_"
	APIKeyPrefix      = "wak_"
)

// tokenBytes is the entropy per minted token.
const tokenBytes = 32

// ErrHashKeyTooShort is returned when the configured hashing key is too weak.
var ErrHashKeyTooShort = errors.New("token hash key must be at least 16 bytes")

// TokenHasher derives keyed hashes of credentials for storage and lookup.
// A keyed hash (rather than bcrypt) is required because API keys are
// resolved by hash equality, which needs a deterministic digest.
type TokenHasher struct {
	key []byte
}

// NewTokenHasher creates a hasher with the given secret key.
func NewTokenHasher(key []byte) (*TokenHasher, error) {
	if len(key) < 16 {
		return nil, ErrHashKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenHasher{key: k}, nil
}

// Hash returns the hex-encoded HMAC-SHA256 of a raw credential.
func (h *TokenHasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a presented raw credential against a stored hash in
// constant time.
func (h *TokenHasher) Verify(raw, storedHash string) bool {
	return hmac.Equal([]byte(h.Hash(raw)), []byte(storedHash))
}

// MintDeviceToken generates a fresh device token and its storage hash.
func (h *TokenHasher) MintDeviceToken() (raw, hash string, err error) {
	return h.mint(DeviceTokenPrefix)
}

// MintAPIKey generates a fresh API key and its storage hash.
func (h *TokenHasher) MintAPIKey() (raw, hash string, err error) {
	return h.mint(APIKeyPrefix)
}

func (h *TokenHasher) mint(prefix string) (string, string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	raw := prefix + hex.EncodeToString(b)
	return raw, h.Hash(raw), nil
}

// IsAPIKey reports whether a presented bearer credential is shaped like
// an API key.
func IsAPIKey(raw string) bool {
	return strings.HasPrefix(raw, APIKeyPrefix)
}
