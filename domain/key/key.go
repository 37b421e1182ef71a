// Package key provides API key value types and pure validation functions.
// This package has NO dependencies on I/O or external packages.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PrefixLen is the number of leading characters stored in clear for lookup.
const PrefixLen = 12

// Key represents an API key (immutable value type).
// Keys are never deleted: revocation clears the active state but the
// record survives so historical events keep a valid key reference.
type Key struct {
	ID        string
	UserID    string
	Hash      []byte     // bcrypt hash of the full secret
	Prefix    string     // First PrefixLen chars of the secret, for lookup
	Name      string
	RevokedAt *time.Time // nil = active
	CreatedAt time.Time
	LastUsed  *time.Time
}

// Active reports whether the key can authenticate requests.
func (k Key) Active() bool {
	return k.RevokedAt == nil
}

// ValidationResult represents the outcome of key validation (value type).
type ValidationResult struct {
	Valid  bool
	Key    Key    // Populated only if Valid=true
	Reason string // Populated only if Valid=false
}

// Reasons for validation failure. These are internal diagnostics only;
// callers must surface the same generic message for every reason so a
// revoked secret is indistinguishable from one that never existed.
const (
	ReasonValid     = ""
	ReasonNotFound  = "key_not_found"
	ReasonRevoked   = "key_revoked"
	ReasonBadFormat = "invalid_format"
)

// Generate creates a new API key with the given prefix.
// Returns the raw secret (to give to the user once) and the Key to store.
// The raw secret is: prefix + 64 hex chars.
func Generate(prefix string) (rawKey string, k Key) {
	rawKey = newSecret(prefix)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	k = Key{
		ID:        "key_" + hex.EncodeToString(idBytes),
		Hash:      hash,
		Prefix:    rawKey[:PrefixLen],
		CreatedAt: time.Now().UTC(),
	}

	return rawKey, k
}

// Rotate produces a fresh secret for an existing key.
// The key keeps its identity; only the credential material changes.
// The caller must persist hash and prefix in one atomic update so the old
// secret stops validating exactly when the new one starts.
func Rotate(k Key, prefix string) (rawKey string, rotated Key) {
	rawKey = newSecret(prefix)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	rotated = k
	rotated.Hash = hash
	rotated.Prefix = rawKey[:PrefixLen]
	return rawKey, rotated
}

func newSecret(prefix string) string {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return prefix + hex.EncodeToString(randomBytes)
}

// WithUserID returns a copy of the key with the UserID set.
func (k Key) WithUserID(userID string) Key {
	k.UserID = userID
	return k
}

// WithName returns a copy of the key with the Name set.
func (k Key) WithName(name string) Key {
	k.Name = name
	return k
}
