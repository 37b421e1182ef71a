package key

import "strings"

// Validate checks if a key can authenticate a request.
// This is a PURE function - no side effects, deterministic.
func Validate(k Key) ValidationResult {
	if k.RevokedAt != nil {
		return ValidationResult{
			Valid:  false,
			Reason: ReasonRevoked,
		}
	}

	return ValidationResult{
		Valid: true,
		Key:   k,
	}
}

// ValidateFormat checks if a raw API key has valid format.
// Returns (prefix, valid). Prefix is used for database lookup.
// This is a PURE function.
func ValidateFormat(rawKey string, expectedPrefix string) (prefix string, valid bool) {
	if !strings.HasPrefix(rawKey, expectedPrefix) {
		return "", false
	}

	// Must be prefix + 64 hex chars
	minLen := len(expectedPrefix) + 64
	if len(rawKey) < minLen {
		return "", false
	}

	return rawKey[:PrefixLen], true
}
