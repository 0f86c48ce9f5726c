package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	// resetTokenPrefix is the Valkey key prefix for API-key-reset tokens.
	resetTokenPrefix = "reset:"
	// resetTokenTTLSeconds is how long a reset token stays valid.
	resetTokenTTLSeconds = 15 * 60
)

// GenerateResetToken creates a cryptographically random reset token. The
// returned string is the only time the raw token is available.
func GenerateResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex-encoded SHA-256 hash of a raw token.
func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func resetKey(email string) string {
	return resetTokenPrefix + email
}

// StoreResetToken persists the hash of a reset token for the given email with
// a 15-minute expiry. Only the hash is stored; the raw token goes to the user.
func StoreResetToken(ctx context.Context, s KVStore, email, rawToken string) error {
	if err := s.SetValueWithTTL(ctx, resetKey(email), hashToken(rawToken), resetTokenTTLSeconds); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken validates a raw token against the stored hash for the
// email and deletes it on success so a token can be used only once. Returns
// false for unknown, expired, or mismatched tokens.
func ConsumeResetToken(ctx context.Context, s KVStore, email, rawToken string) (bool, error) {
	stored, err := s.GetValue(ctx, resetKey(email))
	if err != nil {
		if err == ErrKeyNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up reset token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashToken(rawToken))) != 1 {
		return false, nil
	}

	if err := s.DeleteValue(ctx, resetKey(email)); err != nil {
		return false, fmt.Errorf("failed to invalidate reset token: %w", err)
	}
	return true, nil
}
