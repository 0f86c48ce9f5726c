package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/secapi/go-api/secapi/postgres/models"
	"github.com/secapi/go-api/secapi/store"
)

// APIKeyPrefix is prepended to all generated API keys for easy identification.
const APIKeyPrefix = "secapi_"

var (
	// ErrEmailTaken indicates a registration attempt for an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidEmail indicates an address that does not parse as RFC 5322.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidKey indicates an API key that matched no account. Callers must
	// not leak anything more specific than this.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrInvalidToken indicates a reset token that is expired, consumed, or
	// simply wrong. Indistinguishable on purpose.
	ErrInvalidToken = errors.New("invalid or expired reset token")
)

// Service owns account registration and API key authentication. Raw keys are
// never persisted; only the SHA-256 hash reaches the database.
type Service struct {
	db *gorm.DB
	kv store.KVStore
}

func NewService(db *gorm.DB, kv store.KVStore) *Service {
	return &Service{db: db, kv: kv}
}

// GenerateAPIKey creates a cryptographically random API key with the
// secapi_ prefix. The returned string is the only time the raw key is
// available.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}

// Register creates an account and returns it with the raw API key. The key
// cannot be recovered later; losing it means going through a reset.
func (s *Service) Register(email string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", ErrInvalidEmail
	}

	rawKey, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	u := &models.User{
		ID:         uuid.New().String(),
		Email:      email,
		APIKeyHash: HashKey(rawKey),
		Tier:       "free",
	}
	if err := s.db.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}
	return u, rawKey, nil
}

// Authenticate resolves a raw API key to its account. Lookup is by key hash;
// the stored hash is then compared in constant time so the database index is
// the only timing signal.
func (s *Service) Authenticate(rawKey string) (*models.User, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	keyHash := HashKey(rawKey)

	var u models.User
	err := s.db.Where("api_key_hash = ?", keyHash).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(u.APIKeyHash), []byte(keyHash)) != 1 {
		return nil, ErrInvalidKey
	}
	return &u, nil
}

// RequestReset issues a reset token for the account, if one exists. The
// return is identical whether or not the email is registered so the endpoint
// cannot be used for account enumeration. The token would normally go out by
// email; here it is logged at debug level for operator delivery.
func (s *Service) RequestReset(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u models.User
	err := s.db.Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	token, err := store.GenerateResetToken()
	if err != nil {
		return "", err
	}
	if err := store.StoreResetToken(ctx, s.kv, email, token); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	return token, nil
}

// ConfirmReset exchanges a valid reset token for a fresh API key, rotating
// the stored hash. The token is single use.
func (s *Service) ConfirmReset(ctx context.Context, email, token string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	ok, err := store.ConsumeResetToken(ctx, s.kv, email, token)
	if err != nil {
		return "", fmt.Errorf("failed to verify reset token: %w", err)
	}
	if !ok {
		return "", ErrInvalidToken
	}

	rawKey, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	res := s.db.Model(&models.User{}).
		Where("email = ?", email).
		Update("api_key_hash", HashKey(rawKey))
	if res.Error != nil {
		return "", fmt.Errorf("failed to rotate API key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrInvalidToken
	}
	return rawKey, nil
}

// SafePrefix returns the first characters of a key for safe display.
func SafePrefix(rawKey string) string {
	if len(rawKey) <= 8 {
		return rawKey
	}
	if strings.HasPrefix(rawKey, APIKeyPrefix) {
		end := len(APIKeyPrefix) + 8
		if end > len(rawKey) {
			end = len(rawKey)
		}
		return rawKey[:end] + "..."
	}
	return rawKey[:8] + "..."
}

// isUniqueViolation catches driver-level unique constraint errors that GORM
// does not translate on every dialect.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key")
}

// Touch is a cheap liveness check on the database used by the health probe.
func (s *Service) Touch(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
