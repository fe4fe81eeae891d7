package key

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kobovault/pkg/clock"
)

// Service is the access-control engine: it issues, validates, lists,
// revokes, and rolls over service credentials, and gates ledger calls by
// required permission.
type Service struct {
	repo      Repository
	clock     clock.Clock
	maxActive int
}

func NewService(repo Repository, clk clock.Clock, maxActive int) *Service {
	return &Service{repo: repo, clock: clk, maxActive: maxActive}
}

// Issue creates a credential and returns it together with the raw secret.
// The raw secret exists only in this return value; only its digest is
// persisted.
func (s *Service) Issue(userID, name string, permissions []string, expiry string) (*APIKey, string, error) {
	validPerms, err := validatePermissions(permissions)
	if err != nil {
		return nil, "", err
	}

	expiresAt, err := parseExpiry(expiry, s.clock.Now())
	if err != nil {
		return nil, "", err
	}

	count, err := s.repo.CountActiveKeys(userID, s.clock.Now())
	if err != nil {
		return nil, "", fmt.Errorf("count active keys: %w", err)
	}
	if count >= int64(s.maxActive) {
		return nil, "", ErrKeyLimitReached
	}

	return s.create(userID, name, validPerms, expiresAt, nil)
}

// Authorize resolves a raw secret to its credential and checks the
// required permission. Every failure mode collapses into ErrUnauthorized
// so callers cannot probe which check rejected them.
func (s *Service) Authorize(rawSecret string, required Permission) (*APIKey, error) {
	apiKey, err := s.repo.FindByDigest(hashKey(rawSecret))
	if err != nil {
		return nil, ErrUnauthorized
	}

	if !apiKey.Active(s.clock.Now()) {
		return nil, ErrUnauthorized
	}

	if required != "" && !apiKey.HasPermission(required) {
		return nil, ErrUnauthorized
	}

	// Best effort; authorization does not fail on a bookkeeping miss.
	_ = s.repo.TouchLastUsed(apiKey.ID.String(), s.clock.Now())

	return apiKey, nil
}

// List returns the principal's credentials. Secrets and digests never
// leave the service; callers only see metadata and the masked prefix.
func (s *Service) List(userID string) ([]APIKey, error) {
	return s.repo.GetKeysByUserID(userID)
}

// Revoke deactivates a credential. Revoking an already-revoked key is not
// an error.
func (s *Service) Revoke(userID, keyID string) error {
	return s.repo.RevokeKey(keyID, userID)
}

// Rollover issues a replacement for an expired or revoked credential,
// keeping its name and permission set and linking the predecessor.
// Still-active keys are rejected: live keys must be revoked explicitly
// before a replacement is issued.
func (s *Service) Rollover(userID, expiredKeyID, expiry string) (*APIKey, string, error) {
	oldKey, err := s.repo.GetKey(expiredKeyID, userID)
	if err != nil {
		return nil, "", err
	}

	if oldKey.Active(s.clock.Now()) {
		return nil, "", ErrKeyStillActive
	}

	expiresAt, err := parseExpiry(expiry, s.clock.Now())
	if err != nil {
		return nil, "", err
	}

	count, err := s.repo.CountActiveKeys(userID, s.clock.Now())
	if err != nil {
		return nil, "", fmt.Errorf("count active keys: %w", err)
	}
	if count >= int64(s.maxActive) {
		return nil, "", ErrKeyLimitReached
	}

	return s.create(userID, oldKey.Name, oldKey.Permissions, expiresAt, &oldKey.ID)
}

func (s *Service) create(userID, name string, permissions []string, expiresAt time.Time, predecessor *uuid.UUID) (*APIKey, string, error) {
	rawSecret, err := generateSecureKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, "", err
	}

	apiKey := &APIKey{
		UserID:        userUUID,
		Name:          name,
		KeyHash:       hashKey(rawSecret),
		MaskedKey:     maskKey(rawSecret),
		Permissions:   pq.StringArray(permissions),
		ExpiresAt:     expiresAt,
		PredecessorID: predecessor,
	}

	if err := s.repo.CreateKey(apiKey); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	return apiKey, rawSecret, nil
}

func parseExpiry(expiry string, now time.Time) (time.Time, error) {
	switch strings.ToUpper(strings.TrimSpace(expiry)) {
	case "1H":
		return now.Add(time.Hour), nil
	case "1D":
		return now.Add(24 * time.Hour), nil
	case "1M":
		return now.Add(30 * 24 * time.Hour), nil
	case "1Y":
		return now.Add(365 * 24 * time.Hour), nil
	default:
		return time.Time{}, ErrInvalidExpiry
	}
}

func generateSecureKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "sk_live_" + hex.EncodeToString(bytes), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func validatePermissions(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: at least one permission is required", ErrInvalidPermission)
	}

	var normalized []string
	for _, p := range requested {
		upper := strings.ToUpper(p)
		valid := false
		for _, allowed := range AllowedPermissions {
			if Permission(upper) == allowed {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPermission, p)
		}
		normalized = append(normalized, upper)
	}
	return normalized, nil
}
