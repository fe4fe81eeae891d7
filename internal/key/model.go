package key

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// APIKey is a scoped, expiring service credential. Only the SHA-256
// digest of the raw secret is persisted; the raw secret is returned to
// the caller once, at issuance.
type APIKey struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null" json:"user_id"`
	Name          string         `json:"name"`
	KeyHash       string         `gorm:"uniqueIndex;not null" json:"-"`
	MaskedKey     string         `json:"masked_key"`
	Permissions   pq.StringArray `gorm:"type:text[]" json:"permissions"`
	ExpiresAt     time.Time      `json:"expires_at"`
	IsRevoked     bool           `gorm:"default:false" json:"is_revoked"`
	PredecessorID *uuid.UUID     `gorm:"type:uuid" json:"predecessor_id,omitempty"`
	LastUsedAt    *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Permission string

const (
	PermissionRead     Permission = "READ"
	PermissionDeposit  Permission = "DEPOSIT"
	PermissionTransfer Permission = "TRANSFER"
)

var AllowedPermissions = []Permission{
	PermissionRead,
	PermissionDeposit,
	PermissionTransfer,
}

// Active reports whether the credential can still authorize calls at the
// given instant. Expiry is evaluated lazily; nothing ever writes an
// "expired" state.
func (k *APIKey) Active(now time.Time) bool {
	return !k.IsRevoked && now.Before(k.ExpiresAt)
}

func (k *APIKey) HasPermission(perm Permission) bool {
	for _, p := range k.Permissions {
		if Permission(p) == perm {
			return true
		}
	}
	return false
}
