package key

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	CountActiveKeys(userID string, now time.Time) (int64, error)
	CreateKey(key *APIKey) error
	GetKey(keyID string, userID string) (*APIKey, error)
	GetKeysByUserID(userID string) ([]APIKey, error)
	FindByDigest(digest string) (*APIKey, error)
	RevokeKey(keyID string, userID string) error
	TouchLastUsed(keyID string, now time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CountActiveKeys(userID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&APIKey{}).
		Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, now).
		Count(&count).Error
	return count, err
}

func (r *repository) CreateKey(key *APIKey) error {
	return r.db.Create(key).Error
}

func (r *repository) GetKey(keyID string, userID string) (*APIKey, error) {
	var key APIKey
	err := r.db.Where("id = ? AND user_id = ?", keyID, userID).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *repository) GetKeysByUserID(userID string) ([]APIKey, error) {
	var keys []APIKey
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&keys).Error
	return keys, err
}

func (r *repository) FindByDigest(digest string) (*APIKey, error) {
	var key APIKey
	err := r.db.Where("key_hash = ?", digest).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *repository) RevokeKey(keyID string, userID string) error {
	result := r.db.Model(&APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("is_revoked", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (r *repository) TouchLastUsed(keyID string, now time.Time) error {
	return r.db.Model(&APIKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", now).Error
}
