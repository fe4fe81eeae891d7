package key

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"kobovault/internal/user"
	"kobovault/pkg/config"
	"kobovault/pkg/utils"
)

type Handler struct {
	Config config.Config
	Svc    *Service
}

func NewHandler(cfg config.Config, svc *Service) *Handler {
	return &Handler{Config: cfg, Svc: svc}
}

type CreateKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Expiry      string   `json:"expiry"`
}

type RolloverKeyRequest struct {
	ExpiredKeyID string `json:"expired_key_id"`
	Expiry       string `json:"expiry"`
}

type RevokeKeyRequest struct {
	KeyID string `json:"key_id"`
}

// SafeKeyResponse is the metadata-only view of a credential. The secret
// and its digest are never serialized.
type SafeKeyResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	MaskedKey     string     `json:"masked_key"`
	Permissions   []string   `json:"permissions"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IsRevoked     bool       `json:"is_revoked"`
	PredecessorID *string    `json:"predecessor_id,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	usr := r.Context().Value(utils.UserKey).(user.User)

	var req CreateKeyRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	apiKey, rawSecret, err := h.Svc.Issue(usr.ID.String(), req.Name, req.Permissions, req.Expiry)
	if err != nil {
		h.writeKeyError(w, err)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusCreated, "API Key created, This key will only be shown once. Please save it securely.", map[string]interface{}{
		"api_key":    rawSecret,
		"masked_key": apiKey.MaskedKey,
		"expires_at": apiKey.ExpiresAt,
	})
}

func (h *Handler) RolloverAPIKey(w http.ResponseWriter, r *http.Request) {
	usr := r.Context().Value(utils.UserKey).(user.User)

	var req RolloverKeyRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	apiKey, rawSecret, err := h.Svc.Rollover(usr.ID.String(), req.ExpiredKeyID, req.Expiry)
	if err != nil {
		h.writeKeyError(w, err)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusCreated, "API Key rolled over, This key will only be shown once. Please save it securely.", map[string]interface{}{
		"api_key":    rawSecret,
		"masked_key": apiKey.MaskedKey,
		"expires_at": apiKey.ExpiresAt,
	})
}

func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	usr := r.Context().Value(utils.UserKey).(user.User)

	var req RevokeKeyRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", map[string]string{"error": err.Error()})
		return
	}

	if err := h.Svc.Revoke(usr.ID.String(), req.KeyID); err != nil {
		h.writeKeyError(w, err)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "API Key revoked successfully", nil)
}

func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	usr := r.Context().Value(utils.UserKey).(user.User)

	keys, err := h.Svc.List(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to fetch keys", nil)
		return
	}

	safeKeys := make([]SafeKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp := SafeKeyResponse{
			ID:          k.ID.String(),
			Name:        k.Name,
			MaskedKey:   k.MaskedKey,
			Permissions: k.Permissions,
			ExpiresAt:   k.ExpiresAt,
			IsRevoked:   k.IsRevoked,
			LastUsedAt:  k.LastUsedAt,
			CreatedAt:   k.CreatedAt,
		}
		if k.PredecessorID != nil {
			pred := k.PredecessorID.String()
			resp.PredecessorID = &pred
		}
		safeKeys = append(safeKeys, resp)
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "API Keys retrieved", safeKeys)
}

func (h *Handler) writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidExpiry), errors.Is(err, ErrInvalidPermission):
		utils.BuildErrorResponse(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ErrKeyLimitReached):
		utils.BuildErrorResponse(w, http.StatusForbidden, fmt.Sprintf("Maximum of %d active keys allowed", h.Config.MaxActiveKeys), nil)
	case errors.Is(err, ErrKeyNotFound):
		utils.BuildErrorResponse(w, http.StatusNotFound, "Key not found", nil)
	case errors.Is(err, ErrKeyStillActive):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Key is still active, revoke it before rolling over", nil)
	default:
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Key operation failed", nil)
	}
}
