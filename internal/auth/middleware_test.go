package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kobovault/internal/user"
	"kobovault/pkg/config"
	"kobovault/pkg/utils"
)

type fakeUserRepo struct {
	users map[string]*user.User
}

func (r *fakeUserRepo) FindByGoogleID(googleID string) (*user.User, error) {
	for _, u := range r.users {
		if u.GoogleID == googleID {
			return u, nil
		}
	}
	return nil, errors.New("record not found")
}

func (r *fakeUserRepo) CreateUser(u *user.User) error {
	r.users[u.ID.String()] = u
	return nil
}

func (r *fakeUserRepo) FindByID(id string) (*user.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("record not found")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		utils.UserIDKey: userID,
		utils.ExpKey:    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRequirePermission(t *testing.T) {
	tests := []struct {
		name       string
		perms      []string
		required   string
		wantStatus int
	}{
		{"exact permission", []string{"READ"}, "READ", http.StatusOK},
		{"wildcard session", []string{"*"}, "TRANSFER", http.StatusOK},
		{"one of several", []string{"READ", "TRANSFER"}, "TRANSFER", http.StatusOK},
		{"missing permission", []string{"READ"}, "TRANSFER", http.StatusUnauthorized},
		{"empty permission set", []string{}, "READ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequirePermission(tt.required)(okHandler())

			req := httptest.NewRequest("GET", "/", nil)
			ctx := context.WithValue(req.Context(), utils.PermissionsKey, tt.perms)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req.WithContext(ctx))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequirePermission_NoPermissionsInContext(t *testing.T) {
	handler := RequirePermission("READ")(okHandler())

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}
	u := &user.User{ID: uuid.New(), Name: "Ada", Email: "ada@example.com"}
	repo := &fakeUserRepo{users: map[string]*user.User{u.ID.String(): u}}

	var gotUser user.User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = r.Context().Value(utils.UserKey).(user.User)
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTMiddleware(cfg, repo)(inner)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, cfg.JWTSecret, u.ID.String()))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, u.ID, gotUser.ID)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", u.ID.String()))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, cfg.JWTSecret, uuid.New().String()))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
