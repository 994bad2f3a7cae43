package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/coastbank/backend/internal/models"
)

func signTestToken(t *testing.T, holderID uuid.UUID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_holder_id": holderID.String(),
		"role":              role,
		"exp":               time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	InitAuthMiddleware(nil)

	holderID := uuid.New()

	var gotHolder uuid.UUID
	var gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHolder, _ = r.Context().Value("accountHolderID").(uuid.UUID)
		gotRole, _ = r.Context().Value("role").(string)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token resolves identity", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, holderID, models.RoleMember))
		w := httptest.NewRecorder()

		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, holderID, gotHolder)
		assert.Equal(t, models.RoleMember, gotRole)
	})

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/accounts", nil)
		w := httptest.NewRecorder()

		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token signed with another key", func(t *testing.T) {
		viper.Set("jwt.secret_key", "other-secret")
		token := signTestToken(t, holderID, models.RoleMember)
		viper.Set("jwt.secret_key", "test-secret")

		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"account_holder_id": holderID.String(),
			"role":              models.RoleMember,
			"exp":               time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		assert.NoError(t, err)

		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()

		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAdminOnly(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("admin passes", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/admin/accounts", nil)
		r = r.WithContext(context.WithValue(r.Context(), "role", models.RoleAdmin))
		w := httptest.NewRecorder()

		AdminOnly(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("member is forbidden", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/admin/accounts", nil)
		r = r.WithContext(context.WithValue(r.Context(), "role", models.RoleMember))
		w := httptest.NewRecorder()

		AdminOnly(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing role is forbidden", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/admin/accounts", nil)
		w := httptest.NewRecorder()

		AdminOnly(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
