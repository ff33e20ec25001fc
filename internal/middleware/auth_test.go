package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestUserMiddlewareRequiresHeader(t *testing.T) {
	handler := UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without identity")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/wallet", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserMiddlewareAttachesIdentity(t *testing.T) {
	var seen string
	handler := UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := GetUserID(r.Context())
		require.NoError(t, err)
		seen = userID
	}))

	req := httptest.NewRequest("GET", "/api/v1/wallet", nil)
	req.Header.Set("X-User-ID", "seller-42")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seller-42", seen)
}

func TestGetUserIDWithoutIdentity(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	_, err := GetUserID(req.Context())
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("super-secret-key"), bcrypt.MinCost)
	require.NoError(t, err)

	aa := NewAdminAuth([]string{string(hash)})
	var called bool
	handler := aa.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	// No header
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/v1/admin/tools/x/cost", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)

	// Wrong key
	req := httptest.NewRequest("PUT", "/api/v1/admin/tools/x/cost", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)

	// Correct key
	req = httptest.NewRequest("PUT", "/api/v1/admin/tools/x/cost", nil)
	req.Header.Set("Authorization", "Bearer super-secret-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
