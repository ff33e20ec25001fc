package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userIDKey contextKey = "user_id"

// ErrNoUser is returned when no identity was attached to the context.
var ErrNoUser = errors.New("no user in request context")

// WithUser attaches a user identity to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the authenticated user identity from the context.
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUser
	}
	return userID, nil
}

// UserMiddleware requires a user identity on every request. Session
// validation happens upstream at the gateway; this service only needs the
// identity, carried in the X-User-ID header.
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			http.Error(w, `{"error":"missing user identity"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

// AdminAuth guards the admin surface with bearer API keys. Keys are never
// stored in clear: the middleware is configured with bcrypt hashes and
// compares the presented key against each.
type AdminAuth struct {
	keyHashes [][]byte
}

// NewAdminAuth creates the guard from bcrypt hashes of the accepted keys.
func NewAdminAuth(keyHashes []string) *AdminAuth {
	hashes := make([][]byte, 0, len(keyHashes))
	for _, h := range keyHashes {
		if h != "" {
			hashes = append(hashes, []byte(h))
		}
	}
	return &AdminAuth{keyHashes: hashes}
}

// Middleware rejects requests whose bearer token matches none of the
// configured key hashes.
func (aa *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, `{"error":"admin API key required"}`, http.StatusUnauthorized)
			return
		}
		key := strings.TrimPrefix(authHeader, "Bearer ")

		for _, hash := range aa.keyHashes {
			if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Error(w, `{"error":"invalid admin API key"}`, http.StatusUnauthorized)
	})
}
