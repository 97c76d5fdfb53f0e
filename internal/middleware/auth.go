package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
)

// ContextKey is the type for context keys to avoid collisions
type ContextKey string

// IdentityKey is the context key for the authenticated caller
const IdentityKey ContextKey = "identity"

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// AuthMiddleware validates JWT tokens and adds the caller to the context
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// RequireAuth rejects requests without a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		id, err := m.verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
	})
}

// RequireRole allows only callers holding one of roles. It must run after
// RequireAuth.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFrom returns the authenticated caller
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(auth.Identity)
	return id, ok
}

// GetMemberID returns the caller's member id, or uuid.Nil when
// unauthenticated
func GetMemberID(ctx context.Context) uuid.UUID {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return uuid.Nil
	}
	return id.Subject
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
