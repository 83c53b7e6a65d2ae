package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"medauth/cmd/identity"
	"medauth/cmd/security/token"
)

// Verifier checks access tokens. *token.Signer satisfies it.
type Verifier interface {
	VerifyAccess(tok string, now time.Time) (token.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims attached by RequireAuth.
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(token.Claims)
	return c, ok
}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// Gatekeeper authenticates requests by bearer access token.
type Gatekeeper struct {
	verifier Verifier
	now      func() time.Time
}

// NewGatekeeper returns a Gatekeeper verifying through v.
func NewGatekeeper(v Verifier) *Gatekeeper {
	return &Gatekeeper{verifier: v, now: func() time.Time { return time.Now().UTC() }}
}

// Authenticate verifies the request's bearer token. The returned message is
// the user-facing reason on failure.
func (g *Gatekeeper) Authenticate(r *http.Request) (token.Claims, string, bool) {
	raw := bearerToken(r)
	if raw == "" {
		return token.Claims{}, "Access token not found", false
	}
	return g.Verify(raw)
}

// Verify checks a raw access token.
func (g *Gatekeeper) Verify(raw string) (token.Claims, string, bool) {
	c, err := g.verifier.VerifyAccess(raw, g.now())
	switch {
	case err == nil:
		return c, "", true
	case errors.Is(err, token.ErrExpired):
		return token.Claims{}, "Token expired, please login again", false
	case errors.Is(err, token.ErrNotYetValid):
		return token.Claims{}, "Token not active yet, please login again", false
	default:
		return token.Claims{}, "Invalid token, please login again", false
	}
}

// RequireAuth rejects requests without a valid access token and attaches the
// claims to the request context.
func (g *Gatekeeper) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, msg, ok := g.Authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
	})
}

// RequireRole admits only callers holding one of roles. It must run inside RequireAuth.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFromContext(r.Context())
			if !ok || !hasRole(c.Role, roles) {
				writeError(w, http.StatusForbidden, "forbidden", "You are not authorized to perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(role string, roles []identity.Role) bool {
	for _, r := range roles {
		if string(r) == role {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
