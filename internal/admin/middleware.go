package admin

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

type contextKey string

const principalContextKey contextKey = "admin_principal"

// Token permission scopes.
const (
	ScopeAdmin    = "admin"
	ScopeReadOnly = "read_only"
)

// Principal is the identity behind an accepted admin token.
type Principal struct {
	Name   string
	Scopes []string
}

// Tokens maps static bearer tokens to the principal they authenticate.
type Tokens struct {
	entries []tokenEntry
}

type tokenEntry struct {
	token     []byte
	principal Principal
}

// NewTokens builds the token set from an admin token and a read-only token.
// Either may be empty.
func NewTokens(adminToken, readToken string) *Tokens {
	t := &Tokens{}
	if adminToken = strings.TrimSpace(adminToken); adminToken != "" {
		t.Add(adminToken, Principal{Name: "admin", Scopes: []string{ScopeAdmin}})
	}
	if readToken = strings.TrimSpace(readToken); readToken != "" {
		t.Add(readToken, Principal{Name: "read_only", Scopes: []string{ScopeReadOnly}})
	}
	return t
}

// Add registers token for p.
func (t *Tokens) Add(token string, p Principal) {
	t.entries = append(t.entries, tokenEntry{token: []byte(token), principal: p})
}

// Enabled reports whether any token is configured.
func (t *Tokens) Enabled() bool { return t != nil && len(t.entries) > 0 }

// Lookup returns the principal for token, comparing in constant time.
func (t *Tokens) Lookup(token string) (Principal, bool) {
	candidate := []byte(token)
	var (
		found Principal
		ok    bool
	)
	for _, e := range t.entries {
		if subtle.ConstantTimeCompare(e.token, candidate) == 1 {
			found, ok = e.principal, true
		}
	}
	return found, ok
}

// PrincipalFromContext retrieves the authenticated principal from ctx.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// AuthMiddleware validates the bearer token and stores its principal in the
// request context. With no tokens configured every caller is treated as admin.
func AuthMiddleware(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokens.Enabled() {
				ctx := context.WithValue(r.Context(), principalContextKey, Principal{Name: "anonymous", Scopes: []string{ScopeAdmin}})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeMessage(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			p, ok := tokens.Lookup(strings.TrimPrefix(auth, "Bearer "))
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "invalid admin token")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects principals holding none of scopes.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, required := range scopes {
				if slices.Contains(p.Scopes, required) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}
