// Package auth carries the authenticated principal of a request and parses
// client credentials from both HTTP headers and interview hello frames.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// AnonymousKey is the rate-limit bucket shared by sessions that present no
// gateway credential. It must never be logged as a user identity.
const AnonymousKey = "anonymous"

// Principal identifies the caller behind a request or interview session.
type Principal struct {
	// APIKey is the raw gateway credential. It must not be logged.
	APIKey string
	// UserID is the client-declared identity from the hello frame; an empty
	// value marks the session anonymous and disables persistence.
	UserID string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the API key from an Authorization header. Websocket
// dials cannot carry one; their credential rides in the hello frame instead.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
