package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/utafrali/storefront-cart/pkg/middleware"
)

// SessionHeader carries the anonymous session id when no Authorization
// header is sent.
const SessionHeader = "X-Session-ID"

// Resolver errors surfaced to the caller as 401 messages.
var (
	ErrMissingCredentials = errors.New("authorization or session id required")
	ErrMalformedHeader    = errors.New("invalid authorization header format")
)

// Resolver turns request credentials into a middleware.Principal.
type Resolver struct {
	jwt *JWTManager
}

// NewResolver creates a resolver that verifies JWTs with m.
func NewResolver(m *JWTManager) *Resolver {
	return &Resolver{jwt: m}
}

// Resolve reads the caller from the request:
//
//   - Authorization: Bearer <jwt> yields the token's user
//   - Authorization: Bearer <opaque> yields an anonymous session
//   - X-Session-ID: <id> yields an anonymous session
//
// A JWT that fails verification is rejected rather than treated as a
// session id.
func (res *Resolver) Resolve(r *http.Request) (*middleware.Principal, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return nil, ErrMalformedHeader
		}

		if !looksLikeJWT(token) {
			return &middleware.Principal{SessionID: token}, nil
		}

		id, err := res.jwt.ValidateAccessToken(token)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return &middleware.Principal{
			UserID:  id.UserID,
			Email:   id.Email,
			IsAdmin: id.IsAdmin,
		}, nil
	}

	if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" {
		return &middleware.Principal{SessionID: session}, nil
	}

	return nil, ErrMissingCredentials
}

// PrincipalResolver adapts Resolve for middleware.Auth.
func (res *Resolver) PrincipalResolver() middleware.PrincipalResolver {
	return res.Resolve
}

// looksLikeJWT reports whether token has the three non-empty dot-separated
// segments of a compact JWS.
func looksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
