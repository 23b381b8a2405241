package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront-cart/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Principal is the caller a request acts for: an authenticated user or an
// anonymous browser session. Exactly one of UserID and SessionID is set.
type Principal struct {
	UserID    string
	SessionID string
	Email     string
	IsAdmin   bool
}

// PrincipalResolver derives the caller from the request. Returning an error
// rejects the request with 401.
type PrincipalResolver func(r *http.Request) (*Principal, error)

// Auth resolves the caller and stores it in the request context. The
// request-scoped logger is re-derived so later log lines carry user_id or
// session_id.
func Auth(resolve PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolve(r)
			if err != nil || p == nil || (p.UserID == "" && p.SessionID == "") {
				msg := "authentication required"
				if err != nil {
					msg = err.Error()
				}
				logger.FromContext(r.Context()).DebugContext(r.Context(), "request rejected",
					slog.String("reason", msg),
					slog.String("path", r.URL.Path),
				)
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg)
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			scoped := logger.FromContext(ctx)
			if p.UserID != "" {
				ctx = logger.WithUserID(ctx, p.UserID)
				scoped = scoped.With(slog.String("user_id", p.UserID))
			} else {
				ctx = logger.WithSessionID(ctx, p.SessionID)
				scoped = scoped.With(slog.String("session_id", p.SessionID))
			}
			ctx = logger.NewContext(ctx, scoped)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller stored by Auth.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// UserIDFromContext returns the authenticated user id, or "" for anonymous
// or unauthenticated requests.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
