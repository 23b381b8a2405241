package middleware

import "net/http"

// NoStore marks every response as uncacheable. Cart bodies are per-caller and
// change on every mutation, so shared caches and browsers must not keep them.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Add("Vary", "Authorization")
		w.Header().Add("Vary", "X-Session-ID")
		next.ServeHTTP(w, r)
	})
}
