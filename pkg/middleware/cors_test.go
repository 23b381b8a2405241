package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	h := CORS(cfg)(okHandler())
	req := httptest.NewRequest(method, "/api/v1/cart", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS_Origins(t *testing.T) {
	prod := CORSConfig{
		AllowedOrigins: []string{"https://shop.example.com", "https://admin.example.com"},
		Environment:    "production",
	}

	tests := []struct {
		name   string
		cfg    CORSConfig
		origin string
		want   string
	}{
		{"dev wildcard", CORSConfig{Environment: "development"}, "https://anything.test", "*"},
		{"explicit wildcard in prod", CORSConfig{AllowedOrigins: []string{"*"}, Environment: "production"}, "https://x.test", "*"},
		{"allowed origin", prod, "https://shop.example.com", "https://shop.example.com"},
		{"second allowed origin", prod, "https://admin.example.com", "https://admin.example.com"},
		{"rejected origin", prod, "https://evil.test", ""},
		{"no origin", prod, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := corsRequest(tt.cfg, http.MethodGet, tt.origin)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestCORS_AllowedOriginSetsVary(t *testing.T) {
	rec := corsRequest(CORSConfig{AllowedOrigins: []string{"https://shop.example.com"}},
		http.MethodGet, "https://shop.example.com")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORS_WildcardWithCredentialsEchoesOrigin(t *testing.T) {
	rec := corsRequest(CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true},
		http.MethodGet, "https://shop.example.com")

	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_Preflight(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig(), http.MethodOptions, "https://shop.example.com")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, PATCH, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_PlainOptionsReachesHandler(t *testing.T) {
	h := CORS(DefaultCORSConfig())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_CustomValues(t *testing.T) {
	rec := corsRequest(CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"X-Custom"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         60,
	}, http.MethodGet, "")

	assert.Equal(t, "X-Custom", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "X-Correlation-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "60", rec.Header().Get("Access-Control-Max-Age"))
}
