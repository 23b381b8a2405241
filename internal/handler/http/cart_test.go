package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-cart/internal/auth"
	"github.com/utafrali/storefront-cart/internal/event"
	"github.com/utafrali/storefront-cart/internal/lock"
	redisrepo "github.com/utafrali/storefront-cart/internal/repository/redis"
	"github.com/utafrali/storefront-cart/internal/service"
	"github.com/utafrali/storefront-cart/pkg/health"
	"github.com/utafrali/storefront-cart/pkg/httputil"
	"github.com/utafrali/storefront-cart/pkg/middleware"
)

const testSecret = "handler-test-secret"

// ============================================================================
// Test helpers
// ============================================================================

type testServer struct {
	handler http.Handler
	mr      *miniredis.Miniredis
	jwt     *auth.JWTManager
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	logger := testLogger()
	repo := redisrepo.NewCartRepository(client, time.Hour)
	svc := service.NewCartService(repo, lock.NewLocal(), event.Noop{}, logger)

	jwtManager := auth.NewJWTManager(testSecret, time.Hour)
	resolver := auth.NewResolver(jwtManager)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS, cfg.RateLimitBurst = 1000, 1000
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS = middleware.DefaultCORSConfig()
	}

	h := NewRouter(ctx, svc, resolver.PrincipalResolver(), health.NewHandler(), cfg, logger)
	return &testServer{handler: h, mr: mr, jwt: jwtManager}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func session(id string) map[string]string {
	return map[string]string{auth.SessionHeader: id}
}

type cartBody struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	TotalItems  int    `json:"total_items"`
	TotalAmount string `json:"total_amount"`
	Items       []struct {
		ID          string `json:"id"`
		CartID      string `json:"cart_id"`
		ProductID   string `json:"product_id"`
		ProductName string `json:"product_name"`
		UnitPrice   string `json:"unit_price"`
		Quantity    int    `json:"quantity"`
	} `json:"items"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func addShirt(qty int) map[string]any {
	return map[string]any{
		"product_id":   "prod-A",
		"product_name": "Shirt",
		"quantity":     qty,
		"unit_price":   19.99,
	}
}

// ============================================================================
// GET /api/v1/cart
// ============================================================================

func TestGetCart_CreatesEmptyCartForSession(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodGet, "/api/v1/cart", nil, session("s1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var cart cartBody
	decodeData(t, rec, &cart)
	assert.NotEmpty(t, cart.ID)
	assert.Equal(t, "s1", cart.SessionID)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.TotalItems)
	assert.Equal(t, "0.00", cart.TotalAmount)

	again := srv.do(t, http.MethodGet, "/api/v1/cart", nil, session("s1"))
	var second cartBody
	decodeData(t, again, &second)
	assert.Equal(t, cart.ID, second.ID)
}

func TestGetCart_Unauthenticated(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodGet, "/api/v1/cart", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)
}

func TestGetCart_JWTUserWinsOverSession(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	token, err := srv.jwt.GenerateAccessToken("user-7", "u7@example.com", false)
	require.NoError(t, err)

	rec := srv.do(t, http.MethodGet, "/api/v1/cart", nil, map[string]string{
		"Authorization":    "Bearer " + token,
		auth.SessionHeader: "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var cart cartBody
	decodeData(t, rec, &cart)
	assert.Equal(t, "user-7", cart.UserID)
	assert.Empty(t, cart.SessionID)
}

func TestGetCart_InvalidJWT(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	other := auth.NewJWTManager("not-the-secret", time.Hour)
	token, err := other.GenerateAccessToken("user-7", "", false)
	require.NoError(t, err)

	rec := srv.do(t, http.MethodGet, "/api/v1/cart", nil, map[string]string{"Authorization": "Bearer " + token})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetCart_StoreDown(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	srv.mr.Close()

	rec := srv.do(t, http.MethodGet, "/api/v1/cart", nil, session("s1"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	errResp := decodeError(t, rec)
	assert.Equal(t, "STORE_UNAVAILABLE", errResp.Code)
	assert.NotContains(t, errResp.Message, "127.0.0.1")
}

// ============================================================================
// POST /api/v1/cart/items
// ============================================================================

func TestAddItem_MergesQuantities(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", addShirt(2), session("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", addShirt(1), session("s1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var cart cartBody
	decodeData(t, rec, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, "prod-A", cart.Items[0].ProductID)
	assert.Equal(t, 3, cart.TotalItems)
	assert.Equal(t, "59.97", cart.TotalAmount)
}

func TestAddItem_PriceAsString(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	body := `{"product_id":"p1","product_name":"Tea","quantity":1,"unit_price":"4.50"}`

	rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", body, session("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cart cartBody
	decodeData(t, rec, &cart)
	assert.Equal(t, "4.50", cart.TotalAmount)
}

func TestAddItem_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{name: "missing product id", body: map[string]any{"product_name": "x", "quantity": 1, "unit_price": 1}, field: "product_id"},
		{name: "missing product name", body: map[string]any{"product_id": "p", "quantity": 1, "unit_price": 1}, field: "product_name"},
		{name: "zero quantity", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 0, "unit_price": 1}, field: "quantity"},
		{name: "negative quantity", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": -2, "unit_price": 1}, field: "quantity"},
		{name: "zero price", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1, "unit_price": 0}, field: "unit_price"},
		{name: "negative price", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1, "unit_price": -5}, field: "unit_price"},
		{name: "bad image url", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1, "unit_price": 1, "image_url": "not a url"}, field: "image_url"},
		{name: "quantity above int32", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1 << 40, "unit_price": 1}, field: "quantity"},
		{name: "price too large", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1, "unit_price": "123456789012345.999"}, field: "unit_price"},
		{name: "price at column limit", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1, "unit_price": "10000000000"}, field: "unit_price"},
		{name: "price with three decimals", body: map[string]any{"product_id": "p", "product_name": "x", "quantity": 1, "unit_price": "19.999"}, field: "unit_price"},
	}

	srv := newTestServer(t, RouterConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", tt.body, session("s1"))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			errResp := decodeError(t, rec)
			assert.Equal(t, "VALIDATION_ERROR", errResp.Code)
			assert.Contains(t, errResp.Fields, tt.field)
		})
	}
}

func TestAddItem_MalformedJSON(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":`, session("s1"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)
}

func TestAddItem_WrongContentType(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("product_id=p"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(auth.SessionHeader, "s1")
	rec := httptest.NewRecorder()

	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAddItem_RateLimited(t *testing.T) {
	srv := newTestServer(t, RouterConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})

	first := srv.do(t, http.MethodPost, "/api/v1/cart/items", addShirt(1), session("s1"))
	require.Equal(t, http.StatusOK, first.Code)

	second := srv.do(t, http.MethodPost, "/api/v1/cart/items", addShirt(1), session("s1"))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// Another session has its own bucket, and reads are not limited.
	other := srv.do(t, http.MethodPost, "/api/v1/cart/items", addShirt(1), session("s2"))
	assert.Equal(t, http.StatusOK, other.Code)
	read := srv.do(t, http.MethodGet, "/api/v1/cart", nil, session("s1"))
	assert.Equal(t, http.StatusOK, read.Code)
}

// ============================================================================
// PATCH / DELETE items
// ============================================================================

func addAndGetItemID(t *testing.T, srv *testServer, sessionID string, qty int) (cartID, itemID string) {
	t.Helper()
	rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", addShirt(qty), session(sessionID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cart cartBody
	decodeData(t, rec, &cart)
	require.Len(t, cart.Items, 1)
	return cart.ID, cart.Items[0].ID
}

func TestUpdateQuantity_SetsAbsolute(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	_, itemID := addAndGetItemID(t, srv, "s1", 3)

	rec := srv.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, map[string]any{"quantity": 7}, session("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Item struct {
			ID       string `json:"id"`
			Quantity int    `json:"quantity"`
		} `json:"item"`
		Removed bool `json:"removed"`
	}
	decodeData(t, rec, &resp)
	assert.False(t, resp.Removed)
	assert.Equal(t, itemID, resp.Item.ID)
	assert.Equal(t, 7, resp.Item.Quantity)
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	_, itemID := addAndGetItemID(t, srv, "s1", 3)

	rec := srv.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, map[string]any{"quantity": 0}, session("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Item struct {
			Quantity int `json:"quantity"`
		} `json:"item"`
		Removed bool `json:"removed"`
	}
	decodeData(t, rec, &resp)
	assert.True(t, resp.Removed)
	assert.Equal(t, 3, resp.Item.Quantity)

	again := srv.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, map[string]any{"quantity": 1}, session("s1"))
	assert.Equal(t, http.StatusNotFound, again.Code)

	cartRec := srv.do(t, http.MethodGet, "/api/v1/cart", nil, session("s1"))
	var cart cartBody
	decodeData(t, cartRec, &cart)
	assert.Empty(t, cart.Items)
}

func TestUpdateQuantity_BadRequests(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	_, itemID := addAndGetItemID(t, srv, "s1", 1)

	rec := srv.do(t, http.MethodPatch, "/api/v1/cart/items/not-a-uuid", map[string]any{"quantity": 1}, session("s1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec).Code)

	rec = srv.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, map[string]any{}, session("s1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "quantity")

	rec = srv.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, map[string]any{"quantity": -1}, session("s1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPatch, "/api/v1/cart/items/"+itemID, map[string]any{"quantity": 1 << 40}, session("s1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "quantity")
}

func TestRemoveItem_Idempotent(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	_, itemID := addAndGetItemID(t, srv, "s1", 1)

	rec := srv.do(t, http.MethodDelete, "/api/v1/cart/items/"+itemID, nil, session("s1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/cart/items/"+itemID, nil, session("s1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// ============================================================================
// DELETE /api/v1/cart/{cartId}
// ============================================================================

func TestClearCart_ResetsIdentity(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	cartID, _ := addAndGetItemID(t, srv, "s1", 2)

	rec := srv.do(t, http.MethodDelete, "/api/v1/cart/"+cartID, nil, session("s1"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/cart/"+cartID, nil, session("s1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/cart", nil, session("s1"))
	var cart cartBody
	decodeData(t, rec, &cart)
	assert.NotEqual(t, cartID, cart.ID)
	assert.Empty(t, cart.Items)
}

func TestClearCart_InvalidID(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodDelete, "/api/v1/cart/abc", nil, session("s1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Ambient routes
// ============================================================================

func TestHealthAndMetricsRoutes(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofDeniedWithoutAllowlist(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(t, http.MethodGet, "/debug/pprof/", nil, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
