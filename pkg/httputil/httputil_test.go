package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/logger"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// --- WriteJSON / WriteData ---

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusTeapot, Response{Data: "hello"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWriteData_WrapsInEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusOK, map[string]int{"total_items": 3})

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	assert.JSONEq(t, `{"total_items":3}`, string(raw["data"]))
	assert.NotContains(t, raw, "error")
}

func TestWriteNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNoContent(rec)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

// --- WriteError ---

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app not found", apperrors.NotFound("cart item", "i-1"), http.StatusNotFound, "NOT_FOUND"},
		{"sentinel not found", apperrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"already exists", apperrors.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
		{"conflict", fmt.Errorf("save: %w", apperrors.ErrConflict), http.StatusConflict, "CONFLICT"},
		{"invalid input", apperrors.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{"unauthorized", apperrors.Unauthorized("missing credentials"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"store unavailable", apperrors.StoreUnavailable(errors.New("dial tcp")), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"unknown", errors.New("something unexpected"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)

			WriteError(rec, req, tt.err, testLogger())

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestWriteError_HidesStoreCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)

	WriteError(rec, req, apperrors.StoreUnavailable(errors.New("dial tcp 10.1.2.3:6379")), testLogger())

	assert.NotContains(t, rec.Body.String(), "10.1.2.3")
}

func TestWriteError_LogsServerErrorsOnly(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)

	WriteError(httptest.NewRecorder(), req, apperrors.ErrNotFound, l)
	assert.Zero(t, buf.Len())

	WriteError(httptest.NewRecorder(), req, apperrors.StoreUnavailable(errors.New("timeout")), l)
	assert.Contains(t, buf.String(), "request failed")
	assert.Contains(t, buf.String(), "timeout")
}

func TestWriteError_PrefersRequestLogger(t *testing.T) {
	var scoped, fallback bytes.Buffer
	ctx := logger.NewContext(context.Background(), slog.New(slog.NewJSONHandler(&scoped, nil)))
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	WriteError(httptest.NewRecorder(), req, errors.New("boom"), slog.New(slog.NewJSONHandler(&fallback, nil)))

	assert.NotZero(t, scoped.Len())
	assert.Zero(t, fallback.Len())
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx := logger.WithCorrelationID(context.Background(), "corr-123")
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	WriteError(rec, req, apperrors.NotFound("cart", "c-1"), testLogger())

	resp := decode(t, rec)
	assert.Equal(t, "corr-123", resp.Error.RequestID)
}

func TestWriteError_NoCorrelationID_OmitsRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteError(rec, req, apperrors.ErrNotFound, testLogger())

	var raw map[string]map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	assert.NotContains(t, raw["error"], "request_id")
}

// --- WriteValidationError ---

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

func TestWriteValidationError_FieldErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/", nil)

	WriteValidationError(rec, req, validator.Validate(quantityRequest{Quantity: -1}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "quantity")
}

func TestWriteValidationError_NonValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	WriteValidationError(rec, req, fmt.Errorf("decode request body: unexpected EOF"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

// --- ParseUUID ---

func TestParseUUID_Valid(t *testing.T) {
	rec := httptest.NewRecorder()
	id, ok := ParseUUID(rec, "550E8400-E29B-41D4-A716-446655440000")

	assert.True(t, ok)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id.String())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseUUID_Invalid(t *testing.T) {
	for _, param := range []string{"", "abc123", "not-a-uuid"} {
		rec := httptest.NewRecorder()
		_, ok := ParseUUID(rec, param)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
	}
}
