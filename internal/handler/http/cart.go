package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/service"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/httputil"
	"github.com/utafrali/storefront-cart/pkg/middleware"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
// unit_price accepts a JSON number or a decimal string with at most two
// decimal places. The bounds match the storage column types.
type AddItemRequest struct {
	ProductID   string          `json:"product_id" validate:"required,max=255"`
	ProductName string          `json:"product_name" validate:"required,min=1,max=500"`
	Quantity    int             `json:"quantity" validate:"required,gte=1,lte=2147483647"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"required,gt=0,lt=10000000000,money"`
	ImageURL    string          `json:"image_url" validate:"omitempty,url,max=2048"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's
// quantity. Zero removes the item.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,lte=2147483647"`
}

// --- Response DTOs ---

// CartResponse is a cart with its derived totals.
type CartResponse struct {
	*domain.Cart
	TotalItems  int    `json:"total_items"`
	TotalAmount string `json:"total_amount"`
}

// UpdateQuantityResponse reports the item after the update, or as it was
// just before removal when Removed is true.
type UpdateQuantityResponse struct {
	Item    *domain.CartItem `json:"item"`
	Removed bool             `json:"removed"`
}

func newCartResponse(cart *domain.Cart) CartResponse {
	return CartResponse{
		Cart:        cart,
		TotalItems:  cart.ItemCount(),
		TotalAmount: cart.TotalAmount().StringFixed(2),
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	cart, err := h.service.ResolveCart(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(cart))
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	cart, err := h.service.AddItem(r.Context(), owner, service.AddItemInput{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(cart))
}

// UpdateItemQuantity handles PATCH /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "itemId"))
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	item, removed, err := h.service.UpdateQuantity(r.Context(), itemID.String(), *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, UpdateQuantityResponse{Item: item, Removed: removed})
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "itemId"))
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), itemID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteNoContent(w)
}

// ClearCart handles DELETE /api/v1/cart/{cartId}
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cartID, ok := httputil.ParseUUID(w, chi.URLParam(r, "cartId"))
	if !ok {
		return
	}

	if err := h.service.ClearCart(r.Context(), cartID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteNoContent(w)
}

// owner reads the caller stored by middleware.Auth.
func (h *CartHandler) owner(w http.ResponseWriter, r *http.Request) (domain.Owner, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return domain.Owner{}, false
	}
	return domain.NewOwner(p.UserID, p.SessionID), true
}
