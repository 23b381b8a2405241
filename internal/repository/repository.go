package repository

import (
	"context"

	"github.com/utafrali/storefront-cart/internal/domain"
)

// CartRepository defines the interface for cart persistence operations.
// Lookups that miss return an error matching apperrors.ErrNotFound.
type CartRepository interface {
	// GetByOwner retrieves the cart keyed by the owner's user or session id,
	// including its items.
	GetByOwner(ctx context.Context, owner domain.Owner) (*domain.Cart, error)

	// GetByID retrieves a cart by its id, including its items.
	GetByID(ctx context.Context, cartID string) (*domain.Cart, error)

	// Create inserts an empty cart. It fails with apperrors.ErrAlreadyExists
	// when another cart already holds the same owner key.
	Create(ctx context.Context, cart *domain.Cart) error

	// Delete removes a cart and all of its items. Deleting a missing cart is
	// not an error.
	Delete(ctx context.Context, cartID string) error

	// MergeItem inserts item into its cart, or, when the cart already has a
	// line for item.ProductID, adds item.Quantity to that line and leaves its
	// name, price and image untouched. item.ID is only used on insert.
	MergeItem(ctx context.Context, item *domain.CartItem) error

	// GetItem retrieves a single line by id.
	GetItem(ctx context.Context, itemID string) (*domain.CartItem, error)

	// SetItemQuantity sets the quantity of a line to qty (qty > 0) and
	// returns the updated line.
	SetItemQuantity(ctx context.Context, itemID string, qty int) (*domain.CartItem, error)

	// DeleteItem removes a line. Deleting a missing line is not an error.
	DeleteItem(ctx context.Context, itemID string) error
}
