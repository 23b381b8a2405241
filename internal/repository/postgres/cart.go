package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/pkg/database"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

// PostgreSQL error codes the repository translates.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNumericOutOfRange   = "22003"
)

const cartSelect = `
	SELECT
		c.id, COALESCE(c.user_id, ''), COALESCE(c.session_id, ''), c.created_at, c.updated_at,
		COALESCE(
			JSONB_AGG(
				JSONB_BUILD_OBJECT(
					'id', ci.id,
					'cart_id', ci.cart_id,
					'product_id', ci.product_id,
					'product_name', ci.product_name,
					'unit_price', ci.unit_price,
					'image_url', ci.image_url,
					'quantity', ci.quantity,
					'created_at', ci.created_at,
					'updated_at', ci.updated_at
				) ORDER BY ci.created_at, ci.id
			) FILTER (WHERE ci.id IS NOT NULL),
			'[]'::jsonb
		) AS items
	FROM carts c
	LEFT JOIN cart_items ci ON ci.cart_id = c.id`

const cartGroupBy = `
	GROUP BY c.id, c.user_id, c.session_id, c.created_at, c.updated_at`

const itemColumns = `id, cart_id, product_id, product_name, unit_price::text, image_url, quantity, created_at, updated_at`

// CartRepository implements repository.CartRepository using PostgreSQL.
type CartRepository struct {
	pool database.DBTX
	now  func() time.Time
}

// NewCartRepository creates a new PostgreSQL-backed cart repository.
func NewCartRepository(pool database.DBTX) *CartRepository {
	return &CartRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// GetByOwner retrieves the cart owned by a user or session, eagerly loading
// its items in the same query.
func (r *CartRepository) GetByOwner(ctx context.Context, owner domain.Owner) (_ *domain.Cart, err error) {
	var (
		q   string
		arg string
	)
	switch {
	case owner.UserID != "":
		q, arg = cartSelect+` WHERE c.user_id = $1`+cartGroupBy, owner.UserID
	case owner.SessionID != "":
		q, arg = cartSelect+` WHERE c.session_id = $1`+cartGroupBy, owner.SessionID
	default:
		return nil, apperrors.InvalidInput("cart owner is required")
	}

	ctx, end := database.TraceQuery(ctx, "GetCartByOwner", q)
	defer func() { end(err) }()

	cart, err := scanCart(r.pool.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cart", owner.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("get cart by owner: %w", err)
	}
	return cart, nil
}

// GetByID retrieves a cart by id, eagerly loading its items.
func (r *CartRepository) GetByID(ctx context.Context, cartID string) (_ *domain.Cart, err error) {
	q := cartSelect + ` WHERE c.id = $1` + cartGroupBy

	ctx, end := database.TraceQuery(ctx, "GetCartByID", q)
	defer func() { end(err) }()

	cart, err := scanCart(r.pool.QueryRow(ctx, q, cartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cart", cartID)
	}
	if err != nil {
		return nil, fmt.Errorf("get cart by id: %w", err)
	}
	return cart, nil
}

// Create inserts an empty cart. The unique indexes on user_id and session_id
// reject a second cart for the same owner.
func (r *CartRepository) Create(ctx context.Context, cart *domain.Cart) (err error) {
	const q = `
		INSERT INTO carts (id, user_id, session_id, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)`

	ctx, end := database.TraceQuery(ctx, "CreateCart", q)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, q, cart.ID, cart.UserID, cart.SessionID, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		if isPgError(err, codeUniqueViolation) {
			if cart.UserID != "" {
				return apperrors.AlreadyExists("cart", "user_id", cart.UserID)
			}
			return apperrors.AlreadyExists("cart", "session_id", cart.SessionID)
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// Delete removes a cart; its items go with it through ON DELETE CASCADE.
func (r *CartRepository) Delete(ctx context.Context, cartID string) (err error) {
	const q = `DELETE FROM carts WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteCart", q)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, q, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

// MergeItem upserts a line on (cart_id, product_id). On conflict only the
// quantity grows; the snapshot columns keep their first-add values.
func (r *CartRepository) MergeItem(ctx context.Context, item *domain.CartItem) (err error) {
	const upsert = `
		INSERT INTO cart_items (id, cart_id, product_id, product_name, unit_price, image_url, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at`
	const touch = `UPDATE carts SET updated_at = $2 WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "MergeCartItem", upsert)
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, upsert,
		item.ID,
		item.CartID,
		item.ProductID,
		item.ProductName,
		item.UnitPrice.String(),
		item.ImageURL,
		item.Quantity,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		switch {
		case isPgError(err, codeForeignKeyViolation):
			return apperrors.NotFound("cart", item.CartID)
		case isPgError(err, codeNumericOutOfRange):
			return apperrors.InvalidInput("quantity or unit price out of range")
		}
		return fmt.Errorf("upsert cart item: %w", err)
	}

	if _, err = tx.Exec(ctx, touch, item.CartID, item.UpdatedAt); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetItem retrieves a single cart line.
func (r *CartRepository) GetItem(ctx context.Context, itemID string) (_ *domain.CartItem, err error) {
	q := `SELECT ` + itemColumns + ` FROM cart_items WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetCartItem", q)
	defer func() { end(err) }()

	item, err := scanItem(r.pool.QueryRow(ctx, q, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

// SetItemQuantity overwrites the quantity of a line and returns the line as
// stored.
func (r *CartRepository) SetItemQuantity(ctx context.Context, itemID string, qty int) (_ *domain.CartItem, err error) {
	q := `UPDATE cart_items SET quantity = $2, updated_at = $3 WHERE id = $1 RETURNING ` + itemColumns
	const touch = `UPDATE carts SET updated_at = $2 WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SetCartItemQuantity", q)
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.now()
	item, err := scanItem(tx.QueryRow(ctx, q, itemID, qty, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	if isPgError(err, codeNumericOutOfRange) {
		return nil, apperrors.InvalidInput("quantity out of range")
	}
	if err != nil {
		return nil, fmt.Errorf("update cart item quantity: %w", err)
	}

	if _, err = tx.Exec(ctx, touch, item.CartID, now); err != nil {
		return nil, fmt.Errorf("touch cart: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return item, nil
}

// DeleteItem removes a line and bumps its cart's updated_at in one
// statement. A missing line deletes nothing and touches nothing.
func (r *CartRepository) DeleteItem(ctx context.Context, itemID string) (err error) {
	const q = `
		WITH deleted AS (
			DELETE FROM cart_items WHERE id = $1 RETURNING cart_id
		)
		UPDATE carts SET updated_at = $2
		WHERE id IN (SELECT cart_id FROM deleted)`

	ctx, end := database.TraceQuery(ctx, "DeleteCartItem", q)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, q, itemID, r.now()); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var (
		c         domain.Cart
		itemsJSON []byte
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.CreatedAt, &c.UpdatedAt, &itemsJSON); err != nil {
		return nil, err
	}

	c.Items = []domain.CartItem{}
	if len(itemsJSON) > 0 && string(itemsJSON) != "null" && string(itemsJSON) != "[]" {
		if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
			return nil, fmt.Errorf("unmarshal cart items: %w", err)
		}
	}
	return &c, nil
}

func scanItem(row pgx.Row) (*domain.CartItem, error) {
	var (
		item  domain.CartItem
		price string
	)
	err := row.Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.ProductName,
		&price,
		&item.ImageURL,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.UnitPrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse unit price %q: %w", price, err)
	}
	return &item, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
