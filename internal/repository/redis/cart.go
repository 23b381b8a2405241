package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/pkg/database"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

const (
	keyPrefix      = "cart:"
	ownerKeyPrefix = "cart:owner:"
	itemKeyPrefix  = "cart:item:"

	// maxTxRetries bounds how often an optimistic transaction is retried
	// after another writer touched the same cart.
	maxTxRetries = 10
)

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// errNoChange aborts an update without writing anything.
var errNoChange = errors.New("no change")

// CartRepository implements repository.CartRepository using Redis. Each cart
// is one JSON document; owner and item index keys point back to it. Every
// key carries the cart TTL, refreshed on write, so idle carts expire.
type CartRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client redis.UniversalClient, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func cartKey(cartID string) string {
	return keyPrefix + cartID
}

func ownerKey(owner domain.Owner) string {
	return ownerKeyPrefix + owner.Key()
}

func itemKey(itemID string) string {
	return itemKeyPrefix + itemID
}

// GetByOwner resolves the owner index and loads the cart it points to.
func (r *CartRepository) GetByOwner(ctx context.Context, owner domain.Owner) (_ *domain.Cart, err error) {
	if owner.IsZero() {
		return nil, apperrors.InvalidInput("cart owner is required")
	}
	key := ownerKey(owner)

	ctx, end := database.TraceOp(ctx, database.SystemRedis, "GetCartByOwner", "GET "+key)
	defer func() { end(err) }()

	cartID, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("cart", owner.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart owner: %w", err)
	}

	cart, err := r.load(ctx, r.client, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperrors.NotFound("cart", owner.Key())
	}
	return cart, nil
}

// GetByID retrieves a cart document by id.
func (r *CartRepository) GetByID(ctx context.Context, cartID string) (_ *domain.Cart, err error) {
	ctx, end := database.TraceOp(ctx, database.SystemRedis, "GetCartByID", "GET "+cartKey(cartID))
	defer func() { end(err) }()

	cart, err := r.load(ctx, r.client, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperrors.NotFound("cart", cartID)
	}
	return cart, nil
}

// Create claims the owner index key and writes the cart document in one
// transaction. An index key whose document has expired is reclaimed.
func (r *CartRepository) Create(ctx context.Context, cart *domain.Cart) (err error) {
	owner := cart.Owner()
	oKey := ownerKey(owner)

	ctx, end := database.TraceOp(ctx, database.SystemRedis, "CreateCart", "WATCH "+oKey+" MULTI SET")
	defer func() { end(err) }()

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	return r.withRetry(ctx, func() error {
		return r.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := tx.Get(ctx, oKey).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return fmt.Errorf("redis get cart owner: %w", err)
			default:
				n, err := tx.Exists(ctx, cartKey(existing)).Result()
				if err != nil {
					return fmt.Errorf("redis exists cart: %w", err)
				}
				if n > 0 {
					if owner.IsUser() {
						return apperrors.AlreadyExists("cart", "user_id", owner.UserID)
					}
					return apperrors.AlreadyExists("cart", "session_id", owner.SessionID)
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, oKey, cart.ID, r.ttl)
				pipe.Set(ctx, cartKey(cart.ID), data, r.ttl)
				return nil
			})
			return err
		}, oKey)
	})
}

// Delete removes the cart document together with its owner and item index
// keys. A missing cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, cartID string) (err error) {
	key := cartKey(cartID)

	ctx, end := database.TraceOp(ctx, database.SystemRedis, "DeleteCart", "DEL "+key)
	defer func() { end(err) }()

	return r.withRetry(ctx, func() error {
		return r.client.Watch(ctx, func(tx *redis.Tx) error {
			cart, err := r.load(ctx, tx, cartID)
			if err != nil {
				return err
			}
			if cart == nil {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, ownerKey(cart.Owner()))
				for _, item := range cart.Items {
					pipe.Del(ctx, itemKey(item.ID))
				}
				return nil
			})
			return err
		}, key)
	})
}

// MergeItem adds item to its cart, or grows the quantity of the line that
// already holds item.ProductID. The existing line keeps its snapshot fields.
func (r *CartRepository) MergeItem(ctx context.Context, item *domain.CartItem) (err error) {
	ctx, end := database.TraceOp(ctx, database.SystemRedis, "MergeCartItem", "WATCH "+cartKey(item.CartID)+" MULTI SET")
	defer func() { end(err) }()

	err = r.update(ctx, item.CartID, func(cart *domain.Cart) error {
		if existing, ok := cart.FindItemByProduct(item.ProductID); ok {
			if existing.Quantity > domain.MaxQuantity-item.Quantity {
				return apperrors.InvalidInput("merged quantity exceeds the maximum")
			}
			existing.Quantity += item.Quantity
			existing.UpdatedAt = item.UpdatedAt
		} else {
			cart.Items = append(cart.Items, *item)
		}
		cart.UpdatedAt = item.UpdatedAt
		return nil
	})
	return err
}

// GetItem resolves the item index and returns the line from its cart.
func (r *CartRepository) GetItem(ctx context.Context, itemID string) (_ *domain.CartItem, err error) {
	ctx, end := database.TraceOp(ctx, database.SystemRedis, "GetCartItem", "GET "+itemKey(itemID))
	defer func() { end(err) }()

	cartID, err := r.itemCartID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if cartID == "" {
		return nil, apperrors.NotFound("cart item", itemID)
	}

	cart, err := r.load(ctx, r.client, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	item, ok := cart.FindItem(itemID)
	if !ok {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	found := *item
	return &found, nil
}

// SetItemQuantity overwrites the quantity of a line.
// Quantities above domain.MaxQuantity are rejected.
func (r *CartRepository) SetItemQuantity(ctx context.Context, itemID string, qty int) (_ *domain.CartItem, err error) {
	ctx, end := database.TraceOp(ctx, database.SystemRedis, "SetCartItemQuantity", "WATCH cart MULTI SET")
	defer func() { end(err) }()

	cartID, err := r.itemCartID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if cartID == "" {
		return nil, apperrors.NotFound("cart item", itemID)
	}

	if qty > domain.MaxQuantity {
		return nil, apperrors.InvalidInput("quantity exceeds the maximum")
	}

	var updated domain.CartItem
	err = r.update(ctx, cartID, func(cart *domain.Cart) error {
		item, ok := cart.FindItem(itemID)
		if !ok {
			return apperrors.NotFound("cart item", itemID)
		}
		now := r.now()
		item.Quantity = qty
		item.UpdatedAt = now
		cart.UpdatedAt = now
		updated = *item
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("cart item", itemID)
		}
		return nil, err
	}
	return &updated, nil
}

// DeleteItem removes a line. A missing line is not an error.
func (r *CartRepository) DeleteItem(ctx context.Context, itemID string) (err error) {
	ctx, end := database.TraceOp(ctx, database.SystemRedis, "DeleteCartItem", "WATCH cart MULTI SET DEL "+itemKey(itemID))
	defer func() { end(err) }()

	cartID, err := r.itemCartID(ctx, itemID)
	if err != nil || cartID == "" {
		return err
	}

	err = r.update(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				cart.UpdatedAt = r.now()
				return nil
			}
		}
		return errNoChange
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		// The cart vanished between the index lookup and the update.
		return nil
	}
	return err
}

// update runs fn against the current cart document inside a WATCH/MULTI
// transaction and writes the result back. Item index keys are added and
// removed to match the new item set; every key's TTL is refreshed.
func (r *CartRepository) update(ctx context.Context, cartID string, fn func(*domain.Cart) error) error {
	key := cartKey(cartID)

	err := r.withRetry(ctx, func() error {
		return r.client.Watch(ctx, func(tx *redis.Tx) error {
			cart, err := r.load(ctx, tx, cartID)
			if err != nil {
				return err
			}
			if cart == nil {
				return apperrors.NotFound("cart", cartID)
			}

			before := itemIDs(cart)
			if err := fn(cart); err != nil {
				return err
			}
			after := itemIDs(cart)

			data, err := json.Marshal(cart)
			if err != nil {
				return fmt.Errorf("marshal cart: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, r.ttl)
				pipe.Expire(ctx, ownerKey(cart.Owner()), r.ttl)
				for id := range after {
					pipe.Set(ctx, itemKey(id), cartID, r.ttl)
				}
				for id := range before {
					if _, kept := after[id]; !kept {
						pipe.Del(ctx, itemKey(id))
					}
				}
				return nil
			})
			return err
		}, key)
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// withRetry reruns fn while its transaction loses the optimistic race.
func (r *CartRepository) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return apperrors.Conflict("cart was modified concurrently, please retry")
}

// load reads a cart document. A missing document returns (nil, nil).
func (r *CartRepository) load(ctx context.Context, c getter, cartID string) (*domain.Cart, error) {
	data, err := c.Get(ctx, cartKey(cartID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

// itemCartID returns the cart holding itemID, or "" when the index has no
// entry.
func (r *CartRepository) itemCartID(ctx context.Context, itemID string) (string, error) {
	cartID, err := r.client.Get(ctx, itemKey(itemID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get cart item index: %w", err)
	}
	return cartID, nil
}

func itemIDs(cart *domain.Cart) map[string]struct{} {
	ids := make(map[string]struct{}, len(cart.Items))
	for _, item := range cart.Items {
		ids[item.ID] = struct{}{}
	}
	return ids
}
