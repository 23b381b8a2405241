package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/lock"
	"github.com/utafrali/storefront-cart/internal/repository"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/logger"
)

// AddItemInput holds the parameters for adding an item to the cart. It is
// validated at the transport boundary; the service trusts it.
type AddItemInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	ImageURL    string
}

// EventPublisher publishes cart domain events. Implemented by
// event.Producer and event.Noop.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, cart *domain.Cart) error
	PublishItemRemoved(ctx context.Context, item *domain.CartItem) error
	PublishCartCleared(ctx context.Context, cartID string) error
}

// CartService implements the business logic for cart operations.
type CartService struct {
	repo   repository.CartRepository
	locker lock.Locker
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewCartService creates a new cart service.
func NewCartService(repo repository.CartRepository, locker lock.Locker, events EventPublisher, logger *slog.Logger) *CartService {
	return &CartService{
		repo:   repo,
		locker: locker,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// ResolveCart returns the cart for owner, creating an empty one on first
// use. A user id takes precedence over a session id.
func (s *CartService) ResolveCart(ctx context.Context, owner domain.Owner) (_ *domain.Cart, err error) {
	defer func() { observe(opResolve, err) }()
	return s.resolve(ctx, owner)
}

func (s *CartService) resolve(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	if owner.IsZero() {
		return nil, apperrors.InvalidInput("user id or session id is required")
	}
	owner = domain.NewOwner(owner.UserID, owner.SessionID)

	cart, err := s.repo.GetByOwner(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, storeErr("get cart", err)
	}

	cart = domain.NewCart(s.newID(), owner, s.now())
	if err := s.repo.Create(ctx, cart); err != nil {
		if !errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, storeErr("create cart", err)
		}
		// Lost the creation race; the winner's cart is the owner's cart.
		existing, err := s.repo.GetByOwner(ctx, owner)
		if err != nil {
			return nil, storeErr("get cart after create conflict", err)
		}
		return existing, nil
	}

	cartsCreated.Inc()
	s.log(ctx).InfoContext(ctx, "cart created",
		slog.String("cart_id", cart.ID),
		slog.Bool("user_owned", owner.IsUser()),
	)
	return cart, nil
}

// addAttempts bounds how often AddItem resolves the cart again after a
// concurrent clear deleted it between resolution and merge.
const addAttempts = 2

// errCartGone reports that the resolved cart no longer existed when the
// merge ran under its lock.
var errCartGone = errors.New("cart deleted before merge")

// AddItem adds quantity of a product to the owner's cart. A product already
// in the cart has its quantity increased; its name, price and image keep the
// values captured when it was first added. The returned cart is re-read
// after the write. If the cart is cleared between resolution and merge, the
// owner's cart is resolved again, which creates a fresh one.
func (s *CartService) AddItem(ctx context.Context, owner domain.Owner, input AddItemInput) (_ *domain.Cart, err error) {
	defer func() { observe(opAddItem, err) }()

	var cart, updated *domain.Cart
	for attempt := 1; ; attempt++ {
		if cart, err = s.resolve(ctx, owner); err != nil {
			return nil, err
		}
		updated, err = s.mergeItem(ctx, cart.ID, input)
		if !errors.Is(err, errCartGone) {
			break
		}
		if attempt == addAttempts {
			return nil, apperrors.Conflict("cart was cleared concurrently, please retry")
		}
		s.log(ctx).DebugContext(ctx, "cart cleared before merge, resolving again",
			slog.String("cart_id", cart.ID),
		)
	}
	if err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, updated)

	s.log(ctx).InfoContext(ctx, "item added to cart",
		slog.String("cart_id", updated.ID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
	)
	return updated, nil
}

// mergeItem merges input into cartID under the cart lock and returns the
// reloaded cart.
func (s *CartService) mergeItem(ctx context.Context, cartID string, input AddItemInput) (*domain.Cart, error) {
	var updated *domain.Cart
	err := s.withCartLock(ctx, cartID, func(ctx context.Context) error {
		now := s.now()
		item := &domain.CartItem{
			ID:          s.newID(),
			CartID:      cartID,
			ProductID:   input.ProductID,
			ProductName: input.ProductName,
			UnitPrice:   input.UnitPrice,
			ImageURL:    input.ImageURL,
			Quantity:    input.Quantity,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.MergeItem(ctx, item); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return errCartGone
			}
			return fmt.Errorf("merge cart item: %w", err)
		}

		var err error
		updated, err = s.repo.GetByID(ctx, cartID)
		if err != nil {
			return fmt.Errorf("reload cart: %w", err)
		}
		return nil
	})
	return updated, err
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less
// removes the line; the returned item is then the line as it was before
// removal and removed is true.
func (s *CartService) UpdateQuantity(ctx context.Context, itemID string, quantity int) (_ *domain.CartItem, removed bool, err error) {
	defer func() { observe(opUpdate, err) }()

	if itemID == "" {
		return nil, false, apperrors.InvalidInput("item id is required")
	}

	existing, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, false, storeErr("get cart item", err)
	}

	var item *domain.CartItem
	err = s.withCartLock(ctx, existing.CartID, func(ctx context.Context) error {
		if quantity <= 0 {
			// Re-read under the lock so the returned line reflects any
			// merge that landed after the unlocked lookup.
			current, err := s.repo.GetItem(ctx, itemID)
			if err != nil {
				return err
			}
			if err := s.repo.DeleteItem(ctx, itemID); err != nil {
				return fmt.Errorf("delete cart item: %w", err)
			}
			item, removed = current, true
			return nil
		}

		var err error
		item, err = s.repo.SetItemQuantity(ctx, itemID, quantity)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if removed {
		s.publishRemoved(ctx, item)
	} else {
		s.publishCartOf(ctx, item.CartID)
	}

	s.log(ctx).InfoContext(ctx, "cart item quantity updated",
		slog.String("cart_id", item.CartID),
		slog.String("item_id", item.ID),
		slog.Int("quantity", quantity),
		slog.Bool("removed", removed),
	)
	return item, removed, nil
}

// RemoveItem deletes a line. Removing a line that does not exist succeeds.
func (s *CartService) RemoveItem(ctx context.Context, itemID string) (err error) {
	defer func() { observe(opRemove, err) }()

	if itemID == "" {
		return apperrors.InvalidInput("item id is required")
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr("get cart item", err)
	}

	err = s.withCartLock(ctx, item.CartID, func(ctx context.Context) error {
		if err := s.repo.DeleteItem(ctx, itemID); err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishRemoved(ctx, item)

	s.log(ctx).InfoContext(ctx, "item removed from cart",
		slog.String("cart_id", item.CartID),
		slog.String("item_id", itemID),
	)
	return nil
}

// ClearCart deletes the cart and all of its items. The owner's next
// ResolveCart creates a new cart with a new id. Clearing a cart that does
// not exist succeeds.
func (s *CartService) ClearCart(ctx context.Context, cartID string) (err error) {
	defer func() { observe(opClear, err) }()

	if cartID == "" {
		return apperrors.InvalidInput("cart id is required")
	}

	if _, err := s.repo.GetByID(ctx, cartID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return storeErr("get cart", err)
	}

	err = s.withCartLock(ctx, cartID, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, cartID); err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.events.PublishCartCleared(ctx, cartID); err != nil {
		s.publishFailed(ctx, "cart.cleared", cartID, err)
	}

	s.log(ctx).InfoContext(ctx, "cart cleared",
		slog.String("cart_id", cartID),
	)
	return nil
}

// withCartLock serialises mutations of one cart across requests and
// replicas. Errors from fn or the locker that are not already classified are
// reported as the store being unavailable.
func (s *CartService) withCartLock(ctx context.Context, cartID string, fn func(context.Context) error) error {
	err := s.locker.WithLock(ctx, "cart:"+cartID, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		s.log(ctx).WarnContext(ctx, "cart lock not acquired",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
		return apperrors.Conflict("cart is busy, please retry")
	}
	return storeErr("cart "+cartID, err)
}

// storeErr passes classified errors through unchanged and wraps anything
// else from the store as StoreUnavailable. The service never retries.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.StoreUnavailable(fmt.Errorf("%s: %w", op, err))
}

func (s *CartService) publishUpdated(ctx context.Context, cart *domain.Cart) {
	if err := s.events.PublishCartUpdated(ctx, cart); err != nil {
		s.publishFailed(ctx, "cart.updated", cart.ID, err)
	}
}

// publishCartOf reloads the cart so the event carries the state after a
// quantity change.
func (s *CartService) publishCartOf(ctx context.Context, cartID string) {
	cart, err := s.repo.GetByID(ctx, cartID)
	if err != nil {
		s.publishFailed(ctx, "cart.updated", cartID, err)
		return
	}
	s.publishUpdated(ctx, cart)
}

func (s *CartService) publishRemoved(ctx context.Context, item *domain.CartItem) {
	if err := s.events.PublishItemRemoved(ctx, item); err != nil {
		s.publishFailed(ctx, "cart.item_removed", item.CartID, err)
	}
}

func (s *CartService) publishFailed(ctx context.Context, eventType, cartID string, err error) {
	eventPublishFailures.WithLabelValues(eventType).Inc()
	s.log(ctx).ErrorContext(ctx, "failed to publish "+eventType+" event",
		slog.String("cart_id", cartID),
		slog.String("error", err.Error()),
	)
}

func (s *CartService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}
