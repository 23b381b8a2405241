package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity a cart line can hold.
const MaxQuantity = math.MaxInt32

// Owner identifies whose cart a request addresses: a signed-in user or an
// anonymous browser session.
type Owner struct {
	UserID    string
	SessionID string
}

// NewOwner applies the resolution precedence: a user id, when present, wins
// and the session id is dropped.
func NewOwner(userID, sessionID string) Owner {
	if userID != "" {
		return Owner{UserID: userID}
	}
	return Owner{SessionID: sessionID}
}

// IsZero reports that neither a user id nor a session id is set.
func (o Owner) IsZero() bool {
	return o.UserID == "" && o.SessionID == ""
}

// IsUser reports whether the owner is an authenticated user.
func (o Owner) IsUser() bool {
	return o.UserID != ""
}

// Key returns the single lookup key for the owner, e.g. "user:42" or
// "session:abc". It is empty for the zero owner.
func (o Owner) Key() string {
	switch {
	case o.UserID != "":
		return "user:" + o.UserID
	case o.SessionID != "":
		return "session:" + o.SessionID
	default:
		return ""
	}
}

// Cart is the aggregate root. Exactly one of UserID and SessionID is set, and
// neither changes after creation.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewCart returns an empty cart for owner.
func NewCart(id string, owner Owner, now time.Time) *Cart {
	return &Cart{
		ID:        id,
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Owner returns the key the cart is stored under.
func (c *Cart) Owner() Owner {
	return Owner{UserID: c.UserID, SessionID: c.SessionID}
}

// CartItem is one product line. Name, price and image are a snapshot taken on
// the first add and are never refreshed from the catalog.
type CartItem struct {
	ID          string          `json:"id"`
	CartID      string          `json:"cart_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Subtotal returns quantity * unit price.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TotalAmount returns the exact sum of item subtotals. Rounding is left to
// presentation.
func (c *Cart) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// FindItemByProduct returns the line for productID. A cart holds at most one
// line per product.
func (c *Cart) FindItemByProduct(productID string) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// FindItem returns the line with the given id.
func (c *Cart) FindItem(itemID string) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i], true
		}
	}
	return nil, false
}
