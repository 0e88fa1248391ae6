package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// Repository persists orders. Implementations obtained from Tx share the
// caller's transaction.
type Repository interface {
	// Create inserts the order with its items and sets Version to 1.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate loads the order and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// Update writes mutable fields when the stored version equals o.Version
	// and increments it. A mismatch returns ErrConcurrentUpdate.
	Update(ctx context.Context, o *Order) error
}

// Tx exposes the repositories bound to one database transaction.
type Tx interface {
	Orders() Repository
	Inventory() inventory.Repository
	Promotions() promotion.UsageRepository
}

// TxRunner runs fn in a transaction that commits when fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AddressRepository reads customer addresses.
type AddressRepository interface {
	Get(ctx context.Context, id string) (*Address, error)
}

// PromotionEvaluator selects the discount for a cart.
type PromotionEvaluator interface {
	Evaluate(ctx context.Context, cart promotion.Cart, code string) (*promotion.Discount, error)
}

// ShippingQuoter prices delivery to a city.
type ShippingQuoter interface {
	Quote(ctx context.Context, city string, subtotal decimal.Decimal) (shipping.Quote, error)
}

// SettingsProvider supplies store settings.
type SettingsProvider interface {
	Get(ctx context.Context) (settings.Store, error)
}

// Gateways resolves payment gateways.
type Gateways interface {
	For(method payment.Method) (payment.Gateway, error)
	ByName(name string) (payment.Gateway, error)
}

// ReplayGuard remembers processed webhook deliveries.
type ReplayGuard interface {
	// Claim records key and reports whether it was not seen before.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget removes key so a failed delivery can be processed again.
	Forget(ctx context.Context, key string) error
}

// Recipient selects who a notification is addressed to.
type Recipient string

const (
	RecipientCustomer Recipient = "customer"
	RecipientAdmin    Recipient = "admin"
)

// Notifier dispatches order notifications. Calls happen after commit and
// failures are only logged.
type Notifier interface {
	// SendOrderPlaced notifies the customer and the store admin.
	SendOrderPlaced(ctx context.Context, o *Order) error
	// SendOrderCancelled content depends on o.RefundOwed().
	SendOrderCancelled(ctx context.Context, o *Order, to Recipient) error
	// SendReturnRequested notifies the store admin.
	SendReturnRequested(ctx context.Context, o *Order) error
	// SendStatusChanged notifies the customer of any other transition.
	SendStatusChanged(ctx context.Context, o *Order) error
}
