package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed discounts a fixed amount capped at the subtotal.
	TypeFixed Type = "fixed"
	// TypeFreeShipping zeroes the shipping cost.
	TypeFreeShipping Type = "free_shipping"
	// TypeBuyXGetY discounts reward items for every satisfied condition multiple.
	TypeBuyXGetY Type = "buy_x_get_y"
)

// TargetKind names what a condition or reward refers to.
type TargetKind string

const (
	TargetProduct  TargetKind = "product"
	TargetCategory TargetKind = "category"
	TargetBrand    TargetKind = "brand"
	TargetCustomer TargetKind = "customer"
)

// ErrInvalid is matched by every promotion rejection below.
var ErrInvalid = errors.New("promotion invalid")

var (
	ErrNotFound        = invalid("promotion not found")
	ErrExpired         = invalid("promotion expired")
	ErrNotStarted      = invalid("promotion is not active yet")
	ErrInactive        = invalid("promotion is not active")
	ErrLimitReached    = invalid("promotion usage limit reached")
	ErrConditionsUnmet = invalid("promotion conditions not met")
	ErrMinOrderValue   = invalid("order does not reach the promotion minimum value")
)

type invalidError struct {
	msg string
}

func invalid(msg string) error { return &invalidError{msg: msg} }

func (e *invalidError) Error() string { return e.msg }

// Is makes every rejection match ErrInvalid.
func (e *invalidError) Is(target error) bool { return target == ErrInvalid }

// Promotion is a discount rule. Promotions without a code are applied
// automatically.
type Promotion struct {
	ID            string
	Name          string
	Code          string
	Type          Type
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	UsageLimit    int
	UsageCount    int
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	IsActive      bool
	Conditions    []Condition
	Rewards       []Reward
}

// Automatic reports whether the promotion applies without a coupon code.
func (p *Promotion) Automatic() bool {
	return p.Code == ""
}

// Condition is a criterion the cart or customer must satisfy.
type Condition struct {
	Kind     TargetKind
	TargetID string
	Quantity int
}

// Reward is what a buy_x_get_y promotion discounts.
type Reward struct {
	Kind               TargetKind
	TargetID           string
	Quantity           int
	DiscountPercentage *decimal.Decimal
}

// Line is a cart line as seen by the evaluator.
type Line struct {
	ProductID  string
	VariantID  string
	CategoryID string
	BrandID    string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Cart is the order context a promotion is evaluated against.
type Cart struct {
	CustomerID   string
	Lines        []Line
	ShippingCost decimal.Decimal
}

// Subtotal returns the sum of unit price times quantity.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Discount is the outcome of applying a promotion.
type Discount struct {
	Promotion    *Promotion
	Amount       decimal.Decimal
	FreeShipping bool
	// Saving is the customer-visible value used to rank competing promotions.
	Saving decimal.Decimal
}

// Usage records that a promotion was consumed by an order.
type Usage struct {
	PromotionID    string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// Repository provides read access to promotions.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	ListAutomatic(ctx context.Context) ([]Promotion, error)
}

// UsageRepository mutates promotion usage inside the order transaction.
type UsageRepository interface {
	// Consume increments usage_count when the limit allows it and returns
	// ErrLimitReached otherwise.
	Consume(ctx context.Context, promotionID string) error
	RecordUsage(ctx context.Context, u Usage) error
}
