package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientStock is matched by InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVariantNotFound is returned when a variant id does not resolve to a row.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrVariantInactive is returned when an inactive variant is reserved.
	ErrVariantInactive = errors.New("variant is not available for sale")
	// ErrInvalidQuantity is returned for non-positive reserve/release amounts.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InsufficientStockError reports the line that could not be reserved.
type InsufficientStockError struct {
	VariantID string
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) hold.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Variant is the purchasable SKU-level unit of a product and the unit of stock.
type Variant struct {
	ID          string
	ProductID   string
	ProductName string
	CategoryID  string
	BrandID     string
	SKU         string
	Quantity    int
	Price       decimal.Decimal
	SalePrice   *decimal.Decimal
	Color       string
	Size        string
	Capacity    string
	IsDefault   bool
	IsActive    bool
}

// UnitPrice returns the sale price when one is set, the list price otherwise.
func (v Variant) UnitPrice() decimal.Decimal {
	if v.SalePrice != nil && !v.SalePrice.IsNegative() && v.SalePrice.LessThanOrEqual(v.Price) {
		return *v.SalePrice
	}
	return v.Price
}

// Line is a requested quantity of one variant.
type Line struct {
	VariantID string
	Quantity  int
}

// Repository is the row-level stock store. Implementations must be bound to
// the caller's transaction so locks are held until commit.
type Repository interface {
	// LockVariants returns the rows for ids, locked for update, ordered by id.
	// Missing ids are absent from the result.
	LockVariants(ctx context.Context, ids []string) ([]Variant, error)
	// AdjustQuantity adds delta to the stock of a variant.
	AdjustQuantity(ctx context.Context, id string, delta int) error
}

// Reader exposes non-locking variant lookups for read paths such as checkout
// previews.
type Reader interface {
	GetByIDs(ctx context.Context, ids []string) ([]Variant, error)
}
