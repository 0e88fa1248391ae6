package promotion

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply checks the promotion's conditions and minimum order value against the
// cart and computes the resulting discount. Activity window and usage limits
// are not checked here.
func Apply(p *Promotion, cart Cart) (Discount, error) {
	subtotal := cart.Subtotal()
	if p.MinOrderValue.IsPositive() && subtotal.LessThan(p.MinOrderValue) {
		return Discount{}, ErrMinOrderValue
	}
	for _, c := range p.Conditions {
		if !conditionHolds(c, cart) {
			return Discount{}, ErrConditionsUnmet
		}
	}

	switch p.Type {
	case TypePercentage:
		amount := floorAtZero(subtotal.Mul(p.Value).Div(hundred))
		return cappedDiscount(p, amount, subtotal), nil
	case TypeFixed:
		return cappedDiscount(p, floorAtZero(decimal.Min(p.Value, subtotal)), subtotal), nil
	case TypeFreeShipping:
		return Discount{
			Promotion:    p,
			Amount:       zero,
			FreeShipping: true,
			Saving:       floorAtZero(cart.ShippingCost).Round(2),
		}, nil
	case TypeBuyXGetY:
		amount, err := applyBuyXGetY(p, cart)
		if err != nil {
			return Discount{}, err
		}
		return cappedDiscount(p, amount, subtotal), nil
	default:
		return Discount{}, errors.Errorf("unsupported promotion type: %q", p.Type)
	}
}

func cappedDiscount(p *Promotion, amount, subtotal decimal.Decimal) Discount {
	amount = decimal.Min(amount, subtotal).Round(2)
	return Discount{Promotion: p, Amount: amount, Saving: amount}
}

// applyBuyXGetY discounts, for every multiple of the conditions, the reward
// quantity of the cheapest eligible units. When a reward targets the same
// items as a condition, those units must be bought on top of the condition
// quantity.
func applyBuyXGetY(p *Promotion, cart Cart) (decimal.Decimal, error) {
	if len(p.Rewards) == 0 {
		return zero, ErrConditionsUnmet
	}

	times := -1
	for _, c := range p.Conditions {
		if c.Kind == TargetCustomer {
			continue
		}
		group := max(c.Quantity, 1)
		for _, r := range p.Rewards {
			if r.Kind == c.Kind && r.TargetID == c.TargetID {
				group += max(r.Quantity, 1)
			}
		}
		n := matchedQuantity(c.Kind, c.TargetID, cart) / group
		if times < 0 || n < times {
			times = n
		}
	}
	if times < 0 {
		// No item conditions: a single application.
		times = 1
	}
	if times == 0 {
		return zero, ErrConditionsUnmet
	}

	total := zero
	for _, r := range p.Rewards {
		units := eligibleUnits(r.Kind, r.TargetID, cart)
		count := min(max(r.Quantity, 1)*times, len(units))
		pct := hundred
		if r.DiscountPercentage != nil {
			pct = *r.DiscountPercentage
		}
		for _, price := range units[:count] {
			total = total.Add(price.Mul(pct).Div(hundred))
		}
	}
	return floorAtZero(total), nil
}

func conditionHolds(c Condition, cart Cart) bool {
	if c.Kind == TargetCustomer {
		return c.TargetID == cart.CustomerID
	}
	return matchedQuantity(c.Kind, c.TargetID, cart) >= max(c.Quantity, 1)
}

func matches(kind TargetKind, target string, l Line) bool {
	switch kind {
	case TargetProduct:
		return l.ProductID == target
	case TargetCategory:
		return l.CategoryID == target
	case TargetBrand:
		return l.BrandID == target
	default:
		return false
	}
}

// matchedQuantity returns the number of cart units matching the target.
func matchedQuantity(kind TargetKind, target string, cart Cart) int {
	n := 0
	for _, l := range cart.Lines {
		if matches(kind, target, l) {
			n += l.Quantity
		}
	}
	return n
}

// eligibleUnits expands matching lines into unit prices, cheapest first.
func eligibleUnits(kind TargetKind, target string, cart Cart) []decimal.Decimal {
	var units []decimal.Decimal
	for _, l := range cart.Lines {
		if !matches(kind, target, l) {
			continue
		}
		for range l.Quantity {
			units = append(units, l.UnitPrice)
		}
	}
	slices.SortFunc(units, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	return units
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
