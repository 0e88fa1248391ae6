// Package shipping quotes delivery costs for an address.
package shipping

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/settings"
)

// ErrNoRate is returned by a RateRepository when a city has no dedicated rate.
var ErrNoRate = errors.New("no shipping rate for city")

// DefaultZone names quotes that fall back to the store-wide cost.
const DefaultZone = "default"

// Rate is a per-city shipping cost.
type Rate struct {
	City string
	Cost decimal.Decimal
}

// RateRepository looks up per-city rates.
type RateRepository interface {
	RateForCity(ctx context.Context, city string) (*Rate, error)
}

// SettingsProvider supplies the store defaults.
type SettingsProvider interface {
	Get(ctx context.Context) (settings.Store, error)
}

// Quote is the shipping cost for an order before promotions.
type Quote struct {
	Zone     string
	BaseCost decimal.Decimal
	// Cost is BaseCost, or zero when the free-shipping threshold is met.
	Cost         decimal.Decimal
	FreeShipping bool
}

// Calculator computes quotes.
type Calculator struct {
	rates    RateRepository
	settings SettingsProvider
}

// NewCalculator creates a Calculator.
func NewCalculator(rates RateRepository, settings SettingsProvider) *Calculator {
	return &Calculator{rates: rates, settings: settings}
}

// Quote returns the shipping cost to city for an order with the given
// subtotal.
func (c *Calculator) Quote(ctx context.Context, city string, subtotal decimal.Decimal) (Quote, error) {
	st, err := c.settings.Get(ctx)
	if err != nil {
		return Quote{}, errors.Wrap(err, "get settings")
	}

	q := Quote{Zone: DefaultZone, BaseCost: st.DefaultShippingCost}
	city = strings.TrimSpace(city)
	if city != "" {
		rate, err := c.rates.RateForCity(ctx, city)
		switch {
		case err == nil:
			q.Zone = rate.City
			q.BaseCost = rate.Cost
		case errors.Is(err, ErrNoRate):
		default:
			return Quote{}, errors.Wrap(err, "lookup shipping rate")
		}
	}

	q.Cost = q.BaseCost
	if st.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(st.FreeShippingThreshold) {
		q.Cost = decimal.Zero
		q.FreeShipping = true
	}
	return q, nil
}
