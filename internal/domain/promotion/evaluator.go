package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Options controls how coupons and automatic promotions interact.
type Options struct {
	// Automatic enables promotions without a code.
	Automatic bool
	// CouponOverridesAutomatic makes a valid coupon win even when an automatic
	// promotion would save more. When false the larger saving wins.
	CouponOverridesAutomatic bool
}

// DefaultOptions returns the storefront defaults.
func DefaultOptions() Options {
	return Options{Automatic: true, CouponOverridesAutomatic: true}
}

// Evaluator selects the promotion that applies to a cart.
type Evaluator struct {
	repo Repository
	opts Options
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by repo.
func NewEvaluator(repo Repository, opts Options) *Evaluator {
	return &Evaluator{repo: repo, opts: opts, now: time.Now}
}

// Evaluate returns the discount to apply to cart, or nil when no promotion
// applies. A non-empty code that cannot be applied is an error wrapping
// ErrInvalid; automatic promotions never fail the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, cart Cart, code string) (*Discount, error) {
	code = strings.TrimSpace(code)

	var coupon *Discount
	if code != "" {
		d, err := e.evaluateCoupon(ctx, cart, code)
		if err != nil {
			return nil, err
		}
		if e.opts.CouponOverridesAutomatic {
			return d, nil
		}
		coupon = d
	}

	if !e.opts.Automatic {
		return coupon, nil
	}
	best, err := e.bestAutomatic(ctx, cart)
	if err != nil {
		return nil, err
	}
	switch {
	case coupon == nil:
		return best, nil
	case best == nil:
		return coupon, nil
	case best.Saving.GreaterThan(coupon.Saving):
		return best, nil
	default:
		return coupon, nil
	}
}

func (e *Evaluator) evaluateCoupon(ctx context.Context, cart Cart, code string) (*Discount, error) {
	p, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}
	if err := e.Available(p); err != nil {
		return nil, err
	}
	d, err := Apply(p, cart)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// bestAutomatic returns the automatic promotion with the highest saving.
// Ties keep the first promotion returned by the repository.
func (e *Evaluator) bestAutomatic(ctx context.Context, cart Cart) (*Discount, error) {
	promos, err := e.repo.ListAutomatic(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list automatic promotions")
	}

	var best *Discount
	for i := range promos {
		p := &promos[i]
		if e.Available(p) != nil {
			continue
		}
		d, err := Apply(p, cart)
		if err != nil {
			continue
		}
		if !d.Saving.IsPositive() {
			continue
		}
		if best == nil || d.Saving.GreaterThan(best.Saving) {
			best = &d
		}
	}
	return best, nil
}

// Available checks the activity flag, window and usage limit of p.
func (e *Evaluator) Available(p *Promotion) error {
	if !p.IsActive {
		return ErrInactive
	}
	now := e.now()
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return ErrNotStarted
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return ErrExpired
	}
	if p.UsageLimit > 0 && p.UsageCount >= p.UsageLimit {
		return ErrLimitReached
	}
	return nil
}
