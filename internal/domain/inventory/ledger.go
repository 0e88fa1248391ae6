package inventory

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Ledger reserves and releases stock through a transaction-bound Repository.
type Ledger struct {
	repo Repository
}

// NewLedger returns a Ledger operating on repo.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Reserve checks and decrements the stock of a single variant.
func (l *Ledger) Reserve(ctx context.Context, variantID string, qty int) (Variant, error) {
	reserved, err := l.ReserveAll(ctx, []Line{{VariantID: variantID, Quantity: qty}})
	if err != nil {
		return Variant{}, err
	}
	return reserved[variantID], nil
}

// ReserveAll locks every variant referenced by lines in id order, verifies
// stock in the order the lines were given and decrements each variant once.
// Duplicate variant lines are merged. Nothing is decremented unless every
// line fits. The returned map holds the variants as they were before the
// decrement.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) (map[string]Variant, error) {
	merged, order, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	ids := slices.Clone(order)
	slices.Sort(ids)

	locked, err := l.repo.LockVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock variants")
	}
	byID, err := check(locked, merged, order)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := l.repo.AdjustQuantity(ctx, id, -merged[id]); err != nil {
			return nil, errors.Wrapf(err, "decrement variant %s", id)
		}
	}
	return byID, nil
}

// Release returns qty units of a variant to stock.
func (l *Ledger) Release(ctx context.Context, variantID string, qty int) error {
	return l.ReleaseAll(ctx, []Line{{VariantID: variantID, Quantity: qty}})
}

// ReleaseAll adds each line's quantity back to the current stock.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []Line) error {
	merged, order, err := mergeLines(lines)
	if err != nil {
		return err
	}
	slices.Sort(order)
	for _, id := range order {
		if err := l.repo.AdjustQuantity(ctx, id, merged[id]); err != nil {
			return errors.Wrapf(err, "restore variant %s", id)
		}
	}
	return nil
}

// Check verifies that variants can satisfy lines without reserving anything.
// It is meant for read-only previews; the result may be stale by the time an
// order is placed.
func Check(variants []Variant, lines []Line) (map[string]Variant, error) {
	merged, order, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}
	return check(variants, merged, order)
}

func check(variants []Variant, merged map[string]int, order []string) (map[string]Variant, error) {
	byID := make(map[string]Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	for _, id := range order {
		v, ok := byID[id]
		if !ok {
			return nil, errors.Wrapf(ErrVariantNotFound, "variant %s", id)
		}
		if !v.IsActive {
			return nil, errors.Wrapf(ErrVariantInactive, "variant %s", v.SKU)
		}
		if want := merged[id]; v.Quantity < want {
			return nil, &InsufficientStockError{
				VariantID: v.ID,
				SKU:       v.SKU,
				Requested: want,
				Available: v.Quantity,
			}
		}
	}
	return byID, nil
}

// mergeLines sums quantities per variant and keeps first-seen order.
func mergeLines(lines []Line) (map[string]int, []string, error) {
	merged := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, nil, errors.Wrapf(ErrInvalidQuantity, "variant %s", line.VariantID)
		}
		if _, seen := merged[line.VariantID]; !seen {
			order = append(order, line.VariantID)
		}
		merged[line.VariantID] += line.Quantity
	}
	return merged, order, nil
}
