package inventory

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	variants  map[string]*Variant
	lockedIDs []string
	adjusted  []string
	adjustErr error
}

func (m *mockRepo) LockVariants(_ context.Context, ids []string) ([]Variant, error) {
	m.lockedIDs = append(m.lockedIDs, ids...)
	var out []Variant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *mockRepo) AdjustQuantity(_ context.Context, id string, delta int) error {
	if m.adjustErr != nil {
		return m.adjustErr
	}
	m.adjusted = append(m.adjusted, id)
	m.variants[id].Quantity += delta
	return nil
}

func newRepo(variants ...Variant) *mockRepo {
	m := &mockRepo{variants: make(map[string]*Variant, len(variants))}
	for i := range variants {
		m.variants[variants[i].ID] = &variants[i]
	}
	return m
}

func variant(id string, qty int) Variant {
	return Variant{ID: id, SKU: "SKU-" + id, Quantity: qty, Price: decimal.NewFromInt(10), IsActive: true}
}

func TestLedger_ReserveAll(t *testing.T) {
	repo := newRepo(variant("b", 5), variant("a", 3))
	l := NewLedger(repo)

	got, err := l.ReserveAll(context.Background(), []Line{
		{VariantID: "b", Quantity: 2},
		{VariantID: "a", Quantity: 3},
		{VariantID: "b", Quantity: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, repo.lockedIDs, "rows must be locked in id order")
	assert.Equal(t, 0, repo.variants["a"].Quantity)
	assert.Equal(t, 2, repo.variants["b"].Quantity)
	assert.Equal(t, 5, got["b"].Quantity, "returned variants reflect pre-reservation stock")
}

func TestLedger_ReserveExactStock(t *testing.T) {
	repo := newRepo(variant("a", 4))
	l := NewLedger(repo)

	_, err := l.Reserve(context.Background(), "a", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.variants["a"].Quantity)
}

func TestLedger_ReserveInsufficient(t *testing.T) {
	repo := newRepo(variant("a", 4), variant("b", 1))
	l := NewLedger(repo)

	_, err := l.ReserveAll(context.Background(), []Line{
		{VariantID: "a", Quantity: 5},
		{VariantID: "b", Quantity: 2},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "a", stockErr.VariantID, "first short line in cart order is reported")
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 4, stockErr.Available)
	assert.Empty(t, repo.adjusted)
	assert.Equal(t, 4, repo.variants["a"].Quantity)
}

func TestLedger_ReserveMergedDuplicatesExceedStock(t *testing.T) {
	repo := newRepo(variant("a", 3))
	l := NewLedger(repo)

	_, err := l.ReserveAll(context.Background(), []Line{
		{VariantID: "a", Quantity: 2},
		{VariantID: "a", Quantity: 2},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
}

func TestLedger_ReserveErrors(t *testing.T) {
	inactive := variant("off", 10)
	inactive.IsActive = false

	tests := []struct {
		name    string
		lines   []Line
		wantErr error
	}{
		{name: "unknown variant", lines: []Line{{VariantID: "missing", Quantity: 1}}, wantErr: ErrVariantNotFound},
		{name: "inactive variant", lines: []Line{{VariantID: "off", Quantity: 1}}, wantErr: ErrVariantInactive},
		{name: "zero quantity", lines: []Line{{VariantID: "a", Quantity: 0}}, wantErr: ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(variant("a", 10), inactive)
			_, err := NewLedger(repo).ReserveAll(context.Background(), tt.lines)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, repo.adjusted)
		})
	}
}

func TestLedger_ReleaseIsAdditive(t *testing.T) {
	repo := newRepo(variant("a", 2))
	l := NewLedger(repo)

	// Stock changed concurrently between reservation and release.
	repo.variants["a"].Quantity = 7

	require.NoError(t, l.ReleaseAll(context.Background(), []Line{{VariantID: "a", Quantity: 3}}))
	assert.Equal(t, 10, repo.variants["a"].Quantity)
}

func TestLedger_ReleaseError(t *testing.T) {
	repo := newRepo(variant("a", 2))
	repo.adjustErr = errors.New("db down")

	err := NewLedger(repo).Release(context.Background(), "a", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore variant a")
}

func TestVariant_UnitPrice(t *testing.T) {
	sale := decimal.RequireFromString("7.50")
	tooHigh := decimal.RequireFromString("12")

	v := Variant{Price: decimal.NewFromInt(10)}
	assert.True(t, decimal.NewFromInt(10).Equal(v.UnitPrice()))

	v.SalePrice = &sale
	assert.True(t, sale.Equal(v.UnitPrice()))

	v.SalePrice = &tooHigh
	assert.True(t, decimal.NewFromInt(10).Equal(v.UnitPrice()))
}

func TestCheck(t *testing.T) {
	variants := []Variant{variant("a", 2), variant("b", 0)}

	got, err := Check(variants, []Line{{VariantID: "a", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, got["a"].Quantity)

	_, err = Check(variants, []Line{{VariantID: "a", Quantity: 1}, {VariantID: "b", Quantity: 1}})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "b", stockErr.VariantID)
	assert.Equal(t, 0, stockErr.Available)
}
