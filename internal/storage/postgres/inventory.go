package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/inventory"
)

const (
	variantColumns = `v.id, v.product_id, p.name, p.category_id, p.brand_id, v.sku, v.quantity,
		v.price, v.sale_price, v.color, v.size, v.capacity, v.is_default, v.is_active AND p.is_active`

	getVariantsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1) ORDER BY v.id`

	lockVariantsSQL = getVariantsSQL + ` FOR UPDATE OF v`

	adjustQuantitySQL = `UPDATE product_variants SET quantity = quantity + $2 WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, category_id, brand_id, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			category_id = EXCLUDED.category_id, brand_id = EXCLUDED.brand_id`

	upsertVariantSQL = `INSERT INTO product_variants
		(id, product_id, sku, quantity, price, sale_price, color, size, capacity, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET sku = EXCLUDED.sku, quantity = EXCLUDED.quantity,
			price = EXCLUDED.price, sale_price = EXCLUDED.sale_price, color = EXCLUDED.color,
			size = EXCLUDED.size, capacity = EXCLUDED.capacity, is_default = EXCLUDED.is_default,
			is_active = EXCLUDED.is_active`
)

var (
	_ inventory.Repository = (*VariantRepository)(nil)
	_ inventory.Reader     = (*VariantRepository)(nil)
)

// VariantRepository stores product variants and their stock.
type VariantRepository struct {
	q querier
}

// NewVariantRepository returns a VariantRepository that uses the given pool.
func NewVariantRepository(pool *pgxpool.Pool) *VariantRepository {
	return &VariantRepository{q: pool}
}

// GetByIDs returns the variants matching ids without locking them.
func (r *VariantRepository) GetByIDs(ctx context.Context, ids []string) ([]inventory.Variant, error) {
	rows, err := r.q.Query(ctx, getVariantsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// LockVariants selects the variants FOR UPDATE in id order.
func (r *VariantRepository) LockVariants(ctx context.Context, ids []string) ([]inventory.Variant, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	rows, err := r.q.Query(ctx, lockVariantsSQL, slices.Compact(sorted))
	if err != nil {
		return nil, fmt.Errorf("locking variants: %w", err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// AdjustQuantity adds delta to the stock. The quantity CHECK constraint
// rejects results below zero.
func (r *VariantRepository) AdjustQuantity(ctx context.Context, id string, delta int) error {
	tag, err := r.q.Exec(ctx, adjustQuantitySQL, id, delta)
	if err != nil {
		return fmt.Errorf("adjusting quantity of variant %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(inventory.ErrVariantNotFound, "variant %s", id)
	}
	return nil
}

// UpsertVariant writes a variant and its product.
func (r *VariantRepository) UpsertVariant(ctx context.Context, v inventory.Variant) error {
	if _, err := r.q.Exec(ctx, upsertProductSQL, v.ProductID, v.ProductName, v.CategoryID, v.BrandID); err != nil {
		return fmt.Errorf("upserting product %q: %w", v.ProductID, err)
	}
	_, err := r.q.Exec(ctx, upsertVariantSQL,
		v.ID, v.ProductID, v.SKU, v.Quantity, v.Price, v.SalePrice,
		v.Color, v.Size, v.Capacity, v.IsDefault, v.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upserting variant %q: %w", v.ID, err)
	}
	return nil
}

func scanVariant(row pgx.CollectableRow) (inventory.Variant, error) {
	var v inventory.Variant
	err := row.Scan(
		&v.ID, &v.ProductID, &v.ProductName, &v.CategoryID, &v.BrandID, &v.SKU, &v.Quantity,
		&v.Price, &v.SalePrice, &v.Color, &v.Size, &v.Capacity, &v.IsDefault, &v.IsActive,
	)
	return v, err
}
