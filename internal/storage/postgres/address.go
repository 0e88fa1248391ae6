package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	getAddressSQL = `SELECT id, user_id, name, phone, line1, line2, city, country
		FROM addresses WHERE id = $1`

	upsertAddressSQL = `INSERT INTO addresses (id, user_id, name, phone, line1, line2, city, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone,
			line1 = EXCLUDED.line1, line2 = EXCLUDED.line2, city = EXCLUDED.city, country = EXCLUDED.country`
)

var _ order.AddressRepository = (*AddressRepository)(nil)

// AddressRepository reads customer shipping addresses.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// Get returns order.ErrAddressNotFound when no address has the id.
func (r *AddressRepository) Get(ctx context.Context, id string) (*order.Address, error) {
	var a order.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, id).Scan(
		&a.ID, &a.UserID, &a.Name, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}

// Upsert writes an address.
func (r *AddressRepository) Upsert(ctx context.Context, a order.Address) error {
	_, err := r.pool.Exec(ctx, upsertAddressSQL,
		a.ID, a.UserID, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.Country,
	)
	if err != nil {
		return fmt.Errorf("upserting address %q: %w", a.ID, err)
	}
	return nil
}
