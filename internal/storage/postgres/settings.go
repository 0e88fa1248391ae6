package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/shipping"
)

const (
	listSettingsSQL = `SELECT key, value FROM settings`

	setSettingSQL = `INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	getShippingRateSQL = `SELECT city, cost FROM shipping_rates WHERE city = $1`

	upsertShippingRateSQL = `INSERT INTO shipping_rates (city, cost) VALUES ($1, $2)
		ON CONFLICT (city) DO UPDATE SET cost = EXCLUDED.cost`
)

var (
	_ settings.Repository     = (*SettingsRepository)(nil)
	_ shipping.RateRepository = (*SettingsRepository)(nil)
)

// SettingsRepository stores store settings and per-city shipping rates.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// All returns every stored setting.
func (r *SettingsRepository) All(ctx context.Context) (map[settings.Key]string, error) {
	rows, err := r.pool.Query(ctx, listSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	out := make(map[settings.Key]string)
	var key, value string
	_, err = pgx.ForEachRow(rows, []any{&key, &value}, func() error {
		out[settings.Key(key)] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return out, nil
}

// Set stores one setting.
func (r *SettingsRepository) Set(ctx context.Context, key settings.Key, value string) error {
	if _, err := r.pool.Exec(ctx, setSettingSQL, string(key), value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// RateForCity returns shipping.ErrNoRate when the city has no rate.
func (r *SettingsRepository) RateForCity(ctx context.Context, city string) (*shipping.Rate, error) {
	var rate shipping.Rate
	err := r.pool.QueryRow(ctx, getShippingRateSQL, normalizeCity(city)).Scan(&rate.City, &rate.Cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrNoRate
		}
		return nil, fmt.Errorf("getting shipping rate for %q: %w", city, err)
	}
	return &rate, nil
}

// SetRate stores the shipping cost for a city.
func (r *SettingsRepository) SetRate(ctx context.Context, city string, cost decimal.Decimal) error {
	if _, err := r.pool.Exec(ctx, upsertShippingRateSQL, normalizeCity(city), cost); err != nil {
		return fmt.Errorf("setting shipping rate for %q: %w", city, err)
	}
	return nil
}
