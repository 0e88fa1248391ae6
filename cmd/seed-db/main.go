// Command seed-db loads a demo catalog, customer, promotions, shipping rates,
// settings and an admin API key.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const demoUserID = "user-demo"

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a := &cli.App{
		Name:  "seed-db",
		Usage: "seed the storefront database with demo data",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database-url", EnvVars: []string{"STORE_DATABASE_URL", "DATABASE_URL"}, Required: true},
			&cli.StringFlag{Name: "api-key", EnvVars: []string{"STORE_SEED_API_KEY"}, Required: true, Usage: "admin API key to seed"},
			&cli.StringFlag{Name: "api-key-pepper", EnvVars: []string{"STORE_API_KEY_PEPPER"}, Required: true},
			&cli.StringFlag{Name: "jwt-secret", EnvVars: []string{"STORE_JWT_SECRET"}, Usage: "print a customer token for the demo user"},
			&cli.StringFlag{Name: "jwt-issuer", EnvVars: []string{"STORE_JWT_ISSUER"}, Value: "storefront"},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, lg, c)
		},
	}
	if err := a.RunContext(ctx, os.Args); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, c *cli.Context) error {
	databaseURL := c.String("database-url")

	lg.Info("Running migrations")
	if err := postgres.Migrate(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := seedVariants(ctx, lg, postgres.NewVariantRepository(pool)); err != nil {
		return errors.Wrap(err, "seed variants")
	}
	if err := seedAddress(ctx, lg, postgres.NewAddressRepository(pool)); err != nil {
		return errors.Wrap(err, "seed address")
	}
	if err := seedPromotions(ctx, lg, postgres.NewPromotionRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedSettings(ctx, lg, postgres.NewSettingsRepository(pool)); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	if err := seedAPIKey(ctx, lg, postgres.NewAPIKeyRepository(pool), c.String("api-key"), c.String("api-key-pepper")); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if secret := c.String("jwt-secret"); secret != "" {
		tokens, err := auth.NewTokens([]byte(secret), c.String("jwt-issuer"))
		if err != nil {
			return errors.Wrap(err, "create tokens")
		}
		token, err := tokens.Issue(demoUserID, 30*24*time.Hour)
		if err != nil {
			return errors.Wrap(err, "issue token")
		}
		lg.Info("Issued demo customer token", zap.String("user_id", demoUserID), zap.String("token", token))
	}
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedVariants(ctx context.Context, lg *zap.Logger, repo *postgres.VariantRepository) error {
	sale := dec("399.00")
	variants := []inventory.Variant{
		{
			ID: "var-lamp-white", ProductID: "prod-lamp", ProductName: "Desk Lamp", CategoryID: "cat-lighting", BrandID: "brand-lumo",
			SKU: "LAMP-WHT", Quantity: 25, Price: dec("450.00"), SalePrice: &sale, Color: "white", IsDefault: true, IsActive: true,
		},
		{
			ID: "var-lamp-black", ProductID: "prod-lamp", ProductName: "Desk Lamp", CategoryID: "cat-lighting", BrandID: "brand-lumo",
			SKU: "LAMP-BLK", Quantity: 10, Price: dec("450.00"), Color: "black", IsActive: true,
		},
		{
			ID: "var-mug-350", ProductID: "prod-mug", ProductName: "Travel Mug", CategoryID: "cat-kitchen", BrandID: "brand-brew",
			SKU: "MUG-350", Quantity: 100, Price: dec("120.00"), Capacity: "350ml", IsDefault: true, IsActive: true,
		},
		{
			ID: "var-tee-m", ProductID: "prod-tee", ProductName: "Cotton Tee", CategoryID: "cat-apparel", BrandID: "brand-loom",
			SKU: "TEE-M", Quantity: 3, Price: dec("250.00"), Size: "M", IsDefault: true, IsActive: true,
		},
	}
	for _, v := range variants {
		if err := repo.UpsertVariant(ctx, v); err != nil {
			return errors.Wrapf(err, "upsert %s", v.SKU)
		}
		lg.Info("Upserted variant", zap.String("sku", v.SKU), zap.Int("quantity", v.Quantity))
	}
	return nil
}

func seedAddress(ctx context.Context, lg *zap.Logger, repo *postgres.AddressRepository) error {
	a := order.Address{
		ID:      "addr-demo",
		UserID:  demoUserID,
		Name:    "Demo Customer",
		Phone:   "+201000000000",
		Line1:   "12 Tahrir Square",
		City:    "Cairo",
		Country: "EG",
	}
	if err := repo.Upsert(ctx, a); err != nil {
		return err
	}
	lg.Info("Upserted address", zap.String("id", a.ID), zap.String("city", a.City))
	return nil
}

func seedPromotions(ctx context.Context, lg *zap.Logger, repo *postgres.PromotionRepository) error {
	half := dec("50")
	promotions := []promotion.Promotion{
		{
			ID: "promo-save10", Name: "10% off your order", Code: "SAVE10",
			Type: promotion.TypePercentage, Value: dec("10"), IsActive: true,
		},
		{
			ID: "promo-welcome", Name: "100 off orders over 1000", Code: "WELCOME100",
			Type: promotion.TypeFixed, Value: dec("100"), MinOrderValue: dec("1000"), UsageLimit: 500, IsActive: true,
		},
		{
			ID: "promo-free-shipping", Name: "Free shipping over 750",
			Type: promotion.TypeFreeShipping, MinOrderValue: dec("750"), IsActive: true,
		},
		{
			ID: "promo-mugs", Name: "Buy two mugs, third half price",
			Type: promotion.TypeBuyXGetY, IsActive: true,
			Conditions: []promotion.Condition{{Kind: promotion.TargetProduct, TargetID: "prod-mug", Quantity: 2}},
			Rewards:    []promotion.Reward{{Kind: promotion.TargetProduct, TargetID: "prod-mug", Quantity: 1, DiscountPercentage: &half}},
		},
	}
	for _, p := range promotions {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert %s", p.ID)
		}
		lg.Info("Upserted promotion", zap.String("id", p.ID), zap.String("type", string(p.Type)))
	}
	return nil
}

func seedSettings(ctx context.Context, lg *zap.Logger, repo *postgres.SettingsRepository) error {
	values := []struct {
		key   settings.Key
		value string
	}{
		{settings.KeyStoreName, "Demo Store"},
		{settings.KeyCurrency, "EGP"},
		{settings.KeyAdminEmail, "orders@example.com"},
		{settings.KeyDefaultShippingCost, "75"},
		{settings.KeyFreeShippingThreshold, "2000"},
		{settings.KeyReturnWindowDays, "14"},
	}
	for _, v := range values {
		if err := repo.Set(ctx, v.key, v.value); err != nil {
			return errors.Wrapf(err, "set %s", v.key)
		}
	}
	rates := map[string]string{"Cairo": "50", "Giza": "50", "Alexandria": "65", "Aswan": "120"}
	for city, cost := range rates {
		if err := repo.SetRate(ctx, city, dec(cost)); err != nil {
			return errors.Wrapf(err, "set rate for %s", city)
		}
	}
	lg.Info("Seeded settings", zap.Int("settings", len(values)), zap.Int("rates", len(rates)))
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, key, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), key),
		Name:    "Default admin key",
		Scopes:  []string{"*"},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}
