// Command promo-ingest imports single-use coupon codes from gzip files as
// copies of a promotion template.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// CodeInserter stores coupon codes for a promotion template.
type CodeInserter interface {
	InsertCodes(ctx context.Context, template promotion.Promotion, codes []string) (int64, error)
}

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
		Name:      "promo-ingest",
		Usage:     "import coupon codes listed in gzip files",
		ArgsUsage: "FILE.gz...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database-url", EnvVars: []string{"STORE_DATABASE_URL", "DATABASE_URL"}, Required: true},
			&cli.StringFlag{Name: "template-id", Required: true, Usage: "id prefix of the generated promotions"},
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "type", Value: string(promotion.TypePercentage), Usage: "percentage, fixed or free_shipping"},
			&cli.StringFlag{Name: "value", Value: "10"},
			&cli.StringFlag{Name: "min-order-value", Value: "0"},
			&cli.TimestampFlag{Name: "expires-at", Layout: time.RFC3339},
			&cli.IntFlag{Name: "min-files", Value: 2, Usage: "number of files a code must appear in"},
			&cli.IntFlag{Name: "min-length", Value: 6},
			&cli.IntFlag{Name: "max-length", Value: 12},
			&cli.UintFlag{Name: "bloom-capacity", Value: 10_000_000, Usage: "expected codes per file"},
			&cli.Float64Flag{Name: "bloom-fpr", Value: 0.001},
			&cli.IntFlag{Name: "batch-size", Value: 1000},
		},
		Action: func(c *cli.Context) error {
			return run(c, lg)
		},
	}
	if err := a.RunContext(ctx, os.Args); err != nil {
		lg.Fatal("Promotion ingest failed", zap.Error(err))
	}
}

func run(c *cli.Context, lg *zap.Logger) error {
	files := c.Args().Slice()
	if len(files) == 0 {
		return errors.New("at least one input file is required")
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}
	template, err := templateFrom(c)
	if err != nil {
		return err
	}

	s := &scanner{
		lg:       lg,
		capacity: c.Uint("bloom-capacity"),
		fpr:      c.Float64("bloom-fpr"),
		minLen:   c.Int("min-length"),
		maxLen:   c.Int("max-length"),
		minFiles: c.Int("min-files"),
	}
	codes, err := s.Scan(c.Context, files)
	if err != nil {
		return err
	}
	lg.Info("Codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(c.Context, c.String("database-url"))
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	inserted, err := writeCodes(c.Context, lg, postgres.NewPromotionRepository(pool), template, codes, c.Int("batch-size"))
	if err != nil {
		return err
	}
	lg.Info("Promotion ingest completed",
		zap.Int64("inserted", inserted),
		zap.Int64("skipped", int64(len(codes))-inserted),
	)
	return nil
}

func templateFrom(c *cli.Context) (promotion.Promotion, error) {
	typ := promotion.Type(c.String("type"))
	switch typ {
	case promotion.TypePercentage, promotion.TypeFixed, promotion.TypeFreeShipping:
	default:
		return promotion.Promotion{}, errors.Errorf("unsupported promotion type %q", typ)
	}
	value, err := decimal.NewFromString(c.String("value"))
	if err != nil {
		return promotion.Promotion{}, errors.Wrap(err, "parse value")
	}
	minOrder, err := decimal.NewFromString(c.String("min-order-value"))
	if err != nil {
		return promotion.Promotion{}, errors.Wrap(err, "parse min order value")
	}
	return promotion.Promotion{
		ID:            c.String("template-id"),
		Name:          c.String("name"),
		Type:          typ,
		Value:         value,
		MinOrderValue: minOrder,
		UsageLimit:    1,
		ExpiresAt:     c.Timestamp("expires-at"),
		IsActive:      true,
	}, nil
}

// writeCodes inserts codes in sorted batches and returns the number of new
// promotions.
func writeCodes(ctx context.Context, lg *zap.Logger, repo CodeInserter, template promotion.Promotion, codes []string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	slices.Sort(codes)

	var total int64
	for batch := range slices.Chunk(codes, batchSize) {
		n, err := repo.InsertCodes(ctx, template, batch)
		total += n
		if err != nil {
			return total, errors.Wrap(err, "insert codes")
		}
		lg.Debug("Batch written", zap.Int("size", len(batch)), zap.Int64("inserted", n))
	}
	return total, nil
}
