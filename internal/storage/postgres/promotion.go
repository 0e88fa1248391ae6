package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, code, type, value, min_order_value, usage_limit, usage_count,
		starts_at, expires_at, is_active, conditions, rewards`

	getPromotionByCodeSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE UPPER(code) = UPPER($1)`

	listAutomaticPromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE code IS NULL AND is_active = TRUE ORDER BY id`

	consumePromotionSQL = `UPDATE promotions SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	recordPromotionUsageSQL = `INSERT INTO promotion_usages
		(promotion_id, user_id, order_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5)`

	upsertPromotionSQL = `INSERT INTO promotions (` + promotionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code,
			type = EXCLUDED.type, value = EXCLUDED.value, min_order_value = EXCLUDED.min_order_value,
			usage_limit = EXCLUDED.usage_limit, starts_at = EXCLUDED.starts_at,
			expires_at = EXCLUDED.expires_at, is_active = EXCLUDED.is_active,
			conditions = EXCLUDED.conditions, rewards = EXCLUDED.rewards`

	insertPromotionCodeSQL = `INSERT INTO promotions (` + promotionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, TRUE, $10, $11)
		ON CONFLICT DO NOTHING`
)

var (
	_ promotion.Repository      = (*PromotionRepository)(nil)
	_ promotion.UsageRepository = (*PromotionRepository)(nil)
)

// PromotionRepository stores promotions and their usage.
type PromotionRepository struct {
	q querier
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{q: pool}
}

// FindByCode looks up a promotion by coupon code (case-insensitive).
// Returns promotion.ErrNotFound when no promotion has the code.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.q.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	return &p, nil
}

// ListAutomatic returns the active promotions without a code.
func (r *PromotionRepository) ListAutomatic(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.q.Query(ctx, listAutomaticPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing automatic promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Consume increments the usage counter unless the limit is reached.
func (r *PromotionRepository) Consume(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, consumePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("consuming promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrLimitReached
	}
	return nil
}

// RecordUsage inserts a usage row.
func (r *PromotionRepository) RecordUsage(ctx context.Context, u promotion.Usage) error {
	_, err := r.q.Exec(ctx, recordPromotionUsageSQL,
		u.PromotionID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("recording usage of promotion %q: %w", u.PromotionID, err)
	}
	return nil
}

// Upsert writes a promotion definition. The usage counter is preserved.
func (r *PromotionRepository) Upsert(ctx context.Context, p promotion.Promotion) error {
	_, err := r.q.Exec(ctx, upsertPromotionSQL,
		p.ID, p.Name, nullable(p.Code), string(p.Type), p.Value, p.MinOrderValue,
		p.UsageLimit, p.UsageCount, p.StartsAt, p.ExpiresAt, p.IsActive,
		encodeConditions(p.Conditions), encodeRewards(p.Rewards),
	)
	if err != nil {
		return fmt.Errorf("upserting promotion %q: %w", p.ID, err)
	}
	return nil
}

// InsertCodes creates one single-use coupon per code from template. The
// promotion id is derived from the template id and the code. Existing codes
// are skipped. It returns the number of inserted rows.
func (r *PromotionRepository) InsertCodes(ctx context.Context, template promotion.Promotion, codes []string) (int64, error) {
	conditions, rewards := encodeConditions(template.Conditions), encodeRewards(template.Rewards)

	batch := &pgx.Batch{}
	for _, code := range codes {
		batch.Queue(insertPromotionCodeSQL,
			template.ID+"-"+code, template.Name, code, string(template.Type), template.Value,
			template.MinOrderValue, 1, template.StartsAt, template.ExpiresAt, conditions, rewards,
		)
	}
	results := r.q.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	var inserted int64
	for _, code := range codes {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("inserting coupon %q: %w", code, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p                   promotion.Promotion
		code                *string
		typ                 string
		conditions, rewards []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &code, &typ, &p.Value, &p.MinOrderValue, &p.UsageLimit, &p.UsageCount,
		&p.StartsAt, &p.ExpiresAt, &p.IsActive, &conditions, &rewards,
	)
	if err != nil {
		return p, err
	}
	if code != nil {
		p.Code = *code
	}
	p.Type = promotion.Type(typ)
	if p.Conditions, err = decodeConditions(conditions); err != nil {
		return p, errors.Wrapf(err, "decode conditions of promotion %s", p.ID)
	}
	if p.Rewards, err = decodeRewards(rewards); err != nil {
		return p, errors.Wrapf(err, "decode rewards of promotion %s", p.ID)
	}
	return p, nil
}

func encodeConditions(cs []promotion.Condition) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for _, c := range cs {
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(c.Kind))
		e.FieldStart("target_id")
		e.Str(c.TargetID)
		e.FieldStart("quantity")
		e.Int(c.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	return append([]byte(nil), e.Bytes()...)
}

func encodeRewards(rs []promotion.Reward) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for _, rw := range rs {
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(rw.Kind))
		e.FieldStart("target_id")
		e.Str(rw.TargetID)
		e.FieldStart("quantity")
		e.Int(rw.Quantity)
		if rw.DiscountPercentage != nil {
			e.FieldStart("discount_percentage")
			e.Str(rw.DiscountPercentage.String())
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return append([]byte(nil), e.Bytes()...)
}

func decodeConditions(data []byte) ([]promotion.Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []promotion.Condition
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var c promotion.Condition
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "kind":
				var v string
				v, err = d.Str()
				c.Kind = promotion.TargetKind(v)
			case "target_id":
				c.TargetID, err = d.Str()
			case "quantity":
				c.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func decodeRewards(data []byte) ([]promotion.Reward, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []promotion.Reward
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var rw promotion.Reward
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "kind":
				var v string
				v, err = d.Str()
				rw.Kind = promotion.TargetKind(v)
			case "target_id":
				rw.TargetID, err = d.Str()
			case "quantity":
				rw.Quantity, err = d.Int()
			case "discount_percentage":
				rw.DiscountPercentage, err = decodeOptionalDecimal(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		out = append(out, rw)
		return nil
	})
	return out, err
}

// decodeOptionalDecimal accepts null, a JSON number or a numeric string.
func decodeOptionalDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
