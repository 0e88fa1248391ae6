package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

const (
	orderColumns = `id, number, user_id, status, payment_status, payment_method, shipping_address_id,
		subtotal, shipping_cost, discount, total, currency, coupon_code, promotion_id, notes,
		return_status, return_reason, return_rejection_reason, payment_reference, refund_reference,
		paid_at, shipped_at, delivered_at, cancelled_at, return_requested_at, returned_at, refunded_at,
		created_at, updated_at, version`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, 1)`

	createOrderItemSQL = `INSERT INTO order_items
		(id, order_id, product_id, variant_id, sku, name, quantity, unit_price, subtotal, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrderItemsSQL = `SELECT id, order_id, product_id, variant_id, sku, name, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderSQL = `UPDATE orders SET
		status = $2, payment_status = $3, return_status = $4, return_reason = $5,
		return_rejection_reason = $6, payment_reference = $7, refund_reference = $8,
		paid_at = $9, shipped_at = $10, delivered_at = $11, cancelled_at = $12,
		return_requested_at = $13, returned_at = $14, refunded_at = $15, updated_at = $16,
		version = version + 1
		WHERE id = $1 AND version = $17`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	q querier
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
// Use DB.InTx for writes that must share a transaction.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{q: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create persists a new order and its items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.q.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.UserID, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		o.ShippingAddressID, o.Subtotal, o.ShippingCost, o.Discount, o.Total, o.Currency,
		o.CouponCode, nullable(o.PromotionID), o.Notes,
		string(o.ReturnStatus), o.ReturnReason, o.ReturnRejectionReason, o.PaymentReference, o.RefundReference,
		o.PaidAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.ReturnRequestedAt, o.ReturnedAt, o.RefundedAt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(createOrderItemSQL,
			it.ID, o.ID, it.ProductID, it.VariantID, it.SKU, it.Name,
			it.Quantity, it.UnitPrice, it.Subtotal, i,
		)
	}
	if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}

	o.Version = 1
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate is Get with the order row locked until the transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*order.Order, error) {
	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = r.q.Query(ctx, listOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", id, err)
	}
	return o, nil
}

// Update writes the mutable order fields guarded by the version column.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.q.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), string(o.ReturnStatus), o.ReturnReason,
		o.ReturnRejectionReason, o.PaymentReference, o.RefundReference,
		o.PaidAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
		o.ReturnRequestedAt, o.ReturnedAt, o.RefundedAt, o.UpdatedAt,
		o.Version,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(order.ErrConcurrentUpdate, "order %s version %d", o.ID, o.Version)
	}
	o.Version++
	return nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o                                  order.Order
		status, paymentStatus, method, ret string
		promotionID                        *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &status, &paymentStatus, &method, &o.ShippingAddressID,
		&o.Subtotal, &o.ShippingCost, &o.Discount, &o.Total, &o.Currency, &o.CouponCode, &promotionID, &o.Notes,
		&ret, &o.ReturnReason, &o.ReturnRejectionReason, &o.PaymentReference, &o.RefundReference,
		&o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.ReturnRequestedAt, &o.ReturnedAt, &o.RefundedAt,
		&o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.PaymentMethod = payment.Method(method)
	o.ReturnStatus = order.ReturnStatus(ret)
	if promotionID != nil {
		o.PromotionID = *promotionID
	}
	return &o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.SKU, &it.Name,
		&it.Quantity, &it.UnitPrice, &it.Subtotal,
	)
	return it, err
}
