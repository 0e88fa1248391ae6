package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
)

// MarkShipped moves a processing order to shipped.
func (s *Service) MarkShipped(ctx context.Context, id string) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "MarkShipped", id)
	defer func() { endSpan(span, err) }()

	o, err := s.mutate(ctx, id, "", func(_ context.Context, _ Tx, o *Order) error {
		return o.ship(s.clock())
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, "ship", o)
	return o, nil
}

// MarkDelivered moves a processing or shipped order to delivered. Cash on
// delivery orders become paid.
func (s *Service) MarkDelivered(ctx context.Context, id string) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "MarkDelivered", id)
	defer func() { endSpan(span, err) }()

	o, err := s.mutate(ctx, id, "", func(_ context.Context, _ Tx, o *Order) error {
		return o.deliver(s.clock())
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, "deliver", o)
	return o, nil
}

// CancelRequest identifies the order to cancel. UserID is set when a customer
// cancels their own order and empty for admins.
type CancelRequest struct {
	OrderID string
	UserID  string
}

// CancelOrder cancels an order that is neither delivered nor cancelled and
// restores its stock. A refund owed is reported by the order's RefundOwed
// and must be issued with ProcessRefund.
func (s *Service) CancelOrder(ctx context.Context, req CancelRequest) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "CancelOrder", req.OrderID)
	defer func() { endSpan(span, err) }()

	o, err := s.mutate(ctx, req.OrderID, req.UserID, func(ctx context.Context, tx Tx, o *Order) error {
		if err := o.cancel(s.clock()); err != nil {
			return err
		}
		return inventory.NewLedger(tx.Inventory()).ReleaseAll(ctx, o.Lines())
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, "cancel", o)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.Bool("refund_owed", o.RefundOwed()),
	)
	for _, to := range []Recipient{RecipientCustomer, RecipientAdmin} {
		s.notify(ctx, "order_cancelled_"+string(to), o, func(ctx context.Context) error {
			return s.notifier.SendOrderCancelled(ctx, o, to)
		})
	}
	return o, nil
}

// ProcessRefund refunds the paid total of a cancelled or returned order
// through its gateway. The order row stays locked during the gateway call
// and is only updated when the gateway confirms the refund.
func (s *Service) ProcessRefund(ctx context.Context, id string) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "ProcessRefund", id)
	defer func() { endSpan(span, err) }()

	var res payment.RefundResult
	o, err := s.mutate(ctx, id, "", func(ctx context.Context, _ Tx, o *Order) error {
		if err := o.checkRefundable(); err != nil {
			return err
		}
		gateway, err := s.payments.For(o.PaymentMethod)
		if err != nil {
			return errors.Wrap(err, "resolve gateway")
		}
		res = gateway.Refund(ctx, payment.RefundRequest{
			OrderID:          o.ID,
			PaymentReference: o.PaymentReference,
			Amount:           o.Total,
			Currency:         o.Currency,
			Reason:           "Refund for order " + o.Number,
		})
		if !res.Success {
			return &RefundFailedError{OrderID: o.ID, Result: res}
		}
		o.markRefunded(res, s.clock())
		return nil
	})
	if err != nil {
		if res.Success {
			zctx.From(ctx).Error("Refund issued but order update failed",
				zap.String("order_id", id),
				zap.String("refund_reference", res.TransactionID),
				zap.Error(err),
			)
		}
		return nil, err
	}
	s.afterStatusChange(ctx, "refund", o)
	return o, nil
}

// ReturnRequest is a customer's request to return a delivered order.
type ReturnRequest struct {
	OrderID string
	UserID  string
	Reason  string
}

// RequestReturn opens a return on a delivered order within the return
// window and notifies the admin.
func (s *Service) RequestReturn(ctx context.Context, req ReturnRequest) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "RequestReturn", req.OrderID)
	defer func() { endSpan(span, err) }()

	reason, err := s.cleanText("reason", req.Reason, true)
	if err != nil {
		return nil, err
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get settings")
	}
	window := time.Duration(st.ReturnWindowDays) * 24 * time.Hour

	o, err := s.mutate(ctx, req.OrderID, req.UserID, func(_ context.Context, _ Tx, o *Order) error {
		return o.requestReturn(s.clock(), reason, window, s.opts.AllowReturnAfterRejection)
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, "request_return", o)
	s.notify(ctx, "return_requested", o, func(ctx context.Context) error {
		return s.notifier.SendReturnRequested(ctx, o)
	})
	return o, nil
}

// ApproveReturn accepts a requested return.
func (s *Service) ApproveReturn(ctx context.Context, id string) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "ApproveReturn", id)
	defer func() { endSpan(span, err) }()

	o, err := s.mutate(ctx, id, "", func(_ context.Context, _ Tx, o *Order) error {
		return o.approveReturn()
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, "approve_return", o)
	return o, nil
}

// RejectReturn declines a requested return with a reason.
func (s *Service) RejectReturn(ctx context.Context, id, reason string) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "RejectReturn", id)
	defer func() { endSpan(span, err) }()

	reason, err = s.cleanText("reason", reason, true)
	if err != nil {
		return nil, err
	}
	o, err := s.mutate(ctx, id, "", func(_ context.Context, _ Tx, o *Order) error {
		return o.rejectReturn(reason)
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, "reject_return", o)
	return o, nil
}

// CompleteReturn records that the items of an approved return arrived and
// restores their stock. The returned order's RefundOwed reports whether
// ProcessRefund should follow.
func (s *Service) CompleteReturn(ctx context.Context, id string) (_ *Order, err error) {
	ctx, span := s.startSpan(ctx, "CompleteReturn", id)
	defer func() { endSpan(span, err) }()

	o, err := s.mutate(ctx, id, "", func(ctx context.Context, tx Tx, o *Order) error {
		if err := o.completeReturn(s.clock()); err != nil {
			return err
		}
		return inventory.NewLedger(tx.Inventory()).ReleaseAll(ctx, o.Lines())
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, "complete_return", o)
	return o, nil
}

// ConfirmPaymentResult is the outcome of a payment webhook.
type ConfirmPaymentResult struct {
	Order *Order
	Event *payment.WebhookEvent
	// Duplicate is set when the delivery was already processed.
	Duplicate bool
}

// ConfirmPayment verifies a provider webhook and records the payment outcome
// on the order. Repeated deliveries are acknowledged without changes.
func (s *Service) ConfirmPayment(ctx context.Context, provider string, req payment.WebhookRequest) (_ *ConfirmPaymentResult, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmPayment", "")
	defer func() { endSpan(span, err) }()

	gateway, err := s.payments.ByName(provider)
	if err != nil {
		return nil, err
	}
	ev, err := gateway.ValidateWebhook(ctx, req)
	if err != nil {
		return nil, err
	}
	if ev.OrderID == "" {
		return nil, &ValidationError{Field: "order_reference", Reason: "is required"}
	}
	span.SetAttributes(orderIDAttr(ev.OrderID))

	var key string
	if s.replay != nil && ev.TransactionID != "" {
		key = "webhook:" + gateway.Name() + ":" + ev.TransactionID
		first, err := s.replay.Claim(ctx, key, s.opts.WebhookReplayTTL)
		if err != nil {
			return nil, errors.Wrap(err, "claim webhook")
		}
		if !first {
			return &ConfirmPaymentResult{Event: ev, Duplicate: true}, nil
		}
	}

	res := &ConfirmPaymentResult{Event: ev}
	err = s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		g, err := s.payments.For(o.PaymentMethod)
		if err != nil || g.Name() != gateway.Name() {
			return &ValidationError{Field: "provider", Reason: "order is not paid with " + gateway.Name()}
		}
		if ev.Paid {
			if !ev.Amount.Round(2).Equal(o.Total.Round(2)) {
				return &ValidationError{Field: "amount", Reason: "does not match order total"}
			}
			if ev.Currency != "" && o.Currency != "" && ev.Currency != o.Currency {
				return &ValidationError{Field: "currency", Reason: "does not match order currency"}
			}
		}
		res.Order = o
		if !o.confirmPayment(ev.Paid, ev.Reference, s.clock()) {
			res.Duplicate = true
			return nil
		}
		o.UpdatedAt = s.clock()
		return tx.Orders().Update(ctx, o)
	})
	if err != nil {
		if key != "" {
			if ferr := s.replay.Forget(ctx, key); ferr != nil {
				zctx.From(ctx).Warn("Forget webhook claim", zap.String("key", key), zap.Error(ferr))
			}
		}
		return nil, err
	}
	if !res.Duplicate {
		s.afterStatusChange(ctx, "confirm_payment", res.Order)
	}
	return res, nil
}

func (s *Service) afterStatusChange(ctx context.Context, op string, o *Order) {
	s.recordTransition(ctx, op, o)
	s.notify(ctx, op, o, func(ctx context.Context) error {
		return s.notifier.SendStatusChanged(ctx, o)
	})
}
