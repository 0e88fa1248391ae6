package notify

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Notifier = (*Log)(nil)

// Log writes notifications to the context logger. It is used when no broker
// is configured.
type Log struct {
	f *Formatter
}

// NewLog returns a Log notifier.
func NewLog(f *Formatter) *Log {
	return &Log{f: f}
}

func (l *Log) log(ctx context.Context, kind Kind, o *order.Order, to ...order.Recipient) {
	for _, r := range to {
		ev := l.f.event(kind, o, r, time.Now())
		zctx.From(ctx).Info("Notification",
			zap.String("kind", string(ev.Kind)),
			zap.String("recipient", string(ev.Recipient)),
			zap.String("order_id", ev.OrderID),
			zap.String("subject", ev.Subject),
			zap.String("total", ev.DisplayTotal),
		)
	}
}

func (l *Log) SendOrderPlaced(ctx context.Context, o *order.Order) error {
	l.log(ctx, KindOrderPlaced, o, order.RecipientCustomer, order.RecipientAdmin)
	return nil
}

func (l *Log) SendOrderCancelled(ctx context.Context, o *order.Order, to order.Recipient) error {
	l.log(ctx, KindOrderCancelled, o, to)
	return nil
}

func (l *Log) SendReturnRequested(ctx context.Context, o *order.Order) error {
	l.log(ctx, KindReturnRequested, o, order.RecipientAdmin)
	return nil
}

func (l *Log) SendStatusChanged(ctx context.Context, o *order.Order) error {
	l.log(ctx, KindStatusChanged, o, order.RecipientCustomer)
	return nil
}
