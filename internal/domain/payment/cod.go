package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// CashOnDelivery needs no redirect, receives no webhooks and is never
// refunded through a provider.
type CashOnDelivery struct{}

var _ Gateway = CashOnDelivery{}

func (CashOnDelivery) Name() string { return "cod" }

func (CashOnDelivery) BuildPaymentRedirect(context.Context, Charge) (*Redirect, error) {
	return nil, nil
}

func (CashOnDelivery) ValidateWebhook(context.Context, WebhookRequest) (*WebhookEvent, error) {
	return nil, errors.Wrap(ErrNotApplicable, "cash on delivery has no webhooks")
}

func (CashOnDelivery) Refund(context.Context, RefundRequest) RefundResult {
	return failedRefund("cod", errors.Wrap(ErrNotApplicable, "cash on delivery orders are refunded manually"), time.Now().UTC())
}
