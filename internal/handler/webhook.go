package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
)

// PaymentWebhook verifies a provider callback and records the payment
// outcome. Repeated deliveries and events that carry no payment outcome are
// acknowledged with 200 so providers stop retrying them.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.orders.ConfirmPayment(r.Context(), provider, payment.WebhookRequest{
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
		Body:   body,
	})
	if errors.Is(err, payment.ErrNotApplicable) {
		zctx.From(r.Context()).Info("Webhook ignored", zap.String("provider", provider), zap.Error(err))
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("status", func(e *jx.Encoder) { e.Str("ignored") })
			})
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	lg := zctx.From(r.Context()).With(
		zap.String("provider", provider),
		zap.String("order_id", res.Event.OrderID),
		zap.String("transaction_id", res.Event.TransactionID),
	)
	if res.Duplicate {
		lg.Info("Duplicate webhook acknowledged")
	} else {
		lg.Info("Payment webhook processed", zap.Bool("paid", res.Event.Paid))
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			e.Field("duplicate", func(e *jx.Encoder) { e.Bool(res.Duplicate) })
			if res.Order != nil {
				e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(res.Order.PaymentStatus)) })
			}
		})
	})
}
