package payment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeName = "stripe"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeConfig configures the Stripe Checkout gateway.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Clock         func() time.Time

	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// Stripe implements Gateway with Stripe Checkout sessions.
type Stripe struct {
	sessions      stripeSessionAPI
	refunds       stripeRefundAPI
	webhookSecret string
	successURL    string
	cancelURL     string
	now           func() time.Time
}

var _ Gateway = (*Stripe)(nil)

// NewStripe returns a Stripe gateway.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.sessions == nil || cfg.refunds == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(key, nil)
		cfg.sessions = sc.CheckoutSessions
		cfg.refunds = sc.Refunds
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Stripe{
		sessions:      cfg.sessions,
		refunds:       cfg.refunds,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		now:           func() time.Time { return now().UTC() },
	}, nil
}

func (s *Stripe) Name() string { return stripeName }

// BuildPaymentRedirect creates a Checkout session for the charge.
func (s *Stripe) BuildPaymentRedirect(ctx context.Context, c Charge) (*Redirect, error) {
	currency := strings.ToLower(c.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(c.OrderID),
		Metadata:          map[string]string{"order_id": c.OrderID, "order_number": c.OrderNumber},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": c.OrderID},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + c.OrderID)

	// One line carrying the order total, discounts and shipping included.
	params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(minorUnits(c.Amount)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String("Order " + c.OrderNumber),
			},
		},
	}}

	session, err := s.sessions.New(params)
	if err != nil {
		return nil, errors.Wrap(ErrGateway, "stripe: create checkout session: "+err.Error())
	}
	r := &Redirect{
		Provider:  stripeName,
		URL:       session.URL,
		SessionID: session.ID,
	}
	if session.ExpiresAt != 0 {
		r.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return r, nil
}

// ValidateWebhook verifies the Stripe-Signature header and maps checkout
// session events.
func (s *Stripe) ValidateWebhook(_ context.Context, req WebhookRequest) (*WebhookEvent, error) {
	sig := ""
	if req.Header != nil {
		sig = req.Header.Get("Stripe-Signature")
	}
	event, err := webhook.ConstructEvent(req.Body, sig, s.webhookSecret)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	var paid bool
	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		paid = true
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		paid = false
	default:
		return nil, errors.Wrapf(ErrNotApplicable, "stripe event %q", event.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, errors.Wrap(err, "decode checkout session")
	}
	if paid && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Completed but still awaiting an async payment method.
		return nil, errors.Wrapf(ErrNotApplicable, "session %s payment status %q", session.ID, session.PaymentStatus)
	}

	ev := &WebhookEvent{
		Provider:      stripeName,
		OrderID:       session.ClientReferenceID,
		TransactionID: event.ID,
		Reference:     session.ID,
		Paid:          paid,
		Amount:        decimal.New(session.AmountTotal, -2),
		Currency:      strings.ToUpper(string(session.Currency)),
		GatewayCode:   string(event.Type),
	}
	if ev.OrderID == "" {
		ev.OrderID = session.Metadata["order_id"]
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		ev.Reference = session.PaymentIntent.ID
	}
	return ev, nil
}

// Refund refunds the PaymentIntent stored as the order's payment reference.
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) RefundResult {
	if req.PaymentReference == "" {
		return failedRefund(stripeName, errors.New("stripe: order has no payment reference"), s.now())
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentReference),
		Amount:        stripe.Int64(minorUnits(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		Metadata:      map[string]string{"order_id": req.OrderID},
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.OrderID)

	refund, err := s.refunds.New(params)
	if err != nil {
		msg := err.Error()
		var se *stripe.Error
		if errors.As(err, &se) && se.Msg != "" {
			msg = se.Msg
		}
		return failedRefund(stripeName, errors.Wrap(ErrGateway, msg), s.now())
	}

	res := RefundResult{
		Provider:       stripeName,
		TransactionID:  refund.ID,
		OrderReference: req.OrderID,
		GatewayCode:    string(refund.Status),
		Amount:         decimal.New(refund.Amount, -2),
		Currency:       strings.ToUpper(string(refund.Currency)),
		ProcessedAt:    s.now(),
	}
	switch refund.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		res.Success = true
	default:
		res.Message = "stripe refund " + string(refund.Status)
		res.Cause = errors.Wrap(ErrGateway, res.Message)
	}
	return res
}
