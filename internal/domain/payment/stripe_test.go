package payment

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type stubSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (s *stubSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1", ExpiresAt: testNow.Add(time.Hour).Unix()}, nil
}

type stubRefunds struct {
	params *stripe.RefundParams
	refund *stripe.Refund
	err    error
}

func (s *stubRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	s.params = params
	return s.refund, s.err
}

func newTestStripe(t *testing.T, sessions *stubSessions, refunds *stubRefunds) *Stripe {
	t.Helper()
	s, err := NewStripe(StripeConfig{
		WebhookSecret: "whsec_test",
		SuccessURL:    "https://shop.test/ok",
		CancelURL:     "https://shop.test/cancel",
		Clock:         func() time.Time { return testNow },
		sessions:      sessions,
		refunds:       refunds,
	})
	require.NoError(t, err)
	return s
}

func TestStripe_BuildPaymentRedirect(t *testing.T) {
	sessions := &stubSessions{}
	s := newTestStripe(t, sessions, &stubRefunds{})

	r, err := s.BuildPaymentRedirect(context.Background(), Charge{
		OrderID:     "ord-1",
		OrderNumber: "SO-1",
		Amount:      decimal.RequireFromString("950.5"),
		Currency:    "EGP",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", r.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", r.URL)
	assert.Equal(t, testNow.Add(time.Hour), r.ExpiresAt)

	require.Len(t, sessions.params.LineItems, 1)
	assert.Equal(t, int64(95050), *sessions.params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "egp", *sessions.params.LineItems[0].PriceData.Currency)
	assert.Equal(t, "ord-1", *sessions.params.ClientReferenceID)
}

func TestStripe_BuildPaymentRedirectError(t *testing.T) {
	s := newTestStripe(t, &stubSessions{err: errors.New("card_declined")}, &stubRefunds{})
	_, err := s.BuildPaymentRedirect(context.Background(), Charge{OrderID: "ord-1", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrGateway)
}

func signedStripeEvent(t *testing.T, eventType, paymentStatus string) WebhookRequest {
	t.Helper()
	payload := fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":`+
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"ord-1","amount_total":95000,`+
		`"currency":"egp","payment_status":%q,"payment_intent":"pi_1"}}}`, stripe.APIVersion, eventType, paymentStatus)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return WebhookRequest{Header: h, Body: signed.Payload}
}

func TestStripe_ValidateWebhook(t *testing.T) {
	s := newTestStripe(t, &stubSessions{}, &stubRefunds{})

	ev, err := s.ValidateWebhook(context.Background(), signedStripeEvent(t, "checkout.session.completed", "paid"))
	require.NoError(t, err)
	assert.True(t, ev.Paid)
	assert.Equal(t, "ord-1", ev.OrderID)
	assert.Equal(t, "pi_1", ev.Reference)
	assert.Equal(t, "evt_1", ev.TransactionID)
	assert.True(t, decimal.NewFromInt(950).Equal(ev.Amount))
	assert.Equal(t, "EGP", ev.Currency)

	ev, err = s.ValidateWebhook(context.Background(), signedStripeEvent(t, "checkout.session.async_payment_failed", "unpaid"))
	require.NoError(t, err)
	assert.False(t, ev.Paid)

	_, err = s.ValidateWebhook(context.Background(), signedStripeEvent(t, "customer.created", "paid"))
	require.ErrorIs(t, err, ErrNotApplicable)

	req := signedStripeEvent(t, "checkout.session.completed", "paid")
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	_, err = s.ValidateWebhook(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripe_Refund(t *testing.T) {
	refunds := &stubRefunds{refund: &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded, Amount: 95000, Currency: "egp"}}
	s := newTestStripe(t, &stubSessions{}, refunds)

	res := s.Refund(context.Background(), RefundRequest{OrderID: "ord-1", PaymentReference: "pi_1", Amount: decimal.NewFromInt(950)})
	require.True(t, res.Success)
	assert.Equal(t, "re_1", res.TransactionID)
	assert.Equal(t, "pi_1", *refunds.params.PaymentIntent)
	assert.Equal(t, int64(95000), *refunds.params.Amount)
	assert.True(t, decimal.NewFromInt(950).Equal(res.Amount))
}

func TestStripe_RefundFailures(t *testing.T) {
	t.Run("missing reference", func(t *testing.T) {
		res := newTestStripe(t, &stubSessions{}, &stubRefunds{}).Refund(context.Background(), RefundRequest{OrderID: "ord-1"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "no payment reference")
	})

	t.Run("api error message surfaced", func(t *testing.T) {
		refunds := &stubRefunds{err: &stripe.Error{Msg: "Charge ch_1 has already been refunded."}}
		res := newTestStripe(t, &stubSessions{}, refunds).Refund(context.Background(), RefundRequest{OrderID: "ord-1", PaymentReference: "pi_1"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "already been refunded")
		assert.ErrorIs(t, res.Cause, ErrGateway)
	})

	t.Run("failed status", func(t *testing.T) {
		refunds := &stubRefunds{refund: &stripe.Refund{ID: "re_2", Status: stripe.RefundStatusFailed}}
		res := newTestStripe(t, &stubSessions{}, refunds).Refund(context.Background(), RefundRequest{OrderID: "ord-1", PaymentReference: "pi_1"})
		assert.False(t, res.Success)
		assert.Equal(t, "stripe refund failed", res.Message)
	})
}
