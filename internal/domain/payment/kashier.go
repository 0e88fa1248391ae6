package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	kashierName           = "kashier"
	kashierApproved       = "APPROVED"
	kashierRefundSuccess  = "SUCCESS"
	kashierSignatureField = "hash"
)

// kashierSignedFields are the webhook fields covered by the signature, in
// the order they are concatenated.
var kashierSignedFields = []string{
	"amount",
	"cardOrderId",
	"currency",
	"gatewayCode",
	"gatewayMessage",
	"orderReference",
	"transactionId",
	"transactionResponseCode",
}

// KashierConfig configures the Kashier hosted payment gateway.
type KashierConfig struct {
	MerchantID string
	// APIKey signs redirects and verifies webhooks.
	APIKey string
	// SecretKey authorizes refund calls.
	SecretKey        string
	Mode             string
	CheckoutURL      string
	APIBaseURL       string
	MerchantRedirect string
	FailureRedirect  string
	WebhookURL       string
	HTTPClient       *http.Client
	Clock            func() time.Time
}

// Kashier implements Gateway for the Kashier hosted payment page.
type Kashier struct {
	cfg    KashierConfig
	client *http.Client
	now    func() time.Time
}

var _ Gateway = (*Kashier)(nil)

// NewKashier validates cfg and returns a Kashier gateway.
func NewKashier(cfg KashierConfig) (*Kashier, error) {
	if strings.TrimSpace(cfg.MerchantID) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("kashier: merchant id and api key are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = "test"
	}
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = "https://checkout.kashier.io"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://test-fep.kashier.io"
		if cfg.Mode == "live" {
			cfg.APIBaseURL = "https://fep.kashier.io"
		}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Kashier{cfg: cfg, client: client, now: func() time.Time { return now().UTC() }}, nil
}

func (k *Kashier) Name() string { return kashierName }

// redirectHash signs the order for the hosted payment page.
func (k *Kashier) redirectHash(orderID, amount, currency string) string {
	path := "/?payment=" + k.cfg.MerchantID + "." + orderID + "." + amount + "." + currency
	return sign(k.cfg.APIKey, path)
}

// BuildPaymentRedirect returns the signed hosted-checkout URL and its fields.
func (k *Kashier) BuildPaymentRedirect(_ context.Context, c Charge) (*Redirect, error) {
	amount := c.Amount.StringFixed(2)
	currency := strings.ToUpper(c.Currency)
	params := map[string]string{
		"merchantId":       k.cfg.MerchantID,
		"orderId":          c.OrderID,
		"amount":           amount,
		"currency":         currency,
		"hash":             k.redirectHash(c.OrderID, amount, currency),
		"mode":             k.cfg.Mode,
		"merchantRedirect": k.cfg.MerchantRedirect,
		"failureRedirect":  k.cfg.FailureRedirect,
		"serverWebhook":    k.cfg.WebhookURL,
		"redirectMethod":   "get",
		"display":          "en",
	}

	q := make(url.Values, len(params))
	for key, v := range params {
		q.Set(key, v)
	}
	return &Redirect{
		Provider: kashierName,
		URL:      strings.TrimRight(k.cfg.CheckoutURL, "/") + "/?" + q.Encode(),
		Params:   params,
	}, nil
}

// ValidateWebhook verifies the callback signature. Fields are read from the
// query string and from a JSON body, either flat or wrapped in "data".
func (k *Kashier) ValidateWebhook(_ context.Context, req WebhookRequest) (*WebhookEvent, error) {
	fields := make(map[string]string, len(kashierSignedFields)+1)
	for key := range req.Query {
		fields[key] = req.Query.Get(key)
	}
	if len(bytes.TrimSpace(req.Body)) > 0 {
		if err := decodeFlatFields(jx.DecodeBytes(req.Body), fields); err != nil {
			return nil, errors.Wrap(err, "decode kashier webhook")
		}
	}

	given := fields[kashierSignatureField]
	if given == "" && req.Header != nil {
		given = req.Header.Get("X-Kashier-Signature")
	}
	if given == "" {
		return nil, errors.Wrap(ErrInvalidSignature, "missing hash")
	}
	want := sign(k.cfg.APIKey, webhookSigningString(fields))
	if !hmac.Equal([]byte(strings.ToLower(given)), []byte(want)) {
		return nil, ErrInvalidSignature
	}

	ev := &WebhookEvent{
		Provider:      kashierName,
		OrderID:       fields["merchantOrderId"],
		TransactionID: fields["transactionId"],
		Reference:     fields["transactionId"],
		GatewayCode:   fields["gatewayCode"],
		Message:       fields["gatewayMessage"],
		Currency:      strings.ToUpper(fields["currency"]),
		Paid:          strings.EqualFold(fields["gatewayCode"], kashierApproved),
	}
	// orderReference is a Kashier id (TEST-ORD-...) when merchantOrderId is sent.
	if ev.OrderID == "" {
		ev.OrderID = fields["orderReference"]
	}
	if raw := fields["amount"]; raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parse amount %q", raw)
		}
		ev.Amount = amount
	}
	return ev, nil
}

// webhookSigningString joins the signed fields as an ordered query string.
func webhookSigningString(fields map[string]string) string {
	var b strings.Builder
	for i, key := range kashierSignedFields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(fields[key])
	}
	return b.String()
}

// Refund issues a REFUND operation for the order.
func (k *Kashier) Refund(ctx context.Context, req RefundRequest) RefundResult {
	body := encodeKashierRefund(req)
	endpoint := strings.TrimRight(k.cfg.APIBaseURL, "/") + "/v3/orders/" + url.PathEscape(req.OrderID) + "/"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return failedRefund(kashierName, errors.Wrap(err, "build refund request"), k.now())
	}
	httpReq.Header.Set("Authorization", k.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(httpReq)
	if err != nil {
		return failedRefund(kashierName, errors.Wrap(ErrGateway, err.Error()), k.now())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failedRefund(kashierName, errors.Wrap(ErrGateway, err.Error()), k.now())
	}

	res, err := decodeKashierRefund(raw)
	if err != nil {
		return failedRefund(kashierName, errors.Wrapf(ErrGateway, "status %d: decode response: %s", resp.StatusCode, err), k.now())
	}
	res.Provider = kashierName
	res.ProcessedAt = k.now()
	if resp.StatusCode >= 300 && res.Success {
		res.Success = false
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "refund rejected with status " + resp.Status
			res.Message = msg
		}
		res.Cause = errors.Wrap(ErrGateway, msg)
	}
	return res
}

func encodeKashierRefund(req RefundRequest) []byte {
	reason := req.Reason
	if reason == "" {
		reason = "Order " + req.OrderID + " refund"
	}
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("apiOperation")
	e.Str("REFUND")
	e.FieldStart("reason")
	e.Str(reason)
	e.FieldStart("transaction")
	e.ObjStart()
	e.FieldStart("amount")
	e.Str(req.Amount.StringFixed(2))
	e.ObjEnd()
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// decodeKashierRefund maps
// {"status":…,"response":{…},"messages":{"en":…}} into a RefundResult.
func decodeKashierRefund(raw []byte) (RefundResult, error) {
	var res RefundResult
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := scalarString(d)
			res.Success = strings.EqualFold(s, kashierRefundSuccess)
			return err
		case "response":
			fields := map[string]string{}
			if err := decodeFlatFields(d, fields); err != nil {
				return err
			}
			res.TransactionID = fields["transactionId"]
			res.OrderReference = fields["orderReference"]
			res.GatewayCode = fields["gatewayCode"]
			res.Currency = fields["currency"]
			if a := fields["amount"]; a != "" {
				amount, err := decimal.NewFromString(a)
				if err != nil {
					return errors.Wrapf(err, "amount %q", a)
				}
				res.Amount = amount
			}
			return nil
		case "messages":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, lang string) error {
				msg, err := scalarString(d)
				if err != nil {
					return err
				}
				if lang == "en" || res.Message == "" {
					res.Message = msg
				}
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return res, err
}

// decodeFlatFields reads scalar members of an object into dst. A nested
// "data" or "response" object is flattened into the same map.
func decodeFlatFields(d *jx.Decoder, dst map[string]string) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.Object:
			if key == "data" || key == "response" {
				return decodeFlatFields(d, dst)
			}
			return d.Skip()
		case jx.Array:
			return d.Skip()
		default:
			v, err := scalarString(d)
			if err != nil {
				return err
			}
			dst[key] = v
			return nil
		}
	})
}

func scalarString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		if b {
			return "true", nil
		}
		return "false", nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

func sign(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
