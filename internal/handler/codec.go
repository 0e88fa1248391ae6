package handler

import (
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &order.ValidationError{Field: "body", Reason: "too large"}
		}
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

func badBody(err error) error {
	return &order.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
}

type checkoutBody struct {
	AddressID     string
	CouponCode    string
	PaymentMethod string
	Notes         string
	Lines         []order.CartLine
}

func decodeCheckout(data []byte) (checkoutBody, error) {
	var b checkoutBody
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "address_id":
			b.AddressID, err = d.Str()
		case "coupon_code":
			b.CouponCode, err = optionalStr(d)
		case "payment_method":
			b.PaymentMethod, err = d.Str()
		case "notes":
			b.Notes, err = optionalStr(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var l order.CartLine
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "variant_id":
						l.VariantID, err = d.Str()
					case "quantity":
						l.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				b.Lines = append(b.Lines, l)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %s", key)
		}
		return nil
	})
	if err != nil {
		return b, badBody(err)
	}
	return b, nil
}

// decodeField returns the string value of one top-level field. An empty body
// yields an empty value.
func decodeField(data []byte, field string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var v string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != field {
			return d.Skip()
		}
		var err error
		if v, err = optionalStr(d); err != nil {
			return errors.Wrapf(err, "field %s", key)
		}
		return nil
	})
	if err != nil {
		return "", badBody(err)
	}
	return v, nil
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("return_status", func(e *jx.Encoder) { e.Str(o.ReturnStatus.String()) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.StringFixed(2)) })
		e.Field("shipping_cost", func(e *jx.Encoder) { e.Str(o.ShippingCost.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		if o.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		if o.ReturnReason != "" {
			e.Field("return_reason", func(e *jx.Encoder) { e.Str(o.ReturnReason) })
		}
		if o.ReturnRejectionReason != "" {
			e.Field("return_rejection_reason", func(e *jx.Encoder) { e.Str(o.ReturnRejectionReason) })
		}
		e.Field("refund_owed", func(e *jx.Encoder) { e.Bool(o.RefundOwed()) })
		e.Field("version", func(e *jx.Encoder) { e.Int(o.Version) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("variant_id", func(e *jx.Encoder) { e.Str(it.VariantID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.StringFixed(2)) })
						e.Field("subtotal", func(e *jx.Encoder) { e.Str(it.Subtotal.StringFixed(2)) })
					})
				}
			})
		})
		encodeTime(e, "paid_at", o.PaidAt)
		encodeTime(e, "shipped_at", o.ShippedAt)
		encodeTime(e, "delivered_at", o.DeliveredAt)
		encodeTime(e, "cancelled_at", o.CancelledAt)
		encodeTime(e, "return_requested_at", o.ReturnRequestedAt)
		encodeTime(e, "returned_at", o.ReturnedAt)
		encodeTime(e, "refunded_at", o.RefundedAt)
		encodeTime(e, "created_at", &o.CreatedAt)
	})
}

func encodeTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil || t.IsZero() {
		return
	}
	e.Field(field, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339)) })
}

func encodeEvaluation(e *jx.Encoder, ev *order.Evaluation) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(ev.Subtotal.StringFixed(2)) })
		e.Field("shipping_zone", func(e *jx.Encoder) { e.Str(ev.Shipping.Zone) })
		e.Field("shipping_cost", func(e *jx.Encoder) { e.Str(ev.ShippingCost.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(ev.Discount.StringFixed(2)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(ev.Total.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(ev.Currency) })
		if p := ev.Promotion; p != nil {
			e.Field("promotion", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
					e.Field("type", func(e *jx.Encoder) { e.Str(string(p.Type)) })
					if ev.CouponCode != "" {
						e.Field("coupon_code", func(e *jx.Encoder) { e.Str(ev.CouponCode) })
					}
				})
			})
		}
	})
}

func encodeRedirect(e *jx.Encoder, rd *payment.Redirect) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("provider", func(e *jx.Encoder) { e.Str(rd.Provider) })
		e.Field("url", func(e *jx.Encoder) { e.Str(rd.URL) })
		if rd.SessionID != "" {
			e.Field("session_id", func(e *jx.Encoder) { e.Str(rd.SessionID) })
		}
		if len(rd.Params) > 0 {
			e.Field("params", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, k := range slices.Sorted(maps.Keys(rd.Params)) {
						e.Field(k, func(e *jx.Encoder) { e.Str(rd.Params[k]) })
					}
				})
			})
		}
		if !rd.ExpiresAt.IsZero() {
			e.Field("expires_at", func(e *jx.Encoder) { e.Str(rd.ExpiresAt.UTC().Format(time.RFC3339)) })
		}
	})
}
