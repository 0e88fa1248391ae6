package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// APIError is a non-2xx response of the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return "api: " + http.StatusText(e.Status) + ": " + e.Message
}

// OrderState is the part of an order response printed by the CLI.
type OrderState struct {
	ID            string
	Number        string
	Status        string
	PaymentStatus string
	ReturnStatus  string
	Total         string
	RefundOwed    bool
}

// Client calls the storefront admin API.
type Client struct {
	base   *url.URL
	key    string
	client *http.Client
}

// NewClient returns a Client for the API at baseURL authenticating with key.
func NewClient(baseURL, key string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse api url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("api url %q must be absolute", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, key: key, client: hc}, nil
}

// OrderAction posts an admin action such as "ship" or "return/approve".
func (c *Client) OrderAction(ctx context.Context, orderID, action string, body map[string]string) (*OrderState, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/admin/orders/"+url.PathEscape(orderID)+"/"+action, body)
	if err != nil {
		return nil, err
	}
	return decodeOrderState(data)
}

// UpdateSetting stores a store setting.
func (c *Client) UpdateSetting(ctx context.Context, key, value string) error {
	_, err := c.do(ctx, http.MethodPut, "/api/admin/settings/"+url.PathEscape(key), map[string]string{"value": value})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]string) ([]byte, error) {
	var rd io.Reader
	if len(body) > 0 {
		e := jx.GetEncoder()
		defer jx.PutEncoder(e)
		e.Obj(func(e *jx.Encoder) {
			for k, v := range body {
				e.Field(k, func(e *jx.Encoder) { e.Str(v) })
			}
		})
		rd = bytes.NewReader(append([]byte(nil), e.Bytes()...))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("api_key", c.key)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func errorMessage(data []byte) string {
	var msg string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "message" {
			return d.Skip()
		}
		v, err := d.Str()
		msg = v
		return err
	})
	if err != nil || msg == "" {
		return strings.TrimSpace(string(data))
	}
	return msg
}

func decodeOrderState(data []byte) (*OrderState, error) {
	var o OrderState
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			o.ID, err = d.Str()
		case "number":
			o.Number, err = d.Str()
		case "status":
			o.Status, err = d.Str()
		case "payment_status":
			o.PaymentStatus, err = d.Str()
		case "return_status":
			o.ReturnStatus, err = d.Str()
		case "total":
			o.Total, err = d.Str()
		case "refund_owed":
			o.RefundOwed, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}
