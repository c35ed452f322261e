package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoOrderID = errors.New("return url carries no order token")

// Order is a created top-up awaiting the user's approval in a browser.
type Order struct {
	OrderID    string `json:"orderId"`
	ApproveURL string `json:"approveUrl"`
}

// Capture is the outcome of capturing an approved top-up.
type Capture struct {
	Status   string  `json:"status"`
	Credited float64 `json:"credited"`
	Currency string  `json:"currency"`
}

// TopUpProvider runs the two-phase create/capture top-up flow for uid.
// Capture credits the wallet before it returns.
type TopUpProvider interface {
	CreateOrder(ctx context.Context, uid string, amount float64, currency, returnURL, cancelURL string) (Order, error)
	CaptureOrder(ctx context.Context, uid, orderID string) (Capture, error)
}

// OrderIDFromReturnURL extracts the token query parameter from the
// <scheme>://paypal-return redirect.
func OrderIDFromReturnURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse return url: %w", err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		return "", ErrNoOrderID
	}
	return tok, nil
}

// ReturnURLs builds the deep links the checkout page redirects back to.
func ReturnURLs(scheme string) (returnURL, cancelURL string) {
	return scheme + "://paypal-return", scheme + "://paypal-cancel"
}

// PayPal creates and captures orders through the createPayPalOrder and
// capturePayPalOrder functions. Both identify the user from the forwarded
// ID token and capturePayPalOrder credits the wallet itself.
type PayPal struct {
	Calls Caller
}

type approveLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

func (p *PayPal) CreateOrder(ctx context.Context, _ string, amount float64, currency, returnURL, cancelURL string) (Order, error) {
	var out struct {
		OrderID      string        `json:"orderId"`
		ApproveLinks []approveLink `json:"approveLinks"`
	}
	err := p.Calls.Call(ctx, "createPayPalOrder", map[string]interface{}{
		"amount":    amount,
		"currency":  currency,
		"returnUrl": returnURL,
		"cancelUrl": cancelURL,
	}, &out)
	if err != nil {
		return Order{}, err
	}
	o := Order{OrderID: out.OrderID}
	for _, l := range out.ApproveLinks {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			o.ApproveURL = l.Href
			break
		}
	}
	if o.OrderID == "" || o.ApproveURL == "" {
		return Order{}, fmt.Errorf("createPayPalOrder returned no approval link for order %q", out.OrderID)
	}
	return o, nil
}

func (p *PayPal) CaptureOrder(ctx context.Context, _, orderID string) (Capture, error) {
	var out Capture
	err := p.Calls.Call(ctx, "capturePayPalOrder", map[string]string{"orderId": orderID}, &out)
	return out, err
}
