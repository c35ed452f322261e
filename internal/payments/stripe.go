package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

const metadataUID = "uid"

// ErrForeignOrder is returned when a caller captures a top-up someone else created.
var ErrForeignOrder = errors.New("top-up order belongs to another user")

// stripeAPI is the slice of Stripe the checkout flow calls.
type stripeAPI interface {
	NewSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CapturePaymentIntent(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

type stripeClient struct{}

func (stripeClient) NewSession(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.New(p)
}

func (stripeClient) GetSession(id string, p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.Get(id, p)
}

func (stripeClient) CapturePaymentIntent(id string, p *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Capture(id, p)
}

// StripeCheckout is the card alternative to PayPal. The order id is the
// Checkout Session id. On return the held PaymentIntent is captured and the
// creditWalletTopUp function credits the wallet.
type StripeCheckout struct {
	Calls Caller
	api   stripeAPI
}

// NewStripeCheckout initializes stripe-go with the account's secret key.
func NewStripeCheckout(apiKey string, calls Caller) *StripeCheckout {
	stripe.Key = apiKey
	return &StripeCheckout{Calls: calls, api: stripeClient{}}
}

// successURL appends the session placeholder Stripe substitutes on redirect
// so OrderIDFromReturnURL works for both providers.
func successURL(returnURL string) string {
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "token={CHECKOUT_SESSION_ID}"
}

// minorUnits converts a ZAR amount to cents.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateOrder opens a Checkout Session with capture_method=manual so funds
// are only held until CaptureOrder. The creating user is stored in the
// session metadata.
func (s *StripeCheckout) CreateOrder(ctx context.Context, uid string, amount float64, currency, returnURL, cancelURL string) (Order, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL(returnURL)),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(uid),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(currency)),
				UnitAmount:  stripe.Int64(minorUnits(amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String("Wallet top-up")},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			Metadata:      map[string]string{metadataUID: uid},
		},
	}
	params.AddMetadata(metadataUID, uid)
	params.Context = ctx
	sess, err := s.api.NewSession(params)
	if err != nil {
		return Order{}, err
	}
	return Order{OrderID: sess.ID, ApproveURL: sess.URL}, nil
}

// CaptureOrder captures the PaymentIntent held by uid's session and credits
// the wallet. An intent that was already captured is only credited, so a
// capture whose credit failed can be retried.
func (s *StripeCheckout) CaptureOrder(ctx context.Context, uid, orderID string) (Capture, error) {
	get := &stripe.CheckoutSessionParams{}
	get.AddExpand("payment_intent")
	get.Context = ctx
	sess, err := s.api.GetSession(orderID, get)
	if err != nil {
		return Capture{}, err
	}
	if sess.Metadata[metadataUID] != uid {
		return Capture{}, fmt.Errorf("%w: %s", ErrForeignOrder, orderID)
	}
	pi := sess.PaymentIntent
	if pi == nil {
		return Capture{}, fmt.Errorf("checkout session %s has no payment intent", orderID)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		capture := &stripe.PaymentIntentCaptureParams{}
		capture.Context = ctx
		if pi, err = s.api.CapturePaymentIntent(pi.ID, capture); err != nil {
			return Capture{}, err
		}
	}

	var out Capture
	err = s.Calls.Call(ctx, "creditWalletTopUp", map[string]interface{}{
		"sessionId":       orderID,
		"paymentIntentId": pi.ID,
		"amount":          float64(pi.AmountReceived) / 100,
		"currency":        strings.ToUpper(string(pi.Currency)),
	}, &out)
	if err != nil {
		return Capture{}, fmt.Errorf("credit wallet for %s: %w", orderID, err)
	}
	return out, nil
}
