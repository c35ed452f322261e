package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	stripe "github.com/stripe/stripe-go/v74"

	"github.com/example/ehailing/internal/callable"
	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
)

// fakeCalls answers by function name with a JSON result or an error.
type fakeCalls struct {
	results map[string]string
	errs    map[string]error
	calls   []string
	data    map[string]interface{}
}

func (f *fakeCalls) Call(_ context.Context, name string, data, out interface{}) error {
	f.calls = append(f.calls, name)
	if f.data == nil {
		f.data = make(map[string]interface{})
	}
	f.data[name] = data
	if err := f.errs[name]; err != nil {
		return err
	}
	if res, ok := f.results[name]; ok && out != nil {
		return json.Unmarshal([]byte(res), out)
	}
	return nil
}

type fakeRides struct {
	ride      *models.Ride
	completed bool
}

func (f *fakeRides) GetRide(_ context.Context, id string) (*models.Ride, error) {
	return f.ride.Clone(), nil
}

func (f *fakeRides) RiderCompleteRide(_ context.Context, id string) (*models.Ride, error) {
	f.completed = true
	f.ride.Status = models.StatusCompleted
	f.ride.Payment.Status = models.PaymentPaid
	return f.ride.Clone(), nil
}

func onTrip() *fakeRides {
	return &fakeRides{ride: &models.Ride{ID: "r1", UserID: "u1", Status: models.StatusOnTrip, EstimatedFareZAR: 47}}
}

func newOrchestrator(calls *fakeCalls, rides *fakeRides) *Orchestrator {
	return &Orchestrator{Calls: calls, Rides: rides, TopUp: &PayPal{Calls: calls}, Scheme: "ehailing"}
}

const paypalOrder = `{"orderId":"ORDER-1","approveLinks":[{"rel":"self","href":"https://x/self"},{"rel":"approve","href":"https://paypal.test/approve"}]}`

func TestStartRidePaymentPaid(t *testing.T) {
	calls := &fakeCalls{results: map[string]string{"payDriverOnComplete": `{"ok":true}`}}
	rides := onTrip()
	res, err := newOrchestrator(calls, rides).StartRidePayment(context.Background(), StartRidePaymentArgs{RideID: "r1", RiderID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPaid || !rides.completed || res.Ride.Payment.Status != models.PaymentPaid {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStartRidePaymentNeedsTopUp(t *testing.T) {
	calls := &fakeCalls{
		results: map[string]string{"createPayPalOrder": paypalOrder},
		errs: map[string]error{"payDriverOnComplete": &callable.Error{
			Function: "payDriverOnComplete", Status: "FAILED_PRECONDITION", Code: CodeInsufficientBalance,
		}},
	}
	rides := onTrip()
	res, err := newOrchestrator(calls, rides).StartRidePayment(context.Background(), StartRidePaymentArgs{RideID: "r1", RiderID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNeedTopUp || res.OrderID != "ORDER-1" || res.ApproveURL != "https://paypal.test/approve" {
		t.Fatalf("unexpected result %+v", res)
	}
	if rides.completed {
		t.Fatal("ride must not complete without payment")
	}
	req := calls.data["createPayPalOrder"].(map[string]interface{})
	if req["amount"] != 47.0 || req["returnUrl"] != "ehailing://paypal-return" || req["currency"] != "ZAR" {
		t.Fatalf("unexpected top-up request %v", req)
	}
}

func TestStartRidePaymentPropagatesOtherErrors(t *testing.T) {
	cases := []error{
		&callable.Error{Function: "payDriverOnComplete", Status: "INTERNAL", Message: "insufficient balance"},
		errors.New("network down"),
	}
	for _, payErr := range cases {
		calls := &fakeCalls{errs: map[string]error{"payDriverOnComplete": payErr}}
		_, err := newOrchestrator(calls, onTrip()).StartRidePayment(context.Background(), StartRidePaymentArgs{RideID: "r1", RiderID: "u1"})
		if !errors.Is(err, payErr) {
			t.Fatalf("expected %v propagated, got %v", payErr, err)
		}
		for _, c := range calls.calls {
			if c == "createPayPalOrder" {
				t.Fatal("top-up must not be offered for other errors")
			}
		}
	}
}

func TestCompleteRideAndPayGuards(t *testing.T) {
	calls := &fakeCalls{results: map[string]string{"payDriverOnComplete": `{"ok":true}`}}
	rides := onTrip()
	o := newOrchestrator(calls, rides)
	if _, err := o.CompleteRideAndPay(context.Background(), "r1", "intruder"); !errors.Is(err, lifecycle.ErrForbiddenActor) {
		t.Fatalf("expected ErrForbiddenActor, got %v", err)
	}
	rides.ride.Status = models.StatusDriverArrived
	if _, err := o.CompleteRideAndPay(context.Background(), "r1", "u1"); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if len(calls.calls) != 0 {
		t.Fatalf("payout called for a rejected ride: %v", calls.calls)
	}
}

func TestCompleteRideAndPayRejectedPayout(t *testing.T) {
	calls := &fakeCalls{results: map[string]string{"payDriverOnComplete": `{"ok":false}`}}
	rides := onTrip()
	if _, err := newOrchestrator(calls, rides).CompleteRideAndPay(context.Background(), "r1", "u1"); !errors.Is(err, ErrPayoutRejected) {
		t.Fatalf("expected ErrPayoutRejected, got %v", err)
	}
	if rides.completed {
		t.Fatal("ride completed after rejected payout")
	}
}

func TestOrderIDFromReturnURL(t *testing.T) {
	id, err := OrderIDFromReturnURL("ehailing://paypal-return?token=5O190127TN364715T&PayerID=ABC")
	if err != nil || id != "5O190127TN364715T" {
		t.Fatalf("got %q %v", id, err)
	}
	if _, err := OrderIDFromReturnURL("ehailing://paypal-return"); !errors.Is(err, ErrNoOrderID) {
		t.Fatalf("expected ErrNoOrderID, got %v", err)
	}
}

func TestCaptureTopUpOrder(t *testing.T) {
	calls := &fakeCalls{results: map[string]string{"capturePayPalOrder": `{"status":"COMPLETED","credited":100,"currency":"ZAR"}`}}
	c, err := newOrchestrator(calls, onTrip()).CaptureTopUpOrder(context.Background(), "u1", "ORDER-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != "COMPLETED" || c.Credited != 100 {
		t.Fatalf("unexpected capture %+v", c)
	}
}

func TestCreateTopUpRejectsNonPositive(t *testing.T) {
	o := newOrchestrator(&fakeCalls{}, onTrip())
	if _, err := o.CreateTopUpOrder(context.Background(), "u1", 0, "ZAR"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPayPalRequiresApproveLink(t *testing.T) {
	calls := &fakeCalls{results: map[string]string{"createPayPalOrder": `{"orderId":"O","approveLinks":[]}`}}
	if _, err := (&PayPal{Calls: calls}).CreateOrder(context.Background(), "u1", 10, "ZAR", "a://r", "a://c"); err == nil {
		t.Fatal("expected error without approval link")
	}
}

func TestWalletPassthroughs(t *testing.T) {
	calls := &fakeCalls{results: map[string]string{
		"getWalletBalance": `{"balance":250,"currency":"ZAR"}`,
		"getTransactions":  `{"items":[{"id":"t1","type":"credit","amount":100,"currency":"ZAR"}],"hasMore":true,"nextCursor":"t1"}`,
		"transferFunds":    `{"status":"ok"}`,
	}}
	o := newOrchestrator(calls, onTrip())
	ctx := context.Background()
	w, err := o.GetWalletBalance(ctx)
	if err != nil || w.Balance != 250 {
		t.Fatalf("balance %+v %v", w, err)
	}
	page, err := o.GetTransactions(ctx, 0, "")
	if err != nil || len(page.Items) != 1 || !page.HasMore || page.NextCursor != "t1" {
		t.Fatalf("page %+v %v", page, err)
	}
	if req := calls.data["getTransactions"].(map[string]interface{}); req["limit"] != 20 {
		t.Fatalf("default limit not applied: %v", req)
	}
	status, err := o.TransferFunds(ctx, TransferArgs{ToUID: "u2", Amount: 10})
	if err != nil || status != "ok" {
		t.Fatalf("transfer %q %v", status, err)
	}
	if _, err := o.TransferFunds(ctx, TransferArgs{ToUID: "u2", Amount: -1}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestStripeSuccessURL(t *testing.T) {
	if got := successURL("ehailing://paypal-return"); got != "ehailing://paypal-return?token={CHECKOUT_SESSION_ID}" {
		t.Fatalf("got %s", got)
	}
	if !strings.Contains(successURL("a://r?x=1"), "&token=") {
		t.Fatal("expected & separator")
	}
	if minorUnits(12.5) != 1250 {
		t.Fatalf("got %d", minorUnits(12.5))
	}
}

// fakeStripe keeps sessions in memory and counts captures.
type fakeStripe struct {
	sessions map[string]*stripe.CheckoutSession
	captured int
}

func (f *fakeStripe) NewSession(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	id := "cs_1"
	f.sessions[id] = &stripe.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.stripe.test/" + id,
		Metadata:      p.Metadata,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusRequiresCapture, Currency: "zar"},
	}
	return f.sessions[id], nil
}

func (f *fakeStripe) GetSession(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("no such session")
	}
	return s, nil
}

func (f *fakeStripe) CapturePaymentIntent(id string, _ *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.captured++
	for _, s := range f.sessions {
		if s.PaymentIntent.ID == id {
			s.PaymentIntent.Status = stripe.PaymentIntentStatusSucceeded
			s.PaymentIntent.AmountReceived = 15000
			return s.PaymentIntent, nil
		}
	}
	return nil, errors.New("no such intent")
}

func TestStripeCaptureCreditsWalletOfCreator(t *testing.T) {
	api := &fakeStripe{sessions: map[string]*stripe.CheckoutSession{}}
	calls := &fakeCalls{
		results: map[string]string{"creditWalletTopUp": `{"status":"COMPLETED","credited":150,"currency":"ZAR"}`},
		errs:    map[string]error{"creditWalletTopUp": errors.New("wallet function unavailable")},
	}
	sc := &StripeCheckout{Calls: calls, api: api}
	ctx := context.Background()

	order, err := sc.CreateOrder(ctx, "u1", 150, "ZAR", "ehailing://paypal-return", "ehailing://paypal-cancel")
	if err != nil || order.OrderID != "cs_1" {
		t.Fatalf("create %+v %v", order, err)
	}
	if _, err := sc.CaptureOrder(ctx, "u2", order.OrderID); !errors.Is(err, ErrForeignOrder) {
		t.Fatalf("expected ErrForeignOrder, got %v", err)
	}
	if api.captured != 0 || len(calls.calls) != 0 {
		t.Fatal("foreign capture touched the payment")
	}

	if _, err := sc.CaptureOrder(ctx, "u1", order.OrderID); err == nil {
		t.Fatal("expected error when the wallet credit fails")
	}
	delete(calls.errs, "creditWalletTopUp")
	c, err := sc.CaptureOrder(ctx, "u1", order.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Credited != 150 || c.Status != "COMPLETED" {
		t.Fatalf("unexpected capture %+v", c)
	}
	if api.captured != 1 {
		t.Fatalf("intent captured %d times", api.captured)
	}
	req := calls.data["creditWalletTopUp"].(map[string]interface{})
	if req["sessionId"] != "cs_1" || req["paymentIntentId"] != "pi_1" || req["amount"] != 150.0 || req["currency"] != "ZAR" {
		t.Fatalf("unexpected credit request %v", req)
	}
}
