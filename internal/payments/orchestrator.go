// Package payments moves money through the remote wallet functions and the
// top-up providers. Every debit and credit happens server side.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ehailing/internal/callable"
	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/observability"
)

const CodeInsufficientBalance = "INSUFFICIENT_BALANCE"

var (
	ErrPayoutRejected = errors.New("driver payout was not accepted")
	ErrInvalidAmount  = errors.New("amount must be positive")
)

// Caller invokes a named remote function.
type Caller interface {
	Call(ctx context.Context, name string, data, out interface{}) error
}

// RideCompleter is the slice of the ride adapter the payment flow needs.
type RideCompleter interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	RiderCompleteRide(ctx context.Context, rideID string) (*models.Ride, error)
}

type Status string

const (
	StatusPaid      Status = "PAID"
	StatusNeedTopUp Status = "NEED_TOP_UP"
)

// Result is what StartRidePayment hands back to the rider.
type Result struct {
	Status     Status       `json:"status"`
	Ride       *models.Ride `json:"ride,omitempty"`
	OrderID    string       `json:"orderId,omitempty"`
	ApproveURL string       `json:"approveUrl,omitempty"`
}

type Orchestrator struct {
	Calls  Caller
	Rides  RideCompleter
	TopUp  TopUpProvider
	Scheme string // deep-link scheme for top-up redirects
	Logger *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// CompleteRideAndPay pays the driver for an on-trip ride and, on success,
// completes it with payment.status=paid.
func (o *Orchestrator) CompleteRideAndPay(ctx context.Context, rideID, riderID string) (*models.Ride, error) {
	r, err := o.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.UserID != riderID {
		return nil, fmt.Errorf("%w: %s does not own ride %s", lifecycle.ErrForbiddenActor, riderID, rideID)
	}
	if !lifecycle.Allowed(r.Status, lifecycle.ActionComplete) {
		return nil, fmt.Errorf("%w: cannot pay for ride in %s", lifecycle.ErrIllegalTransition, r.Status)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := o.Calls.Call(ctx, "payDriverOnComplete", map[string]string{"rideId": rideID}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("%w: ride %s", ErrPayoutRejected, rideID)
	}
	return o.Rides.RiderCompleteRide(ctx, rideID)
}

type StartRidePaymentArgs struct {
	RideID  string
	RiderID string
	// TopUpAmount is offered when the wallet is short; defaults to the fare.
	TopUpAmount float64
	Currency    string
}

// StartRidePayment tries the payout and falls back to a top-up offer only
// when the wallet reports INSUFFICIENT_BALANCE. Other errors are returned.
func (o *Orchestrator) StartRidePayment(ctx context.Context, args StartRidePaymentArgs) (Result, error) {
	r, err := o.CompleteRideAndPay(ctx, args.RideID, args.RiderID)
	if err == nil {
		observability.Payments.WithLabelValues("paid").Inc()
		o.logger().Info("ride paid", "ride_id", args.RideID)
		return Result{Status: StatusPaid, Ride: r}, nil
	}
	if !callable.HasCode(err, CodeInsufficientBalance) {
		observability.Payments.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	amount := args.TopUpAmount
	if amount <= 0 {
		ride, gerr := o.Rides.GetRide(ctx, args.RideID)
		if gerr != nil {
			return Result{}, gerr
		}
		amount = float64(ride.EstimatedFareZAR)
	}
	order, err := o.CreateTopUpOrder(ctx, args.RiderID, amount, args.Currency)
	if err != nil {
		observability.Payments.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("start top-up after insufficient balance: %w", err)
	}
	observability.Payments.WithLabelValues("need_top_up").Inc()
	o.logger().Info("ride payment needs top-up", "ride_id", args.RideID, "order_id", order.OrderID)
	return Result{Status: StatusNeedTopUp, OrderID: order.OrderID, ApproveURL: order.ApproveURL}, nil
}

// CreateTopUpOrder starts a top-up whose checkout redirects to the app's
// deep links.
func (o *Orchestrator) CreateTopUpOrder(ctx context.Context, uid string, amount float64, currency string) (Order, error) {
	if amount <= 0 {
		return Order{}, ErrInvalidAmount
	}
	if currency == "" {
		currency = "ZAR"
	}
	ret, cancel := ReturnURLs(o.Scheme)
	return o.TopUp.CreateOrder(ctx, uid, amount, currency, ret, cancel)
}

func (o *Orchestrator) CaptureTopUpOrder(ctx context.Context, uid, orderID string) (Capture, error) {
	c, err := o.TopUp.CaptureOrder(ctx, uid, orderID)
	if err != nil {
		return Capture{}, err
	}
	o.logger().Info("top-up captured", "order_id", orderID, "status", c.Status, "credited", c.Credited)
	return c, nil
}
