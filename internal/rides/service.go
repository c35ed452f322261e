// Package rides is the ride store adapter: it turns rider and driver intents
// into FSM-checked ride document writes.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ehailing/internal/geo"
	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/observability"
	"github.com/example/ehailing/internal/pricing"
	"github.com/example/ehailing/internal/storage"
)

var ErrInvalidRide = errors.New("invalid ride request")

// EventSink receives every committed ride change.
type EventSink interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

// BusyMirror copies the committed occupancy flag onto the presence document.
type BusyMirror interface {
	SetDriverBusy(ctx context.Context, uid string, busy bool) error
}

type Service struct {
	Store    storage.RideStore
	Drivers  storage.DriverStore
	Presence BusyMirror // optional
	Events   EventSink  // optional
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
	// ActiveWindow is how many recent rides are scanned for the active one.
	ActiveWindow int
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

type SaveRideArgs struct {
	UserID          string
	RiderName       string
	PickupText      string
	DestinationText string
	Pickup          models.Coord
	Destination     models.Coord
	RideType        models.RideType
	// DistanceKm and EstimatedFareZAR are computed when nil.
	DistanceKm       *float64
	EstimatedFareZAR *int64
	DriverPreferred  string
}

// SaveRide creates a ride and returns its id. Repeated calls create
// repeated rides.
func (s *Service) SaveRide(ctx context.Context, args SaveRideArgs) (string, error) {
	if args.UserID == "" {
		return "", fmt.Errorf("%w: missing user id", ErrInvalidRide)
	}
	if !args.Pickup.Valid() || !args.Destination.Valid() {
		return "", fmt.Errorf("%w: bad coordinates", ErrInvalidRide)
	}
	rt, err := models.ParseRideType(string(args.RideType))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRide, err)
	}
	dist := geo.Distance(args.Pickup, args.Destination)
	if args.DistanceKm != nil {
		dist = *args.DistanceKm
	}
	fare := pricing.Estimate(dist, rt)
	if args.EstimatedFareZAR != nil {
		fare = *args.EstimatedFareZAR
	}
	now := s.now()
	r := &models.Ride{
		ID:               s.newID(),
		UserID:           args.UserID,
		RiderName:        args.RiderName,
		PickupText:       args.PickupText,
		DestinationText:  args.DestinationText,
		PickupLat:        args.Pickup.Lat,
		PickupLng:        args.Pickup.Lng,
		DestinationLat:   args.Destination.Lat,
		DestinationLng:   args.Destination.Lng,
		DistanceKm:       dist,
		EstimatedFareZAR: fare,
		RideType:         rt,
		Status:           lifecycle.InitialStatus(args.DriverPreferred != ""),
		Payment:          models.RidePayment{Status: models.PaymentPending},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if args.DriverPreferred != "" {
		p := args.DriverPreferred
		r.DriverPreferred = &p
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return "", err
	}
	observability.RidesCreated.WithLabelValues(string(rt)).Inc()
	s.logger().Info("ride created", "ride_id", r.ID, "user_id", r.UserID, "status", r.Status, "fare_zar", fare)
	s.emit(ctx, models.RideEvent{Type: models.RideCreated, Ride: r, To: r.Status, At: now})
	return r.ID, nil
}

func (s *Service) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return s.Store.GetRide(ctx, id)
}

// Response is a target, accept or decline on a ride. By is the rider for
// target and the responding driver otherwise; DriverID names the target.
type Response struct {
	By       string
	DriverID string
}

// DriverRespondToRequest is the single entry point for target, accept and
// decline. Only the targeted driver may accept or decline. Accept stores an
// immutable snapshot of the driver and marks them occupied in the same write.
func (s *Service) DriverRespondToRequest(ctx context.Context, rideID string, action lifecycle.Action, resp Response) (*models.Ride, error) {
	switch action {
	case lifecycle.ActionTarget:
		if resp.DriverID == "" {
			return nil, fmt.Errorf("%w: missing target driver", ErrInvalidRide)
		}
		return s.transition(ctx, rideID, action, lifecycle.ActorRider, func(r *models.Ride) (*storage.Occupancy, error) {
			if r.UserID != resp.By {
				return nil, notOwner(resp.By, rideID)
			}
			target := resp.DriverID
			r.DriverPreferred = &target
			return nil, nil
		})
	case lifecycle.ActionAccept:
		snap, err := s.snapshot(ctx, resp.By)
		if err != nil {
			return nil, err
		}
		return s.transition(ctx, rideID, action, lifecycle.ActorDriver, func(r *models.Ride) (*storage.Occupancy, error) {
			if r.DriverPreferred != nil && *r.DriverPreferred != snap.ID {
				return nil, notOwner(snap.ID, rideID)
			}
			r.Driver = snap
			r.DriverPreferred = nil
			return &storage.Occupancy{DriverID: snap.ID, Occupied: true}, nil
		})
	case lifecycle.ActionDecline:
		return s.transition(ctx, rideID, action, lifecycle.ActorDriver, func(r *models.Ride) (*storage.Occupancy, error) {
			if r.DriverPreferred != nil && *r.DriverPreferred != resp.By {
				return nil, notOwner(resp.By, rideID)
			}
			r.DriverPreferred = nil
			return nil, nil
		})
	}
	return nil, fmt.Errorf("%w: %s is not a driver response", lifecycle.ErrIllegalTransition, action)
}

func (s *Service) snapshot(ctx context.Context, driverID string) (*models.DriverSnapshot, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: missing driver", lifecycle.ErrForbiddenActor)
	}
	p, err := s.Drivers.GetDriver(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no driver profile", lifecycle.ErrForbiddenActor, driverID)
	}
	if err != nil {
		return nil, err
	}
	if !p.Approved {
		return nil, fmt.Errorf("%w: driver %s is not approved", lifecycle.ErrForbiddenActor, driverID)
	}
	rt := p.RideType
	if rt == "" {
		rt = models.RideStandard
	}
	return &models.DriverSnapshot{ID: p.UID, Name: p.Profile.FullName, Car: p.Profile.Car, RideType: rt}, nil
}

func (s *Service) DriverMarkArrived(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, lifecycle.ActionArrive, lifecycle.ActorDriver, assignedTo(driverID, rideID))
}

func (s *Service) DriverStartTrip(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, lifecycle.ActionStart, lifecycle.ActorDriver, assignedTo(driverID, rideID))
}

// RiderCompleteRide is called by the payment flow once the payout succeeded.
func (s *Service) RiderCompleteRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, lifecycle.ActionComplete, lifecycle.ActorPayment, func(r *models.Ride) (*storage.Occupancy, error) {
		r.Payment.Status = models.PaymentPaid
		if id := r.DriverID(); id != "" {
			return &storage.Occupancy{DriverID: id, Occupied: false}, nil
		}
		return nil, nil
	})
}

// CancelRide cancels a ride on behalf of its rider and frees an assigned driver.
func (s *Service) CancelRide(ctx context.Context, rideID, riderID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, lifecycle.ActionCancel, lifecycle.ActorRider, func(r *models.Ride) (*storage.Occupancy, error) {
		if r.UserID != riderID {
			return nil, notOwner(riderID, rideID)
		}
		r.DriverPreferred = nil
		if id := r.DriverID(); id != "" && lifecycle.OccupiesDriver(r.Status) {
			return &storage.Occupancy{DriverID: id, Occupied: false}, nil
		}
		return nil, nil
	})
}

func assignedTo(driverID, rideID string) storage.Mutation {
	return func(r *models.Ride) (*storage.Occupancy, error) {
		if r.DriverID() != driverID {
			return nil, notOwner(driverID, rideID)
		}
		return nil, nil
	}
}

func notOwner(who, rideID string) error {
	return fmt.Errorf("%w: %s is not a party to ride %s", lifecycle.ErrForbiddenActor, who, rideID)
}

// transition validates action against the FSM inside the store update so a
// concurrent writer always sees the committed status. check runs first and
// may return an occupancy change committed with the ride.
func (s *Service) transition(ctx context.Context, rideID string, action lifecycle.Action, actor lifecycle.Actor, check storage.Mutation) (*models.Ride, error) {
	var from models.RideStatus
	var occ *storage.Occupancy
	now := s.now()
	updated, err := s.Store.UpdateRide(ctx, rideID, func(r *models.Ride) (*storage.Occupancy, error) {
		from = r.Status
		next, err := lifecycle.Next(r.Status, action, actor)
		if err != nil {
			return nil, err
		}
		o, err := check(r)
		if err != nil {
			return nil, err
		}
		r.Status = next
		r.UpdatedAt = now
		occ = o
		return o, nil
	})
	if err != nil {
		observability.RideTransitionsRejected.WithLabelValues(string(action)).Inc()
		s.logger().Warn("ride transition rejected", "ride_id", rideID, "action", action, "actor", actor, "error", err)
		return nil, err
	}
	observability.RideTransitions.WithLabelValues(string(from), string(updated.Status)).Inc()
	s.logger().Info("ride transitioned", "ride_id", rideID, "from", from, "to", updated.Status)
	if occ != nil && s.Presence != nil {
		if err := s.Presence.SetDriverBusy(ctx, occ.DriverID, occ.Occupied); err != nil {
			s.logger().Warn("mirror driver occupancy failed", "driver_id", occ.DriverID, "error", err)
		}
	}
	s.emit(ctx, models.RideEvent{Type: models.RideTransitioned, Ride: updated, From: from, To: updated.Status, At: now})
	return updated, nil
}

func (s *Service) emit(ctx context.Context, ev models.RideEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishRideEvent(ctx, ev); err != nil {
		s.logger().Warn("publish ride event failed", "ride_id", ev.Ride.ID, "error", err)
	}
}
