package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ehailing/internal/geo"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/observability"
	"github.com/example/ehailing/internal/storage"
)

var (
	ErrNotApproved     = errors.New("driver is not approved")
	ErrInvalidPosition = errors.New("invalid driver position")
)

// Update is a partial presence write; nil fields keep their stored value.
type Update struct {
	Lat         *float64
	Lng         *float64
	Heading     *float64
	Online      *bool
	Occupied    *bool
	RideType    *models.RideType
	DisplayName *string
	Car         *string
}

// LocationPublisher receives every stored presence document.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, p models.Presence) error
}

type Service struct {
	Index     geo.Presence
	Drivers   storage.DriverStore
	Publisher LocationPublisher // optional
	Throttle  *Throttle         // optional
	Logger    *slog.Logger
	Now       func() time.Time
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

// UpsertDriverLive merges u into drivers_live/{uid}. The stored document
// always carries every field: rideType defaults to standard, heading to 0,
// and updatedAt is overwritten with server time.
func (s *Service) UpsertDriverLive(ctx context.Context, uid string, u Update) (models.Presence, error) {
	if uid == "" {
		return models.Presence{}, fmt.Errorf("%w: missing driver id", ErrInvalidPosition)
	}
	cur, err := s.Index.Get(ctx, uid)
	if err != nil && !errors.Is(err, geo.ErrUnknownDriver) {
		return models.Presence{}, err
	}
	cur.UID = uid
	merge(&cur, u)
	if !cur.Coord().Valid() {
		return models.Presence{}, fmt.Errorf("%w: %f,%f", ErrInvalidPosition, cur.Lat, cur.Lng)
	}
	if cur.RideType == "" {
		cur.RideType = models.RideStandard
	}
	cur.UpdatedAt = s.now()
	if err := s.Index.Upsert(ctx, cur); err != nil {
		return models.Presence{}, err
	}
	observability.PresenceWrites.WithLabelValues("written").Inc()
	if s.Publisher != nil {
		if err := s.Publisher.PublishLocation(ctx, cur); err != nil {
			s.logger().Warn("publish driver location failed", "driver_id", uid, "error", err)
		}
	}
	return cur, nil
}

func merge(p *models.Presence, u Update) {
	if u.Lat != nil {
		p.Lat = *u.Lat
	}
	if u.Lng != nil {
		p.Lng = *u.Lng
	}
	if u.Heading != nil {
		p.Heading = *u.Heading
	}
	if u.Online != nil {
		p.Online = *u.Online
	}
	if u.Occupied != nil {
		p.Occupied = *u.Occupied
	}
	if u.RideType != nil {
		p.RideType = *u.RideType
	}
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.Car != nil {
		p.Car = *u.Car
	}
}

// ReportLocation is the periodic position push from an online driver. It
// returns false when the report was dropped by the throttle. A failed write
// does not count against the throttle.
func (s *Service) ReportLocation(ctx context.Context, uid string, pos models.Coord, heading float64) (bool, error) {
	if !pos.Valid() {
		return false, fmt.Errorf("%w: %f,%f", ErrInvalidPosition, pos.Lat, pos.Lng)
	}
	if s.Throttle != nil && !s.Throttle.Allow(uid, pos, s.now()) {
		observability.PresenceWrites.WithLabelValues("throttled").Inc()
		return false, nil
	}
	if _, err := s.UpsertDriverLive(ctx, uid, Update{Lat: &pos.Lat, Lng: &pos.Lng, Heading: &heading}); err != nil {
		if s.Throttle != nil {
			s.Throttle.Forget(uid)
		}
		return false, err
	}
	return true, nil
}

// GoOnline marks an approved driver online at pos.
func (s *Service) GoOnline(ctx context.Context, uid string, pos models.Coord, heading float64) (models.Presence, error) {
	profile, err := s.Drivers.GetDriver(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Presence{}, ErrNotApproved
	}
	if err != nil {
		return models.Presence{}, err
	}
	if !profile.Approved {
		return models.Presence{}, ErrNotApproved
	}
	now := s.now()
	profile, err = s.Drivers.UpdateDriver(ctx, uid, func(p *models.DriverProfile) error {
		p.Online = true
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.Presence{}, err
	}
	online := true
	rt := profile.RideType
	if s.Throttle != nil {
		s.Throttle.Forget(uid)
	}
	p, err := s.UpsertDriverLive(ctx, uid, Update{
		Lat:         &pos.Lat,
		Lng:         &pos.Lng,
		Heading:     &heading,
		Online:      &online,
		Occupied:    &profile.Occupied,
		RideType:    &rt,
		DisplayName: &profile.Profile.FullName,
		Car:         &profile.Profile.Car,
	})
	if err != nil {
		return p, err
	}
	s.refreshOnlineGauge(ctx)
	s.logger().Info("driver online", "driver_id", uid, "ride_type", rt)
	return p, nil
}

func (s *Service) GoOffline(ctx context.Context, uid string) error {
	now := s.now()
	if _, err := s.Drivers.UpdateDriver(ctx, uid, func(p *models.DriverProfile) error {
		p.Online = false
		p.UpdatedAt = now
		return nil
	}); err != nil {
		return err
	}
	offline := false
	if _, err := s.Index.Get(ctx, uid); errors.Is(err, geo.ErrUnknownDriver) {
		return nil
	}
	if _, err := s.UpsertDriverLive(ctx, uid, Update{Online: &offline}); err != nil {
		return err
	}
	s.refreshOnlineGauge(ctx)
	s.logger().Info("driver offline", "driver_id", uid)
	return nil
}

// SetDriverBusy mirrors the committed occupancy flag onto the presence document.
func (s *Service) SetDriverBusy(ctx context.Context, uid string, busy bool) error {
	if _, err := s.Index.Get(ctx, uid); errors.Is(err, geo.ErrUnknownDriver) {
		return nil
	}
	_, err := s.UpsertDriverLive(ctx, uid, Update{Occupied: &busy})
	return err
}

// ListenOnlineDrivers calls cb with the online set now and after every
// presence change until the returned func is called or ctx ends.
func (s *Service) ListenOnlineDrivers(ctx context.Context, cb func([]models.Presence)) func() {
	deliver := func() {
		online, err := s.Index.Online(ctx)
		if err != nil {
			s.logger().Warn("list online drivers failed", "error", err)
			return
		}
		cb(online)
	}
	deliver()
	cancel := s.Index.Subscribe(func(models.Presence) {
		if ctx.Err() != nil {
			return
		}
		deliver()
	})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			cancel()
		})
	}
}

func (s *Service) refreshOnlineGauge(ctx context.Context) {
	if online, err := s.Index.Online(ctx); err == nil {
		observability.DriversOnline.Set(float64(len(online)))
	}
}
