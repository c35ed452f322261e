package rides

import (
	"context"
	"sync"

	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
)

const defaultActiveWindow = 5

// ActiveRide returns the newest active ride among the user's most recent
// rides, or nil when none is active.
func (s *Service) ActiveRide(ctx context.Context, userID string) (*models.Ride, error) {
	window := s.ActiveWindow
	if window <= 0 {
		window = defaultActiveWindow
	}
	recent, err := s.Store.RecentRidesByUser(ctx, userID, window)
	if err != nil {
		return nil, err
	}
	for _, r := range recent {
		if lifecycle.IsActive(r.Status) {
			return r, nil
		}
	}
	return nil, nil
}

// ListenUserActiveRide calls cb with the user's active ride (nil when none)
// on subscribe and again whenever one of the user's rides changes. Each
// delivery re-reads the store under the listener's lock, so the last value
// delivered is never older than the last committed change.
func (s *Service) ListenUserActiveRide(ctx context.Context, userID string, cb func(*models.Ride)) (func(), error) {
	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()
	cancel := s.Store.Subscribe(func(r *models.Ride) {
		if r.UserID != userID || ctx.Err() != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		cur, err := s.ActiveRide(ctx, userID)
		if err != nil {
			s.logger().Warn("active ride refresh failed", "user_id", userID, "error", err)
			return
		}
		cb(cur)
	})
	active, err := s.ActiveRide(ctx, userID)
	if err != nil {
		cancel()
		return nil, err
	}
	cb(active)
	return scoped(ctx, cancel), nil
}

// ListenDriverRequests calls cb with the rides currently targeting or
// assigned to driverID.
func (s *Service) ListenDriverRequests(ctx context.Context, driverID string, cb func([]*models.Ride)) (func(), error) {
	window := s.ActiveWindow
	if window <= 0 {
		window = defaultActiveWindow
	}
	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()
	var known map[string]bool
	cancel := s.Store.Subscribe(func(r *models.Ride) {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		relevant := known[r.ID] || r.DriverID() == driverID ||
			(r.DriverPreferred != nil && *r.DriverPreferred == driverID)
		if !relevant {
			return
		}
		rides, err := s.Store.RidesForDriver(ctx, driverID, window)
		if err != nil {
			s.logger().Warn("driver requests refresh failed", "driver_id", driverID, "error", err)
			return
		}
		known = rideIDs(rides)
		cb(rides)
	})
	current, err := s.Store.RidesForDriver(ctx, driverID, window)
	if err != nil {
		cancel()
		return nil, err
	}
	known = rideIDs(current)
	cb(current)
	return scoped(ctx, cancel), nil
}

func rideIDs(rs []*models.Ride) map[string]bool {
	out := make(map[string]bool, len(rs))
	for _, r := range rs {
		out[r.ID] = true
	}
	return out
}

// scoped ties a store subscription to ctx and makes cancel idempotent.
func scoped(ctx context.Context, cancel func()) func() {
	var once sync.Once
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			once.Do(cancel)
		case <-stop:
		}
	}()
	return func() {
		once.Do(func() {
			close(stop)
			cancel()
		})
	}
}
