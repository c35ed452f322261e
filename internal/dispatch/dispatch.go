// Package dispatch fans committed ride events out to connected clients and
// driver devices.
package dispatch

import (
	"context"
	"errors"

	"github.com/example/ehailing/internal/models"
)

// Sink receives ride events.
type Sink interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

// Multi delivers each event to every sink and joins their errors.
type Multi []Sink

func (m Multi) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PublishRideEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Parties returns the users who should hear about a ride change: the rider,
// the targeted driver and the assigned driver.
func Parties(r *models.Ride) []string {
	out := []string{r.UserID}
	if r.DriverPreferred != nil && *r.DriverPreferred != "" {
		out = append(out, *r.DriverPreferred)
	}
	if id := r.DriverID(); id != "" && (r.DriverPreferred == nil || *r.DriverPreferred != id) {
		out = append(out, id)
	}
	return out
}
