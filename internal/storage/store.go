package storage

import (
	"context"
	"errors"

	"github.com/example/ehailing/internal/models"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrDriverBusy = errors.New("driver is already on a ride")
)

// Occupancy is a driver occupied-flag change committed together with a ride update.
type Occupancy struct {
	DriverID string
	Occupied bool
}

// Mutation edits r in place. A non-nil Occupancy is written in the same
// transaction as the ride; a returned error aborts both.
type Mutation func(r *models.Ride) (*Occupancy, error)

// RideStore defines persistence operations for the rides collection.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, id string, fn Mutation) (*models.Ride, error)
	// RecentRidesByUser returns at most limit rides ordered by createdAt desc.
	RecentRidesByUser(ctx context.Context, userID string, limit int) ([]*models.Ride, error)
	// RidesForDriver returns live rides targeting or assigned to driverID.
	RidesForDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error)
	Subscribe(fn func(*models.Ride)) (cancel func())
}

// DriverStore covers the drivers and driver_applications collections.
type DriverStore interface {
	GetDriver(ctx context.Context, uid string) (*models.DriverProfile, error)
	// UpdateDriver applies fn to the stored profile, starting from a blank one
	// when uid has none yet.
	UpdateDriver(ctx context.Context, uid string, fn func(p *models.DriverProfile) error) (*models.DriverProfile, error)
	SaveApplication(ctx context.Context, a *models.DriverApplication) error
	LatestApplication(ctx context.Context, uid string) (*models.DriverApplication, error)
}

type Store interface {
	RideStore
	DriverStore
}

func driverRideStatuses() []models.RideStatus {
	return []models.RideStatus{
		models.StatusDriverRequested,
		models.StatusDriverAssigned,
		models.StatusDriverArrived,
		models.StatusOnTrip,
	}
}
