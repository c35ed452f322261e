package maps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/ehailing/internal/models"
)

type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coord) (string, error)
}

type CityLocator interface {
	City(ctx context.Context, ip string) (string, error)
}

// Resolver labels a pickup point, falling back from the geocoder to an IP
// city lookup and finally to the raw coordinates. It never fails.
type Resolver struct {
	Geocoder ReverseGeocoder // optional
	IPInfo   CityLocator     // optional
	Logger   *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Resolver) PickupLabel(ctx context.Context, c models.Coord, clientIP string) string {
	if r.Geocoder != nil {
		addr, err := r.Geocoder.ReverseGeocode(ctx, c)
		if err == nil && addr != "" {
			return addr
		}
		r.logger().Debug("reverse geocode failed", "error", err)
	}
	if r.IPInfo != nil {
		city, err := r.IPInfo.City(ctx, clientIP)
		if err == nil && city != "" {
			return city
		}
		r.logger().Debug("ip city lookup failed", "error", err)
	}
	return FormatCoord(c)
}

func FormatCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lng)
}
