package matcher

import (
	"context"
	"sort"

	"github.com/example/ehailing/internal/eta"
	"github.com/example/ehailing/internal/geo"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/observability"
)

type Geo interface {
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Presence, error)
}

// Candidate is one driver offered to the rider.
type Candidate struct {
	Driver     models.Presence `json:"driver"`
	DistanceKm float64         `json:"distanceKm"`
	TypeMatch  bool            `json:"typeMatch"`
	ETASeconds float64         `json:"etaSeconds"`
}

// Service builds the greedy candidate list. It never reserves a driver:
// two riders may pick the same one and the driver's response settles it.
type Service struct {
	Geo             Geo
	RadiusKm        float64
	Limit           int
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional routing client
	ETACache        *eta.Cache // optional ETA cache
}

func (s *Service) Candidates(ctx context.Context, pickup models.Coord, rideType models.RideType) ([]Candidate, error) {
	radius := s.RadiusKm
	if radius <= 0 {
		radius = 10
	}
	near, err := s.Geo.Nearby(ctx, pickup.Lat, pickup.Lng, radius, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(near))
	for _, d := range near {
		if !d.Online || d.Occupied {
			continue
		}
		dist := geo.Distance(pickup, d.Coord())
		if dist > radius {
			continue
		}
		out = append(out, Candidate{
			Driver:     d,
			DistanceKm: dist,
			TypeMatch:  d.RideType == rideType,
			ETASeconds: s.etaSeconds(ctx, d.Coord(), pickup),
		})
	}
	Rank(out)
	if s.Limit > 0 && len(out) > s.Limit {
		out = out[:s.Limit]
	}
	observability.CandidateListSize.Observe(float64(len(out)))
	return out, nil
}

// Rank orders candidates by ride-type match, then distance, then uid.
func Rank(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].TypeMatch != cs[j].TypeMatch {
			return cs[i].TypeMatch
		}
		if cs[i].DistanceKm != cs[j].DistanceKm {
			return cs[i].DistanceKm < cs[j].DistanceKm
		}
		return cs[i].Driver.UID < cs[j].Driver.UID
	})
}

func (s *Service) etaSeconds(ctx context.Context, from, to models.Coord) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(ctx, from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	// fallback to naive estimator
	return eta.EstimateSeconds(from, to, s.DefaultSpeedMps)
}
