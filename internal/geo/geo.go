package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/example/ehailing/internal/models"
)

var ErrUnknownDriver = errors.New("driver has no presence document")

// Presence is the drivers_live collection as seen by the adapters.
type Presence interface {
	Upsert(ctx context.Context, p models.Presence) error
	Get(ctx context.Context, uid string) (models.Presence, error)
	Online(ctx context.Context) ([]models.Presence, error)
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Presence, error)
	// Subscribe registers fn for every presence change; the returned func unregisters it.
	Subscribe(fn func(models.Presence)) (cancel func())
}

type Index struct {
	mu       sync.RWMutex
	drivers  map[string]models.Presence
	watchers map[int]func(models.Presence)
	nextID   int
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Presence), watchers: make(map[int]func(models.Presence))}
}

func (g *Index) Upsert(_ context.Context, p models.Presence) error {
	g.mu.Lock()
	g.drivers[p.UID] = p
	fns := g.snapshotWatchers()
	g.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
	return nil
}

func (g *Index) Get(_ context.Context, uid string) (models.Presence, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.drivers[uid]
	if !ok {
		return models.Presence{}, ErrUnknownDriver
	}
	return p, nil
}

func (g *Index) Online(_ context.Context) ([]models.Presence, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Presence, 0, len(g.drivers))
	for _, p := range g.drivers {
		if p.Online {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// Nearby is a naive scan over online drivers, nearest first.
func (g *Index) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Presence, error) {
	online, _ := g.Online(ctx)
	type pair struct {
		p    models.Presence
		dist float64
	}
	arr := make([]pair, 0, len(online))
	for _, p := range online {
		d := HaversineKm(lat, lng, p.Lat, p.Lng)
		if d > radiusKm {
			continue
		}
		arr = append(arr, pair{p, d})
	}
	sort.SliceStable(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Presence, 0, len(arr))
	for _, a := range arr {
		out = append(out, a.p)
	}
	return out, nil
}

func (g *Index) Subscribe(fn func(models.Presence)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.watchers[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.watchers, id)
		g.mu.Unlock()
	}
}

func (g *Index) snapshotWatchers() []func(models.Presence) {
	fns := make([]func(models.Presence), 0, len(g.watchers))
	for _, fn := range g.watchers {
		fns = append(fns, fn)
	}
	return fns
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) / 1000
}

// Distance between two coordinates in kilometres.
func Distance(a, b models.Coord) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}
