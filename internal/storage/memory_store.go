package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ehailing/internal/models"
)

// MemoryStore keeps rides and drivers behind one mutex so a ride update and
// its occupancy change are applied atomically.
type MemoryStore struct {
	mu           sync.RWMutex
	rides        map[string]*models.Ride
	drivers      map[string]*models.DriverProfile
	applications map[string][]*models.DriverApplication
	watchers     map[int]func(*models.Ride)
	nextID       int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:        make(map[string]*models.Ride),
		drivers:      make(map[string]*models.DriverProfile),
		applications: make(map[string][]*models.DriverApplication),
		watchers:     make(map[int]func(*models.Ride)),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	m.rides[r.ID] = r.Clone()
	fns := m.snapshotWatchers()
	m.mu.Unlock()
	notify(fns, r)
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, id string, fn Mutation) (*models.Ride, error) {
	m.mu.Lock()
	cur, ok := m.rides[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	next := cur.Clone()
	occ, err := fn(next)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if occ != nil {
		d := m.drivers[occ.DriverID]
		if d == nil {
			d = &models.DriverProfile{UID: occ.DriverID}
		}
		if occ.Occupied && d.Occupied {
			m.mu.Unlock()
			return nil, ErrDriverBusy
		}
		cp := *d
		cp.Occupied = occ.Occupied
		cp.UpdatedAt = next.UpdatedAt
		m.drivers[occ.DriverID] = &cp
	}
	m.rides[id] = next
	fns := m.snapshotWatchers()
	m.mu.Unlock()
	notify(fns, next)
	return next.Clone(), nil
}

func (m *MemoryStore) RecentRidesByUser(_ context.Context, userID string, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) RidesForDriver(_ context.Context, driverID string, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	live := make(map[models.RideStatus]bool)
	for _, s := range driverRideStatuses() {
		live[s] = true
	}
	var out []*models.Ride
	for _, r := range m.rides {
		if !live[r.Status] {
			continue
		}
		targeted := r.Status == models.StatusDriverRequested && r.DriverPreferred != nil && *r.DriverPreferred == driverID
		if targeted || r.DriverID() == driverID {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) Subscribe(fn func(*models.Ride)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *MemoryStore) GetDriver(_ context.Context, uid string) (*models.DriverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDriver(_ context.Context, uid string, fn func(p *models.DriverProfile) error) (*models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := models.DriverProfile{UID: uid}
	if d, ok := m.drivers[uid]; ok {
		cp = *d
	}
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UID = uid
	m.drivers[uid] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) SaveApplication(_ context.Context, a *models.DriverApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	for i, existing := range m.applications[a.UID] {
		if existing.ID == a.ID {
			m.applications[a.UID][i] = &cp
			return nil
		}
	}
	m.applications[a.UID] = append(m.applications[a.UID], &cp)
	return nil
}

func (m *MemoryStore) LatestApplication(_ context.Context, uid string) (*models.DriverApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	apps := m.applications[uid]
	if len(apps) == 0 {
		return nil, ErrNotFound
	}
	cp := *apps[len(apps)-1]
	return &cp, nil
}

func (m *MemoryStore) snapshotWatchers() []func(*models.Ride) {
	fns := make([]func(*models.Ride), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(*models.Ride), r *models.Ride) {
	for _, fn := range fns {
		fn(r.Clone())
	}
}

func sortNewestFirst(rs []*models.Ride) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID > rs[j].ID
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}

func truncate(rs []*models.Ride, limit int) []*models.Ride {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}
