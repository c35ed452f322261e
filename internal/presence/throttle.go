package presence

import (
	"sync"
	"time"

	"github.com/example/ehailing/internal/geo"
	"github.com/example/ehailing/internal/models"
)

// Throttle limits location reports to one per MinInterval unless the
// driver moved at least MinDistanceM metres since the last accepted report.
type Throttle struct {
	MinInterval  time.Duration
	MinDistanceM float64

	mu   sync.Mutex
	last map[string]report
}

type report struct {
	at  time.Time
	pos models.Coord
}

func NewThrottle(interval time.Duration, distanceM float64) *Throttle {
	return &Throttle{MinInterval: interval, MinDistanceM: distanceM, last: make(map[string]report)}
}

// Allow records and accepts the report when it is due.
func (t *Throttle) Allow(uid string, pos models.Coord, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.last[uid]
	if seen {
		moved := geo.Haversine(prev.pos.Lat, prev.pos.Lng, pos.Lat, pos.Lng)
		if now.Sub(prev.at) < t.MinInterval && moved < t.MinDistanceM {
			return false
		}
	}
	t.last[uid] = report{at: now, pos: pos}
	return true
}

// Forget drops the driver's history so the next report is always accepted.
func (t *Throttle) Forget(uid string) {
	t.mu.Lock()
	delete(t.last, uid)
	t.mu.Unlock()
}
