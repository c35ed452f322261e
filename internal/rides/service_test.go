package rides

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.RideEvent
}

func (r *recordingSink) PublishRideEvent(_ context.Context, ev models.RideEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

type busyRecorder struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (b *busyRecorder) SetDriverBusy(_ context.Context, uid string, busy bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = make(map[string]bool)
	}
	b.calls[uid] = busy
	return nil
}

type fixture struct {
	svc   *Service
	store *storage.MemoryStore
	sink  *recordingSink
	busy  *busyRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	busy := &busyRecorder{}
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	svc := &Service{
		Store:    store,
		Drivers:  store,
		Presence: busy,
		Events:   sink,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("ride-%d", n)
		},
	}
	for _, id := range []string{"d1", "d2"} {
		id := id
		_, _ = store.UpdateDriver(context.Background(), id, func(p *models.DriverProfile) error {
			p.Approved = true
			p.RideType = models.RideStandard
			p.Profile = models.DriverDetails{FullName: "Driver " + id, Car: "Polo"}
			return nil
		})
	}
	return &fixture{svc: svc, store: store, sink: sink, busy: busy}
}

var (
	pickup = models.Coord{Lat: -26.20, Lng: 28.05}
	// 5 km due north of pickup.
	fiveKm = models.Coord{Lat: -26.20 + 5/111.19492664455873, Lng: 28.05}
)

func (f *fixture) save(t *testing.T, user, preferred string) string {
	t.Helper()
	id, err := f.svc.SaveRide(context.Background(), SaveRideArgs{
		UserID: user, Pickup: pickup, Destination: fiveKm, RideType: models.RideStandard, DriverPreferred: preferred,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSaveRideComputesDistanceAndFare(t *testing.T) {
	f := newFixture(t)
	id := f.save(t, "u1", "")
	r, err := f.store.GetRide(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(r.DistanceKm-5.0) > 0.01 {
		t.Fatalf("distance %f, want ~5", r.DistanceKm)
	}
	if r.EstimatedFareZAR != 47 {
		t.Fatalf("fare %d, want 47", r.EstimatedFareZAR)
	}
	if r.Status != models.StatusRequested || r.Driver != nil || r.Payment.Status != models.PaymentPending {
		t.Fatalf("unexpected initial ride %+v", r)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Type != models.RideCreated {
		t.Fatalf("expected one created event, got %+v", f.sink.events)
	}
}

func TestSaveRideWithPreferredDriver(t *testing.T) {
	f := newFixture(t)
	id := f.save(t, "u1", "d1")
	r, _ := f.store.GetRide(context.Background(), id)
	if r.Status != models.StatusDriverRequested || r.DriverPreferred == nil || *r.DriverPreferred != "d1" {
		t.Fatalf("unexpected ride %+v", r)
	}
}

func TestSaveRideRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []SaveRideArgs{
		{Pickup: pickup, Destination: fiveKm},
		{UserID: "u1", Pickup: models.Coord{Lat: 91}, Destination: fiveKm},
		{UserID: "u1", Pickup: pickup, Destination: fiveKm, RideType: "limo"},
	}
	for _, c := range cases {
		if _, err := f.svc.SaveRide(ctx, c); !errors.Is(err, ErrInvalidRide) {
			t.Fatalf("%+v: expected ErrInvalidRide, got %v", c, err)
		}
	}
}

func TestDuplicateSubmitsCreateDuplicateRides(t *testing.T) {
	f := newFixture(t)
	a := f.save(t, "u1", "")
	b := f.save(t, "u1", "")
	if a == b {
		t.Fatal("expected distinct ride ids")
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "")

	if _, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionTarget, Response{By: "u1", DriverID: "d1"}); err != nil {
		t.Fatal(err)
	}
	r, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusDriverAssigned || r.Driver == nil || r.Driver.ID != "d1" || r.Driver.Name != "Driver d1" {
		t.Fatalf("unexpected accepted ride %+v", r)
	}
	if r.DriverPreferred != nil {
		t.Fatal("driverPreferred should be cleared after accept")
	}
	d, _ := f.store.GetDriver(ctx, "d1")
	if !d.Occupied || !f.busy.calls["d1"] {
		t.Fatal("driver should be occupied after accept")
	}

	if _, err := f.svc.DriverMarkArrived(ctx, id, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.DriverStartTrip(ctx, id, "d1"); err != nil {
		t.Fatal(err)
	}
	r, err = f.svc.RiderCompleteRide(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusCompleted || r.Payment.Status != models.PaymentPaid {
		t.Fatalf("unexpected completed ride %+v", r)
	}
	d, _ = f.store.GetDriver(ctx, "d1")
	if d.Occupied || f.busy.calls["d1"] {
		t.Fatal("driver should be freed after completion")
	}
	// created + target + accept + arrive + start + complete
	if len(f.sink.events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(f.sink.events))
	}
}

func TestSnapshotSurvivesProfileEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")
	if _, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"}); err != nil {
		t.Fatal(err)
	}
	_, _ = f.store.UpdateDriver(ctx, "d1", func(p *models.DriverProfile) error {
		p.Profile.Car = "Ranger"
		return nil
	})
	r, _ := f.svc.GetRide(ctx, id)
	if r.Driver.Car != "Polo" {
		t.Fatalf("snapshot rewritten: %+v", r.Driver)
	}
}

func TestDeclineClearsPreferredAndAllowsRepick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")

	if _, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionDecline, Response{By: "d2"}); !errors.Is(err, lifecycle.ErrForbiddenActor) {
		t.Fatalf("non-targeted driver decline: %v", err)
	}
	r, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionDecline, Response{By: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusDriverDeclined || r.DriverPreferred != nil {
		t.Fatalf("unexpected declined ride %+v", r)
	}
	if _, err := f.svc.CancelRide(ctx, id, "u1"); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("cancel from declined: %v", err)
	}
	r, err = f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionTarget, Response{By: "u1", DriverID: "d2"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusDriverRequested || *r.DriverPreferred != "d2" {
		t.Fatalf("unexpected re-picked ride %+v", r)
	}
}

func TestOnlyTargetedDriverMayAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")

	if _, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d2"}); !errors.Is(err, lifecycle.ErrForbiddenActor) {
		t.Fatalf("non-targeted driver accept: %v", err)
	}
	r, _ := f.svc.GetRide(ctx, id)
	if r.Status != models.StatusDriverRequested || r.Driver != nil || *r.DriverPreferred != "d1" {
		t.Fatalf("ride mutated by rejected accept: %+v", r)
	}
	if d, _ := f.store.GetDriver(ctx, "d2"); d.Occupied {
		t.Fatal("d2 occupied by rejected accept")
	}
	if _, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"}); err != nil {
		t.Fatal(err)
	}
}

func TestIllegalSkipsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")
	if _, err := f.svc.DriverStartTrip(ctx, id, "d1"); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("start before arrival: %v", err)
	}
	if _, err := f.svc.RiderCompleteRide(ctx, id); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("complete before trip: %v", err)
	}
	r, _ := f.svc.GetRide(ctx, id)
	if r.Status != models.StatusDriverRequested {
		t.Fatalf("status changed by rejected transitions: %s", r.Status)
	}
}

func TestOnlyAssignedDriverMayProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")
	_, _ = f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"})
	if _, err := f.svc.DriverMarkArrived(ctx, id, "d2"); !errors.Is(err, lifecycle.ErrForbiddenActor) {
		t.Fatalf("expected ErrForbiddenActor, got %v", err)
	}
	if _, err := f.svc.CancelRide(ctx, id, "someone-else"); !errors.Is(err, lifecycle.ErrForbiddenActor) {
		t.Fatalf("expected ErrForbiddenActor, got %v", err)
	}
}

func TestCancelAssignedFreesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")
	_, _ = f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"})
	r, err := f.svc.CancelRide(ctx, id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusCancelled {
		t.Fatalf("status %s", r.Status)
	}
	d, _ := f.store.GetDriver(ctx, "d1")
	if d.Occupied {
		t.Fatal("driver still occupied after cancel")
	}
}

func TestCancelUnavailableOnTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")
	_, _ = f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"})
	_, _ = f.svc.DriverMarkArrived(ctx, id, "d1")
	_, _ = f.svc.DriverStartTrip(ctx, id, "d1")
	if _, err := f.svc.CancelRide(ctx, id, "u1"); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestBusyDriverCannotAcceptSecondRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.save(t, "u1", "d1")
	second := f.save(t, "u2", "d1")
	if _, err := f.svc.DriverRespondToRequest(ctx, first, lifecycle.ActionAccept, Response{By: "d1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.DriverRespondToRequest(ctx, second, lifecycle.ActionAccept, Response{By: "d1"}); !errors.Is(err, storage.ErrDriverBusy) {
		t.Fatalf("expected ErrDriverBusy, got %v", err)
	}
	r, _ := f.svc.GetRide(ctx, second)
	if r.Status != models.StatusDriverRequested || r.Driver != nil {
		t.Fatalf("second ride mutated: %+v", r)
	}
}

func TestConcurrentAcceptsApplyExactlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"})
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case !errors.Is(err, lifecycle.ErrIllegalTransition):
			t.Fatalf("losing accept got %v", err)
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one accept, got %d", applied)
	}
	r, _ := f.svc.GetRide(ctx, id)
	if r.Status != models.StatusDriverAssigned || r.Driver.ID != "d1" {
		t.Fatalf("unexpected ride %+v", r)
	}
}

func TestDriverRespondRejectsOtherActions(t *testing.T) {
	f := newFixture(t)
	id := f.save(t, "u1", "d1")
	if _, err := f.svc.DriverRespondToRequest(context.Background(), id, lifecycle.ActionStart, Response{By: "d1"}); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestUnknownRide(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.DriverMarkArrived(context.Background(), "missing", "d1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
