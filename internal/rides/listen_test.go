package rides

import (
	"context"
	"sync"
	"testing"

	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
)

func TestListenUserActiveRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var got []*models.Ride
	stop, err := f.svc.ListenUserActiveRide(ctx, "u1", func(r *models.Ride) { got = append(got, r) })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("expected initial nil delivery, got %v", got)
	}

	id := f.save(t, "u1", "")
	f.save(t, "u2", "") // other riders do not fire
	if len(got) != 2 || got[1] == nil || got[1].ID != id {
		t.Fatalf("expected active ride %s, got %v", id, got)
	}

	if _, err := f.svc.CancelRide(ctx, id, "u1"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2] != nil {
		t.Fatalf("expected nil after cancel, got %v", got)
	}

	stop()
	stop()
	f.save(t, "u1", "")
	if len(got) != 3 {
		t.Fatalf("delivery after stop: %d", len(got))
	}
}

func TestActiveRideOnlyScansRecentWindow(t *testing.T) {
	f := newFixture(t)
	f.svc.ActiveWindow = 2
	ctx := context.Background()
	old := f.save(t, "u1", "")
	for i := 0; i < 2; i++ {
		id := f.save(t, "u1", "")
		if _, err := f.svc.CancelRide(ctx, id, "u1"); err != nil {
			t.Fatal(err)
		}
	}
	r, err := f.svc.ActiveRide(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("ride %s is outside the window, got %s", old, r.ID)
	}
}

func TestListenDriverRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var sizes []int
	stop, err := f.svc.ListenDriverRequests(ctx, "d1", func(rs []*models.Ride) { sizes = append(sizes, len(rs)) })
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	id := f.save(t, "u1", "d1")
	f.save(t, "u2", "d2")
	if _, err := f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionDecline, Response{By: "d1"}); err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 0}
	if len(sizes) != len(want) {
		t.Fatalf("deliveries %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("deliveries %v, want %v", sizes, want)
		}
	}
}

func TestListenStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := f.svc.ListenUserActiveRide(ctx, "u1", func(*models.Ride) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	f.save(t, "u1", "")
	if calls != 1 {
		t.Fatalf("expected only the initial delivery, got %d", calls)
	}
}

func TestListenUserActiveRideLastDeliveryMatchesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.save(t, "u1", "d1")

	var mu sync.Mutex
	var last *models.Ride
	stop, err := f.svc.ListenUserActiveRide(ctx, "u1", func(r *models.Ride) {
		mu.Lock()
		last = r
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.svc.DriverRespondToRequest(ctx, id, lifecycle.ActionAccept, Response{By: "d1"})
		_, _ = f.svc.DriverMarkArrived(ctx, id, "d1")
		_, _ = f.svc.DriverStartTrip(ctx, id, "d1")
		_, _ = f.svc.RiderCompleteRide(ctx, id)
	}()
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			other, err := f.svc.SaveRide(ctx, SaveRideArgs{UserID: "u1", Pickup: pickup, Destination: fiveKm, RideType: models.RideStandard})
			if err == nil {
				_, _ = f.svc.CancelRide(ctx, other, "u1")
			}
		}()
	}
	wg.Wait()

	want, err := f.svc.ActiveRide(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if (want == nil) != (last == nil) {
		t.Fatalf("last delivery %v, store has %v", last, want)
	}
	if want != nil && (want.ID != last.ID || want.Status != last.Status) {
		t.Fatalf("stale delivery %s/%s, store has %s/%s", last.ID, last.Status, want.ID, want.Status)
	}
}
