package lifecycle

import (
	"errors"
	"testing"

	"github.com/example/ehailing/internal/models"
)

func TestHappyPath(t *testing.T) {
	steps := []struct {
		action Action
		actor  Actor
		want   models.RideStatus
	}{
		{ActionTarget, ActorRider, models.StatusDriverRequested},
		{ActionAccept, ActorDriver, models.StatusDriverAssigned},
		{ActionArrive, ActorDriver, models.StatusDriverArrived},
		{ActionStart, ActorDriver, models.StatusOnTrip},
		{ActionComplete, ActorPayment, models.StatusCompleted},
	}
	s := InitialStatus(false)
	if s != models.StatusRequested {
		t.Fatalf("initial status = %s", s)
	}
	for _, st := range steps {
		next, err := Next(s, st.action, st.actor)
		if err != nil {
			t.Fatalf("%s from %s: %v", st.action, s, err)
		}
		if next != st.want {
			t.Fatalf("%s from %s = %s, want %s", st.action, s, next, st.want)
		}
		s = next
	}
}

func TestInitialStatusWithPreferredDriver(t *testing.T) {
	if got := InitialStatus(true); got != models.StatusDriverRequested {
		t.Fatalf("got %s", got)
	}
}

func TestStartTripRequiresArrival(t *testing.T) {
	for _, s := range AllStatuses() {
		_, err := Next(s, ActionStart, ActorDriver)
		if s == models.StatusDriverArrived {
			if err != nil {
				t.Fatalf("start from arrived: %v", err)
			}
			continue
		}
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("start from %s: expected illegal transition, got %v", s, err)
		}
	}
}

func TestCancelOnlyBeforePickup(t *testing.T) {
	allowed := map[models.RideStatus]bool{
		models.StatusRequested:       true,
		models.StatusDriverRequested: true,
		models.StatusDriverAssigned:  true,
	}
	for _, s := range AllStatuses() {
		if CanCancel(s) != allowed[s] {
			t.Fatalf("CanCancel(%s) = %v", s, CanCancel(s))
		}
		_, err := Next(s, ActionCancel, ActorRider)
		if allowed[s] && err != nil {
			t.Fatalf("cancel from %s: %v", s, err)
		}
		if !allowed[s] && !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("cancel from %s should be illegal, got %v", s, err)
		}
	}
}

func TestDriverCannotComplete(t *testing.T) {
	_, err := Next(models.StatusOnTrip, ActionComplete, ActorDriver)
	if !errors.Is(err, ErrForbiddenActor) {
		t.Fatalf("expected forbidden actor, got %v", err)
	}
}

func TestDeclinedRideCanBeRetargeted(t *testing.T) {
	s, err := Next(models.StatusDriverRequested, ActionDecline, ActorDriver)
	if err != nil || s != models.StatusDriverDeclined {
		t.Fatalf("decline: %s %v", s, err)
	}
	s, err = Next(s, ActionTarget, ActorRider)
	if err != nil || s != models.StatusDriverRequested {
		t.Fatalf("retarget: %s %v", s, err)
	}
}

// No transition may jump more than one step along the forward path.
func TestNoSkippedStates(t *testing.T) {
	order := map[models.RideStatus]int{
		models.StatusRequested:       0,
		models.StatusDriverRequested: 1,
		models.StatusDriverDeclined:  1,
		models.StatusDriverAssigned:  2,
		models.StatusDriverArrived:   3,
		models.StatusOnTrip:          4,
		models.StatusCompleted:       5,
	}
	for e, r := range table {
		if r.to == models.StatusCancelled || r.to == models.StatusDriverDeclined {
			continue
		}
		if e.from == models.StatusDriverDeclined && r.to == models.StatusDriverRequested {
			continue
		}
		if order[r.to]-order[e.from] != 1 {
			t.Fatalf("%s --%s--> %s skips a state", e.from, e.action, r.to)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []models.RideStatus{models.StatusCompleted, models.StatusCancelled} {
		if !IsTerminal(s) || IsActive(s) {
			t.Fatalf("%s should be terminal and inactive", s)
		}
		for _, a := range AllActions() {
			if Allowed(s, a) {
				t.Fatalf("%s allows %s", s, a)
			}
		}
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("accept"); err != nil || a != ActionAccept {
		t.Fatalf("got %s %v", a, err)
	}
	if _, err := ParseAction("teleport"); err == nil {
		t.Fatal("expected error")
	}
}
