// Package lifecycle holds the ride state machine. Every ride mutation is
// checked against the transition table before it reaches storage.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/ehailing/internal/models"
)

type Action string

const (
	ActionTarget   Action = "target"
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionArrive   Action = "arrive"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

type Actor string

const (
	ActorRider  Actor = "rider"
	ActorDriver Actor = "driver"
	// ActorPayment is the payment flow completing a paid trip.
	ActorPayment Actor = "payment"
)

var (
	ErrIllegalTransition = errors.New("illegal ride transition")
	ErrForbiddenActor    = errors.New("actor may not perform this action")
)

type edge struct {
	from   models.RideStatus
	action Action
}

type rule struct {
	to    models.RideStatus
	actor Actor
}

var table = map[edge]rule{
	{models.StatusRequested, ActionTarget}:        {models.StatusDriverRequested, ActorRider},
	{models.StatusDriverDeclined, ActionTarget}:   {models.StatusDriverRequested, ActorRider},
	{models.StatusDriverRequested, ActionAccept}:  {models.StatusDriverAssigned, ActorDriver},
	{models.StatusDriverRequested, ActionDecline}: {models.StatusDriverDeclined, ActorDriver},
	{models.StatusDriverAssigned, ActionArrive}:   {models.StatusDriverArrived, ActorDriver},
	{models.StatusDriverArrived, ActionStart}:     {models.StatusOnTrip, ActorDriver},
	{models.StatusOnTrip, ActionComplete}:         {models.StatusCompleted, ActorPayment},
	{models.StatusRequested, ActionCancel}:        {models.StatusCancelled, ActorRider},
	{models.StatusDriverRequested, ActionCancel}:  {models.StatusCancelled, ActorRider},
	{models.StatusDriverAssigned, ActionCancel}:   {models.StatusCancelled, ActorRider},
}

// Next returns the status reached by applying action to from.
func Next(from models.RideStatus, action Action, actor Actor) (models.RideStatus, error) {
	r, ok := table[edge{from, action}]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrIllegalTransition, action, from)
	}
	if r.actor != actor {
		return "", fmt.Errorf("%w: %s may not %s", ErrForbiddenActor, actor, action)
	}
	return r.to, nil
}

// Allowed reports whether action is legal from status for any actor.
func Allowed(from models.RideStatus, action Action) bool {
	_, ok := table[edge{from, action}]
	return ok
}

// InitialStatus is the status of a freshly saved ride.
func InitialStatus(hasPreferredDriver bool) models.RideStatus {
	if hasPreferredDriver {
		return models.StatusDriverRequested
	}
	return models.StatusRequested
}

func CanCancel(s models.RideStatus) bool { return Allowed(s, ActionCancel) }

func IsTerminal(s models.RideStatus) bool {
	return s == models.StatusCompleted || s == models.StatusCancelled
}

// IsActive reports whether a ride in status s still needs the rider's attention.
func IsActive(s models.RideStatus) bool {
	switch s {
	case models.StatusRequested,
		models.StatusDriverRequested,
		models.StatusDriverDeclined,
		models.StatusDriverAssigned,
		models.StatusDriverArrived,
		models.StatusOnTrip:
		return true
	}
	return false
}

// OccupiesDriver reports whether the assigned driver is busy in status s.
func OccupiesDriver(s models.RideStatus) bool {
	return s == models.StatusDriverAssigned || s == models.StatusDriverArrived || s == models.StatusOnTrip
}

func AllStatuses() []models.RideStatus {
	return []models.RideStatus{
		models.StatusRequested,
		models.StatusDriverRequested,
		models.StatusDriverDeclined,
		models.StatusDriverAssigned,
		models.StatusDriverArrived,
		models.StatusOnTrip,
		models.StatusCompleted,
		models.StatusCancelled,
	}
}

func AllActions() []Action {
	return []Action{ActionTarget, ActionAccept, ActionDecline, ActionArrive, ActionStart, ActionComplete, ActionCancel}
}

// ParseAction accepts the wire names used by the driver response endpoint.
func ParseAction(s string) (Action, error) {
	for _, a := range AllActions() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, s)
}
