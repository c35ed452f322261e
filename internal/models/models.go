package models

import (
	"fmt"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c is a plausible WGS84 coordinate.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type RideType string

const (
	RideStandard RideType = "standard"
	RideComfort  RideType = "comfort"
	RideXL       RideType = "xl"
)

var RideTypes = []RideType{RideStandard, RideComfort, RideXL}

// ParseRideType maps an empty value to standard and rejects unknown types.
func ParseRideType(s string) (RideType, error) {
	switch RideType(strings.ToLower(strings.TrimSpace(s))) {
	case "", RideStandard:
		return RideStandard, nil
	case RideComfort:
		return RideComfort, nil
	case RideXL:
		return RideXL, nil
	}
	return "", fmt.Errorf("unknown ride type %q", s)
}

type RideStatus string

const (
	StatusRequested       RideStatus = "requested"
	StatusDriverRequested RideStatus = "driver_requested"
	StatusDriverDeclined  RideStatus = "driver_declined"
	StatusDriverAssigned  RideStatus = "driver_assigned"
	StatusDriverArrived   RideStatus = "driver_arrived"
	StatusOnTrip          RideStatus = "on_trip"
	StatusCompleted       RideStatus = "completed"
	StatusCancelled       RideStatus = "cancelled"
)

// DriverSnapshot is copied onto a ride when the driver accepts it.
type DriverSnapshot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Car      string   `json:"car"`
	RideType RideType `json:"rideType"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type RidePayment struct {
	Status PaymentStatus `json:"status"`
}

type Ride struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	RiderName        string          `json:"riderName"`
	PickupText       string          `json:"pickupText"`
	DestinationText  string          `json:"destinationText"`
	PickupLat        float64         `json:"pickupLat"`
	PickupLng        float64         `json:"pickupLng"`
	DestinationLat   float64         `json:"destinationLat"`
	DestinationLng   float64         `json:"destinationLng"`
	DistanceKm       float64         `json:"distanceKm"`
	EstimatedFareZAR int64           `json:"estimatedFareZAR"`
	RideType         RideType        `json:"rideType"`
	Status           RideStatus      `json:"status"`
	DriverPreferred  *string         `json:"driverPreferred"`
	Driver           *DriverSnapshot `json:"driver"`
	Payment          RidePayment     `json:"payment"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (r *Ride) Pickup() Coord      { return Coord{Lat: r.PickupLat, Lng: r.PickupLng} }
func (r *Ride) Destination() Coord { return Coord{Lat: r.DestinationLat, Lng: r.DestinationLng} }

// Clone returns a deep copy so stores can hand rides out without sharing pointers.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.DriverPreferred != nil {
		p := *r.DriverPreferred
		c.DriverPreferred = &p
	}
	if r.Driver != nil {
		d := *r.Driver
		c.Driver = &d
	}
	return &c
}

// DriverID returns the assigned driver id, or "" before acceptance.
func (r *Ride) DriverID() string {
	if r.Driver == nil {
		return ""
	}
	return r.Driver.ID
}

type DriverDetails struct {
	FullName string `json:"fullName"`
	Car      string `json:"car"`
}

// DriverProfile is the durable, admin-gated record under drivers/{uid}.
type DriverProfile struct {
	UID       string        `json:"uid"`
	Approved  bool          `json:"approved"`
	Online    bool          `json:"online"`
	Occupied  bool          `json:"occupied"`
	RideType  RideType      `json:"rideType"`
	Profile   DriverDetails `json:"profile"`
	PushToken string        `json:"pushToken,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Presence is the live document under drivers_live/{uid}.
type Presence struct {
	UID         string    `json:"uid"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Heading     float64   `json:"heading"`
	Online      bool      `json:"online"`
	Occupied    bool      `json:"occupied"`
	RideType    RideType  `json:"rideType"`
	DisplayName string    `json:"displayName"`
	Car         string    `json:"car"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p Presence) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

type Wallet struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    float64         `json:"amount"`
	Currency  string          `json:"currency"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type TransactionPage struct {
	Items      []Transaction `json:"items"`
	HasMore    bool          `json:"hasMore"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type RideEventType string

const (
	RideCreated      RideEventType = "ride.created"
	RideTransitioned RideEventType = "ride.transitioned"
)

// RideEvent is emitted for every persisted ride change.
type RideEvent struct {
	Type RideEventType `json:"type"`
	Ride *Ride         `json:"ride"`
	From RideStatus    `json:"from,omitempty"`
	To   RideStatus    `json:"to"`
	At   time.Time     `json:"at"`
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
)

type DriverApplication struct {
	ID        string            `json:"id"`
	UID       string            `json:"uid"`
	FullName  string            `json:"fullName"`
	Car       string            `json:"car"`
	RideType  RideType          `json:"rideType"`
	Documents map[string]string `json:"documents"`
	Status    ApplicationStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}
