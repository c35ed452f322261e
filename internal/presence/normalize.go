package presence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ehailing/internal/models"
)

var ErrNoLocation = errors.New("presence document carries no recognised location")

// Shape identifies which historical location layout a document used.
type Shape int

const (
	ShapeNone     Shape = iota
	ShapeLoc            // {"loc": {"lat", "lng"}}
	ShapeLocation       // {"location": {"lat", "lng"}}
	ShapeFlat           // {"lat", "lng"}
	ShapeCoords         // {"coords": {"latitude", "longitude"}}
)

func (s Shape) String() string {
	switch s {
	case ShapeLoc:
		return "loc"
	case ShapeLocation:
		return "location"
	case ShapeFlat:
		return "flat"
	case ShapeCoords:
		return "coords"
	}
	return "none"
}

type latLng struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (l *latLng) ok() bool { return l != nil && l.Lat != nil && l.Lng != nil }

type rawDoc struct {
	UID      string   `json:"uid"`
	ID       string   `json:"id"`
	DriverID string   `json:"driverId"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Loc      *latLng  `json:"loc"`
	Location *latLng  `json:"location"`
	Coords   *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Heading   *float64 `json:"heading"`
	} `json:"coords"`
	Heading     *float64 `json:"heading"`
	Online      *bool    `json:"online"`
	Occupied    *bool    `json:"occupied"`
	RideType    *string  `json:"rideType"`
	DisplayName *string  `json:"displayName"`
	Car         *string  `json:"car"`
}

// Document is a presence write decoded from any known layout.
type Document struct {
	UID    string
	Shape  Shape
	Update Update
}

// Normalize decodes a raw presence document into the canonical update.
// Layouts are tried in the order loc, location, flat, coords.
func Normalize(raw []byte) (Document, error) {
	var d rawDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return Document{}, fmt.Errorf("decode presence: %w", err)
	}
	doc := Document{UID: firstNonEmpty(d.UID, d.DriverID, d.ID)}
	u := &doc.Update
	switch {
	case d.Loc.ok():
		doc.Shape, u.Lat, u.Lng = ShapeLoc, d.Loc.Lat, d.Loc.Lng
	case d.Location.ok():
		doc.Shape, u.Lat, u.Lng = ShapeLocation, d.Location.Lat, d.Location.Lng
	case d.Lat != nil && d.Lng != nil:
		doc.Shape, u.Lat, u.Lng = ShapeFlat, d.Lat, d.Lng
	case d.Coords != nil && d.Coords.Latitude != nil && d.Coords.Longitude != nil:
		doc.Shape, u.Lat, u.Lng = ShapeCoords, d.Coords.Latitude, d.Coords.Longitude
		if d.Heading == nil {
			d.Heading = d.Coords.Heading
		}
	}
	u.Heading = d.Heading
	u.Online = d.Online
	u.Occupied = d.Occupied
	u.DisplayName = d.DisplayName
	u.Car = d.Car
	if d.RideType != nil {
		rt, err := models.ParseRideType(*d.RideType)
		if err != nil {
			return Document{}, err
		}
		u.RideType = &rt
	}
	return doc, nil
}

// NormalizeLocation is Normalize for callers that require a position.
func NormalizeLocation(raw []byte) (Document, error) {
	doc, err := Normalize(raw)
	if err != nil {
		return doc, err
	}
	if doc.Shape == ShapeNone {
		return doc, ErrNoLocation
	}
	return doc, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
