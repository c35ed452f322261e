package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ehailing/internal/dispatch"
	"github.com/example/ehailing/internal/geo"
	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/payments"
	"github.com/example/ehailing/internal/pricing"
	"github.com/example/ehailing/internal/rides"
)

type quoteRequest struct {
	Pickup      models.Coord `json:"pickup"`
	Destination models.Coord `json:"destination"`
}

type quoteResponse struct {
	DistanceKm  float64                   `json:"distanceKm"`
	DurationSec float64                   `json:"durationSec,omitempty"`
	Source      string                    `json:"source"`
	Fares       map[models.RideType]int64 `json:"faresZAR"`
}

// handleQuote prices every ride type over the road distance when directions
// are available and the straight-line distance otherwise.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !req.Pickup.Valid() || !req.Destination.Valid() {
		s.fail(w, r, errBadRequestf("invalid coordinates"))
		return
	}
	resp := quoteResponse{Source: "haversine", DistanceKm: geo.Distance(req.Pickup, req.Destination)}
	if s.Places != nil {
		route, err := s.Places.Directions(r.Context(), req.Pickup, req.Destination)
		if err == nil {
			resp.DistanceKm, resp.DurationSec, resp.Source = route.DistanceKm, route.DurationSec, "directions"
		} else {
			s.logger.Warn("directions lookup failed, using straight line", "error", err)
		}
	}
	resp.Fares = pricing.Quote(resp.DistanceKm)
	writeJSON(w, http.StatusOK, resp)
}

type createRideRequest struct {
	RiderName        string          `json:"riderName"`
	PickupText       string          `json:"pickupText"`
	DestinationText  string          `json:"destinationText"`
	Pickup           models.Coord    `json:"pickup"`
	Destination      models.Coord    `json:"destination"`
	RideType         models.RideType `json:"rideType"`
	DistanceKm       *float64        `json:"distanceKm"`
	EstimatedFareZAR *int64          `json:"estimatedFareZAR"`
	DriverPreferred  string          `json:"driverPreferred"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	claims := claimsFrom(r.Context())
	if req.RiderName == "" {
		req.RiderName = claims.Name
	}
	if req.PickupText == "" && s.Resolver != nil && req.Pickup.Valid() {
		req.PickupText = s.Resolver.PickupLabel(r.Context(), req.Pickup, remoteIP(r))
	}
	id, err := s.Rides.SaveRide(r.Context(), rides.SaveRideArgs{
		UserID:           claims.Subject,
		RiderName:        req.RiderName,
		PickupText:       req.PickupText,
		DestinationText:  req.DestinationText,
		Pickup:           req.Pickup,
		Destination:      req.Destination,
		RideType:         req.RideType,
		DistanceKm:       req.DistanceKm,
		EstimatedFareZAR: req.EstimatedFareZAR,
		DriverPreferred:  req.DriverPreferred,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.ActiveRide(r.Context(), uidFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*models.Ride{"ride": ride})
}

// loadRide fetches the ride in the path and checks the caller is a party to it.
func (s *Server) loadRide(r *http.Request) (*models.Ride, error) {
	id := mux.Vars(r)["id"]
	ride, err := s.Rides.GetRide(r.Context(), id)
	if err != nil {
		return nil, err
	}
	uid := uidFrom(r.Context())
	for _, p := range dispatch.Parties(ride) {
		if p == uid {
			return ride, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not a party to ride %s", lifecycle.ErrForbiddenActor, uid, id)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.loadRide(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	ride, err := s.loadRide(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ride.UserID != uidFrom(r.Context()) {
		s.fail(w, r, fmt.Errorf("%w: only the rider lists candidates", lifecycle.ErrForbiddenActor))
		return
	}
	cs, err := s.Matcher.Candidates(r.Context(), ride.Pickup(), ride.RideType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": cs})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driverId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ride, err := s.Rides.DriverRespondToRequest(r.Context(), mux.Vars(r)["id"], lifecycle.ActionTarget,
		rides.Response{By: uidFrom(r.Context()), DriverID: req.DriverID})
	s.writeRide(w, r, ride, err)
}

func (s *Server) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	action, err := lifecycle.ParseAction(vars["action"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	uid := uidFrom(r.Context())
	ride, err := s.Rides.DriverRespondToRequest(r.Context(), vars["id"], action, rides.Response{By: uid, DriverID: uid})
	s.writeRide(w, r, ride, err)
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.DriverMarkArrived(r.Context(), mux.Vars(r)["id"], uidFrom(r.Context()))
	s.writeRide(w, r, ride, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.DriverStartTrip(r.Context(), mux.Vars(r)["id"], uidFrom(r.Context()))
	s.writeRide(w, r, ride, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.CancelRide(r.Context(), mux.Vars(r)["id"], uidFrom(r.Context()))
	s.writeRide(w, r, ride, err)
}

type payRequest struct {
	TopUpAmount float64 `json:"topUpAmount"`
	Currency    string  `json:"currency"`
}

// handlePay completes an on-trip ride. A short wallet is not an error: the
// response carries NEED_TOP_UP and the checkout link.
func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req payRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			s.fail(w, r, errBadRequestf("%v", err))
			return
		}
	}
	res, err := s.Payments.StartRidePayment(r.Context(), payments.StartRidePaymentArgs{
		RideID:      mux.Vars(r)["id"],
		RiderID:     uidFrom(r.Context()),
		TopUpAmount: req.TopUpAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeRide(w http.ResponseWriter, r *http.Request, ride *models.Ride, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}
