package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/ehailing/internal/maps"
	"github.com/example/ehailing/internal/models"
)

// coordFromQuery reads lat and lng; ok is false when either is absent.
func coordFromQuery(r *http.Request) (c models.Coord, ok bool, err error) {
	q := r.URL.Query()
	latS, lngS := q.Get("lat"), q.Get("lng")
	if latS == "" || lngS == "" {
		return c, false, nil
	}
	if c.Lat, err = strconv.ParseFloat(latS, 64); err != nil {
		return c, false, errBadRequestf("invalid lat %q", latS)
	}
	if c.Lng, err = strconv.ParseFloat(lngS, 64); err != nil {
		return c, false, errBadRequestf("invalid lng %q", lngS)
	}
	if !c.Valid() {
		return c, false, errBadRequestf("coordinate out of range")
	}
	return c, true, nil
}

// handleReverseGeocode always answers with a label, degrading to the IP city
// and then the raw coordinates.
func (s *Server) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	c, ok, err := coordFromQuery(r)
	if err == nil && !ok {
		err = errBadRequestf("lat and lng are required")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	label := maps.FormatCoord(c)
	if s.Resolver != nil {
		label = s.Resolver.PickupLabel(r.Context(), c, remoteIP(r))
	}
	writeJSON(w, http.StatusOK, map[string]string{"label": label})
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	if s.Places == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	input := strings.TrimSpace(r.URL.Query().Get("input"))
	if input == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": []interface{}{}})
		return
	}
	c, ok, err := coordFromQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var near *models.Coord
	if ok {
		near = &c
	}
	preds, err := s.Places.Autocomplete(r.Context(), input, near)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": preds})
}

func (s *Server) handlePlaceDetails(w http.ResponseWriter, r *http.Request) {
	if s.Places == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	place, err := s.Places.PlaceDetails(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}
