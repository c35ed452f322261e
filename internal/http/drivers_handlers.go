package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ehailing/internal/drivers"
	"github.com/example/ehailing/internal/media"
	"github.com/example/ehailing/internal/models"
)

const maxApplicationBytes = 16 << 20

type positionRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Heading float64 `json:"heading"`
}

func (p positionRequest) coord() models.Coord { return models.Coord{Lat: p.Lat, Lng: p.Lng} }

func (s *Server) handleDriverProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.Drivers.Profile(r.Context(), uidFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGoOnline(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.Presence.GoOnline(r.Context(), uidFrom(r.Context()), req.coord(), req.Heading)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGoOffline(w http.ResponseWriter, r *http.Request) {
	if err := s.Presence.GoOffline(r.Context(), uidFrom(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	written, err := s.Presence.ReportLocation(r.Context(), uidFrom(r.Context()), req.coord(), req.Heading)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"written": written})
}

// handleSubmitApplication takes a multipart form: fullName, car and rideType
// fields plus one image file per document kind.
func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	if s.Drivers.Uploader == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxApplicationBytes)
	if err := r.ParseMultipartForm(maxApplicationBytes); err != nil {
		s.fail(w, r, errBadRequestf("parse form: %v", err))
		return
	}
	docs := make(map[string][]byte, len(media.DocumentKinds))
	for _, kind := range media.DocumentKinds {
		f, _, err := r.FormFile(kind)
		if err != nil {
			continue
		}
		b, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.fail(w, r, errBadRequestf("read %s: %v", kind, err))
			return
		}
		docs[kind] = b
	}
	app, err := s.Drivers.SubmitApplication(r.Context(), uidFrom(r.Context()), drivers.ApplicationInput{
		FullName: r.FormValue("fullName"),
		Car:      r.FormValue("car"),
		RideType: models.RideType(r.FormValue("rideType")),
	}, docs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Token == "" {
		s.fail(w, r, errBadRequestf("missing token"))
		return
	}
	if err := s.Drivers.RegisterPushToken(r.Context(), uidFrom(r.Context()), req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApproveDriver(w http.ResponseWriter, r *http.Request) {
	p, err := s.Drivers.Approve(r.Context(), mux.Vars(r)["uid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
