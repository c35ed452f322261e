package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ehailing/internal/dispatch"
	"github.com/example/ehailing/internal/drivers"
	"github.com/example/ehailing/internal/maps"
	"github.com/example/ehailing/internal/marketplace"
	"github.com/example/ehailing/internal/matcher"
	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/payments"
	"github.com/example/ehailing/internal/presence"
	"github.com/example/ehailing/internal/rides"
	"github.com/example/ehailing/internal/storage"
)

// Places is the maps surface used by the quote and search endpoints.
type Places interface {
	Autocomplete(ctx context.Context, input string, near *models.Coord) ([]maps.Prediction, error)
	PlaceDetails(ctx context.Context, placeID string) (maps.Place, error)
	Directions(ctx context.Context, from, to models.Coord) (maps.Route, error)
}

// Deps are the services behind the API. Places and Marketplace are optional.
type Deps struct {
	Rides       *rides.Service
	Presence    *presence.Service
	Matcher     *matcher.Service
	Payments    *payments.Orchestrator
	Drivers     *drivers.Service
	Marketplace *marketplace.Service
	Places      Places
	Resolver    *maps.Resolver
	Hub         *dispatch.Hub
	Auth        *Authenticator
	// Ready reports backing store health for /ready; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	internal := s.mux.PathPrefix("/internal").Subrouter()
	internal.Use(s.Auth.RequireRole(RoleService))
	internal.HandleFunc("/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)

	admin := s.mux.PathPrefix("/admin").Subrouter()
	admin.Use(s.Auth.RequireRole(RoleAdmin))
	admin.HandleFunc("/drivers/{uid}/approve", s.handleApproveDriver).Methods(http.MethodPost)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.Auth.Require)

	api.HandleFunc("/quotes", s.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/geocode/reverse", s.handleReverseGeocode).Methods(http.MethodGet)
	api.HandleFunc("/places/autocomplete", s.handleAutocomplete).Methods(http.MethodGet)
	api.HandleFunc("/places/{id}", s.handlePlaceDetails).Methods(http.MethodGet)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/active", s.handleActiveRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/candidates", s.handleCandidates).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/target", s.handleTarget).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/{action:accept|decline}", s.handleDriverResponse).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/arrive", s.handleArrive).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/pay", s.handlePay).Methods(http.MethodPost)

	api.HandleFunc("/drivers/me", s.handleDriverProfile).Methods(http.MethodGet)
	api.HandleFunc("/drivers/online", s.handleGoOnline).Methods(http.MethodPost)
	api.HandleFunc("/drivers/offline", s.handleGoOffline).Methods(http.MethodPost)
	api.HandleFunc("/drivers/location", s.handleReportLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/applications", s.handleSubmitApplication).Methods(http.MethodPost)
	api.HandleFunc("/drivers/push-token", s.handlePushToken).Methods(http.MethodPost)

	api.HandleFunc("/wallet", s.handleWalletBalance).Methods(http.MethodGet)
	api.HandleFunc("/wallet/transactions", s.handleTransactions).Methods(http.MethodGet)
	api.HandleFunc("/wallet/topups", s.handleCreateTopUp).Methods(http.MethodPost)
	api.HandleFunc("/wallet/topups/capture", s.handleCaptureTopUp).Methods(http.MethodPost)
	api.HandleFunc("/wallet/transfers", s.handleTransfer).Methods(http.MethodPost)

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// fail writes err and logs it when it maps to a server-side failure.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusForError(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"route", routeTemplate(r),
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeError(w, err)
}

// handleDriverLocation accepts presence documents in any legacy layout from
// service callers. Only approved drivers are written, they are taken to be
// online unless the document says so, and occupancy is never taken from the
// feed.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := presence.NormalizeLocation(raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doc.UID == "" {
		s.fail(w, r, errBadRequestf("missing driver id"))
		return
	}
	profile, err := s.Drivers.Profile(r.Context(), doc.UID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !profile.Approved) {
		s.fail(w, r, presence.ErrNotApproved)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc.Update.Occupied = nil
	if doc.Update.Online == nil {
		online := true
		doc.Update.Online = &online
	}
	if _, err := s.Presence.UpsertDriverLive(r.Context(), doc.UID, doc.Update); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
