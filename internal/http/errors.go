package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/example/ehailing/internal/callable"
	"github.com/example/ehailing/internal/drivers"
	"github.com/example/ehailing/internal/lifecycle"
	"github.com/example/ehailing/internal/maps"
	"github.com/example/ehailing/internal/marketplace"
	"github.com/example/ehailing/internal/payments"
	"github.com/example/ehailing/internal/presence"
	"github.com/example/ehailing/internal/rides"
	"github.com/example/ehailing/internal/storage"
)

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("feature not configured")
)

func statusForError(err error) int {
	var ce *callable.Error
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, maps.ErrNoResults), errors.Is(err, drivers.ErrNoApplication):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrIllegalTransition), errors.Is(err, storage.ErrDriverBusy):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrForbiddenActor), errors.Is(err, presence.ErrNotApproved),
		errors.Is(err, payments.ErrForeignOrder):
		return http.StatusForbidden
	case callable.HasCode(err, payments.CodeInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.As(err, &ce):
		return callableStatus(ce.Status)
	case errors.Is(err, payments.ErrPayoutRejected):
		return http.StatusBadGateway
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest),
		errors.Is(err, rides.ErrInvalidRide),
		errors.Is(err, presence.ErrInvalidPosition),
		errors.Is(err, presence.ErrNoLocation),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrNoOrderID),
		errors.Is(err, marketplace.ErrInvalidListing),
		errors.Is(err, marketplace.ErrEmptyCart),
		errors.Is(err, marketplace.ErrMissingAddress),
		errors.Is(err, drivers.ErrInvalidApplication):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// callableStatus maps a remote function status onto the HTTP response.
func callableStatus(status string) int {
	switch status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "OUT_OF_RANGE":
		return http.StatusBadRequest
	case "UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "PERMISSION_DENIED":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "ALREADY_EXISTS", "ABORTED":
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	body := errorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	var ce *callable.Error
	if errors.As(err, &ce) {
		body.Code = ce.Code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func errBadRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

const maxBodyBytes = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return b, nil
}
