package httpapi

import (
	"net/http"
	"strconv"

	"github.com/example/ehailing/internal/marketplace"
	"github.com/example/ehailing/internal/payments"
)

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.Payments.GetWalletBalance(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, r, errBadRequestf("invalid limit %q", v))
			return
		}
		limit = n
	}
	page, err := s.Payments.GetTransactions(r.Context(), limit, q.Get("cursor"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.Payments.CreateTopUpOrder(r.Context(), uidFrom(r.Context()), req.Amount, req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// handleCaptureTopUp accepts either the order id or the deep link the
// checkout redirected to.
func (s *Server) handleCaptureTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID   string `json:"orderId"`
		ReturnURL string `json:"returnUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := req.OrderID
	if id == "" {
		var err error
		if id, err = payments.OrderIDFromReturnURL(req.ReturnURL); err != nil {
			s.fail(w, r, errBadRequestf("%v", err))
			return
		}
	}
	c, err := s.Payments.CaptureTopUpOrder(r.Context(), uidFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req payments.TransferArgs
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := s.Payments.TransferFunds(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type orderRequest struct {
	BusinessID string             `json:"businessId"`
	Address    string             `json:"address"`
	Items      []marketplace.Line `json:"items"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if s.Marketplace == nil {
		s.fail(w, r, errUnavailable)
		return
	}
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cart := marketplace.NewCart()
	for _, l := range req.Items {
		if err := cart.Add(l.Item, l.Quantity); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	res, err := s.Marketplace.PlaceOrder(r.Context(), req.BusinessID, cart, req.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
