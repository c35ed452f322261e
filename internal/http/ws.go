package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ehailing/internal/dispatch"
	"github.com/example/ehailing/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS streams the caller's active ride, the online driver set and, for
// drivers, the ride requests addressed to them. Ride events fan out to the
// same session through the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	r, err := s.Auth.authenticate(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	uid := uidFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user_id", uid, "error", err)
		return
	}
	sess := s.Hub.Add(uid, conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Hub.Remove(sess)
		_ = conn.Close()
	}()

	send := func(typ string, payload interface{}) {
		if err := sess.Send(dispatch.Message{Type: typ, Payload: payload}); err != nil {
			s.logger.Debug("ws write failed", "user_id", uid, "type", typ, "error", err)
			cancel()
		}
	}

	stopRide, err := s.Rides.ListenUserActiveRide(ctx, uid, func(ride *models.Ride) { send("active_ride", ride) })
	if err != nil {
		s.logger.Warn("active ride listener failed", "user_id", uid, "error", err)
		return
	}
	defer stopRide()
	if s.Presence != nil {
		defer s.Presence.ListenOnlineDrivers(ctx, func(ps []models.Presence) { send("drivers", ps) })()
	}
	if _, err := s.Drivers.Profile(ctx, uid); err == nil {
		stopReq, err := s.Rides.ListenDriverRequests(ctx, uid, func(rs []*models.Ride) { send("driver_requests", rs) })
		if err != nil {
			s.logger.Warn("driver request listener failed", "user_id", uid, "error", err)
			return
		}
		defer stopReq()
	}

	s.logger.Info("ws session opened", "user_id", uid)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Info("ws session closed", "user_id", uid)
			return
		}
	}
}
