package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ehailing/internal/models"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var (
	ErrNoSession     = errors.New("no ws session")
	ErrSessionClosed = errors.New("ws session closed")
	ErrSlowSession   = errors.New("ws session send buffer full")
)

// Message is the envelope written to websocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Session is one websocket connection. Send only queues; a single writer
// goroutine owns the connection and every write carries a deadline. A
// session whose queue is full is closed.
type Session struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSession(userID string, conn *websocket.Conn, buffer int) *Session {
	return &Session{UserID: userID, conn: conn, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (s *Session) Send(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- b:
		return nil
	default:
		s.Close()
		return ErrSlowSession
	}
}

// Done is closed once the session stops writing.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the writer and closes the connection. Safe to call repeatedly.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) writePump() {
	for {
		select {
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Hub holds every open session keyed by user; a user may have several.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	Logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{}), Logger: logger}
}

func (h *Hub) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Hub) Add(userID string, conn *websocket.Conn) *Session {
	s := newSession(userID, conn, sendBuffer)
	go s.writePump()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	return s
}

// Remove drops the session from the hub and closes it.
func (h *Hub) Remove(s *Session) {
	s.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[s.UserID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.UserID)
	}
}

func (h *Hub) snapshot(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		out = append(out, s)
	}
	return out
}

// Send writes v to every session of userID.
func (h *Hub) Send(userID string, v interface{}) error {
	sessions := h.snapshot(userID)
	if len(sessions) == 0 {
		return ErrNoSession
	}
	var errs []error
	for _, s := range sessions {
		if err := s.Send(v); err != nil {
			h.logger().Warn("ws send failed", "user_id", userID, "error", err)
			if errors.Is(err, ErrSlowSession) || errors.Is(err, ErrSessionClosed) {
				h.Remove(s)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishRideEvent pushes the event to every connected party of the ride.
// Parties without a session are skipped.
func (h *Hub) PublishRideEvent(_ context.Context, ev models.RideEvent) error {
	msg := Message{Type: "ride_event", Payload: ev}
	for _, uid := range Parties(ev.Ride) {
		if err := h.Send(uid, msg); err != nil && !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	return nil
}
