package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ehailing/internal/models"
)

type countingSink struct {
	n   int
	err error
}

func (c *countingSink) PublishRideEvent(context.Context, models.RideEvent) error {
	c.n++
	return c.err
}

func strPtr(s string) *string { return &s }

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &countingSink{}, &countingSink{err: boom}
	err := Multi{a, nil, b}.PublishRideEvent(context.Background(), models.RideEvent{Ride: &models.Ride{ID: "r1"}})
	if a.n != 1 || b.n != 1 {
		t.Fatalf("deliveries a=%d b=%d", a.n, b.n)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
}

func TestParties(t *testing.T) {
	r := &models.Ride{UserID: "u1", DriverPreferred: strPtr("d1")}
	if got := Parties(r); len(got) != 2 || got[1] != "d1" {
		t.Fatalf("got %v", got)
	}
	r = &models.Ride{UserID: "u1", Driver: &models.DriverSnapshot{ID: "d2"}}
	if got := Parties(r); len(got) != 2 || got[1] != "d2" {
		t.Fatalf("got %v", got)
	}
}

type tokens map[string]string

func (t tokens) GetDriver(_ context.Context, uid string) (*models.DriverProfile, error) {
	return &models.DriverProfile{UID: uid, PushToken: t[uid]}, nil
}

func TestFCMPushesOnlyRideRequests(t *testing.T) {
	var got []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing key")
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body)
	}))
	defer srv.Close()
	f := NewFCMDispatcher(srv.URL, "key", tokens{"d1": "device-1"}, nil)
	ctx := context.Background()
	ride := &models.Ride{ID: "r1", UserID: "u1", DriverPreferred: strPtr("d1"), EstimatedFareZAR: 47}

	if err := f.PublishRideEvent(ctx, models.RideEvent{Ride: ride, To: models.StatusDriverRequested}); err != nil {
		t.Fatal(err)
	}
	if err := f.PublishRideEvent(ctx, models.RideEvent{Ride: ride, To: models.StatusDriverAssigned}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one push, got %d", len(got))
	}
	msg := got[0]["message"].(map[string]interface{})
	if msg["token"] != "device-1" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestFCMReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	f := NewFCMDispatcher(srv.URL, "", tokens{"d1": "device-1"}, nil)
	ride := &models.Ride{ID: "r1", DriverPreferred: strPtr("d1")}
	err := f.PublishRideEvent(context.Background(), models.RideEvent{Ride: ride, To: models.StatusDriverRequested})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestHubDeliversToEverySession(t *testing.T) {
	hub := NewHub(nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Add(r.URL.Query().Get("uid"), conn)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?uid=d1"

	var clients []*websocket.Conn
	for i := 0; i < 2; i++ {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		clients = append(clients, c)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.snapshot("d1")) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ride := &models.Ride{ID: "r1", UserID: "u1", DriverPreferred: strPtr("d1")}
	if err := hub.PublishRideEvent(context.Background(), models.RideEvent{Type: models.RideCreated, Ride: ride}); err != nil {
		t.Fatal(err)
	}
	for _, c := range clients {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type    string           `json:"type"`
			Payload models.RideEvent `json:"payload"`
		}
		if err := c.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != "ride_event" || msg.Payload.Ride.ID != "r1" {
			t.Fatalf("unexpected message %+v", msg)
		}
	}
	if err := hub.Send("nobody", "x"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSlowSessionIsDroppedWithoutBlocking(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer srv.Close()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// No writer runs, so the queue never drains.
	s := newSession("d1", <-conns, 1)
	hub := NewHub(nil)
	hub.sessions["d1"] = map[*Session]struct{}{s: {}}

	if err := s.Send("first"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- hub.Send("d1", "second") }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrSlowSession) {
			t.Fatalf("expected ErrSlowSession, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked on a slow session")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("slow session not closed")
	}
	if len(hub.snapshot("d1")) != 0 {
		t.Fatal("slow session still registered")
	}
	if err := s.Send("third"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
