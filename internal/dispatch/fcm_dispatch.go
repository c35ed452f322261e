package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ehailing/internal/models"
)

// TokenSource finds a driver's device push token.
type TokenSource interface {
	GetDriver(ctx context.Context, uid string) (*models.DriverProfile, error)
}

// FCMDispatcher posts a data message to the FCM HTTP v1 endpoint when a
// ride is targeted at a driver.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Tokens   TokenSource
	Client   *http.Client
	Logger   *slog.Logger
}

func NewFCMDispatcher(endpoint, key string, tokens TokenSource, logger *slog.Logger) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Tokens: tokens, Client: &http.Client{Timeout: 3 * time.Second}, Logger: logger}
}

func (f *FCMDispatcher) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	r := ev.Ride
	if ev.To != models.StatusDriverRequested || r.DriverPreferred == nil {
		return nil
	}
	driverID := *r.DriverPreferred
	profile, err := f.Tokens.GetDriver(ctx, driverID)
	if err != nil {
		return fmt.Errorf("fcm token lookup for %s: %w", driverID, err)
	}
	if profile.PushToken == "" {
		return nil
	}
	return f.send(ctx, profile.PushToken, map[string]string{
		"type":    "ride_request",
		"ride_id": r.ID,
		"pickup":  r.PickupText,
		"fare":    fmt.Sprintf("%d", r.EstimatedFareZAR),
	})
}

func (f *FCMDispatcher) send(ctx context.Context, token string, data map[string]string) error {
	body := map[string]interface{}{"message": map[string]interface{}{"token": token, "data": data}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("fcm send: " + resp.Status)
	}
	if f.Logger != nil {
		f.Logger.Debug("fcm push sent", "ride_id", data["ride_id"])
	}
	return nil
}
