// Package maps wraps the geocoding, places and directions lookups used to
// label pickups and price trips.
package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ehailing/internal/models"
	"github.com/example/ehailing/internal/observability"
)

const googleBaseURL = "https://maps.googleapis.com"

var ErrNoResults = errors.New("no results")

type Prediction struct {
	PlaceID     string `json:"placeId"`
	Description string `json:"description"`
}

type Place struct {
	PlaceID string       `json:"placeId"`
	Name    string       `json:"name"`
	Address string       `json:"address"`
	Coord   models.Coord `json:"coord"`
}

type Route struct {
	DistanceKm  float64 `json:"distanceKm"`
	DurationSec float64 `json:"durationSec"`
}

type GoogleClient struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
	Cache   Cache // optional
	Logger  *slog.Logger
}

func NewGoogleClient(apiKey string, cache Cache, logger *slog.Logger) *GoogleClient {
	return &GoogleClient{
		APIKey:  apiKey,
		BaseURL: googleBaseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		Cache:   cache,
		Logger:  logger,
	}
}

func (g *GoogleClient) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func fmtLatLng(c models.Coord) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

// get runs a cached GET against path and decodes into out. Google reports
// failures in the body, read back through status.
func (g *GoogleClient) get(ctx context.Context, api, path string, q url.Values, out interface{}, status func() string) error {
	key := api + ":" + q.Encode()
	if g.Cache != nil {
		if ok, err := g.Cache.Get(ctx, key, out); err != nil {
			g.logger().Warn("maps cache read failed", "api", api, "error", err)
		} else if ok {
			observability.MapsLookups.WithLabelValues(api, "true").Inc()
			return nil
		}
	}
	observability.MapsLookups.WithLabelValues(api, "false").Inc()

	q.Set("key", g.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", api, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", api, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", api, err)
	}
	switch s := status(); s {
	case "OK":
	case "ZERO_RESULTS":
		return ErrNoResults
	default:
		return fmt.Errorf("%s: status %s", api, s)
	}
	if g.Cache != nil {
		if err := g.Cache.Set(ctx, key, out); err != nil {
			g.logger().Warn("maps cache write failed", "api", api, "error", err)
		}
	}
	return nil
}

// ReverseGeocode returns the formatted address nearest to c.
func (g *GoogleClient) ReverseGeocode(ctx context.Context, c models.Coord) (string, error) {
	var out struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
		} `json:"results"`
	}
	q := url.Values{"latlng": {fmtLatLng(c)}}
	if err := g.get(ctx, "geocode", "/maps/api/geocode/json", q, &out, func() string { return out.Status }); err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", ErrNoResults
	}
	return out.Results[0].FormattedAddress, nil
}

// Autocomplete suggests places for input, biased towards near.
func (g *GoogleClient) Autocomplete(ctx context.Context, input string, near *models.Coord) ([]Prediction, error) {
	var out struct {
		Status      string `json:"status"`
		Predictions []struct {
			PlaceID     string `json:"place_id"`
			Description string `json:"description"`
		} `json:"predictions"`
	}
	q := url.Values{"input": {input}}
	if near != nil {
		q.Set("location", fmtLatLng(*near))
		q.Set("radius", "20000")
	}
	err := g.get(ctx, "autocomplete", "/maps/api/place/autocomplete/json", q, &out, func() string { return out.Status })
	if errors.Is(err, ErrNoResults) {
		return []Prediction{}, nil
	}
	if err != nil {
		return nil, err
	}
	preds := make([]Prediction, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		preds = append(preds, Prediction{PlaceID: p.PlaceID, Description: p.Description})
	}
	return preds, nil
}

// PlaceDetails resolves a place id to its coordinates.
func (g *GoogleClient) PlaceDetails(ctx context.Context, placeID string) (Place, error) {
	var out struct {
		Status string `json:"status"`
		Result struct {
			Name             string `json:"name"`
			FormattedAddress string `json:"formatted_address"`
			Geometry         struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"result"`
	}
	q := url.Values{"place_id": {placeID}, "fields": {"name,formatted_address,geometry"}}
	if err := g.get(ctx, "place_details", "/maps/api/place/details/json", q, &out, func() string { return out.Status }); err != nil {
		return Place{}, err
	}
	loc := out.Result.Geometry.Location
	return Place{
		PlaceID: placeID,
		Name:    out.Result.Name,
		Address: out.Result.FormattedAddress,
		Coord:   models.Coord{Lat: loc.Lat, Lng: loc.Lng},
	}, nil
}

// Directions returns the driving distance and duration of the first route.
func (g *GoogleClient) Directions(ctx context.Context, from, to models.Coord) (Route, error) {
	var out struct {
		Status string `json:"status"`
		Routes []struct {
			Legs []struct {
				Distance struct {
					Value float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Value float64 `json:"value"`
				} `json:"duration"`
			} `json:"legs"`
		} `json:"routes"`
	}
	q := url.Values{"origin": {fmtLatLng(from)}, "destination": {fmtLatLng(to)}, "mode": {"driving"}}
	if err := g.get(ctx, "directions", "/maps/api/directions/json", q, &out, func() string { return out.Status }); err != nil {
		return Route{}, err
	}
	if len(out.Routes) == 0 {
		return Route{}, ErrNoResults
	}
	var r Route
	for _, leg := range out.Routes[0].Legs {
		r.DistanceKm += leg.Distance.Value / 1000
		r.DurationSec += leg.Duration.Value
	}
	return r, nil
}

// EstimateSeconds lets the matcher use Directions for driver ETAs.
func (g *GoogleClient) EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	r, err := g.Directions(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return r.DurationSec, nil
}
