package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ehailing/internal/observability"
)

const ipinfoBaseURL = "https://ipinfo.io"

// IPInfoClient looks up the caller's city from their IP address.
type IPInfoClient struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

func NewIPInfoClient(token string) *IPInfoClient {
	return &IPInfoClient{Token: token, BaseURL: ipinfoBaseURL, HTTP: &http.Client{Timeout: 3 * time.Second}}
}

// City returns "City, Region" for ip, or the lookup host's own location
// when ip is empty.
func (c *IPInfoClient) City(ctx context.Context, ip string) (string, error) {
	observability.MapsLookups.WithLabelValues("ipinfo", "false").Inc()
	path := "/json"
	if ip != "" {
		path = "/" + url.PathEscape(ip) + "/json"
	}
	u := c.BaseURL + path
	if c.Token != "" {
		u += "?token=" + url.QueryEscape(c.Token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipinfo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipinfo: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		City   string `json:"city"`
		Region string `json:"region"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ipinfo decode: %w", err)
	}
	if out.City == "" {
		return "", ErrNoResults
	}
	if out.Region != "" && out.Region != out.City {
		return out.City + ", " + out.Region, nil
	}
	return out.City, nil
}
