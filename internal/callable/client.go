// Package callable invokes named remote functions over the HTTPS callable
// protocol: POST {"data": ...} and read back {"result": ...} or {"error": ...}.
package callable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ehailing/internal/observability"
)

const DefaultRegion = "us-central1"

// Error is a failure reported by the remote function.
type Error struct {
	Function string
	Status   string // e.g. FAILED_PRECONDITION
	Message  string
	// Code is the structured business code from error.details.code.
	Code string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Function, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Function, e.Status, e.Message)
}

// HasCode reports whether err is a callable Error carrying code.
func HasCode(err error, code string) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

type tokenKey struct{}

// WithIDToken attaches the caller's ID token; Call forwards it as a bearer.
func WithIDToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func IDToken(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// BaseURL returns the functions endpoint for project in region.
func BaseURL(region, project string) string {
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://%s-%s.cloudfunctions.net", region, project)
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			Code string `json:"code"`
		} `json:"details"`
	} `json:"error"`
}

// Call invokes name with data and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, name string, data, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.CallableDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := IDToken(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", name, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &Error{Function: name, Status: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	if env.Error != nil {
		return &Error{Function: name, Status: env.Error.Status, Message: env.Error.Message, Code: env.Error.Details.Code}
	}
	if resp.StatusCode >= 400 {
		return &Error{Function: name, Status: http.StatusText(resp.StatusCode)}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}
