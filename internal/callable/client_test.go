package callable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallSendsDataAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getWalletBalance" {
			t.Errorf("path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization %q", got)
		}
		var body struct {
			Data map[string]int `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Data["limit"] != 3 {
			t.Errorf("data %v", body.Data)
		}
		fmt.Fprint(w, `{"result":{"balance":120.5,"currency":"ZAR"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	var out struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
	}
	ctx := WithIDToken(context.Background(), "tok-1")
	if err := c.Call(ctx, "getWalletBalance", map[string]int{"limit": 3}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Balance != 120.5 || out.Currency != "ZAR" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestCallStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"status":"FAILED_PRECONDITION","message":"Insufficient balance","details":{"code":"INSUFFICIENT_BALANCE"}}}`)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 0).Call(context.Background(), "payDriverOnComplete", nil, nil)
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ce.Status != "FAILED_PRECONDITION" || !HasCode(err, "INSUFFICIENT_BALANCE") {
		t.Fatalf("unexpected error %+v", ce)
	}
}

func TestHasCodeIgnoresMessageText(t *testing.T) {
	err := &Error{Function: "payDriverOnComplete", Status: "INTERNAL", Message: "insufficient balance"}
	if HasCode(err, "INSUFFICIENT_BALANCE") {
		t.Fatal("message text must not be matched")
	}
	if HasCode(errors.New("INSUFFICIENT_BALANCE"), "INSUFFICIENT_BALANCE") {
		t.Fatal("plain errors carry no code")
	}
}

func TestCallNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewClient(srv.URL, 0).Call(context.Background(), "transferFunds", nil, nil)
	var ce *Error
	if !errors.As(err, &ce) || ce.Status != "Bad Gateway" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	if got := BaseURL("", "demo"); got != "https://us-central1-demo.cloudfunctions.net" {
		t.Fatalf("got %s", got)
	}
}
