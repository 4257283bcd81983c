package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestValidateToken(t *testing.T) {
	c := NewExpoClient(ExpoOptions{}, noopLogger())

	cases := map[string]bool{
		"ExponentPushToken[abc123]": true,
		"ExpoPushToken[abc123]":     true,
		"ExponentPushToken[abc":     false,
		"fcm-token-xyz":             false,
		"":                          false,
	}
	for token, want := range cases {
		if got := c.ValidateToken(token); got != want {
			t.Fatalf("ValidateToken(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestSendParsesTickets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/send" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(payload))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "ticket-1", "status": "ok"},
				{"status": "error", "message": "gone", "details": map[string]string{"error": "DeviceNotRegistered"}},
			},
		})
	}))
	defer srv.Close()

	c := NewExpoClient(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	tickets, err := c.Send(context.Background(), []Message{
		{Token: "ExponentPushToken[a]", Title: "t"},
		{Token: "ExponentPushToken[b]", Title: "t"},
	})
	if err != nil {
		t.Fatalf("Send should succeed: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(tickets))
	}
	if tickets[0].ID != "ticket-1" || tickets[0].Status != StatusOK {
		t.Fatalf("unexpected first ticket: %+v", tickets[0])
	}
	if tickets[1].Detail != DetailDeviceNotRegistered {
		t.Fatalf("details.error should win the detail field: %+v", tickets[1])
	}
}

func TestSendTicketCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	c := NewExpoClient(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.Send(context.Background(), []Message{{Token: "ExponentPushToken[a]"}}); err == nil {
		t.Fatal("mismatched ticket count should error")
	}
}

func TestReceipts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/getReceipts" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"ticket-1": map[string]any{"status": "ok"},
				"ticket-2": map[string]any{"status": "error", "details": map[string]string{"error": "DeviceNotRegistered"}},
			},
		})
	}))
	defer srv.Close()

	c := NewExpoClient(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	receipts, err := c.Receipts(context.Background(), []string{"ticket-1", "ticket-2"})
	if err != nil {
		t.Fatalf("Receipts should succeed: %v", err)
	}
	if receipts["ticket-1"].Status != StatusOK {
		t.Fatalf("unexpected receipt: %+v", receipts["ticket-1"])
	}
	if receipts["ticket-2"].Detail != DetailDeviceNotRegistered {
		t.Fatalf("unexpected receipt: %+v", receipts["ticket-2"])
	}
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewExpoClient(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.Send(context.Background(), []Message{{Token: "ExponentPushToken[a]"}}); err == nil {
		t.Fatal("HTTP 429 should surface as an error")
	}
}
