package graph

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tradewatch-notifier/pkg/notifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Variables["owner"] != "0xabc" {
			t.Errorf("owner variable = %v, want 0xabc (normalized)", req.Variables["owner"])
		}
		_, _ = w.Write([]byte(`{"data": {"positions": [
			{"market": {"id": "m1", "label": "Alice Market"}, "shares": "1000000000000000000"},
			{"market": {"id": "m2", "label": "Bob Market"}, "shares": "500000000000000000"}
		]}}`))
	}))
	defer server.Close()

	client := New(server.URL, testLogger())
	positions, err := client.Positions(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("Positions() error = %v", err)
	}

	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(positions))
	}
	if positions[0].MarketID != "m1" || positions[0].MarketLabel != "Alice Market" {
		t.Errorf("unexpected first position: %+v", positions[0])
	}
}

func TestMarketActivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"trades": [{
			"id": "ev-1",
			"kind": "buy",
			"timestamp": 1764590400,
			"txHash": "0xdead",
			"shares": "1000000000000000000",
			"assets": "500000000000000000",
			"market": {"label": "Alice Market"},
			"sender": {"id": "0xBOB", "label": "Bob"}
		}]}}`))
	}))
	defer server.Close()

	client := New(server.URL, testLogger())
	events, err := client.MarketActivity(context.Background(), []string{"m1"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("MarketActivity() error = %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != "ev-1" {
		t.Errorf("ID = %q", ev.ID)
	}
	if ev.Kind != notifier.TradeAcquired {
		t.Errorf("Kind = %q, want acquired", ev.Kind)
	}
	if ev.SenderID != "0xbob" {
		t.Errorf("SenderID = %q, want normalized 0xbob", ev.SenderID)
	}
	if ev.Timestamp.Unix() != 1764590400 {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
}

func TestEmptyInputsSkipRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data": {"trades": []}}`))
	}))
	defer server.Close()

	client := New(server.URL, testLogger())

	if _, err := client.MarketActivity(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("MarketActivity(nil) error = %v", err)
	}
	if _, err := client.TraderActivity(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("TraderActivity(nil) error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("made %d requests for empty inputs, want 0", calls.Load())
	}
}

func TestServerErrorRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, testLogger())
	_, err := client.Positions(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("expected error for 502 responses")
	}
	if calls.Load() != 3 {
		t.Errorf("made %d attempts, want 3", calls.Load())
	}
}

func TestGraphQLErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"errors": [{"message": "unknown field"}]}`))
	}))
	defer server.Close()

	client := New(server.URL, testLogger())
	_, err := client.Positions(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("expected error for graphql errors")
	}
	if calls.Load() != 1 {
		t.Errorf("made %d attempts, want 1 (unrecoverable)", calls.Load())
	}
}
