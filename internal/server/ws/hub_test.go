package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubStatus struct {
	status domain.EngineStatus
}

func (s stubStatus) Status() domain.EngineStatus { return s.status }

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(msg, &body); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return body
}

func TestHubDeliversEventsToClient(t *testing.T) {
	hub := NewHub(stubStatus{status: domain.StatusRunning}, testLogger(), Config{Mode: "paper"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The first frame is the connect snapshot.
	snapshot := readFrame(t, conn)
	if snapshot["type"] != "engine_status" {
		t.Fatalf("first frame type = %v, want engine_status", snapshot["type"])
	}
	payload := snapshot["payload"].(map[string]any)
	if payload["mode"] != "paper" || payload["engine_status"] != "running" {
		t.Errorf("snapshot payload = %v", payload)
	}
	if payload["ws_connected"] != true {
		t.Errorf("ws_connected = %v, want true", payload["ws_connected"])
	}

	hub.Broadcast(domain.Event{
		Type: domain.EventTradeFinished,
		At:   time.Now().UTC(),
		Attempt: &domain.TradeAttempt{
			ID:       "attempt-1",
			State:    domain.AttemptSuccess,
			NetQuote: 2.4,
		},
	})

	frame := readFrame(t, conn)
	if frame["type"] != string(domain.EventTradeFinished) {
		t.Fatalf("frame type = %v, want %s", frame["type"], domain.EventTradeFinished)
	}
	attempt := frame["attempt"].(map[string]any)
	if attempt["id"] != "attempt-1" {
		t.Errorf("attempt id = %v, want attempt-1", attempt["id"])
	}
}

func TestClientSubscriptionFiltering(t *testing.T) {
	c := &client{subs: make(map[string]bool)}
	for _, ch := range eventChannels {
		c.subs[ch] = true
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{string(domain.EventError)}})
	if c.isSubscribed(string(domain.EventError)) {
		t.Error("still subscribed to error after unsubscribe")
	}
	if !c.isSubscribed(string(domain.EventTradeFinished)) {
		t.Error("unsubscribe removed unrelated channel")
	}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{string(domain.EventError)}})
	if !c.isSubscribed(string(domain.EventError)) {
		t.Error("resubscribe did not take effect")
	}
}

func TestWildcardSubscription(t *testing.T) {
	c := &client{subs: map[string]bool{"trade_*": true}}

	if !c.isSubscribed(string(domain.EventTradeStarted)) {
		t.Error("trade_* should match trade_started")
	}
	if !c.isSubscribed(string(domain.EventTradeFinished)) {
		t.Error("trade_* should match trade_finished")
	}
	if c.isSubscribed(string(domain.EventStatusChange)) {
		t.Error("trade_* must not match status_change")
	}
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(nil, testLogger(), Config{Mode: "paper"})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readFrame(t, conn) // connect snapshot

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}

	// The server closes the connection; the client read eventually fails.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
