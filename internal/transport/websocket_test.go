package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Jxke/soundsight/internal/protocol"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBroadcastJSON(t *testing.T) {
	ws := NewWebSocketServer(WebSocketConfig{}, testLogger, nil)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()
	defer ws.Stop()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn := dialWS(t, url)
	waitFor(t, 2*time.Second, func() bool { return ws.Connections() == 1 })

	if err := ws.Broadcast(context.Background(), testEvent("hello there")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("Expected text message, got %d", msgType)
	}

	var msg protocol.CaptionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Expected JSON payload: %v", err)
	}
	if msg.Type != "caption" || msg.Text != "hello there" || msg.Direction != 1 {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestWebSocketPrunesClosedClient(t *testing.T) {
	ws := NewWebSocketServer(WebSocketConfig{Format: protocol.FormatText}, testLogger, nil)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()
	defer ws.Stop()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	stay := dialWS(t, url)
	leave := dialWS(t, url)
	waitFor(t, 2*time.Second, func() bool { return ws.Connections() == 2 })

	leave.Close()
	waitFor(t, 2*time.Second, func() bool { return ws.Connections() == 1 })

	if err := ws.Broadcast(context.Background(), testEvent("still here")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	stay.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := stay.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(data) != "still here" {
		t.Errorf("Expected plain text payload, got %q", data)
	}
}

func TestWebSocketStartStop(t *testing.T) {
	ws := NewWebSocketServer(WebSocketConfig{BindAddress: "127.0.0.1", Path: "/captions"}, testLogger, nil)
	if err := ws.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn := dialWS(t, "ws://"+ws.Addr().String()+"/captions")
	waitFor(t, 2*time.Second, func() bool { return ws.Connections() == 1 })

	if err := ws.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ws.Connections() != 0 {
		t.Errorf("Expected no clients after stop, got %d", ws.Connections())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection closed after stop")
	}
}
