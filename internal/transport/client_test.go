package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Jxke/soundsight/internal/protocol"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, l.Addr().(*net.TCPAddr).Port
}

func accept(t *testing.T, l net.Listener) net.Conn {
	t.Helper()
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Accept failed: %v", r.err)
		}
		t.Cleanup(func() { r.conn.Close() })
		return r.conn
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for client connection")
		return nil
	}
}

func newTestClient(t *testing.T, port int) *Client {
	t.Helper()
	c := NewClient(ClientConfig{
		Host:         "127.0.0.1",
		Port:         port,
		Format:       protocol.FormatText,
		Backoff:      20 * time.Millisecond,
		WriteTimeout: time.Second,
	}, testLogger, nil)
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestClientDropsWhenDisconnected(t *testing.T) {
	c := NewClient(ClientConfig{Host: "127.0.0.1", Port: 1}, testLogger, nil)

	if err := c.Broadcast(context.Background(), testEvent("lost")); err != nil {
		t.Errorf("Expected nil error when disconnected, got %v", err)
	}
	if err := c.Send("lost"); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	stats := c.Stats()
	if stats.Dropped != 2 {
		t.Errorf("Expected 2 dropped, got %d", stats.Dropped)
	}
	if stats.Connected {
		t.Error("Expected disconnected client")
	}
}

func TestClientSendsFrames(t *testing.T) {
	l, port := listen(t)
	c := newTestClient(t, port)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server := accept(t, l)
	waitFor(t, 2*time.Second, c.Connected)

	if err := c.Broadcast(context.Background(), testEvent("hello")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	msgs := readMessages(t, server, 1)
	if msgs[0] != "hello" {
		t.Errorf("Expected hello, got %q", msgs[0])
	}
	if c.Stats().FramesSent != 1 {
		t.Errorf("Expected 1 frame sent, got %d", c.Stats().FramesSent)
	}
}

func TestClientReceivesFrames(t *testing.T) {
	l, port := listen(t)
	c := newTestClient(t, port)

	var mu sync.Mutex
	var got []string
	c.OnMessage(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server := accept(t, l)

	server.Write([]byte("junkSfirstE\nSsec"))
	server.Write([]byte("ondE\n"))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("Expected [first second], got %q", got)
	}
}

func TestClientReconnects(t *testing.T) {
	l, port := listen(t)
	c := newTestClient(t, port)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := accept(t, l)
	waitFor(t, 2*time.Second, c.Connected)
	first.Close()

	second := accept(t, l)
	waitFor(t, 2*time.Second, func() bool { return c.Stats().Connects == 2 })
	waitFor(t, 2*time.Second, c.Connected)

	if err := c.Send("back"); err != nil {
		t.Fatalf("Send after reconnect failed: %v", err)
	}
	msgs := readMessages(t, second, 1)
	if msgs[0] != "back" {
		t.Errorf("Expected back, got %q", msgs[0])
	}
}

func TestClientRetriesUntilServerAppears(t *testing.T) {
	// Reserve a port, then free it so the first attempts fail.
	l, port := listen(t)
	l.Close()

	c := newTestClient(t, port)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if c.Connected() {
		t.Fatal("Expected no connection while server is down")
	}

	l2, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Skipf("Port %d was taken before it could be reused: %v", port, err)
	}
	defer l2.Close()

	accept(t, l2)
	waitFor(t, 2*time.Second, c.Connected)
}

func TestClientStop(t *testing.T) {
	l, port := listen(t)
	c := newTestClient(t, port)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	server := accept(t, l)
	waitFor(t, 2*time.Second, c.Connected)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if c.Connected() {
		t.Error("Expected no connection after stop")
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Read(make([]byte, 1)); err == nil {
		t.Error("Expected client socket to be closed")
	}

	if err := c.Start(context.Background()); err == nil {
		t.Error("Expected error when restarting a stopped client")
	}
}

func TestClientSendFailsOnDeadlineError(t *testing.T) {
	c := NewClient(ClientConfig{Host: "127.0.0.1", Port: 1, WriteTimeout: time.Second}, testLogger, nil)

	conn := newFailingConn()
	conn.deadlineErr = errors.New("deadline unsupported")
	c.conn = conn

	if err := c.Send("hello"); err == nil {
		t.Fatal("Expected send error")
	}
	if conn.Writes() != 0 {
		t.Errorf("Expected no write attempt, got %d", conn.Writes())
	}
	if c.Connected() {
		t.Error("Expected connection to be cleared")
	}
	if c.Stats().Dropped != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", c.Stats().Dropped)
	}
}
