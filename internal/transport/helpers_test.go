package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/protocol"
)

var testLogger = zerolog.Nop()

func testEvent(text string) *caption.Event {
	return caption.New(text, caption.ModeSpeech, 1, 0.9, time.Unix(1700000000, 0))
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

// readMessages reads n framed messages from conn.
func readMessages(t *testing.T, conn net.Conn, n int) []string {
	t.Helper()
	scanner := protocol.NewScanner()
	buf := make([]byte, 1024)
	var msgs []string

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for len(msgs) < n {
		read, err := conn.Read(buf)
		if read > 0 {
			scanner.Feed(buf[:read])
			msgs = append(msgs, scanner.Messages()...)
		}
		if err != nil {
			t.Fatalf("Expected %d messages, got %d before error: %v", n, len(msgs), err)
		}
	}
	return msgs
}

// failingConn accepts no writes and blocks reads until closed.
type failingConn struct {
	closed      chan struct{}
	deadlineErr error
	once   sync.Once
	writes int
	mu     sync.Mutex
}

func newFailingConn() *failingConn {
	return &failingConn{closed: make(chan struct{})}
}

func (f *failingConn) Read(b []byte) (int, error) {
	<-f.closed
	return 0, net.ErrClosed
}

func (f *failingConn) Write(b []byte) (int, error) {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return 0, errors.New("broken pipe")
}

func (f *failingConn) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *failingConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *failingConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (f *failingConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (f *failingConn) SetDeadline(t time.Time) error      { return nil }
func (f *failingConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *failingConn) SetWriteDeadline(t time.Time) error { return f.deadlineErr }

// recordingBroadcaster stores everything it is asked to deliver.
type recordingBroadcaster struct {
	mu       sync.Mutex
	events   []*caption.Event
	started  bool
	stopped  bool
	startErr error
	sendErr  error
}

func (r *recordingBroadcaster) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, ev *caption.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingBroadcaster) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *recordingBroadcaster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
