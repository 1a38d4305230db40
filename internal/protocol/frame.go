package protocol

import (
	"bytes"
	"sync"
)

// Frame markers.
const (
	StartByte = 'S'
	EndByte   = 'E'
	Trailer   = '\n'

	// MaxFrameSize bounds an unterminated frame. Once exceeded the scanner
	// abandons it and resyncs on the next start byte.
	MaxFrameSize = 64 * 1024
)

// Encode wraps payload in a frame.
func Encode(payload string) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, StartByte)
	frame = append(frame, payload...)
	frame = append(frame, EndByte, Trailer)
	return frame
}

// Scanner extracts frames from a byte stream that may split or merge them
// arbitrarily across reads. It is safe for concurrent use.
type Scanner struct {
	buf []byte
	mu  sync.Mutex
}

// NewScanner creates an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed appends received bytes.
func (s *Scanner) Feed(data []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, data...)
	s.mu.Unlock()
}

// Next returns the next complete message. It reports false when the buffer
// holds no complete frame yet; the partial frame is kept for the next Feed.
func (s *Scanner) Next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		start := bytes.IndexByte(s.buf, StartByte)
		if start < 0 {
			// Nothing here can begin a frame.
			s.buf = s.buf[:0]
			return "", false
		}

		end := bytes.IndexByte(s.buf[start+1:], EndByte)
		if end < 0 {
			s.drop(start)
			if len(s.buf) > MaxFrameSize {
				// Give up on this frame and look for a later start byte.
				s.drop(1)
				continue
			}
			return "", false
		}
		end += start + 1

		msg := string(s.buf[start+1 : end])
		s.drop(end + 1)
		return msg, true
	}
}

// Messages drains every complete message currently buffered.
func (s *Scanner) Messages() []string {
	var out []string
	for {
		msg, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// Buffered returns the number of bytes waiting for a frame to complete.
func (s *Scanner) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Reset clears any buffered data.
func (s *Scanner) Reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// drop removes the first n bytes; must be called with the lock held.
func (s *Scanner) drop(n int) {
	if n <= 0 {
		return
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
}
