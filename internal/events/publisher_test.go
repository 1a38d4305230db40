package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Jxke/soundsight/internal/caption"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testEvent() *caption.Event {
	return caption.New("door knock", caption.ModeSound, 4, 0.7, time.Unix(1700000000, 0))
}

func TestNewDisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", Config{Enabled: true, Brokers: []string{}}},
		{"nil brokers", Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, zerolog.Nop(), nil)
			if p.Enabled() {
				t.Error("Expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Error("Expected nil writer when disabled")
			}
			if err := p.Broadcast(context.Background(), testEvent()); err != nil {
				t.Errorf("Expected log-only broadcast to succeed, got %v", err)
			}
			if err := p.Stop(); err != nil {
				t.Errorf("Stop failed: %v", err)
			}
		})
	}
}

func TestNewEnabled(t *testing.T) {
	p := New(Config{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "captions"}, zerolog.Nop(), nil)
	if !p.Enabled() {
		t.Fatal("Expected publisher to be enabled")
	}
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("Expected *kafka.Writer, got %T", p.writer)
	}
	if w.Topic != "captions" {
		t.Errorf("Expected topic captions, got %s", w.Topic)
	}
}

func TestBroadcastWritesMessage(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{writer: fw, topic: "captions", clientID: "soundsight-1", enabled: true, logger: zerolog.Nop()}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Broadcast(context.Background(), testEvent()); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if len(fw.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "sound" {
		t.Errorf("Expected key sound, got %s", msg.Key)
	}

	var body map[string]any
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("Message is not JSON: %v", err)
	}
	if body["type"] != "caption" || body["text"] != "door knock" || body["source"] != "soundsight-1" {
		t.Errorf("Unexpected body: %v", body)
	}
	if id, _ := body["id"].(string); id == "" {
		t.Error("Expected event id")
	}

	if err := p.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if !fw.closed {
		t.Error("Expected writer to be closed")
	}
}

func TestBroadcastWriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	p := &Publisher{writer: fw, topic: "captions", enabled: true, logger: zerolog.Nop()}

	if err := p.Broadcast(context.Background(), testEvent()); err == nil {
		t.Error("Expected write error")
	}
	if err := p.Broadcast(context.Background(), nil); err == nil {
		t.Error("Expected error for nil event")
	}
}
