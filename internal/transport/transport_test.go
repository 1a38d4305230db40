package transport

import (
	"context"
	"errors"
	"testing"
)

func TestMultiBroadcast(t *testing.T) {
	a := &recordingBroadcaster{}
	b := &recordingBroadcaster{sendErr: errors.New("down")}
	c := &recordingBroadcaster{}

	m := NewMulti(testLogger, a, nil, b, c)
	if m.Len() != 3 {
		t.Fatalf("Expected 3 targets, got %d", m.Len())
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := m.Broadcast(context.Background(), testEvent("hi"))
	if err == nil {
		t.Error("Expected joined error from failing target")
	}
	if a.Count() != 1 || c.Count() != 1 {
		t.Errorf("Expected healthy targets to receive the event, got %d and %d", a.Count(), c.Count())
	}

	if err := m.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if !a.stopped || !b.stopped || !c.stopped {
		t.Error("Expected every target to be stopped")
	}
}

func TestMultiStartRollback(t *testing.T) {
	a := &recordingBroadcaster{}
	b := &recordingBroadcaster{startErr: errors.New("port in use")}

	m := NewMulti(testLogger, a, b)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Expected start error")
	}
	if !a.stopped {
		t.Error("Expected started target to be stopped after failure")
	}
}
