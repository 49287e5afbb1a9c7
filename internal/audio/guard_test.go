package audio

import (
	"context"
	"testing"
	"time"
)

type pauseCheckListener struct {
	m      *Monitor
	paused bool
}

func (l *pauseCheckListener) Listen(context.Context, time.Duration) (string, error) {
	l.paused = l.m.Paused()
	return "hello", nil
}

func TestGuardedListenerPausesMonitor(t *testing.T) {
	m := NewMonitor(&scriptedListener{}, time.Millisecond, time.Millisecond, nil, nil)
	inner := &pauseCheckListener{m: m}
	g := Guarded(inner, m)

	text, err := g.Listen(context.Background(), time.Second)
	if err != nil || text != "hello" {
		t.Fatalf("Listen = %q, %v", text, err)
	}
	if !inner.paused {
		t.Error("monitor not paused during Listen")
	}
	if m.Paused() {
		t.Error("monitor still paused after Listen")
	}
}

func TestGuardedNilMonitor(t *testing.T) {
	inner := &scriptedListener{}
	if got := Guarded(inner, nil); got != Listener(inner) {
		t.Error("nil monitor should return the listener unchanged")
	}
}
