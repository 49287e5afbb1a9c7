package audio

import (
	"context"
	"time"
)

// guardedListener pauses the ambient monitor for the duration of each
// listen call, so a conversation owns the microphone exclusively.
type guardedListener struct {
	inner   Listener
	monitor *Monitor
}

// Guarded wraps a listener so each Listen call pauses the ambient
// monitor and resumes it afterward. A nil monitor returns the listener
// unchanged.
func Guarded(l Listener, m *Monitor) Listener {
	if m == nil {
		return l
	}
	return &guardedListener{inner: l, monitor: m}
}

func (g *guardedListener) Listen(ctx context.Context, timeout time.Duration) (string, error) {
	g.monitor.Pause()
	defer g.monitor.Resume()
	return g.inner.Listen(ctx, timeout)
}
