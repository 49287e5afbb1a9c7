package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenhq/attendant/internal/events"
)

// Monitor continuously listens for ambient speech while no conversation
// is active, so a person can start an interaction by talking instead of
// waiting to be greeted. The orchestrator pauses the monitor whenever a
// conversation turn needs the microphone; only one reader may use the
// audio input at a time.
type Monitor struct {
	// OnSpeech is called with each non-empty ambient transcription.
	// Set before Run.
	OnSpeech func(text string)

	listener Listener
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	paused    bool
	busy      bool
	resumed   *sync.Cond
	cycleDone *sync.Cond

	logger *slog.Logger
	bus    *events.Bus
}

// NewMonitor creates an ambient monitor. interval is the pause between
// listen cycles; timeout is the per-cycle listen window.
func NewMonitor(listener Listener, interval, timeout time.Duration, logger *slog.Logger, bus *events.Bus) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Monitor{
		listener: listener,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "ambient"),
		bus:      bus,
	}
	m.resumed = sync.NewCond(&m.mu)
	m.cycleDone = sync.NewCond(&m.mu)
	return m
}

// Pause stops the monitor from opening the microphone and blocks until
// any in-flight listen cycle has returned, so callers that need
// exclusive microphone access can Listen immediately after Pause.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	for m.busy {
		m.cycleDone.Wait()
	}
}

// Resume lets the monitor listen again.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.resumed.Broadcast()
}

// Paused reports whether the monitor is currently paused.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// beginCycle blocks until the monitor is unpaused, then claims the
// microphone for one listen cycle. The pause check and the claim happen
// under one lock acquisition so Pause cannot slip in between. Returns
// false when ctx ends first.
func (m *Monitor) beginCycle(ctx context.Context) bool {
	// Wake the cond waiter when the context ends.
	stop := context.AfterFunc(ctx, func() { m.resumed.Broadcast() })
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.paused && ctx.Err() == nil {
		m.resumed.Wait()
	}
	if ctx.Err() != nil {
		return false
	}
	m.busy = true
	return true
}

// endCycle releases the microphone claim and wakes any blocked Pause.
func (m *Monitor) endCycle() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
	m.cycleDone.Broadcast()
}

// Run executes the ambient listen loop until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("ambient monitor started", "interval", m.interval)
	defer m.logger.Info("ambient monitor stopped")

	for {
		if !m.beginCycle(ctx) {
			return
		}

		text, err := m.listener.Listen(ctx, m.timeout)
		m.endCycle()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("ambient listen failed", "error", err)
		} else if text != "" && !m.Paused() {
			// A pause that landed during the listen means a
			// conversation claimed the microphone; the captured text
			// belongs to that exchange, not to us.
			m.logger.Debug("ambient speech", "text", text)
			m.bus.Publish(events.Event{
				Source: events.SourceAudio,
				Kind:   events.KindTranscription,
				Data:   map[string]any{"text": text, "ambient": true},
			})
			if m.OnSpeech != nil {
				m.OnSpeech(text)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}
