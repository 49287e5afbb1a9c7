// Package presence tracks who is currently in view of the camera and
// raises arrival and departure events with hysteresis: a face must be
// continuously visible before an arrival fires, and briefly losing a
// face does not count as a departure.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wardenhq/attendant/internal/config"
	"github.com/wardenhq/attendant/internal/events"
	"github.com/wardenhq/attendant/internal/vision"
)

// tracked holds per-identity presence state.
type tracked struct {
	name              string
	firstSeen         time.Time
	lastSeen          time.Time
	box               vision.Rect
	greeted           bool
	lastGreeted       time.Time
	inConversation    bool
	consecutiveFrames int
}

// Status is a read-only snapshot of one tracked identity, exposed for
// the status API.
type Status struct {
	Name              string  `json:"name"`
	PresenceSecs      float64 `json:"presence_secs"`
	LastSeenAgoSecs   float64 `json:"last_seen_ago_secs"`
	Greeted           bool    `json:"greeted"`
	InConversation    bool    `json:"in_conversation"`
	ConsecutiveFrames int     `json:"consecutive_frames"`
}

// Tracker maintains the set of currently visible identities. Update is
// driven by a single detection loop; the mutex protects against status
// reads and conversation-state changes from other goroutines.
//
// OnArrival and OnDeparture fire synchronously from within Update, but
// after the tracker lock has been released, so callbacks may call back
// into the tracker (MarkInConversation and friends) without
// deadlocking. Set them before the first Update call.
type Tracker struct {
	OnArrival   func(name string)
	OnDeparture func(name string)

	presenceThreshold  time.Duration
	departureThreshold time.Duration
	greetingCooldown   time.Duration

	mu      sync.Mutex
	tracked map[string]*tracked

	now    func() time.Time
	logger *slog.Logger
	bus    *events.Bus
}

// NewTracker creates a presence tracker. bus may be nil.
func NewTracker(cfg config.PresenceConfig, logger *slog.Logger, bus *events.Bus) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		presenceThreshold:  cfg.PresenceThreshold,
		departureThreshold: cfg.DepartureThreshold,
		greetingCooldown:   cfg.GreetingCooldown,
		tracked:            make(map[string]*tracked),
		now:                time.Now,
		logger:             logger.With("component", "presence"),
		bus:                bus,
	}
}

// Update processes one complete detection snapshot. Detections must be
// the full current frame contents, not a diff. Arrival and departure
// callbacks fire before Update returns.
func (t *Tracker) Update(detections []vision.Detection) {
	now := t.now()

	var arrivals, departures []string

	t.mu.Lock()
	seen := make(map[string]bool, len(detections))
	for _, d := range detections {
		// All unrecognized faces share the single unknown identity, so
		// at most one stranger is tracked at a time.
		name := d.Name
		seen[name] = true

		p, ok := t.tracked[name]
		if !ok {
			t.logger.Debug("new person in view", "name", name)
			t.tracked[name] = &tracked{
				name:              name,
				firstSeen:         now,
				lastSeen:          now,
				box:               d.Box,
				consecutiveFrames: 1,
			}
			continue
		}

		p.lastSeen = now
		p.box = d.Box
		p.consecutiveFrames++

		if p.inConversation {
			continue
		}
		presence := now.Sub(p.firstSeen)
		if presence < t.presenceThreshold {
			continue
		}
		if p.greeted && now.Sub(p.lastGreeted) < t.greetingCooldown {
			continue
		}

		p.greeted = true
		p.lastGreeted = now
		arrivals = append(arrivals, name)
		t.logger.Info("arrival", "name", name, "presence", presence)
	}

	for name, p := range t.tracked {
		if seen[name] {
			continue
		}
		p.consecutiveFrames = 0
		if now.Sub(p.lastSeen) < t.departureThreshold {
			continue
		}
		if p.inConversation {
			departures = append(departures, name)
		}
		delete(t.tracked, name)
		t.logger.Info("departed", "name", name, "in_conversation", p.inConversation)
	}
	t.mu.Unlock()

	for _, name := range arrivals {
		t.bus.Publish(events.Event{
			Source: events.SourcePresence,
			Kind:   events.KindArrival,
			Data:   map[string]any{"name": name},
		})
		if t.OnArrival != nil {
			t.OnArrival(name)
		}
	}
	for _, name := range departures {
		t.bus.Publish(events.Event{
			Source: events.SourcePresence,
			Kind:   events.KindDeparture,
			Data:   map[string]any{"name": name},
		})
		if t.OnDeparture != nil {
			t.OnDeparture(name)
		}
	}
}

// MarkInConversation flags a tracked person as conversing, which
// suppresses further arrival events for them.
func (t *Tracker) MarkInConversation(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.tracked[name]; ok {
		p.inConversation = true
		p.greeted = true
	}
}

// MarkConversationEnded clears the conversing flag and refreshes the
// greeting timestamp so the person is not immediately re-greeted while
// they remain in view.
func (t *Tracker) MarkConversationEnded(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.tracked[name]; ok {
		p.inConversation = false
		p.greeted = true
		p.lastGreeted = t.now()
	}
}

// IsPresent reports whether name is currently tracked.
func (t *Tracker) IsPresent(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tracked[name]
	return ok
}

// PersonInConversation returns the name flagged as conversing, or "".
func (t *Tracker) PersonInConversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, p := range t.tracked {
		if p.inConversation {
			return name
		}
	}
	return ""
}

// Tracked returns the names of everyone currently tracked.
func (t *Tracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.tracked))
	for name := range t.tracked {
		names = append(names, name)
	}
	return names
}

// Snapshot returns the current presence state for the status API.
func (t *Tracker) Snapshot() []Status {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Status, 0, len(t.tracked))
	for _, p := range t.tracked {
		out = append(out, Status{
			Name:              p.name,
			PresenceSecs:      now.Sub(p.firstSeen).Seconds(),
			LastSeenAgoSecs:   now.Sub(p.lastSeen).Seconds(),
			Greeted:           p.greeted,
			InConversation:    p.inConversation,
			ConsecutiveFrames: p.consecutiveFrames,
		})
	}
	return out
}

// Clear drops all tracked identities.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = make(map[string]*tracked)
}
