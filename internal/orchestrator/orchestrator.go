// Package orchestrator wires the detection loop, presence tracker,
// conversation engine, and ambient monitor together: it polls the
// camera for faces, feeds the tracker, and turns arrivals and
// departures into conversation starts and ends.
package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wardenhq/attendant/internal/audio"
	"github.com/wardenhq/attendant/internal/config"
	"github.com/wardenhq/attendant/internal/events"
	"github.com/wardenhq/attendant/internal/presence"
	"github.com/wardenhq/attendant/internal/vision"
)

// activityWindow is how recent an NVR person event must be for the
// poll loop to switch to the fast interval.
const activityWindow = 10 * time.Second

// Engine is the conversation surface the orchestrator drives.
// *convo.Engine satisfies it.
type Engine interface {
	StartSession(ctx context.Context, name string) bool
	StartSessionWithOpening(ctx context.Context, name, opening string) bool
	ForceEnd(reason string)
	Busy() bool
	CurrentPerson() string
}

// ActivitySource reports whether the camera scene has recent person
// activity. *nvr.Feed satisfies it; nil disables adaptive polling.
type ActivitySource interface {
	PersonActive(window time.Duration) bool
}

// Orchestrator owns the detection poll loop and the arrival/departure
// policy.
type Orchestrator struct {
	cfg       config.PresenceConfig
	tracker   *presence.Tracker
	engine    Engine
	frames    vision.FrameSource
	detector  vision.Detector
	registrar vision.Registrar
	activity  ActivitySource
	speaker   audio.Speaker
	listener  audio.Listener
	logger    *slog.Logger
	bus       *events.Bus

	registering atomic.Bool
}

// New creates an orchestrator and installs its arrival and departure
// handlers on the tracker. activity and bus may be nil.
func New(cfg config.PresenceConfig, tracker *presence.Tracker, engine Engine,
	frames vision.FrameSource, detector vision.Detector, registrar vision.Registrar,
	activity ActivitySource, speaker audio.Speaker, listener audio.Listener,
	logger *slog.Logger, bus *events.Bus) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:       cfg,
		tracker:   tracker,
		engine:    engine,
		frames:    frames,
		detector:  detector,
		registrar: registrar,
		activity:  activity,
		speaker:   speaker,
		listener:  listener,
		logger:    logger.With("component", "orchestrator"),
		bus:       bus,
	}
	tracker.OnArrival = o.onArrival
	tracker.OnDeparture = o.onDeparture
	return o
}

// Run drives the detection poll loop until ctx ends. It also watches
// the event bus so the tracker learns when sessions close.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.bus != nil {
		go o.watchSessions(ctx)
	}

	o.logger.Info("detection loop started",
		"interval", o.cfg.PollInterval, "fast_interval", o.cfg.FastPollInterval)

	for {
		o.poll(ctx)

		interval := o.cfg.PollInterval
		if o.activity != nil && o.activity.PersonActive(activityWindow) {
			interval = o.cfg.FastPollInterval
		}

		select {
		case <-ctx.Done():
			o.logger.Info("detection loop stopped")
			return
		case <-time.After(interval):
		}
	}
}

// poll runs one detect cycle. Frame or detector failures still feed an
// empty update into the tracker so departure timing keeps moving.
func (o *Orchestrator) poll(ctx context.Context) {
	var detections []vision.Detection

	frame, err := o.frames.LatestFrame(ctx)
	if err != nil {
		o.logger.Debug("frame unavailable", "error", err)
	} else if detections, err = o.detector.Detect(ctx, frame); err != nil {
		o.logger.Debug("detection failed", "error", err)
		detections = nil
	}

	o.tracker.Update(detections)

	o.bus.Publish(events.Event{
		Source: events.SourceOrchestrator,
		Kind:   events.KindPollTick,
		Data:   map[string]any{"detections": len(detections)},
	})
}

// onArrival starts a conversation with a recognized person, or the
// registration flow for a stranger. One conversation at a time: an
// arrival while the engine is busy is dropped (the cooldown has
// already been stamped, so they will not be re-greeted immediately).
func (o *Orchestrator) onArrival(name string) {
	if o.engine.Busy() || o.registering.Load() {
		o.logger.Debug("arrival ignored, conversation active", "name", name)
		return
	}

	if name == vision.Unknown {
		if o.registrar == nil {
			o.logger.Debug("stranger in view, registration disabled")
			return
		}
		if o.registering.CompareAndSwap(false, true) {
			go func() {
				defer o.registering.Store(false)
				o.registerStranger(context.Background())
			}()
		}
		return
	}

	if o.engine.StartSession(context.Background(), name) {
		o.tracker.MarkInConversation(name)
	}
}

// OnAmbientSpeech starts a conversation when someone already in view
// speaks up before the arrival gate fires, seeding the session with
// what they said so their opening words reach the dialogue. Wire it to
// the ambient monitor's OnSpeech hook. Strangers are ignored: the
// registration flow is driven by the arrival gate, not by voice.
func (o *Orchestrator) OnAmbientSpeech(text string) {
	if o.engine.Busy() || o.registering.Load() {
		return
	}
	for _, name := range o.tracker.Tracked() {
		if name == vision.Unknown {
			continue
		}
		o.logger.Info("ambient speech from tracked person", "name", name, "text", text)
		if o.engine.StartSessionWithOpening(context.Background(), name, text) {
			o.tracker.MarkInConversation(name)
		}
		return
	}
}

// onDeparture ends the active session when its person leaves the
// frame.
func (o *Orchestrator) onDeparture(name string) {
	if o.engine.CurrentPerson() == name {
		o.logger.Info("conversation partner left", "name", name)
		o.engine.ForceEnd("person_left")
	}
}

// watchSessions clears the tracker's conversation flag when a session
// closes, stamping the greeting cooldown so the person is not greeted
// again while they linger in view.
func (o *Orchestrator) watchSessions(ctx context.Context) {
	ch := o.bus.Subscribe(64)
	defer o.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Source != events.SourceConversation || ev.Kind != events.KindSessionEnd {
				continue
			}
			if person, _ := ev.Data["person"].(string); person != "" {
				o.tracker.MarkConversationEnded(person)
			}
		}
	}
}
