// Package convo implements the conversation engine: a per-session
// state machine that greets an arriving person, runs a speak/listen
// turn loop against the dialogue backend (with tool support), and on
// session end distills durable facts into the memory store.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenhq/attendant/internal/audio"
	"github.com/wardenhq/attendant/internal/config"
	"github.com/wardenhq/attendant/internal/events"
	"github.com/wardenhq/attendant/internal/llm"
	"github.com/wardenhq/attendant/internal/memory"
	"github.com/wardenhq/attendant/internal/prompts"
	"github.com/wardenhq/attendant/internal/tools"
)

// State is a conversation engine state.
type State string

const (
	StateIdle       State = "idle"
	StateGreeting   State = "greeting"
	StateListening  State = "listening"
	StateConversing State = "conversing"
	StateEnding     State = "ending"
	StateExtracting State = "extracting"
)

// speakerName is the label used for the attendant's own utterances in
// transcripts.
const speakerName = "Attendant"

// maxToolIterations bounds the tool loop within one turn so a
// misbehaving backend cannot spin forever.
const maxToolIterations = 5

// Store is the persistence surface the engine needs. *memory.Store
// satisfies it.
type Store interface {
	PersonExists(name string) (bool, error)
	LoadProfile(name string) (*memory.Profile, error)
	ContextFor(name string, maxFacts, maxSummaries int) (string, error)
	StartSession(name string) (string, error)
	RecordUtterance(sessionID, speaker, text string) error
	Transcript(sessionID string) ([]memory.Utterance, error)
	EndSession(sessionID, reason string, facts []string, summary string) error
}

// Engine runs at most one conversation session at a time. The session
// body runs on its own goroutine; other components interact only
// through StartSession, ForceEnd, Busy, CurrentPerson, and State.
type Engine struct {
	cfg     config.DialogueConfig
	model   string
	client  llm.Client
	tools   *tools.Registry
	store   Store
	speaker audio.Speaker
	listen  audio.Listener
	logger  *slog.Logger
	bus     *events.Bus

	now func() time.Time

	mu           sync.Mutex
	state        State
	person       string
	sessionID    string
	endRequested bool
	endReason    string
	cancelTurn   context.CancelFunc
	sessionDone  chan struct{}
}

// NewEngine creates a conversation engine. bus may be nil.
func NewEngine(cfg config.DialogueConfig, model string, client llm.Client, registry *tools.Registry,
	store Store, speaker audio.Speaker, listener audio.Listener, logger *slog.Logger, bus *events.Bus) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		model:   model,
		client:  client,
		tools:   registry,
		store:   store,
		speaker: speaker,
		listen:  listener,
		logger:  logger.With("component", "convo"),
		bus:     bus,
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Busy reports whether a session is active.
func (e *Engine) Busy() bool {
	return e.State() != StateIdle
}

// CurrentPerson returns the person in conversation, or "".
func (e *Engine) CurrentPerson() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return ""
	}
	return e.person
}

// StartSession begins a conversation with a person. Returns false if a
// session is already active; the check-and-transition is atomic, so
// two concurrent callers can never both succeed.
func (e *Engine) StartSession(ctx context.Context, name string) bool {
	return e.start(ctx, name, "")
}

// StartSessionWithOpening begins a conversation whose first user turn
// is text the person already spoke before the session existed (ambient
// speech). Same single-occupant semantics as StartSession.
func (e *Engine) StartSessionWithOpening(ctx context.Context, name, opening string) bool {
	return e.start(ctx, name, opening)
}

func (e *Engine) start(ctx context.Context, name, opening string) bool {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		e.logger.Debug("start rejected, engine busy", "person", name, "state", e.state)
		return false
	}
	e.person = name
	e.endRequested = false
	e.endReason = ""
	e.sessionDone = make(chan struct{})
	e.setStateLocked(StateGreeting)
	e.mu.Unlock()

	go e.runSession(ctx, name, opening)
	return true
}

// Wait blocks until no session is active or ctx ends. Shutdown calls
// it after ForceEnd so the session finishes persisting its transcript
// and facts before the stores close underneath it.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.sessionDone
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceEnd requests termination of the active session. Cooperative:
// the in-flight turn is aborted best-effort (its listen call is
// canceled) and the session unwinds through Ending and Extracting
// before returning to Idle. No-op when idle.
func (e *Engine) ForceEnd(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle || e.endRequested {
		return
	}
	e.logger.Info("force end requested", "reason", reason, "person", e.person)
	e.endRequested = true
	e.endReason = reason
	if e.cancelTurn != nil {
		e.cancelTurn()
	}
}

func (e *Engine) setStateLocked(s State) {
	old := e.state
	e.state = s
	e.logger.Debug("state change", "from", old, "to", s, "person", e.person)
	e.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindStateChange,
		Data:   map[string]any{"from": string(old), "to": string(s), "person": e.person},
	})
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(s)
}

func (e *Engine) endPending() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endRequested, e.endReason
}

// turnContext derives a cancelable context for one blocking turn
// operation and registers its cancel func so ForceEnd can abort it.
func (e *Engine) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	turnCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelTurn = cancel
	// ForceEnd may have landed between the caller's end check and this
	// registration; cancel immediately so the turn cannot block.
	if e.endRequested {
		cancel()
	}
	e.mu.Unlock()
	return turnCtx, func() {
		e.mu.Lock()
		e.cancelTurn = nil
		e.mu.Unlock()
		cancel()
	}
}

// runSession is the session body. Any panic is caught and resolved to
// a clean return to Idle; no session is left half-open.
func (e *Engine) runSession(ctx context.Context, name, opening string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("session panic", "person", name, "panic", r)
		}
		e.cleanup()
	}()

	logger := e.logger.With("person", name)

	exists, err := e.store.PersonExists(name)
	if err != nil {
		logger.Warn("person lookup failed", "error", err)
	}
	personContext, err := e.store.ContextFor(name, 10, 3)
	if err != nil {
		logger.Warn("memory context unavailable", "error", err)
		personContext = ""
	}

	sessionID, err := e.store.StartSession(name)
	if err != nil {
		logger.Error("cannot open session", "error", err)
		return
	}
	e.mu.Lock()
	e.sessionID = sessionID
	e.mu.Unlock()

	logger.Info("session started", "session_id", sessionID)
	e.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindSessionStart,
		Data:   map[string]any{"session_id": sessionID, "person": name},
	})

	greeting := e.generateGreeting(ctx, name, personContext, !exists)
	e.say(ctx, sessionID, greeting)
	e.grace(ctx)

	var history []llm.Message
	reason := e.turnLoop(ctx, sessionID, name, personContext, opening, &history, logger)

	e.setState(StateEnding)
	e.speakFarewell(ctx, sessionID, name, reason)

	e.setState(StateExtracting)
	facts, summary := e.extract(ctx, sessionID, logger)
	if err := e.store.EndSession(sessionID, reason, facts, summary); err != nil {
		logger.Error("session persistence failed", "error", err)
	}

	turns := 0
	for _, m := range history {
		if m.Role == "user" {
			turns++
		}
	}
	logger.Info("session ended", "session_id", sessionID, "reason", reason, "turns", turns)
	e.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindSessionEnd,
		Data:   map[string]any{"session_id": sessionID, "person": name, "reason": reason, "turns": turns},
	})
}

// turnLoop runs the listening/conversing cycle and returns the end
// reason. A non-empty opening is consumed as the first user turn in
// place of the first listen.
func (e *Engine) turnLoop(ctx context.Context, sessionID, name, personContext, opening string,
	history *[]llm.Message, logger *slog.Logger) string {

	e.setState(StateListening)
	silentTurns := 0
	pending := opening

	for {
		if ended, why := e.endPending(); ended {
			return why
		}
		if ctx.Err() != nil {
			return "shutdown"
		}

		var text string
		if pending != "" {
			text, pending = pending, ""
		} else {
			turnCtx, done := e.turnContext(ctx)
			var err error
			text, err = e.listen.Listen(turnCtx, e.cfg.ListenTimeout)
			done()
			if err != nil {
				if ended, why := e.endPending(); ended {
					return why
				}
				if ctx.Err() != nil {
					return "shutdown"
				}
				logger.Warn("listen failed", "error", err)
				text = ""
			}
		}

		if text == "" {
			silentTurns++
			logger.Debug("silent turn", "count", silentTurns, "max", e.cfg.MaxSilentTurns)
			if silentTurns >= e.cfg.MaxSilentTurns {
				return "silence"
			}
			e.say(ctx, sessionID, prompts.Fallback(prompts.FallbackNoSpeech))
			e.grace(ctx)
			continue
		}

		silentTurns = 0
		e.bus.Publish(events.Event{
			Source: events.SourceConversation,
			Kind:   events.KindTranscription,
			Data:   map[string]any{"text": text, "session_id": sessionID},
		})
		if err := e.store.RecordUtterance(sessionID, name, text); err != nil {
			logger.Warn("utterance persistence failed", "error", err)
		}

		if isFarewell(text) {
			logger.Debug("farewell detected", "text", text)
			return "goodbye"
		}

		e.setState(StateConversing)
		reply := e.generateResponse(ctx, name, personContext, text, history, logger)
		e.say(ctx, sessionID, reply)

		e.setState(StateListening)
		e.grace(ctx)
	}
}

// generateGreeting produces the spoken greeting, falling back to a
// time-of-day template when the backend is unavailable.
func (e *Engine) generateGreeting(ctx context.Context, name, personContext string, firstMeeting bool) string {
	fallback := fmt.Sprintf("%s, %s. How are you today?",
		prompts.NewTimeContext(e.now()).GreetingPrefix, name)

	resp, err := e.client.Chat(ctx, e.model, []llm.Message{
		{Role: "user", Content: prompts.GreetingPrompt(name, personContext, firstMeeting, e.now())},
	}, nil)
	if err != nil {
		e.logger.Warn("greeting generation failed", "error", err)
		return fallback
	}

	greeting := trimQuotes(resp.Message.Content)
	if greeting == "" {
		return fallback
	}
	return greeting
}

// generateResponse runs the bounded tool loop for one turn. The full
// accumulated history (plus system prompt) is re-sent each round. Any
// backend failure degrades to a fixed fallback line rather than
// failing the turn.
func (e *Engine) generateResponse(ctx context.Context, name, personContext, userText string,
	history *[]llm.Message, logger *slog.Logger) string {

	system := llm.Message{
		Role:    "system",
		Content: prompts.ConversationSystemPrompt(name, personContext, e.now()),
	}
	*history = append(*history, llm.Message{Role: "user", Content: userText})

	declared := e.tools.List()
	for i := 0; i < maxToolIterations; i++ {
		resp, err := e.client.Chat(ctx, e.model, append([]llm.Message{system}, *history...), declared)
		if err != nil {
			logger.Warn("response generation failed", "error", err)
			return prompts.Fallback(prompts.FallbackError)
		}

		if !resp.ToolRequested() {
			reply := resp.Message.Content
			if reply == "" {
				reply = prompts.Fallback(prompts.FallbackConfusion)
			}
			*history = append(*history, llm.Message{Role: "assistant", Content: reply})
			return reply
		}

		*history = append(*history, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			result := e.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			*history = append(*history, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	logger.Warn("tool loop exceeded iteration cap", "cap", maxToolIterations)
	return prompts.Fallback(prompts.FallbackError)
}

// speakFarewell speaks the reason-appropriate closing line. When the
// person already left there is nobody to talk to, so nothing is said.
func (e *Engine) speakFarewell(ctx context.Context, sessionID, name, reason string) {
	switch reason {
	case "person_left", "shutdown":
		return
	case "silence":
		e.say(ctx, sessionID, prompts.Fallback(prompts.FallbackSilenceEnd))
	default:
		e.say(ctx, sessionID, e.goodbyeLine(name))
	}
}

// goodbyeLine rotates through a small set of goodbyes keyed by how
// many conversations we have had with the person.
func (e *Engine) goodbyeLine(name string) string {
	goodbyes := []string{
		fmt.Sprintf("Goodbye, %s. I'll be here if you need anything.", name),
		fmt.Sprintf("Until next time, %s.", name),
		fmt.Sprintf("Take care, %s. I'll remember our conversation.", name),
	}

	n := 0
	if profile, err := e.store.LoadProfile(name); err == nil {
		n = profile.ConversationCount
	}
	return goodbyes[n%len(goodbyes)]
}

// say speaks text and records it as an attendant utterance. Speech
// failures are logged, never fatal to the session.
func (e *Engine) say(ctx context.Context, sessionID, text string) {
	if text == "" {
		return
	}
	if err := e.speaker.Speak(ctx, text); err != nil {
		e.logger.Warn("speak failed", "error", err)
	}
	e.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindTTS,
		Data:   map[string]any{"text": text, "session_id": sessionID},
	})
	if err := e.store.RecordUtterance(sessionID, speakerName, text); err != nil {
		e.logger.Warn("utterance persistence failed", "error", err)
	}
}

// grace pauses after speaking so TTS echo fades before the microphone
// reopens.
func (e *Engine) grace(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.SpeechGrace):
	}
}

func (e *Engine) cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.person = ""
	e.sessionID = ""
	e.endRequested = false
	e.endReason = ""
	e.cancelTurn = nil
	e.setStateLocked(StateIdle)
	// Closed last: anyone unblocked by Wait must observe the session
	// fully persisted and the engine idle.
	if e.sessionDone != nil {
		close(e.sessionDone)
		e.sessionDone = nil
	}
}

func trimQuotes(s string) string {
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = s[1 : len(s)-1]
			continue
		}
		break
	}
	return s
}
