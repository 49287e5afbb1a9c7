package convo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/attendant/internal/config"
	"github.com/wardenhq/attendant/internal/llm"
	"github.com/wardenhq/attendant/internal/memory"
	"github.com/wardenhq/attendant/internal/prompts"
	"github.com/wardenhq/attendant/internal/tools"
)

// fakeClient replays scripted chat responses in order and records
// every call it receives.
type fakeClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	calls     [][]llm.Message
	err       error
}

func textResponse(s string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: s}, Done: true}
}

func toolResponse(id, name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{llm.NewToolCall(id, name, args)},
		},
		StopReason: "tool_use",
	}
}

func (c *fakeClient) Chat(_ context.Context, _ string, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return textResponse("Mm-hm."), nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *fakeClient) Describe(context.Context, string, string, string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) call(i int) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

// fakeSpeaker records everything spoken.
type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// scriptedListener returns its script in order, then empty strings.
// If block is set it blocks after the script until the context ends.
type scriptedListener struct {
	mu     sync.Mutex
	script []string
	block  bool
}

func (l *scriptedListener) Listen(ctx context.Context, _ time.Duration) (string, error) {
	l.mu.Lock()
	if len(l.script) > 0 {
		text := l.script[0]
		l.script = l.script[1:]
		l.mu.Unlock()
		return text, nil
	}
	block := l.block
	l.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "", nil
}

// fakeStore is an in-memory Store that signals when the session closes.
type fakeStore struct {
	mu         sync.Mutex
	exists     bool
	context    string
	profile    memory.Profile
	utterances []memory.Utterance
	endReason  string
	endFacts   []string
	endSummary string
	done       chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{done: make(chan struct{})}
}

func (s *fakeStore) PersonExists(string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists, nil
}

func (s *fakeStore) LoadProfile(name string) (*memory.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile
	p.Name = name
	return &p, nil
}

func (s *fakeStore) ContextFor(string, int, int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context, nil
}

func (s *fakeStore) StartSession(string) (string, error) { return "sess-1", nil }

func (s *fakeStore) RecordUtterance(_, speaker, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, memory.Utterance{Speaker: speaker, Text: text})
	return nil
}

func (s *fakeStore) Transcript(string) ([]memory.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Utterance(nil), s.utterances...), nil
}

func (s *fakeStore) EndSession(_, reason string, facts []string, summary string) error {
	s.mu.Lock()
	s.endReason = reason
	s.endFacts = facts
	s.endSummary = summary
	s.mu.Unlock()
	close(s.done)
	return nil
}

func (s *fakeStore) ended(t *testing.T) (string, []string, string) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason, s.endFacts, s.endSummary
}

func testDialogueConfig() config.DialogueConfig {
	return config.DialogueConfig{
		ListenTimeout:  10 * time.Millisecond,
		MaxSilentTurns: 2,
		SpeechGrace:    time.Millisecond,
	}
}

func newTestEngine(client *fakeClient, store *fakeStore, speaker *fakeSpeaker,
	listener *scriptedListener, registry *tools.Registry) *Engine {
	if registry == nil {
		registry = tools.NewRegistry(nil, nil)
	}
	return NewEngine(testDialogueConfig(), "test-model", client, registry,
		store, speaker, listener, nil, nil)
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine still in state %s", e.State())
}

func TestSilenceEndsSession(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{textResponse("Hi, Dave.")}}
	store := newFakeStore()
	speaker := &fakeSpeaker{}
	eng := newTestEngine(client, store, speaker, &scriptedListener{script: []string{"", ""}}, nil)

	if !eng.StartSession(context.Background(), "Dave") {
		t.Fatal("StartSession returned false")
	}

	reason, facts, summary := store.ended(t)
	waitIdle(t, eng)

	if reason != "silence" {
		t.Errorf("reason = %q", reason)
	}
	if len(facts) != 0 || summary != "Brief interaction" {
		t.Errorf("facts = %v, summary = %q", facts, summary)
	}

	spoken := speaker.spoken()
	if len(spoken) != 3 {
		t.Fatalf("spoken = %v", spoken)
	}
	if spoken[0] != "Hi, Dave." {
		t.Errorf("greeting = %q", spoken[0])
	}
	if spoken[1] != prompts.Fallback(prompts.FallbackNoSpeech) {
		t.Errorf("silence prompt = %q", spoken[1])
	}
	if spoken[2] != prompts.Fallback(prompts.FallbackSilenceEnd) {
		t.Errorf("silence ending = %q", spoken[2])
	}
}

func TestFarewellShortCircuitsBackend(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{textResponse("Hello, Dave.")}}
	store := newFakeStore()
	store.exists = true
	speaker := &fakeSpeaker{}
	eng := newTestEngine(client, store, speaker, &scriptedListener{script: []string{"gotta go"}}, nil)

	eng.StartSession(context.Background(), "Dave")
	reason, _, summary := store.ended(t)
	waitIdle(t, eng)

	if reason != "goodbye" {
		t.Errorf("reason = %q", reason)
	}
	// Only the greeting call: the farewell turn and the trivial
	// extraction must not reach the backend.
	if n := client.callCount(); n != 1 {
		t.Errorf("chat calls = %d, want 1", n)
	}
	if summary != "Brief interaction" {
		t.Errorf("summary = %q", summary)
	}

	spoken := speaker.spoken()
	if len(spoken) != 2 || !strings.Contains(spoken[1], "Goodbye, Dave") {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestToolLoop(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{
		textResponse("Hi, Dave."),
		toolResponse("t1", "weather", map[string]any{"query": "weather today"}),
		textResponse("It's sunny out."),
		textResponse(`{"facts":["Asks about weather"],"summary":"Talked about the weather","mood":"curious"}`),
	}}
	store := newFakeStore()
	speaker := &fakeSpeaker{}

	registry := tools.NewRegistry(nil, nil)
	var gotQuery string
	registry.Register(&tools.Tool{
		Name: "weather",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			gotQuery, _ = args["query"].(string)
			return "Sunny, 25C", nil
		},
	})

	eng := newTestEngine(client, store, speaker,
		&scriptedListener{script: []string{"what's the weather?", "ok bye"}}, registry)

	eng.StartSession(context.Background(), "Dave")
	reason, facts, summary := store.ended(t)
	waitIdle(t, eng)

	if reason != "goodbye" {
		t.Errorf("reason = %q", reason)
	}
	if gotQuery != "weather today" {
		t.Errorf("tool query = %q", gotQuery)
	}
	// greeting + tool round + final round + extraction
	if n := client.callCount(); n != 4 {
		t.Fatalf("chat calls = %d, want 4", n)
	}

	// The follow-up request must carry the tool result keyed to the
	// tool call ID.
	followUp := client.call(2)
	var found bool
	for _, m := range followUp {
		if m.Role == "tool" && m.ToolCallID == "t1" && m.Content == "Sunny, 25C" {
			found = true
		}
	}
	if !found {
		t.Errorf("tool result missing from follow-up messages: %+v", followUp)
	}

	if len(facts) != 1 || facts[0] != "Asks about weather" {
		t.Errorf("facts = %v", facts)
	}
	if summary != "Talked about the weather (mood: curious)" {
		t.Errorf("summary = %q", summary)
	}

	spoken := speaker.spoken()
	var saidSunny bool
	for _, s := range spoken {
		if s == "It's sunny out." {
			saidSunny = true
		}
	}
	if !saidSunny {
		t.Errorf("tool-backed reply not spoken: %v", spoken)
	}
}

func TestStartSessionRejectsWhenBusy(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{textResponse("Hi.")}}
	store := newFakeStore()
	eng := newTestEngine(client, store, &fakeSpeaker{}, &scriptedListener{block: true}, nil)

	if !eng.StartSession(context.Background(), "Dave") {
		t.Fatal("first StartSession returned false")
	}
	if eng.StartSession(context.Background(), "Erin") {
		t.Error("second StartSession succeeded while busy")
	}
	if got := eng.CurrentPerson(); got != "Dave" {
		t.Errorf("CurrentPerson = %q", got)
	}

	eng.ForceEnd("shutdown")
	store.ended(t)
	waitIdle(t, eng)
}

func TestForceEndPersonLeft(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{textResponse("Hi, Dave.")}}
	store := newFakeStore()
	speaker := &fakeSpeaker{}
	eng := newTestEngine(client, store, speaker, &scriptedListener{block: true}, nil)

	eng.StartSession(context.Background(), "Dave")

	// Wait for the session to reach the listen loop, then end it the
	// way a departure does.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && eng.State() != StateListening {
		time.Sleep(5 * time.Millisecond)
	}
	eng.ForceEnd("person_left")

	reason, _, _ := store.ended(t)
	waitIdle(t, eng)

	if reason != "person_left" {
		t.Errorf("reason = %q", reason)
	}
	// Nobody is there: only the greeting should have been spoken.
	if spoken := speaker.spoken(); len(spoken) != 1 {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestWaitBlocksUntilSessionPersisted(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{textResponse("Hi, Dave.")}}
	store := newFakeStore()
	eng := newTestEngine(client, store, &fakeSpeaker{}, &scriptedListener{block: true}, nil)

	if err := eng.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on idle engine = %v", err)
	}

	eng.StartSession(context.Background(), "Dave")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && eng.State() != StateListening {
		time.Sleep(5 * time.Millisecond)
	}

	// The stop sequence: request the end, then wait for the session to
	// finish writing before the store would be closed underneath it.
	eng.ForceEnd("shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v", err)
	}

	// By the time Wait returns, EndSession must already have run.
	store.mu.Lock()
	reason := store.endReason
	store.mu.Unlock()
	if reason != "shutdown" {
		t.Errorf("end reason after Wait = %q, want %q", reason, "shutdown")
	}
	if eng.Busy() {
		t.Error("engine still busy after Wait")
	}
}

func TestOpeningUtteranceSeedsFirstTurn(t *testing.T) {
	client := &fakeClient{responses: []*llm.ChatResponse{
		textResponse("Hi, Dave."),
		textResponse("Nice to see you too."),
		textResponse(`{"facts":[],"summary":"Quick hello","mood":"warm"}`),
	}}
	store := newFakeStore()
	speaker := &fakeSpeaker{}
	// The script holds only the second turn: the first comes from the
	// ambient words that triggered the session, not from a listen.
	eng := newTestEngine(client, store, speaker, &scriptedListener{script: []string{"ok bye"}}, nil)

	if !eng.StartSessionWithOpening(context.Background(), "Dave", "hey, are you there?") {
		t.Fatal("StartSessionWithOpening returned false")
	}
	reason, _, _ := store.ended(t)
	waitIdle(t, eng)

	if reason != "goodbye" {
		t.Errorf("reason = %q", reason)
	}

	// The first conversational round must carry the opening words as the
	// user turn.
	if n := client.callCount(); n != 3 {
		t.Fatalf("chat calls = %d, want 3", n)
	}
	firstTurn := client.call(1)
	last := firstTurn[len(firstTurn)-1]
	if last.Role != "user" || last.Content != "hey, are you there?" {
		t.Errorf("first turn message = %+v", last)
	}

	// The opening is part of the transcript like any spoken turn.
	store.mu.Lock()
	var recorded bool
	for _, u := range store.utterances {
		if u.Speaker == "Dave" && u.Text == "hey, are you there?" {
			recorded = true
		}
	}
	store.mu.Unlock()
	if !recorded {
		t.Error("opening utterance not recorded in transcript")
	}
}

func TestGreetingFallsBackOnBackendError(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("backend down")}
	eng := newTestEngine(client, newFakeStore(), &fakeSpeaker{}, &scriptedListener{}, nil)
	eng.now = func() time.Time { return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC) }

	got := eng.generateGreeting(context.Background(), "Dave", "", true)
	if got != "Good morning, Dave. How are you today?" {
		t.Errorf("greeting = %q", got)
	}
}

func TestTrimQuotes(t *testing.T) {
	cases := map[string]string{
		`"Hello there."`:   "Hello there.",
		`'Hi.'`:            "Hi.",
		`""Good morning""`: "Good morning",
		`plain`:            "plain",
		`"`:                `"`,
	}
	for in, want := range cases {
		if got := trimQuotes(in); got != want {
			t.Errorf("trimQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsFarewell(t *testing.T) {
	for _, text := range []string{"Gotta go!", "ok BYE", "well, that's all"} {
		if !isFarewell(text) {
			t.Errorf("isFarewell(%q) = false", text)
		}
	}
	for _, text := range []string{"what's the weather", "tell me more"} {
		if isFarewell(text) {
			t.Errorf("isFarewell(%q) = true", text)
		}
	}
}
