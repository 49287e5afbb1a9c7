// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (presence tracker,
// conversation engine, orchestrator, ambient monitor) to subscribers
// (WebSocket handler, future metrics collector). The bus is nil-safe:
// calling Publish on a nil *Bus is a no-op, so components do not need
// guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePresence identifies events from the presence tracker.
	SourcePresence = "presence"
	// SourceConversation identifies events from the conversation engine.
	SourceConversation = "conversation"
	// SourceOrchestrator identifies events from the orchestrator loops.
	SourceOrchestrator = "orchestrator"
	// SourceAudio identifies events from the ambient audio monitor.
	SourceAudio = "audio"
)

// Kind constants describe the type of event within a source.
const (
	// KindArrival signals a person arrived. Data: name, presence_secs.
	KindArrival = "arrival"
	// KindDeparture signals a tracked person departed. Data: name.
	KindDeparture = "departure"

	// KindStateChange signals a conversation state transition.
	// Data: from, to, person.
	KindStateChange = "state_change"
	// KindSessionStart signals a dialogue session began.
	// Data: session_id, person.
	KindSessionStart = "session_start"
	// KindSessionEnd signals a dialogue session finished.
	// Data: session_id, person, reason, turns.
	KindSessionEnd = "session_end"
	// KindToolCall signals the dialogue backend invoked a tool.
	// Data: tool, session_id.
	KindToolCall = "tool_call"
	// KindTTS signals text was spoken aloud. Data: text.
	KindTTS = "tts"
	// KindTranscription signals speech was transcribed. Data: text.
	KindTranscription = "transcription"

	// KindPollTick signals a detection poll cycle ran.
	// Data: detections, interval_ms.
	KindPollTick = "poll_tick"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view).
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
