package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardenhq/attendant/internal/convo"
	"github.com/wardenhq/attendant/internal/events"
	"github.com/wardenhq/attendant/internal/presence"
)

type fakeConversation struct {
	mu     sync.Mutex
	state  convo.State
	person string
	forced []string
}

func (c *fakeConversation) State() convo.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return convo.StateIdle
	}
	return c.state
}

func (c *fakeConversation) CurrentPerson() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.person
}

func (c *fakeConversation) StartSession(_ context.Context, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != "" && c.state != convo.StateIdle {
		return false
	}
	c.state = convo.StateGreeting
	c.person = name
	return true
}

func (c *fakeConversation) ForceEnd(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced = append(c.forced, reason)
	c.state = convo.StateIdle
	c.person = ""
}

type fakePresence struct {
	statuses []presence.Status
}

func (p *fakePresence) Snapshot() []presence.Status { return p.statuses }

func newTestServer(t *testing.T, engine *fakeConversation, bus *events.Bus) *httptest.Server {
	t.Helper()
	tracker := &fakePresence{statuses: []presence.Status{{Name: "Dave", Greeted: true}}}
	srv := httptest.NewServer(NewServer(engine, tracker, bus, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestStatus(t *testing.T) {
	engine := &fakeConversation{state: convo.StateConversing, person: "Dave"}
	srv := newTestServer(t, engine, nil)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.State != "conversing" || got.CurrentPerson != "Dave" {
		t.Errorf("status = %+v", got)
	}
	if len(got.Tracked) != 1 || got.Tracked[0].Name != "Dave" {
		t.Errorf("tracked = %+v", got.Tracked)
	}
}

func TestStartSession(t *testing.T) {
	engine := &fakeConversation{}
	srv := newTestServer(t, engine, nil)

	resp, err := http.Post(srv.URL+"/session", "application/json",
		strings.NewReader(`{"name":"Erin"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if engine.CurrentPerson() != "Erin" {
		t.Errorf("person = %q", engine.CurrentPerson())
	}
}

func TestStartSessionConflict(t *testing.T) {
	engine := &fakeConversation{state: convo.StateConversing, person: "Dave"}
	srv := newTestServer(t, engine, nil)

	resp, err := http.Post(srv.URL+"/session", "application/json",
		strings.NewReader(`{"name":"Erin"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestStartSessionBadRequest(t *testing.T) {
	srv := newTestServer(t, &fakeConversation{}, nil)

	resp, err := http.Post(srv.URL+"/session", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestForceEnd(t *testing.T) {
	engine := &fakeConversation{state: convo.StateConversing, person: "Dave"}
	srv := newTestServer(t, engine, nil)

	resp, err := http.Post(srv.URL+"/force_end", "application/json",
		strings.NewReader(`{"reason":"testing"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.forced) != 1 || engine.forced[0] != "testing" {
		t.Errorf("forced = %v", engine.forced)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeConversation{}, nil)

	resp, err := http.Get(srv.URL + "/session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeConversation{}, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	srv := newTestServer(t, &fakeConversation{}, bus)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the subscription to land before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.Event{
		Source: events.SourcePresence,
		Kind:   events.KindArrival,
		Data:   map[string]any{"name": "Dave"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != events.KindArrival || got.Data["name"] != "Dave" {
		t.Errorf("event = %+v", got)
	}
}

func TestEventStreamDisabled(t *testing.T) {
	srv := newTestServer(t, &fakeConversation{}, nil)

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
