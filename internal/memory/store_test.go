package memory

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadProfile_Unknown(t *testing.T) {
	s := newTestStore(t)

	p, err := s.LoadProfile("Dave")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Name != "Dave" || p.ConversationCount != 0 || len(p.Facts) != 0 {
		t.Errorf("unexpected fresh profile: %+v", p)
	}
	if p.FirstSeen.IsZero() {
		t.Error("fresh profile should have FirstSeen set")
	}

	// Loading must not persist anything.
	exists, err := s.PersonExists("Dave")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("LoadProfile should not create a profile row")
	}
}

func TestAppendFacts_Dedup(t *testing.T) {
	s := newTestStore(t)
	if err := s.TouchPerson("Dave"); err != nil {
		t.Fatal(err)
	}

	if err := s.AppendFacts("Dave", []string{"Has a dog named Max", "Works remotely"}); err != nil {
		t.Fatalf("AppendFacts: %v", err)
	}
	// Duplicate plus empty strings should be skipped.
	if err := s.AppendFacts("Dave", []string{"Has a dog named Max", "", "  "}); err != nil {
		t.Fatalf("AppendFacts second: %v", err)
	}

	p, err := s.LoadProfile("Dave")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Facts) != 2 {
		t.Errorf("expected 2 facts, got %v", p.Facts)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.StartSession("Dave")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if id == "" {
		t.Fatal("empty session ID")
	}

	if err := s.RecordUtterance(id, "Dave", "Hello there."); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUtterance(id, "Attendant", "Good morning, Dave."); err != nil {
		t.Fatal(err)
	}

	transcript, err := s.Transcript(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(transcript) != 2 || transcript[0].Speaker != "Dave" || transcript[1].Text != "Good morning, Dave." {
		t.Errorf("unexpected transcript: %+v", transcript)
	}

	err = s.EndSession(id, "goodbye", []string{"Enjoys hiking"}, "Dave talked about a weekend hike.")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	p, err := s.LoadProfile("Dave")
	if err != nil {
		t.Fatal(err)
	}
	if p.ConversationCount != 1 {
		t.Errorf("conversation_count = %d", p.ConversationCount)
	}
	if len(p.Facts) != 1 || p.Facts[0] != "Enjoys hiking" {
		t.Errorf("facts = %v", p.Facts)
	}

	sessions, err := s.RecentSessions("Dave", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].EndReason != "goodbye" {
		t.Errorf("sessions = %+v", sessions)
	}
	if sessions[0].EndedAt.IsZero() {
		t.Error("EndedAt not set")
	}
}

func TestEndSession_Unknown(t *testing.T) {
	s := newTestStore(t)
	if err := s.EndSession("nope", "goodbye", nil, ""); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestSummaryPruning(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < keepSummaries+5; i++ {
		id, err := s.StartSession("Frank")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.EndSession(id, "goodbye", nil, fmt.Sprintf("summary %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM summaries WHERE person = 'Frank'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != keepSummaries {
		t.Errorf("expected %d summaries after pruning, got %d", keepSummaries, count)
	}

	// The newest summaries must survive.
	ctx, err := s.ContextFor("Frank", 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ctx, fmt.Sprintf("summary %d", keepSummaries+4)) {
		t.Errorf("context missing newest summary:\n%s", ctx)
	}
}

func TestContextFor(t *testing.T) {
	s := newTestStore(t)

	id, err := s.StartSession("Dave")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EndSession(id, "goodbye", []string{"Has a dog named Max"}, "Talked about the dog."); err != nil {
		t.Fatal(err)
	}

	ctx, err := s.ContextFor("Dave", 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"First met:", "Previous conversations: 1", "Has a dog named Max", "Talked about the dog."} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q:\n%s", want, ctx)
		}
	}
}

func TestContextFor_Stranger(t *testing.T) {
	s := newTestStore(t)
	ctx, err := s.ContextFor("Nobody", 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ctx != "" {
		t.Errorf("expected empty context for stranger, got %q", ctx)
	}
}

func TestKnownPeople(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"Frank", "Dave"} {
		if _, err := s.StartSession(name); err != nil {
			t.Fatal(err)
		}
	}

	people, err := s.KnownPeople()
	if err != nil {
		t.Fatal(err)
	}
	if len(people) != 2 || people[0] != "Dave" || people[1] != "Frank" {
		t.Errorf("people = %v", people)
	}
}
