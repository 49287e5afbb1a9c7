// Package memory provides persistent per-person memory: profiles,
// learned facts, conversation sessions, and rolling relationship
// summaries.
package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// keepSummaries is how many relationship summaries are retained per
// person. Older ones are pruned when new summaries arrive.
const keepSummaries = 10

// Profile is a person's stored profile.
type Profile struct {
	Name              string    `json:"name"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen,omitempty"`
	ConversationCount int       `json:"conversation_count"`
	Facts             []string  `json:"facts"`
}

// Utterance is one recorded line of a conversation session.
type Utterance struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Session is a stored conversation session.
type Session struct {
	ID        string    `json:"id"`
	Person    string    `json:"person"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	EndReason string    `json:"end_reason,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// Store manages person memory persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a memory store using an existing database
// connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS people (
			name TEXT PRIMARY KEY,
			first_seen TEXT NOT NULL,
			last_seen TEXT,
			conversation_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS facts (
			person TEXT NOT NULL,
			fact TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(person, fact)
		);
		CREATE INDEX IF NOT EXISTS idx_facts_person ON facts(person);

		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_summaries_person ON summaries(person, id);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			person TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			end_reason TEXT,
			summary TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_person ON sessions(person, started_at DESC);

		CREATE TABLE IF NOT EXISTS utterances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// PersonExists reports whether a profile row exists for name.
func (s *Store) PersonExists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM people WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("person exists: %w", err)
	}
	return n > 0, nil
}

// LoadProfile loads a person's profile with their facts. Unknown names
// return a fresh profile with FirstSeen set to now; nothing is
// persisted until the person actually converses.
func (s *Store) LoadProfile(name string) (*Profile, error) {
	p := &Profile{Name: name}

	var firstSeen string
	var lastSeen sql.NullString
	err := s.db.QueryRow(`
		SELECT first_seen, last_seen, conversation_count
		FROM people WHERE name = ?
	`, name).Scan(&firstSeen, &lastSeen, &p.ConversationCount)

	switch {
	case err == sql.ErrNoRows:
		p.FirstSeen = time.Now().UTC()
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
	if lastSeen.Valid {
		p.LastSeen, _ = time.Parse(time.RFC3339, lastSeen.String)
	}

	rows, err := s.db.Query(`SELECT fact FROM facts WHERE person = ? ORDER BY rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		p.Facts = append(p.Facts, f)
	}
	return p, rows.Err()
}

// TouchPerson ensures a profile row exists and updates last_seen.
func (s *Store) TouchPerson(name string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO people (name, first_seen, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_seen = excluded.last_seen
	`, name, now, now)
	if err != nil {
		return fmt.Errorf("touch person: %w", err)
	}
	return nil
}

// AppendFacts adds facts to a person's profile. Duplicates of already
// stored facts are silently skipped.
func (s *Store) AppendFacts(name string, facts []string) error {
	if len(facts) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO facts (person, fact, created_at) VALUES (?, ?, ?)
		`, name, f, now); err != nil {
			return fmt.Errorf("insert fact: %w", err)
		}
	}
	return tx.Commit()
}

// StartSession opens a new conversation session for a person and
// returns the session ID. Creates the profile row if needed and bumps
// the conversation count.
func (s *Store) StartSession(name string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO people (name, first_seen, last_seen, conversation_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			last_seen = excluded.last_seen,
			conversation_count = conversation_count + 1
	`, name, now, now); err != nil {
		return "", fmt.Errorf("update person: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, person, started_at) VALUES (?, ?, ?)
	`, id, name, now); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// RecordUtterance appends a spoken line to an open session.
func (s *Store) RecordUtterance(sessionID, speaker, text string) error {
	_, err := s.db.Exec(`
		INSERT INTO utterances (session_id, speaker, text, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, speaker, text, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record utterance: %w", err)
	}
	return nil
}

// Transcript returns a session's utterances in order.
func (s *Store) Transcript(sessionID string) ([]Utterance, error) {
	rows, err := s.db.Query(`
		SELECT speaker, text, created_at FROM utterances
		WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		var at string
		if err := rows.Scan(&u.Speaker, &u.Text, &at); err != nil {
			return nil, err
		}
		u.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, u)
	}
	return out, rows.Err()
}

// EndSession closes a session, stores extracted facts, and records the
// summary in the person's rolling summary history.
func (s *Store) EndSession(sessionID, reason string, facts []string, summary string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var person string
	err := s.db.QueryRow(`SELECT person FROM sessions WHERE id = ?`, sessionID).Scan(&person)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}

	if _, err := s.db.Exec(`
		UPDATE sessions SET ended_at = ?, end_reason = ?, summary = ? WHERE id = ?
	`, now, reason, summary, sessionID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	if err := s.AppendFacts(person, facts); err != nil {
		return err
	}

	if summary != "" {
		if err := s.addSummary(person, summary, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) addSummary(person, summary, now string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO summaries (person, summary, created_at) VALUES (?, ?, ?)
	`, person, summary, now); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	// Prune beyond the retention window.
	if _, err := tx.Exec(`
		DELETE FROM summaries WHERE person = ? AND id NOT IN (
			SELECT id FROM summaries WHERE person = ? ORDER BY id DESC LIMIT ?
		)
	`, person, person, keepSummaries); err != nil {
		return fmt.Errorf("prune summaries: %w", err)
	}
	return tx.Commit()
}

// RecentSessions returns the most recent sessions for a person, newest
// first.
func (s *Store) RecentSessions(name string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`
		SELECT id, person, started_at, ended_at, end_reason, summary
		FROM sessions WHERE person = ? ORDER BY started_at DESC LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started string
		var ended, reason, summary sql.NullString
		if err := rows.Scan(&sess.ID, &sess.Person, &started, &ended, &reason, &summary); err != nil {
			return nil, err
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339, started)
		if ended.Valid {
			sess.EndedAt, _ = time.Parse(time.RFC3339, ended.String)
		}
		sess.EndReason = reason.String
		sess.Summary = summary.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// KnownPeople lists everyone with a stored profile.
func (s *Store) KnownPeople() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM people ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("known people: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
