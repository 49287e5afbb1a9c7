package memory

import (
	"fmt"
	"strings"
	"time"
)

// ContextFor builds the formatted memory context about a person that
// gets interpolated into the dialogue system prompt: first-met date,
// conversation count, recent facts, and recent session summaries. An
// empty string means the person is a stranger.
func (s *Store) ContextFor(name string, maxFacts, maxSummaries int) (string, error) {
	if maxFacts <= 0 {
		maxFacts = 10
	}
	if maxSummaries <= 0 {
		maxSummaries = 3
	}

	exists, err := s.PersonExists(name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}

	profile, err := s.LoadProfile(name)
	if err != nil {
		return "", err
	}

	var parts []string
	if !profile.FirstSeen.IsZero() {
		parts = append(parts, "First met: "+profile.FirstSeen.Format("January 2, 2006"))
	}
	if profile.ConversationCount > 0 {
		parts = append(parts, fmt.Sprintf("Previous conversations: %d", profile.ConversationCount))
	}

	if len(profile.Facts) > 0 {
		facts := profile.Facts
		if len(facts) > maxFacts {
			facts = facts[len(facts)-maxFacts:]
		}
		parts = append(parts, "Known facts about "+name+":")
		for _, f := range facts {
			parts = append(parts, "  - "+f)
		}
	}

	summaries, err := s.recentSummaries(name, maxSummaries)
	if err != nil {
		return "", err
	}
	if len(summaries) > 0 {
		parts = append(parts, "Recent conversation summaries:")
		for _, sum := range summaries {
			parts = append(parts, fmt.Sprintf("  [%s] %s", sum.at.Format("01/02"), sum.text))
		}
	}

	return strings.Join(parts, "\n"), nil
}

type summaryLine struct {
	text string
	at   time.Time
}

// recentSummaries returns the newest summaries, oldest first so the
// context reads chronologically.
func (s *Store) recentSummaries(name string, limit int) ([]summaryLine, error) {
	rows, err := s.db.Query(`
		SELECT summary, created_at FROM summaries
		WHERE person = ? ORDER BY id DESC LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	defer rows.Close()

	var out []summaryLine
	for rows.Next() {
		var line summaryLine
		var at string
		if err := rows.Scan(&line.text, &at); err != nil {
			return nil, err
		}
		line.at, _ = time.Parse(time.RFC3339, at)
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
