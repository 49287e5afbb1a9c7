package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wardenhq/attendant/internal/llm"
	"github.com/wardenhq/attendant/internal/prompts"
)

// minUtterancesForExtraction: below this there is nothing worth a
// model call. Greeting plus one silence prompt is not a conversation.
const minUtterancesForExtraction = 2

// extraction is the JSON shape the model is asked to return.
type extraction struct {
	Facts   []string `json:"facts"`
	Summary string   `json:"summary"`
	Mood    string   `json:"mood"`
}

// extract distills facts and a summary from the session transcript.
// Failures degrade to an empty fact list; extraction never blocks a
// session from closing.
func (e *Engine) extract(ctx context.Context, sessionID string, logger *slog.Logger) ([]string, string) {
	transcript, err := e.store.Transcript(sessionID)
	if err != nil {
		logger.Warn("transcript unavailable", "error", err)
		return nil, "Brief interaction"
	}

	spoken := 0
	for _, u := range transcript {
		if u.Speaker != speakerName {
			spoken++
		}
	}
	if spoken < minUtterancesForExtraction {
		logger.Debug("skipping extraction, too little said", "utterances", spoken)
		return nil, "Brief interaction"
	}

	lines := make([]prompts.Utterance, len(transcript))
	for i, u := range transcript {
		lines[i] = prompts.Utterance{Speaker: u.Speaker, Text: u.Text}
	}

	resp, err := e.client.Chat(ctx, e.model, []llm.Message{
		{Role: "system", Content: prompts.ExtractionPrompt()},
		{Role: "user", Content: prompts.FormatTranscript(lines)},
	}, nil)
	if err != nil {
		logger.Warn("extraction failed", "error", err)
		return nil, "Conversation completed"
	}

	ex, err := parseExtraction(resp.Message.Content)
	if err != nil {
		logger.Warn("extraction response unparseable", "error", err)
		return nil, "Conversation completed"
	}

	summary := ex.Summary
	if summary == "" {
		summary = "Conversation completed"
	}
	if ex.Mood != "" {
		summary = fmt.Sprintf("%s (mood: %s)", summary, ex.Mood)
	}

	logger.Info("extraction complete", "facts", len(ex.Facts), "mood", ex.Mood)
	return ex.Facts, summary
}

// parseExtraction decodes the model's JSON response, tolerating
// markdown code fences around the object.
func parseExtraction(raw string) (*extraction, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var ex extraction
	if err := json.Unmarshal([]byte(s), &ex); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return &ex, nil
}
