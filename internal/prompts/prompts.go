// Package prompts builds the system and task prompts sent to the
// dialogue backend. All prompts assume a spoken voice conversation:
// responses come back as text, get synthesized, and play on a speaker,
// so every template pushes the model toward short unformatted replies.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// TimeContext describes the current time in terms the prompts use.
type TimeContext struct {
	TimeStr        string // "03:04 PM"
	DateStr        string // "Monday, January 2, 2006"
	TimeOfDay      string // morning, afternoon, evening, night
	GreetingPrefix string // "Good morning", ..., "Hello"
	Hour           int
}

// NewTimeContext derives a TimeContext from the given wall-clock time.
func NewTimeContext(now time.Time) TimeContext {
	hour := now.Hour()

	var timeOfDay, prefix string
	switch {
	case hour >= 5 && hour < 12:
		timeOfDay, prefix = "morning", "Good morning"
	case hour >= 12 && hour < 17:
		timeOfDay, prefix = "afternoon", "Good afternoon"
	case hour >= 17 && hour < 21:
		timeOfDay, prefix = "evening", "Good evening"
	default:
		timeOfDay, prefix = "night", "Hello"
	}

	return TimeContext{
		TimeStr:        now.Format("03:04 PM"),
		DateStr:        now.Format("Monday, January 2, 2006"),
		TimeOfDay:      timeOfDay,
		GreetingPrefix: prefix,
		Hour:           hour,
	}
}

const conversationSystemTemplate = `You are the household attendant, having a real-time voice conversation.

Current Context:
- Current time: %s
- Current date: %s
- Time of day: %s
- Speaking with: %s

What you know about %s:
%s

Available Capabilities:
- CAMERA VISION: You have a camera and can see your surroundings. If the user asks "what do you see?", asks about the room, or wants any visual information, use the describe_scene tool.
- WEB SEARCH: You can search the internet for current information. If the user asks about news, weather, current events, or facts you're unsure about, use the web_search tool.

Conversation Guidelines:
- You are having a VOICE conversation. Responses will be spoken aloud via TTS.
- Keep responses brief: 1-3 sentences (15-40 words max)
- Be conversational and natural, this is a real-time dialogue
- Reference what you know about them when relevant (but don't be creepy about it)
- Ask follow-up questions to learn more about them
- Remember: you'll have many conversations with this person over time
- When using tools, incorporate the results naturally into your spoken response

IMPORTANT:
- Never use markdown formatting, bullet points, or structured text, you are speaking aloud
- Don't narrate your actions or thoughts, just use the tools and incorporate results naturally
- Respond directly to what they said
- If they seem to be ending the conversation, acknowledge it gracefully`

// ConversationSystemPrompt builds the system prompt for a dialogue
// session with name. personContext comes from the memory store and may
// be empty for a new acquaintance.
func ConversationSystemPrompt(name, personContext string, now time.Time) string {
	tc := NewTimeContext(now)

	if personContext == "" {
		personContext = fmt.Sprintf("This is a new acquaintance. You don't know much about %s yet.", name)
	}

	return fmt.Sprintf(conversationSystemTemplate,
		tc.TimeStr, tc.DateStr, tc.TimeOfDay, name, name, personContext)
}

const greetingTemplate = `You are the household attendant generating a brief greeting for %s who just appeared in view.

Current time: %s (%s)
%s
Generate a brief greeting (1-2 sentences, max 20 words) that:
- Uses the appropriate time-of-day greeting (%s)
- Addresses them by name
- Optionally asks how they're doing or references something relevant
- Sounds natural when spoken aloud

Respond with ONLY the greeting text, nothing else.`

// GreetingPrompt builds the prompt used to generate a spoken greeting
// when a person arrives. firstMeeting suppresses the memory context so
// the attendant does not reference history it shouldn't have.
func GreetingPrompt(name, personContext string, firstMeeting bool, now time.Time) string {
	tc := NewTimeContext(now)

	var contextSection string
	if personContext != "" && !firstMeeting {
		contextSection = fmt.Sprintf("\nWhat you know about %s:\n%s\n\nYou may briefly reference something from your past interactions if relevant.\n", name, personContext)
	}

	return fmt.Sprintf(greetingTemplate,
		name, tc.TimeStr, tc.TimeOfDay, contextSection, tc.GreetingPrefix)
}

// ExtractionPrompt returns the prompt for distilling facts, a summary,
// and a mood from a completed conversation transcript. The response
// must be the JSON object and nothing else; the parser tolerates fence
// wrappers but not prose.
func ExtractionPrompt() string {
	return `Analyze this conversation transcript and extract information.

Your task:
1. Extract NEW FACTS about the person (things we learned that are worth remembering)
2. Generate a brief SUMMARY of the conversation (1-2 sentences)
3. Detect the person's apparent MOOD

Guidelines for facts:
- Only include facts that would be useful to remember for future conversations
- Facts should be concise and specific
- Examples: "Works as a software engineer", "Has a dog named Max", "Recently moved to Denver"
- Don't include: greetings, pleasantries, or transient information

Respond in this exact JSON format:
{
    "facts": ["fact 1", "fact 2"],
    "summary": "Brief summary of what was discussed",
    "mood": "detected mood (e.g., happy, stressed, neutral, tired)"
}

If no new facts were learned, use an empty array for facts.
Respond with ONLY the JSON, no additional text.`
}

// Utterance is one line of a conversation transcript.
type Utterance struct {
	Speaker string
	Text    string
}

// FormatTranscript renders utterances as "Speaker: text" lines for the
// extraction prompt.
func FormatTranscript(utterances []Utterance) string {
	lines := make([]string, 0, len(utterances))
	for _, u := range utterances {
		speaker := u.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		lines = append(lines, speaker+": "+u.Text)
	}
	return strings.Join(lines, "\n")
}

// Fallback situations with canned spoken responses, used when the
// dialogue backend is unreachable or a turn produced nothing usable.
const (
	FallbackNoSpeech   = "no_speech"
	FallbackConfusion  = "confusion"
	FallbackError      = "error"
	FallbackGoodbye    = "goodbye_default"
	FallbackGreeting   = "greeting_fallback"
	FallbackSilenceEnd = "silence_end"
)

var fallbackResponses = map[string]string{
	FallbackNoSpeech:   "I didn't catch that. Could you repeat yourself?",
	FallbackConfusion:  "I'm not sure I understand. Could you clarify?",
	FallbackError:      "I seem to be having a little trouble. Please try again.",
	FallbackGoodbye:    "Goodbye. I'll be here if you need anything.",
	FallbackGreeting:   "Hello. How may I assist you today?",
	FallbackSilenceEnd: "I seem to be talking to myself. I'll let you be.",
}

// Fallback returns the canned response for a situation. Unknown
// situations map to the generic error response.
func Fallback(situation string) string {
	if r, ok := fallbackResponses[situation]; ok {
		return r
	}
	return fallbackResponses[FallbackError]
}
