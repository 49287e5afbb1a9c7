package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/wardenhq/attendant/internal/vision"
)

// registrationListenTimeout bounds each listen step of the enrollment
// dialog. Longer than a conversation turn: people hesitate before
// giving their name to a camera.
const registrationListenTimeout = 15 * time.Second

// registerStranger runs the enrollment dialog with an unrecognized
// person: offer to remember them, ask for a name, and enroll the face
// currently in view. Every exit path stamps the unknown identity's
// cooldown so the stranger is not immediately re-prompted.
func (o *Orchestrator) registerStranger(ctx context.Context) {
	o.tracker.MarkInConversation(vision.Unknown)
	defer o.tracker.MarkConversationEnded(vision.Unknown)

	o.logger.Info("registration started")

	o.say(ctx, "Hello! I don't believe we've met. I'm the household attendant. Would you like me to remember you?")

	answer, err := o.listener.Listen(ctx, registrationListenTimeout)
	if err != nil || answer == "" {
		o.logger.Debug("registration abandoned, no answer", "error", err)
		return
	}
	if !isAffirmative(answer) {
		o.say(ctx, "No problem. Let me know if you change your mind.")
		return
	}

	o.say(ctx, "Wonderful! What should I call you?")

	reply, err := o.listener.Listen(ctx, registrationListenTimeout)
	if err != nil || reply == "" {
		o.say(ctx, "I didn't catch that. We can try again later.")
		return
	}

	name := extractName(reply)
	if name == "" {
		o.say(ctx, "I didn't catch a name in that. We can try again later.")
		return
	}

	if err := o.registrar.RegisterPending(ctx, name); err != nil {
		o.logger.Warn("enrollment failed", "name", name, "error", err)
		o.say(ctx, "I'm having trouble remembering faces right now. Let's try again later.")
		return
	}

	o.logger.Info("person enrolled", "name", name)
	o.say(ctx, fmt.Sprintf("Nice to meet you, %s! I'll remember you from now on.", name))
}

func (o *Orchestrator) say(ctx context.Context, text string) {
	if err := o.speaker.Speak(ctx, text); err != nil {
		o.logger.Warn("speak failed", "error", err)
	}
}

var negativeWords = []string{"no", "nope", "nah", "don't", "dont", "not"}

var affirmativeWords = []string{
	"yes", "yeah", "yep", "sure", "ok", "okay", "please",
	"of course", "why not", "definitely", "absolutely",
}

// isAffirmative interprets a yes/no answer. Negation wins when both
// appear ("no, don't... well okay" stays a no).
func isAffirmative(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range negativeWords {
		if containsWord(lower, w) {
			return false
		}
	}
	for _, w := range affirmativeWords {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	for _, field := range strings.FieldsFunc(haystack, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	}) {
		if field == word {
			return true
		}
	}
	// Multi-word phrases cannot match a single field.
	if strings.Contains(word, " ") {
		return strings.Contains(haystack, word)
	}
	return false
}

// nameSkipWords are filler words stripped from a spoken name answer
// ("my name is Dave", "call me Dave", "it's Dave").
var nameSkipWords = map[string]bool{
	"my": true, "name": true, "is": true, "i'm": true, "im": true,
	"call": true, "me": true, "it's": true, "its": true, "the": true,
	"you": true, "can": true, "just": true, "well": true, "uh": true, "um": true,
}

// extractName pulls the likely name out of a spoken answer: the first
// word that is not a filler word, capitalized.
func extractName(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?':
			return -1
		}
		return r
	}, text)

	for _, word := range strings.Fields(cleaned) {
		if nameSkipWords[strings.ToLower(word)] {
			continue
		}
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		return string(runes)
	}
	return ""
}
