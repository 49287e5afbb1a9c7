package convo

import "strings"

// farewellPhrases are scanned against user utterances before calling
// the dialogue backend: when the intent is unambiguous there is no
// point spending a model call to detect it.
var farewellPhrases = []string{
	"goodbye", "bye", "see you", "talk to you later",
	"gotta go", "got to go", "have to go", "need to go",
	"i'm leaving", "im leaving", "i'm out", "im out",
	"take care", "later", "catch you later", "peace out",
	"that's all", "thats all", "i'm done", "im done",
}

// isFarewell reports whether text contains a farewell phrase
// (case-insensitive substring match).
func isFarewell(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range farewellPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
