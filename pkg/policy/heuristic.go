package policy

import (
	"strings"

	"github.com/memkeep/memkeep/pkg/memstore"
)

// greetings is the closed set of tokens that mark a message as pure
// small talk when it contains nothing else.
var greetings = map[string]bool{
	"hi":      true,
	"hello":   true,
	"hey":     true,
	"heya":    true,
	"hiya":    true,
	"howdy":   true,
	"yo":      true,
	"sup":     true,
	"hola":    true,
	"morning": true,
	"evening": true,
	"thanks":  true,
	"thank":   true,
	"bye":     true,
	"ok":      true,
	"okay":    true,
}

var identityPhrases = []string{"my name is", "i am", "i'm", "i live", "i work"}

var preferencePhrases = []string{"i like", "i love", "i prefer", "i hate", "favorite", "favourite"}

var projectPhrases = []string{"building", "working on", "project", "developing"}

// Heuristic is the deterministic fallback classifier. It needs no
// external calls and always returns a decision.
func Heuristic(userText, assistantText string) Decision {
	_ = assistantText

	text := strings.ToLower(strings.TrimSpace(userText))
	words := strings.Fields(text)

	if isGreetingOnly(words) {
		return Decision{
			ShouldStore: false,
			Importance:  0.1,
			Category:    memstore.CategoryCasual,
			Reasoning:   "greeting or small talk",
			Source:      SourceHeuristic,
		}
	}

	if containsAny(text, identityPhrases) {
		return storeDecision(userText, memstore.CategoryPersonal, 0.9, "self-referential identity statement")
	}
	if containsAny(text, preferencePhrases) {
		return storeDecision(userText, memstore.CategoryPreference, 0.8, "stated preference")
	}
	if containsAny(text, projectPhrases) {
		return storeDecision(userText, memstore.CategoryProject, 0.9, "project or work detail")
	}
	if strings.Contains(text, "?") && len(words) > 4 {
		return storeDecision(userText, memstore.CategoryQuestion, 0.7, "substantive question")
	}
	if len(words) > 5 {
		return storeDecision(userText, memstore.CategoryGeneral, 0.5, "substantial message")
	}

	return Decision{
		ShouldStore: false,
		Importance:  0.2,
		Category:    memstore.CategoryCasual,
		Reasoning:   "short message with no recognizable signal",
		Source:      SourceHeuristic,
	}
}

func storeDecision(userText, category string, importance float64, reasoning string) Decision {
	return Decision{
		ShouldStore: true,
		Importance:  importance,
		Category:    category,
		Facts:       []string{strings.TrimSpace(userText)},
		Reasoning:   reasoning,
		Source:      SourceHeuristic,
	}
}

// isGreetingOnly reports whether every word is a greeting token.
func isGreetingOnly(words []string) bool {
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, word := range words {
		if !greetings[strings.Trim(word, ".,!?")] {
			return false
		}
	}
	return true
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
