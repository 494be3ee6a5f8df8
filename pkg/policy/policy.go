// Package policy decides whether a conversational exchange is worth
// persisting as long-term memory.
//
// The primary path asks a text-generation engine for a structured
// verdict. When the call fails or the response cannot be parsed, the
// deterministic heuristic in heuristic.go takes over, so a decision is
// always produced and a policy call never fails.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	memerrors "github.com/memkeep/memkeep/pkg/errors"
	"github.com/memkeep/memkeep/pkg/llm"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memstore"
)

// Decision sources.
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
)

// Decision is the verdict on one exchange.
type Decision struct {
	// ShouldStore says whether the exchange gets persisted.
	ShouldStore bool `json:"should_store"`
	// Importance is the assigned weight in [0, 1].
	Importance float64 `json:"importance"`
	// Category is one of the memstore.Category* constants.
	Category string `json:"category"`
	// Facts are the salient statements extracted from the exchange.
	Facts []string `json:"facts,omitempty"`
	// Reasoning is a short free-form explanation.
	Reasoning string `json:"reasoning,omitempty"`
	// Source says which path produced the decision.
	Source string `json:"source"`
}

const decisionPrompt = `You evaluate one exchange from a chat conversation and decide whether it contains information worth remembering about the user long-term.

User said: %q
Assistant said: %q

Respond with ONLY a JSON object, no other text:
{
  "should_store": true or false,
  "importance": 0.0 to 1.0,
  "category": one of "personal", "preference", "project", "question", "casual", "general",
  "facts": ["each distinct fact worth remembering, phrased as a standalone sentence"],
  "reasoning": "one short sentence"
}

Greetings and small talk are not worth storing. Names, locations, preferences, ongoing projects, and substantive questions are.`

const retryPrompt = `Your previous reply was not valid JSON. Respond again with ONLY the JSON object described before, starting with { and ending with }.`

var validCategories = map[string]bool{
	memstore.CategoryPersonal:   true,
	memstore.CategoryPreference: true,
	memstore.CategoryProject:    true,
	memstore.CategoryQuestion:   true,
	memstore.CategoryCasual:     true,
	memstore.CategoryGeneral:    true,
}

// Policy produces store-worthiness decisions. The zero value (or a nil
// engine) always uses the heuristic.
type Policy struct {
	engine llm.Engine
}

// New creates a policy. A nil engine disables the model path.
func New(engine llm.Engine) *Policy {
	return &Policy{engine: engine}
}

// Decide evaluates one exchange. It never fails: model-path errors
// degrade to the heuristic.
func (p *Policy) Decide(ctx context.Context, userText, assistantText string) Decision {
	if p.engine == nil {
		return Heuristic(userText, assistantText)
	}

	decision, err := p.decideWithModel(ctx, userText, assistantText)
	if err != nil {
		log.WarnContext(ctx, "Policy model path failed, using heuristic", "error", err)
		return Heuristic(userText, assistantText)
	}
	return decision
}

// decideWithModel runs the primary path: one model call, and one
// corrective retry if the response does not parse.
func (p *Policy) decideWithModel(ctx context.Context, userText, assistantText string) (Decision, error) {
	prompt := fmt.Sprintf(decisionPrompt, userText, assistantText)

	response, err := p.engine.Complete(ctx, prompt,
		llm.WithTemperature(0.0), llm.WithMaxTokens(512))
	if err != nil {
		return Decision{}, err
	}

	decision, err := parseDecision(response)
	if err == nil {
		return decision, nil
	}

	log.DebugContext(ctx, "Unparseable policy response, retrying once",
		"error", err, "response", truncate(response, 100))

	response, err = p.engine.Complete(ctx, prompt+"\n\n"+retryPrompt,
		llm.WithTemperature(0.0), llm.WithMaxTokens(512))
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(response)
}

// parseDecision extracts and validates the JSON verdict. Markdown code
// fences around the object are tolerated.
func parseDecision(response string) (Decision, error) {
	cleaned := stripFences(response)
	if cleaned == "" {
		return Decision{}, fmt.Errorf("%w: empty policy response", memerrors.ErrMalformedResponse)
	}

	var decision Decision
	if err := json.Unmarshal([]byte(cleaned), &decision); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", memerrors.ErrMalformedResponse, err)
	}

	if !validCategories[decision.Category] {
		return Decision{}, fmt.Errorf("%w: unknown category %q", memerrors.ErrMalformedResponse, decision.Category)
	}
	if decision.Importance < 0 || decision.Importance > 1 {
		return Decision{}, fmt.Errorf("%w: importance %v out of range", memerrors.ErrMalformedResponse, decision.Importance)
	}

	decision.Source = SourceModel
	return decision, nil
}

// stripFences removes a surrounding markdown code fence and any text
// before the first brace or after the last one.
func stripFences(response string) string {
	cleaned := strings.TrimSpace(response)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return ""
	}
	return cleaned[start : end+1]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
