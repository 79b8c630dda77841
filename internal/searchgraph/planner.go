package searchgraph

import (
	"context"
	"encoding/json"
	"strings"

	"politicalassistant/internal/llm"
)

// synonymTable is the static language-specific expansion table for the
// normal-mode planner's optimize() step.
var synonymTable = map[string]string{
	"Verkehrswende": "Verkehrswende Mobilitätswende ÖPNV-Ausbau",
	"Klimaschutz":   "Klimaschutz Klimapolitik Emissionsreduktion",
}

const subQueryLengthCap = 400

// optimize applies the static synonym expansion and length cap used by the
// normal-mode planner.
func optimize(query string) string {
	q := strings.TrimSpace(query)
	for term, expansion := range synonymTable {
		if strings.Contains(q, term) {
			q = q + " " + expansion
			break
		}
	}
	if len(q) > subQueryLengthCap {
		q = q[:subQueryLengthCap]
	}
	return q
}

// deepPlannerPrompt asks the LLM for 4-5 strategic sub-questions.
func deepPlannerPrompt(query string) string {
	return "Given the research topic \"" + query + "\", produce 4 to 5 strategic sub-questions " +
		"covering: background, current developments, impacts, alternative perspectives, and outlook. " +
		"Respond with a JSON array of strings only, no other text."
}

// deterministicDeepExpansion is the fallback used when the LLM's sub-question
// response cannot be parsed.
func deterministicDeepExpansion(query string) []string {
	return []string{
		query + " background",
		query + " current developments",
		query + " impacts",
		query + " alternative perspectives",
		query + " outlook",
	}
}

// planNormal implements the normal-mode planner node.
func planNormal(query string) []string {
	return []string{optimize(query)}
}

// planDeep implements the deep-mode planner node, asking provider for
// strategic sub-questions and falling back to a deterministic template on
// any parse failure.
func planDeep(ctx context.Context, provider llm.Provider, model, query string) []string {
	if provider == nil {
		return deterministicDeepExpansion(query)
	}
	reply, err := provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: deepPlannerPrompt(query)},
	}, nil, model)
	if err != nil {
		return deterministicDeepExpansion(query)
	}
	var subQueries []string
	if err := json.Unmarshal([]byte(extractJSONArray(reply.Content)), &subQueries); err != nil || len(subQueries) == 0 {
		return deterministicDeepExpansion(query)
	}
	return subQueries
}

// extractJSONArray trims surrounding prose/fencing around a JSON array,
// the lenient parse LLM replies need when the model adds chatter around
// the payload.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
