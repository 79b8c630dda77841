package searchgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/docstore"
	"politicalassistant/internal/websearch"
)

func TestOptimizeAppliesLengthCap(t *testing.T) {
	long := ""
	for i := 0; i < 500; i++ {
		long += "a"
	}
	got := optimize(long)
	require.LessOrEqual(t, len(got), subQueryLengthCap)
}

func TestOptimizeExpandsKnownSynonym(t *testing.T) {
	got := optimize("Verkehrswende in Berlin")
	require.Contains(t, got, "Mobilitätswende")
}

func TestDeterministicDeepExpansionProducesFiveSubQueries(t *testing.T) {
	got := deterministicDeepExpansion("climate policy")
	require.Len(t, got, 5)
}

func TestIsPaywalledDetectsKnownDomain(t *testing.T) {
	require.True(t, isPaywalled("https://www.nytimes.com/article"))
	require.False(t, isPaywalled("https://example.com/article"))
}

func TestApplyIntelligentOptionTweaksRoutesToNewsOnDateCue(t *testing.T) {
	query := "what happened today"
	opts := websearch.Query{Text: query}
	applyIntelligentOptionTweaks(&opts, query)
	require.Equal(t, []string{"news"}, opts.Categories)
	require.Equal(t, "week", opts.TimeRange)
}

func TestAggregateDedupesByURLAndMergesSubQueries(t *testing.T) {
	webResults := map[string][]docstore.SearchResult{
		"q1": {{URL: "https://a.example", Title: "A"}},
		"q2": {{URL: "https://a.example", Title: "A"}},
	}
	enriched := []EnrichedResult{
		{Rank: 1, URL: "https://a.example", Title: "A", Snippet: "snippet"},
	}
	out, categorized := aggregate(webResults, enriched, nil)
	require.Len(t, out, 1)
	require.ElementsMatch(t, []string{"q1", "q2"}, out[0].SubQueries)
	require.Contains(t, categorized, "web")
}

func TestRelevantParagraphPicksHighestOverlap(t *testing.T) {
	content := "Irrelevant filler paragraph about cooking.\n\nA paragraph about Verkehrswende and mobility policy in cities."
	got := relevantParagraph(content, "Verkehrswende mobility", 400)
	require.Contains(t, got, "Verkehrswende")
}

func TestMethodologySectionIncludesCounts(t *testing.T) {
	out := methodologySection(5, 2)
	require.Contains(t, out, "5 sources")
	require.Contains(t, out, "2 official documents")
}
