package searchgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/config"
	"politicalassistant/internal/llm"
	"politicalassistant/internal/websearch"
)

// scriptedProvider routes each prompt kind to a canned reply, standing in
// for the real LLM collaborator.
type scriptedProvider struct {
	crawlChoices string
	subQuestions string
	summary      string
	dossier      string
}

func (p *scriptedProvider) Chat(_ context.Context, msgs []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	prompt := msgs[len(msgs)-1].Content
	switch {
	case strings.Contains(prompt, "strategic sub-questions"):
		return llm.Message{Role: "assistant", Content: p.subQuestions}, nil
	case strings.Contains(prompt, "worth crawling"):
		return llm.Message{Role: "assistant", Content: p.crawlChoices}, nil
	case strings.Contains(prompt, "research dossier"):
		return llm.Message{Role: "assistant", Content: p.dossier}, nil
	default:
		return llm.Message{Role: "assistant", Content: p.summary}, nil
	}
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	reply, err := p.Chat(ctx, msgs, tools, model)
	if err != nil {
		return err
	}
	h.OnDelta(reply.Content)
	return nil
}

type searxHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Engine  string  `json:"engine"`
	Score   float64 `json:"score"`
}

func newSearchBackend(t *testing.T, hits []searxHit) *websearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"results": hits})
	}))
	t.Cleanup(srv.Close)
	c, err := websearch.New(config.MetaSearchConfig{BaseURL: srv.URL}, config.CacheConfig{}, nil)
	require.NoError(t, err)
	return c
}

func fiveHits() []searxHit {
	return []searxHit{
		{Title: "Klimaschutzkonzept Freiburg", URL: "https://freiburg.example/klimaschutz", Content: "Das Klimaschutzkonzept der Stadt Freiburg.", Engine: "duckduckgo", Score: 2.1},
		{Title: "Kommunale Wärmeplanung", URL: "https://energie.example/waermeplanung", Content: "Wärmeplanung als Baustein des kommunalen Klimaschutzes.", Engine: "brave", Score: 1.8},
		{Title: "Radverkehr in Freiburg", URL: "https://mobil.example/radverkehr", Content: "Ausbau des Radverkehrsnetzes.", Engine: "duckduckgo", Score: 1.5},
		{Title: "Solaroffensive", URL: "https://solar.example/offensive", Content: "Photovoltaik auf städtischen Dächern.", Engine: "brave", Score: 1.2},
		{Title: "Klimabilanz 2024", URL: "https://stadt.example/bilanz", Content: "Die jährliche Klimabilanz der Stadt.", Engine: "duckduckgo", Score: 0.9},
	}
}

func TestRunNormalModeProducesCitedSummary(t *testing.T) {
	provider := &scriptedProvider{
		crawlChoices: `[{"url":"https://freiburg.example/klimaschutz","reason":"official concept","expected_value":"high"},` +
			`{"url":"https://energie.example/waermeplanung","reason":"policy detail","expected_value":"medium"}]`,
		summary: "Freiburg verfolgt ein kommunales Klimaschutzkonzept [1]. Die Wärmeplanung ergänzt es [2].",
	}
	g := &Graph{
		Search: newSearchBackend(t, fiveHits()),
		LLM:    provider,
		Model:  "test-model",
	}

	st := g.Run(context.Background(), "Kommunaler Klimaschutz Freiburg", "owner-1", ModeNormal)

	require.Len(t, st.SubQueries, 1)
	require.Len(t, st.WebResults[st.SubQueries[0]], 5)
	require.Len(t, st.CrawlDecisions, 2)
	require.NotEmpty(t, st.Summary)
	require.LessOrEqual(t, len(st.Summary), 800)
	require.NotEmpty(t, st.Citations)
	sourceIDs := make(map[int]bool)
	for _, src := range st.CitationSources {
		sourceIDs[src.NumericID] = true
	}
	for _, c := range st.Citations {
		require.True(t, sourceIDs[c.ReferenceID], "citation id %d missing from citation sources", c.ReferenceID)
	}
}

func TestRunNormalModeCrawlDecisionFallsBackToTopN(t *testing.T) {
	// Unparseable crawl-choice reply: the graph must fall back to top-N by
	// rank rather than skipping crawling.
	provider := &scriptedProvider{
		crawlChoices: "I would crawl the first two results.",
		summary:      "Zusammenfassung [1].",
	}
	g := &Graph{Search: newSearchBackend(t, fiveHits()), LLM: provider, Model: "test-model"}

	st := g.Run(context.Background(), "Kommunaler Klimaschutz Freiburg", "owner-1", ModeNormal)

	require.Len(t, st.CrawlDecisions, 2)
	require.Equal(t, "https://freiburg.example/klimaschutz", st.CrawlDecisions[0].URL)
	require.Equal(t, "top-ranked result", st.CrawlDecisions[0].Reason)
}

func TestRunDeepModeProducesDossierWithMethodology(t *testing.T) {
	provider := &scriptedProvider{
		subQuestions: `["Verkehrswende Hintergrund","Verkehrswende aktuelle Entwicklungen","Verkehrswende Auswirkungen","Verkehrswende Gegenpositionen","Verkehrswende Ausblick"]`,
		crawlChoices: `[{"url":"https://freiburg.example/klimaschutz","reason":"depth","expected_value":"high"}]`,
		dossier:      "## Lage\n\nDie Verkehrswende schreitet voran [1].\n\n## Bewertung\n\nWeitere Quellen stützen das Bild [2].",
	}
	g := &Graph{Search: newSearchBackend(t, fiveHits()), LLM: provider, Model: "test-model"}

	st := g.Run(context.Background(), "Verkehrswende in mittelgroßen Städten", "owner-1", ModeDeep)

	require.Len(t, st.SubQueries, 5)
	require.NotEmpty(t, st.AggregatedResults)
	require.Contains(t, st.Dossier, "## Methodology")
	require.Contains(t, st.Dossier, itoa(len(st.AggregatedResults))+" sources")
	require.Contains(t, st.Dossier, itoa(len(st.GrundsatzResults))+" official documents")
	require.NotEmpty(t, st.Citations)
}

func TestRunDeepModePlannerFallsBackOnParseFailure(t *testing.T) {
	provider := &scriptedProvider{
		subQuestions: "no json here",
		crawlChoices: `[]`,
		dossier:      "Kurzbericht.",
	}
	g := &Graph{Search: newSearchBackend(t, fiveHits()), LLM: provider, Model: "test-model"}

	st := g.Run(context.Background(), "Verkehrswende", "owner-1", ModeDeep)
	require.Len(t, st.SubQueries, 5)
	require.Equal(t, "Verkehrswende background", st.SubQueries[0])
}

func TestBuildOutcomeStatusReflectsArtefacts(t *testing.T) {
	st := newState("q", ModeNormal)
	st.SubQueries = []string{"q"}
	require.Equal(t, "error", BuildOutcome(st).Status)

	st.Summary = "Antwort."
	out := BuildOutcome(st)
	require.Equal(t, "success", out.Status)
	require.True(t, out.SummaryGenerated)

	st.Cancelled = true
	require.Equal(t, "cancelled", BuildOutcome(st).Status)
}

func TestBuildOutcomeSurfacesPartialDegradationInMetadata(t *testing.T) {
	st := newState("q", ModeDeep)
	st.SubQueries = []string{"a", "b"}
	st.AggregatedResults = []AggregatedSource{{URL: "https://x.example", Title: "X"}}
	st.Errors = []string{"web search failed for sub-query \"b\": timeout"}

	out := BuildOutcome(st)
	require.Equal(t, "success", out.Status)
	require.True(t, out.Metadata.PartialDegradation)
	require.Len(t, out.Metadata.Errors, 1)
	require.Equal(t, 1, out.Metadata.SourceCount)
	require.Equal(t, st.SubQueries, out.ResearchQuestions)
}

func TestRunWebSearchFailureIsIsolatedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	search, err := websearch.New(config.MetaSearchConfig{BaseURL: srv.URL}, config.CacheConfig{}, nil)
	require.NoError(t, err)

	provider := &scriptedProvider{summary: "Keine Quellen verfügbar."}
	g := &Graph{Search: search, LLM: provider, Model: "test-model"}

	st := g.Run(context.Background(), "Klimaschutz", "owner-1", ModeNormal)
	require.NotEmpty(t, st.Errors)
	require.Empty(t, st.WebResults[st.SubQueries[0]])
}
