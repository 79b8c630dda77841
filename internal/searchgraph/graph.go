package searchgraph

import (
	"context"
	"sync"

	"politicalassistant/internal/docstore"
	"politicalassistant/internal/hybridretriever"
)

// Run drives the full state machine for query under mode, scoped to owner
// (used by the grundsatz hybrid-search branch). Edge routing:
//
//	normal: planner -> search -> crawl-decision -> enricher -> summariser -> end
//	deep:   planner -> {search, grundsatz-search} (parallel) ->
//	          (search branch) crawl-decision -> enricher -> aggregator;
//	          (grundsatz branch) -> aggregator;
//	          aggregator -> dossier-writer -> end
//
// Failure policy: each node records its own local errors; the graph does
// not abort on a single node's failure unless the planner produces no
// sub-queries at all.
func (g *Graph) Run(ctx context.Context, query, owner string, mode Mode) *State {
	st := newState(query, mode)

	if mode == ModeDeep {
		st.SubQueries = planDeep(ctx, g.LLM, g.Model, query)
	} else {
		st.SubQueries = planNormal(query)
	}
	if len(st.SubQueries) == 0 {
		st.Errors = append(st.Errors, "planner produced no sub-queries")
		return st
	}

	if mode == ModeDeep {
		g.runDeep(ctx, st, owner)
	} else {
		g.runNormal(ctx, st)
	}
	if ctx.Err() != nil {
		st.Cancelled = true
	}
	return st
}

// Metadata carries the per-run diagnostics surfaced alongside a result:
// partial degradation is reported here, not as overall failure.
type Metadata struct {
	SubQueryCount      int      `json:"sub_query_count"`
	CrawledCount       int      `json:"crawled_count"`
	SourceCount        int      `json:"source_count"`
	PartialDegradation bool     `json:"partial_degradation"`
	Errors             []string `json:"errors,omitempty"`
}

// Outcome is the run_web_search response envelope: status is "success"
// when any primary artefact (summary, dossier, or at least one source) was
// produced, "cancelled" when the caller cancelled the run, "error" otherwise.
type Outcome struct {
	Status             string                        `json:"status"`
	Query              string                        `json:"query"`
	Mode               Mode                          `json:"mode"`
	ResearchQuestions  []string                      `json:"research_questions,omitempty"`
	Results            []docstore.SearchResult       `json:"results,omitempty"`
	Summary            string                        `json:"summary,omitempty"`
	SummaryGenerated   bool                          `json:"summary_generated"`
	Dossier            string                        `json:"dossier,omitempty"`
	Sources            []AggregatedSource            `json:"sources,omitempty"`
	CategorizedSources map[string][]AggregatedSource `json:"categorized_sources,omitempty"`
	GrundsatzResults   []hybridretriever.ResultChunk `json:"grundsatz_results,omitempty"`
	Citations          []docstore.Citation           `json:"citations,omitempty"`
	CitationSources    []docstore.Reference          `json:"citation_sources,omitempty"`
	Metadata           Metadata                      `json:"metadata"`
}

// BuildOutcome folds a finished State into the external response shape.
func BuildOutcome(st *State) Outcome {
	crawled := 0
	for _, er := range st.EnrichedResults {
		if er.Crawled {
			crawled++
		}
	}

	out := Outcome{
		Query:              st.Query,
		Mode:               st.Mode,
		Summary:            st.Summary,
		SummaryGenerated:   st.Summary != "",
		Dossier:            st.Dossier,
		Sources:            st.AggregatedResults,
		CategorizedSources: st.CategorizedSources,
		GrundsatzResults:   st.GrundsatzResults,
		Citations:          st.Citations,
		CitationSources:    st.CitationSources,
		Metadata: Metadata{
			SubQueryCount:      len(st.SubQueries),
			CrawledCount:       crawled,
			SourceCount:        len(st.AggregatedResults),
			PartialDegradation: len(st.Errors) > 0,
			Errors:             st.Errors,
		},
	}
	if st.Mode == ModeDeep {
		out.ResearchQuestions = st.SubQueries
	} else if len(st.SubQueries) > 0 {
		out.Results = st.WebResults[st.SubQueries[0]]
	}

	switch {
	case st.Cancelled:
		out.Status = "cancelled"
	case st.Summary != "" || st.Dossier != "" || len(st.AggregatedResults) > 0:
		out.Status = "success"
	default:
		out.Status = "error"
	}
	return out
}

func (g *Graph) runNormal(ctx context.Context, st *State) {
	webResults, errs := g.runWebSearch(ctx, st.SubQueries)
	st.WebResults = webResults
	st.Errors = append(st.Errors, errs...)

	first := st.SubQueries[0]
	firstResults := webResults[first]
	st.CrawlDecisions = g.decideCrawls(ctx, firstResults, ModeNormal)
	st.EnrichedResults = g.enrichContent(ctx, firstResults, st.CrawlDecisions, ModeNormal)

	aggregated, categorized := aggregate(st.WebResults, st.EnrichedResults, nil)
	st.AggregatedResults = aggregated
	st.CategorizedSources = categorized

	summary, refMap, result := g.summarise(ctx, st.Query, aggregated)
	st.Summary = summary
	st.ReferenceMap = refMap
	st.Citations = result.Citations
	st.CitationSources = result.Sources
	st.Errors = append(st.Errors, result.Errors...)
}

// runDeep runs the web-search and grundsatz-search branches concurrently
// (they have no data dependency), then joins them into the aggregator
// before the dossier writer.
func (g *Graph) runDeep(ctx context.Context, st *State, owner string) {
	var webResults map[string][]docstore.SearchResult
	var webErrs []string
	var grundsatzResults []hybridretriever.ResultChunk

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		webResults, webErrs = g.runWebSearch(ctx, st.SubQueries)
	}()
	go func() {
		defer wg.Done()
		grundsatzResults = g.runGrundsatz(ctx, st.Query, owner)
	}()
	wg.Wait()

	st.WebResults = webResults
	st.Errors = append(st.Errors, webErrs...)
	st.GrundsatzResults = grundsatzResults

	first := st.SubQueries[0]
	firstResults := webResults[first]
	st.CrawlDecisions = g.decideCrawls(ctx, firstResults, ModeDeep)
	st.EnrichedResults = g.enrichContent(ctx, firstResults, st.CrawlDecisions, ModeDeep)

	aggregated, categorized := aggregate(st.WebResults, st.EnrichedResults, st.GrundsatzResults)
	st.AggregatedResults = aggregated
	st.CategorizedSources = categorized

	dossier, refMap, result := g.writeDossier(ctx, st.Query, aggregated, len(st.GrundsatzResults))
	st.Dossier = dossier
	st.ReferenceMap = refMap
	st.Citations = result.Citations
	st.CitationSources = result.Sources
	st.Errors = append(st.Errors, result.Errors...)
}
