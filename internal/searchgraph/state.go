// Package searchgraph implements the normal/deep search and research
// state machine. Each node is a pure function of State producing a delta
// merged by the orchestrator (scalar = replace, map = shallow-merge, list =
// replace).
package searchgraph

import (
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/hybridretriever"
)

// Mode selects the normal/deep research strategy.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDeep   Mode = "deep"
)

// EnrichedResult merges a crawled full-content result with a non-crawled
// snippet result, preserving original ranking.
type EnrichedResult struct {
	Rank        int
	URL         string
	Title       string
	Snippet     string
	FullContent string
	Crawled     bool
	SubQuery    string
}

// AggregatedSource is a deduplicated external or grundsatz source plus the
// set of sub-queries that produced it.
type AggregatedSource struct {
	URL         string
	Title       string
	Content     string
	FirstRank   int
	SubQueries  []string
	IsGrundsatz bool
}

// State carries the fields the nodes read and write.
type State struct {
	Query            string
	Mode             Mode
	SubQueries       []string
	WebResults       map[string][]docstore.SearchResult // keyed by sub-query
	CrawlDecisions   []docstore.CrawlDecision
	EnrichedResults  []EnrichedResult
	GrundsatzResults []hybridretriever.ResultChunk
	AggregatedResults []AggregatedSource
	CategorizedSources map[string][]AggregatedSource
	ReferenceMap     docstore.ReferenceMap
	Citations        []docstore.Citation
	CitationSources  []docstore.Reference
	Summary          string
	Dossier          string
	Errors           []string
	Cancelled        bool
}

func newState(query string, mode Mode) *State {
	return &State{
		Query:              query,
		Mode:               mode,
		WebResults:         make(map[string][]docstore.SearchResult),
		CategorizedSources: make(map[string][]AggregatedSource),
		ReferenceMap:       make(docstore.ReferenceMap),
	}
}
