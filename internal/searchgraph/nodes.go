package searchgraph

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"politicalassistant/internal/citation"
	"politicalassistant/internal/crawl"
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/hybridretriever"
	"politicalassistant/internal/llm"
	"politicalassistant/internal/websearch"
)

// paywalledDomains is the simple heuristic exclusion list for node 3
//.
var paywalledDomains = map[string]bool{
	"wsj.com":          true,
	"ft.com":           true,
	"nytimes.com":      true,
	"faz.net":          true,
	"spiegel.de":       true,
	"economist.com":    true,
}

func isPaywalled(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for domain := range paywalledDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// Graph wires the node implementations to their collaborators.
type Graph struct {
	Search    *websearch.Client
	Crawler   *crawl.Crawler
	Retriever *hybridretriever.Retriever
	LLM       llm.Provider
	Model     string

	CrawlLimitNormal int // N=2
	CrawlLimitDeep   int // N=5
	MaxSubQueryFanout int // bounded pool for sub-query search calls, <=8
}

func (g *Graph) crawlLimit(mode Mode) int {
	if mode == ModeDeep {
		if g.CrawlLimitDeep > 0 {
			return g.CrawlLimitDeep
		}
		return 5
	}
	if g.CrawlLimitNormal > 0 {
		return g.CrawlLimitNormal
	}
	return 2
}

func (g *Graph) crawlTimeout(mode Mode) time.Duration {
	if mode == ModeDeep {
		return 5 * time.Second
	}
	return 3 * time.Second
}

// runWebSearch runs the meta-search for each sub-query against a bounded
// pool (<=8): errgroup.Group.SetLimit with goroutines always returning nil,
// so one sub-query's failure never cancels the others. Failures are
// isolated per sub-query and do not fail the graph.
func (g *Graph) runWebSearch(ctx context.Context, subQueries []string) (map[string][]docstore.SearchResult, []string) {
	results := make(map[string][]docstore.SearchResult, len(subQueries))
	var errs []string
	var mu sync.Mutex

	fanout := g.MaxSubQueryFanout
	if fanout <= 0 || fanout > 8 {
		fanout = 8
	}

	var eg errgroup.Group
	eg.SetLimit(fanout)
	for _, sq := range subQueries {
		sq := sq
		eg.Go(func() error {
			q := websearch.Query{Text: sq, MaxResults: 10}
			applyIntelligentOptionTweaks(&q, sq)

			hits, err := g.Search.Search(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, "web search failed for sub-query \""+sq+"\": "+err.Error())
				return nil
			}
			results[sq] = hits
			return nil
		})
	}
	_ = eg.Wait()
	return results, errs
}

// regionalDateCues is a simple marker list used to route a sub-query toward
// the "news" category with a tighter time range.
var regionalDateCues = []string{"heute", "diese woche", "aktuell", "today", "this week", "latest", "breaking"}

func applyIntelligentOptionTweaks(q *websearch.Query, subQuery string) {
	lower := strings.ToLower(subQuery)
	for _, cue := range regionalDateCues {
		if strings.Contains(lower, cue) {
			q.Categories = []string{"news"}
			q.TimeRange = "week"
			return
		}
	}
}

// crawlDecisionPrompt asks the LLM to choose up to N URLs to crawl from the
// first sub-query's results.
func crawlDecisionPrompt(results []docstore.SearchResult, n int) string {
	var b strings.Builder
	b.WriteString("Given these search results, choose up to ")
	b.WriteString(itoa(n))
	b.WriteString(" URLs worth crawling for full content, with a one-line reason and an expected value of high/medium/low. ")
	b.WriteString("Respond as a JSON array of {\"url\":..,\"reason\":..,\"expected_value\":..} only.\n\n")
	for _, r := range results {
		b.WriteString(itoa(r.Rank) + ". " + r.Title + " (" + r.URL + ") - " + r.Snippet + "\n")
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

type llmCrawlChoice struct {
	URL           string `json:"url"`
	Reason        string `json:"reason"`
	ExpectedValue string `json:"expected_value"`
}

// decideCrawls implements node 3: prompt the LLM for up to N URLs with
// reasons; on parse failure fall back to top-N by rank; exclude paywalled
// domains.
func (g *Graph) decideCrawls(ctx context.Context, results []docstore.SearchResult, mode Mode) []docstore.CrawlDecision {
	n := g.crawlLimit(mode)
	filtered := make([]docstore.SearchResult, 0, len(results))
	for _, r := range results {
		if !isPaywalled(r.URL) {
			filtered = append(filtered, r)
		}
	}

	if g.LLM != nil {
		reply, err := g.LLM.Chat(ctx, []llm.Message{
			{Role: "user", Content: crawlDecisionPrompt(filtered, n)},
		}, nil, g.Model)
		if err == nil {
			var choices []llmCrawlChoice
			if jsonErr := json.Unmarshal([]byte(extractJSONArray(reply.Content)), &choices); jsonErr == nil && len(choices) > 0 {
				decisions := make([]docstore.CrawlDecision, 0, n)
				byURL := make(map[string]int, len(filtered))
				for i, r := range filtered {
					byURL[r.URL] = i
				}
				for _, c := range choices {
					if len(decisions) >= n {
						break
					}
					idx, ok := byURL[c.URL]
					if !ok {
						continue
					}
					decisions = append(decisions, docstore.CrawlDecision{
						ResultIndex:   idx,
						URL:           c.URL,
						Reason:        c.Reason,
						ExpectedValue: c.ExpectedValue,
					})
				}
				if len(decisions) > 0 {
					return decisions
				}
			}
		}
	}

	// Fallback: top-N by rank.
	decisions := make([]docstore.CrawlDecision, 0, n)
	for i, r := range filtered {
		if i >= n {
			break
		}
		decisions = append(decisions, docstore.CrawlDecision{
			ResultIndex:   i,
			URL:           r.URL,
			Reason:        "top-ranked result",
			ExpectedValue: "medium",
		})
	}
	return decisions
}

// enrichContent calls the crawler for each crawl decision in
// parallel with a per-mode timeout and content-size cap; merge crawled
// full-content results with non-crawled snippets into enriched_results,
// preserving original ranking.
func (g *Graph) enrichContent(ctx context.Context, results []docstore.SearchResult, decisions []docstore.CrawlDecision, mode Mode) []EnrichedResult {
	toCrawl := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		toCrawl[d.URL] = true
	}

	urls := make([]string, 0, len(decisions))
	for _, d := range decisions {
		urls = append(urls, d.URL)
	}
	crawlResults := make(map[string]crawl.Result, len(urls))
	if g.Crawler != nil && len(urls) > 0 {
		opts := crawl.Options{
			Timeout:         g.crawlTimeout(mode),
			MaxContentBytes: 2 * 1024 * 1024,
		}
		batch := g.Crawler.BatchCrawl(ctx, urls, opts)
		for i, u := range urls {
			crawlResults[u] = batch[i]
		}
	}

	out := make([]EnrichedResult, 0, len(results))
	for _, r := range results {
		er := EnrichedResult{Rank: r.Rank, URL: r.URL, Title: r.Title, Snippet: r.Snippet}
		if toCrawl[r.URL] {
			if cr, ok := crawlResults[r.URL]; ok && cr.Success {
				er.FullContent = cr.Content
				er.Crawled = true
			}
		}
		out = append(out, er)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// runGrundsatz implements node 5 (deep only): hybrid search against a
// separate "official documents" collection with limit=3; never fatal.
func (g *Graph) runGrundsatz(ctx context.Context, query, owner string) []hybridretriever.ResultChunk {
	if g.Retriever == nil {
		return nil
	}
	res, err := g.Retriever.Search(ctx, query, owner, hybridretriever.Options{Limit: 3, Mode: hybridretriever.ModeHybrid})
	if err != nil {
		return nil
	}
	return res.Results
}

// aggregate implements node 6: dedupe external sources by URL, record which
// sub-queries produced each, group official documents into their own
// category.
func aggregate(webResults map[string][]docstore.SearchResult, enriched []EnrichedResult, grundsatz []hybridretriever.ResultChunk) ([]AggregatedSource, map[string][]AggregatedSource) {
	bySub := make(map[string][]string) // url -> sub-queries
	for sq, hits := range webResults {
		for _, h := range hits {
			bySub[h.URL] = append(bySub[h.URL], sq)
		}
	}

	seen := make(map[string]*AggregatedSource)
	var order []string
	for _, er := range enriched {
		if existing, ok := seen[er.URL]; ok {
			existing.SubQueries = mergeUnique(existing.SubQueries, bySub[er.URL])
			continue
		}
		content := er.Snippet
		if er.Crawled {
			content = er.FullContent
		}
		src := &AggregatedSource{
			URL:        er.URL,
			Title:      er.Title,
			Content:    content,
			FirstRank:  er.Rank,
			SubQueries: mergeUnique(nil, bySub[er.URL]),
		}
		seen[er.URL] = src
		order = append(order, er.URL)
	}

	out := make([]AggregatedSource, 0, len(order)+len(grundsatz))
	for _, u := range order {
		out = append(out, *seen[u])
	}

	categorized := map[string][]AggregatedSource{"web": out}
	if len(grundsatz) > 0 {
		var official []AggregatedSource
		for _, g := range grundsatz {
			official = append(official, AggregatedSource{
				URL:         g.DocumentID,
				Title:       g.Title,
				Content:     g.ChunkText,
				IsGrundsatz: true,
			})
		}
		categorized["official_documents"] = official
		out = append(out, official...)
	}
	return out, categorized
}

func mergeUnique(existing, add []string) []string {
	set := make(map[string]bool, len(existing))
	for _, e := range existing {
		set[e] = true
	}
	out := append([]string{}, existing...)
	for _, a := range add {
		if !set[a] {
			set[a] = true
			out = append(out, a)
		}
	}
	return out
}

// summarise implements node 7 (normal mode): pick top-3 full-content
// sources and up to 5 snippet sources, extract the most query-relevant
// paragraphs from full-content sources up to 400 chars each, call the LLM
// with a strict length cap and citation instructions, then validate the
// reply's markers.
func (g *Graph) summarise(ctx context.Context, query string, sources []AggregatedSource) (string, docstore.ReferenceMap, citation.ValidationResult) {
	var full, snippets []AggregatedSource
	for _, s := range sources {
		if s.Content != "" && len(s.Content) > 400 {
			full = append(full, s)
		} else {
			snippets = append(snippets, s)
		}
	}
	if len(full) > 3 {
		full = full[:3]
	}
	if len(snippets) > 5 {
		snippets = snippets[:5]
	}

	var candidates []citation.Candidate
	for _, s := range full {
		candidates = append(candidates, citation.Candidate{
			URL: s.URL, Title: s.Title, Snippet: relevantParagraph(s.Content, query, 400),
			SourceKind: docstore.SourceURLCrawl,
		})
	}
	for _, s := range snippets {
		candidates = append(candidates, citation.Candidate{
			URL: s.URL, Title: s.Title, Snippet: s.Content, SourceKind: docstore.SourceURLCrawl,
		})
	}
	refMap := citation.BuildReferenceMap(candidates, citation.Limits{LimitPerDoc: 1, MaxTotal: 8})

	if g.LLM == nil {
		return "", refMap, citation.ValidationResult{}
	}
	prompt := "Answer the question \"" + query + "\" in at most 800 characters. Cite sources using [n] markers " +
		"matching the numbered list below. Only cite ids from this list.\n\n" + citation.SummariseReferencesForPrompt(refMap)
	reply, err := g.LLM.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, g.Model)
	if err != nil {
		return "", refMap, citation.ValidationResult{}
	}
	result := citation.ValidateAndInject(reply.Content, refMap)
	return result.CleanDraft, refMap, result
}

// relevantParagraph picks the paragraph with the highest term-frequency
// overlap with query, truncated to maxChars.
func relevantParagraph(content, query string, maxChars int) string {
	paragraphs := strings.Split(content, "\n\n")
	queryTerms := strings.Fields(strings.ToLower(query))
	best := ""
	bestScore := -1
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lower := strings.ToLower(p)
		score := 0
		for _, t := range queryTerms {
			score += strings.Count(lower, t)
		}
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	if best == "" && len(paragraphs) > 0 {
		best = strings.TrimSpace(paragraphs[0])
	}
	if len(best) > maxChars {
		best = best[:maxChars]
	}
	return best
}

// writeDossier implements node 8 (deep mode): dedupe+diversify sources,
// build a reference map, prompt the LLM for a sectioned long-form answer,
// validate citations, append a deterministic methodology section.
func (g *Graph) writeDossier(ctx context.Context, query string, sources []AggregatedSource, grundsatzCount int) (string, docstore.ReferenceMap, citation.ValidationResult) {
	var candidates []citation.Candidate
	for _, s := range sources {
		candidates = append(candidates, citation.Candidate{
			URL: s.URL, Title: s.Title, Snippet: s.Content, SourceKind: docstore.SourceURLCrawl,
		})
	}
	refMap := citation.BuildReferenceMap(candidates, citation.Limits{LimitPerDoc: 4, MaxTotal: 12})

	var body string
	var result citation.ValidationResult
	if g.LLM != nil {
		prompt := "Write a sectioned long-form research dossier answering \"" + query + "\". " +
			"Cite sources using [n] markers matching the numbered list below. Only cite ids from this list.\n\n" +
			citation.SummariseReferencesForPrompt(refMap)
		reply, err := g.LLM.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, g.Model)
		if err == nil {
			result = citation.ValidateAndInject(reply.Content, refMap)
			body = result.CleanDraft
		}
	}

	methodology := methodologySection(len(sources), grundsatzCount)
	return strings.TrimSpace(body + "\n\n" + methodology), refMap, result
}

func methodologySection(sourceCount, grundsatzCount int) string {
	return "## Methodology\n\nThis dossier draws on " + itoa(sourceCount) + " sources, including " +
		itoa(grundsatzCount) + " official documents."
}
