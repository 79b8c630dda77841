// Package enrich assembles grounding context for a single user message by
// running URL detection, document partitioning, and web search as
// independent parallel branches, passing typed GroundingDocument values
// rather than loosely-typed maps.
package enrich

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"politicalassistant/internal/crawl"
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/hybridretriever"
	"politicalassistant/internal/llm"
	"politicalassistant/internal/websearch"
)

// GroundingDocument is one document surfaced to the downstream prompt
// assembly, tagged with how it was produced and its header metadata.
type GroundingDocument struct {
	Title         string
	Filename      string
	ContentType   string
	EstimatedPages int
	WordCount     int
	FullText      string // set for "small" documents and crawled URLs
	Chunks        []hybridretriever.ResultChunk // set for "large" documents
}

// WebSource is a trimmed source-metadata record for UI display.
type WebSource struct {
	Title string
	URL   string
}

// EnrichedState is the enrichment output consumed by downstream prompt
// assembly.
type EnrichedState struct {
	Documents        []GroundingDocument
	Knowledge        []string
	WebSources       []WebSource
	ToolInstructions []string
	Errors           []string
}

// DocumentLookup resolves owned document ids to their chunk-count/full-text,
// abstracting over docstore.DocumentStore + docstore.TextIndex so
// this package stays decoupled from storage wiring details.
type DocumentLookup interface {
	ChunkCount(ctx context.Context, docID string) (int, error)
	FullText(ctx context.Context, docID string) (string, error)
	Metadata(ctx context.Context, owner, docID string) (docstore.Document, error)
}

// SavedTextLookup resolves saved-text ids to raw text.
type SavedTextLookup interface {
	GetText(ctx context.Context, owner, textID string) (title, text string, err error)
}

// Enricher assembles an EnrichedState for a single request.
type Enricher struct {
	Crawler   *crawl.Crawler
	Retriever *hybridretriever.Retriever
	Search    *websearch.Client
	LLMProv   llm.Provider
	Model     string
	Docs      DocumentLookup
	SavedText SavedTextLookup

	// FullTextThreshold mirrors hybridretriever.FullTextThreshold.
	FullTextThreshold int
}

// Request is the enrichment input: a single user message plus already-selected
// references.
type Request struct {
	Owner           string
	MessageBody     string
	AttachmentURLs  []string
	AttachedDocIDs  []string // documents already attached; URL dedup excludes these
	SelectedDocIDs  []string
	SelectedTextIDs []string
	WebSearchEnabled bool
}

var urlRE = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// detectURLs finds URLs in the message body and attachments, de-duplicated
// against already-attached documents, capped at 3.
func detectURLs(body string, attachmentURLs, alreadyAttached []string) []string {
	seen := make(map[string]bool, len(alreadyAttached))
	for _, u := range alreadyAttached {
		seen[u] = true
	}
	var out []string
	add := func(u string) {
		if seen[u] || len(out) >= 3 {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, u := range urlRE.FindAllString(body, -1) {
		add(u)
	}
	for _, u := range attachmentURLs {
		add(u)
	}
	return out
}

// Enrich runs the four branches in parallel; a failure in one branch
// degrades that branch only.
func (e *Enricher) Enrich(ctx context.Context, req Request) EnrichedState {
	var (
		mu    sync.Mutex
		state EnrichedState
	)
	var wg sync.WaitGroup

	// Branch 1: URL detection + crawl.
	wg.Add(1)
	go func() {
		defer wg.Done()
		docs, errs := e.crawlURLBranch(ctx, req)
		mu.Lock()
		state.Documents = append(state.Documents, docs...)
		state.Errors = append(state.Errors, errs...)
		mu.Unlock()
	}()

	// Branch 2: selected owned documents.
	wg.Add(1)
	go func() {
		defer wg.Done()
		docs, errs := e.selectedDocumentsBranch(ctx, req)
		mu.Lock()
		state.Documents = append(state.Documents, docs...)
		state.Errors = append(state.Errors, errs...)
		mu.Unlock()
	}()

	// Branch 3: saved text ids.
	wg.Add(1)
	go func() {
		defer wg.Done()
		knowledge, errs := e.savedTextBranch(ctx, req)
		mu.Lock()
		state.Knowledge = append(state.Knowledge, knowledge...)
		state.Errors = append(state.Errors, errs...)
		mu.Unlock()
	}()

	// Branch 4: web search.
	wg.Add(1)
	go func() {
		defer wg.Done()
		knowledge, sources, errs := e.webSearchBranch(ctx, req)
		mu.Lock()
		state.Knowledge = append(state.Knowledge, knowledge...)
		state.WebSources = append(state.WebSources, sources...)
		state.Errors = append(state.Errors, errs...)
		mu.Unlock()
	}()

	wg.Wait()
	return state
}

func (e *Enricher) crawlURLBranch(ctx context.Context, req Request) ([]GroundingDocument, []string) {
	urls := detectURLs(req.MessageBody, req.AttachmentURLs, req.AttachedDocIDs)
	if len(urls) == 0 || e.Crawler == nil {
		return nil, nil
	}
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	results := e.Crawler.BatchCrawl(cctx, urls, crawl.Options{Timeout: 15 * time.Second})

	var docs []GroundingDocument
	var errs []string
	for i, r := range results {
		if !r.Success {
			errs = append(errs, "crawl failed for "+urls[i]+": "+r.Error)
			continue
		}
		docs = append(docs, GroundingDocument{
			Title:       r.Title,
			ContentType: "text/html",
			WordCount:   r.WordCount,
			FullText:    r.Markdown,
		})
	}
	return docs, errs
}

func (e *Enricher) selectedDocumentsBranch(ctx context.Context, req Request) ([]GroundingDocument, []string) {
	if len(req.SelectedDocIDs) == 0 || e.Docs == nil {
		return nil, nil
	}
	threshold := e.FullTextThreshold
	if threshold <= 0 {
		threshold = hybridretriever.FullTextThreshold
	}

	var docs []GroundingDocument
	var errs []string
	for _, id := range req.SelectedDocIDs {
		meta, err := e.Docs.Metadata(ctx, req.Owner, id)
		if err != nil {
			errs = append(errs, "document metadata lookup failed for "+id+": "+err.Error())
			continue
		}
		count, err := e.Docs.ChunkCount(ctx, id)
		if err != nil {
			errs = append(errs, "chunk count lookup failed for "+id+": "+err.Error())
			continue
		}

		gd := GroundingDocument{
			Title:          meta.Title,
			Filename:       meta.Filename,
			ContentType:    contentTypeTag(meta.Filename),
			EstimatedPages: estimatePages(meta.FileSize),
		}

		if count <= threshold {
			text, err := e.Docs.FullText(ctx, id)
			if err != nil {
				errs = append(errs, "full text reconstruction failed for "+id+": "+err.Error())
				continue
			}
			gd.FullText = text
			gd.WordCount = len(strings.Fields(text))
		} else if e.Retriever != nil {
			res, err := e.Retriever.Search(ctx, req.MessageBody, req.Owner, hybridretriever.Options{
				Limit:       5,
				Mode:        hybridretriever.ModeHybrid,
				DocumentIDs: []string{id},
			})
			if err != nil {
				errs = append(errs, "scoped hybrid search failed for "+id+": "+err.Error())
				continue
			}
			gd.Chunks = res.Results
		}
		docs = append(docs, gd)
	}
	return docs, errs
}

func (e *Enricher) savedTextBranch(ctx context.Context, req Request) ([]string, []string) {
	if len(req.SelectedTextIDs) == 0 || e.SavedText == nil {
		return nil, nil
	}
	var knowledge []string
	var errs []string
	for _, id := range req.SelectedTextIDs {
		title, text, err := e.SavedText.GetText(ctx, req.Owner, id)
		if err != nil {
			errs = append(errs, "saved text lookup failed for "+id+": "+err.Error())
			continue
		}
		knowledge = append(knowledge, "## "+title+"\n\n"+text)
	}
	return knowledge, errs
}

func (e *Enricher) webSearchBranch(ctx context.Context, req Request) ([]string, []WebSource, []string) {
	if !req.WebSearchEnabled || e.Search == nil {
		return nil, nil, nil
	}
	hits, err := e.Search.Search(ctx, websearch.Query{Text: req.MessageBody, Categories: []string{"general"}, MaxResults: 10})
	if err != nil {
		return nil, nil, []string{"web search failed: " + err.Error()}
	}

	sources := make([]WebSource, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, WebSource{Title: h.Title, URL: h.URL})
	}

	var knowledge []string
	if e.LLMProv != nil {
		prompt := buildWebSummaryPrompt(req.MessageBody, hits)
		reply, err := e.LLMProv.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, e.Model)
		if err == nil && strings.TrimSpace(reply.Content) != "" {
			knowledge = append(knowledge, reply.Content)
		}
	}
	return knowledge, sources, nil
}

func buildWebSummaryPrompt(query string, hits []docstore.SearchResult) string {
	var b strings.Builder
	b.WriteString("Summarize the following web search results relevant to \"" + query + "\" in under 1000 tokens.\n\n")
	for _, h := range hits {
		b.WriteString("- " + h.Title + " (" + h.URL + "): " + h.Snippet + "\n")
	}
	return b.String()
}

func contentTypeTag(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(lower, ".md"):
		return "text/markdown"
	case strings.HasSuffix(lower, ".rtf"):
		return "application/rtf"
	default:
		return "text/plain"
	}
}

// estimatePages is a rough byte-to-page heuristic (~3000 bytes/page) used
// only for header metadata display.
func estimatePages(fileSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	pages := int(fileSize / 3000)
	if pages < 1 {
		pages = 1
	}
	return pages
}
