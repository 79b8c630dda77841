// Package docstore implements the document data model and its storage:
// Document/Chunk metadata in a relational store, chunk vectors in a Qdrant
// collection, and a Postgres tsvector-backed keyword index over the same
// payload, all owner-tenanted.
package docstore

import "time"

// SourceKind identifies how a Document entered the system.
type SourceKind string

const (
	SourceUpload     SourceKind = "upload"
	SourceManualText SourceKind = "manual_text"
	SourceURLCrawl   SourceKind = "url_crawl"
	SourceGrundsatz  SourceKind = "grundsatz"
)

// Status is the Document ingestion state machine.
type Status string

const (
	StatusPending              Status = "pending"
	StatusProcessing           Status = "processing"
	StatusProcessingEmbeddings Status = "processing_embeddings"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

// Document is the relational metadata row for one ingested document.
type Document struct {
	ID               string
	OwnerID          string
	Title            string
	Filename         string
	FileSize         int64
	SourceKind       SourceKind
	Status           Status
	VectorCount      int
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	// Metadata is opaque JSON side-metadata: extraction method, original URL,
	// word count, content preview, etc.
	Metadata map[string]any
}

// Chunk is a bounded slice of a Document's text with its own embedding,
// carrying payload fields mirrored from the Document for fast filtering.
type Chunk struct {
	ID          string // deterministic id, hash of DocID+Index
	DocID       string
	Index       int
	Text        string
	TokenCount  int
	Embedding   []float32
	OwnerID     string
	SourceKind  SourceKind
	Title       string
	Filename    string
}

// Reference is a numbered source injected into a drafting prompt.
type Reference struct {
	NumericID       int
	Title           string
	Snippets        []string
	URL             string
	SourceKind      SourceKind
	SimilarityScore float64
	ChunkIndex      int
	DocID           string
}

// Citation links a `[n]` marker found in a draft to a Reference.
type Citation struct {
	MarkerID    int
	ReferenceID int
}

// SearchResult is an ephemeral external search hit.
type SearchResult struct {
	Rank          int
	Title         string
	URL           string
	Snippet       string
	Content       string
	Domain        string
	Engine        string
	Score         float64
	PublishedDate string
	Category      string
}

// CrawlDecision is an ephemeral per-run decision to fully crawl a result.
type CrawlDecision struct {
	ResultIndex   int
	URL           string
	Reason        string
	ExpectedValue string // high|medium|low
}

// ReferenceMap maps numeric id -> Reference, built fresh per drafting call.
type ReferenceMap map[int]Reference
