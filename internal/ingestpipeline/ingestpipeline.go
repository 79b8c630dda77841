// Package ingestpipeline drives a Document through its
// pending -> processing -> processing_embeddings -> completed/failed state
// machine: extract text, chunk, embed in batches, and upsert the vector
// and keyword rows.
package ingestpipeline

import (
	"context"
	"fmt"
	"sync"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/rag/chunker"
	"politicalassistant/internal/rag/embedder"
	"politicalassistant/internal/rag/ingest"
	"politicalassistant/internal/textextract"
)

// Source describes the raw input to ingest: either file bytes or pre-
// extracted manual text.
type Source struct {
	Kind     docstore.SourceKind
	Filename string
	Data     []byte
	Text     string // used directly when Kind == SourceManualText
	Title    string
}

// Pipeline wires together text extraction, chunking, embedding, and the two
// index stores behind a single ingest(owner, source, metadata) entry point.
type Pipeline struct {
	docs     *docstore.DocumentStore
	vectors  *docstore.VectorIndex
	text     *docstore.TextIndex
	chunker  chunker.Chunker
	embedder embedder.Embedder
	collection string
	chunkOpts  ingest.ChunkingOptions
	batchSize  int

	mu       sync.Mutex
	inFlight map[string]bool
}

// New constructs an ingestion Pipeline.
func New(docs *docstore.DocumentStore, vectors *docstore.VectorIndex, text *docstore.TextIndex,
	emb embedder.Embedder, collection string, chunkOpts ingest.ChunkingOptions, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Pipeline{
		docs:       docs,
		vectors:    vectors,
		text:       text,
		chunker:    chunker.SimpleChunker{},
		embedder:   emb,
		collection: collection,
		chunkOpts:  chunkOpts,
		batchSize:  batchSize,
		inFlight:   make(map[string]bool),
	}
}

// Ingest runs the full pipeline for one document id. Concurrency: one
// in-flight ingestion per document id; a concurrent call for the same
// id is rejected immediately.
func (p *Pipeline) Ingest(ctx context.Context, docID, ownerID string, src Source, metadata map[string]any) error {
	if !p.claim(docID) {
		return apperr.New(apperr.InvalidInput, "ingestpipeline", "ingestion already in flight for this document id", nil)
	}
	defer p.release(docID)

	doc := docstore.Document{
		ID:         docID,
		OwnerID:    ownerID,
		Title:      src.Title,
		Filename:   src.Filename,
		FileSize:   int64(len(src.Data)),
		SourceKind: src.Kind,
		Status:     docstore.StatusPending,
		Metadata:   metadata,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		return err
	}

	text, extractionMethod, err := p.extract(ctx, src)
	if err != nil {
		p.fail(ctx, docID, "extraction failed: "+err.Error())
		return err
	}
	doc.Metadata["extraction_method"] = extractionMethod
	if err := p.docs.AdvanceStatus(ctx, docID, docstore.StatusProcessing); err != nil {
		return err
	}

	chunks, err := p.chunker.Chunk(text, p.chunkOpts)
	if err != nil {
		p.fail(ctx, docID, "chunking failed: "+err.Error())
		return apperr.New(apperr.Permanent, "ingestpipeline", "chunking failed", err)
	}
	if len(chunks) == 0 {
		p.fail(ctx, docID, "no text")
		return apperr.New(apperr.Permanent, "ingestpipeline", "no chunks produced", nil)
	}
	if err := p.docs.AdvanceStatus(ctx, docID, docstore.StatusProcessingEmbeddings); err != nil {
		return err
	}

	// Re-ingest must replace rather than duplicate: clear
	// any previously upserted chunks for this document id before writing.
	_ = p.vectors.Delete(ctx, p.collection, docstore.Filter{DocIDs: []string{docID}})
	if err := p.text.DeleteByDoc(ctx, docID); err != nil {
		p.fail(ctx, docID, "cleanup failed: "+err.Error())
		return err
	}

	vectorCount, err := p.embedAndUpsert(ctx, docID, ownerID, src, chunks)
	if err != nil {
		// Clean up any already-upserted chunks so a failed ingest leaves no
		// orphaned vectors behind.
		_ = p.vectors.Delete(ctx, p.collection, docstore.Filter{DocIDs: []string{docID}})
		_ = p.text.DeleteByDoc(ctx, docID)
		p.fail(ctx, docID, "embedding failed: "+err.Error())
		return err
	}

	return p.docs.Complete(ctx, docID, vectorCount)
}

func (p *Pipeline) extract(ctx context.Context, src Source) (string, textextract.Method, error) {
	if src.Kind == docstore.SourceManualText || src.Kind == docstore.SourceURLCrawl {
		return src.Text, textextract.MethodDirect, nil
	}
	res, err := textextract.Extract(ctx, src.Data, src.Filename, textextract.Options{})
	if err != nil {
		return "", "", err
	}
	return res.Text, res.Stats.Method, nil
}

func (p *Pipeline) embedAndUpsert(ctx context.Context, docID, ownerID string, src Source, chunks []chunker.Chunk) (int, error) {
	vectorCount := 0
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return vectorCount, fmt.Errorf("embedding batch [%d:%d): %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return vectorCount, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}

		points := make([]docstore.Point, len(batch))
		textChunks := make([]docstore.Chunk, len(batch))
		for i, c := range batch {
			points[i] = docstore.Point{
				DocID:      docID,
				ChunkIndex: c.Index,
				Vector:     vectors[i],
				Payload: map[string]any{
					"owner_id":    ownerID,
					"source_kind": string(src.Kind),
					"title":       src.Title,
					"filename":    src.Filename,
					"text":        c.Text,
				},
			}
			textChunks[i] = docstore.Chunk{
				ID:         docstore.PointID(docID, c.Index),
				DocID:      docID,
				Index:      c.Index,
				Text:       c.Text,
				TokenCount: c.TokenCount,
				OwnerID:    ownerID,
				SourceKind: src.Kind,
				Title:      src.Title,
				Filename:   src.Filename,
			}
		}
		if err := p.vectors.Upsert(ctx, p.collection, points); err != nil {
			return vectorCount, err
		}
		for _, tc := range textChunks {
			if err := p.text.Upsert(ctx, tc); err != nil {
				return vectorCount, err
			}
		}
		vectorCount += len(batch)
	}
	return vectorCount, nil
}

func (p *Pipeline) fail(ctx context.Context, docID, reason string) {
	_ = p.docs.Fail(ctx, docID, reason)
}

// Delete removes a document and its chunks/vectors, scoped to ownerID.
// Ownership is checked once, up front, against the metadata row
// before touching the vector/text stores -- docstore.DocumentStore.Get
// already 404s on a mismatched owner, so a guessed id surfaces as NotFound
// rather than leaking whether the document exists under another owner.
func (p *Pipeline) Delete(ctx context.Context, docID, ownerID string) error {
	if _, err := p.docs.Get(ctx, docID, ownerID); err != nil {
		return err
	}
	if err := p.vectors.Delete(ctx, p.collection, docstore.Filter{DocIDs: []string{docID}}); err != nil {
		return err
	}
	if err := p.text.DeleteByDoc(ctx, docID); err != nil {
		return err
	}
	return p.docs.Delete(ctx, docID, ownerID)
}

func (p *Pipeline) claim(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[docID] {
		return false
	}
	p.inFlight[docID] = true
	return true
}

func (p *Pipeline) release(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, docID)
}
