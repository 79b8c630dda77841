// Package ragpipeline exposes the owner-scoped document lifecycle
// operations as a single Service surface -- delete/bulk delete, and the
// single/batch full-text retrieval shortcut -- as a thin service over
// docstore.DocumentStore, hybridretriever.Retriever, and
// ingestpipeline.Pipeline.
package ragpipeline

import (
	"context"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/hybridretriever"
	"politicalassistant/internal/ingestpipeline"
)

// FullTextResult is the get-full-text response shape.
type FullTextResult struct {
	DocumentID string         `json:"document_id"`
	FullText   string         `json:"full_text"`
	ChunkCount int            `json:"chunk_count"`
	Metadata   map[string]any `json:"metadata"`
}

// DeleteError reports one failed deletion inside a bulk_delete call.
type DeleteError struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// BulkDeleteResult is the bulk-delete response shape.
type BulkDeleteResult struct {
	Deleted []string      `json:"deleted"`
	Errors  []DeleteError `json:"errors"`
}

// FullTextError reports one failed lookup inside a get_multiple_full_texts
// call.
type FullTextError struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// MultiFullTextResult is the batch get-full-text response shape.
type MultiFullTextResult struct {
	Documents []FullTextResult `json:"documents"`
	Errors    []FullTextError  `json:"errors"`
}

// Service wraps the owner-scoped document lifecycle operations.
type Service struct {
	Docs      *docstore.DocumentStore
	Retriever *hybridretriever.Retriever
	Ingest    *ingestpipeline.Pipeline
}

// New constructs a Service over the already-wired stores/pipeline.
func New(docs *docstore.DocumentStore, retriever *hybridretriever.Retriever, ingest *ingestpipeline.Pipeline) *Service {
	return &Service{Docs: docs, Retriever: retriever, Ingest: ingest}
}

// BulkDelete deletes every document id owned by owner, isolating per-id
// failures instead of aborting the whole batch, the same
// partial-failure shape hybridretriever/searchgraph use for per-item fanout.
func (s *Service) BulkDelete(ctx context.Context, owner string, ids []string) BulkDeleteResult {
	var res BulkDeleteResult
	for _, id := range ids {
		if err := s.Ingest.Delete(ctx, id, owner); err != nil {
			res.Errors = append(res.Errors, DeleteError{DocumentID: id, Error: err.Error()})
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}
	return res
}

// GetFullText reconstructs a document's full text and returns it alongside
// its chunk count and metadata. Ownership is verified via
// docs.Get before touching the retriever, so a guessed/foreign document id
// surfaces as apperr.NotFound rather than leaking another owner's text.
func (s *Service) GetFullText(ctx context.Context, owner, docID string) (FullTextResult, error) {
	doc, err := s.Docs.Get(ctx, docID, owner)
	if err != nil {
		return FullTextResult{}, err
	}
	fullText, err := s.Retriever.FullTextShortcut(ctx, docID)
	if err != nil {
		return FullTextResult{}, err
	}
	chunkCount, err := s.Retriever.ChunkCount(ctx, docID)
	if err != nil {
		return FullTextResult{}, err
	}
	return FullTextResult{
		DocumentID: docID,
		FullText:   fullText,
		ChunkCount: chunkCount,
		Metadata:   doc.Metadata,
	}, nil
}

// GetMultipleFullTexts resolves GetFullText for each id, collecting
// per-document errors rather than failing the whole request.
func (s *Service) GetMultipleFullTexts(ctx context.Context, owner string, ids []string) MultiFullTextResult {
	var res MultiFullTextResult
	for _, id := range ids {
		doc, err := s.GetFullText(ctx, owner, id)
		if err != nil {
			res.Errors = append(res.Errors, FullTextError{DocumentID: id, Error: err.Error()})
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return res
}

// Delete removes a single document, an owner-scoped convenience wrapper
// around ingestpipeline.Pipeline.Delete for single-id CLI/API callers.
func (s *Service) Delete(ctx context.Context, owner, docID string) error {
	if docID == "" {
		return apperr.New(apperr.InvalidInput, "ragpipeline", "document id required", nil)
	}
	return s.Ingest.Delete(ctx, docID, owner)
}
