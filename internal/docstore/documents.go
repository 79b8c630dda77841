package docstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"politicalassistant/internal/apperr"
)

// DocumentStore persists Document metadata rows and drives their status
// state machine, grounded in the same bootstrap-on-construct
// pattern as TextIndex/VectorIndex.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore bootstraps the documents table.
func NewDocumentStore(ctx context.Context, pool *pgxpool.Pool) (*DocumentStore, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  file_size BIGINT NOT NULL DEFAULT 0,
  source_kind TEXT NOT NULL,
  status TEXT NOT NULL,
  vector_count INT NOT NULL DEFAULT 0,
  failure_reason TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "documentstore", "create table", err)
	}
	_, err = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_owner_idx ON documents (owner_id)`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "documentstore", "create owner index", err)
	}
	return &DocumentStore{pool: pool}, nil
}

// Create inserts a new Document row in StatusPending.
func (d *DocumentStore) Create(ctx context.Context, doc Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return apperr.New(apperr.InvalidInput, "documentstore", "marshal metadata", err)
	}
	_, err = d.pool.Exec(ctx, `
INSERT INTO documents(id, owner_id, title, filename, file_size, source_kind, status, vector_count, failure_reason, metadata)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  owner_id=EXCLUDED.owner_id, title=EXCLUDED.title, filename=EXCLUDED.filename,
  file_size=EXCLUDED.file_size, source_kind=EXCLUDED.source_kind, status=EXCLUDED.status,
  vector_count=EXCLUDED.vector_count, failure_reason=EXCLUDED.failure_reason,
  metadata=EXCLUDED.metadata, updated_at=now()
`, doc.ID, doc.OwnerID, doc.Title, doc.Filename, doc.FileSize, string(doc.SourceKind),
		string(doc.Status), doc.VectorCount, doc.FailureReason, meta)
	if err != nil {
		return apperr.New(apperr.Transient, "documentstore", "create document", err)
	}
	return nil
}

// AdvanceStatus transitions a document to newStatus.
func (d *DocumentStore) AdvanceStatus(ctx context.Context, docID string, newStatus Status) error {
	_, err := d.pool.Exec(ctx, `UPDATE documents SET status=$1, updated_at=now() WHERE id=$2`, string(newStatus), docID)
	if err != nil {
		return apperr.New(apperr.Transient, "documentstore", "advance status", err)
	}
	return nil
}

// Fail transitions a document to StatusFailed and records the reason.
func (d *DocumentStore) Fail(ctx context.Context, docID string, reason string) error {
	_, err := d.pool.Exec(ctx, `
UPDATE documents SET status=$1, failure_reason=$2, updated_at=now() WHERE id=$3
`, string(StatusFailed), reason, docID)
	if err != nil {
		return apperr.New(apperr.Transient, "documentstore", "fail document", err)
	}
	return nil
}

// Complete transitions a document to StatusCompleted with its final vector
// count.
func (d *DocumentStore) Complete(ctx context.Context, docID string, vectorCount int) error {
	_, err := d.pool.Exec(ctx, `
UPDATE documents SET status=$1, vector_count=$2, updated_at=now() WHERE id=$3
`, string(StatusCompleted), vectorCount, docID)
	if err != nil {
		return apperr.New(apperr.Transient, "documentstore", "complete document", err)
	}
	return nil
}

// Get fetches a document by id, scoped to ownerID.
func (d *DocumentStore) Get(ctx context.Context, docID, ownerID string) (Document, error) {
	var doc Document
	var meta []byte
	var sourceKind, status string
	err := d.pool.QueryRow(ctx, `
SELECT id, owner_id, title, filename, file_size, source_kind, status, vector_count, failure_reason, metadata, created_at, updated_at
FROM documents WHERE id=$1 AND owner_id=$2
`, docID, ownerID).Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Filename, &doc.FileSize,
		&sourceKind, &status, &doc.VectorCount, &doc.FailureReason, &meta, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, apperr.New(apperr.NotFound, "documentstore", "document not found", err)
		}
		return Document{}, apperr.New(apperr.Transient, "documentstore", "get document", err)
	}
	doc.SourceKind = SourceKind(sourceKind)
	doc.Status = Status(status)
	_ = json.Unmarshal(meta, &doc.Metadata)
	return doc, nil
}

// ListByIDs fetches documents by id for an owner, preserving no particular
// order (callers that need ordering re-sort).
func (d *DocumentStore) ListByIDs(ctx context.Context, ownerID string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
SELECT id, owner_id, title, filename, file_size, source_kind, status, vector_count, failure_reason, metadata, created_at, updated_at
FROM documents WHERE owner_id=$1 AND id = ANY($2)
`, ownerID, ids)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "documentstore", "list documents", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		var meta []byte
		var sourceKind, status string
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Filename, &doc.FileSize,
			&sourceKind, &status, &doc.VectorCount, &doc.FailureReason, &meta, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, apperr.New(apperr.Transient, "documentstore", "scan document", err)
		}
		doc.SourceKind = SourceKind(sourceKind)
		doc.Status = Status(status)
		_ = json.Unmarshal(meta, &doc.Metadata)
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete removes a document row, scoped to ownerID so one owner cannot
// delete another owner's document by guessing its id.
// Chunk/vector cleanup is the caller's responsibility (ingestpipeline
// coordinates both stores).
func (d *DocumentStore) Delete(ctx context.Context, docID, ownerID string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND owner_id=$2`, docID, ownerID)
	if err != nil {
		return apperr.New(apperr.Transient, "documentstore", "delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "documentstore", "document not found", nil)
	}
	return nil
}
