package docstore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"politicalassistant/internal/apperr"
)

// TextIndex is a Postgres tsvector keyword index over the chunk payload's
// text field; rows carry owner/source_kind/title/filename, and Search
// filters by owner and optional document ids.
type TextIndex struct {
	pool *pgxpool.Pool
}

// NewTextIndex bootstraps the chunks table and its GIN index on
// construction.
func NewTextIndex(ctx context.Context, pool *pgxpool.Pool) (*TextIndex, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  doc_id TEXT NOT NULL,
  chunk_index INT NOT NULL,
  owner_id TEXT NOT NULL,
  source_kind TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
);
`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "textindex", "create table", err)
	}
	_, err = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_ts_idx ON chunks USING GIN (ts)`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "textindex", "create gin index", err)
	}
	_, err = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_owner_idx ON chunks (owner_id)`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "textindex", "create owner index", err)
	}
	_, err = pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS chunks_doc_idx_uidx ON chunks (doc_id, chunk_index)`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "textindex", "create doc/index unique index", err)
	}
	return &TextIndex{pool: pool}, nil
}

// Upsert indexes (or replaces) a chunk row.
func (t *TextIndex) Upsert(ctx context.Context, c Chunk) error {
	_, err := t.pool.Exec(ctx, `
INSERT INTO chunks(id, doc_id, chunk_index, owner_id, source_kind, title, filename, text)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (doc_id, chunk_index) DO UPDATE SET
  id=EXCLUDED.id, owner_id=EXCLUDED.owner_id, source_kind=EXCLUDED.source_kind,
  title=EXCLUDED.title, filename=EXCLUDED.filename, text=EXCLUDED.text
`, c.ID, c.DocID, c.Index, c.OwnerID, string(c.SourceKind), c.Title, c.Filename, c.Text)
	if err != nil {
		return apperr.New(apperr.Transient, "textindex", "upsert chunk", err)
	}
	return nil
}

// DeleteByDoc removes every chunk row belonging to docID; document delete
// cascades through here.
func (t *TextIndex) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM chunks WHERE doc_id=$1`, docID)
	if err != nil {
		return apperr.New(apperr.Transient, "textindex", "delete by doc", err)
	}
	return nil
}

// TextHit is a single keyword search result.
type TextHit struct {
	DocID      string
	ChunkIndex int
	Score      float64
	Text       string
	Title      string
	Filename   string
}

// Search runs a tokenised keyword search over the owner-scoped (and
// optionally document-scoped) chunk set, ordered by textual relevance.
func (t *TextIndex) Search(ctx context.Context, query, ownerID string, docIDs []string, limit int) ([]TextHit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, apperr.New(apperr.InvalidInput, "textindex", "empty query", nil)
	}
	if limit <= 0 {
		limit = 10
	}
	stmt := `
SELECT doc_id, chunk_index, ts_rank(ts, websearch_to_tsquery('simple', $1)) AS score, text, title, filename
FROM chunks
WHERE ts @@ websearch_to_tsquery('simple', $1) AND owner_id = $2`
	args := []any{q, ownerID}
	if len(docIDs) > 0 {
		stmt += ` AND doc_id = ANY($3)`
		args = append(args, docIDs)
		stmt += ` ORDER BY score DESC LIMIT $4`
		args = append(args, limit)
	} else {
		stmt += ` ORDER BY score DESC LIMIT $3`
		args = append(args, limit)
	}
	rows, err := t.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "textindex", "search", err)
	}
	defer rows.Close()
	out := make([]TextHit, 0, limit)
	for rows.Next() {
		var h TextHit
		if err := rows.Scan(&h.DocID, &h.ChunkIndex, &h.Score, &h.Text, &h.Title, &h.Filename); err != nil {
			return nil, apperr.New(apperr.Transient, "textindex", "scan", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// OrderedChunkText returns the text of every chunk belonging to docID, sorted
// by chunk_index, for the "smart full-text shortcut".
func (t *TextIndex) OrderedChunkText(ctx context.Context, docID string) ([]string, error) {
	rows, err := t.pool.Query(ctx, `SELECT text FROM chunks WHERE doc_id=$1 ORDER BY chunk_index ASC`, docID)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "textindex", "ordered chunk text", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, apperr.New(apperr.Transient, "textindex", "scan", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// ChunkCount returns the number of chunks indexed for docID.
func (t *TextIndex) ChunkCount(ctx context.Context, docID string) (int, error) {
	var n int
	err := t.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE doc_id=$1`, docID).Scan(&n)
	if err != nil {
		return 0, apperr.New(apperr.Transient, "textindex", "chunk count", err)
	}
	return n, nil
}
