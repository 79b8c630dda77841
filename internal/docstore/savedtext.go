package docstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/security/fieldcrypt"
)

// SavedTextStore persists user-saved text snippets that can be attached to
// a request by id, using the same bootstrap-on-construct pattern as
// DocumentStore. The body is the only field users paste free-form content
// into, so it is the one field this store encrypts at rest.
type SavedTextStore struct {
	pool   *pgxpool.Pool
	crypto *fieldcrypt.Service
}

// NewSavedTextStore bootstraps the saved_texts table. crypto may be nil, in
// which case bodies are stored in plaintext (useful for tests).
func NewSavedTextStore(ctx context.Context, pool *pgxpool.Pool, crypto *fieldcrypt.Service) (*SavedTextStore, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS saved_texts (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  body_envelope JSONB,
  body_plain TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "savedtextstore", "create table", err)
	}
	return &SavedTextStore{pool: pool, crypto: crypto}, nil
}

// Save inserts or replaces a saved text snippet, encrypting the body when a
// crypto service is configured.
func (s *SavedTextStore) Save(ctx context.Context, owner, id, title, body string) error {
	if s.crypto == nil {
		_, err := s.pool.Exec(ctx, `
INSERT INTO saved_texts(id, owner_id, title, body_plain, body_envelope) VALUES($1,$2,$3,$4,NULL)
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, body_plain=EXCLUDED.body_plain, body_envelope=NULL
`, id, owner, title, body)
		if err != nil {
			return apperr.New(apperr.Transient, "savedtextstore", "save text", err)
		}
		return nil
	}

	env, err := s.crypto.Encrypt(body)
	if err != nil {
		return apperr.New(apperr.Permanent, "savedtextstore", "encrypt body", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return apperr.New(apperr.Permanent, "savedtextstore", "marshal envelope", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO saved_texts(id, owner_id, title, body_plain, body_envelope) VALUES($1,$2,$3,'',$4)
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, body_plain='', body_envelope=EXCLUDED.body_envelope
`, id, owner, title, raw)
	if err != nil {
		return apperr.New(apperr.Transient, "savedtextstore", "save text", err)
	}
	return nil
}

// GetText fetches a saved snippet's title and body, scoped to owner,
// decrypting the body when it was stored encrypted.
func (s *SavedTextStore) GetText(ctx context.Context, owner, id string) (title, body string, err error) {
	var plain string
	var envRaw []byte
	row := s.pool.QueryRow(ctx, `SELECT title, body_plain, body_envelope FROM saved_texts WHERE id=$1 AND owner_id=$2`, id, owner)
	if scanErr := row.Scan(&title, &plain, &envRaw); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return "", "", apperr.New(apperr.NotFound, "savedtextstore", "saved text not found", scanErr)
		}
		return "", "", apperr.New(apperr.Transient, "savedtextstore", "get saved text", scanErr)
	}
	if len(envRaw) == 0 || s.crypto == nil {
		return title, plain, nil
	}
	var env fieldcrypt.Envelope
	if err := json.Unmarshal(envRaw, &env); err != nil {
		return "", "", apperr.New(apperr.Permanent, "savedtextstore", "unmarshal envelope", err)
	}
	decrypted, err := s.crypto.Decrypt(env)
	if err != nil {
		return "", "", apperr.New(apperr.Permanent, "savedtextstore", "decrypt body", err)
	}
	return title, decrypted, nil
}
