package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/liliang-cn/xf/internal/encoding"
	"github.com/liliang-cn/xf/pkg/model"
	"github.com/liliang-cn/xf/pkg/vector"
)

// StoreEmbedding persists one document embedding, replacing any previous
// vector for the same (doc_id, doc_kind).
func (s *Store) StoreEmbedding(ctx context.Context, docID string, kind model.DocKind, contentHash [32]byte, vec []float32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wrapError("store_embedding", ErrStoreClosed)
	}

	if err := encoding.ValidateVector(vec); err != nil {
		return wrapError("store_embedding", err)
	}
	blob, err := encoding.EncodeVector(vec)
	if err != nil {
		return wrapError("store_embedding", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (doc_id, doc_kind, content_hash, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (doc_id, doc_kind) DO UPDATE SET
			content_hash = excluded.content_hash,
			vector = excluded.vector`,
		docID, string(kind), contentHash[:], blob)
	return wrapError("store_embedding", err)
}

// EmbeddingHash returns the stored content hash for (doc_id, doc_kind), or
// false when no embedding exists. Used to skip re-embedding unchanged
// documents.
func (s *Store) EmbeddingHash(ctx context.Context, docID string, kind model.DocKind) ([32]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hash [32]byte
	if s.closed {
		return hash, false, wrapError("embedding_hash", ErrStoreClosed)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM embeddings WHERE doc_id = ? AND doc_kind = ?",
		docID, string(kind)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return hash, false, nil
	}
	if err != nil {
		return hash, false, wrapError("embedding_hash", err)
	}
	if len(blob) != len(hash) {
		return hash, false, nil
	}
	copy(hash[:], blob)
	return hash, true, nil
}

// LoadAllEmbeddings reads every stored embedding, decoded to float32.
func (s *Store) LoadAllEmbeddings(ctx context.Context) ([]vector.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("load_embeddings", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id, doc_kind, vector FROM embeddings ORDER BY doc_kind, doc_id")
	if err != nil {
		return nil, wrapError("load_embeddings", err)
	}
	defer rows.Close()

	var entries []vector.Entry
	for rows.Next() {
		var docID, kind string
		var blob []byte
		if err := rows.Scan(&docID, &kind, &blob); err != nil {
			return nil, wrapError("load_embeddings", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			// A single bad row should not poison the whole load.
			s.logger.Warn("skipping undecodable embedding", "doc_id", docID)
			continue
		}
		entries = append(entries, vector.Entry{
			DocID:     docID,
			Kind:      model.DocKind(kind),
			Embedding: vec,
		})
	}
	return entries, wrapError("load_embeddings", rows.Err())
}
