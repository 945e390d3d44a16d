package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dhowlett/cardsmith/internal/model"
)

// ReplaceChunks swaps a request's chunk set for a new one atomically.
func (s *Store) ReplaceChunks(ctx context.Context, requestID string, chunks []model.Chunk) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE request_id = ?`, requestID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		for i := range chunks {
			chunks[i].RequestID = requestID
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO chunks (request_id, idx, path_json, title, content, approved)
				VALUES (:request_id, :idx, :path_json, :title, :content, :approved)`,
				&chunks[i]); err != nil {
				return fmt.Errorf("insert chunk %d: %w", chunks[i].Index, err)
			}
		}
		return nil
	})
}

// ListChunks returns a request's chunks in index order.
func (s *Store) ListChunks(ctx context.Context, requestID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := s.db.SelectContext(ctx, &chunks,
		`SELECT * FROM chunks WHERE request_id = ? ORDER BY idx`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, nil
}

// ApprovedChunks returns only approved chunks, in index order.
func (s *Store) ApprovedChunks(ctx context.Context, requestID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := s.db.SelectContext(ctx, &chunks,
		`SELECT * FROM chunks WHERE request_id = ? AND approved = 1 ORDER BY idx`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list approved chunks: %w", err)
	}
	return chunks, nil
}

// ChunkReview carries per-field edits from the approval step. Nil
// fields are left unchanged.
type ChunkReview struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	Approved *bool   `json:"approved"`
}

// UpdateChunk applies review edits to one chunk.
func (s *Store) UpdateChunk(ctx context.Context, requestID string, index int, review ChunkReview) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var chunk model.Chunk
		err := tx.GetContext(ctx, &chunk,
			`SELECT * FROM chunks WHERE request_id = ? AND idx = ?`, requestID, index)
		if err != nil {
			return notFoundErr(err)
		}
		if review.Title != nil {
			chunk.Title = *review.Title
		}
		if review.Content != nil {
			chunk.Content = *review.Content
		}
		if review.Approved != nil {
			chunk.Approved = *review.Approved
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE chunks SET title = ?, content = ?, approved = ? WHERE id = ?`,
			chunk.Title, chunk.Content, chunk.Approved, chunk.ID)
		if err != nil {
			return fmt.Errorf("update chunk: %w", err)
		}
		return nil
	})
}

// ApproveAllChunks marks every chunk of a request approved.
func (s *Store) ApproveAllChunks(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET approved = 1 WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("approve chunks: %w", err)
	}
	return nil
}
