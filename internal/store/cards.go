package store

import (
	"context"
	"fmt"

	"github.com/dhowlett/cardsmith/internal/model"
)

// DeleteCards removes all cards of a request before a fresh
// generation pass.
func (s *Store) DeleteCards(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("delete cards: %w", err)
	}
	return nil
}

// InsertCards appends generated cards for one chunk.
func (s *Store) InsertCards(ctx context.Context, cards []model.Card) error {
	for i := range cards {
		res, err := s.db.NamedExecContext(ctx, `
			INSERT INTO cards (request_id, chunk_index, front, back, status,
			                   refined_front, refined_back, refine_reason)
			VALUES (:request_id, :chunk_index, :front, :back, :status,
			        :refined_front, :refined_back, :refine_reason)`,
			&cards[i])
		if err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			cards[i].ID = id
		}
	}
	return nil
}

// ListCards returns a request's cards ordered by chunk then insertion.
func (s *Store) ListCards(ctx context.Context, requestID string) ([]model.Card, error) {
	var cards []model.Card
	err := s.db.SelectContext(ctx, &cards,
		`SELECT * FROM cards WHERE request_id = ? ORDER BY chunk_index, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return cards, nil
}

// UpdateCardRefinement persists a card's refinement outcome.
func (s *Store) UpdateCardRefinement(ctx context.Context, card *model.Card) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET status = ?, refined_front = ?, refined_back = ?, refine_reason = ?
		WHERE id = ?`,
		card.Status, card.RefinedFront, card.RefinedBack, card.RefineReason, card.ID)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EffectiveCards returns the ordered (front, back) pairs of all
// non-discarded cards, refined text taking precedence. This is the
// export view of a completed request.
func (s *Store) EffectiveCards(ctx context.Context, requestID string) ([][2]string, error) {
	cards, err := s.ListCards(ctx, requestID)
	if err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, len(cards))
	for i := range cards {
		if cards[i].Status == model.CardDiscarded {
			continue
		}
		pairs = append(pairs, [2]string{cards[i].EffectiveFront(), cards[i].EffectiveBack()})
	}
	return pairs, nil
}
