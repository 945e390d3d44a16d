package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dhowlett/cardsmith/internal/model"
)

// CreateRequest inserts a new request in the queued state.
func (s *Store) CreateRequest(ctx context.Context, req *model.Request) error {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = model.StatusQueued
	}
	if req.DetailLevel == "" {
		req.DetailLevel = model.DetailMedium
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO requests (
			id, source_filename, source_path, model, detail_level,
			guidance, notes, chunk_hint, refine_hint,
			status, current_step, progress, log_text, error_message,
			created_at, updated_at
		) VALUES (
			:id, :source_filename, :source_path, :model, :detail_level,
			:guidance, :notes, :chunk_hint, :refine_hint,
			:status, :current_step, :progress, :log_text, :error_message,
			:created_at, :updated_at
		)`, req)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetRequest loads one request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	var req model.Request
	err := s.db.GetContext(ctx, &req, `SELECT * FROM requests WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return &req, nil
}

// ListRequests returns recent requests, newest first.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]model.Request, error) {
	if limit <= 0 {
		limit = 50
	}
	var reqs []model.Request
	err := s.db.SelectContext(ctx, &reqs,
		`SELECT * FROM requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

// StateChange describes one atomic transition. Zero-valued fields
// leave their column unchanged.
type StateChange struct {
	Status   model.Status // "" = unchanged
	Step     string       // "" = unchanged
	Progress int          // < 0 = unchanged; clamped non-decreasing within a status
	Error    *string      // nil = unchanged; pointer to "" clears
	Log      []string     // appended with timestamps, oldest content dropped past the cap
}

// NoProgress is the Progress value that leaves progress untouched.
const NoProgress = -1

// Transition applies a state change in one transaction: readers see
// either all of a stage's effects or none of them.
func (s *Store) Transition(ctx context.Context, id string, change StateChange) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var cur struct {
			Status   model.Status `db:"status"`
			Step     string       `db:"current_step"`
			Progress int          `db:"progress"`
			LogText  string       `db:"log_text"`
			ErrorMsg string       `db:"error_message"`
		}
		err := tx.GetContext(ctx, &cur,
			`SELECT status, current_step, progress, log_text, error_message
			 FROM requests WHERE id = ?`, id)
		if err != nil {
			return notFoundErr(err)
		}

		status := cur.Status
		if change.Status != "" {
			status = change.Status
		}
		step := cur.Step
		if change.Step != "" {
			step = change.Step
		}
		// A status change starts a new stage, which resets the
		// progress scale; within a stage progress never moves back.
		progress := cur.Progress
		if change.Progress >= 0 {
			if status != cur.Status || change.Progress > progress {
				progress = change.Progress
			}
		}
		errorMsg := cur.ErrorMsg
		if change.Error != nil {
			errorMsg = *change.Error
		}
		logText := appendLog(cur.LogText, change.Log, time.Now())

		_, err = tx.ExecContext(ctx, `
			UPDATE requests
			SET status = ?, current_step = ?, progress = ?,
			    log_text = ?, error_message = ?, updated_at = ?
			WHERE id = ?`,
			status, step, progress, logText, errorMsg, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		return nil
	})
}

// AppendLog records log lines without touching any other field.
func (s *Store) AppendLog(ctx context.Context, id string, lines ...string) error {
	return s.Transition(ctx, id, StateChange{Progress: NoProgress, Log: lines})
}

// SetRefineHint records the most recent refinement instruction.
func (s *Store) SetRefineHint(ctx context.Context, id, hint string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET refine_hint = ?, updated_at = ? WHERE id = ?`,
		hint, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set refine hint: %w", err)
	}
	return nil
}

// SetChunkHint records the chunking guidance used for the latest run.
func (s *Store) SetChunkHint(ctx context.Context, id, hint string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET chunk_hint = ?, updated_at = ? WHERE id = ?`,
		hint, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set chunk hint: %w", err)
	}
	return nil
}

// ResetForRetry clears all derived state (chunks, cards, log, error)
// and re-enters the queued state with zero progress.
func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE requests
			SET status = ?, current_step = 'Queued for retry', progress = 0,
			    log_text = ?, error_message = '', refine_hint = '', updated_at = ?
			WHERE id = ?`,
			model.StatusQueued, appendLog("", []string{"Retry requested"}, time.Now()),
			time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("reset request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE request_id = ?`, id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE request_id = ?`, id); err != nil {
			return fmt.Errorf("delete cards: %w", err)
		}
		return nil
	})
}

// DeleteRequest removes a request; chunks and cards cascade.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// appendLog appends timestamped lines and keeps only the last
// model.MaxLogBytes bytes, trimming at a rune boundary.
func appendLog(current string, lines []string, now time.Time) string {
	if len(lines) == 0 {
		return current
	}
	stamp := now.Format("15:04:05")
	combined := current
	for _, line := range lines {
		combined += fmt.Sprintf("[%s] %s\n", stamp, strings.TrimSpace(line))
	}
	return model.TailBytes(combined, model.MaxLogBytes)
}
