package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dhowlett/cardsmith/internal/cards"
	"github.com/dhowlett/cardsmith/internal/extractor"
	"github.com/dhowlett/cardsmith/internal/model"
	"github.com/dhowlett/cardsmith/internal/ollama"
	"github.com/dhowlett/cardsmith/internal/outline"
	"github.com/dhowlett/cardsmith/internal/store"
)

// responsePreviewChars bounds the head/tail of a raw model response
// recorded in the request log.
const responsePreviewChars = 500

// Worker runs a single lifecycle stage for a request.
type Worker struct {
	store       *store.Store
	partitioner outline.Partitioner
	generator   *cards.Generator
	refiner     *cards.Refiner
	log         *slog.Logger
	maxChars    int
}

func NewWorker(st *store.Store, partitioner outline.Partitioner, gen *cards.Generator, ref *cards.Refiner, log *slog.Logger, maxChars int) *Worker {
	return &Worker{
		store:       st,
		partitioner: partitioner,
		generator:   gen,
		refiner:     ref,
		log:         log,
		maxChars:    maxChars,
	}
}

// Process dispatches a task to its stage. Stage errors are already
// recorded on the request; here they only reach the service log.
func (w *Worker) Process(ctx context.Context, task Task) {
	log := w.log.With("request_id", task.RequestID, "task", string(task.Kind))

	var err error
	switch task.Kind {
	case TaskChunk:
		err = w.runChunking(ctx, task.RequestID, task.Hint)
	case TaskGenerate:
		err = w.runGeneration(ctx, task.RequestID)
	case TaskRefine:
		err = w.runRefinement(ctx, task.RequestID, task.Instruction)
	default:
		err = fmt.Errorf("unknown task kind: %s", task.Kind)
	}
	if err != nil {
		log.Error("stage failed", "error", err)
		return
	}
	log.Info("stage finished")
}

// runChunking extracts the source document and partitions it into
// reviewable sections. An outline failure parks the request for manual
// review instead of failing it; anything else fails the request.
func (w *Worker) runChunking(ctx context.Context, requestID, hint string) error {
	req, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if hint != "" {
		if err := w.store.SetChunkHint(ctx, requestID, hint); err != nil {
			return err
		}
	} else {
		hint = req.ChunkHint
	}

	err = w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusChunking,
		Step:     "Chunking document",
		Progress: 5,
		Log:      []string{"Chunking started"},
	})
	if err != nil {
		return err
	}

	text, err := extractor.ExtractFile(req.SourcePath, w.maxChars)
	if err != nil {
		return w.fail(ctx, requestID, err)
	}

	err = w.store.Transition(ctx, requestID, store.StateChange{
		Step:     "Outlining sections",
		Progress: 15,
		Log:      []string{fmt.Sprintf("Document extracted (%d chars)", len(text))},
	})
	if err != nil {
		return err
	}

	chunks, err := w.partitioner.Partition(ctx, text, req.Model, hint)
	if err != nil {
		var outlineErr *outline.OutlineError
		if errors.As(err, &outlineErr) {
			msg := outlineErr.Message
			parkErr := w.store.Transition(ctx, requestID, store.StateChange{
				Status:   model.StatusAwaitingApproval,
				Step:     "Chunking needs review",
				Progress: store.NoProgress,
				Error:    &msg,
				Log:      []string{"Chunking failed: " + msg},
			})
			if parkErr != nil {
				return parkErr
			}
			return nil
		}
		return w.fail(ctx, requestID, err)
	}

	rows := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		pathJSON, _ := json.Marshal(c.Path)
		rows = append(rows, model.Chunk{
			RequestID: requestID,
			Index:     c.Index,
			PathJSON:  string(pathJSON),
			Title:     chunkTitle(c),
			Content:   c.Text,
			Approved:  false,
		})
	}
	if err := w.store.ReplaceChunks(ctx, requestID, rows); err != nil {
		return w.fail(ctx, requestID, err)
	}

	return w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusAwaitingApproval,
		Step:     "Awaiting chunk approval",
		Progress: 100,
		Log:      []string{fmt.Sprintf("Chunking completed: %d chunks ready for review", len(rows))},
	})
}

// runGeneration builds cards for every approved chunk. Earlier chunks'
// cards are persisted as each chunk completes, so a mid-run failure
// keeps the cards built so far.
func (w *Worker) runGeneration(ctx context.Context, requestID string) error {
	req, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	err = w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusProcessing,
		Step:     "Starting generation",
		Progress: 1,
		Log: []string{
			"Job started",
			"Generation model: " + req.Model,
			"Detail level: " + string(req.DetailLevel),
		},
	})
	if err != nil {
		return err
	}

	chunks, err := w.store.ApprovedChunks(ctx, requestID)
	if err != nil {
		return w.fail(ctx, requestID, err)
	}

	err = w.store.Transition(ctx, requestID, store.StateChange{
		Step:     "Using approved chunks",
		Progress: 5,
	})
	if err != nil {
		return err
	}

	if len(chunks) == 0 {
		return w.store.Transition(ctx, requestID, store.StateChange{
			Status:   model.StatusAwaitingApproval,
			Step:     "Awaiting chunk approval",
			Progress: 100,
			Log:      []string{"No approved chunks found. Please review chunks before generating."},
		})
	}

	err = w.store.AppendLog(ctx, requestID, fmt.Sprintf("Using %d approved chunks", len(chunks)))
	if err != nil {
		return err
	}

	// Regeneration replaces any previous run's cards.
	if err := w.store.DeleteCards(ctx, requestID); err != nil {
		return w.fail(ctx, requestID, err)
	}

	err = w.store.Transition(ctx, requestID, store.StateChange{
		Step:     "Generating cards",
		Progress: 25,
	})
	if err != nil {
		return err
	}

	for i := range chunks {
		chunk := &chunks[i]
		percent := 25 + int(math.Round(float64(i+1)/float64(len(chunks))*60))
		err = w.store.Transition(ctx, requestID, store.StateChange{
			Progress: percent,
			Log:      []string{fmt.Sprintf("Generating cards for chunk %d/%d: %s", i+1, len(chunks), chunk.Title)},
		})
		if err != nil {
			return err
		}

		built, raw, genErr := w.generator.Generate(ctx, req, chunk)
		if genErr != nil {
			return w.fail(ctx, requestID, genErr)
		}

		err = w.store.AppendLog(ctx, requestID,
			"Response head: "+cards.Snippet(raw, responsePreviewChars, false),
			"Response tail: "+cards.Snippet(raw, responsePreviewChars, true),
			fmt.Sprintf("Built %d cards in section %d", len(built), i+1),
		)
		if err != nil {
			return err
		}

		if err := w.store.InsertCards(ctx, built); err != nil {
			return w.fail(ctx, requestID, err)
		}
	}

	return w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusCompleted,
		Step:     "Completed",
		Progress: 100,
		Log:      []string{"Job completed"},
	})
}

// runRefinement applies one instruction to every card in turn, persisting
// each verdict before moving on.
func (w *Worker) runRefinement(ctx context.Context, requestID, instruction string) error {
	req, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := w.store.SetRefineHint(ctx, requestID, instruction); err != nil {
		return err
	}

	err = w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusProcessing,
		Step:     "Refining cards",
		Progress: 10,
		Log:      []string{"Refinement started"},
	})
	if err != nil {
		return err
	}

	list, err := w.store.ListCards(ctx, requestID)
	if err != nil {
		return w.fail(ctx, requestID, err)
	}
	if len(list) == 0 {
		return w.store.Transition(ctx, requestID, store.StateChange{
			Status:   model.StatusCompleted,
			Step:     "Completed",
			Progress: 100,
			Log:      []string{"No cards found to refine"},
		})
	}

	err = w.store.AppendLog(ctx, requestID, fmt.Sprintf("Refining %d cards", len(list)))
	if err != nil {
		return err
	}

	var kept, changed, discarded int
	for i := range list {
		card := &list[i]
		decision, refErr := w.refiner.Refine(ctx, card, req.Model, instruction)
		if refErr != nil {
			return w.fail(ctx, requestID, refErr)
		}
		if err := w.store.UpdateCardRefinement(ctx, card); err != nil {
			return w.fail(ctx, requestID, err)
		}

		switch decision.Action {
		case cards.ActionKeep:
			kept++
		case cards.ActionChange:
			changed++
		case cards.ActionDiscard:
			discarded++
		}

		percent := 10 + int(math.Round(float64(i+1)/float64(len(list))*80))
		err = w.store.Transition(ctx, requestID, store.StateChange{
			Progress: percent,
			Log: []string{fmt.Sprintf("Refined %d/%d: %s (kept=%d, changed=%d, discarded=%d)",
				i+1, len(list), decision.Action, kept, changed, discarded)},
		})
		if err != nil {
			return err
		}
	}

	return w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusCompleted,
		Step:     "Completed",
		Progress: 100,
		Log: []string{
			fmt.Sprintf("Refinement summary: kept=%d, changed=%d, discarded=%d", kept, changed, discarded),
			"Refinement completed",
		},
	})
}

// fail records a categorized error on the request and marks it failed.
// The original error is returned so the worker loop can log it.
func (w *Worker) fail(ctx context.Context, requestID string, cause error) error {
	msg := cause.Error()
	logLine := "ERROR: " + errorCategory(cause) + ": " + msg
	err := w.store.Transition(ctx, requestID, store.StateChange{
		Status:   model.StatusFailed,
		Step:     "Failed",
		Progress: 100,
		Error:    &msg,
		Log:      []string{logLine},
	})
	if err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func errorCategory(err error) string {
	var extErr *extractor.ExtractionError
	var reqErr *ollama.RequestError
	var outErr *outline.OutlineError
	var parseErr *cards.ParseError
	switch {
	case errors.As(err, &extErr):
		return "ExtractionError"
	case errors.As(err, &reqErr):
		return "RequestError"
	case errors.As(err, &outErr):
		return "OutlineError"
	case errors.As(err, &parseErr):
		return "ParseError"
	default:
		return "Error"
	}
}

// chunkTitle picks a display title: the outline title, then the last
// path label, then a positional fallback.
func chunkTitle(c outline.Chunk) string {
	if c.Title != "" {
		return c.Title
	}
	if len(c.Path) > 0 && c.Path[len(c.Path)-1] != "" {
		return c.Path[len(c.Path)-1]
	}
	return fmt.Sprintf("Section %d", c.Index+1)
}
