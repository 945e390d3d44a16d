package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhowlett/cardsmith/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestRequest(t *testing.T, s *Store, id string) *model.Request {
	t.Helper()
	req := &model.Request{
		ID:             id,
		SourceFilename: "doc.pdf",
		SourcePath:     "/tmp/doc.pdf",
		Model:          "llama3.1",
		DetailLevel:    model.DetailMedium,
	}
	if err := s.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestCreateAndGetRequest(t *testing.T) {
	s := openTestStore(t)
	createTestRequest(t, s, "req-1")

	got, err := s.GetRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != model.StatusQueued {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if got.SourceFilename != "doc.pdf" || got.DetailLevel != model.DetailMedium {
		t.Errorf("request = %+v", got)
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRequest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_ProgressNeverDecreasesWithinStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	if err := s.Transition(ctx, "req-1", StateChange{Status: model.StatusProcessing, Progress: 60}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Transition(ctx, "req-1", StateChange{Progress: 30}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	got, _ := s.GetRequest(ctx, "req-1")
	if got.Progress != 60 {
		t.Errorf("progress regressed to %d", got.Progress)
	}
	if got.Status != model.StatusProcessing {
		t.Errorf("status = %q", got.Status)
	}
}

func TestTransition_StatusChangeResetsProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	s.Transition(ctx, "req-1", StateChange{Status: model.StatusAwaitingApproval, Progress: 100})
	if err := s.Transition(ctx, "req-1", StateChange{Status: model.StatusProcessing, Progress: 1}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	got, _ := s.GetRequest(ctx, "req-1")
	if got.Progress != 1 {
		t.Errorf("progress = %d after entering a new stage, want 1", got.Progress)
	}
}

func TestTransition_NoProgressLeavesValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	s.Transition(ctx, "req-1", StateChange{Progress: 40})
	s.Transition(ctx, "req-1", StateChange{Progress: NoProgress, Log: []string{"note"}})

	got, _ := s.GetRequest(ctx, "req-1")
	if got.Progress != 40 {
		t.Errorf("progress = %d, want 40", got.Progress)
	}
}

func TestTransition_LogAppendFormat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	s.Transition(ctx, "req-1", StateChange{Progress: NoProgress, Log: []string{"first line", "  second line  "}})

	got, _ := s.GetRequest(ctx, "req-1")
	lines := strings.Split(strings.TrimRight(got.LogText, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), got.LogText)
	}
	if !strings.HasSuffix(lines[0], "] first line") || !strings.HasPrefix(lines[0], "[") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "] second line") {
		t.Errorf("line 1 not trimmed: %q", lines[1])
	}
}

func TestTransition_LogCapDropsOldest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	s.AppendLog(ctx, "req-1", "OLDEST "+strings.Repeat("x", 200))
	big := strings.Repeat("y", model.MaxLogBytes)
	s.AppendLog(ctx, "req-1", big)

	got, _ := s.GetRequest(ctx, "req-1")
	if len(got.LogText) > model.MaxLogBytes {
		t.Errorf("log exceeds cap: %d bytes", len(got.LogText))
	}
	if strings.Contains(got.LogText, "OLDEST") {
		t.Errorf("oldest content survived the cap")
	}
	if !strings.HasSuffix(got.LogText, "y\n") {
		t.Errorf("newest content missing from tail")
	}
}

func TestTransition_ErrorSetAndCleared(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	msg := "boom"
	s.Transition(ctx, "req-1", StateChange{Status: model.StatusFailed, Progress: NoProgress, Error: &msg})
	got, _ := s.GetRequest(ctx, "req-1")
	if got.ErrorMessage != "boom" {
		t.Errorf("error = %q", got.ErrorMessage)
	}

	empty := ""
	s.Transition(ctx, "req-1", StateChange{Progress: NoProgress, Error: &empty})
	got, _ = s.GetRequest(ctx, "req-1")
	if got.ErrorMessage != "" {
		t.Errorf("error not cleared: %q", got.ErrorMessage)
	}
}

func TestResetForRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	s.ReplaceChunks(ctx, "req-1", []model.Chunk{
		{Index: 0, PathJSON: `["A"]`, Title: "A", Content: "text", Approved: true},
	})
	s.InsertCards(ctx, []model.Card{
		{RequestID: "req-1", ChunkIndex: 0, Front: "f", Back: "b", Status: model.CardKept},
	})
	msg := "failed hard"
	s.Transition(ctx, "req-1", StateChange{Status: model.StatusFailed, Progress: 100, Error: &msg})

	if err := s.ResetForRetry(ctx, "req-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	got, _ := s.GetRequest(ctx, "req-1")
	if got.Status != model.StatusQueued || got.Progress != 0 || got.ErrorMessage != "" {
		t.Errorf("request after reset = %+v", got)
	}
	if !strings.Contains(got.LogText, "Retry requested") {
		t.Errorf("log after reset = %q", got.LogText)
	}

	chunks, _ := s.ListChunks(ctx, "req-1")
	if len(chunks) != 0 {
		t.Errorf("chunks survived retry reset: %d", len(chunks))
	}
	list, _ := s.ListCards(ctx, "req-1")
	if len(list) != 0 {
		t.Errorf("cards survived retry reset: %d", len(list))
	}
}

func TestResetForRetry_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.ResetForRetry(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRequest_Cascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")
	s.ReplaceChunks(ctx, "req-1", []model.Chunk{
		{Index: 0, PathJSON: `["A"]`, Title: "A", Content: "text", Approved: true},
	})
	s.InsertCards(ctx, []model.Card{
		{RequestID: "req-1", ChunkIndex: 0, Front: "f", Back: "b", Status: model.CardKept},
	})

	if err := s.DeleteRequest(ctx, "req-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	chunks, _ := s.ListChunks(ctx, "req-1")
	list, _ := s.ListCards(ctx, "req-1")
	if len(chunks) != 0 || len(list) != 0 {
		t.Errorf("cascade failed: %d chunks, %d cards", len(chunks), len(list))
	}
}

func TestUpdateChunk_PartialReview(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")
	s.ReplaceChunks(ctx, "req-1", []model.Chunk{
		{Index: 0, PathJSON: `["A"]`, Title: "A", Content: "text", Approved: true},
		{Index: 1, PathJSON: `["B"]`, Title: "B", Content: "more", Approved: true},
	})

	newTitle := "Edited"
	unapproved := false
	err := s.UpdateChunk(ctx, "req-1", 1, ChunkReview{Title: &newTitle, Approved: &unapproved})
	if err != nil {
		t.Fatalf("update chunk: %v", err)
	}

	chunks, _ := s.ListChunks(ctx, "req-1")
	if chunks[1].Title != "Edited" || chunks[1].Approved {
		t.Errorf("chunk 1 = %+v", chunks[1])
	}
	if chunks[1].Content != "more" {
		t.Errorf("untouched field changed: %q", chunks[1].Content)
	}

	approved, _ := s.ApprovedChunks(ctx, "req-1")
	if len(approved) != 1 || approved[0].Index != 0 {
		t.Errorf("approved chunks = %+v", approved)
	}
}

func TestApproveAllChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")
	s.ReplaceChunks(ctx, "req-1", []model.Chunk{
		{Index: 0, PathJSON: `["A"]`, Title: "A", Content: "text", Approved: false},
		{Index: 1, PathJSON: `["B"]`, Title: "B", Content: "more", Approved: false},
	})

	if err := s.ApproveAllChunks(ctx, "req-1"); err != nil {
		t.Fatalf("approve all: %v", err)
	}
	approved, _ := s.ApprovedChunks(ctx, "req-1")
	if len(approved) != 2 {
		t.Errorf("approved = %d, want 2", len(approved))
	}
}

func TestEffectiveCards_SkipsDiscardedUsesRefined(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")

	err := s.InsertCards(ctx, []model.Card{
		{RequestID: "req-1", ChunkIndex: 0, Front: "keep f", Back: "keep b", Status: model.CardKept},
		{RequestID: "req-1", ChunkIndex: 0, Front: "old f", Back: "old b", Status: model.CardChanged, RefinedFront: "new f", RefinedBack: "new b"},
		{RequestID: "req-1", ChunkIndex: 1, Front: "gone f", Back: "gone b", Status: model.CardDiscarded},
	})
	if err != nil {
		t.Fatalf("insert cards: %v", err)
	}

	pairs, err := s.EffectiveCards(ctx, "req-1")
	if err != nil {
		t.Fatalf("effective cards: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0] != [2]string{"keep f", "keep b"} {
		t.Errorf("pair 0 = %v", pairs[0])
	}
	if pairs[1] != [2]string{"new f", "new b"} {
		t.Errorf("pair 1 = %v", pairs[1])
	}
}

func TestUpdateCardRefinement(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestRequest(t, s, "req-1")
	s.InsertCards(ctx, []model.Card{
		{RequestID: "req-1", ChunkIndex: 0, Front: "f", Back: "b", Status: model.CardKept},
	})

	list, _ := s.ListCards(ctx, "req-1")
	card := list[0]
	card.Status = model.CardChanged
	card.RefinedFront = "rf"
	card.RefinedBack = "rb"
	card.RefineReason = "clearer"
	if err := s.UpdateCardRefinement(ctx, &card); err != nil {
		t.Fatalf("update refinement: %v", err)
	}

	list, _ = s.ListCards(ctx, "req-1")
	if list[0].Status != model.CardChanged || list[0].RefinedFront != "rf" || list[0].RefineReason != "clearer" {
		t.Errorf("card = %+v", list[0])
	}
}
