package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhowlett/cardsmith/internal/cards"
	"github.com/dhowlett/cardsmith/internal/model"
	"github.com/dhowlett/cardsmith/internal/outline"
	"github.com/dhowlett/cardsmith/internal/store"
)

type fakePartitioner struct {
	chunks []outline.Chunk
	err    error
}

func (f *fakePartitioner) Partition(ctx context.Context, text, model, userHint string) ([]outline.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

// seqModel replays canned responses, one per call.
type seqModel struct {
	responses []string
	calls     int
}

func (f *seqModel) Generate(ctx context.Context, prompt, model string, temperature float64, format json.RawMessage) (string, error) {
	if f.calls >= len(f.responses) {
		return "", errors.New("seqModel: no response configured")
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, partitioner outline.Partitioner, client cards.ModelClient) (*Worker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	w := NewWorker(st, partitioner, cards.NewGenerator(client), cards.NewRefiner(client), discardLogger(), 120000)
	return w, st
}

func seedRequest(t *testing.T, st *store.Store, sourcePath string) *model.Request {
	t.Helper()
	req := &model.Request{
		ID:             NewULID(),
		SourceFilename: "doc.txt",
		SourcePath:     sourcePath,
		Model:          "llama3.1",
		DetailLevel:    model.DetailMedium,
	}
	if err := st.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestRunChunking_HappyPath(t *testing.T) {
	ctx := context.Background()
	partitioner := &fakePartitioner{chunks: []outline.Chunk{
		{Index: 0, Path: []string{"Intro"}, Title: "Intro", Text: "intro text"},
		{Index: 1, Path: []string{"Body"}, Title: "", Text: "body text"},
	}}
	w, st := newTestWorker(t, partitioner, &seqModel{})
	req := seedRequest(t, st, writeSourceFile(t, "some document text"))

	if err := w.runChunking(ctx, req.ID, ""); err != nil {
		t.Fatalf("runChunking: %v", err)
	}

	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusAwaitingApproval {
		t.Errorf("status = %q", got.Status)
	}
	if got.Progress != 100 || got.CurrentStep != "Awaiting chunk approval" {
		t.Errorf("step/progress = %q/%d", got.CurrentStep, got.Progress)
	}
	if !strings.Contains(got.LogText, "2 chunks ready for review") {
		t.Errorf("log = %q", got.LogText)
	}

	chunks, _ := st.ListChunks(ctx, req.ID)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Approved || chunks[1].Approved {
		t.Errorf("chunks should start unapproved pending review")
	}
	// Missing outline title falls back to the path label.
	if chunks[1].Title != "Body" {
		t.Errorf("chunk 1 title = %q", chunks[1].Title)
	}
}

func TestRunChunking_OutlineErrorParksForReview(t *testing.T) {
	ctx := context.Background()
	partitioner := &fakePartitioner{err: &outline.OutlineError{Message: "model returned an empty outline"}}
	w, st := newTestWorker(t, partitioner, &seqModel{})
	req := seedRequest(t, st, writeSourceFile(t, "text"))

	if err := w.runChunking(ctx, req.ID, ""); err != nil {
		t.Fatalf("outline failure should not propagate: %v", err)
	}

	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusAwaitingApproval {
		t.Errorf("status = %q, want awaiting_approval", got.Status)
	}
	if got.CurrentStep != "Chunking needs review" {
		t.Errorf("step = %q", got.CurrentStep)
	}
	if !strings.Contains(got.ErrorMessage, "empty outline") {
		t.Errorf("error = %q", got.ErrorMessage)
	}
	// Parking leaves progress where outlining stopped.
	if got.Progress != 15 {
		t.Errorf("progress = %d, want 15", got.Progress)
	}
}

func TestRunChunking_ExtractionFailureFailsRequest(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWorker(t, &fakePartitioner{}, &seqModel{})
	req := seedRequest(t, st, filepath.Join(t.TempDir(), "missing.txt"))

	if err := w.runChunking(ctx, req.ID, ""); err == nil {
		t.Fatal("expected error for missing source file")
	}

	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.LogText, "ERROR: ExtractionError:") {
		t.Errorf("log = %q", got.LogText)
	}
}

func TestRunChunking_StoresHint(t *testing.T) {
	ctx := context.Background()
	partitioner := &fakePartitioner{chunks: []outline.Chunk{{Index: 0, Title: "A", Text: "t"}}}
	w, st := newTestWorker(t, partitioner, &seqModel{})
	req := seedRequest(t, st, writeSourceFile(t, "text"))

	if err := w.runChunking(ctx, req.ID, "split by chapter"); err != nil {
		t.Fatalf("runChunking: %v", err)
	}
	got, _ := st.GetRequest(ctx, req.ID)
	if got.ChunkHint != "split by chapter" {
		t.Errorf("chunk hint = %q", got.ChunkHint)
	}
}

func seedChunks(t *testing.T, st *store.Store, requestID string, n int) {
	t.Helper()
	rows := make([]model.Chunk, 0, n)
	for i := range n {
		rows = append(rows, model.Chunk{
			Index: i, PathJSON: `["S"]`, Title: "S", Content: "content", Approved: true,
		})
	}
	if err := st.ReplaceChunks(context.Background(), requestID, rows); err != nil {
		t.Fatalf("seed chunks: %v", err)
	}
}

func TestRunGeneration_BuildsCardsPerChunk(t *testing.T) {
	ctx := context.Background()
	client := &seqModel{responses: []string{
		`[{"front":"f1","back":"b1"},{"front":"f2","back":"b2"}]`,
		`[{"front":"f3","back":"b3"}]`,
	}}
	w, st := newTestWorker(t, &fakePartitioner{}, client)
	req := seedRequest(t, st, "")
	seedChunks(t, st, req.ID, 2)

	if err := w.runGeneration(ctx, req.ID); err != nil {
		t.Fatalf("runGeneration: %v", err)
	}

	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusCompleted || got.Progress != 100 {
		t.Errorf("status/progress = %q/%d", got.Status, got.Progress)
	}
	for _, want := range []string{"Using 2 approved chunks", "Built 2 cards in section 1", "Built 1 cards in section 2", "Job completed"} {
		if !strings.Contains(got.LogText, want) {
			t.Errorf("log missing %q", want)
		}
	}

	list, _ := st.ListCards(ctx, req.ID)
	if len(list) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(list))
	}
	if list[2].ChunkIndex != 1 {
		t.Errorf("card 2 chunk index = %d", list[2].ChunkIndex)
	}
}

func TestRunGeneration_MidRunFailureKeepsEarlierCards(t *testing.T) {
	ctx := context.Background()
	client := &seqModel{responses: []string{
		`[{"front":"f1","back":"b1"}]`,
		"not parsable at all",
	}}
	w, st := newTestWorker(t, &fakePartitioner{}, client)
	req := seedRequest(t, st, "")
	seedChunks(t, st, req.ID, 2)

	if err := w.runGeneration(ctx, req.ID); err == nil {
		t.Fatal("expected error from unparsable second chunk")
	}

	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.LogText, "ERROR: ParseError:") {
		t.Errorf("log = %q", got.LogText)
	}

	list, _ := st.ListCards(ctx, req.ID)
	if len(list) != 1 {
		t.Errorf("earlier chunk's cards lost: %d cards", len(list))
	}
}

func TestRunGeneration_NoApprovedChunks(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWorker(t, &fakePartitioner{}, &seqModel{})
	req := seedRequest(t, st, "")

	if err := w.runGeneration(ctx, req.ID); err != nil {
		t.Fatalf("runGeneration: %v", err)
	}
	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusAwaitingApproval {
		t.Errorf("status = %q, want awaiting_approval", got.Status)
	}
	if !strings.Contains(got.LogText, "No approved chunks found") {
		t.Errorf("log = %q", got.LogText)
	}
}

func TestRunGeneration_ReplacesPreviousCards(t *testing.T) {
	ctx := context.Background()
	client := &seqModel{responses: []string{`[{"front":"new f","back":"new b"}]`}}
	w, st := newTestWorker(t, &fakePartitioner{}, client)
	req := seedRequest(t, st, "")
	seedChunks(t, st, req.ID, 1)
	st.InsertCards(ctx, []model.Card{
		{RequestID: req.ID, ChunkIndex: 0, Front: "stale", Back: "stale", Status: model.CardKept},
	})

	if err := w.runGeneration(ctx, req.ID); err != nil {
		t.Fatalf("runGeneration: %v", err)
	}
	list, _ := st.ListCards(ctx, req.ID)
	if len(list) != 1 || list[0].Front != "new f" {
		t.Errorf("cards = %+v", list)
	}
}

func TestRunRefinement_AppliesDecisions(t *testing.T) {
	ctx := context.Background()
	client := &seqModel{responses: []string{
		`{"action":"keep","reason":"fine"}`,
		`{"action":"change","front":"rf","back":"rb","reason":"clearer"}`,
		`{"action":"discard","reason":"duplicate"}`,
	}}
	w, st := newTestWorker(t, &fakePartitioner{}, client)
	req := seedRequest(t, st, "")
	st.InsertCards(ctx, []model.Card{
		{RequestID: req.ID, ChunkIndex: 0, Front: "a", Back: "a", Status: model.CardKept},
		{RequestID: req.ID, ChunkIndex: 0, Front: "b", Back: "b", Status: model.CardKept},
		{RequestID: req.ID, ChunkIndex: 0, Front: "c", Back: "c", Status: model.CardKept},
	})

	if err := w.runRefinement(ctx, req.ID, "tighten wording"); err != nil {
		t.Fatalf("runRefinement: %v", err)
	}

	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusCompleted || got.Progress != 100 {
		t.Errorf("status/progress = %q/%d", got.Status, got.Progress)
	}
	if got.RefineHint != "tighten wording" {
		t.Errorf("refine hint = %q", got.RefineHint)
	}
	if !strings.Contains(got.LogText, "Refinement summary: kept=1, changed=1, discarded=1") {
		t.Errorf("log = %q", got.LogText)
	}

	list, _ := st.ListCards(ctx, req.ID)
	if list[0].Status != model.CardKept || list[1].Status != model.CardChanged || list[2].Status != model.CardDiscarded {
		t.Errorf("statuses = %q %q %q", list[0].Status, list[1].Status, list[2].Status)
	}
	if list[1].RefinedFront != "rf" {
		t.Errorf("card 1 refined front = %q", list[1].RefinedFront)
	}

	pairs, _ := st.EffectiveCards(ctx, req.ID)
	if len(pairs) != 2 {
		t.Errorf("effective pairs = %d, want 2", len(pairs))
	}
}

func TestRunRefinement_NoCards(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWorker(t, &fakePartitioner{}, &seqModel{})
	req := seedRequest(t, st, "")

	if err := w.runRefinement(ctx, req.ID, "anything"); err != nil {
		t.Fatalf("runRefinement: %v", err)
	}
	got, _ := st.GetRequest(ctx, req.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if !strings.Contains(got.LogText, "No cards found to refine") {
		t.Errorf("log = %q", got.LogText)
	}
}

func TestNewULID(t *testing.T) {
	a := NewULID()
	b := NewULID()
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("ulid lengths = %d, %d", len(a), len(b))
	}
	if a == b {
		t.Errorf("ulids not unique: %s", a)
	}
	for _, r := range a {
		if !strings.ContainsRune(crockford, r) {
			t.Errorf("invalid ulid char %q in %s", r, a)
		}
	}
}
