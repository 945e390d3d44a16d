package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a card request.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusChunking         Status = "chunking"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no stage will run again without a retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DetailLevel controls how many cards a chunk should yield.
type DetailLevel string

const (
	DetailLow    DetailLevel = "low"
	DetailMedium DetailLevel = "medium"
	DetailHigh   DetailLevel = "high"
)

// CardTargets returns the (min, max) card count for a detail level.
// Unknown levels fall back to medium.
func (d DetailLevel) CardTargets() (int, int) {
	switch d {
	case DetailLow:
		return 2, 5
	case DetailHigh:
		return 8, 20
	default:
		return 4, 10
	}
}

// MaxLogBytes caps a request's append-only log. Oldest content is
// dropped first once the cap is exceeded.
const MaxLogBytes = 50_000

// Request is the aggregate root for one document-to-cards run. It owns
// its chunks and cards; deleting a request cascades to both.
type Request struct {
	ID             string      `db:"id" json:"id"`
	SourceFilename string      `db:"source_filename" json:"source_filename"`
	SourcePath     string      `db:"source_path" json:"-"`
	Model          string      `db:"model" json:"model"`
	DetailLevel    DetailLevel `db:"detail_level" json:"detail_level"`
	Guidance       string      `db:"guidance" json:"guidance"`
	Notes          string      `db:"notes" json:"notes"`
	ChunkHint      string      `db:"chunk_hint" json:"chunk_hint"`
	RefineHint     string      `db:"refine_hint" json:"refine_hint"`

	Status       Status    `db:"status" json:"status"`
	CurrentStep  string    `db:"current_step" json:"current_step"`
	Progress     int       `db:"progress" json:"progress"`
	LogText      string    `db:"log_text" json:"-"`
	ErrorMessage string    `db:"error_message" json:"error,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// LogTail returns the last n bytes of the log, aligned to a rune
// boundary so a multi-byte character is never split.
func (r *Request) LogTail(n int) string {
	return TailBytes(r.LogText, n)
}

// Chunk is a validated, non-overlapping slice of the source document,
// pending or past human approval.
type Chunk struct {
	ID        int64  `db:"id" json:"-"`
	RequestID string `db:"request_id" json:"-"`
	Index     int    `db:"idx" json:"index"`
	PathJSON  string `db:"path_json" json:"-"`
	Title     string `db:"title" json:"title"`
	Content   string `db:"content" json:"content"`
	Approved  bool   `db:"approved" json:"approved"`
}

// Path decodes the section path labels. A malformed column yields nil.
func (c *Chunk) Path() []string {
	var path []string
	if err := json.Unmarshal([]byte(c.PathJSON), &path); err != nil {
		return nil
	}
	return path
}

// CardStatus is a card's refinement outcome.
type CardStatus string

const (
	CardKept      CardStatus = "kept"
	CardChanged   CardStatus = "changed"
	CardDiscarded CardStatus = "discarded"
)

// Card is one generated front/back pair. Refinement mutates the refined
// fields and status; the original text is never overwritten.
type Card struct {
	ID           int64      `db:"id" json:"id"`
	RequestID    string     `db:"request_id" json:"-"`
	ChunkIndex   int        `db:"chunk_index" json:"chunk_index"`
	Front        string     `db:"front" json:"front"`
	Back         string     `db:"back" json:"back"`
	Status       CardStatus `db:"status" json:"status"`
	RefinedFront string     `db:"refined_front" json:"refined_front,omitempty"`
	RefinedBack  string     `db:"refined_back" json:"refined_back,omitempty"`
	RefineReason string     `db:"refine_reason" json:"refine_reason,omitempty"`
}

// EffectiveFront is the refined front if the card was changed, else the
// original.
func (c *Card) EffectiveFront() string {
	if c.Status == CardChanged {
		return c.RefinedFront
	}
	return c.Front
}

// EffectiveBack is the refined back if the card was changed, else the
// original.
func (c *Card) EffectiveBack() string {
	if c.Status == CardChanged {
		return c.RefinedBack
	}
	return c.Back
}

// TailBytes returns the last n bytes of s without splitting a rune.
func TailBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut++
	}
	return s[cut:]
}
