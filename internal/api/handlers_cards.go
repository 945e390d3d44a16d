package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dhowlett/cardsmith/internal/model"
)

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	list, err := s.store.ListCards(r.Context(), req.ID)
	if err != nil {
		s.log.Error("list cards failed", "request_id", req.ID, "error", err)
		jsonError(w, "failed to list cards", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
		"cards":      list,
	})
}

// handleExport streams the effective (non-discarded) cards as two-column
// CSV, ready for Anki import.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if req.Status != model.StatusCompleted {
		jsonError(w, fmt.Sprintf("export is available only for completed requests (status: %s)", req.Status), http.StatusConflict)
		return
	}
	pairs, err := s.store.EffectiveCards(r.Context(), req.ID)
	if err != nil {
		s.log.Error("export failed", "request_id", req.ID, "error", err)
		jsonError(w, "failed to export cards", http.StatusInternalServerError)
		return
	}

	base := strings.TrimSuffix(req.SourceFilename, filepath.Ext(req.SourceFilename))
	if base == "" {
		base = "cards"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+".csv"))

	cw := csv.NewWriter(w)
	for _, p := range pairs {
		if err := cw.Write([]string{p[0], p[1]}); err != nil {
			s.log.Error("csv write failed", "request_id", req.ID, "error", err)
			return
		}
	}
	cw.Flush()
}
