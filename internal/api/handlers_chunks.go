package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dhowlett/cardsmith/internal/model"
	"github.com/dhowlett/cardsmith/internal/store"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	chunks, err := s.store.ListChunks(r.Context(), req.ID)
	if err != nil {
		s.log.Error("list chunks failed", "request_id", req.ID, "error", err)
		jsonError(w, "failed to list chunks", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
		"chunks":     chunks,
	})
}

func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if req.Status != model.StatusAwaitingApproval {
		jsonError(w, fmt.Sprintf("chunks can be edited only while awaiting approval (status: %s)", req.Status), http.StatusConflict)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		jsonError(w, "invalid chunk index", http.StatusBadRequest)
		return
	}

	var review store.ChunkReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateChunk(r.Context(), req.ID, index, review); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "chunk not found", http.StatusNotFound)
			return
		}
		s.log.Error("update chunk failed", "request_id", req.ID, "index", index, "error", err)
		jsonError(w, "failed to update chunk", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApproveAll(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if req.Status != model.StatusAwaitingApproval {
		jsonError(w, fmt.Sprintf("chunks can be approved only while awaiting approval (status: %s)", req.Status), http.StatusConflict)
		return
	}
	if err := s.store.ApproveAllChunks(r.Context(), req.ID); err != nil {
		s.log.Error("approve all failed", "request_id", req.ID, "error", err)
		jsonError(w, "failed to approve chunks", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
