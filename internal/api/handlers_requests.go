package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowlett/cardsmith/internal/extractor"
	"github.com/dhowlett/cardsmith/internal/model"
	"github.com/dhowlett/cardsmith/internal/pipeline"
	"github.com/dhowlett/cardsmith/internal/store"
	"github.com/go-chi/chi/v5"
)

// logTailBytes bounds the log returned by the status endpoint.
const logTailBytes = 10_000

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !extractor.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	modelName := r.FormValue("model")
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	detail := model.DetailLevel(r.FormValue("detail_level"))
	switch detail {
	case model.DetailLow, model.DetailMedium, model.DetailHigh:
	case "":
		detail = model.DetailLevel(s.cfg.DefaultDetailLevel)
	default:
		jsonError(w, fmt.Sprintf("invalid detail_level: %s", detail), http.StatusBadRequest)
		return
	}

	req := &model.Request{
		ID:             pipeline.NewULID(),
		SourceFilename: filename,
		Model:          modelName,
		DetailLevel:    detail,
		Guidance:       r.FormValue("guidance"),
		Notes:          r.FormValue("notes"),
		ChunkHint:      r.FormValue("chunk_hint"),
	}

	path, err := s.saveUpload(file, req.ID, filename)
	if err != nil {
		s.log.Error("upload save failed", "error", err)
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	req.SourcePath = path

	if err := s.store.CreateRequest(r.Context(), req); err != nil {
		s.log.Error("create request failed", "error", err)
		jsonError(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	if err := s.orchestrator.Submit(pipeline.Task{RequestID: req.ID, Kind: pipeline.TaskChunk}); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"id":       req.ID,
		"status":   req.Status,
		"poll_url": "/api/requests/" + req.ID,
	})
}

// saveUpload writes the uploaded file under the data dir, capped at the
// configured upload limit.
func (s *Server) saveUpload(file io.Reader, requestID, filename string) (string, error) {
	dir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, requestID+filepath.Ext(filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	n, err := io.Copy(dst, io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		os.Remove(path)
		return "", err
	}
	if n > s.cfg.MaxUploadBytes {
		os.Remove(path)
		return "", fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	return path, nil
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.ListRequests(r.Context(), 100)
	if err != nil {
		s.log.Error("list requests failed", "error", err)
		jsonError(w, "failed to list requests", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"requests": reqs})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":           req.ID,
		"filename":     req.SourceFilename,
		"model":        req.Model,
		"detail_level": req.DetailLevel,
		"status":       req.Status,
		"current_step": req.CurrentStep,
		"progress":     req.Progress,
		"error":        req.ErrorMessage,
		"log":          req.LogTail(logTailBytes),
		"created_at":   req.CreatedAt,
		"updated_at":   req.UpdatedAt,
	})
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteRequest(r.Context(), req.ID); err != nil {
		s.log.Error("delete request failed", "error", err)
		jsonError(w, "failed to delete request", http.StatusInternalServerError)
		return
	}
	if req.SourcePath != "" {
		if err := os.Remove(req.SourcePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("source file cleanup failed", "path", req.SourcePath, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if !req.Status.Terminal() {
		jsonError(w, fmt.Sprintf("only completed or failed requests can be retried (status: %s)", req.Status), http.StatusConflict)
		return
	}
	if err := s.store.ResetForRetry(r.Context(), req.ID); err != nil {
		s.log.Error("retry reset failed", "error", err)
		jsonError(w, "failed to reset request", http.StatusInternalServerError)
		return
	}
	if err := s.orchestrator.Submit(pipeline.Task{RequestID: req.ID, Kind: pipeline.TaskChunk}); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "status": model.StatusQueued})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if req.Status != model.StatusAwaitingApproval && req.Status != model.StatusCompleted {
		jsonError(w, fmt.Sprintf("chunks must be approved before generating (status: %s)", req.Status), http.StatusConflict)
		return
	}
	if err := s.orchestrator.Submit(pipeline.Task{RequestID: req.ID, Kind: pipeline.TaskGenerate}); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "status": model.StatusProcessing})
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	req, ok := s.getRequest(w, r)
	if !ok {
		return
	}
	if req.Status != model.StatusCompleted {
		jsonError(w, fmt.Sprintf("cards can be refined only after generation completes (status: %s)", req.Status), http.StatusConflict)
		return
	}

	var body struct {
		Instruction string `json:"instruction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	body.Instruction = strings.TrimSpace(body.Instruction)
	if body.Instruction == "" {
		jsonError(w, "instruction is required", http.StatusBadRequest)
		return
	}

	err := s.orchestrator.Submit(pipeline.Task{
		RequestID:   req.ID,
		Kind:        pipeline.TaskRefine,
		Instruction: body.Instruction,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "status": model.StatusProcessing})
}

// getRequest loads the request named in the URL, writing the error
// response itself when that fails.
func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) (*model.Request, bool) {
	id := chi.URLParam(r, "requestID")
	req, err := s.store.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "request not found", http.StatusNotFound)
		} else {
			s.log.Error("get request failed", "request_id", id, "error", err)
			jsonError(w, "failed to load request", http.StatusInternalServerError)
		}
		return nil, false
	}
	return req, true
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
