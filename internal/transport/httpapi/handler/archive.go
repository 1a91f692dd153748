package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fintrackhq/fintrack/internal/archive"
)

// ArchiveServiceInterface defines the archival operations needed by ArchiveHandler
type ArchiveServiceInterface interface {
	Archive(ctx context.Context, cutoffDays int) (*archive.Result, error)
	Restore(ctx context.Context, file string) (*archive.RestoreResult, error)
}

// ArchiveHandler handles cold storage requests
type ArchiveHandler struct {
	service ArchiveServiceInterface
}

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(service ArchiveServiceInterface) *ArchiveHandler {
	return &ArchiveHandler{service: service}
}

// ArchiveRequest represents an archival run request
type ArchiveRequest struct {
	CutoffDays int `json:"cutoff_days"`
}

// RestoreRequest represents a restore request
type RestoreRequest struct {
	File string `json:"file"`
}

// RunArchive handles POST /archive
// Exports transactions older than the cutoff to monthly CSV files.
func (h *ArchiveHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Archive(r.Context(), req.CutoffDays)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive run failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// RunRestore handles POST /archive/restore
// Loads a previously exported CSV back into the store.
func (h *ArchiveHandler) RunRestore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.File == "" {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}

	result, err := h.service.Restore(r.Context(), req.File)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}
