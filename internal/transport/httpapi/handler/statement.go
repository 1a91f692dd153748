package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fintrackhq/fintrack/internal/ingest"
	"github.com/fintrackhq/fintrack/internal/statement"
)

// maxUploadSize caps statement uploads at 25 MB
const maxUploadSize = 25 << 20

// IngestServiceInterface defines the ingestion operations needed by StatementHandler
type IngestServiceInterface interface {
	Ingest(ctx context.Context, path string) (*statement.Statement, []*statement.Transaction, []string, error)
}

// StatementReader defines the read operations needed by StatementHandler
type StatementReader interface {
	GetStatement(ctx context.Context, id string) (*statement.Statement, error)
	ListStatements(ctx context.Context, limit, offset int) ([]*statement.Statement, error)
	DeleteStatement(ctx context.Context, id string) error
	ListLogs(ctx context.Context, statementID string) ([]*statement.IngestionLog, error)
}

// StatementHandler handles statement upload and read requests
type StatementHandler struct {
	ingestService IngestServiceInterface
	reader        StatementReader
	uploadDir     string
}

// NewStatementHandler creates a new statement handler
func NewStatementHandler(ingestService IngestServiceInterface, reader StatementReader, uploadDir string) *StatementHandler {
	return &StatementHandler{
		ingestService: ingestService,
		reader:        reader,
		uploadDir:     uploadDir,
	}
}

// UploadResponse represents the result of a statement upload
type UploadResponse struct {
	StatementID          string   `json:"statement_id"`
	SourceType           string   `json:"source_type"`
	SourceName           string   `json:"source_name"`
	AccountRef           string   `json:"account_ref,omitempty"`
	ParseStatus          string   `json:"parse_status"`
	TransactionsIngested int      `json:"transactions_ingested"`
	Issues               []string `json:"issues,omitempty"`
}

// StatementResponse represents a statement in list and detail views
type StatementResponse struct {
	StatementID string `json:"statement_id"`
	SourceType  string `json:"source_type"`
	SourceName  string `json:"source_name"`
	AccountRef  string `json:"account_ref,omitempty"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	ParseStatus string `json:"parse_status"`
	PageCount   int    `json:"page_count"`
	RowCount    int    `json:"row_count"`
	IngestionTS string `json:"ingestion_ts"`
}

// LogEntryResponse represents one audit log line
type LogEntryResponse struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// UploadStatement handles POST /statements
// Accepts a multipart PDF upload, stores it and runs the ingestion pipeline.
func (h *StatementHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		respondError(w, http.StatusBadRequest, "only PDF uploads are supported")
		return
	}

	path, err := h.saveUpload(file, header.Filename)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	st, txs, issues, err := h.ingestService.Ingest(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnsupportedFormat),
			errors.Is(err, ingest.ErrExtractionFailed),
			errors.Is(err, ingest.ErrParseFailed):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ingest.ErrIngestInFlight):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "ingestion failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, UploadResponse{
		StatementID:          st.StatementID,
		SourceType:           string(st.SourceType),
		SourceName:           st.SourceName,
		AccountRef:           st.AccountRef,
		ParseStatus:          string(st.ParseStatus),
		TransactionsIngested: len(txs),
		Issues:               issues,
	})
}

// saveUpload writes the uploaded file under the upload directory with a
// unique name so concurrent uploads of the same filename never collide.
func (h *StatementHandler) saveUpload(file io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(filename))
	path := filepath.Join(h.uploadDir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// ListStatements handles GET /statements
func (h *StatementHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	statements, err := h.reader.ListStatements(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list statements")
		return
	}

	items := make([]StatementResponse, 0, len(statements))
	for _, st := range statements {
		items = append(items, toStatementResponse(st))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"statements": items})
}

// GetStatement handles GET /statements/{id}
func (h *StatementHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := h.reader.GetStatement(r.Context(), id)
	if err != nil {
		if errors.Is(err, statement.ErrStatementNotFound) {
			respondError(w, http.StatusNotFound, "statement not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get statement")
		return
	}

	respondJSON(w, http.StatusOK, toStatementResponse(st))
}

// GetStatementLogs handles GET /statements/{id}/logs
func (h *StatementHandler) GetStatementLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.reader.GetStatement(r.Context(), id); err != nil {
		if errors.Is(err, statement.ErrStatementNotFound) {
			respondError(w, http.StatusNotFound, "statement not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get statement")
		return
	}

	logs, err := h.reader.ListLogs(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}

	items := make([]LogEntryResponse, 0, len(logs))
	for _, entry := range logs {
		items = append(items, LogEntryResponse{
			Level:     string(entry.Level),
			Message:   entry.Message,
			Timestamp: entry.Timestamp.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"logs": items})
}

// DeleteStatement handles DELETE /statements/{id}
// Removes the statement and everything derived from it.
func (h *StatementHandler) DeleteStatement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.reader.DeleteStatement(r.Context(), id); err != nil {
		if errors.Is(err, statement.ErrStatementNotFound) {
			respondError(w, http.StatusNotFound, "statement not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete statement")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toStatementResponse(st *statement.Statement) StatementResponse {
	return StatementResponse{
		StatementID: st.StatementID,
		SourceType:  string(st.SourceType),
		SourceName:  st.SourceName,
		AccountRef:  st.AccountRef,
		PeriodStart: st.PeriodStart.Format("2006-01-02"),
		PeriodEnd:   st.PeriodEnd.Format("2006-01-02"),
		ParseStatus: string(st.ParseStatus),
		PageCount:   st.PageCount,
		RowCount:    st.RowCount,
		IngestionTS: st.IngestionTS.Format(time.RFC3339),
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
