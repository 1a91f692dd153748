package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fintrackhq/fintrack/internal/statement"
)

// TransactionReader defines the read operations needed by TransactionHandler
type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (*statement.Transaction, error)
	ListTransactions(ctx context.Context, filters statement.TransactionFilters) ([]*statement.Transaction, int, error)
	ListLineageForTransaction(ctx context.Context, transactionID string) ([]*statement.Lineage, error)
}

// TransactionHandler handles transaction read requests
type TransactionHandler struct {
	reader TransactionReader
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(reader TransactionReader) *TransactionHandler {
	return &TransactionHandler{reader: reader}
}

// TransactionResponse represents one normalized transaction
type TransactionResponse struct {
	TransactionID   string  `json:"transaction_id"`
	StatementID     string  `json:"statement_id"`
	TransactionDate string  `json:"transaction_date"`
	ValueDate       *string `json:"value_date,omitempty"`
	Description     string  `json:"description"`
	Debit           *string `json:"debit,omitempty"`
	Credit          *string `json:"credit,omitempty"`
	Balance         *string `json:"balance,omitempty"`
	Currency        string  `json:"currency"`
	SourceType      string  `json:"source_type"`
	SourceName      string  `json:"source_name"`
}

// TransactionListResponse represents a paginated list of transactions
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// LineageResponse represents a lineage edge for a transaction
type LineageResponse struct {
	ID                  string  `json:"id"`
	TransactionID       string  `json:"transaction_id"`
	LinkedTransactionID string  `json:"linked_transaction_id"`
	RelationshipType    string  `json:"relationship_type"`
	Confidence          float64 `json:"confidence"`
	MatchReason         string  `json:"match_reason"`
}

// ListTransactions handles GET /transactions
// Supports statement_id, source, from and to filters plus limit/offset.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filters := statement.TransactionFilters{
		StatementID: r.URL.Query().Get("statement_id"),
		SourceName:  r.URL.Query().Get("source"),
	}

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
			return
		}
		filters.From = &t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
			return
		}
		filters.To = &t
	}

	filters.Limit = queryInt(r, "limit", 100)
	if filters.Limit < 1 || filters.Limit > 10000 {
		filters.Limit = 100
	}
	filters.Offset = queryInt(r, "offset", 0)
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	txs, total, err := h.reader.ListTransactions(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	items := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		items = append(items, toTransactionResponse(tx))
	}
	respondJSON(w, http.StatusOK, TransactionListResponse{
		Transactions: items,
		Total:        total,
		Limit:        filters.Limit,
		Offset:       filters.Offset,
	})
}

// GetTransaction handles GET /transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.reader.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, statement.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	respondJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// GetTransactionLineage handles GET /transactions/{id}/lineage
func (h *TransactionHandler) GetTransactionLineage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.reader.GetTransaction(r.Context(), id); err != nil {
		if errors.Is(err, statement.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	edges, err := h.reader.ListLineageForTransaction(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list lineage")
		return
	}

	items := make([]LineageResponse, 0, len(edges))
	for _, edge := range edges {
		items = append(items, LineageResponse{
			ID:                  edge.ID.String(),
			TransactionID:       edge.TransactionID,
			LinkedTransactionID: edge.LinkedTransactionID,
			RelationshipType:    string(edge.RelationshipType),
			Confidence:          edge.Confidence,
			MatchReason:         edge.MatchReason,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"lineage": items})
}

func toTransactionResponse(tx *statement.Transaction) TransactionResponse {
	resp := TransactionResponse{
		TransactionID:   tx.TransactionID,
		StatementID:     tx.StatementID,
		TransactionDate: tx.TransactionDate.Format("2006-01-02"),
		Description:     tx.Description,
		Debit:           amountField(tx.Debit),
		Credit:          amountField(tx.Credit),
		Balance:         amountField(tx.Balance),
		Currency:        tx.Currency,
		SourceType:      string(tx.SourceType),
		SourceName:      tx.SourceName,
	}
	if tx.ValueDate != nil {
		s := tx.ValueDate.Format("2006-01-02")
		resp.ValueDate = &s
	}
	return resp
}

func amountField(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
