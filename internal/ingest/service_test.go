package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/ingest"
	"github.com/fintrackhq/fintrack/internal/parse"
	"github.com/fintrackhq/fintrack/internal/statement"
	"github.com/fintrackhq/fintrack/pkg/logger"
)

const sbiStatementText = `STATE BANK OF INDIA
Account: *****4321
Period: 1-Mar-2025 to 31-Mar-2025

5-Mar-2025 UPI/DR/GROCERY STORE 450.00 0.00 25550.00

7-Mar-2025 NEFT/CR/ACME SALARY 0.00 50000.00 75550.00
`

// mockRepository is an in-memory statement.Repository with staged writes:
// everything written inside BeginTx/CommitTx becomes visible only on commit.
type mockRepository struct {
	statements   map[string]*statement.Statement
	transactions map[string]*statement.Transaction
	lineage      []*statement.Lineage
	logs         map[string][]statement.LogEntry

	inTx             bool
	stagedStatements []*statement.Statement
	stagedTxs        []*statement.Transaction
	stagedLineage    []*statement.Lineage
	stagedLogs       map[string][]statement.LogEntry
	appendLogsErr    error
	beginCalls       int
	commitCalls      int
	rollbackCalls    int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		statements:   make(map[string]*statement.Statement),
		transactions: make(map[string]*statement.Transaction),
		logs:         make(map[string][]statement.LogEntry),
	}
}

func (m *mockRepository) BeginTx(ctx context.Context) (context.Context, error) {
	if m.inTx {
		return ctx, errors.New("transaction already in progress")
	}
	m.inTx = true
	m.beginCalls++
	m.stagedStatements = nil
	m.stagedTxs = nil
	m.stagedLineage = nil
	m.stagedLogs = make(map[string][]statement.LogEntry)
	return ctx, nil
}

func (m *mockRepository) CommitTx(ctx context.Context) error {
	if !m.inTx {
		return errors.New("no transaction in context")
	}
	for _, st := range m.stagedStatements {
		m.statements[st.StatementID] = st
	}
	for _, tx := range m.stagedTxs {
		m.transactions[tx.TransactionID] = tx
	}
	m.lineage = append(m.lineage, m.stagedLineage...)
	for id, entries := range m.stagedLogs {
		m.logs[id] = append(m.logs[id], entries...)
	}
	m.inTx = false
	m.commitCalls++
	return nil
}

func (m *mockRepository) RollbackTx(ctx context.Context) error {
	if !m.inTx {
		return errors.New("no transaction in context")
	}
	m.inTx = false
	m.rollbackCalls++
	return nil
}

func (m *mockRepository) CreateStatement(ctx context.Context, st *statement.Statement) error {
	if _, ok := m.statements[st.StatementID]; ok {
		return statement.ErrStatementExists
	}
	if m.inTx {
		m.stagedStatements = append(m.stagedStatements, st)
	} else {
		m.statements[st.StatementID] = st
	}
	return nil
}

func (m *mockRepository) GetStatement(ctx context.Context, id string) (*statement.Statement, error) {
	st, ok := m.statements[id]
	if !ok {
		return nil, statement.ErrStatementNotFound
	}
	return st, nil
}

func (m *mockRepository) ListStatements(ctx context.Context, limit, offset int) ([]*statement.Statement, error) {
	var out []*statement.Statement
	for _, st := range m.statements {
		out = append(out, st)
	}
	return out, nil
}

func (m *mockRepository) DeleteStatement(ctx context.Context, id string) error {
	if _, ok := m.statements[id]; !ok {
		return statement.ErrStatementNotFound
	}
	delete(m.statements, id)
	return nil
}

func (m *mockRepository) CreateTransaction(ctx context.Context, tx *statement.Transaction) error {
	if _, ok := m.transactions[tx.TransactionID]; ok {
		return statement.ErrTransactionExists
	}
	for _, staged := range m.stagedTxs {
		if staged.TransactionID == tx.TransactionID {
			return statement.ErrTransactionExists
		}
	}
	if m.inTx {
		m.stagedTxs = append(m.stagedTxs, tx)
	} else {
		m.transactions[tx.TransactionID] = tx
	}
	return nil
}

func (m *mockRepository) GetTransaction(ctx context.Context, id string) (*statement.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok {
		return nil, statement.ErrTransactionNotFound
	}
	return tx, nil
}

func (m *mockRepository) TransactionExists(ctx context.Context, id string) (bool, error) {
	if _, ok := m.transactions[id]; ok {
		return true, nil
	}
	for _, staged := range m.stagedTxs {
		if staged.TransactionID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) ListTransactions(ctx context.Context, filters statement.TransactionFilters) ([]*statement.Transaction, int, error) {
	var out []*statement.Transaction
	for _, tx := range m.transactions {
		if filters.StatementID != "" && tx.StatementID != filters.StatementID {
			continue
		}
		out = append(out, tx)
	}
	return out, len(out), nil
}

func (m *mockRepository) ListTransactionsBefore(ctx context.Context, cutoff time.Time) ([]*statement.Transaction, error) {
	var out []*statement.Transaction
	for _, tx := range m.transactions {
		if tx.TransactionDate.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *mockRepository) ListTransactionsExcludingStatement(ctx context.Context, statementID string) ([]*statement.Transaction, error) {
	var out []*statement.Transaction
	for _, tx := range m.transactions {
		if tx.StatementID != statementID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *mockRepository) CreateLineage(ctx context.Context, edge *statement.Lineage) error {
	if m.inTx {
		m.stagedLineage = append(m.stagedLineage, edge)
	} else {
		m.lineage = append(m.lineage, edge)
	}
	return nil
}

func (m *mockRepository) ListLineageForTransaction(ctx context.Context, transactionID string) ([]*statement.Lineage, error) {
	var out []*statement.Lineage
	for _, edge := range m.lineage {
		if edge.TransactionID == transactionID || edge.LinkedTransactionID == transactionID {
			out = append(out, edge)
		}
	}
	return out, nil
}

func (m *mockRepository) AppendLogs(ctx context.Context, statementID string, entries []statement.LogEntry) error {
	if m.appendLogsErr != nil {
		return m.appendLogsErr
	}
	if m.inTx {
		m.stagedLogs[statementID] = append(m.stagedLogs[statementID], entries...)
	} else {
		m.logs[statementID] = append(m.logs[statementID], entries...)
	}
	return nil
}

// fakeExtractor returns canned page text regardless of the document
type fakeExtractor struct {
	pages []extract.Page
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) ([]extract.Page, []statement.LogEntry, error) {
	logs := []statement.LogEntry{{Level: statement.LogLevelInfo, Message: "extracted", Timestamp: time.Now().UTC()}}
	return f.pages, logs, f.err
}

// deniedLocker never grants the lock
type deniedLocker struct{}

func (deniedLocker) TryLock(context.Context, string) (func(), bool, error) {
	return nil, false, nil
}

func writeTestDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestService(repo *mockRepository, ext ingest.Extractor, locker ingest.Locker) *ingest.Service {
	log := logger.New("development", os.Stderr)
	return ingest.NewService(repo, ext, parse.NewRegistry(), ingest.Config{Workers: 2, Locker: locker}, log)
}

func TestService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("successful_ingestion", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &fakeExtractor{pages: []extract.Page{{Number: 1, Text: sbiStatementText}}}, nil)
		path := writeTestDocument(t, "pdf bytes one")

		st, txs, issues, err := svc.Ingest(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, "SBI", st.SourceName)
		assert.Equal(t, statement.ParseStatusSuccess, st.ParseStatus)
		assert.Equal(t, 2, st.RowCount)
		assert.Empty(t, issues)
		require.Len(t, txs, 2)

		// Everything landed in the store through a committed transaction.
		assert.Equal(t, 1, repo.commitCalls)
		assert.Len(t, repo.transactions, 2)
		assert.NotEmpty(t, repo.logs[st.StatementID])

		for _, tx := range txs {
			want := statement.ComputeTransactionID(st.StatementID, tx.TransactionDate, tx.Description, tx.Debit, tx.Credit)
			assert.Equal(t, want, tx.TransactionID)
		}
	})

	t.Run("reingest_is_a_noop", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &fakeExtractor{pages: []extract.Page{{Number: 1, Text: sbiStatementText}}}, nil)
		path := writeTestDocument(t, "pdf bytes two")

		first, _, _, err := svc.Ingest(ctx, path)
		require.NoError(t, err)

		second, txs, issues, err := svc.Ingest(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, first.StatementID, second.StatementID)
		assert.Empty(t, txs)
		assert.Contains(t, issues, "statement already ingested")
		assert.Len(t, repo.transactions, 2, "no duplicate transactions on re-ingest")
	})

	t.Run("unsupported_format", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &fakeExtractor{pages: []extract.Page{{Number: 1, Text: "Acme Credit Union monthly summary"}}}, nil)
		path := writeTestDocument(t, "pdf bytes three")

		_, _, _, err := svc.Ingest(ctx, path)
		assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
		assert.Empty(t, repo.statements)
	})

	t.Run("extraction_failure", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &fakeExtractor{pages: nil}, nil)
		path := writeTestDocument(t, "pdf bytes four")

		_, _, _, err := svc.Ingest(ctx, path)
		assert.ErrorIs(t, err, ingest.ErrExtractionFailed)
		assert.Empty(t, repo.statements)
	})

	t.Run("persist_failure_rolls_back_everything", func(t *testing.T) {
		repo := newMockRepository()
		repo.appendLogsErr = errors.New("disk full")
		svc := newTestService(repo, &fakeExtractor{pages: []extract.Page{{Number: 1, Text: sbiStatementText}}}, nil)
		path := writeTestDocument(t, "pdf bytes five")

		_, _, _, err := svc.Ingest(ctx, path)
		assert.ErrorIs(t, err, ingest.ErrPersistFailed)
		assert.Empty(t, repo.statements, "nothing visible after rollback")
		assert.Empty(t, repo.transactions)
		assert.Equal(t, 1, repo.rollbackCalls)
		assert.Equal(t, 0, repo.commitCalls)
	})

	t.Run("lineage_detected_against_prior_statements", func(t *testing.T) {
		repo := newMockRepository()
		credit := decimal.RequireFromString("450.00")
		repo.transactions["existing-credit"] = &statement.Transaction{
			TransactionID:   "existing-credit",
			StatementID:     "cc-stmt",
			TransactionDate: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
			Description:     "PAYMENT RECEIVED THANK YOU",
			Credit:          &credit,
			SourceName:      "AMEX",
		}

		svc := newTestService(repo, &fakeExtractor{pages: []extract.Page{{Number: 1, Text: sbiStatementText}}}, nil)
		path := writeTestDocument(t, "pdf bytes six")

		_, txs, _, err := svc.Ingest(ctx, path)
		require.NoError(t, err)
		require.Len(t, txs, 2)

		// The 450.00 debit on 5-Mar matches the 450.00 credit on 4-Mar.
		require.Len(t, repo.lineage, 1)
		edge := repo.lineage[0]
		assert.Equal(t, statement.RelationshipCCPayment, edge.RelationshipType)
		assert.Equal(t, "existing-credit", edge.TransactionID)
	})

	t.Run("lock_held_elsewhere", func(t *testing.T) {
		repo := newMockRepository()
		svc := newTestService(repo, &fakeExtractor{pages: []extract.Page{{Number: 1, Text: sbiStatementText}}}, deniedLocker{})
		path := writeTestDocument(t, "pdf bytes seven")

		_, _, _, err := svc.Ingest(ctx, path)
		assert.ErrorIs(t, err, ingest.ErrIngestInFlight)
	})
}
