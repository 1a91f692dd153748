package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrackhq/fintrack/internal/infra/postgres"
	"github.com/fintrackhq/fintrack/internal/statement"
	"github.com/fintrackhq/fintrack/testutil/testdb"
)

func setupRepo(t *testing.T) (*postgres.StatementRepository, *testdb.TestDB, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := testdb.NewTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(ctx) })

	return postgres.NewStatementRepository(db.Pool), db, ctx
}

func testStatement(id string) *statement.Statement {
	return &statement.Statement{
		StatementID: id,
		SourceType:  statement.SourceTypeBank,
		SourceName:  "SBI",
		AccountRef:  "*****4321",
		PeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		ParseStatus: statement.ParseStatusSuccess,
		PageCount:   3,
		RowCount:    2,
		IngestionTS: time.Now().UTC(),
	}
}

func testTransaction(id, statementID string, date time.Time, debit string) *statement.Transaction {
	d := decimal.RequireFromString(debit)
	return &statement.Transaction{
		TransactionID:   id,
		StatementID:     statementID,
		TransactionDate: date,
		Description:     "integration row " + id,
		Debit:           &d,
		Currency:        "INR",
		SourceType:      statement.SourceTypeBank,
		SourceName:      "SBI",
		RawLine:         "raw " + id,
		CreatedTS:       time.Now().UTC(),
	}
}

func TestStatementRepository_Statements(t *testing.T) {
	repo, db, ctx := setupRepo(t)

	t.Run("create_and_get", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))

		st := testStatement("stmt-1")
		require.NoError(t, repo.CreateStatement(ctx, st))

		got, err := repo.GetStatement(ctx, "stmt-1")
		require.NoError(t, err)
		assert.Equal(t, st.SourceName, got.SourceName)
		assert.Equal(t, st.ParseStatus, got.ParseStatus)
		assert.True(t, st.PeriodStart.Equal(got.PeriodStart))
	})

	t.Run("duplicate_rejected", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))

		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))
		err := repo.CreateStatement(ctx, testStatement("stmt-1"))
		assert.ErrorIs(t, err, statement.ErrStatementExists)
	})

	t.Run("get_missing", func(t *testing.T) {
		_, err := repo.GetStatement(ctx, "no-such-statement")
		assert.ErrorIs(t, err, statement.ErrStatementNotFound)
	})

	t.Run("delete_cascades", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))

		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))
		date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-1", "stmt-1", date, "450.00")))
		require.NoError(t, repo.AppendLogs(ctx, "stmt-1", []statement.LogEntry{
			{Level: statement.LogLevelInfo, Message: "parsed", Timestamp: time.Now().UTC()},
		}))

		require.NoError(t, repo.DeleteStatement(ctx, "stmt-1"))

		exists, err := repo.TransactionExists(ctx, "tx-1")
		require.NoError(t, err)
		assert.False(t, exists, "transactions go with their statement")
	})
}

func TestStatementRepository_Transactions(t *testing.T) {
	repo, db, ctx := setupRepo(t)

	t.Run("amounts_round_trip_exactly", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))
		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))

		credit := decimal.RequireFromString("123456.78")
		balance := decimal.RequireFromString("0.01")
		tx := &statement.Transaction{
			TransactionID:   "tx-exact",
			StatementID:     "stmt-1",
			TransactionDate: time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
			Description:     "precision check",
			Credit:          &credit,
			Balance:         &balance,
			Currency:        "INR",
			SourceType:      statement.SourceTypeBank,
			SourceName:      "SBI",
			CreatedTS:       time.Now().UTC(),
		}
		require.NoError(t, repo.CreateTransaction(ctx, tx))

		got, err := repo.GetTransaction(ctx, "tx-exact")
		require.NoError(t, err)
		assert.Nil(t, got.Debit)
		require.NotNil(t, got.Credit)
		assert.True(t, got.Credit.Equal(credit), "got %s", got.Credit)
		require.NotNil(t, got.Balance)
		assert.True(t, got.Balance.Equal(balance))
	})

	t.Run("duplicate_rejected", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))
		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))

		date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-1", "stmt-1", date, "450.00")))
		err := repo.CreateTransaction(ctx, testTransaction("tx-1", "stmt-1", date, "450.00"))
		assert.ErrorIs(t, err, statement.ErrTransactionExists)
	})

	t.Run("list_with_filters", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))
		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))
		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-2")))

		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-1", "stmt-1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "450.00")))
		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-2", "stmt-1", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), "120.00")))
		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-3", "stmt-2", time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), "999.00")))

		txs, total, err := repo.ListTransactions(ctx, statement.TransactionFilters{StatementID: "stmt-1", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, txs, 2)

		from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		txs, total, err = repo.ListTransactions(ctx, statement.TransactionFilters{From: &from, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, txs, 1)
		assert.Equal(t, "tx-3", txs[0].TransactionID)

		t.Run("total_counts_beyond_the_page", func(t *testing.T) {
			txs, total, err := repo.ListTransactions(ctx, statement.TransactionFilters{Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Len(t, txs, 1)
		})
	})

	t.Run("list_before_cutoff", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))
		require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))

		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-old", "stmt-1", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "450.00")))
		require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-new", "stmt-1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "120.00")))

		txs, err := repo.ListTransactionsBefore(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "tx-old", txs[0].TransactionID)
	})
}

func TestStatementRepository_TxContext(t *testing.T) {
	repo, db, ctx := setupRepo(t)

	t.Run("rollback_discards_writes", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))

		txCtx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.CreateStatement(txCtx, testStatement("stmt-rb")))
		require.NoError(t, repo.RollbackTx(txCtx))

		_, err = repo.GetStatement(ctx, "stmt-rb")
		assert.ErrorIs(t, err, statement.ErrStatementNotFound)
	})

	t.Run("commit_makes_writes_visible_together", func(t *testing.T) {
		require.NoError(t, db.Reset(ctx))

		txCtx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.CreateStatement(txCtx, testStatement("stmt-c")))
		date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.CreateTransaction(txCtx, testTransaction("tx-c", "stmt-c", date, "450.00")))

		// Invisible outside the transaction until commit.
		_, err = repo.GetStatement(ctx, "stmt-c")
		assert.ErrorIs(t, err, statement.ErrStatementNotFound)

		require.NoError(t, repo.CommitTx(txCtx))

		_, err = repo.GetStatement(ctx, "stmt-c")
		require.NoError(t, err)
		exists, err := repo.TransactionExists(ctx, "tx-c")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("nested_begin_rejected", func(t *testing.T) {
		txCtx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		defer repo.RollbackTx(txCtx)

		_, err = repo.BeginTx(txCtx)
		assert.Error(t, err)
	})
}

func TestStatementRepository_Lineage(t *testing.T) {
	repo, db, ctx := setupRepo(t)

	require.NoError(t, db.Reset(ctx))
	require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))
	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-a", "stmt-1", date, "450.00")))
	require.NoError(t, repo.CreateTransaction(ctx, testTransaction("tx-b", "stmt-1", date, "450.00")))

	edge := &statement.Lineage{
		ID:                  uuid.New(),
		TransactionID:       "tx-a",
		LinkedTransactionID: "tx-b",
		RelationshipType:    statement.RelationshipCCPayment,
		Confidence:          0.95,
		MatchReason:         "CC bill payment: AMEX credit matches SBI debit",
		CreatedTS:           time.Now().UTC(),
	}
	require.NoError(t, repo.CreateLineage(ctx, edge))

	t.Run("reasserting_an_edge_is_a_noop", func(t *testing.T) {
		dup := *edge
		dup.ID = uuid.New()
		require.NoError(t, repo.CreateLineage(ctx, &dup))

		edges, err := repo.ListLineageForTransaction(ctx, "tx-a")
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("visible_from_both_endpoints", func(t *testing.T) {
		edges, err := repo.ListLineageForTransaction(ctx, "tx-b")
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, statement.RelationshipCCPayment, edges[0].RelationshipType)
	})
}

func TestStatementRepository_Logs(t *testing.T) {
	repo, db, ctx := setupRepo(t)

	require.NoError(t, db.Reset(ctx))
	require.NoError(t, repo.CreateStatement(ctx, testStatement("stmt-1")))

	entries := []statement.LogEntry{
		{Level: statement.LogLevelInfo, Message: "extracted text via pdflib (3 pages)", Timestamp: time.Now().UTC()},
		{Level: statement.LogLevelWarn, Message: "could not parse SBI date: 99-Foo-2025", Timestamp: time.Now().UTC()},
	}
	require.NoError(t, repo.AppendLogs(ctx, "stmt-1", entries))

	logs, err := repo.ListLogs(ctx, "stmt-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, statement.LogLevelInfo, logs[0].Level)
	assert.Equal(t, statement.LogLevelWarn, logs[1].Level)
	assert.Contains(t, logs[1].Message, "99-Foo-2025")
}
