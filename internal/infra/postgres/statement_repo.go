package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fintrackhq/fintrack/internal/statement"
)

// StatementRepository implements the statement repository interface using
// PostgreSQL. Amounts are stored as NUMERIC and moved across the wire as
// strings so no float conversion ever touches them.
type StatementRepository struct {
	pool *pgxpool.Pool
}

// NewStatementRepository creates a new PostgreSQL statement repository
func NewStatementRepository(pool *pgxpool.Pool) *StatementRepository {
	return &StatementRepository{pool: pool}
}

// Statement operations

// CreateStatement inserts a new statement. Returns ErrStatementExists when a
// statement with the same content hash is already recorded.
func (r *StatementRepository) CreateStatement(ctx context.Context, st *statement.Statement) error {
	query := `
		INSERT INTO statements (statement_id, source_type, source_name, account_ref, period_start, period_end, parse_status, document_path, page_count, row_count, ingestion_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		st.StatementID,
		string(st.SourceType),
		st.SourceName,
		st.AccountRef,
		st.PeriodStart,
		st.PeriodEnd,
		string(st.ParseStatus),
		st.DocumentPath,
		st.PageCount,
		st.RowCount,
		st.IngestionTS,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return statement.ErrStatementExists
		}
		return fmt.Errorf("failed to create statement: %w", err)
	}

	return nil
}

// GetStatement retrieves a statement by its content hash
func (r *StatementRepository) GetStatement(ctx context.Context, id string) (*statement.Statement, error) {
	query := `
		SELECT statement_id, source_type, source_name, account_ref, period_start, period_end, parse_status, document_path, page_count, row_count, ingestion_ts
		FROM statements
		WHERE statement_id = $1
	`

	q := r.getQueryer(ctx)
	st, err := scanStatement(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, statement.ErrStatementNotFound
		}
		return nil, fmt.Errorf("failed to get statement: %w", err)
	}
	return st, nil
}

// ListStatements lists statements newest first
func (r *StatementRepository) ListStatements(ctx context.Context, limit, offset int) ([]*statement.Statement, error) {
	query := `
		SELECT statement_id, source_type, source_name, account_ref, period_start, period_end, parse_status, document_path, page_count, row_count, ingestion_ts
		FROM statements
		ORDER BY ingestion_ts DESC
		LIMIT $1 OFFSET $2
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	var statements []*statement.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		statements = append(statements, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statements: %w", err)
	}

	return statements, nil
}

// DeleteStatement removes a statement. Its transactions, lineage edges and
// audit logs go with it via ON DELETE CASCADE.
func (r *StatementRepository) DeleteStatement(ctx context.Context, id string) error {
	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM statements WHERE statement_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete statement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return statement.ErrStatementNotFound
	}
	return nil
}

// Transaction operations

// CreateTransaction inserts a normalized transaction. Returns
// ErrTransactionExists when the same content hash is already recorded.
func (r *StatementRepository) CreateTransaction(ctx context.Context, tx *statement.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	query := `
		INSERT INTO transactions (transaction_id, statement_id, transaction_date, value_date, description, debit, credit, balance, currency, source_type, source_name, raw_line, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		tx.TransactionID,
		tx.StatementID,
		tx.TransactionDate,
		tx.ValueDate,
		tx.Description,
		amountParam(tx.Debit),
		amountParam(tx.Credit),
		amountParam(tx.Balance),
		tx.Currency,
		string(tx.SourceType),
		tx.SourceName,
		tx.RawLine,
		tx.CreatedTS,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return statement.ErrTransactionExists
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetTransaction retrieves a transaction by its content hash
func (r *StatementRepository) GetTransaction(ctx context.Context, id string) (*statement.Transaction, error) {
	query := txSelectColumns + `
		FROM transactions
		WHERE transaction_id = $1
	`

	q := r.getQueryer(ctx)
	tx, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, statement.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// TransactionExists reports whether a transaction ID is already recorded
func (r *StatementRepository) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	q := r.getQueryer(ctx)
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE transaction_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return exists, nil
}

// ListTransactions lists transactions with filters and pagination, newest
// first. The second return value is the total match count before paging.
func (r *StatementRepository) ListTransactions(ctx context.Context, filters statement.TransactionFilters) ([]*statement.Transaction, int, error) {
	where := " WHERE 1=1"
	args := make([]interface{}, 0)
	argPos := 1

	if filters.StatementID != "" {
		where += fmt.Sprintf(" AND statement_id = $%d", argPos)
		args = append(args, filters.StatementID)
		argPos++
	}
	if filters.SourceName != "" {
		where += fmt.Sprintf(" AND source_name = $%d", argPos)
		args = append(args, filters.SourceName)
		argPos++
	}
	if filters.From != nil {
		where += fmt.Sprintf(" AND transaction_date >= $%d", argPos)
		args = append(args, *filters.From)
		argPos++
	}
	if filters.To != nil {
		where += fmt.Sprintf(" AND transaction_date <= $%d", argPos)
		args = append(args, *filters.To)
		argPos++
	}

	q := r.getQueryer(ctx)

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := txSelectColumns + " FROM transactions" + where + " ORDER BY transaction_date DESC, transaction_id ASC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
		argPos++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filters.Offset)
		argPos++
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}

// ListTransactionsBefore lists all transactions dated strictly before the
// cutoff, oldest first. Used by the archival worker.
func (r *StatementRepository) ListTransactionsBefore(ctx context.Context, cutoff time.Time) ([]*statement.Transaction, error) {
	query := txSelectColumns + `
		FROM transactions
		WHERE transaction_date < $1
		ORDER BY transaction_date ASC, transaction_id ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListTransactionsExcludingStatement lists all transactions that belong to
// other statements. Used for lineage matching against prior ingestions.
func (r *StatementRepository) ListTransactionsExcludingStatement(ctx context.Context, statementID string) ([]*statement.Transaction, error) {
	query := txSelectColumns + `
		FROM transactions
		WHERE statement_id <> $1
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, statementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// Lineage operations

// CreateLineage inserts a lineage edge. Re-asserting an edge that already
// exists for the same pair and relationship is a no-op.
func (r *StatementRepository) CreateLineage(ctx context.Context, edge *statement.Lineage) error {
	query := `
		INSERT INTO lineage (id, transaction_id, linked_transaction_id, relationship_type, confidence, match_reason, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id, linked_transaction_id, relationship_type) DO NOTHING
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		edge.ID,
		edge.TransactionID,
		edge.LinkedTransactionID,
		string(edge.RelationshipType),
		edge.Confidence,
		edge.MatchReason,
		edge.CreatedTS,
	)
	if err != nil {
		return fmt.Errorf("failed to create lineage edge: %w", err)
	}

	return nil
}

// ListLineageForTransaction lists edges touching a transaction from either
// end, highest confidence first.
func (r *StatementRepository) ListLineageForTransaction(ctx context.Context, transactionID string) ([]*statement.Lineage, error) {
	query := `
		SELECT id, transaction_id, linked_transaction_id, relationship_type, confidence, match_reason, created_ts
		FROM lineage
		WHERE transaction_id = $1 OR linked_transaction_id = $1
		ORDER BY confidence DESC, created_ts ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lineage: %w", err)
	}
	defer rows.Close()

	var edges []*statement.Lineage
	for rows.Next() {
		var edge statement.Lineage
		var relType string
		err := rows.Scan(
			&edge.ID,
			&edge.TransactionID,
			&edge.LinkedTransactionID,
			&relType,
			&edge.Confidence,
			&edge.MatchReason,
			&edge.CreatedTS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lineage edge: %w", err)
		}
		edge.RelationshipType = statement.RelationshipType(relType)
		edges = append(edges, &edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lineage: %w", err)
	}

	return edges, nil
}

// Audit log operations

// AppendLogs appends audit entries for a statement. Logs are write-once;
// there is no update or delete path.
func (r *StatementRepository) AppendLogs(ctx context.Context, statementID string, entries []statement.LogEntry) error {
	query := `
		INSERT INTO ingestion_log (statement_id, level, message, ts)
		VALUES ($1, $2, $3, $4)
	`

	q := r.getQueryer(ctx)
	for _, entry := range entries {
		if _, err := q.Exec(ctx, query, statementID, string(entry.Level), entry.Message, entry.Timestamp); err != nil {
			return fmt.Errorf("failed to append log: %w", err)
		}
	}

	return nil
}

// ListLogs retrieves the audit trail for a statement in insertion order
func (r *StatementRepository) ListLogs(ctx context.Context, statementID string) ([]*statement.IngestionLog, error) {
	query := `
		SELECT id, statement_id, level, message, ts
		FROM ingestion_log
		WHERE statement_id = $1
		ORDER BY id ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, statementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []*statement.IngestionLog
	for rows.Next() {
		var entry statement.IngestionLog
		var level string
		if err := rows.Scan(&entry.ID, &entry.StatementID, &level, &entry.Message, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		entry.Level = statement.LogLevel(level)
		logs = append(logs, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}

	return logs, nil
}

// Scan helpers

const txSelectColumns = `
		SELECT transaction_id, statement_id, transaction_date, value_date, description, debit::text, credit::text, balance::text, currency, source_type, source_name, raw_line, created_ts`

func scanStatement(row pgx.Row) (*statement.Statement, error) {
	var st statement.Statement
	var sourceType, parseStatus string
	err := row.Scan(
		&st.StatementID,
		&sourceType,
		&st.SourceName,
		&st.AccountRef,
		&st.PeriodStart,
		&st.PeriodEnd,
		&parseStatus,
		&st.DocumentPath,
		&st.PageCount,
		&st.RowCount,
		&st.IngestionTS,
	)
	if err != nil {
		return nil, err
	}
	st.SourceType = statement.SourceType(sourceType)
	st.ParseStatus = statement.ParseStatus(parseStatus)
	return &st, nil
}

func scanTransaction(row pgx.Row) (*statement.Transaction, error) {
	var tx statement.Transaction
	var sourceType string
	var debitStr, creditStr, balanceStr sql.NullString

	err := row.Scan(
		&tx.TransactionID,
		&tx.StatementID,
		&tx.TransactionDate,
		&tx.ValueDate,
		&tx.Description,
		&debitStr,
		&creditStr,
		&balanceStr,
		&tx.Currency,
		&sourceType,
		&tx.SourceName,
		&tx.RawLine,
		&tx.CreatedTS,
	)
	if err != nil {
		return nil, err
	}
	tx.SourceType = statement.SourceType(sourceType)

	if tx.Debit, err = amountFromColumn(debitStr); err != nil {
		return nil, fmt.Errorf("failed to parse debit: %w", err)
	}
	if tx.Credit, err = amountFromColumn(creditStr); err != nil {
		return nil, fmt.Errorf("failed to parse credit: %w", err)
	}
	if tx.Balance, err = amountFromColumn(balanceStr); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}

	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]*statement.Transaction, error) {
	var transactions []*statement.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

func amountParam(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func amountFromColumn(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Transaction management using pgx transactions carried in the context

type ctxKey string

const txContextKey ctxKey = "statement_tx"

// BeginTx starts a new database transaction and stores it in the context
func (r *StatementRepository) BeginTx(ctx context.Context) (context.Context, error) {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the database transaction from the context
func (r *StatementRepository) CommitTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RollbackTx rolls back the database transaction from the context
func (r *StatementRepository) RollbackTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

func (r *StatementRepository) getTxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer returns the transaction if one exists in context, otherwise the
// pool. Repository methods work both inside and outside transactions.
func (r *StatementRepository) getQueryer(ctx context.Context) interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}
