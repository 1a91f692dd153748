package statement

import (
	"context"
	"time"
)

// Repository defines the persistence interface for statements, transactions,
// lineage edges and ingestion logs.
//
// BeginTx returns a derived context carrying the open database transaction;
// repository calls made with that context run inside it. This mirrors the
// write path: a statement, its transactions, its lineage edges and its audit
// logs become visible together or not at all.
type Repository interface {
	// Transaction management
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error

	// Statement operations
	CreateStatement(ctx context.Context, st *Statement) error
	GetStatement(ctx context.Context, id string) (*Statement, error)
	ListStatements(ctx context.Context, limit, offset int) ([]*Statement, error)
	DeleteStatement(ctx context.Context, id string) error

	// Transaction operations
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	TransactionExists(ctx context.Context, id string) (bool, error)
	ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, int, error)
	ListTransactionsBefore(ctx context.Context, cutoff time.Time) ([]*Transaction, error)
	ListTransactionsExcludingStatement(ctx context.Context, statementID string) ([]*Transaction, error)

	// Lineage operations
	CreateLineage(ctx context.Context, edge *Lineage) error
	ListLineageForTransaction(ctx context.Context, transactionID string) ([]*Lineage, error)

	// Audit log operations (append-only)
	AppendLogs(ctx context.Context, statementID string, entries []LogEntry) error
}
