package statement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType identifies the kind of institution a statement came from
type SourceType string

const (
	SourceTypeBank       SourceType = "bank"
	SourceTypeCreditCard SourceType = "credit_card"
	SourceTypeUnknown    SourceType = "unknown"
)

// ParseStatus records how completely a statement was parsed
type ParseStatus string

const (
	ParseStatusSuccess ParseStatus = "success"
	ParseStatusPartial ParseStatus = "partial"
)

// Statement is one ingested source document.
// StatementID is the SHA-256 of the raw document bytes and doubles as the
// idempotency token: re-ingesting byte-identical content is a no-op.
type Statement struct {
	StatementID  string
	SourceType   SourceType
	SourceName   string
	AccountRef   string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	ParseStatus  ParseStatus
	DocumentPath string
	PageCount    int
	RowCount     int
	IngestionTS  time.Time
}

// Transaction is one normalized ledger line. At most one of Debit/Credit is
// set; never both. Transactions are immutable once created.
type Transaction struct {
	TransactionID   string
	StatementID     string
	TransactionDate time.Time
	ValueDate       *time.Time
	Description     string
	Debit           *decimal.Decimal
	Credit          *decimal.Decimal
	Balance         *decimal.Decimal
	Currency        string
	SourceType      SourceType
	SourceName      string
	RawLine         string
	CreatedTS       time.Time
}

// Validate checks the debit/credit exclusivity invariant
func (t *Transaction) Validate() error {
	if t.Debit != nil && t.Credit != nil {
		return ErrDebitCreditConflict
	}
	if t.Description == "" {
		return ErrEmptyDescription
	}
	return nil
}

// Amount returns whichever of debit/credit is set, or nil
func (t *Transaction) Amount() *decimal.Decimal {
	if t.Debit != nil {
		return t.Debit
	}
	return t.Credit
}

// RelationshipType classifies a lineage edge
type RelationshipType string

const (
	RelationshipCCPayment RelationshipType = "cc_payment"
	RelationshipRefund    RelationshipType = "refund"
	RelationshipTransfer  RelationshipType = "transfer"
	RelationshipDuplicate RelationshipType = "duplicate"
)

// Lineage is a directed edge asserting a relationship between two
// transactions. A->B does not imply B->A.
type Lineage struct {
	ID                  uuid.UUID
	TransactionID       string
	LinkedTransactionID string
	RelationshipType    RelationshipType
	Confidence          float64
	MatchReason         string
	CreatedTS           time.Time
}

// LogLevel is the severity of an audit log entry
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is a single audit line collected during extraction or parsing,
// before it is attached to a statement.
type LogEntry struct {
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// IngestionLog is a persisted audit line owned by a statement. Write-once.
type IngestionLog struct {
	ID          int64
	StatementID string
	Level       LogLevel
	Message     string
	Timestamp   time.Time
}

// TransactionFilters narrows ListTransactions queries
type TransactionFilters struct {
	StatementID string
	SourceName  string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}
