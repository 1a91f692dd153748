package statement

import "errors"

// Statement errors
var (
	ErrStatementExists   = errors.New("statement already ingested")
	ErrStatementNotFound = errors.New("statement not found")
)

// Transaction errors
var (
	ErrTransactionExists   = errors.New("transaction already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDebitCreditConflict = errors.New("transaction cannot have both debit and credit set")
	ErrEmptyDescription    = errors.New("transaction description cannot be empty")
)
