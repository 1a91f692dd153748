package statement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ComputeStatementID derives the statement identity from the raw document
// bytes. Byte-identical documents always produce the same ID.
func ComputeStatementID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ComputeTransactionID derives a stable transaction identity from the owning
// statement and the row's normalized fields. Re-parsing the same document
// content yields the same ID for the same logical row.
func ComputeTransactionID(statementID string, date time.Time, description string, debit, credit *decimal.Decimal) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%s",
		statementID,
		date.Format("2006-01-02"),
		description,
		amountKey(debit),
		amountKey(credit),
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func amountKey(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
