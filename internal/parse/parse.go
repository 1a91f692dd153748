package parse

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/statement"
)

// Metadata is the statement-level result of a parse
type Metadata struct {
	SourceType  statement.SourceType
	SourceName  string
	AccountRef  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	ParseStatus statement.ParseStatus
}

// RawTransaction is one ledger line as captured from page text, before
// hashing and persistence.
type RawTransaction struct {
	Date        time.Time
	ValueDate   *time.Time
	Description string
	Debit       *decimal.Decimal
	Credit      *decimal.Decimal
	Balance     *decimal.Decimal
	Currency    string
	RawLine     string
}

// Parser turns page text into statement metadata and raw transactions.
// Implementations are stateless; the same parser value can run concurrent
// parses.
type Parser interface {
	Format() Format
	Parse(pages []extract.Page) (*Metadata, []RawTransaction, []statement.LogEntry)
}

// logCollector accumulates audit entries during one parse
type logCollector struct {
	entries []statement.LogEntry
}

func (c *logCollector) logf(level statement.LogLevel, format string, args ...interface{}) {
	c.entries = append(c.entries, statement.LogEntry{
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	})
}

// parseDate tries each layout in order; the first that parses wins
func parseDate(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// today returns the current date truncated to midnight UTC, the lossy
// fallback for unparseable periods and dates.
func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// parseAmount parses a statement amount column, tolerating thousands
// separators. Unparseable input counts as zero.
func parseAmount(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// nullableAmount parses an optional amount column: empty and zero columns
// mean "not set", matching how statements print unused debit/credit cells.
func nullableAmount(s string) *decimal.Decimal {
	d := parseAmount(s)
	if d.IsZero() {
		return nil
	}
	return &d
}

// inferDebitCredit decides direction from two positional amount columns:
// whichever is nonzero is the debit, the other the credit. If both are
// nonzero the debit takes precedence.
func inferDebitCredit(amount1, amount2 decimal.Decimal) (debit, credit *decimal.Decimal) {
	switch {
	case amount1.IsPositive() && amount2.IsZero():
		return &amount1, nil
	case amount2.IsPositive() && amount1.IsZero():
		return nil, &amount2
	case amount1.IsPositive():
		return &amount1, nil
	case amount2.IsPositive():
		return nil, &amount2
	}
	return nil, nil
}

// dedupeRows collapses rows with identical (date, description, debit,
// credit) to the first occurrence. This guards against the same visual line
// being captured twice within one parse; it is not cross-statement dedup.
func dedupeRows(rows []RawTransaction) []RawTransaction {
	type key struct {
		date        string
		description string
		debit       string
		credit      string
	}
	seen := make(map[key]bool, len(rows))
	unique := rows[:0:0]
	for _, row := range rows {
		k := key{
			date:        row.Date.Format("2006-01-02"),
			description: row.Description,
		}
		if row.Debit != nil {
			k.debit = row.Debit.String()
		}
		if row.Credit != nil {
			k.credit = row.Credit.String()
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, row)
	}
	return unique
}

// statusFor reports success when at least one transaction was extracted
func statusFor(rows []RawTransaction) statement.ParseStatus {
	if len(rows) > 0 {
		return statement.ParseStatusSuccess
	}
	return statement.ParseStatusPartial
}
