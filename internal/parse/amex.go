package parse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/statement"
)

var (
	amexAccountRe = regexp.MustCompile(`Account Number[:\s]+(\d{4}\s\d{6}\s\d{5}|\d{15})`)
	amexDateRe    = regexp.MustCompile(`Statement Date[:\s]+([A-Z][a-z]+\s\d{1,2},\s\d{4})`)
	amexLineRe    = regexp.MustCompile(`^(\d{2}/\d{2})\s+(.+?)\s+([\d,]+\.\d{2})(?:\s+([CD]))?\s*$`)
)

const amexStatementDateLayout = "January 2, 2006"

// AMEXParser parses AMEX credit card statements. Transaction lines carry an
// MM/DD date (year comes from the statement date), a single amount and an
// optional explicit direction marker; an unmarked amount is a charge (debit).
type AMEXParser struct{}

func (p *AMEXParser) Format() Format { return FormatAMEX }

func (p *AMEXParser) Parse(pages []extract.Page) (*Metadata, []RawTransaction, []statement.LogEntry) {
	logs := &logCollector{}

	if len(pages) == 0 {
		logs.logf(statement.LogLevelError, "could not extract statement metadata")
		return nil, nil, logs.entries
	}

	var texts []string
	for _, page := range pages {
		texts = append(texts, page.Text)
	}
	text := strings.Join(texts, "\n")

	accountRef := "AMEX-UNKNOWN"
	if m := amexAccountRe.FindStringSubmatch(text); m != nil {
		accountRef = strings.TrimSpace(m[1])
	}

	statementDate := today()
	if m := amexDateRe.FindStringSubmatch(text); m != nil {
		if d, ok := parseDate(m[1], []string{amexStatementDateLayout}); ok {
			statementDate = d
		} else {
			logs.logf(statement.LogLevelWarn, "could not parse AMEX statement date: %s", m[1])
		}
	} else {
		logs.logf(statement.LogLevelWarn, "no statement date found, defaulting to current date")
	}

	rows := p.extractTransactions(text, statementDate)
	logs.logf(statement.LogLevelInfo, "parsed %d AMEX transactions", len(rows))

	meta := &Metadata{
		SourceType:  statement.SourceTypeCreditCard,
		SourceName:  "AMEX",
		AccountRef:  accountRef,
		PeriodStart: firstOfMonth(statementDate),
		PeriodEnd:   statementDate,
		ParseStatus: statusFor(rows),
	}
	return meta, rows, logs.entries
}

func (p *AMEXParser) extractTransactions(text string, statementDate time.Time) []RawTransaction {
	var rows []RawTransaction

	inSection := false
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "Transactions") || strings.Contains(line, "Purchases") {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" || len(line) < 12 {
			continue
		}

		m := amexLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		date, ok := parseMonthDay(m[1], statementDate.Year())
		if !ok {
			continue
		}

		amount := parseAmount(m[3])
		row := RawTransaction{
			Date:        date,
			Description: strings.TrimSpace(m[2]),
			Currency:    "INR",
			RawLine:     line,
		}
		if m[4] == "C" {
			row.Credit = &amount
		} else {
			row.Debit = &amount
		}
		rows = append(rows, row)
	}

	return dedupeRows(rows)
}

// parseMonthDay parses an MM/DD token against the statement year
func parseMonthDay(s string, year int) (time.Time, bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", fmt.Sprintf("%04d-%s-%s", year, parts[0], parts[1]))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
