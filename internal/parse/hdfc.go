package parse

import (
	"regexp"
	"strings"

	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/statement"
)

const monthNames = `(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`

var (
	hdfcAccountRe = regexp.MustCompile(`(\*{5}\d{4}|50\d{8})`)
	hdfcPeriodRe  = regexp.MustCompile(`(?i)(\d{1,2}[-/]` + monthNames + `[A-Za-z]*[-/]\d{4})\s+(?:to|–)\s+(\d{1,2}[-/]` + monthNames + `[A-Za-z]*[-/]\d{4})`)
	hdfcLineRe    = regexp.MustCompile(`(?i)^(\d{1,2}[-/]` + monthNames + `[A-Za-z]*[-/]\d{2,4})\s+(.+?)\s+([\d,]+\.?\d*)\s*([\d,]+\.?\d*)\s*([\d,]+\.?\d*)?$`)
	// A continuation line never starts with a day-of-month token.
	hdfcDatePrefixRe = regexp.MustCompile(`^\d{1,2}[-/]`)
)

var hdfcDateLayouts = []string{
	"2-Jan-06",
	"2-January-06",
	"2-Jan-2006",
	"2-January-2006",
	"2/01/2006",
	"2/01/06",
}

// HDFCParser parses HDFC bank statements: two positional amount columns
// (withdrawal, deposit) plus an optional running balance.
type HDFCParser struct{}

func (p *HDFCParser) Format() Format { return FormatHDFC }

func (p *HDFCParser) Parse(pages []extract.Page) (*Metadata, []RawTransaction, []statement.LogEntry) {
	logs := &logCollector{}

	if len(pages) == 0 {
		logs.logf(statement.LogLevelError, "could not extract statement metadata")
		return nil, nil, logs.entries
	}

	meta := p.extractMetadata(pages[0].Text, logs)
	rows := p.extractTransactions(pages, logs)

	meta.ParseStatus = statusFor(rows)
	logs.logf(statement.LogLevelInfo, "parsed %d transactions from HDFC statement", len(rows))
	return meta, rows, logs.entries
}

func (p *HDFCParser) extractMetadata(firstPage string, logs *logCollector) *Metadata {
	accountRef := "UNKNOWN"
	if m := hdfcAccountRe.FindStringSubmatch(firstPage); m != nil {
		accountRef = m[1]
	}

	periodStart, periodEnd := today(), today()
	if m := hdfcPeriodRe.FindStringSubmatch(firstPage); m != nil {
		start, okStart := parseDate(m[1], hdfcDateLayouts)
		end, okEnd := parseDate(m[2], hdfcDateLayouts)
		if okStart && okEnd {
			periodStart, periodEnd = start, end
		} else {
			logs.logf(statement.LogLevelWarn, "could not parse HDFC statement period %q to %q", m[1], m[2])
		}
	} else {
		logs.logf(statement.LogLevelWarn, "no statement period found, defaulting to current date")
	}

	return &Metadata{
		SourceType:  statement.SourceTypeBank,
		SourceName:  "HDFC",
		AccountRef:  accountRef,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
}

func (p *HDFCParser) extractTransactions(pages []extract.Page, logs *logCollector) []RawTransaction {
	var rows []RawTransaction

	for _, page := range pages {
		lines := strings.Split(page.Text, "\n")
		i := 0
		for i < len(lines) {
			line := strings.TrimSpace(lines[i])
			if line == "" || len(line) < 10 {
				i++
				continue
			}

			m := hdfcLineRe.FindStringSubmatch(line)
			if m == nil {
				i++
				continue
			}

			date, ok := parseDate(m[1], hdfcDateLayouts)
			if !ok {
				logs.logf(statement.LogLevelWarn, "could not parse HDFC date: %s", m[1])
				date = today()
			}

			description := strings.TrimSpace(m[2])
			debit, credit := inferDebitCredit(parseAmount(m[3]), parseAmount(m[4]))

			// Lines that don't open with a new date continue the description.
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if next == "" || hdfcDatePrefixRe.MatchString(next) {
					break
				}
				description += " " + next
				i++
			}

			rows = append(rows, RawTransaction{
				Date:        date,
				Description: description,
				Debit:       debit,
				Credit:      credit,
				Balance:     nullableAmount(m[5]),
				Currency:    "INR",
				RawLine:     line,
			})
		}
	}

	return dedupeRows(rows)
}
