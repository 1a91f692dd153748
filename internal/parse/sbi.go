package parse

import (
	"regexp"
	"strings"

	"github.com/fintrackhq/fintrack/internal/extract"
	"github.com/fintrackhq/fintrack/internal/statement"
)

var (
	sbiAccountRe = regexp.MustCompile(`(?i)(\*{5}\d{4}|[A-Z0-9]{10,})`)
	sbiPeriodRe  = regexp.MustCompile(`(?i)(\d{1,2}[-/]` + monthNames + `[A-Za-z]*[-/]\d{4})\s+to\s+(\d{1,2}[-/]` + monthNames + `[A-Za-z]*[-/]\d{4})`)
	sbiLineRe    = regexp.MustCompile(`(?i)^(\d{1,2}[-/]` + monthNames + `[A-Za-z]*[-/]\d{4})\s+(.+?)\s+([\d,]+\.?\d*)\s+([\d,]+\.?\d*)\s+([\d,]+\.?\d*)$`)
)

var sbiDateLayouts = []string{
	"2-Jan-2006",
	"2-January-2006",
	"2/01/2006",
	"2-01-2006",
	"2-01-06",
}

// SBIParser parses SBI bank statements: explicit debit, credit and balance
// columns on every transaction line.
type SBIParser struct{}

func (p *SBIParser) Format() Format { return FormatSBI }

func (p *SBIParser) Parse(pages []extract.Page) (*Metadata, []RawTransaction, []statement.LogEntry) {
	logs := &logCollector{}

	if len(pages) == 0 {
		logs.logf(statement.LogLevelError, "could not extract statement metadata")
		return nil, nil, logs.entries
	}

	meta := p.extractMetadata(pages[0].Text, logs)
	rows := p.extractTransactions(pages, logs)

	meta.ParseStatus = statusFor(rows)
	logs.logf(statement.LogLevelInfo, "parsed %d transactions from SBI statement", len(rows))
	return meta, rows, logs.entries
}

func (p *SBIParser) extractMetadata(firstPage string, logs *logCollector) *Metadata {
	accountRef := "UNKNOWN"
	if m := sbiAccountRe.FindStringSubmatch(firstPage); m != nil {
		accountRef = m[1]
	}

	periodStart, periodEnd := today(), today()
	if m := sbiPeriodRe.FindStringSubmatch(firstPage); m != nil {
		start, okStart := parseDate(m[1], sbiDateLayouts)
		end, okEnd := parseDate(m[2], sbiDateLayouts)
		if okStart && okEnd {
			periodStart, periodEnd = start, end
		} else {
			logs.logf(statement.LogLevelWarn, "could not parse SBI statement period %q to %q", m[1], m[2])
		}
	} else {
		logs.logf(statement.LogLevelWarn, "no statement period found, defaulting to current date")
	}

	return &Metadata{
		SourceType:  statement.SourceTypeBank,
		SourceName:  "SBI",
		AccountRef:  accountRef,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
}

func (p *SBIParser) extractTransactions(pages []extract.Page, logs *logCollector) []RawTransaction {
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

			m := sbiLineRe.FindStringSubmatch(line)
			if m == nil {
				i++
				continue
			}

			date, ok := parseDate(m[1], sbiDateLayouts)
			if !ok {
				logs.logf(statement.LogLevelWarn, "could not parse SBI date: %s", m[1])
				date = today()
			}

			description := strings.TrimSpace(m[2])
			debit := nullableAmount(m[3])
			credit := nullableAmount(m[4])
			if debit != nil && credit != nil {
				// Both columns nonzero on one line; the debit takes precedence.
				credit = nil
			}

			// Continuation lines extend the description until a blank line or
			// the next transaction line.
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if next == "" || sbiLineRe.MatchString(next) {
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
