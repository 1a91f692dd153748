package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fintrackhq/fintrack/internal/statement"
)

// minPageTextLen is the threshold below which a page is considered low-yield
// and handed to OCR (when enabled).
const minPageTextLen = 50

// Page is one page of extracted text
type Page struct {
	Number int
	Text   string
}

// backend is a single text-extraction strategy. Backends are tried in order;
// the first one that produces any pages wins. They are never merged.
type backend struct {
	name    string
	extract func(path string) ([]Page, error)
}

// Extractor turns a statement document into per-page text, with an
// image-based OCR fallback for low-yield pages.
type Extractor struct {
	ocrEnabled bool
	backends   []backend
	ocrPage    func(ctx context.Context, path string, pageNum int) (string, error)
}

// NewExtractor creates an extractor with the default backend chain:
// structured PDF extraction, then pdftotext (layout-preserving), then a
// plain-text salvage pass.
func NewExtractor(ocrEnabled bool) *Extractor {
	return &Extractor{
		ocrEnabled: ocrEnabled,
		backends: []backend{
			{name: "pdflib", extract: extractWithLibrary},
			{name: "pdftotext", extract: extractWithPdftotext},
			{name: "plaintext", extract: extractPlainText},
		},
		ocrPage: ocrPage,
	}
}

// Extract produces one text entry per page of the document, plus the audit
// log entries collected along the way. If every backend fails, the page
// slice is empty and the logs end with an ERROR entry; the error return is
// reserved for context cancellation.
func (e *Extractor) Extract(ctx context.Context, path string) ([]Page, []statement.LogEntry, error) {
	var logs []statement.LogEntry

	var pages []Page
	var used string
	for _, b := range e.backends {
		if err := ctx.Err(); err != nil {
			return nil, logs, err
		}

		extracted, err := b.extract(path)
		if err != nil {
			logs = append(logs, logEntry(statement.LogLevelWarn,
				"%s extraction failed: %v", b.name, err))
			continue
		}
		if len(extracted) == 0 {
			logs = append(logs, logEntry(statement.LogLevelWarn,
				"%s extraction produced no pages", b.name))
			continue
		}
		pages = extracted
		used = b.name
		break
	}

	if pages == nil {
		logs = append(logs, logEntry(statement.LogLevelError,
			"all extraction backends failed for %s", path))
		return nil, logs, nil
	}

	logs = append(logs, logEntry(statement.LogLevelInfo,
		"extracted text via %s (%d pages)", used, len(pages)))

	if e.ocrEnabled {
		pages, logs = e.ocrLowYieldPages(ctx, path, pages, logs)
	}

	return pages, logs, nil
}

// ocrLowYieldPages re-extracts pages whose text is below the threshold by
// rendering them to an image and running OCR. A failed OCR attempt keeps the
// original (possibly empty) text; it never aborts the document.
func (e *Extractor) ocrLowYieldPages(ctx context.Context, path string, pages []Page, logs []statement.LogEntry) ([]Page, []statement.LogEntry) {
	for i, p := range pages {
		if len(strings.TrimSpace(p.Text)) >= minPageTextLen {
			continue
		}
		if err := ctx.Err(); err != nil {
			return pages, logs
		}

		text, err := e.ocrPage(ctx, path, p.Number)
		if err != nil {
			logs = append(logs, logEntry(statement.LogLevelWarn,
				"OCR failed for page %d: %v", p.Number, err))
			continue
		}
		pages[i].Text = text
		logs = append(logs, logEntry(statement.LogLevelInfo,
			"OCR page %d: extracted %d chars", p.Number, len(text)))
	}
	return pages, logs
}

func logEntry(level statement.LogLevel, format string, args ...interface{}) statement.LogEntry {
	return statement.LogEntry{
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}
}
