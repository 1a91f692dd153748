package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrackhq/fintrack/internal/statement"
)

func fixedBackend(name string, pages []Page, err error) backend {
	return backend{
		name: name,
		extract: func(string) ([]Page, error) {
			return pages, err
		},
	}
}

func TestExtractor_FirstWorkingBackendWins(t *testing.T) {
	e := &Extractor{
		backends: []backend{
			fixedBackend("broken", nil, errors.New("boom")),
			fixedBackend("empty", nil, nil),
			fixedBackend("good", []Page{{Number: 1, Text: "STATE BANK OF INDIA statement text with plenty of content"}}, nil),
			fixedBackend("never", []Page{{Number: 1, Text: "should not be reached"}}, nil),
		},
	}

	pages, logs, err := e.Extract(context.Background(), "statement.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Text, "STATE BANK")

	// The failures of earlier backends are recorded, not fatal.
	var warns int
	for _, entry := range logs {
		if entry.Level == statement.LogLevelWarn {
			warns++
		}
	}
	assert.Equal(t, 2, warns)
}

func TestExtractor_AllBackendsFail(t *testing.T) {
	e := &Extractor{
		backends: []backend{
			fixedBackend("a", nil, errors.New("boom")),
			fixedBackend("b", nil, nil),
		},
	}

	pages, logs, err := e.Extract(context.Background(), "statement.pdf")
	require.NoError(t, err, "backend failure is reported through logs, not the error return")
	assert.Empty(t, pages)
	require.NotEmpty(t, logs)
	assert.Equal(t, statement.LogLevelError, logs[len(logs)-1].Level)
}

func TestExtractor_OCRReplacesLowYieldPages(t *testing.T) {
	longText := "HDFC BANK statement page with enough extracted text to pass the threshold"
	e := &Extractor{
		ocrEnabled: true,
		backends: []backend{
			fixedBackend("good", []Page{
				{Number: 1, Text: longText},
				{Number: 2, Text: "   "},
			}, nil),
		},
		ocrPage: func(_ context.Context, _ string, pageNum int) (string, error) {
			assert.Equal(t, 2, pageNum)
			return "OCR recovered transaction table", nil
		},
	}

	pages, _, err := e.Extract(context.Background(), "scan.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, longText, pages[0].Text, "pages above the threshold keep their text")
	assert.Equal(t, "OCR recovered transaction table", pages[1].Text)
}

func TestExtractor_OCRFailureKeepsOriginalText(t *testing.T) {
	e := &Extractor{
		ocrEnabled: true,
		backends: []backend{
			fixedBackend("good", []Page{{Number: 1, Text: "tiny"}}, nil),
		},
		ocrPage: func(context.Context, string, int) (string, error) {
			return "", errors.New("tesseract not installed")
		},
	}

	pages, logs, err := e.Extract(context.Background(), "scan.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "tiny", pages[0].Text)

	var warned bool
	for _, entry := range logs {
		if entry.Level == statement.LogLevelWarn {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestExtractor_OCRDisabledSkipsLowYieldPages(t *testing.T) {
	e := &Extractor{
		ocrEnabled: false,
		backends: []backend{
			fixedBackend("good", []Page{{Number: 1, Text: "tiny"}}, nil),
		},
		ocrPage: func(context.Context, string, int) (string, error) {
			t.Fatal("ocr must not run when disabled")
			return "", nil
		},
	}

	pages, _, err := e.Extract(context.Background(), "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "tiny", pages[0].Text)
}

func TestExtractor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExtractor(false)
	_, _, err := e.Extract(ctx, "statement.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}
