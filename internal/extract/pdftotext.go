package extract

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode"
)

// extractWithPdftotext shells out to pdftotext (poppler-utils) with layout
// preservation. Pages come back separated by form feeds.
func extractWithPdftotext(path string) ([]Page, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not available: %w", err)
	}

	out, err := exec.Command("pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}

	var pages []Page
	for i, chunk := range strings.Split(string(out), "\f") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: chunk})
	}
	return pages, nil
}

// extractPlainText is the last-resort backend: it salvages documents that are
// actually text (exports saved with a .pdf name, plain-text statements). It
// refuses binary content rather than feeding garbage to the parsers.
func extractPlainText(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := string(data)
	if !isMostlyPrintable(text) {
		return nil, fmt.Errorf("content is not plain text")
	}

	var pages []Page
	for i, chunk := range strings.Split(text, "\f") {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: chunk})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text content")
	}
	return pages, nil
}

func isMostlyPrintable(s string) bool {
	if len(s) == 0 {
		return false
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable)/float64(total) > 0.95
}
