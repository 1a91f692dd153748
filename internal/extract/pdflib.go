package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractWithLibrary reads the PDF with the structured-text library. Rows are
// reconstructed per page to keep amounts on the same line as their
// description, which the line-oriented parsers depend on.
func extractWithLibrary(path string) (pages []Page, err error) {
	// The library panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf library crashed: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}

		text := pageTextByRow(page)
		if text == "" {
			// Row grouping found nothing; fall back to the plain-text path
			// for this page.
			if plain, perr := page.GetPlainText(nil); perr == nil {
				text = plain
			}
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	return pages, nil
}

func pageTextByRow(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err != nil {
		return ""
	}

	var lines []string
	for _, row := range rows {
		var parts []string
		for _, word := range row.Content {
			parts = append(parts, word.S)
		}
		line := strings.TrimSpace(strings.Join(parts, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
