// Package extract converts uploaded PDF bytes into ordered page texts.
package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"notebook/internal/models"
)

type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract returns one entry per page, in page order. Pages whose text
// cannot be decoded are returned with empty text rather than aborting
// the whole document; a parse failure of the file itself is an error.
func (e *PDFExtractor) Extract(data []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]models.Page, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, models.Page{Number: i})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, models.Page{Number: i})
			continue
		}

		pages = append(pages, models.Page{Number: i, Text: text})
	}

	return pages, nil
}
