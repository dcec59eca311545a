package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"go-rag-pipeline/rag"
)

// ReadPDF extracts plain text page by page. Pages without text are kept out
// of the document but page numbers stay those of the file.
func ReadPDF(r io.ReaderAt, size int64, source string) (doc rag.Document, err error) {
	// the pdf package panics on some malformed files
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return rag.Document{}, fmt.Errorf("failed to open pdf: %w", err)
	}

	doc = rag.Document{Source: source}
	fonts := make(map[string]*pdf.Font)

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}

		text, err := page.GetPlainText(fonts)
		if err != nil {
			return rag.Document{}, fmt.Errorf("failed to read text of page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		doc.Pages = append(doc.Pages, rag.Page{Number: i, Text: text})
	}

	if len(doc.Pages) == 0 {
		return rag.Document{}, fmt.Errorf("no text extracted from pdf")
	}
	return doc, nil
}
