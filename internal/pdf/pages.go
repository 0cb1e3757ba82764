// Package pdfutil reads descriptive metadata out of uploaded PDFs.
package pdfutil

import (
	"fmt"
	"io"
	"os"

	pdf "github.com/ledongthuc/pdf"
)

// MimeType is the only content type PageCount is attempted for.
const MimeType = "application/pdf"

// PageCount opens the PDF at path and returns its number of pages.
func PageCount(path string) (n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat pdf: %w", err)
	}
	return PageCountReader(f, info.Size())
}

// PageCountReader parses the document from r. The parser panics on some
// malformed inputs, so a panic is turned into an error.
func PageCountReader(r io.ReaderAt, size int64) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("parse pdf: %v", rec)
		}
	}()
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}
