package pdfinfo

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// Counter reads the page count from a PDF's page tree. Other mime types
// report 0 pages.
type Counter struct{}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) CountPages(data []byte, mimeType string) (pages int, err error) {
	if mimeType != "application/pdf" || len(data) == 0 {
		return 0, nil
	}
	// the reader panics on some malformed trailers
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return reader.NumPage(), nil
}
