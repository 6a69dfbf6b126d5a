package pdfinfo

import (
	"bytes"
	"fmt"
	"testing"
)

// minimalPDF builds a valid PDF with the given number of empty pages.
func minimalPDF(pages int) []byte {
	var objects []string
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages),
	)
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestCountPages(t *testing.T) {
	counter := NewCounter()

	pages, err := counter.CountPages(minimalPDF(3), "application/pdf")
	if err != nil {
		t.Fatalf("CountPages() error = %v", err)
	}
	if pages != 3 {
		t.Fatalf("pages = %d, want 3", pages)
	}
}

func TestCountPagesIgnoresImages(t *testing.T) {
	pages, err := NewCounter().CountPages([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	if err != nil || pages != 0 {
		t.Fatalf("CountPages(jpeg) = %d, %v", pages, err)
	}
}

func TestCountPagesRejectsGarbage(t *testing.T) {
	pages, err := NewCounter().CountPages([]byte("definitely not a pdf"), "application/pdf")
	if err == nil {
		t.Fatalf("expected error for garbage input")
	}
	if pages != 0 {
		t.Fatalf("pages = %d", pages)
	}
}
