package xlsx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

const (
	sheetName = "Records"
	// Excel refuses cells longer than 32767 characters.
	maxCellRunes = 32000
)

var headers = []string{
	"Record ID",
	"File Name",
	"MIME Type",
	"Engine",
	"Model",
	"Document Type",
	"Processed At",
	"Extracted Text",
	"Structured Payload",
}

// Exporter renders document records into an XLSX workbook.
type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

func (e *Exporter) ExportRecords(_ context.Context, records []domain.DocumentRecord) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	row := 2
	for _, rec := range records {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, rec.ID)
		write(2, rec.FileName)
		write(3, rec.MimeType)
		write(4, rec.EngineID)
		write(5, rec.ModelID)
		write(6, documentType(rec.StructuredPayload))
		write(7, rec.ProcessedAt.UTC().Format(time.RFC3339))
		write(8, truncate(rec.ExtractedText, maxCellRunes))
		write(9, truncate(string(rec.StructuredPayload), maxCellRunes))
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "C", "F", 16)
	_ = f.SetColWidth(sheetName, "G", "G", 22)
	_ = f.SetColWidth(sheetName, "H", "I", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("export.xlsx.ok", "rows", len(records), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func documentType(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var doc struct {
		DocumentType string `json:"document_type"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	return doc.DocumentType
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
