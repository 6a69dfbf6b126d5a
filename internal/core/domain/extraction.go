package domain

import (
	"encoding/json"
	"time"
)

type ExtractionResult struct {
	FileName      string        `json:"file_name"`
	FileSizeBytes int64         `json:"file_size_bytes"`
	MimeType      string        `json:"mime_type"`
	Success       bool          `json:"success"`
	ExtractedText string        `json:"extracted_text,omitempty"`
	Error         string        `json:"error,omitempty"`
	EngineID      string        `json:"engine_id,omitempty"`
	ModelID       string        `json:"model_id,omitempty"`
	Duration      time.Duration `json:"duration_ns,omitempty"`
}

// StructuredResult is an ExtractionResult optionally enriched with a
// structured payload. The structuring fields stay zero until structuring was
// requested for the entry.
type StructuredResult struct {
	ExtractionResult
	StructuredPayload    json.RawMessage `json:"structured_payload,omitempty"`
	StructuringSucceeded bool            `json:"structuring_succeeded,omitempty"`
	StructuringError     string          `json:"structuring_error,omitempty"`
}

// StructuringAttempted reports whether structuring ran for the result.
func (r StructuredResult) StructuringAttempted() bool {
	return r.StructuringSucceeded || r.StructuringError != ""
}

// EngineOutput is what an extraction engine returns for one document.
type EngineOutput struct {
	Text    string
	ModelID string
}

// StructuringOutput is what a structurer returns for one text.
type StructuringOutput struct {
	Payload json.RawMessage
	ModelID string
}
