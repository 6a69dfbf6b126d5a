package domain

import (
	"encoding/json"
	"time"
)

// DocumentRecord is the backend-ready shape of one successful extraction.
type DocumentRecord struct {
	ID                string          `json:"id"`
	EntryID           string          `json:"entry_id"`
	FileName          string          `json:"file_name"`
	MimeType          string          `json:"mime_type"`
	ExtractedText     string          `json:"extracted_text"`
	StructuredPayload json.RawMessage `json:"structured_payload,omitempty"`
	EngineID          string          `json:"engine_id"`
	ModelID           string          `json:"model_id"`
	// StructuringModel is set when the payload was added after saving.
	StructuringModel string    `json:"structuring_model,omitempty"`
	ProcessedAt      time.Time `json:"processed_at"`
	CreatedAt        time.Time `json:"created_at"`
}

type RecordPage struct {
	Records []DocumentRecord `json:"records"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}
