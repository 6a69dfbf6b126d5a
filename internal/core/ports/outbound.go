package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

// ExtractionEngine turns one document into plain text through an external
// vision/OCR service.
type ExtractionEngine interface {
	ID() string
	Model() string
	// Configured reports whether the engine has the credential it needs. It
	// never performs a network call.
	Configured() bool
	Accepts(mimeType string) bool
	Extract(ctx context.Context, doc EngineDocument) (domain.EngineOutput, error)
}

// EngineDocument is the fully read payload handed to an engine.
type EngineDocument struct {
	Name     string
	MimeType string
	Data     []byte
}

// TextStructurer converts extracted text into a structured JSON payload.
type TextStructurer interface {
	Provider() string
	Configured() bool
	Structure(ctx context.Context, text string) (domain.StructuringOutput, error)
}

// RecordRepository persists aggregated document records.
type RecordRepository interface {
	SaveRecords(ctx context.Context, records []domain.DocumentRecord) error
	GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.DocumentRecord, int, error)
	SaveStructuredPayload(ctx context.Context, id string, payload json.RawMessage, modelID string) error
}

// ObjectStorage stores staged upload payloads.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes record events.
type MessageQueue interface {
	PublishRecordSaved(ctx context.Context, recordID string) error
	SubscribeRecordSaved(ctx context.Context, handler func(context.Context, string) error) error
}

// RecordExporter renders records into a downloadable workbook.
type RecordExporter interface {
	ExportRecords(ctx context.Context, records []domain.DocumentRecord) ([]byte, error)
}

// PageCounter reports the number of pages of a paged document, 0 when unknown.
type PageCounter interface {
	CountPages(data []byte, mimeType string) (int, error)
}

// PipelineObserver receives pipeline measurements.
type PipelineObserver interface {
	ObserveExtraction(engine string, success bool, duration time.Duration)
	ObserveStructuring(provider string, success bool)
	ObserveRecordsSaved(count int, err error)
}
