package ports

import (
	"context"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

// RecordReader is the inbound read model for persisted records.
type RecordReader interface {
	GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.DocumentRecord, int, error)
}

// RecordEnricher is the inbound contract for asynchronous record structuring.
type RecordEnricher interface {
	EnrichByID(ctx context.Context, recordID string) error
}
