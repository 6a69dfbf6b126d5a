package usecase

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

// CompletionAggregator shapes successful results into persistence records.
type CompletionAggregator struct {
	now   func() time.Time
	newID func() string
}

func NewCompletionAggregator() *CompletionAggregator {
	return &CompletionAggregator{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// BuildPayload keeps the successful results, ordered by entry id (enqueue
// order for time-ordered ids). It refuses an empty submission.
func (a *CompletionAggregator) BuildPayload(results map[string]domain.StructuredResult) ([]domain.DocumentRecord, error) {
	ids := make([]string, 0, len(results))
	for id, r := range results {
		if r.Success {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrNothingToSubmit, "build payload", errors.New("no successful extractions"))
	}
	sort.Strings(ids)

	processedAt := a.now().UTC()
	records := make([]domain.DocumentRecord, 0, len(ids))
	for _, id := range ids {
		r := results[id]
		record := domain.DocumentRecord{
			ID:            a.newID(),
			EntryID:       id,
			FileName:      r.FileName,
			MimeType:      r.MimeType,
			ExtractedText: r.ExtractedText,
			EngineID:      r.EngineID,
			ModelID:       r.ModelID,
			ProcessedAt:   processedAt,
			CreatedAt:     processedAt,
		}
		if r.StructuringSucceeded {
			record.StructuredPayload = r.StructuredPayload
		}
		records = append(records, record)
	}
	return records, nil
}
