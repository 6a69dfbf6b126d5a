package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

// CompleteUseCase hands a session's successful results to the record store
// and announces each saved record.
type CompleteUseCase struct {
	aggregator *CompletionAggregator
	repo       ports.RecordRepository
	queue      ports.MessageQueue
	observer   ports.PipelineObserver
	logger     *slog.Logger
}

func NewCompleteUseCase(
	aggregator *CompletionAggregator,
	repo ports.RecordRepository,
	queue ports.MessageQueue,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *CompleteUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompleteUseCase{
		aggregator: aggregator,
		repo:       repo,
		queue:      queue,
		observer:   observer,
		logger:     logger,
	}
}

// Complete leaves the session untouched on failure so the caller can retry
// without extracting again. After a successful save the session is reset, so
// a repeated call finds nothing to submit.
func (uc *CompleteUseCase) Complete(ctx context.Context, session *QueueManager) ([]domain.DocumentRecord, error) {
	session.submitMu.Lock()
	defer session.submitMu.Unlock()

	records, err := uc.aggregator.BuildPayload(session.Results())
	if err != nil {
		session.setLastError("no successfully processed files to submit")
		return nil, err
	}

	err = uc.repo.SaveRecords(ctx, records)
	if uc.observer != nil {
		uc.observer.ObserveRecordsSaved(len(records), err)
	}
	if err != nil {
		session.setLastError("failed to save documents: " + err.Error())
		return nil, domain.WrapError(domain.ErrPersistence, "complete session", fmt.Errorf("save records: %w", err))
	}

	session.Reset(ctx)
	uc.announce(ctx, records)
	uc.logger.Info("session.complete.ok", "session_id", session.ID(), "records", len(records))
	return records, nil
}

func (uc *CompleteUseCase) announce(ctx context.Context, records []domain.DocumentRecord) {
	if uc.queue == nil {
		return
	}
	for _, record := range records {
		if err := uc.queue.PublishRecordSaved(ctx, record.ID); err != nil {
			uc.logger.Warn("session.complete.publish_failed", "record_id", record.ID, "error", err)
		}
	}
}
