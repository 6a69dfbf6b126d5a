package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

// EnrichRecordUseCase structures saved records that were persisted without a
// structured payload.
type EnrichRecordUseCase struct {
	repo       ports.RecordRepository
	structurer ports.TextStructurer
	observer   ports.PipelineObserver
	logger     *slog.Logger
}

func NewEnrichRecordUseCase(
	repo ports.RecordRepository,
	structurer ports.TextStructurer,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *EnrichRecordUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrichRecordUseCase{
		repo:       repo,
		structurer: structurer,
		observer:   observer,
		logger:     logger,
	}
}

func (uc *EnrichRecordUseCase) EnrichByID(ctx context.Context, recordID string) error {
	record, err := uc.repo.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("fetch record by id: %w", err)
	}
	if len(record.StructuredPayload) > 0 {
		uc.logger.Info("record.enrich.skipped", "record_id", recordID, "reason", "already structured")
		return nil
	}
	if strings.TrimSpace(record.ExtractedText) == "" {
		uc.logger.Info("record.enrich.skipped", "record_id", recordID, "reason", "empty text")
		return nil
	}
	if uc.structurer == nil || !uc.structurer.Configured() {
		return domain.WrapError(domain.ErrNotConfigured, "enrich record", errors.New("structuring service not configured"))
	}

	out, err := uc.structurer.Structure(ctx, record.ExtractedText)
	if uc.observer != nil {
		uc.observer.ObserveStructuring(uc.structurer.Provider(), err == nil)
	}
	if err != nil {
		return fmt.Errorf("structure record text: %w", err)
	}

	if err := uc.repo.SaveStructuredPayload(ctx, recordID, out.Payload, out.ModelID); err != nil {
		return fmt.Errorf("save structured payload: %w", err)
	}
	uc.logger.Info("record.enrich.ok", "record_id", recordID, "model", out.ModelID)
	return nil
}
