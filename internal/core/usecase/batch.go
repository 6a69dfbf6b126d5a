package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

const DefaultBatchDelay = time.Second

const errSkippedNotPending = "skipped: entry is no longer pending"

type fileExtractor interface {
	Extract(ctx context.Context, file domain.FileInput) (domain.ExtractionResult, error)
}

// BatchHooks observe a batch as it moves. Both are optional. OnStart may veto
// a file by returning false; the file then gets a skipped result and no call.
type BatchHooks struct {
	OnStart  func(index int) bool
	OnResult func(index int, result domain.ExtractionResult)
}

// BatchCoordinator runs extraction strictly sequentially, pausing a fixed
// delay between consecutive calls.
type BatchCoordinator struct {
	extractor fileExtractor
	delay     time.Duration
	wait      func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

func NewBatchCoordinator(extractor fileExtractor, delay time.Duration, logger *slog.Logger) *BatchCoordinator {
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchCoordinator{
		extractor: extractor,
		delay:     delay,
		wait:      sleepContext,
		logger:    logger,
	}
}

// ProcessBatch returns one result per input file, in input order. A failed
// file never stops the batch; only context cancellation does, in which case
// the results gathered so far are returned with the context error.
func (b *BatchCoordinator) ProcessBatch(ctx context.Context, files []domain.FileInput, hooks BatchHooks) ([]domain.ExtractionResult, error) {
	results := make([]domain.ExtractionResult, 0, len(files))
	called := false
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		// Wait before OnStart: every started file reaches OnResult.
		if called && b.delay > 0 {
			if err := b.wait(ctx, b.delay); err != nil {
				return results, err
			}
		}
		called = false

		if hooks.OnStart != nil && !hooks.OnStart(i) {
			results = append(results, failedResult(file, errSkippedNotPending))
			continue
		}
		called = true

		result, err := b.extractor.Extract(ctx, file)
		if err != nil {
			result = failedResult(file, err.Error())
		}
		results = append(results, result)

		if hooks.OnResult != nil {
			hooks.OnResult(i, result)
		}
	}

	b.logger.Info("ocr.batch.done", "files", len(files), "failed", countFailed(results))
	return results, nil
}

func failedResult(file domain.FileInput, reason string) domain.ExtractionResult {
	return domain.ExtractionResult{
		FileName:      file.Name,
		FileSizeBytes: file.SizeBytes,
		MimeType:      file.MimeType,
		Error:         reason,
	}
}

func countFailed(results []domain.ExtractionResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
