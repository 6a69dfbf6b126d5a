package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

// ExtractionClient runs one engine over one file and normalizes every outcome
// into an ExtractionResult. Only a missing credential is returned as an error.
type ExtractionClient struct {
	engine   ports.ExtractionEngine
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewExtractionClient(engine ports.ExtractionEngine, observer ports.PipelineObserver, logger *slog.Logger) *ExtractionClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionClient{
		engine:   engine,
		observer: observer,
		logger:   logger,
	}
}

func (c *ExtractionClient) Configured() bool {
	return c.engine != nil && c.engine.Configured()
}

func (c *ExtractionClient) Accepts(mimeType string) bool {
	return c.engine != nil && c.engine.Accepts(mimeType)
}

func (c *ExtractionClient) EngineID() string {
	if c.engine == nil {
		return ""
	}
	return c.engine.ID()
}

func (c *ExtractionClient) ModelID() string {
	if c.engine == nil {
		return ""
	}
	return c.engine.Model()
}

func (c *ExtractionClient) Extract(ctx context.Context, file domain.FileInput) (domain.ExtractionResult, error) {
	if !c.Configured() {
		return domain.ExtractionResult{}, domain.WrapError(
			domain.ErrNotConfigured,
			"extract",
			fmt.Errorf("extraction engine %q has no credential", c.EngineID()),
		)
	}

	result := domain.ExtractionResult{
		FileName:      file.Name,
		FileSizeBytes: file.SizeBytes,
		MimeType:      file.MimeType,
		EngineID:      c.engine.ID(),
		ModelID:       c.engine.Model(),
	}

	if !c.engine.Accepts(file.MimeType) {
		result.Error = fmt.Sprintf("unsupported file type: %s", displayMime(file.MimeType))
		c.logger.Warn("ocr.extract.unsupported_type", "file", file.Name, "mime_type", file.MimeType, "engine", result.EngineID)
		return result, nil
	}

	start := time.Now()
	data, err := readFileInput(ctx, file)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		c.finish(result)
		return result, nil
	}

	out, err := c.engine.Extract(ctx, ports.EngineDocument{
		Name:     file.Name,
		MimeType: file.MimeType,
		Data:     data,
	})
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		if domain.IsKind(err, domain.ErrUnavailable) {
			// The engine's breaker is open; no call was made for this file.
			result.Error = fmt.Sprintf("%s extraction service temporarily unavailable, try again shortly", c.engine.ID())
		}
		c.finish(result)
		return result, nil
	}

	if out.ModelID != "" {
		result.ModelID = out.ModelID
	}
	result.Success = true
	result.ExtractedText = out.Text
	c.finish(result)
	return result, nil
}

func (c *ExtractionClient) finish(result domain.ExtractionResult) {
	if c.observer != nil {
		c.observer.ObserveExtraction(result.EngineID, result.Success, result.Duration)
	}
	if result.Success {
		c.logger.Info("ocr.extract.ok",
			"file", result.FileName,
			"engine", result.EngineID,
			"model", result.ModelID,
			"text_len", len(result.ExtractedText),
			"elapsed_ms", result.Duration.Milliseconds(),
		)
		return
	}
	c.logger.Warn("ocr.extract.failed",
		"file", result.FileName,
		"engine", result.EngineID,
		"error", result.Error,
		"elapsed_ms", result.Duration.Milliseconds(),
	)
}

func readFileInput(ctx context.Context, file domain.FileInput) ([]byte, error) {
	if file.Open == nil {
		return nil, errors.New("file payload is not available")
	}
	reader, err := file.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open file payload: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read file payload: %w", err)
	}
	return data, nil
}

func displayMime(mimeType string) string {
	if mimeType == "" {
		return "unknown"
	}
	return mimeType
}
