package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

const errStructuringNotConfigured = "structuring service not configured"

// StructuringClient enriches successful extractions. It never turns a
// successful extraction into a failure.
type StructuringClient struct {
	structurer ports.TextStructurer
	observer   ports.PipelineObserver
	logger     *slog.Logger
}

func NewStructuringClient(structurer ports.TextStructurer, observer ports.PipelineObserver, logger *slog.Logger) *StructuringClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuringClient{
		structurer: structurer,
		observer:   observer,
		logger:     logger,
	}
}

func (c *StructuringClient) Configured() bool {
	return c.structurer != nil && c.structurer.Configured()
}

func (c *StructuringClient) Provider() string {
	if c.structurer == nil {
		return ""
	}
	return c.structurer.Provider()
}

// Structure returns in unchanged when the extraction did not succeed.
func (c *StructuringClient) Structure(ctx context.Context, in domain.StructuredResult) domain.StructuredResult {
	if !in.Success {
		return in
	}

	out := domain.StructuredResult{ExtractionResult: in.ExtractionResult}
	if !c.Configured() {
		out.StructuringError = errStructuringNotConfigured
		c.observe(false)
		return out
	}

	structured, err := c.structurer.Structure(ctx, in.ExtractedText)
	if err != nil {
		out.StructuringError = err.Error()
		c.logger.Warn("llm.structure.failed", "file", in.FileName, "provider", c.Provider(), "error", err)
		c.observe(false)
		return out
	}

	out.StructuredPayload = structured.Payload
	out.StructuringSucceeded = true
	c.logger.Info("llm.structure.ok", "file", in.FileName, "provider", c.Provider(), "model", structured.ModelID, "bytes", len(structured.Payload))
	c.observe(true)
	return out
}

func (c *StructuringClient) observe(success bool) {
	if c.observer != nil {
		c.observer.ObserveStructuring(c.Provider(), success)
	}
}
