package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

func TestExtractionClientSuccess(t *testing.T) {
	engine := newEngineFake()
	observer := &observerFake{}
	client := NewExtractionClient(engine, observer, nil)

	result, err := client.Extract(context.Background(), fileInputFromBytes("r.jpg", "image/jpeg", []byte("pixels")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !result.Success || result.Error != "" {
		t.Fatalf("result = %+v", result)
	}
	if result.ExtractedText != "text of r.jpg: pixels" {
		t.Fatalf("text = %q", result.ExtractedText)
	}
	if result.FileName != "r.jpg" || result.FileSizeBytes != 6 || result.MimeType != "image/jpeg" {
		t.Fatalf("file fields = %+v", result)
	}
	if result.EngineID != "fake-ocr" || result.ModelID != "fake-model-1" {
		t.Fatalf("engine fields = %s/%s", result.EngineID, result.ModelID)
	}
	if len(observer.extractions) != 1 || !observer.extractions[0] {
		t.Fatalf("observer = %+v", observer.extractions)
	}
}

func TestExtractionClientEngineFailure(t *testing.T) {
	engine := newEngineFake()
	engine.failFor["r.png"] = errors.New("vision service error (status 500): boom")
	client := NewExtractionClient(engine, nil, nil)

	result, err := client.Extract(context.Background(), fileInputFromBytes("r.png", "image/png", []byte("x")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Success || result.ExtractedText != "" {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Error, "boom") {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestExtractionClientUnavailableEngineGetsClearMessage(t *testing.T) {
	engine := newEngineFake()
	engine.failFor["r.png"] = domain.WrapError(domain.ErrUnavailable, "ocr.fake.extract", errors.New("circuit breaker is open"))
	client := NewExtractionClient(engine, nil, nil)

	result, err := client.Extract(context.Background(), fileInputFromBytes("r.png", "image/png", []byte("x")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Error != "fake-ocr extraction service temporarily unavailable, try again shortly" {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestExtractionClientUnsupportedTypeMakesNoCall(t *testing.T) {
	engine := newEngineFake()
	client := NewExtractionClient(engine, nil, nil)

	result, err := client.Extract(context.Background(), fileInputFromBytes("a.txt", "text/plain", []byte("x")))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Success || result.Error != "unsupported file type: text/plain" {
		t.Fatalf("result = %+v", result)
	}
	if engine.callCount() != 0 {
		t.Fatalf("engine calls = %d, want 0", engine.callCount())
	}

	result, _ = client.Extract(context.Background(), fileInputFromBytes("blob", "", []byte("x")))
	if result.Error != "unsupported file type: unknown" {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestExtractionClientNotConfigured(t *testing.T) {
	engine := newEngineFake()
	engine.configured = false
	client := NewExtractionClient(engine, nil, nil)

	_, err := client.Extract(context.Background(), fileInputFromBytes("r.jpg", "image/jpeg", []byte("x")))
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if engine.callCount() != 0 {
		t.Fatalf("engine calls = %d, want 0", engine.callCount())
	}

	var nilClient = NewExtractionClient(nil, nil, nil)
	if nilClient.Configured() || nilClient.Accepts("image/jpeg") || nilClient.EngineID() != "" {
		t.Fatalf("nil engine client reports capabilities")
	}
}

func TestExtractionClientPayloadReadFailure(t *testing.T) {
	client := NewExtractionClient(newEngineFake(), nil, nil)
	file := domain.FileInput{
		Name:     "r.jpg",
		MimeType: "image/jpeg",
		Open: func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("gone")
		},
	}

	result, err := client.Extract(context.Background(), file)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "gone") {
		t.Fatalf("result = %+v", result)
	}

	file.Open = nil
	result, _ = client.Extract(context.Background(), file)
	if result.Error != "file payload is not available" {
		t.Fatalf("error = %q", result.Error)
	}
}
