package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
)

const (
	VisionEngineID = "vision"

	defaultVisionBaseURL = "https://api.openai.com/v1"
	defaultVisionModel   = "gpt-4o-mini"

	visionInstruction = "Extract all text from this document image. " +
		"Preserve the original structure, line breaks and table layout. " +
		"Return only the extracted text without commentary."
)

var visionMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type VisionConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// VisionEngine sends an image to an OpenAI-compatible chat/completions
// endpoint as a base64 data URL.
type VisionEngine struct {
	cfg        VisionConfig
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger
}

func NewVisionEngine(cfg VisionConfig, exec *resilience.Executor, logger *slog.Logger) *VisionEngine {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultVisionBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultVisionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig().SingleAttempt())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		exec:       exec,
		logger:     logger,
	}
}

func (e *VisionEngine) ID() string    { return VisionEngineID }
func (e *VisionEngine) Model() string { return e.cfg.Model }

func (e *VisionEngine) Configured() bool {
	return strings.TrimSpace(e.cfg.APIKey) != ""
}

func (e *VisionEngine) Accepts(mimeType string) bool {
	return visionMimeTypes[mimeType]
}

func (e *VisionEngine) Extract(ctx context.Context, doc ports.EngineDocument) (domain.EngineOutput, error) {
	if !e.Configured() {
		return domain.EngineOutput{}, domain.WrapError(domain.ErrNotConfigured, "vision extract", errors.New("OPENAI_API_KEY is empty"))
	}

	var out domain.EngineOutput
	err := e.exec.Execute(ctx, "ocr.vision.extract", func(ctx context.Context) error {
		res, err := e.complete(ctx, doc)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return domain.EngineOutput{}, err
	}
	return out, nil
}

type visionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (e *VisionEngine) complete(ctx context.Context, doc ports.EngineDocument) (domain.EngineOutput, error) {
	dataURL := "data:" + doc.MimeType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
	body := map[string]any{
		"model":       e.cfg.Model,
		"temperature": 0,
		"max_tokens":  e.cfg.MaxTokens,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": visionInstruction},
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.EngineOutput{}, fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.EngineOutput{}, fmt.Errorf("create vision request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return domain.EngineOutput{}, fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		svcErr := newServiceError(VisionEngineID, resp)
		e.logger.Warn("ocr.vision.http_error", "file", doc.Name, "status", resp.StatusCode, "error", svcErr)
		return domain.EngineOutput{}, svcErr
	}

	var decoded visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.EngineOutput{}, fmt.Errorf("decode vision response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return domain.EngineOutput{}, errors.New("no choices in vision response")
	}

	model := decoded.Model
	if model == "" {
		model = e.cfg.Model
	}
	text := Normalize(decoded.Choices[0].Message.Content)
	e.logger.Debug("ocr.vision.ok", "file", doc.Name, "model", model, "text_len", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return domain.EngineOutput{Text: text, ModelID: model}, nil
}
