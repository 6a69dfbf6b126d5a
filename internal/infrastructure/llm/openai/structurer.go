package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/llm"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
)

const (
	Provider = "openai"

	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// StatusError is a non-2xx chat/completions answer.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai status %d", e.StatusCode)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Structurer turns extracted text into a structured document with a
// json_object chat completion.
type Structurer struct {
	cfg        Config
	httpClient *http.Client
	exec       *resilience.Executor
	log        *slog.Logger
}

func NewStructurer(cfg Config, exec *resilience.Executor, logger *slog.Logger) *Structurer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig().SingleAttempt())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Structurer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		exec:       exec,
		log:        logger,
	}
}

func (s *Structurer) Provider() string { return Provider }

func (s *Structurer) Configured() bool {
	return strings.TrimSpace(s.cfg.APIKey) != ""
}

func (s *Structurer) Structure(ctx context.Context, text string) (domain.StructuringOutput, error) {
	if !s.Configured() {
		return domain.StructuringOutput{}, domain.WrapError(domain.ErrNotConfigured, "openai structure", errors.New("OPENAI_API_KEY is empty"))
	}

	rid := uuid.NewString()
	start := time.Now()
	s.log.Info("llm.structure.start", "req_id", rid, "model", s.cfg.Model, "text_len", len(text))

	body := map[string]any{
		"model":           s.cfg.Model,
		"temperature":     s.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.SystemInstruction},
			{"role": "user", "content": "Document text:\n" + llm.Snippet(text)},
		},
	}

	var raw []byte
	err := s.exec.Execute(ctx, "llm.openai.structure", func(ctx context.Context) error {
		b, err := s.post(ctx, s.cfg.BaseURL+"/chat/completions", body)
		if err != nil {
			return err
		}
		raw = b
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		s.log.Error("llm.structure.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return domain.StructuringOutput{}, err
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return domain.StructuringOutput{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return domain.StructuringOutput{}, errors.New("no choices in openai response")
	}

	payload, err := llm.CompactPayload(cc.Choices[0].Message.Content)
	if err != nil {
		s.log.Error("llm.structure.schema_validation_failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return domain.StructuringOutput{}, err
	}

	model := cc.Model
	if model == "" {
		model = s.cfg.Model
	}
	s.log.Info("llm.structure.done", "req_id", rid, "model", model, "bytes", len(payload), "elapsed_ms", time.Since(start).Milliseconds())
	return domain.StructuringOutput{Payload: payload, ModelID: model}, nil
}

func (s *Structurer) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
