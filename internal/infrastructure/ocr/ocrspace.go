package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
)

const (
	OCRSpaceEngineID = "ocrspace"

	defaultOCRSpaceURL      = "https://api.ocr.space"
	defaultOCRSpaceEngine   = 2
	defaultOCRSpaceMaxBytes = 1 << 20
)

var ocrSpaceMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/bmp":       true,
	"image/tiff":      true,
	"image/webp":      true,
	"application/pdf": true,
}

type OCRSpaceConfig struct {
	APIKey   string
	BaseURL  string
	Engine   int
	MaxBytes int64
	Language string
	Timeout  time.Duration
}

// OCRSpaceEngine uploads documents to the OCR.space parse endpoint.
type OCRSpaceEngine struct {
	cfg        OCRSpaceConfig
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger
}

func NewOCRSpaceEngine(cfg OCRSpaceConfig, exec *resilience.Executor, logger *slog.Logger) *OCRSpaceEngine {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultOCRSpaceURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Engine <= 0 {
		cfg.Engine = defaultOCRSpaceEngine
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultOCRSpaceMaxBytes
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig().SingleAttempt())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRSpaceEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		exec:       exec,
		logger:     logger,
	}
}

func (e *OCRSpaceEngine) ID() string { return OCRSpaceEngineID }

func (e *OCRSpaceEngine) Model() string {
	return "engine-" + strconv.Itoa(e.cfg.Engine)
}

func (e *OCRSpaceEngine) Configured() bool {
	return strings.TrimSpace(e.cfg.APIKey) != ""
}

func (e *OCRSpaceEngine) Accepts(mimeType string) bool {
	return ocrSpaceMimeTypes[mimeType]
}

func (e *OCRSpaceEngine) Extract(ctx context.Context, doc ports.EngineDocument) (domain.EngineOutput, error) {
	if !e.Configured() {
		return domain.EngineOutput{}, domain.WrapError(domain.ErrNotConfigured, "ocrspace extract", errors.New("OCRSPACE_API_KEY is empty"))
	}
	if int64(len(doc.Data)) > e.cfg.MaxBytes {
		return domain.EngineOutput{}, fmt.Errorf("file exceeds the %d KB limit of the %s engine", e.cfg.MaxBytes/1024, OCRSpaceEngineID)
	}

	var out domain.EngineOutput
	err := e.exec.Execute(ctx, "ocr.ocrspace.extract", func(ctx context.Context) error {
		res, err := e.parse(ctx, doc)
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

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText        string          `json:"ParsedText"`
		FileParseExitCode json.RawMessage `json:"FileParseExitCode"`
		ErrorMessage      json.RawMessage `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	OCRExitCode           json.RawMessage `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
	ErrorDetails          json.RawMessage `json:"ErrorDetails"`
}

func (e *OCRSpaceEngine) parse(ctx context.Context, doc ports.EngineDocument) (domain.EngineOutput, error) {
	body, contentType, err := e.multipartBody(doc)
	if err != nil {
		return domain.EngineOutput{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/parse/image", body)
	if err != nil {
		return domain.EngineOutput{}, fmt.Errorf("create ocrspace request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", e.cfg.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return domain.EngineOutput{}, fmt.Errorf("ocrspace request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		svcErr := newServiceError(OCRSpaceEngineID, resp)
		e.logger.Warn("ocr.ocrspace.http_error", "file", doc.Name, "status", resp.StatusCode, "error", svcErr)
		return domain.EngineOutput{}, svcErr
	}

	var decoded ocrSpaceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.EngineOutput{}, fmt.Errorf("decode ocrspace response: %w", err)
	}
	if decoded.IsErroredOnProcessing {
		msg := flattenMessage(decoded.ErrorMessage)
		if msg == "" {
			msg = flattenMessage(decoded.ErrorDetails)
		}
		if msg == "" {
			msg = "ocrspace failed to process the document"
		}
		return domain.EngineOutput{}, &ServiceError{Engine: OCRSpaceEngineID, StatusCode: resp.StatusCode, Message: msg}
	}

	pages := make([]string, 0, len(decoded.ParsedResults))
	for _, page := range decoded.ParsedResults {
		if msg := flattenMessage(page.ErrorMessage); msg != "" && strings.TrimSpace(page.ParsedText) == "" {
			return domain.EngineOutput{}, &ServiceError{Engine: OCRSpaceEngineID, StatusCode: resp.StatusCode, Message: msg}
		}
		pages = append(pages, page.ParsedText)
	}
	return domain.EngineOutput{
		Text:    Normalize(strings.Join(pages, "\n\n")),
		ModelID: e.Model(),
	}, nil
}

func (e *OCRSpaceEngine) multipartBody(doc ports.EngineDocument) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := map[string]string{
		"apikey":    e.cfg.APIKey,
		"language":  e.cfg.Language,
		"OCREngine": strconv.Itoa(e.cfg.Engine),
		"isTable":   "true",
		"scale":     "true",
	}
	if doc.MimeType == "application/pdf" {
		fields["filetype"] = "PDF"
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write ocrspace field %s: %w", key, err)
		}
	}

	name := doc.Name
	if name == "" {
		name = "document"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create ocrspace file part: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", fmt.Errorf("write ocrspace file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close ocrspace multipart: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// flattenMessage accepts the string, array of strings or null shapes the
// service uses for error fields.
func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		parts := make([]string, 0, len(many))
		for _, m := range many {
			if s := strings.TrimSpace(m); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
