package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/llm"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
)

const Provider = "ollama"

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL, genModel string, timeout time.Duration, exec *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig().SingleAttempt())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: timeout},
		exec:       exec,
	}
}

// Structurer runs the local model in JSON mode. It needs no credential, only
// a reachable base URL.
type Structurer struct {
	client *Client
}

func NewStructurer(client *Client) *Structurer {
	return &Structurer{client: client}
}

func (s *Structurer) Provider() string { return Provider }

func (s *Structurer) Configured() bool {
	return s.client != nil && s.client.baseURL != "" && s.client.genModel != ""
}

func (s *Structurer) Structure(ctx context.Context, text string) (domain.StructuringOutput, error) {
	if !s.Configured() {
		return domain.StructuringOutput{}, domain.WrapError(domain.ErrNotConfigured, "ollama structure", errors.New("OLLAMA_URL or OLLAMA_GEN_MODEL is empty"))
	}

	respText, err := s.client.generateJSON(ctx, buildStructuringPrompt(text))
	if err != nil {
		return domain.StructuringOutput{}, err
	}
	payload, err := llm.CompactPayload(respText)
	if err != nil {
		return domain.StructuringOutput{}, err
	}
	return domain.StructuringOutput{Payload: payload, ModelID: s.client.genModel}, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.exec.Execute(ctx, "llm.ollama.generate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
