package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/ocr-intake/internal/adapters/http/openapi"
	"github.com/kirillkom/ocr-intake/internal/config"
	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
	"github.com/kirillkom/ocr-intake/internal/core/usecase"
)

const (
	defaultMaxUploadBytes = 64 << 20
	backpressureWait      = 250 * time.Millisecond
)

// SessionCompleter submits a session's successful results.
type SessionCompleter interface {
	Complete(ctx context.Context, session *usecase.QueueManager) ([]domain.DocumentRecord, error)
}

// HTTPMetrics is the subset of the metrics collector the router uses.
type HTTPMetrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
	RecordRejected(service, reason string)
}

type Router struct {
	cfg       config.Config
	sessions  *usecase.SessionRegistry
	completer SessionCompleter
	records   ports.RecordReader
	exporter  ports.RecordExporter
	metrics   HTTPMetrics
	logger    *slog.Logger

	maxUploadBytes int64
}

type RouterOption func(*Router)

func WithMetrics(m HTTPMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	sessions *usecase.SessionRegistry,
	completer SessionCompleter,
	records ports.RecordReader,
	exporter ports.RecordExporter,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:            cfg,
		sessions:       sessions,
		completer:      completer,
		records:        records,
		exporter:       exporter,
		logger:         slog.Default(),
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handler assembles the mux and its middleware chain. It panics when the
// embedded OpenAPI document is invalid.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /v1/status", rt.status)

	mux.HandleFunc("POST /v1/sessions", rt.createSession)
	mux.HandleFunc("GET /v1/sessions/{sessionId}", rt.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{sessionId}", rt.deleteSession)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/reset", rt.resetSession)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/files", rt.addFiles)
	mux.HandleFunc("DELETE /v1/sessions/{sessionId}/files/{fileId}", rt.removeFile)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/files/{fileId}/extract", rt.extractFile)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/files/{fileId}/structure", rt.structureFile)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/process", rt.processAll)
	mux.HandleFunc("POST /v1/sessions/{sessionId}/complete", rt.completeSession)

	mux.HandleFunc("GET /v1/records", rt.listRecords)
	mux.HandleFunc("GET /v1/records/{recordId}", rt.getRecord)
	mux.HandleFunc("GET /v1/exports/records.xlsx", rt.exportRecords)

	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	validator, err := openapi.NewRouter(context.Background())
	if err != nil {
		panic(fmt.Sprintf("http router: %v", err))
	}

	onReject := func(reason string) {
		if rt.metrics != nil {
			rt.metrics.RecordRejected("api", reason)
		}
	}

	var handler http.Handler = mux
	handler = requestValidationMiddleware(handler, validator)
	handler = bearerAuthMiddleware(handler, rt.cfg.APIAuthToken)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, backpressureWait, onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type StatusReport struct {
	Configured  bool              `json:"configured"`
	Engine      string            `json:"engine"`
	Model       string            `json:"model"`
	MaxFiles    int               `json:"max_files"`
	Sessions    int               `json:"sessions"`
	Structuring StructuringStatus `json:"structuring"`
}

type StructuringStatus struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
}

func (rt *Router) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BuildStatus(rt.sessions, rt.cfg.OCRMaxFiles))
}

// BuildStatus reports the configuration state without any network call.
func BuildStatus(sessions *usecase.SessionRegistry, maxFiles int) StatusReport {
	resp := StatusReport{
		Configured: sessions.Configured(),
		MaxFiles:   maxFiles,
		Sessions:   sessions.Len(),
	}
	if extractor := sessions.Extractor(); extractor != nil {
		resp.Engine = extractor.EngineID()
		resp.Model = extractor.ModelID()
	}
	if structurer := sessions.Structurer(); structurer != nil {
		resp.Structuring = StructuringStatus{
			Provider:   structurer.Provider(),
			Configured: structurer.Configured(),
		}
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		rt.logger.Error("http.handler.failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
