package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/ocr-intake/internal/config"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
	"github.com/kirillkom/ocr-intake/internal/core/usecase"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/llm/openai"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/ocr"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/pdfinfo"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/storage/localfs"
)

// Observer is the metrics surface the wiring feeds. Nil disables it.
type Observer interface {
	ports.PipelineObserver
	RecordRetry(operation string)
	RecordBreakerState(operation, state string)
}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

// Pipeline is the extraction side of the service. Building it performs no
// network calls.
type Pipeline struct {
	Engine      ports.ExtractionEngine
	Structurer  ports.TextStructurer
	Extractor   *usecase.ExtractionClient
	Structuring *usecase.StructuringClient
	Batch       *usecase.BatchCoordinator
	Storage     ports.ObjectStorage
	Sessions    *usecase.SessionRegistry
}

type App struct {
	Config config.Config
	*Pipeline

	Repo       *postgres.RecordRepository
	Queue      *nats.Queue
	CompleteUC *usecase.CompleteUseCase
	EnrichUC   *usecase.EnrichRecordUseCase
	Exporter   *xlsx.Exporter

	closeFn func()
}

// NewPipeline wires engines, structurers and the session registry.
func NewPipeline(cfg config.Config, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := pipelineObserver(opts.Observer)

	callExec := resilience.NewExecutor(resilienceConfig(cfg).SingleAttempt(), executorOptions(logger, opts.Observer)...)

	engine, err := newEngine(cfg, callExec, logger)
	if err != nil {
		return nil, err
	}
	structurer, err := newStructurer(cfg, callExec, logger)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	extractor := usecase.NewExtractionClient(engine, observer, logger)
	structuring := usecase.NewStructuringClient(structurer, observer, logger)
	batch := usecase.NewBatchCoordinator(extractor, cfg.OCRBatchDelay, logger)
	sessions := usecase.NewSessionRegistry(extractor, structuring, batch, storage, usecase.SessionOptions{
		MaxFiles: cfg.OCRMaxFiles,
		TTL:      cfg.SessionTTL,
		Pages:    pdfinfo.NewCounter(),
		Logger:   logger,
	})

	logger.Info("pipeline.ready",
		"engine", engine.ID(),
		"model", engine.Model(),
		"configured", engine.Configured(),
		"structuring", structuringProvider(structurer),
	)

	return &Pipeline{
		Engine:      engine,
		Structurer:  structurer,
		Extractor:   extractor,
		Structuring: structuring,
		Batch:       batch,
		Storage:     storage,
		Sessions:    sessions,
	}, nil
}

// New wires the pipeline plus persistence and messaging.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := pipelineObserver(opts.Observer)

	pipeline, err := NewPipeline(cfg, opts)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewRecordRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queueExec := resilience.NewExecutor(resilienceConfig(cfg), executorOptions(logger, opts.Observer)...)
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: queueExec,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	completeUC := usecase.NewCompleteUseCase(usecase.NewCompletionAggregator(), repo, queue, observer, logger)
	enrichUC := usecase.NewEnrichRecordUseCase(repo, pipeline.Structurer, observer, logger)

	return &App{
		Config:     cfg,
		Pipeline:   pipeline,
		Repo:       repo,
		Queue:      queue,
		CompleteUC: completeUC,
		EnrichUC:   enrichUC,
		Exporter:   xlsx.NewExporter(logger),

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newEngine(cfg config.Config, exec *resilience.Executor, logger *slog.Logger) (ports.ExtractionEngine, error) {
	switch cfg.OCREngine {
	case ocr.VisionEngineID:
		return ocr.NewVisionEngine(ocr.VisionConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.VisionModel,
			Timeout: cfg.OCRTimeout,
		}, exec, logger), nil
	case ocr.OCRSpaceEngineID:
		return ocr.NewOCRSpaceEngine(ocr.OCRSpaceConfig{
			APIKey:   cfg.OCRSpaceAPIKey,
			BaseURL:  cfg.OCRSpaceURL,
			Engine:   cfg.OCRSpaceEngine,
			MaxBytes: cfg.OCRSpaceMaxBytes,
			Timeout:  cfg.OCRTimeout,
		}, exec, logger), nil
	default:
		return nil, fmt.Errorf("unsupported OCR_ENGINE %q (want %q or %q)", cfg.OCREngine, ocr.VisionEngineID, ocr.OCRSpaceEngineID)
	}
}

// newStructurer returns nil for provider "none"; the structuring client then
// reports itself unconfigured.
func newStructurer(cfg config.Config, exec *resilience.Executor, logger *slog.Logger) (ports.TextStructurer, error) {
	switch cfg.StructuringProvider {
	case openai.Provider:
		return openai.NewStructurer(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.StructuringModel,
			Timeout: cfg.OCRTimeout,
		}, exec, logger), nil
	case ollama.Provider:
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OCRTimeout, exec)
		return ollama.NewStructurer(client), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported STRUCTURING_PROVIDER %q (want %q, %q or none)", cfg.StructuringProvider, openai.Provider, ollama.Provider)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.DefaultConfig().WithBreaker(
		cfg.BreakerEnabled,
		cfg.BreakerMinRequests,
		cfg.BreakerFailureRatio,
		cfg.BreakerOpenTimeout,
	)
}

func executorOptions(logger *slog.Logger, observer Observer) []resilience.Option {
	opts := []resilience.Option{resilience.WithLogger(logger)}
	if observer == nil {
		return opts
	}
	return append(opts, resilience.WithHooks(resilience.Hooks{
		OnRetry: func(operation string, _ int) {
			observer.RecordRetry(operation)
		},
		OnStateChange: func(operation string, to gobreaker.State) {
			observer.RecordBreakerState(operation, to.String())
		},
	}))
}

// pipelineObserver avoids handing a typed nil to the use cases.
func pipelineObserver(observer Observer) ports.PipelineObserver {
	if observer == nil {
		return nil
	}
	return observer
}

func structuringProvider(s ports.TextStructurer) string {
	if s == nil {
		return "none"
	}
	return s.Provider()
}
