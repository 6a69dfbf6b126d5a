package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/ocr-intake/internal/bootstrap"
	"github.com/kirillkom/ocr-intake/internal/config"
	"github.com/kirillkom/ocr-intake/internal/observability/logging"
	"github.com/kirillkom/ocr-intake/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, Observer: workerMetrics})
	if err != nil {
		logger.Error("bootstrap.failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker.metrics.failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker.subscribed", "subject", cfg.NATSSubject, "structuring", app.Structuring.Provider())
	err = app.Queue.SubscribeRecordSaved(ctx, func(handlerCtx context.Context, recordID string) error {
		workerMetrics.StartRecord()
		start := time.Now()
		err := app.EnrichUC.EnrichByID(handlerCtx, recordID)
		workerMetrics.FinishRecord("worker", time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker.subscribe.failed", "error", err)
		os.Exit(1)
	}
}
