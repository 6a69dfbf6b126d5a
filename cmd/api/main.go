package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/ocr-intake/internal/adapters/http"
	"github.com/kirillkom/ocr-intake/internal/bootstrap"
	"github.com/kirillkom/ocr-intake/internal/config"
	"github.com/kirillkom/ocr-intake/internal/core/usecase"
	"github.com/kirillkom/ocr-intake/internal/observability/logging"
	"github.com/kirillkom/ocr-intake/internal/observability/metrics"
)

const sessionSweepInterval = time.Minute

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, Observer: httpMetrics})
	if err != nil {
		logger.Error("bootstrap.failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		cfg,
		app.Sessions,
		app.CompleteUC,
		app.Repo,
		app.Exporter,
		httpadapter.WithMetrics(httpMetrics),
		httpadapter.WithLogger(logger),
	).Handler()

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api.listen.failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConns)
	}

	go sweepSessions(ctx, app.Sessions, logger)

	go func() {
		logger.Info("api.listening", "port", cfg.APIPort, "engine", app.Extractor.EngineID(), "configured", app.Sessions.Configured())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api.server.failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api.shutdown.failed", "error", err)
	}
}

// sweepSessions evicts idle intake sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions *usecase.SessionRegistry, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(ctx); n > 0 {
				logger.Info("session.sweep.ok", "evicted", n, "remaining", sessions.Len())
			}
		}
	}
}
