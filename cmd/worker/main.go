package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/folder-rag/internal/bootstrap"
	"github.com/kirillkom/folder-rag/internal/config"
	"github.com/kirillkom/folder-rag/internal/observability/logging"
	"github.com/kirillkom/folder-rag/internal/observability/metrics"
)

const reindexTimeout = 5 * time.Minute

func main() {
	reindexAll := flag.Bool("reindex-all", false, "publish a chunk change event for every document and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleWorker, logger, nil)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if *reindexAll {
		published, err := app.RequestFullReindex(ctx)
		if err != nil {
			logger.Error("reindex_all_failed", "published", published, "error", err)
			os.Exit(1)
		}
		logger.Info("reindex_all_published", "documents", published)
		return
	}

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeChunksChanged(ctx, func(handlerCtx context.Context, documentID string) error {
		reindexCtx, cancel := context.WithTimeout(handlerCtx, reindexTimeout)
		defer cancel()

		workerMetrics.StartReindex()
		start := time.Now()
		err := app.Indexer.ReindexDocument(reindexCtx, documentID)
		workerMetrics.FinishReindex("worker", time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
