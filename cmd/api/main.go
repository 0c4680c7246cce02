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

	httpadapter "github.com/kirillkom/folder-rag/internal/adapters/http"
	mcpadapter "github.com/kirillkom/folder-rag/internal/adapters/mcp"
	"github.com/kirillkom/folder-rag/internal/bootstrap"
	"github.com/kirillkom/folder-rag/internal/config"
	"github.com/kirillkom/folder-rag/internal/observability/logging"
	"github.com/kirillkom/folder-rag/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleAPI, logger, httpMetrics.Registry())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.LexicalSync != nil {
		go func() {
			if err := app.BackfillLexicalIndex(ctx); err != nil {
				logger.Error("lexical_backfill_failed", "error", err)
			}
		}()
		go func() {
			err := app.Queue.SubscribeChunksChanged(ctx, func(handlerCtx context.Context, documentID string) error {
				syncCtx, cancel := context.WithTimeout(handlerCtx, time.Minute)
				defer cancel()
				return app.LexicalSync.ReindexDocument(syncCtx, documentID)
			})
			if err != nil {
				logger.Error("lexical_sync_subscribe_failed", "error", err)
			}
		}()
	}

	opts := []httpadapter.RouterOption{httpadapter.WithMetrics(httpMetrics), httpadapter.WithLogger(logger)}
	if cfg.MCPEnabled {
		opts = append(opts, httpadapter.WithMCPHandler(mcpadapter.NewHTTPHandler(mcpadapter.NewServer(app.Retrieval, logger))))
	}
	router, err := httpadapter.NewRouter(cfg, app.Retrieval, app.Access, opts...)
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "mcp_enabled", cfg.MCPEnabled, "lexical_backend", cfg.LexicalBackend)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
