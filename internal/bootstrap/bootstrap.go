package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/folder-rag/internal/config"
	"github.com/kirillkom/folder-rag/internal/core/domain"
	"github.com/kirillkom/folder-rag/internal/core/ports"
	"github.com/kirillkom/folder-rag/internal/core/usecase"
	"github.com/kirillkom/folder-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/folder-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/folder-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/folder-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/folder-rag/internal/infrastructure/search/keyword"
	"github.com/kirillkom/folder-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/folder-rag/internal/observability/metrics"
)

// Role selects which side of the system a process runs.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

type App struct {
	Config config.Config

	Queue     ports.ChunkEventQueue
	Access    ports.AccessResolver
	Retrieval ports.Retriever
	// Indexer refreshes dense vectors; set for the worker role.
	Indexer ports.ChunkIndexer
	// LexicalSync refreshes the process-local bleve index; set for the API role
	// when LEXICAL_BACKEND=bleve.
	LexicalSync ports.ChunkIndexer

	documents ports.DocumentStore
	bleve     *keyword.BleveIndex
	logger    *slog.Logger
	closeFn   func()
}

// New wires the application. registerer may be nil, in which case retrieval
// telemetry is discarded.
func New(ctx context.Context, cfg config.Config, role Role, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db, cfg.FTSLanguage); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	folders := postgres.NewFolderRepository(db)
	users := postgres.NewUserRepository(db)
	documents := postgres.NewDocumentRepository(db)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), logger),
		Logger:             logger,
		Broadcast:          role == RoleAPI,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	// Calls made while a user waits get the short retry budget.
	executorCfg := resilience.QueryPathConfig()
	if role == RoleWorker {
		executorCfg = resilience.DefaultConfig()
	}
	executor := resilience.NewExecutor(executorCfg, logger)
	embedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, executor))
	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)

	app := &App{
		Config:    cfg,
		Queue:     queue,
		documents: documents,
		logger:    logger,
	}

	switch role {
	case RoleWorker:
		app.Indexer = usecase.NewChunkIndexUseCase(documents, embedder, vectors, nil, logger)
	case RoleAPI:
		var observer ports.RetrievalObserver = usecase.NopObserver{}
		if registerer != nil {
			observer = metrics.NewRetrievalMetrics(string(role), registerer)
		}

		var fullText ports.FullTextIndex = postgres.NewFullTextIndex(db, cfg.FTSLanguage)
		if cfg.LexicalBackend == config.LexicalBackendBleve {
			index, err := keyword.NewBleveIndex(cfg.BleveIndexPath)
			if err != nil {
				queue.Close()
				_ = db.Close()
				return nil, fmt.Errorf("open bleve index: %w", err)
			}
			app.bleve = index
			fullText = index
			app.LexicalSync = usecase.NewChunkIndexUseCase(documents, nil, nil, index, logger)
		}

		resolver := usecase.NewPermissionResolver(folders, usecase.PermissionResolverConfig{
			RootPolicy: domain.RootPolicy(cfg.PermissionRootPolicy),
			MaxDepth:   cfg.PermissionMaxDepth,
		}, logger, observer)
		scope := usecase.NewAccessScope(users, folders, documents, resolver, cfg.AccessScopeConcurrency, logger, observer)

		app.Access = scope
		app.Retrieval = usecase.NewRetrievalService(
			scope,
			usecase.NewDenseRetriever(embedder, vectors),
			usecase.NewLexicalRetriever(fullText),
			documents,
			retrievalConfig(cfg),
			logger,
			observer,
		)
	default:
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("unknown role %q", role)
	}

	app.closeFn = func() {
		queue.Close()
		if app.bleve != nil {
			_ = app.bleve.Close()
		}
		_ = db.Close()
	}
	return app, nil
}

func retrievalConfig(cfg config.Config) usecase.RetrievalConfig {
	return usecase.RetrievalConfig{
		TopK:                    cfg.RAGTopK,
		DenseWeight:             cfg.RAGDenseWeight,
		LexicalWeight:           cfg.RAGLexicalWeight,
		RelevanceThreshold:      cfg.RAGRelevanceThreshold,
		SupplementaryEnabled:    cfg.RAGSupplementaryEnabled,
		SupplementaryCandidates: cfg.RAGSupplementaryCandidates,
		SupplementaryLimit:      cfg.RAGSupplementaryLimit,
		LexicalNormalization:    cfg.RAGLexicalNormalization,
		DegradedMode:            domain.DegradedMode(cfg.RAGDegradedMode),
		RetrieverTimeout:        time.Duration(cfg.RAGRetrieverTimeoutMS) * time.Millisecond,
	}
}

// BackfillLexicalIndex fills an empty bleve index from the chunk table. It is a
// no-op for the Postgres backend or when the index already holds chunks.
func (a *App) BackfillLexicalIndex(ctx context.Context) error {
	if a.bleve == nil || a.LexicalSync == nil {
		return nil
	}
	count, err := a.bleve.DocCount()
	if err != nil {
		return fmt.Errorf("count bleve documents: %w", err)
	}
	if count > 0 {
		return nil
	}

	ids, err := a.documents.AllDocumentIDs(ctx)
	if err != nil {
		return fmt.Errorf("list documents for backfill: %w", err)
	}
	start := time.Now()
	for _, id := range ids {
		if err := a.LexicalSync.ReindexDocument(ctx, id); err != nil {
			return fmt.Errorf("backfill document %s: %w", id, err)
		}
	}
	a.logger.Info("lexical_index_backfilled", "documents", len(ids), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// RequestFullReindex publishes a chunk change event for every document, so the
// worker pool rebuilds all dense vectors.
func (a *App) RequestFullReindex(ctx context.Context) (int, error) {
	ids, err := a.documents.AllDocumentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list documents for reindex: %w", err)
	}
	for i, id := range ids {
		if err := a.Queue.PublishChunksChanged(ctx, id); err != nil {
			return i, fmt.Errorf("publish reindex of %s: %w", id, err)
		}
	}
	return len(ids), nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
