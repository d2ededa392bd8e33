// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"legal-rag-workers/internal/common/aws"
	"legal-rag-workers/internal/common/camunda"
	"legal-rag-workers/internal/common/config"
	"legal-rag-workers/internal/common/database"
	commonhttp "legal-rag-workers/internal/common/http"
	"legal-rag-workers/internal/common/logger"
	"legal-rag-workers/internal/common/observability"
	"legal-rag-workers/internal/common/validation"
	"legal-rag-workers/internal/pipeline/llm"
	"legal-rag-workers/internal/pipeline/retrieval"
	"legal-rag-workers/internal/service"
	"legal-rag-workers/pkg/registry"

	chatcontinue "legal-rag-workers/internal/workers/legal-conversation/chat-continue"
	chatdelete "legal-rag-workers/internal/workers/legal-conversation/chat-delete"
	chathistory "legal-rag-workers/internal/workers/legal-conversation/chat-history"
	chatstart "legal-rag-workers/internal/workers/legal-conversation/chat-start"
	legalquery "legal-rag-workers/internal/workers/legal-research/legal-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, logger.FileOptions{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(observability.Options{
		ServiceName:   cfg.Observability.ServiceName,
		TraceEndpoint: cfg.Observability.JaegerEndpoint,
	})
	defer obs.Shutdown()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL (pgvector) with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if ok, err := pg.HasVectorExtension(ctx); err != nil || !ok {
		zapLog.Warn("pgvector extension not available, dense search will fail", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var es *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis ---
	// An unreachable Redis degrades every cache read to a miss.
	var redis *database.RedisClient
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		redis = database.NewRedis(cfg.Database.Redis, config.GetDuration(cfg.Cache.Timeout))
		if err := redis.Ping(ctx); err != nil {
			zapLog.Warn("redis unreachable, stage cache will miss", zap.Error(err))
		} else {
			zapLog.Info("Redis connected successfully")
		}
		defer redis.Close()
	}

	// --- GenAI gateway clients ---
	genai := cfg.APIs.GenAI
	completionClient := commonhttp.NewClient(commonhttp.Options{
		Service:           "genai",
		BaseURL:           genai.BaseURL,
		APIKey:            genai.APIKey,
		Timeout:           config.GetDuration(genai.Timeout),
		RequestsPerSecond: genai.RequestsPerSecond,
		Burst:             genai.Burst,
	})
	retrievalClient := commonhttp.NewClient(commonhttp.Options{
		Service:           "genai-retrieval",
		BaseURL:           genai.BaseURL,
		APIKey:            genai.APIKey,
		Timeout:           config.GetDuration(cfg.Pipeline.CallTimeout),
		RequestsPerSecond: genai.RequestsPerSecond,
		Burst:             genai.Burst,
	})

	embedder, err := retrieval.NewHTTPEmbedder(retrievalClient, genai.Models.Embedding, cfg.Pipeline.EmbeddingCacheSize)
	if err != nil {
		zapLog.Fatal("failed to create embedder", zap.Error(err))
	}
	dense, err := retrieval.NewPGVectorSearcher(pg.DB, embedder, cfg.Pipeline.VectorTable)
	if err != nil {
		zapLog.Fatal("failed to create dense searcher", zap.Error(err))
	}
	if ok, err := es.IndexExists(ctx, cfg.Pipeline.SearchIndex); err != nil || !ok {
		zapLog.Warn("search index missing, lexical search will fail",
			zap.String("index", cfg.Pipeline.SearchIndex), zap.Error(err))
	}

	// --- Alerts ---
	var alerts *aws.AlertNotifier
	if cfg.Alerts.Enabled {
		alerts, err = aws.NewAlertNotifier(ctx, cfg.Alerts, log)
		if err != nil {
			zapLog.Error("alerts disabled", zap.Error(err))
		}
	}

	components := service.Components{
		Completer: llm.NewHTTPCompleter(completionClient, log),
		Search: &retrieval.Router{
			Dense:  dense,
			Sparse: retrieval.NewElasticsearchSearcher(es.Client, cfg.Pipeline.SearchIndex),
		},
		Reranker:      retrieval.NewHTTPReranker(retrievalClient, genai.Models.Rerank),
		Alerter:       alerts,
		Observability: obs,
	}
	if redis != nil {
		components.Redis = redis.Client
	}
	stack, err := service.Build(cfg, components, log)
	if err != nil {
		zapLog.Fatal("failed to assemble pipeline", zap.Error(err))
	}
	go stack.Conversations.RunSweeper(ctx)

	// --- Activity registry ---
	reg, err := registry.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		zapLog.Fatal("failed to load activity registry", zap.String("path", cfg.RegistryPath), zap.Error(err))
	}
	schemas, err := reg.Validators()
	if err != nil {
		zapLog.Fatal("invalid activity registry", zap.Error(err))
	}
	zapLog.Info("Activity registry loaded", zap.Int("activities", len(reg.Activities)))

	// --- Register workers ---
	workers := camunda.NewWorkerSet(zeebe.GetClient(), log)
	startWorkers(workers, cfg, stack.Service, schemas, log)
	zapLog.Info("Workers started", zap.Strings("taskTypes", workers.TaskTypes()))

	// --- Health & Metrics Server ---
	deps := map[string]database.Pinger{
		"zeebe":         zeebe,
		"postgres":      pg,
		"elasticsearch": es,
	}
	if redis != nil {
		deps["redis"] = redis
	}
	server := &http.Server{
		Addr:              cfg.Observability.MetricsAddr,
		Handler:           newHealthMux(deps, stack.Conversations),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Stop()
	stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// startWorkers opens a job worker for every enabled legal task type.
func startWorkers(set *camunda.WorkerSet, cfg *config.Config, svc *service.Service, schemas map[string]*validation.Schema, log logger.Logger) {
	set.Start(legalquery.TaskType, config.GetWorkerConfig(cfg, legalquery.TaskType), legalquery.NewHandler(legalquery.HandlerOptions{
		Config:  legalquery.LoadConfig(cfg),
		Service: svc,
		Schema:  schemas[legalquery.TaskType],
		Logger:  log,
	}))

	set.Start(chatstart.TaskType, config.GetWorkerConfig(cfg, chatstart.TaskType), chatstart.NewHandler(chatstart.HandlerOptions{
		Config:  chatstart.LoadConfig(cfg),
		Service: svc,
		Schema:  schemas[chatstart.TaskType],
		Logger:  log,
	}))

	set.Start(chatcontinue.TaskType, config.GetWorkerConfig(cfg, chatcontinue.TaskType), chatcontinue.NewHandler(chatcontinue.HandlerOptions{
		Config:  chatcontinue.LoadConfig(cfg),
		Service: svc,
		Schema:  schemas[chatcontinue.TaskType],
		Logger:  log,
	}))

	set.Start(chathistory.TaskType, config.GetWorkerConfig(cfg, chathistory.TaskType), chathistory.NewHandler(chathistory.HandlerOptions{
		Config:  chathistory.LoadConfig(cfg),
		Service: svc,
		Schema:  schemas[chathistory.TaskType],
		Logger:  log,
	}))

	set.Start(chatdelete.TaskType, config.GetWorkerConfig(cfg, chatdelete.TaskType), chatdelete.NewHandler(chatdelete.HandlerOptions{
		Config:  chatdelete.LoadConfig(cfg),
		Service: svc,
		Schema:  schemas[chatdelete.TaskType],
		Logger:  log,
	}))
}
