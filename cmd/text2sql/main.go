// Command text2sql boots the query-resolution core: it wires the
// Selector, Decomposer, and Refiner agents behind the Orchestrator state
// machine, brings up the retrieval & training store, and serves a health
// endpoint for the process supervisor. It intentionally stops there -- a
// user-facing API/CLI for process_query is out of scope; embedders call
// Orchestrator.ProcessQuery directly.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-engine/pkg/config"
	"github.com/ekaya-inc/ekaya-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/decomposer"
	textsqlllm "github.com/ekaya-inc/ekaya-engine/pkg/textsql/llm"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/orchestrator"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/prompts"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/refiner"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/selector"
	"github.com/ekaya-inc/ekaya-engine/pkg/textsql/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("registered_databases", len(cfg.Databases)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orc, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}
	_ = orc // wired for embedders to call ProcessQuery directly; no HTTP route exposed here.

	mux := http.NewServeMux()
	registerHealthRoutes(mux, cfg, logger)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting text2sql", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var logCfg zap.Config
	if env == "production" {
		logCfg = zap.NewProductionConfig()
	} else {
		logCfg = zap.NewDevelopmentConfig()
	}
	logger, err := logCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

// buildOrchestrator wires the completion/embedding clients, the retrieval
// & training store, the three pipeline agents, and the persistence layer
// (when configured) into a ready-to-call Orchestrator.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	gen, err := newGenerator(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("build completion client: %w", err)
	}
	embedder, err := newEmbedder(cfg.Embedding, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedding client: %w", err)
	}

	registry := prompts.New()

	index, historyStore, err := buildPersistence(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build persistence layer: %w", err)
	}

	trainingStore := store.New(index, embedder, store.Config{
		SimilarityThreshold: cfg.Store.SimilarityThreshold,
		MaxContextLength:    cfg.Store.MaxContextLength,
		MaxExamplesPerType:  cfg.Store.MaxExamplesPerType,
		NoveltyThreshold:    cfg.Store.NoveltyThreshold,
	}, logger)

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:            cfg.Datasource.ConnectionTTLMinutes,
		MaxConnectionsPerUser: cfg.Datasource.MaxConnectionsPerUser,
		PoolMaxConns:          cfg.Datasource.PoolMaxConns,
		PoolMinConns:          cfg.Datasource.PoolMinConns,
	}, logger)
	factory := datasource.NewDatasourceAdapterFactory(connMgr)
	registryBridge := orchestrator.NewAdapterBridge(newStaticRegistry(cfg.Databases), factory)

	selectorCfg := selector.DefaultConfig()
	selectorCfg.FallbackSchemaDir = cfg.Selector.FallbackSchemaDir
	schemaSelector := selector.New(registryBridge, gen, registry, selectorCfg, logger)

	decomposerCfg := decomposer.Config{
		MaxSubQuestions: cfg.Decomposer.MaxSubQuestions,
		DatasetProfile:  decomposer.DatasetProfile(cfg.Decomposer.DatasetProfile),
	}
	sqlDecomposer := decomposer.New(gen, trainingStore, registry, decomposerCfg, logger)

	sqlRefiner := refiner.New(registryBridge, gen, registry, refiner.DefaultConfig(), logger)

	orchestratorCfg := orchestrator.Config{MaxRetries: cfg.Orchestrator.MaxRetries}
	orc := orchestrator.New(schemaSelector, sqlDecomposer, sqlRefiner, trainingStore, historyStore, orchestratorCfg, logger)
	return orc, nil
}

// buildPersistence opens the postgres pool backing both the training
// store's vector index and the conversation-history table when Store.Backend
// is "postgres", running pending migrations first. The pool is left open
// for the life of the process; falls back to the in-memory defaults
// otherwise.
func buildPersistence(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.VectorIndex, orchestrator.ConversationStore, error) {
	if cfg.Store.Backend != "postgres" {
		return store.NewMemoryIndex(), orchestrator.NewMemoryConversationStore(), nil
	}

	dsn := cfg.Store.PostgresDSN
	if dsn == "" {
		dsn = cfg.Database.ConnectionString()
	}

	if err := runMigrations(dsn, logger); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := database.NewConnection(ctx, &database.Config{URL: dsn})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return store.NewPostgresIndex(pool.Pool, "training_examples"),
		orchestrator.NewPostgresConversationStore(pool.Pool),
		nil
}

func runMigrations(dsn string, logger *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return database.RunMigrations(db, "migrations", logger)
}

func newGenerator(cfg config.LLMConfig, logger *zap.Logger) (textsqlllm.Generator, error) {
	switch cfg.Provider {
	case "anthropic":
		return textsqlllm.NewAnthropicClient(textsqlllm.AnthropicConfig{
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		}, logger)
	default:
		return textsqlllm.NewOpenAIClient(textsqlllm.OpenAIConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	}
}

func newEmbedder(embCfg config.EmbeddingConfig, llmCfg config.LLMConfig, logger *zap.Logger) (textsqlllm.Embedder, error) {
	return textsqlllm.NewOpenAIClient(textsqlllm.OpenAIConfig{
		Endpoint:       llmCfg.Endpoint,
		Model:          llmCfg.Model,
		EmbeddingModel: embCfg.Model,
		EmbeddingDim:   embCfg.Dimension,
		APIKey:         embCfg.APIKey,
	}, logger)
}

// staticRegistry resolves database_id against the fixed config.Databases
// map loaded at startup. A single synthetic project/datasource UUID pair
// is used throughout, since the core has no multi-tenant concept of its
// own -- the adapters' project/datasource scoping exists purely for their
// connection-manager cache keys.
type staticRegistry struct {
	entries      map[string]config.DatabaseEntry
	projectID    uuid.UUID
	datasourceID uuid.UUID
}

func newStaticRegistry(entries map[string]config.DatabaseEntry) *staticRegistry {
	return &staticRegistry{
		entries:      entries,
		projectID:    uuid.New(),
		datasourceID: uuid.New(),
	}
}

func (r *staticRegistry) Resolve(_ context.Context, databaseID string) (orchestrator.DatabaseRegistration, error) {
	entry, ok := r.entries[databaseID]
	if !ok {
		return orchestrator.DatabaseRegistration{}, fmt.Errorf("unknown database_id: %s", databaseID)
	}
	return orchestrator.DatabaseRegistration{
		DatasourceType: entry.Type,
		Config:         entry.Config,
		ProjectID:      r.projectID,
		DatasourceID:   r.datasourceID,
		UserID:         "system",
	}, nil
}

// pingResponse mirrors the process supervisor's health-check contract.
type pingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

func registerHealthRoutes(mux *http.ServeMux, cfg *config.Config, logger *zap.Logger) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		hostname, err := os.Hostname()
		if err != nil {
			http.Error(w, "failed to get hostname", http.StatusInternalServerError)
			return
		}
		resp := pingResponse{
			Status:      "ok",
			Version:     cfg.Version,
			Service:     "text2sql",
			GoVersion:   runtime.Version(),
			Hostname:    hostname,
			Environment: cfg.Env,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode ping response", zap.Error(err))
		}
	})
}
