package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mira-ai/mira/internal/adapters/embedding"
	"github.com/mira-ai/mira/internal/adapters/firehose"
	"github.com/mira-ai/mira/internal/adapters/http"
	"github.com/mira-ai/mira/internal/adapters/http/handlers"
	"github.com/mira-ai/mira/internal/adapters/id"
	"github.com/mira-ai/mira/internal/adapters/postgres"
	"github.com/mira-ai/mira/internal/adapters/tracing"
	"github.com/mira-ai/mira/internal/adapters/valkey"
	"github.com/mira-ai/mira/internal/application/services"
	"github.com/mira-ai/mira/internal/application/tools"
	"github.com/mira-ai/mira/internal/application/tools/builtin"
	"github.com/mira-ai/mira/internal/application/usecases"
	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/ports"
	"github.com/mira-ai/mira/internal/workingmemory"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the Mira HTTP API server.

The server exposes the chat, actions and data endpoints plus a WebSocket
event mirror and Prometheus metrics.

Required configuration:
  - PostgreSQL database (MIRA_POSTGRES_URL)
  - Valkey (MIRA_VALKEY_ADDR)
  - Anthropic API key (ANTHROPIC_API_KEY)

Optional:
  - OpenAI-compatible endpoint (MIRA_GENERIC_URL, MIRA_GENERIC_MODEL)
  - Failover endpoint (MIRA_FAILOVER_URL, MIRA_FAILOVER_MODEL)
  - Firehose event log (MIRA_FIREHOSE=true)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes every adapter and service and starts the HTTP API
// server.
func runServer(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("starting Mira API server",
		"addr", cfg.Server.Addr(),
		"model", cfg.Model.Primary,
		"utility_model", cfg.Model.Utility)

	shutdownTracing, err := tracing.InitTracer("mira-api")
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	if cfg.Database.PostgresURL == "" {
		return fmt.Errorf("server mode requires PostgreSQL. Set MIRA_POSTGRES_URL")
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.PostgresURL, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connection established")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Valkey.Addr,
		Password: cfg.Valkey.Password,
		DB:       cfg.Valkey.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("valkey: %w", err)
	}
	kvClient := valkey.NewClient(rdb, logger)
	binaryKV := valkey.NewBinaryClient(rdb)
	logger.Info("valkey connection established")

	// Repositories
	idGen := id.New()
	continuumRepo := postgres.NewContinuumRepository(pool, idGen)
	messageRepo := postgres.NewMessageRepository(pool)
	segmentRepo := postgres.NewSegmentRepository(pool)
	memoryRepo := postgres.NewMemoryRepository(pool)
	retrievalRepo := postgres.NewRetrievalLogRepository(pool)
	txManager := postgres.NewTransactionManager(pool)
	uowFactory := postgres.NewUnitOfWorkFactory(txManager, messageRepo, continuumRepo, segmentRepo, memoryRepo)

	// Embedding client with a binary KV cache in front of the encode API.
	embeddingClient := embedding.NewClient(
		cfg.Embedding.URL,
		cfg.Embedding.APIKey,
		cfg.Embedding.RealtimeModel,
		cfg.Embedding.DeepModel,
		cfg.Embedding.Dimensions,
		binaryKV,
		logger,
	)

	// LLM engine: native provider plus the optional emergency failover.
	native := llm.NewNativeProvider(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Model.ContextWindow, logger)
	var failover *llm.Failover
	if cfg.IsFailoverConfigured() {
		failover = llm.NewFailover(cfg.Generic.FailoverURL, cfg.Generic.FailoverModel, cfg.Generic.APIKey, 5*time.Minute, logger)
		logger.Info("failover provider configured", "model", cfg.Generic.FailoverModel)
	}

	toolRegistry := tools.NewRegistry(logger)
	if err := builtin.RegisterAll(toolRegistry, memoryRepo, embeddingClient); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	logger.Info("builtin tools registered", "count", len(toolRegistry.Definitions()))

	engine := llm.NewEngine(native, failover, toolRegistry, 0, cfg.Model.ContextWindow, logger)

	// Event bus, working memory core and trinkets
	bus := events.NewBus(logger)
	core := workingmemory.NewCore(bus, logger)

	remindersService := services.NewRemindersService(kvClient, idGen, logger)
	docsService := services.NewDomainDocsService(kvClient, logger)
	segmentsService := services.NewSegmentsService(
		segmentRepo,
		messageRepo,
		continuumRepo,
		engine,
		embeddingClient,
		idGen,
		bus,
		logger,
		cfg.Segments.IdleTimeout(),
		cfg.Model.Utility,
	)

	proactive := workingmemory.NewProactiveMemoryTrinket(bus, kvClient, logger)
	core.Register(workingmemory.NewDatetimeTrinket(bus, kvClient, logger))
	core.Register(workingmemory.NewManifestTrinket(bus, kvClient, segmentsService, logger))
	core.Register(workingmemory.NewRemindersTrinket(bus, kvClient, remindersService, logger))
	core.Register(workingmemory.NewContextSearchTrinket(bus, kvClient, logger))
	core.Register(proactive)
	core.Register(workingmemory.NewDomainDocTrinket(bus, kvClient, docsService, logger))
	core.Register(workingmemory.NewToolGuidanceTrinket(bus, kvClient, toolRegistry, logger))
	core.Register(workingmemory.NewToolHintsTrinket(bus, kvClient, toolRegistry, logger))
	logger.Info("working memory core initialized", "trinkets", len(core.Trinkets()))

	// Memory surfacing
	fingerprints := services.NewFingerprintService(services.NewEngineLM(engine, cfg.Model.Utility))
	relevance := services.NewRelevanceService(memoryRepo, embeddingClient)
	surfacer := services.NewSurfacingService(
		fingerprints,
		relevance,
		memoryRepo,
		retrievalRepo,
		embeddingClient,
		idGen,
		logger,
	)
	evacuator := services.NewPressureEvacuator(
		int(float64(cfg.Model.ContextWindow)*cfg.Memory.PromptShare),
		logger,
	)
	memoriesService := services.NewMemoriesService(memoryRepo, embeddingClient, idGen, logger)

	// Segment idle collapse: armed per turn, fired by key expiry.
	scheduler := services.NewCollapseScheduler(segmentsService, continuumRepo, kvClient, cfg.Segments.IdleTimeout(), logger)
	scheduler.Subscribe(bus)
	expiryListener := valkey.NewExpiryListener(rdb, cfg.Valkey.DB, logger)
	expiryListener.Register(services.SegmentIdlePrefix, scheduler.HandleExpiry)
	if err := expiryListener.Start(ctx); err != nil {
		return fmt.Errorf("expiry listener: %w", err)
	}
	defer expiryListener.Close()

	var sink ports.Firehose = firehose.Nop{}
	if cfg.Firehose.Enabled {
		w, err := firehose.New(cfg.Firehose.Path, logger)
		if err != nil {
			return fmt.Errorf("firehose: %w", err)
		}
		sink = w
		logger.Info("firehose enabled", "path", cfg.Firehose.Path)
	}
	defer sink.Close()

	basePrompt, err := cfg.BasePrompt()
	if err != nil {
		return fmt.Errorf("base prompt: %w", err)
	}

	turnConfig := usecases.TurnConfig{
		BasePrompt:      basePrompt,
		Model:           cfg.Model.Primary,
		MaxTokens:       cfg.Model.MaxTokens,
		Temperature:     cfg.Model.Temperature,
		ThinkingEnabled: cfg.Model.ThinkingEnabled,
		ThinkingBudget:  cfg.Model.ThinkingBudget,
		ContextWindow:   cfg.Model.ContextWindow,
		SurfaceLimit:    cfg.Memory.SurfaceLimit,
	}
	if cfg.IsGenericConfigured() {
		turnConfig.EndpointURL = cfg.Generic.URL
		turnConfig.ModelOverride = cfg.Generic.Model
		logger.Info("generic endpoint configured", "model", cfg.Generic.Model)
	}

	overflow := usecases.NewOverflowRemediator(embeddingClient, engine, kvClient, cfg.Model.Utility, logger)

	processMessage := usecases.NewProcessMessage(
		valkey.NewChatLockManager(rdb, idGen, logger),
		continuumRepo,
		segmentsService,
		surfacer,
		evacuator,
		proactive,
		core,
		engine,
		toolRegistry,
		uowFactory,
		kvClient,
		idGen,
		bus,
		overflow,
		sink,
		turnConfig,
		logger,
	)
	logger.Info("turn pipeline initialized")

	server := http.NewServer(cfg, http.Deps{
		Turns:      processMessage,
		Memories:   memoriesService,
		Segments:   segmentsService,
		Continuums: continuumRepo,
		Messages:   messageRepo,
		Reminders:  remindersService,
		Docs:       docsService,
		KV:         kvClient,
		Checks: map[string]handlers.CheckFunc{
			"database": pool.Ping,
			"valkey": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
	}, logger)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr())
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}
