package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/voicerag/backend/internal/api/handlers"
	"github.com/voicerag/backend/internal/cache/redis"
	"github.com/voicerag/backend/internal/conversation"
	"github.com/voicerag/backend/internal/kpi"
	"github.com/voicerag/backend/internal/llm"
	"github.com/voicerag/backend/internal/metrics"
	"github.com/voicerag/backend/internal/middleware/ratelimit"
	"github.com/voicerag/backend/internal/middleware/security"
	"github.com/voicerag/backend/internal/middleware/validation"
	"github.com/voicerag/backend/internal/persona"
	"github.com/voicerag/backend/internal/rerank"
	"github.com/voicerag/backend/internal/storage/sqlite"
	"github.com/voicerag/backend/internal/vector/milvus"
	"github.com/voicerag/backend/pkg/config"
	appLogger "github.com/voicerag/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting VoiceRAG API Server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path, sqlite.Options{
		ReplaceOnDuplicate:    cfg.Feedback.ReplaceOnDuplicate,
		PromptMinRatings:      cfg.Feedback.PromptMinRatings,
		PromptSatisfactionBar: cfg.Feedback.PromptSatisfactionBar,
	})
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			defer cache.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var vectorCache milvus.Cache
	if cache != nil {
		vectorCache = cache
	}

	index, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
		llmClient,
		vectorCache,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer index.Close()

	err = index.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	personas, err := persona.NewRegistry(cfg.Personas.Styles, cfg.Personas.Default)
	if err != nil {
		appLogger.Fatal("Failed to build persona registry", zap.Error(err))
	}

	reranker := rerank.NewReranker(store, rerank.LinearPolicy{
		Weight:        cfg.Rerank.BoostWeight,
		MinBoost:      cfg.Rerank.MinBoost,
		MaxBoost:      cfg.Rerank.MaxBoost,
		DemotionRatio: cfg.Rerank.DemotionRatio,
	})

	manager := conversation.NewManager(index, llmClient, store, reranker, personas, cfg.Milvus.TopK)

	kpiEngine := kpi.NewEngine(store, cfg.KPI.SuccessFloor, cfg.KPI.FailureCeiling)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	turnHandler := handlers.NewTurnHandler(manager)
	feedbackHandler := handlers.NewFeedbackHandler(manager, store)
	kpiHandler := handlers.NewKPIHandler(kpiEngine)
	documentHandler := handlers.NewDocumentHandler(index)
	wsHandler := handlers.NewWebSocketHandler(manager)

	api := app.Group("/api/v1")

	api.Post("/turn", turnHandler.HandleTurn)

	api.Post("/feedback", feedbackHandler.HandleFeedback)
	api.Get("/feedback/stats", feedbackHandler.GetStats)

	api.Post("/documents", documentHandler.UploadDocuments)

	api.Get("/kpi/report", kpiHandler.GetReport)
	api.Get("/kpi/personas", kpiHandler.GetPersonaBreakdown)
	api.Get("/kpi/suggestions", kpiHandler.GetSuggestions)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
