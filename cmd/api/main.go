// Package main is the entry point for the advisory engine API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/admitpath/advisory-engine/internal/cache"
	"github.com/admitpath/advisory-engine/internal/config"
	"github.com/admitpath/advisory-engine/internal/handler"
	"github.com/admitpath/advisory-engine/internal/jobs"
	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/middleware"
	"github.com/admitpath/advisory-engine/internal/queue"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
	"github.com/admitpath/advisory-engine/pkg/tracing"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting advisory engine")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "advisory-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Stores. Without DATABASE_URL everything runs in memory, which is only
	// useful for local development.
	var (
		db            *sqlx.DB
		conversations repository.ConversationRepository
		messages      repository.MessageRepository
		contexts      repository.StudentContextRepository
		profiles      repository.ProfileRepository
	)
	if cfg.DatabaseURL != "" {
		db, err = sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		conversations = repository.NewConversationRepository(db)
		messages = repository.NewMessageRepository(db)
		contexts = repository.NewStudentContextRepository(db)
		profiles = repository.NewProfileRepository(db)
		log.Info("connected to postgres")
	} else {
		conversations = repository.NewMemoryConversationRepository()
		messages = repository.NewMemoryMessageRepository()
		contexts = repository.NewMemoryStudentContextRepository()
		profiles = repository.NewMemoryProfileRepository()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// LLM client. Anthropic wins when both keys are present.
	var llmClient llm.Client
	switch {
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	default:
		log.Error("no LLM API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create LLM client", "error", err)
		os.Exit(1)
	}
	log.Info("LLM client ready", "provider", llmClient.Name())

	contextCache := cache.New(cfg.ContextTTL, cfg.ProfileTTL)

	lifecycle := service.NewLifecycleService(conversations, contexts, cfg.ActiveWindow, log)
	assembler := service.NewAssemblerService(profiles, contexts, contextCache, log)
	summarizer := service.NewSummarizerService(conversations, messages, contexts, profiles,
		llmClient, cfg.LLMTimeout, contextCache.Invalidate, log)
	notifier := service.NewNotifierService(contexts, assembler, llmClient, cfg.LLMTimeout, log)

	summarizeTask := func(ctx context.Context, task queue.Task) error {
		return summarizer.SummarizeOne(ctx, task.ConversationID, task.StudentID)
	}

	// Queue. JetStream when NATS_URL is set, otherwise run-now-detached in
	// process. Either way the sweep backstops lost tasks.
	var taskQueue queue.Queue
	var natsQueue *queue.NATSQueue
	if cfg.NATSURL != "" {
		natsQueue, err = queue.ConnectNATS(ctx, queue.NATSConfig{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, summarizeTask, log)
		if err != nil {
			log.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsQueue.Close()

		consumer, err := natsQueue.StartConsumer(ctx)
		if err != nil {
			log.Error("failed to start summarization consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Stop()
		taskQueue = natsQueue
	} else {
		taskQueue = queue.NewInline(summarizeTask, log)
		log.Warn("NATS_URL not set, summarization runs on the inline queue")
	}

	sweep := jobs.NewSweepJob(summarizer, cfg.ActiveWindow, cfg.SweepInterval, cfg.SweepLimit, log)
	sweep.Start()
	defer sweep.Stop()

	healthHandler := handler.NewHealthHandler(db, natsQueue)
	chatHandler := handler.NewChatHandler(lifecycle, assembler, conversations, messages, llmClient, taskQueue, log)
	contextHandler := handler.NewContextHandler(assembler, log)
	notificationHandler := handler.NewNotificationHandler(notifier, cfg.NotifyWindow, cfg.NotifyLimit, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/chat", func(r chi.Router) {
			r.Post("/turn", chatHandler.Turn)
			r.Post("/end", chatHandler.End)
		})

		r.Route("/context", func(r chi.Router) {
			r.Get("/", contextHandler.Get)
			r.Post("/warmup", contextHandler.Warmup)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Use(middleware.RequireScope("notifications:decide"))
			r.Post("/decide", notificationHandler.Decide)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
