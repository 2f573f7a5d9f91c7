// Package main is the entry point for the API server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/config"
	"github.com/anand-san/murmur/internal/handler"
	"github.com/anand-san/murmur/internal/llm"
	"github.com/anand-san/murmur/internal/middleware"
	natsclient "github.com/anand-san/murmur/internal/nats"
	"github.com/anand-san/murmur/internal/secret"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/internal/store"
	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/tracing"
)

type eventBus interface {
	natsclient.Publisher
	natsclient.Reader
}

type handlers struct {
	health        *handler.HealthHandler
	conversations *handler.ConversationHandler
	events        *handler.EventHandler
	stream        *handler.StreamHandler
	catalog       *handler.CatalogHandler
	agents        *handler.AgentHandler
	speech        *handler.SpeechHandler
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "murmur-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the database
	db, err := store.Open(cfg.DatabasePath, store.WithTitleMaxLength(cfg.TitleMaxLength))
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}
	defer db.Close()

	sealer, err := secret.FromConfig(cfg.EncryptionKey, cfg.EncryptionPassphrase, cfg.EncryptionSalt)
	if err != nil {
		log.Fatal("failed to initialize credential sealing", zap.Error(err))
	}

	// Connect to NATS when configured
	var (
		bus        eventBus = natsclient.NopBus{}
		natsClient *natsclient.Client
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		events := natsclient.NewEventBus(natsClient, log)
		if err := events.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		bus = events
	} else {
		log.Info("NATS_URL not set, conversation events disabled")
	}

	// Initialize services
	registry := llm.NewBuilder(db, sealer, llm.DefaultFactories(), log)
	conversationSvc := service.NewConversationService(db, bus, log)
	agentSvc := service.NewAgentService(db, log)
	completionSvc := service.NewCompletionService(db, registry, bus, service.CompletionOptions{
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		Agents:       agentSvc,
	}, log)
	catalogSvc := service.NewCatalogService(db, sealer, bus, log)
	speechSvc := service.NewSpeechService(cfg.WhisperAPIURL, cfg.WhisperAPIKey, cfg.WhisperModel, log)

	// Initialize handlers
	h := handlers{
		health:        handler.NewHealthHandler(db, natsClient),
		conversations: handler.NewConversationHandler(conversationSvc, log),
		events:        handler.NewEventHandler(conversationSvc, bus, log),
		stream:        handler.NewStreamHandler(completionSvc, log),
		catalog:       handler.NewCatalogHandler(catalogSvc, log),
		agents:        handler.NewAgentHandler(agentSvc, log),
		speech:        handler.NewSpeechHandler(speechSvc, log),
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, log, h),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Finished streams may still be writing their turn.
	completionSvc.Wait()

	log.Info("server stopped")
}

func newRouter(cfg *config.Config, log *logger.Logger, h handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

	// Health endpoints (no auth required)
	r.Get("/health", h.health.Health)
	r.Get("/ready", h.health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", h.stream.Chat)
		r.Post("/speech/speechtotext", h.speech.SpeechToText)
		r.Get("/model-registry", h.catalog.Registry)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.conversations.Create)
			r.Get("/", h.conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.conversations.Get)
				r.Put("/", h.conversations.Update)
				r.Delete("/", h.conversations.Delete)
				r.Get("/messages", h.conversations.Messages)
				r.Get("/events", h.events.List)
			})
		})

		// Agents
		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.agents.Create)
			r.Get("/", h.agents.List)
			r.Get("/default", h.agents.Default)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.agents.Get)
				r.Put("/", h.agents.Update)
				r.Delete("/", h.agents.Delete)
				r.Post("/set-default", h.agents.SetDefault)
			})
		})

		// Provider credentials
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.catalog.ListProviders)
			r.Get("/{id}", h.catalog.GetProvider)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(cfg.CatalogScope))
				r.Post("/", h.catalog.CreateProvider)
				r.Put("/{id}", h.catalog.UpdateProvider)
				r.Delete("/{id}", h.catalog.DeleteProvider)
				r.Post("/{id}/set-default", h.catalog.SetDefaultProvider)
			})
		})

		// Model descriptors
		r.Route("/models", func(r chi.Router) {
			r.Get("/provider/{providerId}", h.catalog.ListModels)
			r.Get("/{id}", h.catalog.GetModel)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(cfg.CatalogScope))
				r.Post("/", h.catalog.CreateModel)
				r.Put("/{id}", h.catalog.UpdateModel)
				r.Delete("/{id}", h.catalog.DeleteModel)
				r.Post("/{id}/set-default", h.catalog.SetDefaultModel)
			})
		})
	})

	return r
}
