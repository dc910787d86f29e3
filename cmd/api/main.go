// Package main is the entry point for the stylist API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stylist-engine/internal/config"
	"github.com/capitalize-ai/stylist-engine/internal/handler"
	"github.com/capitalize-ai/stylist-engine/internal/llm"
	"github.com/capitalize-ai/stylist-engine/internal/middleware"
	natsclient "github.com/capitalize-ai/stylist-engine/internal/nats"
	"github.com/capitalize-ai/stylist-engine/internal/pipeline"
	"github.com/capitalize-ai/stylist-engine/internal/profile"
	"github.com/capitalize-ai/stylist-engine/internal/service"
	"github.com/capitalize-ai/stylist-engine/internal/session"
	"github.com/capitalize-ai/stylist-engine/internal/store/memory"
	"github.com/capitalize-ai/stylist-engine/internal/stylist"
	"github.com/capitalize-ai/stylist-engine/pkg/logger"
	"github.com/capitalize-ai/stylist-engine/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting stylist API server",
		zap.String("thread_store", cfg.ThreadStore),
		zap.Bool("embedded_stylist", cfg.EmbeddedStylist),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "stylist-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// NATS carries the thread log and the stylist collaborators.
	var natsClient *natsclient.Client
	if cfg.NeedsNATS() {
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
	}

	threads, err := buildThreadStore(ctx, cfg, natsClient)
	if err != nil {
		log.Fatal("failed to set up thread store", zap.Error(err))
	}

	collaborators, stop, err := buildCollaborators(cfg, natsClient, log)
	if err != nil {
		log.Fatal("failed to set up stylist collaborators", zap.Error(err))
	}
	defer stop()

	profiles, err := profile.LoadFile(cfg.ProfilesFile)
	if err != nil {
		log.Warn("no profiles loaded, every user starts with an empty profile",
			zap.String("file", cfg.ProfilesFile),
			zap.Error(err),
		)
		profiles = profile.NewStore()
	}

	assistant := llm.NewAssistant(buildLLMClient(cfg, log), cfg.AssistantModel, cfg.AssistantMaxTokens)

	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Curator:  collaborators,
		Remixer:  collaborators,
		Wardrobe: collaborators,
		Images:   collaborators,
		Writer:   threads,
	}, pipeline.Config{ImageConcurrency: cfg.ImageConcurrency}, log)

	sessionSvc := service.NewSessionService(profiles, session.Dependencies{
		Threads:   threads,
		Assistant: assistant,
		Pipeline:  orchestrator,
	}, log, session.WithHistoryLimit(cfg.HistoryLimit))
	defer sessionSvc.Shutdown()

	var readiness handler.ConnectionChecker
	if natsClient != nil {
		readiness = natsClient
	}
	healthHandler := handler.NewHealthHandler(readiness)
	sessionHandler := handler.NewSessionHandler(sessionSvc, log)
	messageHandler := handler.NewMessageHandler(sessionSvc, log)
	streamHandler := handler.NewStreamHandler(sessionSvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Post("/new", sessionHandler.StartNew)
				r.Get("/timeline", sessionHandler.Timeline)
				r.Get("/stream", streamHandler.Stream)

				r.With(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).
					Post("/messages", messageHandler.Submit)
			})
		})

		r.With(middleware.RequireScope(middleware.ScopeAdmin)).
			Get("/admin/sessions", sessionHandler.Stats)
	})

	// WriteTimeout stays zero so SSE streams are not cut off; handlers bound
	// their own work.
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		ReadTimeout: cfg.ServerReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

type threadStore interface {
	session.ThreadStore
	pipeline.MessageWriter
}

func buildThreadStore(ctx context.Context, cfg *config.Config, client *natsclient.Client) (threadStore, error) {
	if cfg.ThreadStore == config.ThreadStoreMemory {
		return memory.NewThreadStore(), nil
	}

	store := natsclient.NewThreadStore(client)
	if err := store.EnsureStream(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

type collaborators interface {
	pipeline.Curator
	pipeline.Remixer
	pipeline.Wardrobe
	pipeline.ImageGenerator
}

// buildCollaborators returns the stylist collaborators. In embedded mode the
// catalog answers in process, and also on NATS when a connection exists so
// other instances can share it.
func buildCollaborators(cfg *config.Config, client *natsclient.Client, log *logger.Logger) (collaborators, func(), error) {
	if !cfg.EmbeddedStylist {
		return stylist.NewClient(client.Conn(), stylist.Config{
			SubjectPrefix: cfg.StylistSubjectPrefix,
			Timeout:       cfg.CollaboratorTimeout,
		}), func() {}, nil
	}

	catalog, err := stylist.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, nil, err
	}

	if client == nil {
		return catalog, func() {}, nil
	}

	subs, err := stylist.Serve(client.Conn(), cfg.StylistSubjectPrefix, catalog, log)
	if err != nil {
		return nil, nil, err
	}
	return catalog, func() { unsubscribe(subs, log) }, nil
}

func unsubscribe(subs []*nats.Subscription, log *logger.Logger) {
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn("failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
}

func buildLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	client, err := llm.Resolve(llm.Provider(cfg.DefaultLLM), cfg.AnthropicAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		log.Warn("no LLM client, assistant turns will fail", zap.Error(err))
		return nil
	}
	log.Info("using LLM provider", zap.String("provider", client.Name()))
	return client
}
