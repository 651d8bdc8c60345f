// Package main is the entry point for the API server.
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

	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/config"
	"github.com/orbitos/conversation-platform/internal/handler"
	"github.com/orbitos/conversation-platform/internal/llm"
	"github.com/orbitos/conversation-platform/internal/model"
	natsclient "github.com/orbitos/conversation-platform/internal/nats"
	"github.com/orbitos/conversation-platform/internal/orchestrator"
	"github.com/orbitos/conversation-platform/internal/orgcontext"
	"github.com/orbitos/conversation-platform/internal/relevance"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
	"github.com/orbitos/conversation-platform/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, logger.Format(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	defer logger.SetGlobal(log)()

	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "orbitos-conversation-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.WithoutCancel(ctx), tp)
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	orgs := service.NewOrganizationService(st, log)
	if cfg.AuthDisabled {
		if err := ensureDefaultOrganization(ctx, st, cfg); err != nil {
			return err
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}

	// Initialize LLM clients
	router := llm.NewRouter(llm.ProviderName(cfg.DefaultLLM), cfg.ProviderTimeout, cfg.ResponseMaxToken, llmClients(cfg, log)...)
	if router.Empty() {
		log.Warn("no LLM provider configured, agent responses will fail")
	}

	scoringProvider := cfg.ScoringProvider
	if scoringProvider == "" {
		scoringProvider = cfg.DefaultLLM
	}
	scorer := relevance.NewScorer(router.Client(scoringProvider), cfg.ScoringModel, log,
		relevance.WithTimeout(cfg.ProviderTimeout),
	)

	// Initialize orchestration
	contexts := orgcontext.NewBuilder(st)
	generator := orchestrator.NewResponseGenerator(router, contexts, orchestrator.NewAcknowledger(nil))
	locker := orchestrator.NewConversationLocker()
	orch := orchestrator.New(st, scorer, generator, contexts, streamManager, locker, log)

	// Initialize services
	agentSvc := service.NewAgentService(st, llm.ProviderName(cfg.DefaultLLM), log)
	conversationSvc := service.NewConversationService(st, cfg.EmergentDefaults, log)
	messageSvc := service.NewMessageService(st, locker, streamManager, conversationSvc, log)

	routes := handler.NewRouter(handler.RouterConfig{
		Logger:                log,
		AuthDisabled:          cfg.AuthDisabled,
		JWTSecret:             cfg.JWTSecret,
		DefaultOrganizationID: cfg.DefaultOrganizationID,
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRequests:     cfg.RateLimitRequests,
		InvokeRateLimit:       cfg.InvokeRateLimit,
		RateLimitWindow:       cfg.RateLimitWindow,
		Health:                handler.NewHealthHandler(st, natsClient),
		Organizations:         handler.NewOrganizationHandler(orgs, log),
		Agents:                handler.NewAgentHandler(agentSvc, log),
		Conversations:         handler.NewConversationHandler(conversationSvc, log),
		Messages:              handler.NewMessageHandler(messageSvc, orch, log),
		Stream:                handler.NewStreamHandler(messageSvc, streamManager, log),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      routes,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openStore selects PostgreSQL when DATABASE_URL is set and the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmergentDefaults, log)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// ensureDefaultOrganization creates the organization anonymous callers
// resolve to.
func ensureDefaultOrganization(ctx context.Context, st store.Store, cfg *config.Config) error {
	_, err := st.GetOrganization(ctx, cfg.DefaultOrganizationID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up default organization: %w", err)
	}

	now := time.Now()
	return st.CreateOrganization(ctx, &model.Organization{
		ID:        cfg.DefaultOrganizationID,
		Name:      cfg.DefaultOrganizationName,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func llmClients(cfg *config.Config, log *logger.Logger) []llm.Client {
	var clients []llm.Client

	if cfg.AnthropicAPIKey != "" {
		c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client", zap.Error(err))
		} else {
			clients = append(clients, c)
		}
	}

	if cfg.OpenAIAPIKey != "" {
		var (
			c   *llm.OpenAIClient
			err error
		)
		if cfg.OpenAIBaseURL != "" {
			c, err = llm.NewOpenAIClientWithBaseURL(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		} else {
			c, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		}
		if err != nil {
			log.Warn("failed to create OpenAI client", zap.Error(err))
		} else {
			clients = append(clients, c)
		}
	}

	return clients
}
