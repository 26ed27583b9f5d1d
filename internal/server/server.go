package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmroute/gemini-bridge/internal/config"
	"github.com/lmroute/gemini-bridge/internal/handlers"
	"github.com/lmroute/gemini-bridge/internal/middleware"
	"github.com/lmroute/gemini-bridge/internal/providers"
	"github.com/lmroute/gemini-bridge/internal/store"
)

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	store    *store.DB
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	registry := providers.NewRegistry()
	registry.Initialize(providers.NewSignatureCache(providers.DefaultSignatureTTL, time.Now))

	return &Server{
		config:   configManager,
		registry: registry,
		logger:   logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if cfg.StorePath != "" {
		db, err := store.Open(context.Background(), cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open request store: %w", err)
		}

		s.store = db
		defer db.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	chatHandler := handlers.NewChatHandler(s.config, s.registry, s.store, s.logger)
	healthHandler := handlers.NewHealthHandler(s.registry, s.logger)
	usageHandler := handlers.NewUsageHandler(s.store, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/usage", middlewareSet.DefaultChain().Handler(usageHandler))
	mux.Handle("/v1/chat/completions", middlewareSet.DefaultChain().Handler(chatHandler))

	return mux
}
