package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmroute/gemini-bridge/internal/providers"
)

type HealthHandler struct {
	registry *providers.Registry
	logger   *slog.Logger
	started  time.Time
}

func NewHealthHandler(registry *providers.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		logger:   logger,
		started:  time.Now(),
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	status := map[string]any{
		"status":  "ok",
		"vendors": h.registry.List(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
