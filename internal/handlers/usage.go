package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lmroute/gemini-bridge/internal/store"
)

// UsageHandler serves aggregated token usage and the recent request
// log from the local store.
type UsageHandler struct {
	store  *store.DB
	logger *slog.Logger
}

func NewUsageHandler(db *store.DB, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{store: db, logger: logger}
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "request store disabled", http.StatusNotFound)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("hours"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			since = time.Now().Add(-time.Duration(hours) * time.Hour)
		}
	}

	usage, err := h.store.Usage(r.Context(), since)
	if err != nil {
		h.logger.Error("Failed to aggregate usage", "error", err)
		http.Error(w, "failed to aggregate usage", http.StatusInternalServerError)

		return
	}

	recent, err := h.store.RecentRequests(r.Context(), 20)
	if err != nil {
		h.logger.Error("Failed to list recent requests", "error", err)
		http.Error(w, "failed to list recent requests", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	out := map[string]any{
		"since":  since.UTC().Format(time.RFC3339),
		"usage":  usage,
		"recent": recent,
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("Failed to write usage response", "error", err)
	}
}
