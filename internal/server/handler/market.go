package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/registry"
)

// MarketHandler serves the configured market universe from the in-memory
// registry, with an optional Postgres store for historical lookups.
type MarketHandler struct {
	registry *registry.Registry
	store    domain.MarketStore // optional
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. store may be nil when the
// scanner runs without Postgres.
func NewMarketHandler(reg *registry.Registry, store domain.MarketStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{registry: reg, store: store, logger: logger}
}

// ListMarkets returns every registered market descriptor.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.registry.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"count":   len(markets),
	})
}

// GetMarket returns one market by its "exchange:BASE/QUOTE" id, falling
// back to the store when the registry misses.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	for _, m := range h.registry.All() {
		if m.ID() == id {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}

	if h.store != nil {
		m, err := h.store.GetByID(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, m)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "market lookup failed",
				slog.String("id", id),
				slog.Any("error", err),
			)
			writeError(w, http.StatusInternalServerError, "market lookup failed")
			return
		}
	}

	writeError(w, http.StatusNotFound, "market not found: "+id)
}
