package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// RecentSource serves the most recently emitted opportunities from memory.
// Satisfied by service.OpportunityService.
type RecentSource interface {
	Recent(limit int) []domain.Opportunity
}

// OpportunityHandler serves emitted opportunities: the live in-memory ring
// for low-latency polling, and Postgres history when a store is wired.
type OpportunityHandler struct {
	recent RecentSource
	store  domain.OpportunityStore // optional
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. recent may be nil in
// serve mode (history only); store may be nil when Postgres is not wired.
func NewOpportunityHandler(recent RecentSource, store domain.OpportunityStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{recent: recent, store: store, logger: logger}
}

// ListOpportunities returns recent opportunities. source=live (default when
// a scanner is running) reads the in-memory ring; source=history reads the
// store. asset=X filters history by input asset.
// GET /api/opportunities
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	if source == "" {
		if h.recent != nil {
			source = "live"
		} else {
			source = "history"
		}
	}

	switch source {
	case "live":
		if h.recent == nil {
			writeError(w, http.StatusBadRequest, "no live scanner in this mode; use source=history")
			return
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		opps := h.recent.Recent(limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"opportunities": opps,
			"count":         len(opps),
			"source":        "live",
		})

	case "history":
		if h.store == nil {
			writeError(w, http.StatusBadRequest, "opportunity history requires postgres; use source=live")
			return
		}
		opts := parseListOpts(r)

		var (
			opps []domain.Opportunity
			err  error
		)
		if asset := q.Get("asset"); asset != "" {
			opps, err = h.store.ListByAsset(r.Context(), domain.Asset(asset), opts)
		} else {
			opps, err = h.store.ListRecent(r.Context(), opts.Limit)
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "opportunity list failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "opportunity list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"opportunities": opps,
			"count":         len(opps),
			"source":        "history",
		})

	default:
		writeError(w, http.StatusBadRequest, "unknown source "+source+" (valid: live, history)")
	}
}

// GetOpportunity returns one stored opportunity by id.
// GET /api/opportunities/{id}
func (h *OpportunityHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusBadRequest, "opportunity lookup requires postgres")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "opportunity id is required")
		return
	}

	opp, err := h.store.GetByID(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, opp)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "opportunity not found: "+id)
	default:
		h.logger.ErrorContext(r.Context(), "opportunity lookup failed",
			slog.String("id", id),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "opportunity lookup failed")
	}
}
