package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbscan/internal/book"
	"github.com/alanyoungcy/arbscan/internal/scan"
)

// StatusHandler reports scanner progress and book freshness in one
// snapshot.
type StatusHandler struct {
	scanner   *scan.Scanner
	books     *book.Cache
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. scanner may be nil in serve
// mode, where no scan loop is running.
func NewStatusHandler(scanner *scan.Scanner, books *book.Cache, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		scanner:   scanner,
		books:     books,
		mode:      mode,
		startedAt: startedAt,
		logger:    logger,
	}
}

// Status returns run mode, uptime, scanner counters, and per-book
// freshness counts.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if h.scanner != nil {
		resp["scanner"] = h.scanner.Stats()
	}

	if h.books != nil {
		var fresh, stale, quarantined int
		for _, s := range h.books.Symbols() {
			switch {
			case s.Quarantined:
				quarantined++
			case s.Stale:
				stale++
			default:
				fresh++
			}
		}
		resp["books"] = map[string]int{
			"fresh":       fresh,
			"stale":       stale,
			"quarantined": quarantined,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
