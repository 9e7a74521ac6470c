package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbscan/internal/book"
	"github.com/alanyoungcy/arbscan/internal/domain"
)

// BookHandler exposes the live order-book cache: a freshness summary of
// every tracked symbol and full depth for one book.
type BookHandler struct {
	books  *book.Cache
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler over the live cache.
func NewBookHandler(books *book.Cache, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, logger: logger}
}

// ListBooks returns the freshness summary for every tracked symbol.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	symbols := h.books.Symbols()
	writeJSON(w, http.StatusOK, map[string]any{
		"books": symbols,
		"count": len(symbols),
	})
}

// GetBook returns the current depth snapshot for one symbol. The symbol is
// the rest of the path so canonical "BASE/QUOTE" names need no escaping.
// Stale and quarantined books answer 409 so callers cannot mistake a dead
// book for a live one.
// GET /api/books/{exchange}/{symbol...}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")
	symbol := r.PathValue("symbol")
	if exchange == "" || symbol == "" {
		writeError(w, http.StatusBadRequest, "exchange and symbol are required")
		return
	}

	snap, err := h.books.Read(exchange, symbol)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "book not tracked: "+exchange+":"+symbol)
	case errors.Is(err, domain.ErrStale), errors.Is(err, domain.ErrQuarantined):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "book read failed",
			slog.String("exchange", exchange),
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "book read failed")
	}
}
