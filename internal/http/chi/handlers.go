package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/library-catalog/book"
	"github.com/rs/zerolog"
)

// Handlers sets up the catalog API routes. metricsHandler is mounted on /metrics when not nil.
func Handlers(ctx context.Context, bookService book.UseCase, logger zerolog.Logger, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/books", getBooks(bookService))
		r.Method(http.MethodPost, "/books", postBook(bookService))
		r.Method(http.MethodGet, "/books/{id}", getBook(bookService))
		r.Method(http.MethodPut, "/books/{id}", putBook(bookService))
		r.Method(http.MethodDelete, "/books/{id}", deleteBook(bookService))
		r.Method(http.MethodGet, "/borrow", getSummary(bookService))
		r.Method(http.MethodPost, "/borrow", postBorrow(bookService))
	})

	return r
}
