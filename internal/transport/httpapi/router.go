package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fintrackhq/fintrack/internal/transport/httpapi/handler"
	"github.com/fintrackhq/fintrack/internal/transport/httpapi/middleware"
	"github.com/fintrackhq/fintrack/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger             *logger.Logger
	AllowedOrigins     []string
	StatementHandler   *handler.StatementHandler
	TransactionHandler *handler.TransactionHandler
	ArchiveHandler     *handler.ArchiveHandler
	HealthHandler      *handler.HealthHandler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit())

	// Health check endpoints
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.StatementHandler != nil {
			r.Post("/statements", cfg.StatementHandler.UploadStatement)
			r.Get("/statements", cfg.StatementHandler.ListStatements)
			r.Get("/statements/{id}", cfg.StatementHandler.GetStatement)
			r.Get("/statements/{id}/logs", cfg.StatementHandler.GetStatementLogs)
			r.Delete("/statements/{id}", cfg.StatementHandler.DeleteStatement)
		}

		if cfg.TransactionHandler != nil {
			r.Get("/transactions", cfg.TransactionHandler.ListTransactions)
			r.Get("/transactions/{id}", cfg.TransactionHandler.GetTransaction)
			r.Get("/transactions/{id}/lineage", cfg.TransactionHandler.GetTransactionLineage)
		}

		if cfg.ArchiveHandler != nil {
			r.Post("/archive", cfg.ArchiveHandler.RunArchive)
			r.Post("/archive/restore", cfg.ArchiveHandler.RunRestore)
		}
	})

	return r
}
