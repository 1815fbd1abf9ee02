package api

import (
	"net/http"

	"credit-ledger-go/internal/metrics"
	"credit-ledger-go/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires every endpoint of the credit ledger API
func NewRouter(svc *LedgerService, cfg models.ServerConfig) http.Handler {
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", svc.handleHealth)

		r.Route("/credits/{userId}", func(r chi.Router) {
			r.Get("/", svc.handleGetBalance)
			r.Put("/", svc.handleOpenAccount)
			r.Post("/transactions", svc.handleCreateTransaction)
			r.Post("/refresh", svc.handleRefresh)
			r.Get("/reconcile", svc.handleReconcile)
		})

		r.Put("/subscriptions/{userId}", svc.handleSetSubscription)
		r.Post("/admin/refresh", svc.handleTriggerBatchRefresh)
	})

	return r
}
