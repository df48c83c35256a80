package api

import (
	"collab-sync/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing, recovery, CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Document endpoints
	api.HandleFunc("/documents/{id}/push", h.PushSteps).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}/snapshot", h.GetSnapshot).Methods("GET")
	api.HandleFunc("/documents/{id}/history", h.GetHistory).Methods("GET")

	api.HandleFunc("/health", h.Health).Methods("GET")

	// WebSocket collaboration
	r.HandleFunc("/ws/documents/{id}", h.HandleDocumentWebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
