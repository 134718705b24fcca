package api

import (
	"github.com/gorilla/mux"

	"github.com/trogers1052/oil-risk-service/internal/metrics"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	// Health check and metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Risk runs and projections
	api.HandleFunc("/risk/run", handler.RunRisk).Methods("POST")
	api.HandleFunc("/risk/report", handler.GetReport).Methods("GET")
	api.HandleFunc("/risk/summary", handler.GetSummary).Methods("GET")
	api.HandleFunc("/risk/positions", handler.GetPositions).Methods("GET")
	api.HandleFunc("/risk/exposure", handler.GetExposure).Methods("GET")
	api.HandleFunc("/risk/hedges", handler.GetHedges).Methods("GET")
	api.HandleFunc("/risk/unhedged", handler.GetUnhedged).Methods("GET")
	api.HandleFunc("/risk/trade-groups", handler.GetTradeGroups).Methods("GET")
	api.HandleFunc("/risk/stress", handler.GetStress).Methods("GET")
	api.HandleFunc("/risk/backtest", handler.RunBacktest).Methods("POST")

	// Limits and breaches
	api.HandleFunc("/limits", handler.GetLimits).Methods("GET")
	api.HandleFunc("/limits", handler.CreateLimit).Methods("POST")
	api.HandleFunc("/limits/utilization", handler.GetUtilization).Methods("GET")
	api.HandleFunc("/limits/{id:[0-9]+}", handler.UpdateLimit).Methods("PUT")
	api.HandleFunc("/breaches", handler.GetBreaches).Methods("GET")
	api.HandleFunc("/breaches/{id}/acknowledge", handler.AcknowledgeBreach).Methods("POST")

	// Stress scenarios
	api.HandleFunc("/scenarios", handler.GetScenarios).Methods("GET")
	api.HandleFunc("/scenarios", handler.CreateScenario).Methods("POST")
	api.HandleFunc("/scenarios/{id:[0-9]+}", handler.GetScenario).Methods("GET")
	api.HandleFunc("/scenarios/{id:[0-9]+}", handler.UpdateScenario).Methods("PUT")
	api.HandleFunc("/scenarios/{id:[0-9]+}", handler.DeleteScenario).Methods("DELETE")

	return r
}
