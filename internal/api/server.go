package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/gameprobe/internal/proxy"
	"github.com/shehryarbajwa/gameprobe/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Run endpoints (rate limited)
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, requestsPerHour, h.deps.Metrics.RateLimited))

	rateLimitedAPI.HandleFunc("/runs", h.CreateRun).Methods("POST", "OPTIONS")
	rateLimitedAPI.HandleFunc("/runs", h.ListRuns).Methods("GET")
	rateLimitedAPI.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")

	// Artifacts and live events (not rate limited - polled and long lived)
	api.HandleFunc("/runs/{id}/artifacts", h.ListArtifacts).Methods("GET")
	api.HandleFunc("/runs/{id}/artifacts/{name}", h.GetArtifact).Methods("GET")
	api.HandleFunc("/runs/{id}/archive", h.GetArchive).Methods("GET")
	api.HandleFunc("/runs/{id}/events", h.StreamEvents).Methods("GET")

	api.HandleFunc("/suites", h.ListSuites).Methods("GET")

	// Session and debug endpoints
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/debug", h.GetDebugURL).Methods("GET")
	api.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		sessionID := vars["id"]
		proxyServer.HandleDebugConnection(w, r, sessionID)
	}).Methods("GET")

	r.Handle("/metrics", h.deps.Metrics.Handler()).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
