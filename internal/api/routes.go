package api

import (
	"encoding/json"
	"net/http"

	"ghostwall/internal/filter"
	"ghostwall/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/static/ghost.js"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/", handlers.Home).Methods("GET")
	router.HandleFunc("/static/ghost.js", handlers.Script).Methods("GET")
	router.HandleFunc("/track", handlers.Track).Methods("POST")

	router.HandleFunc("/log", handlers.Log).Methods("GET")
	router.HandleFunc("/log.json", handlers.LogJSON).Methods("GET")
	router.HandleFunc("/log.csv", handlers.LogCSV).Methods("GET")
	router.HandleFunc("/stats", handlers.Stats).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdminKey(config.Security.AdminKey))
	admin.HandleFunc("/clear", handlers.ClearLog).Methods("POST")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}

// Handler places the inbound filter in front of the router. The filter must
// see every request, including paths no route matches such as the honeypot,
// so it wraps the router instead of being registered with Use.
func Handler(router *mux.Router, f *filter.Filter) http.Handler {
	if f == nil {
		return router
	}
	return recoveryMiddleware(f.Middleware(router))
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeMethodNotAllowed)
	json.NewEncoder(w).Encode(errorResp)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	errorResp := models.NewErrorResponse("Not found", models.ErrorCodeNotFound)
	json.NewEncoder(w).Encode(errorResp)
}
