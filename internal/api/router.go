package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantagrify/terrafactor/internal/api/handlers"
	"github.com/quantagrify/terrafactor/internal/pipeline"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// NewRouter creates and configures the HTTP router
// SSOT: routing is configured in this function only
func NewRouter(pipelineHandler *handlers.PipelineHandler, layersHandler *handlers.LayersHandler, jobsHandler *handlers.JobsHandler, hub *Hub, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Websocket run-event stream
	r.HandleFunc("/ws", hub.HandleWS)

	// API v1
	api := r.PathPrefix("/api").Subrouter()

	// Pipeline endpoints
	api.HandleFunc("/pipeline/run", pipelineHandler.Run).Methods("POST")
	api.HandleFunc("/pipeline/composite", pipelineHandler.GetComposite).Methods("GET")
	api.HandleFunc("/pipeline/features", pipelineHandler.GetFeatures).Methods("GET")
	api.HandleFunc("/pipeline/quality", pipelineHandler.GetQuality).Methods("GET")
	api.HandleFunc("/pipeline/adjust", pipelineHandler.SetAdjustMethod).Methods("PUT")
	api.HandleFunc("/pipeline/adaptive", pipelineHandler.SetAdaptive).Methods("PUT")

	// Registry endpoints
	api.HandleFunc("/layers", layersHandler.ListLayers).Methods("GET")
	api.HandleFunc("/layers", layersHandler.RegisterLayer).Methods("POST")
	api.HandleFunc("/layers/{name}", layersHandler.RemoveLayer).Methods("DELETE")
	api.HandleFunc("/layers/{name}/activate", layersHandler.ActivateLayer).Methods("PUT")
	api.HandleFunc("/factors", layersHandler.ListFactors).Methods("GET")
	api.HandleFunc("/factors", layersHandler.AddFactor).Methods("POST")
	api.HandleFunc("/factors/{id}", layersHandler.RemoveFactor).Methods("DELETE")
	api.HandleFunc("/factors/{id}/weight", layersHandler.SetWeight).Methods("PUT")

	// Scheduler endpoints
	api.HandleFunc("/jobs", jobsHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{name}/run", jobsHandler.RunJob).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// RunBroadcaster adapts the hub to the handler's Broadcaster interface.
type RunBroadcaster struct {
	Hub *Hub
}

// BroadcastRun pushes a run-complete event to websocket subscribers.
func (b *RunBroadcaster) BroadcastRun(symbol string, stages pipeline.Stages) {
	b.Hub.Broadcast(RunEvent{
		Type:      "run_complete",
		Symbol:    symbol,
		Align:     stages.Align,
		Factors:   stages.Factors,
		Composite: stages.Composite,
		Timestamp: time.Now(),
	})
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "terrafactor-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
