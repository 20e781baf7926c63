package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/pipeline"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// Broadcaster pushes run events to websocket subscribers.
type Broadcaster interface {
	BroadcastRun(symbol string, stages pipeline.Stages)
}

// PipelineHandler handles pipeline API endpoints
// SSOT: pipeline API handlers live in this struct only
type PipelineHandler struct {
	orchestrator *pipeline.Orchestrator
	broadcaster  Broadcaster
	logger       *logger.Logger
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(orch *pipeline.Orchestrator, broadcaster Broadcaster, log *logger.Logger) *PipelineHandler {
	return &PipelineHandler{
		orchestrator: orch,
		broadcaster:  broadcaster,
		logger:       log,
	}
}

// run executes the pipeline and notifies subscribers.
func (h *PipelineHandler) run(r *http.Request) (*pipeline.Result, error) {
	result, err := h.orchestrator.Run(r.Context())
	if err != nil {
		return nil, err
	}
	if h.broadcaster != nil {
		h.broadcaster.BroadcastRun(result.Symbol, result.Stages)
	}
	return result, nil
}

// RunResponse summarizes one pipeline run for API consumers. The full
// aligned table stays server-side; rows are fetched via /features.
type RunResponse struct {
	Symbol   string          `json:"symbol"`
	Rows     int             `json:"rows"`
	Stages   pipeline.Stages `json:"stages"`
	Metrics  interface{}     `json:"metrics"`
	GapCount int             `json:"gap_count"`
	Elapsed  string          `json:"elapsed"`
}

// Run executes the pipeline
// POST /api/pipeline/run
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.run(r)
	if err != nil {
		h.respondRunError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RunResponse{
		Symbol:   result.Symbol,
		Rows:     len(result.Table.Rows),
		Stages:   result.Stages,
		Metrics:  result.Table.Metrics,
		GapCount: result.Adjustment.GapCount,
		Elapsed:  result.Elapsed.String(),
	})
}

// GetComposite returns the composite signal from the latest run
// GET /api/pipeline/composite
func (h *PipelineHandler) GetComposite(w http.ResponseWriter, r *http.Request) {
	result, err := h.run(r)
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.Composite)
}

// GetFeatures returns the engineered-feature table from the latest run
// GET /api/pipeline/features
func (h *PipelineHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	result, err := h.run(r)
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.Features)
}

// GetQuality returns per-factor quality metrics from the latest run
// GET /api/pipeline/quality
func (h *PipelineHandler) GetQuality(w http.ResponseWriter, r *http.Request) {
	result, err := h.run(r)
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.Quality)
}

// AdjustRequest selects the roll-adjustment policy
type AdjustRequest struct {
	Method string `json:"method"` // NONE, FRONT_ADJ, BACK_ADJ
}

// SetAdjustMethod switches the roll-adjustment policy
// PUT /api/pipeline/adjust
func (h *PipelineHandler) SetAdjustMethod(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	method := adjust.Method(req.Method)
	switch method {
	case adjust.MethodNone, adjust.MethodFront, adjust.MethodBack:
	default:
		respondError(w, http.StatusBadRequest, "method must be NONE, FRONT_ADJ or BACK_ADJ")
		return
	}

	h.orchestrator.Session().SetAdjustMethod(method)
	respondJSON(w, http.StatusOK, map[string]string{"method": req.Method})
}

// AdaptiveRequest toggles regime-adaptive weighting
type AdaptiveRequest struct {
	Adaptive bool `json:"adaptive"`
}

// SetAdaptive toggles regime-adaptive fusion weighting
// PUT /api/pipeline/adaptive
func (h *PipelineHandler) SetAdaptive(w http.ResponseWriter, r *http.Request) {
	var req AdaptiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.orchestrator.Session().SetAdaptive(req.Adaptive)
	respondJSON(w, http.StatusOK, map[string]bool{"adaptive": req.Adaptive})
}

func (h *PipelineHandler) respondRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrNoMasterData) {
		respondError(w, http.StatusConflict, "No master price series registered")
		return
	}
	h.logger.WithError(err).Error("Pipeline run failed")
	respondError(w, http.StatusInternalServerError, "Pipeline run failed")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
