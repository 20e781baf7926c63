package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// LayersHandler handles layer and factor registry endpoints
// SSOT: registry API handlers live in this struct only
type LayersHandler struct {
	session *registry.Session
	logger  *logger.Logger
}

// NewLayersHandler creates a new layers handler
func NewLayersHandler(session *registry.Session, log *logger.Logger) *LayersHandler {
	return &LayersHandler{
		session: session,
		logger:  log,
	}
}

// LayerSummary is the list-view projection of a layer.
type LayerSummary struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Points int    `json:"points"`
	Active bool   `json:"active"`
}

// ListLayers returns all registered layers
// GET /api/layers
func (h *LayersHandler) ListLayers(w http.ResponseWriter, r *http.Request) {
	layers, _ := h.session.Layers()
	activeColumn := h.session.ActiveColumn()

	out := make([]LayerSummary, 0, len(layers))
	for _, l := range layers {
		active := activeColumn != "" && len(activeColumn) > len(l.Name) &&
			activeColumn[:len(l.Name)+1] == l.Name+"_"
		out = append(out, LayerSummary{
			Name:   l.Name,
			Kind:   string(l.Kind),
			Points: len(l.Points),
			Active: active,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// RegisterLayer adds or replaces a layer
// POST /api/layers
func (h *LayersHandler) RegisterLayer(w http.ResponseWriter, r *http.Request) {
	var layer contracts.Layer
	if err := json.NewDecoder(r.Body).Decode(&layer); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.session.RegisterLayer(&layer); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"name": layer.Name})
}

// RemoveLayer drops a layer
// DELETE /api/layers/{name}
func (h *LayersHandler) RemoveLayer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.session.RemoveLayer(name)
	respondJSON(w, http.StatusOK, map[string]string{"removed": name})
}

// ActivateRequest selects the projected field of the active layer.
type ActivateRequest struct {
	Field string `json:"field"` // empty picks the kind's first canonical field
}

// ActivateLayer selects the layer projected into the aligned table
// PUT /api/layers/{name}/activate
func (h *LayersHandler) ActivateLayer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req ActivateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.session.SetActiveLayer(name, req.Field); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"active": h.session.ActiveColumn()})
}

// ListFactors returns the factor roster with base weights
// GET /api/factors
func (h *LayersHandler) ListFactors(w http.ResponseWriter, r *http.Request) {
	defs, _ := h.session.Factors()
	weights, _ := h.session.Weights()

	type factorView struct {
		contracts.FactorDefinition
		Weight float64 `json:"weight"`
	}
	out := make([]factorView, 0, len(defs))
	for _, def := range defs {
		out = append(out, factorView{FactorDefinition: def, Weight: weights[def.ID]})
	}
	respondJSON(w, http.StatusOK, out)
}

// AddFactor registers a factor definition
// POST /api/factors
func (h *LayersHandler) AddFactor(w http.ResponseWriter, r *http.Request) {
	var def contracts.FactorDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.session.AddFactor(def); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": def.ID})
}

// RemoveFactor drops a factor
// DELETE /api/factors/{id}
func (h *LayersHandler) RemoveFactor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.session.RemoveFactor(id)
	respondJSON(w, http.StatusOK, map[string]string{"removed": id})
}

// WeightRequest updates one factor's base fusion weight.
type WeightRequest struct {
	Weight float64 `json:"weight"`
}

// SetWeight updates a factor's base weight
// PUT /api/factors/{id}/weight
func (h *LayersHandler) SetWeight(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req WeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Weight < 0 {
		respondError(w, http.StatusBadRequest, "Weight must be non-negative")
		return
	}

	if err := h.session.SetWeight(id, req.Weight); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "weight": req.Weight})
}
