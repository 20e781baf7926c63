package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// Session is the per-symbol signal registry: the master price series,
// every registered external layer, the factor roster, and the fusion
// settings. It is a pure state holder guarded by one RWMutex; all
// computation happens in the pipeline. Version counters tick on every
// mutation so the pipeline can recompute only the stages whose inputs
// actually changed.
// SSOT: session state lives here and nowhere else
type Session struct {
	mu sync.RWMutex

	symbol string
	logger *logger.Logger

	bars         []contracts.PriceBar
	adjustMethod adjust.Method

	layers      map[string]*contracts.Layer
	activeLayer string // layer name whose column is projected into LayerValue
	activeField string // field within the active layer, defaults to its first schema field

	definitions map[string]contracts.FactorDefinition
	weights     map[string]float64
	adaptive    bool

	// Published outputs, written back by the pipeline after a run.
	features  []contracts.FeatureRow
	composite *contracts.CompositeResult

	masterVersion  uint64
	layersVersion  uint64
	factorsVersion uint64
	weightsVersion uint64
}

// NewSession creates an empty session for one symbol.
func NewSession(symbol string, log *logger.Logger) *Session {
	return &Session{
		symbol:       symbol,
		logger:       log,
		adjustMethod: adjust.MethodNone,
		layers:       make(map[string]*contracts.Layer),
		definitions:  make(map[string]contracts.FactorDefinition),
		weights:      make(map[string]float64),
	}
}

// Symbol returns the session's instrument identifier.
func (s *Session) Symbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

// SetMasterBars replaces the master price series. Bars must be
// validated (strictly increasing dates) before registration.
func (s *Session) SetMasterBars(bars []contracts.PriceBar) error {
	if err := contracts.ValidateBars(bars); err != nil {
		return fmt.Errorf("master bars for %s: %w", s.symbol, err)
	}

	s.mu.Lock()
	s.bars = bars
	s.masterVersion++
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"symbol": s.symbol,
		"bars":   len(bars),
	}).Info("Registered master price series")
	return nil
}

// MasterBars returns the current master series and its version.
func (s *Session) MasterBars() ([]contracts.PriceBar, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bars, s.masterVersion
}

// SetAdjustMethod switches the roll-adjustment policy. Changing the
// policy invalidates the master stage, not the layers.
func (s *Session) SetAdjustMethod(method adjust.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adjustMethod == method {
		return
	}
	s.adjustMethod = method
	s.masterVersion++
}

// AdjustMethod returns the active roll-adjustment policy.
func (s *Session) AdjustMethod() adjust.Method {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adjustMethod
}

// RegisterLayer adds or replaces a layer by name. Registering a layer
// with no observations is allowed; it simply never joins.
func (s *Session) RegisterLayer(layer *contracts.Layer) error {
	if layer == nil || layer.Name == "" {
		return fmt.Errorf("layer for %s: missing name", s.symbol)
	}

	s.mu.Lock()
	s.layers[layer.Name] = layer
	s.layersVersion++
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"symbol": s.symbol,
		"layer":  layer.Name,
		"kind":   string(layer.Kind),
		"points": len(layer.Points),
	}).Info("Registered layer")
	return nil
}

// RemoveLayer drops a layer by name. Removing the active layer clears
// the active selection.
func (s *Session) RemoveLayer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.layers[name]; !ok {
		return
	}
	delete(s.layers, name)
	if s.activeLayer == name {
		s.activeLayer = ""
		s.activeField = ""
	}
	s.layersVersion++
}

// Layers returns the joinable layers sorted by name, plus the layers
// version. Sorting keeps fusion output deterministic across runs.
func (s *Session) Layers() ([]*contracts.Layer, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*contracts.Layer, 0, len(s.layers))
	for _, l := range s.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, s.layersVersion
}

// Layer returns one layer by name.
func (s *Session) Layer(name string) (*contracts.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[name]
	return l, ok
}

// SetActiveLayer selects which layer's field is projected into the
// aligned table's LayerValue column. An empty field picks the layer
// kind's first canonical field.
func (s *Session) SetActiveLayer(name, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		if s.activeLayer != "" {
			s.activeLayer = ""
			s.activeField = ""
			s.layersVersion++
		}
		return nil
	}

	layer, ok := s.layers[name]
	if !ok {
		return fmt.Errorf("active layer %q for %s: not registered", name, s.symbol)
	}
	if field == "" {
		schema := contracts.LayerSchema[layer.Kind]
		if len(schema) == 0 {
			return fmt.Errorf("active layer %q for %s: kind %s has no joinable fields", name, s.symbol, layer.Kind)
		}
		field = schema[0]
	}

	s.activeLayer = name
	s.activeField = field
	s.layersVersion++
	return nil
}

// ActiveColumn returns the namespaced column name of the active layer
// selection, or "" when none is set.
func (s *Session) ActiveColumn() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeLayer == "" {
		return ""
	}
	return s.activeLayer + "_" + s.activeField
}

// Regime returns the regime state from the first regime-kind layer in
// name order, or nil. Sessions normally carry at most one regime layer;
// the ordering keeps the pick deterministic when they carry more.
func (s *Session) Regime() *contracts.RegimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, 1)
	for name, l := range s.layers {
		if l.Kind == contracts.LayerRegime && l.Regime != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return s.layers[names[0]].Regime
}

// AddFactor registers a factor definition with an initial weight of 1.
func (s *Session) AddFactor(def contracts.FactorDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("factor for %s: missing id", s.symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.definitions[def.ID]; exists {
		return fmt.Errorf("factor %q for %s: already registered", def.ID, s.symbol)
	}
	s.definitions[def.ID] = def
	s.weights[def.ID] = 1
	s.factorsVersion++
	s.weightsVersion++
	return nil
}

// RemoveFactor drops a factor and its weight.
func (s *Session) RemoveFactor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[id]; !ok {
		return
	}
	delete(s.definitions, id)
	delete(s.weights, id)
	s.factorsVersion++
	s.weightsVersion++
}

// Factors returns the definitions sorted by ID, plus the roster version.
func (s *Session) Factors() ([]contracts.FactorDefinition, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.FactorDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, s.factorsVersion
}

// SetWeight updates one factor's base fusion weight. Base weights are
// non-negative; they need not sum to 1.
func (s *Session) SetWeight(id string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("weight for %q on %s: must be non-negative, got %v", id, s.symbol, weight)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[id]; !ok {
		return fmt.Errorf("weight for %q on %s: factor not registered", id, s.symbol)
	}
	s.weights[id] = weight
	s.weightsVersion++
	return nil
}

// Weights returns a copy of the base weight vector and its version.
func (s *Session) Weights() (map[string]float64, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.weights))
	for id, w := range s.weights {
		out[id] = w
	}
	return out, s.weightsVersion
}

// SetAdaptive toggles regime-adaptive weighting.
func (s *Session) SetAdaptive(adaptive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adaptive == adaptive {
		return
	}
	s.adaptive = adaptive
	s.weightsVersion++
}

// Adaptive reports whether regime-adaptive weighting is enabled.
func (s *Session) Adaptive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adaptive
}

// PublishFeatures stores the engineered-feature table produced by a
// pipeline run.
func (s *Session) PublishFeatures(rows []contracts.FeatureRow) {
	s.mu.Lock()
	s.features = rows
	s.mu.Unlock()
}

// Features returns the last published feature table, or nil.
func (s *Session) Features() []contracts.FeatureRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features
}

// PublishComposite stores the composite signal produced by a pipeline
// run.
func (s *Session) PublishComposite(result *contracts.CompositeResult) {
	s.mu.Lock()
	s.composite = result
	s.mu.Unlock()
}

// Composite returns the last published composite result, or nil.
func (s *Session) Composite() *contracts.CompositeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.composite
}

// Versions snapshots all stage version counters at once, under one
// lock, so the pipeline sees a consistent view.
func (s *Session) Versions() (master, layers, factors, weights uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masterVersion, s.layersVersion, s.factorsVersion, s.weightsVersion
}
