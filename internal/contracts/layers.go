package contracts

// LayerKind classifies a registered data layer.
type LayerKind string

const (
	LayerWeather   LayerKind = "weather"
	LayerSatellite LayerKind = "satellite"
	LayerMacro     LayerKind = "macro"
	LayerSpot      LayerKind = "spot"
	LayerKnowledge LayerKind = "knowledge"
	LayerFeatures  LayerKind = "features"
	LayerComposite LayerKind = "composite"
	LayerRegime    LayerKind = "regime"
)

// JoinMode selects how a layer joins against the master date index.
type JoinMode string

const (
	// JoinDirect matches observations by exact date (daily sources).
	JoinDirect JoinMode = "direct"
	// JoinForwardFill carries the last observation forward until a
	// newer one arrives (sparse/low-frequency sources).
	JoinForwardFill JoinMode = "forward_fill"
)

// ObservationPoint is one external-source observation: a date plus a
// typed mapping from field name to nullable numeric value. Field names
// are canonical per layer kind (see LayerSchema), which keeps the join
// step statically checkable instead of accumulating ad-hoc keys.
type ObservationPoint struct {
	Date   string              `json:"date"`
	Fields map[string]*float64 `json:"fields"`
}

// RegimeState is the regime/policy package: an external market
// sentiment score in [-1, 1] plus descriptive context.
type RegimeState struct {
	SentimentScore float64  `json:"sentiment_score"`
	RegimeType     string   `json:"regime_type"`
	TopDrivers     []string `json:"top_drivers"`
}

// Layer is one named entry in the signal registry. Pure data holder;
// the registry performs no computation.
type Layer struct {
	Name   string             `json:"name"`
	Kind   LayerKind          `json:"kind"`
	Points []ObservationPoint `json:"points,omitempty"`
	Regime *RegimeState       `json:"regime,omitempty"`
}

// LayerSchema maps layer kind to its canonical field names. Fused
// columns are namespaced as <layer name>_<field>.
var LayerSchema = map[LayerKind][]string{
	LayerWeather:   {"soil", "precip", "gdd", "temp_max"},
	LayerSatellite: {"ndvi"},
	LayerMacro:     {"ai_score"},
	LayerSpot:      {"spot_price", "basis", "inventory"},
	LayerKnowledge: {"ai_score"},
}

// JoinModeFor returns the join mode for a layer kind: daily weather and
// spot sources match by exact date, everything else forward-fills.
func JoinModeFor(kind LayerKind) JoinMode {
	switch kind {
	case LayerWeather, LayerSpot:
		return JoinDirect
	default:
		return JoinForwardFill
	}
}

// HasObservations reports whether the layer carries at least one point
// with at least one non-null field.
func (l *Layer) HasObservations() bool {
	for _, p := range l.Points {
		for _, v := range p.Fields {
			if v != nil {
				return true
			}
		}
	}
	return false
}
