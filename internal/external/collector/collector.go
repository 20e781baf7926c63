package collector

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/external/openmeteo"
	"github.com/quantagrify/terrafactor/internal/external/spotweb"
	"github.com/quantagrify/terrafactor/internal/external/usda"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// Registry layer names for collected sources. Fused columns inherit
// these as prefixes (weather_gdd, crop_condition_ai_score, ...).
const (
	WeatherLayer       = "weather"
	CropConditionLayer = "crop_condition"
	SpotLayer          = "spot"
)

// Collector fetches every configured external source and registers the
// results as session layers. A source that fails or is unconfigured is
// skipped with a warning; the pipeline runs over whatever joined.
// SSOT: layer collection fans out from here only
type Collector struct {
	weather *openmeteo.Client
	crops   *usda.Client
	spot    *spotweb.Client // nil when no quote page is configured
	cfg     *config.Config
	logger  *logger.Logger
}

// New creates a collector over the configured source clients.
func New(cfg *config.Config, httpClient *httputil.Client, cache *redis.Cache, log *logger.Logger) *Collector {
	c := &Collector{
		weather: openmeteo.NewClient(cfg, httpClient, cache, log),
		cfg:     cfg,
		logger:  log,
	}
	if cfg.USDA.APIKey != "" {
		c.crops = usda.NewClient(cfg, httpClient, cache, log)
	}
	if cfg.SpotWeb.URL != "" {
		c.spot = spotweb.NewClient(cfg, httpClient, log)
	}
	return c
}

// Collect fetches all sources for [from, to] and registers them on the
// session. Returns the number of layers registered.
func (c *Collector) Collect(ctx context.Context, session *registry.Session, from, to string) int {
	registered := 0

	if points, err := c.weather.FetchDaily(ctx, c.cfg.OpenMeteo.Latitude, c.cfg.OpenMeteo.Longitude, from, to); err != nil {
		c.logger.WithError(err).Warn("Weather collection failed")
	} else if c.register(session, WeatherLayer, contracts.LayerWeather, points) {
		registered++
	}

	if c.crops == nil {
		c.logger.Debug("Crop condition collection skipped: no USDA API key")
	} else if points, err := c.collectCropCondition(ctx, from, to); err != nil {
		c.logger.WithError(err).Warn("Crop condition collection failed")
	} else if c.register(session, CropConditionLayer, contracts.LayerMacro, points) {
		registered++
	}

	if c.spot == nil {
		c.logger.Debug("Spot collection skipped: no quote page configured")
	} else if quotes, err := c.spot.FetchQuotes(ctx); err != nil {
		c.logger.WithError(err).Warn("Spot collection failed")
	} else if c.register(session, SpotLayer, contracts.LayerSpot, spotweb.ToObservations(quotes)) {
		registered++
	}

	return registered
}

// collectCropCondition concatenates the weekly survey series for every
// calendar year touched by [from, to].
func (c *Collector) collectCropCondition(ctx context.Context, from, to string) ([]contracts.ObservationPoint, error) {
	fromYear, err := yearOf(from)
	if err != nil {
		return nil, err
	}
	toYear, err := yearOf(to)
	if err != nil {
		return nil, err
	}

	var points []contracts.ObservationPoint
	for year := fromYear; year <= toYear; year++ {
		yearly, err := c.crops.FetchCropCondition(ctx, c.cfg.USDA.Commodity, year)
		if err != nil {
			return nil, err
		}
		points = append(points, yearly...)
	}
	return points, nil
}

// register sorts points by date and registers the layer. Sources may
// emit rows newest-first; layers must be ascending.
func (c *Collector) register(session *registry.Session, name string, kind contracts.LayerKind, points []contracts.ObservationPoint) bool {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })

	layer := &contracts.Layer{Name: name, Kind: kind, Points: points}
	if err := session.RegisterLayer(layer); err != nil {
		c.logger.WithError(err).WithField("layer", name).Warn("Layer registration failed")
		return false
	}

	c.logger.WithFields(map[string]interface{}{
		"layer":  name,
		"kind":   string(kind),
		"points": len(points),
	}).Info("Collected external layer")
	return true
}

func yearOf(date string) (int, error) {
	if len(date) < 4 {
		return 0, fmt.Errorf("collect: malformed date %q", date)
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0, fmt.Errorf("collect: malformed date %q", date)
	}
	return year, nil
}
