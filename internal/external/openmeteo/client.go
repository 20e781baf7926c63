package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// gddBase is the growing-degree-day base temperature for soybeans (C).
const gddBase = 10.0

// Client fetches daily weather history from the Open-Meteo archive.
// Responses are immutable once a day has passed, so they cache well.
// SSOT: weather archive calls happen in this client only
type Client struct {
	httpClient *httputil.Client
	cache      *redis.Cache
	logger     *logger.Logger
	baseURL    string
}

// archiveResponse mirrors the archive API's daily block. The API emits
// JSON null for missing days; pointer elements keep that distinction.
type archiveResponse struct {
	Daily struct {
		Time          []string   `json:"time"`
		TempMax       []*float64 `json:"temperature_2m_max"`
		TempMin       []*float64 `json:"temperature_2m_min"`
		Precipitation []*float64 `json:"precipitation_sum"`
		SoilMoisture  []*float64 `json:"soil_moisture_0_to_10cm_mean"`
	} `json:"daily"`
}

// NewClient creates a new weather archive client. cache may be backed
// by a disabled Redis client; lookups then always miss.
func NewClient(cfg *config.Config, httpClient *httputil.Client, cache *redis.Cache, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		cache:      cache,
		logger:     log,
		baseURL:    cfg.OpenMeteo.BaseURL,
	}
}

// FetchDaily fetches daily weather observations for a growing-region
// coordinate within [from, to]. Each point carries the weather layer's
// canonical fields; GDD is derived from the min/max temperatures.
func (c *Client) FetchDaily(ctx context.Context, lat, lon float64, from, to string) ([]contracts.ObservationPoint, error) {
	cacheKey := redis.WeatherKey(lat, lon, from, to)

	var cached []contracts.ObservationPoint
	if found, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", lat))
	params.Set("longitude", fmt.Sprintf("%.4f", lon))
	params.Set("start_date", from)
	params.Set("end_date", to)
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,soil_moisture_0_to_10cm_mean")
	params.Set("timezone", "UTC")

	fullURL := fmt.Sprintf("%s/v1/archive?%s", c.baseURL, params.Encode())

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather request: unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response failed: %w", err)
	}

	var parsed archiveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse weather response failed: %w", err)
	}

	points := buildPoints(parsed)

	if err := c.cache.Set(ctx, cacheKey, points, redis.TTLDaily); err != nil {
		c.logger.WithError(err).Warn("Weather cache write failed")
	}

	c.logger.WithFields(map[string]interface{}{
		"lat":   lat,
		"lon":   lon,
		"from":  from,
		"to":    to,
		"count": len(points),
	}).Debug("Fetched weather history")
	return points, nil
}

func buildPoints(parsed archiveResponse) []contracts.ObservationPoint {
	daily := parsed.Daily
	points := make([]contracts.ObservationPoint, 0, len(daily.Time))
	for i, date := range daily.Time {
		point := contracts.ObservationPoint{
			Date:   date,
			Fields: make(map[string]*float64),
		}
		point.Fields["soil"] = at(daily.SoilMoisture, i)
		point.Fields["precip"] = at(daily.Precipitation, i)
		point.Fields["temp_max"] = at(daily.TempMax, i)
		point.Fields["gdd"] = gdd(at(daily.TempMax, i), at(daily.TempMin, i))
		points = append(points, point)
	}
	return points
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

// gdd is max(0, (tmax+tmin)/2 - base); null when either bound is
// missing.
func gdd(tmax, tmin *float64) *float64 {
	if tmax == nil || tmin == nil {
		return nil
	}
	return contracts.Float(math.Max(0, (*tmax+*tmin)/2-gddBase))
}
