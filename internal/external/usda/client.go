package usda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// Client fetches crop condition and progress series from the USDA
// QuickStats API. Weekly survey data feeds the macro layer as a
// normalized condition score.
// SSOT: QuickStats calls happen in this client only
type Client struct {
	httpClient *httputil.Client
	cache      *redis.Cache
	logger     *logger.Logger
	baseURL    string
	apiKey     string
}

type quickStatsResponse struct {
	Data []struct {
		Year       int    `json:"year"`
		WeekEnding string `json:"week_ending"`
		Value      string `json:"Value"`
	} `json:"data"`
}

// NewClient creates a new QuickStats client
func NewClient(cfg *config.Config, httpClient *httputil.Client, cache *redis.Cache, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		cache:      cache,
		logger:     log,
		baseURL:    cfg.USDA.BaseURL,
		apiKey:     cfg.USDA.APIKey,
	}
}

// FetchCropCondition fetches the weekly percent-good-or-excellent
// condition series for a commodity and year. Each point carries the
// macro layer's ai_score field, scaled from percent to [-1, 1] around
// the 50% midpoint.
func (c *Client) FetchCropCondition(ctx context.Context, commodity string, year int) ([]contracts.ObservationPoint, error) {
	cacheKey := redis.HarvestKey(commodity, year)

	var cached []contracts.ObservationPoint
	if found, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("commodity_desc", strings.ToUpper(commodity))
	params.Set("year", strconv.Itoa(year))
	params.Set("statisticcat_desc", "CONDITION")
	params.Set("unit_desc", "PCT GOOD")
	params.Set("agg_level_desc", "NATIONAL")
	params.Set("format", "JSON")

	fullURL := fmt.Sprintf("%s/api_GET/?%s", c.baseURL, params.Encode())

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("quickstats request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quickstats request: unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quickstats response failed: %w", err)
	}

	var parsed quickStatsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse quickstats response failed: %w", err)
	}

	points := make([]contracts.ObservationPoint, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		if row.WeekEnding == "" {
			continue
		}
		pct, err := strconv.ParseFloat(strings.ReplaceAll(row.Value, ",", ""), 64)
		if err != nil {
			continue
		}
		points = append(points, contracts.ObservationPoint{
			Date: row.WeekEnding,
			Fields: map[string]*float64{
				"ai_score": contracts.Float((pct - 50) / 50),
			},
		})
	}

	if err := c.cache.Set(ctx, cacheKey, points, redis.TTLDaily); err != nil {
		c.logger.WithError(err).Warn("QuickStats cache write failed")
	}

	c.logger.WithFields(map[string]interface{}{
		"commodity": commodity,
		"year":      year,
		"count":     len(points),
	}).Debug("Fetched crop condition series")
	return points, nil
}
