package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

const weatherPayload = `{
  "daily": {
    "time": ["2024-06-01", "2024-06-02"],
    "temperature_2m_max": [28.0, 30.0],
    "temperature_2m_min": [16.0, 18.0],
    "precipitation_sum": [0.0, 4.2],
    "soil_moisture_0_to_10cm_mean": [0.31, 0.30]
  }
}`

const conditionPayload = `{
  "data": [
    {"year": 2024, "week_ending": "2024-06-09", "Value": "68"},
    {"year": 2024, "week_ending": "2024-06-02", "Value": "72"}
  ]
}`

const spotPage = `<html><body>
<table class="quote-table"><tbody>
<tr><td>2024-06-02</td><td>4,655</td><td>120</td><td>87,500</td></tr>
<tr><td>2024-06-01</td><td>4,620</td><td>115</td><td>88,000</td></tr>
</tbody></table>
</body></html>`

func newCollector(t *testing.T, weather, crops, spot http.HandlerFunc) (*Collector, *registry.Session) {
	t.Helper()
	weatherSrv := httptest.NewServer(weather)
	cropsSrv := httptest.NewServer(crops)
	spotSrv := httptest.NewServer(spot)
	t.Cleanup(weatherSrv.Close)
	t.Cleanup(cropsSrv.Close)
	t.Cleanup(spotSrv.Close)

	cfg := &config.Config{
		OpenMeteo: config.OpenMeteoConfig{BaseURL: weatherSrv.URL, Latitude: 41.88, Longitude: -93.1},
		USDA:      config.USDAConfig{BaseURL: cropsSrv.URL, APIKey: "key-1", Commodity: "SOYBEANS"},
		SpotWeb:   config.SpotWebConfig{URL: spotSrv.URL},
	}
	log := logger.NewNop()

	rc, err := redis.New(cfg)
	require.NoError(t, err)
	cache := redis.NewCache(rc, "terrafactor")

	session := registry.NewSession("A9999.XDCE", log)
	return New(cfg, httputil.New(log).DisableRetry(), cache, log), session
}

func TestCollect_RegistersAllLayers(t *testing.T) {
	collector, session := newCollector(t,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(weatherPayload)) },
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(conditionPayload)) },
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(spotPage)) },
	)

	n := collector.Collect(context.Background(), session, "2024-06-01", "2024-06-30")
	assert.Equal(t, 3, n)

	layers, _ := session.Layers()
	require.Len(t, layers, 3)

	weather, ok := session.Layer(WeatherLayer)
	require.True(t, ok)
	assert.Equal(t, contracts.LayerWeather, weather.Kind)
	require.Len(t, weather.Points, 2)

	crops, ok := session.Layer(CropConditionLayer)
	require.True(t, ok)
	assert.Equal(t, contracts.LayerMacro, crops.Kind)
	require.Len(t, crops.Points, 2)
	assert.Equal(t, "2024-06-02", crops.Points[0].Date, "points sorted ascending")

	spot, ok := session.Layer(SpotLayer)
	require.True(t, ok)
	assert.Equal(t, contracts.LayerSpot, spot.Kind)
	require.Len(t, spot.Points, 2)
	assert.Equal(t, "2024-06-01", spot.Points[0].Date, "newest-first page reordered")
}

func TestCollect_FailedSourceSkipped(t *testing.T) {
	collector, session := newCollector(t,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(weatherPayload)) },
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(spotPage)) },
	)

	n := collector.Collect(context.Background(), session, "2024-06-01", "2024-06-30")
	assert.Equal(t, 2, n)

	_, ok := session.Layer(CropConditionLayer)
	assert.False(t, ok, "failed source leaves no layer behind")
	_, ok = session.Layer(WeatherLayer)
	assert.True(t, ok)
}

func TestCollect_UnconfiguredSourcesSkipped(t *testing.T) {
	weatherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(weatherPayload))
	}))
	t.Cleanup(weatherSrv.Close)

	cfg := &config.Config{
		OpenMeteo: config.OpenMeteoConfig{BaseURL: weatherSrv.URL, Latitude: 41.88, Longitude: -93.1},
	}
	log := logger.NewNop()
	rc, err := redis.New(cfg)
	require.NoError(t, err)

	collector := New(cfg, httputil.New(log).DisableRetry(), redis.NewCache(rc, "terrafactor"), log)
	session := registry.NewSession("A9999.XDCE", log)

	n := collector.Collect(context.Background(), session, "2024-06-01", "2024-06-30")
	assert.Equal(t, 1, n, "only the weather layer is configured")
}

func TestCollect_SpansCalendarYears(t *testing.T) {
	var years []string
	collector, session := newCollector(t,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(weatherPayload)) },
		func(w http.ResponseWriter, r *http.Request) {
			years = append(years, r.URL.Query().Get("year"))
			w.Write([]byte(conditionPayload))
		},
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(spotPage)) },
	)

	collector.Collect(context.Background(), session, "2023-09-01", "2024-06-30")
	assert.Equal(t, []string{"2023", "2024"}, years)
}
