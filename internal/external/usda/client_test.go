package usda

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

const conditionPayload = `{
  "data": [
    {"year": 2024, "week_ending": "2024-06-02", "Value": "72"},
    {"year": 2024, "week_ending": "2024-06-09", "Value": "68"},
    {"year": 2024, "week_ending": "", "Value": "70"},
    {"year": 2024, "week_ending": "2024-06-16", "Value": "n/a"}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{USDA: config.USDAConfig{BaseURL: server.URL, APIKey: "key-1"}}
	log := logger.NewNop()

	rc, err := redis.New(cfg)
	require.NoError(t, err)
	return NewClient(cfg, httputil.New(log).DisableRetry(), redis.NewCache(rc, "terrafactor"), log)
}

func TestClient_FetchCropCondition(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("key"))
		assert.Equal(t, "SOYBEANS", r.URL.Query().Get("commodity_desc"))
		w.Write([]byte(conditionPayload))
	})

	points, err := client.FetchCropCondition(context.Background(), "soybeans", 2024)
	require.NoError(t, err)
	require.Len(t, points, 2, "rows without date or numeric value dropped")

	assert.Equal(t, "2024-06-02", points[0].Date)
	require.NotNil(t, points[0].Fields["ai_score"])
	assert.InDelta(t, 0.44, *points[0].Fields["ai_score"], 1e-9) // (72-50)/50
	require.NotNil(t, points[1].Fields["ai_score"])
	assert.InDelta(t, 0.36, *points[1].Fields["ai_score"], 1e-9)
}

func TestClient_FetchCropConditionServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.FetchCropCondition(context.Background(), "soybeans", 2024)
	assert.Error(t, err)
}
