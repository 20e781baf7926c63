package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/internal/api/handlers"
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/pipeline"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/internal/scheduler"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// noopJob stands in for the recompute job; it is registered but never
// triggered by cron because the scheduler is not started.
type noopJob struct{}

func (noopJob) Name() string                  { return "daily_recompute" }
func (noopJob) Run(ctx context.Context) error { return nil }
func (noopJob) Schedule() string              { return "0 0 18 * * *" }

func testServer(t *testing.T, withBars bool) (*httptest.Server, *registry.Session) {
	t.Helper()
	log := logger.NewNop()
	cfg := &config.Config{Pipeline: config.PipelineConfig{
		Symbol:           "A9999.XDCE",
		GapThresholdMult: 4.0,
		RegimeBoost:      1.5,
		ICMinSamples:     3,
		QuantileBuckets:  5,
	}}

	session := registry.NewSession(cfg.Pipeline.Symbol, log)
	require.NoError(t, session.AddFactor(contracts.FactorDefinition{
		ID: "mom_2", Name: "momentum_2d", Kind: contracts.KindMomentum, Window: 2,
	}))

	if withBars {
		bars := make([]contracts.PriceBar, 15)
		for i := range bars {
			bars[i] = contracts.PriceBar{
				Date:  fmt.Sprintf("2024-02-%02d", i+1),
				Close: 100 + float64(i%4),
			}
		}
		require.NoError(t, session.SetMasterBars(bars))
	}

	orch := pipeline.New(session, cfg, log)
	hub := NewHub(log)
	t.Cleanup(hub.Close)
	broadcaster := &RunBroadcaster{Hub: hub}

	sched := scheduler.New(log)
	require.NoError(t, sched.AddJob(noopJob{}))

	router := NewRouter(
		handlers.NewPipelineHandler(orch, broadcaster, log),
		handlers.NewLayersHandler(session, log),
		handlers.NewJobsHandler(sched, log),
		hub,
		log,
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, session
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testServer(t, false)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPipelineRunEndpoint(t *testing.T) {
	server, _ := testServer(t, true)

	resp, err := http.Post(server.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body handlers.RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "A9999.XDCE", body.Symbol)
	assert.Equal(t, 15, body.Rows)
	assert.True(t, body.Stages.Composite)
}

func TestPipelineRunWithoutBarsConflicts(t *testing.T) {
	server, _ := testServer(t, false)

	resp, err := http.Post(server.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdjustMethodValidation(t *testing.T) {
	server, session := testServer(t, true)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/pipeline/adjust",
		strings.NewReader(`{"method":"SIDEWAYS"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPut, server.URL+"/api/pipeline/adjust",
		strings.NewReader(`{"method":"BACK_ADJ"}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BACK_ADJ", string(session.AdjustMethod()))
}

func TestLayerRegistrationFlow(t *testing.T) {
	server, session := testServer(t, true)

	layer := map[string]interface{}{
		"name": "modis",
		"kind": "satellite",
		"points": []map[string]interface{}{
			{"date": "2024-02-03", "fields": map[string]float64{"ndvi": 0.6}},
		},
	}
	payload, _ := json.Marshal(layer)

	resp, err := http.Post(server.URL+"/api/layers", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/layers/modis/activate",
		strings.NewReader(`{}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "modis_ndvi", session.ActiveColumn())

	resp, err = http.Get(server.URL + "/api/layers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []handlers.LayerSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Active)
}

func TestFactorWeightEndpoint(t *testing.T) {
	server, session := testServer(t, true)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/factors/mom_2/weight",
		strings.NewReader(`{"weight":0.25}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	weights, _ := session.Weights()
	assert.Equal(t, 0.25, weights["mom_2"])

	req, _ = http.NewRequest(http.MethodPut, server.URL+"/api/factors/missing/weight",
		strings.NewReader(`{"weight":1}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFactorWeightRejectsNegative(t *testing.T) {
	server, session := testServer(t, true)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/factors/mom_2/weight",
		strings.NewReader(`{"weight":-0.5}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	weights, _ := session.Weights()
	assert.Equal(t, 1.0, weights["mom_2"], "rejected update leaves the weight untouched")
}

func TestJobsEndpoint(t *testing.T) {
	server, _ := testServer(t, true)

	resp, err := http.Get(server.URL + "/api/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []handlers.JobStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "daily_recompute", list[0].Name)
	assert.Equal(t, 0, list[0].Runs)
	assert.Nil(t, list[0].LastRun)
}

func TestJobTriggerUnknownJob(t *testing.T) {
	server, _ := testServer(t, true)

	resp, err := http.Post(server.URL+"/api/jobs/missing/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketReceivesRunEvent(t *testing.T) {
	server, _ := testServer(t, true)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the client after the handshake.
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Post(server.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event RunEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "run_complete", event.Type)
	assert.Equal(t, "A9999.XDCE", event.Symbol)
}
