package jqdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

const barsCSV = `date,open,close,high,low,volume,money,open_interest
2024-01-02,4600.0,4620.0,4650.0,4590.0,120000,5.5e9,210000
2024-01-03,4620.0,4615.0,4640.0,4600.0,98000,4.5e9,208000
garbage line
2024-01-04,4615.0,4700.0,4710.0,4610.0,150000,7.0e9,215000`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{JQData: config.JQDataConfig{
		BaseURL:  server.URL,
		Username: "user",
		Password: "pass",
	}}
	log := logger.NewNop()
	return NewClient(cfg, httputil.New(log).DisableRetry(), log)
}

func decodeMethod(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestClient_FetchBars(t *testing.T) {
	var tokenRequests int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeMethod(t, r)
		switch body["method"] {
		case "get_token":
			tokenRequests++
			assert.Equal(t, "user", body["mob"])
			w.Write([]byte("tok-123\n"))
		case "get_price_period":
			assert.Equal(t, "tok-123", body["token"])
			assert.Equal(t, "A9999.XDCE", body["code"])
			w.Write([]byte(barsCSV))
		default:
			t.Fatalf("unexpected method %q", body["method"])
		}
	})

	bars, err := client.FetchBars(context.Background(), "A9999.XDCE", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, bars, 3, "garbage row skipped")

	assert.Equal(t, "2024-01-02", bars[0].Date)
	assert.Equal(t, 4620.0, bars[0].Close)
	assert.Equal(t, 4650.0, bars[0].High)
	assert.Equal(t, 210000.0, bars[0].OpenInterest)

	// Second fetch reuses the cached token.
	_, err = client.FetchBars(context.Background(), "A9999.XDCE", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, 1, tokenRequests)
}

func TestClient_FetchBarsRejectedToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeMethod(t, r)
		if body["method"] == "get_token" {
			w.Write([]byte("tok-123"))
			return
		}
		w.Write([]byte("error: token expired"))
	})

	_, err := client.FetchBars(context.Background(), "A9999.XDCE", "2024-01-01", "2024-01-05")
	assert.Error(t, err)
}

func TestClient_TokenRequestFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("error: bad credentials"))
	})

	_, err := client.FetchBars(context.Background(), "A9999.XDCE", "2024-01-01", "2024-01-05")
	assert.Error(t, err)
}

func TestParseBarsCSV_NoRows(t *testing.T) {
	_, err := parseBarsCSV("date,open,close,high,low,volume,money,open_interest")
	assert.Error(t, err)
}
