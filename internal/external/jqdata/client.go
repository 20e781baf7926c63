package jqdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// Client fetches continuous-contract daily bars from the JQData HTTP
// gateway. The gateway meters requests per account, so the shared
// httputil client must carry a rate limit.
// SSOT: price gateway calls happen in this client only
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	username   string
	password   string

	mu    sync.Mutex
	token string
}

// NewClient creates a new price gateway client
func NewClient(cfg *config.Config, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		baseURL:    cfg.JQData.BaseURL,
		username:   cfg.JQData.Username,
		password:   cfg.JQData.Password,
	}
}

// getToken returns the cached auth token, requesting a fresh one on
// first use. Token renewal after expiry is handled by retrying through
// FetchBars when the gateway rejects the call.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	resp, err := c.httpClient.PostJSON(ctx, c.baseURL+"/apis", map[string]string{
		"method": "get_token",
		"mob":    c.username,
		"pwd":    c.password,
	})
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response failed: %w", err)
	}

	token := strings.TrimSpace(string(body))
	if token == "" || strings.HasPrefix(token, "error") {
		return "", fmt.Errorf("token request rejected: %s", token)
	}

	c.token = token
	return token, nil
}

// invalidateToken drops the cached token so the next call re-auths.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// FetchBars fetches daily bars for a continuous contract symbol within
// [from, to], both YYYY-MM-DD. Bars come back sorted by date ascending.
func (c *Client) FetchBars(ctx context.Context, symbol, from, to string) ([]contracts.PriceBar, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.PostJSON(ctx, c.baseURL+"/apis", map[string]string{
		"method": "get_price_period",
		"token":  token,
		"code":   symbol,
		"unit":   "1d",
		"date":   from,
		"end_dt": to,
	})
	if err != nil {
		return nil, fmt.Errorf("bars request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bars request: unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bars response failed: %w", err)
	}

	payload := string(body)
	if strings.HasPrefix(payload, "error") {
		// Drop the cached token so the next call re-authenticates.
		c.invalidateToken()
		return nil, fmt.Errorf("bars request rejected: %s", payload)
	}

	bars, err := parseBarsCSV(payload)
	if err != nil {
		return nil, fmt.Errorf("parse bars failed: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"from":   from,
		"to":     to,
		"count":  len(bars),
	}).Debug("Fetched daily bars")
	return bars, nil
}

// parseBarsCSV parses the gateway's CSV payload:
// date,open,close,high,low,volume,money,open_interest
func parseBarsCSV(payload string) ([]contracts.PriceBar, error) {
	lines := strings.Split(strings.TrimSpace(payload), "\n")
	if len(lines) < 1 {
		return nil, fmt.Errorf("empty payload")
	}

	var bars []contracts.PriceBar
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(strings.TrimSpace(line), ",")
		if len(cols) < 8 {
			continue
		}

		open, err1 := strconv.ParseFloat(cols[1], 64)
		close_, err2 := strconv.ParseFloat(cols[2], 64)
		high, err3 := strconv.ParseFloat(cols[3], 64)
		low, err4 := strconv.ParseFloat(cols[4], 64)
		volume, err5 := strconv.ParseFloat(cols[5], 64)
		oi, err6 := strconv.ParseFloat(cols[7], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
			continue
		}

		bars = append(bars, contracts.PriceBar{
			Date:         cols[0],
			Open:         open,
			High:         high,
			Low:          low,
			Close:        close_,
			Volume:       volume,
			OpenInterest: oi,
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no parsable rows in payload")
	}
	return bars, nil
}
