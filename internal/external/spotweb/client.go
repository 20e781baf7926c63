package spotweb

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// Client scrapes daily spot price, basis and inventory quotes from the
// commodity cash-market quote page. The page has no API; the table
// layout is the contract.
// SSOT: spot page scraping happens in this client only
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	pageURL    string
}

// Quote is one scraped cash-market row.
type Quote struct {
	Date      string
	SpotPrice *float64
	Basis     *float64
	Inventory *float64
}

// NewClient creates a new spot page client
func NewClient(cfg *config.Config, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		pageURL:    cfg.SpotWeb.URL,
	}
}

// FetchQuotes scrapes the quote table. Rows with an unparsable date are
// skipped; unparsable numeric cells become nulls, not zeros.
func (c *Client) FetchQuotes(ctx context.Context) ([]Quote, error) {
	resp, err := c.httpClient.Get(ctx, c.pageURL)
	if err != nil {
		return nil, fmt.Errorf("spot page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spot page request: unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse spot page failed: %w", err)
	}

	var quotes []Quote
	doc.Find("table.quote-table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}

		date := strings.TrimSpace(cells.Eq(0).Text())
		if len(date) != 10 {
			return
		}

		quotes = append(quotes, Quote{
			Date:      date,
			SpotPrice: parseCell(cells.Eq(1).Text()),
			Basis:     parseCell(cells.Eq(2).Text()),
			Inventory: parseCell(cells.Eq(3).Text()),
		})
	})

	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote rows found on spot page")
	}

	c.logger.WithFields(map[string]interface{}{
		"count": len(quotes),
	}).Debug("Scraped spot quotes")
	return quotes, nil
}

// ToObservations converts scraped quotes into spot-layer points.
func ToObservations(quotes []Quote) []contracts.ObservationPoint {
	points := make([]contracts.ObservationPoint, 0, len(quotes))
	for _, q := range quotes {
		points = append(points, contracts.ObservationPoint{
			Date: q.Date,
			Fields: map[string]*float64{
				"spot_price": q.SpotPrice,
				"basis":      q.Basis,
				"inventory":  q.Inventory,
			},
		})
	}
	return points
}

func parseCell(text string) *float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if cleaned == "" || cleaned == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return contracts.Float(v)
}
