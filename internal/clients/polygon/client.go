// Package polygon provides a client for the Polygon.io REST API.
//
// The client is the only place URLs are constructed; the engines consume the
// Gateway interface and deal in typed results. Pagination is transparent:
// paginated endpoints are drained by following next_url continuation links
// until exhausted.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.polygon.io"

// Gateway is the upstream seam the engines depend on. Tests stub it.
type Gateway interface {
	// Splits returns split events with execution date in [from, to], ascending.
	Splits(ctx context.Context, ticker string, from, to time.Time) ([]Split, error)

	// Dividends returns dividend declarations with ex-date in [from, to], ascending.
	Dividends(ctx context.Context, ticker string, from, to time.Time) ([]Dividend, error)

	// DailyBars returns unadjusted daily bars over [from, to].
	DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]AggBar, error)

	// TickerEvents returns the rename/delisting history of a ticker.
	TickerEvents(ctx context.Context, ticker string) ([]TickerEvent, error)

	// ActiveTickers returns all active US common-stock listings.
	ActiveTickers(ctx context.Context) ([]TickerListing, error)

	// FullSnapshot returns the one-call snapshot of every US stock ticker.
	FullSnapshot(ctx context.Context) ([]TickerSnapshot, error)

	// QuarterlyFinancials returns all quarterly filings for a ticker,
	// ascending by filing date.
	QuarterlyFinancials(ctx context.Context, ticker string) ([]StockFinancial, error)
}

// Client is the Polygon.io REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Polygon client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "polygon").Logger(),
	}
}

// NewClientWithBaseURL creates a client against a custom base URL.
// Used by tests to point at a local server.
func NewClientWithBaseURL(apiKey, baseURL string, log zerolog.Logger) *Client {
	c := NewClient(apiKey, log)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// getJSON performs one authenticated GET and decodes the response body.
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// fetchPages drains a paginated endpoint, following next_url until exhausted.
// Continuation links returned by the API are absolute; the first request is
// built from the resource path and params.
func fetchPages[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	next := c.baseURL + path
	if len(params) > 0 {
		next += "?" + params.Encode()
	}

	var all []T
	for next != "" {
		var page pagedResponse[T]
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)

		if page.NextURL == next {
			// A self-referencing continuation would loop forever.
			break
		}
		next = c.rebase(page.NextURL)
	}
	return all, nil
}

// rebase rewrites a continuation link onto the configured base URL. Needed so
// tests against a local server can follow links the handler generated.
func (c *Client) rebase(nextURL string) string {
	if nextURL == "" {
		return ""
	}
	parsed, err := url.Parse(nextURL)
	if err != nil {
		return ""
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nextURL
	}
	parsed.Scheme = base.Scheme
	parsed.Host = base.Host
	return parsed.String()
}

// Splits implements Gateway.
func (c *Client) Splits(ctx context.Context, ticker string, from, to time.Time) ([]Split, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("execution_date.gte", from.Format("2006-01-02"))
	params.Set("execution_date.lte", to.Format("2006-01-02"))
	params.Set("order", "asc")
	params.Set("limit", "1000")

	return fetchPages[Split](ctx, c, "/v3/reference/splits", params)
}

// Dividends implements Gateway.
func (c *Client) Dividends(ctx context.Context, ticker string, from, to time.Time) ([]Dividend, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("ex_dividend_date.gte", from.Format("2006-01-02"))
	params.Set("ex_dividend_date.lte", to.Format("2006-01-02"))
	params.Set("order", "asc")
	params.Set("limit", "1000")

	return fetchPages[Dividend](ctx, c, "/v3/reference/dividends", params)
}

// DailyBars implements Gateway. Bars are requested unadjusted: the factor
// engine derives its own adjustments, so adjusted prices would double-count.
func (c *Client) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]AggBar, error) {
	params := url.Values{}
	params.Set("adjusted", "false")
	params.Set("sort", "desc")
	params.Set("limit", "50000")

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
		url.PathEscape(ticker), from.Format("2006-01-02"), to.Format("2006-01-02"))

	return fetchPages[AggBar](ctx, c, path, params)
}

// TickerEvents implements Gateway.
func (c *Client) TickerEvents(ctx context.Context, ticker string) ([]TickerEvent, error) {
	params := url.Values{}
	params.Set("types", EventTypeTickerChange+","+EventTypeDelisted)
	params.Set("limit", "1000")

	var resp tickerEventsResponse
	u := fmt.Sprintf("%s/v3/reference/tickers/%s/events?%s", c.baseURL, url.PathEscape(ticker), params.Encode())
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Results.Events, nil
}

// ActiveTickers implements Gateway.
func (c *Client) ActiveTickers(ctx context.Context) ([]TickerListing, error) {
	params := url.Values{}
	params.Set("type", "CS")
	params.Set("market", "stocks")
	params.Set("active", "true")
	params.Set("limit", "1000")

	return fetchPages[TickerListing](ctx, c, "/v3/reference/tickers", params)
}

// FullSnapshot implements Gateway.
func (c *Client) FullSnapshot(ctx context.Context) ([]TickerSnapshot, error) {
	var resp snapshotResponse
	u := c.baseURL + "/v2/snapshot/locale/us/markets/stocks/tickers"
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Tickers, nil
}

// QuarterlyFinancials implements Gateway.
func (c *Client) QuarterlyFinancials(ctx context.Context, ticker string) ([]StockFinancial, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("timeframe", "quarterly")
	params.Set("order", "asc")
	params.Set("sort", "filing_date")
	params.Set("limit", "100")

	return fetchPages[StockFinancial](ctx, c, "/vX/reference/financials", params)
}
