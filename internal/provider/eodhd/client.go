// Package eodhd fetches daily closes from the EODHD end-of-day API.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stockmetrics/internal/model"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the EODHD API.
	DefaultBaseURL = "https://eodhd.com/api"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// DefaultExchange is appended to bare tickers.
	DefaultExchange = "US"
)

// Client is an EODHD API client. It implements model.PriceSeriesProvider.
type Client struct {
	apiKey  string
	client  *resty.Client
	limiter *rate.Limiter
	now     func() time.Time
}

var _ model.PriceSeriesProvider = (*Client)(nil)

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithClock sets the time source used for the date range.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new EODHD API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := resty.New()
	client.SetBaseURL(DefaultBaseURL)
	client.SetTimeout(DefaultTimeout)

	c := &Client{
		apiKey:  apiKey,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// eodRow is a single day of the /eod response.
type eodRow struct {
	Date          string  `json:"date"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
}

// Fetch returns up to lookbackDays calendar days of daily closes, oldest
// first. Adjusted closes are preferred when present.
func (c *Client) Fetch(ctx context.Context, symbol string, lookbackDays int) ([]model.PricePoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{RetryAfter: time.Second}
	}

	to := c.now().UTC()
	from := to.AddDate(0, 0, -lookbackDays)
	path := "/eod/" + exchangeSymbol(symbol)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_token": c.apiKey,
			"fmt":       "json",
			"period":    "d",
			"order":     "a",
			"from":      from.Format("2006-01-02"),
			"to":        to.Format("2006-01-02"),
		}).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: eodhd %s: %v", model.ErrProvider, symbol, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfter(resp.Header().Get("Retry-After"))}
	case resp.StatusCode() != http.StatusOK:
		return nil, &APIError{
			StatusCode: resp.StatusCode(),
			Message:    strings.TrimSpace(resp.String()),
			Endpoint:   "/eod/" + symbol,
		}
	}

	var rows []eodRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("%w: eodhd %s: decode: %v", model.ErrProvider, symbol, err)
	}

	points := make([]model.PricePoint, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			continue
		}
		px := r.AdjustedClose
		if px <= 0 {
			px = r.Close
		}
		points = append(points, model.PricePoint{Date: d, Close: px})
	}
	return points, nil
}

// exchangeSymbol maps "AAPL" to "AAPL.US" and "BRK.B" to "BRK-B.US". Symbols
// that already name an exchange pass through.
func exchangeSymbol(symbol string) string {
	if i := strings.LastIndexByte(symbol, '.'); i > 0 && len(symbol)-i-1 >= 2 {
		return symbol
	}
	return strings.ReplaceAll(symbol, ".", "-") + "." + DefaultExchange
}

func retryAfter(h string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(h) + "s"); err == nil && d > 0 {
		return d
	}
	return time.Second
}
