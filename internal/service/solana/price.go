package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultPriceURL  = "https://api.coingecko.com/api/v3/simple/price"
	PriceHTTPTimeout = 10 * time.Second
	maxPriceBody     = 64 * 1024
)

// ErrPriceFetch covers every way a price lookup can fail. The wrapped
// detail is for logs only.
var ErrPriceFetch = errors.New("fetch sol price failed")

// PriceQuote is the market snapshot for SOL in USD.
type PriceQuote struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
	MarketCap float64 `json:"marketCap"`
}

// PriceClient queries the CoinGecko simple price endpoint and keeps the last
// quote for ttl.
type PriceClient struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time

	mu        sync.Mutex
	cached    *PriceQuote
	fetchedAt time.Time
}

func NewPriceClient(baseURL string, ttl time.Duration, httpClient *http.Client) *PriceClient {
	if baseURL == "" {
		baseURL = DefaultPriceURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: PriceHTTPTimeout}
	}
	return &PriceClient{baseURL: baseURL, httpClient: httpClient, ttl: ttl, now: time.Now}
}

// SOLPrice returns the current quote, served from cache when fresh.
func (c *PriceClient) SOLPrice(ctx context.Context) (*PriceQuote, error) {
	if q := c.fromCache(); q != nil {
		return q, nil
	}
	q, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.cached = q
		c.fetchedAt = c.now()
		c.mu.Unlock()
	}
	copied := *q
	return &copied, nil
}

func (c *PriceClient) fromCache() *PriceQuote {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil
	}
	copied := *c.cached
	return &copied
}

func (c *PriceClient) fetch(ctx context.Context) (*PriceQuote, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid price url: %v", ErrPriceFetch, err)
	}
	q := u.Query()
	q.Set("ids", "solana")
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_market_cap", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CordAi-PriceTool/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: upstream status %s", ErrPriceFetch, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPriceBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrPriceFetch, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed response", ErrPriceFetch)
	}
	price := gjson.GetBytes(body, "solana.usd")
	if !price.Exists() {
		return nil, fmt.Errorf("%w: response has no solana.usd", ErrPriceFetch)
	}
	return &PriceQuote{
		Price:     price.Float(),
		Change24h: gjson.GetBytes(body, "solana.usd_24h_change").Float(),
		Volume24h: gjson.GetBytes(body, "solana.usd_24h_vol").Float(),
		MarketCap: gjson.GetBytes(body, "solana.usd_market_cap").Float(),
	}, nil
}
