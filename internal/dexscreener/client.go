package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public DexScreener API root.
const DefaultBaseURL = "https://api.dexscreener.com"

// ErrNoPairs means DexScreener knows no trading pair for the token.
var ErrNoPairs = errors.New("no pairs found")

// Client provides access to the DexScreener token endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// Token identifies one side of a pair
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// TxnCount is a buy/sell count for one window
type TxnCount struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Pair represents a trading pair from the DexScreener API
type Pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   Token  `json:"baseToken"`
	QuoteToken  Token  `json:"quoteToken"`
	PriceUSD    string `json:"priceUsd"`
	Txns        struct {
		H1  TxnCount `json:"h1"`
		H24 TxnCount `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV           float64 `json:"fdv"`
	MarketCap     float64 `json:"marketCap"`
	PairCreatedAt int64   `json:"pairCreatedAt"` // unix millis
	Info          struct {
		ImageURL string `json:"imageUrl"`
	} `json:"info"`
}

// CreatedAt returns the pair creation time, or the zero time when unknown.
func (p *Pair) CreatedAt() time.Time {
	if p.PairCreatedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.PairCreatedAt)
}

type tokensResponse struct {
	Pairs []Pair `json:"pairs"`
}

// NewClient creates a new DexScreener client
func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

// TokenPairs fetches every pair that trades the token at address
func (c *Client) TokenPairs(ctx context.Context, address string) ([]Pair, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("token address must not be empty")
	}
	u := c.baseURL + "/latest/dex/tokens/" + url.PathEscape(address)

	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pairs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode pairs: %w", err)
	}
	if len(body.Pairs) == 0 {
		return nil, ErrNoPairs
	}
	return body.Pairs, nil
}

// TopPair returns the pair with the most USD liquidity
func (c *Client) TopPair(ctx context.Context, address string) (*Pair, error) {
	pairs, err := c.TokenPairs(ctx, address)
	if err != nil {
		return nil, err
	}
	best := &pairs[0]
	for i := range pairs[1:] {
		if pairs[i+1].Liquidity.USD > best.Liquidity.USD {
			best = &pairs[i+1]
		}
	}
	return best, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
