package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"pricewatch/internal/models"
)

// Result is the per-symbol outcome of a batched fetch. Exactly one of
// Quote or Err is meaningful.
type Result struct {
	Quote models.Quote
	Err   error
}

// Source returns the latest quotes for a set of symbols in one call.
// A whole-call error means no symbol produced data; per-symbol failures
// are reported inside the map.
type Source interface {
	Latest(ctx context.Context, symbols []string) (map[string]Result, error)
}

// Client errors
var (
	ErrNoSymbols    = errors.New("no symbols requested")
	ErrQuoteMissing = errors.New("quote missing from response")
)

// Client fetches quotes from the market data API over HTTP. Calls go
// through a circuit breaker so a flapping upstream fails fast instead
// of burning the evaluation window on timeouts.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a quote client. The timeout bounds the whole batch
// request and must stay shorter than the evaluation lock TTL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	st := gobreaker.Settings{Name: "quote-source"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// quoteEntry is the wire format for one symbol in the batch response.
type quoteEntry struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Error  string  `json:"error,omitempty"`
}

type batchResponse struct {
	Quotes []quoteEntry `json:"quotes"`
}

// Latest implements Source.
func (c *Client) Latest(ctx context.Context, symbols []string) (map[string]Result, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	body, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}

	resp := body.(*batchResponse)
	results := make(map[string]Result, len(symbols))
	for _, entry := range resp.Quotes {
		if entry.Error != "" {
			results[entry.Symbol] = Result{Err: fmt.Errorf("upstream: %s", entry.Error)}
			continue
		}
		results[entry.Symbol] = Result{Quote: models.Quote{
			Symbol: entry.Symbol,
			Bid:    entry.Bid,
			Ask:    entry.Ask,
		}}
	}

	// A symbol the upstream silently dropped is a fetch failure, not a
	// reason to fail the batch.
	for _, symbol := range symbols {
		if _, ok := results[symbol]; !ok {
			results[symbol] = Result{Err: ErrQuoteMissing}
		}
	}

	return results, nil
}

// fetch performs the HTTP round trip for a symbol batch.
func (c *Client) fetch(ctx context.Context, symbols []string) (*batchResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/quotes?symbols=%s",
		c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote source returned status %d", resp.StatusCode)
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	return &parsed, nil
}
