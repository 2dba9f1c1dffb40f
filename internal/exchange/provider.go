package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRateUnavailable indicates the feed did not return a usable rate for the
// configured currency.
var ErrRateUnavailable = errors.New("exchange: rate unavailable from feed")

// Provider fetches the USD reference rate for one currency from an external
// JSON feed.
type Provider struct {
	client   *http.Client
	feedURL  string
	currency string
}

// ProviderConfig groups Provider dependencies.
type ProviderConfig struct {
	FeedURL  string
	Currency string
	Timeout  time.Duration
}

// NewProvider constructs a Provider with a traced HTTP client.
func NewProvider(cfg ProviderConfig) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		feedURL:  cfg.FeedURL,
		currency: cfg.Currency,
	}
}

type feedResponse struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// FetchRate retrieves the current USD rate for the configured currency.
func (p *Provider) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	if p == nil || p.feedURL == "" {
		return decimal.Zero, ErrRateUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch exchange feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("exchange feed status %d: %w", resp.StatusCode, ErrRateUnavailable)
	}
	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode exchange feed: %w", err)
	}
	rate, ok := payload.Rates[p.currency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable
	}
	return rate, nil
}
