// Package feed polls an HTTP price endpoint and publishes market prices.
//
// The endpoint returns a CoinGecko-style map of symbol to quote, e.g.
// {"SOL": {"usd": 150.25}}. Each poll writes the prices into the store
// (latest value plus the bounded history ring) and emits price.updated
// per symbol. The rest of the platform only consumes the events and the
// store; it never talks to the endpoint directly.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// quote is the JSON shape of one symbol's entry in the feed response.
type quote struct {
	Usd float64 `json:"usd"`
}

// Poller periodically fetches prices for the configured symbols.
type Poller struct {
	httpClient *resty.Client
	store      *state.Store
	clk        clock.Clock
	symbols    []string
	interval   time.Duration
	logger     *slog.Logger
}

// NewPoller creates a price feed poller against the given base URL.
func NewPoller(baseURL string, symbols []string, interval time.Duration, store *state.Store, clk clock.Clock, logger *slog.Logger) *Poller {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			normalized = append(normalized, s)
		}
	}

	return &Poller{
		httpClient: client,
		store:      store,
		clk:        clk,
		symbols:    normalized,
		interval:   interval,
		logger:     logger.With("component", "feed"),
	}
}

// Run starts the polling loop with an immediate first poll. Blocks until
// ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	quotes, err := p.fetch(ctx)
	if err != nil {
		p.logger.Error("price poll failed", "error", err)
		return
	}
	if len(quotes) == 0 {
		return
	}

	now := p.clk.Now()
	err = p.store.Transaction(func(st *state.AppState, tx *state.Tx) error {
		for _, sym := range p.symbols {
			q, ok := quotes[sym]
			if !ok || q.Usd <= 0 {
				continue
			}
			st.SetPrice(sym, q.Usd, now)
			tx.Emit(types.EventPriceUpdated, types.PriceUpdatedPayload{
				Symbol:   sym,
				PriceUsd: q.Usd,
			})
		}
		return nil
	})
	if err != nil {
		p.logger.Error("price update failed", "error", err)
		return
	}
	p.logger.Debug("prices updated", "symbols", len(quotes))
}

func (p *Poller) fetch(ctx context.Context) (map[string]quote, error) {
	var quotes map[string]quote
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetQueryParam("symbols", strings.Join(p.symbols, ",")).
		SetQueryParam("vs_currency", "usd").
		SetResult(&quotes).
		Get("/prices")
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch prices: status %d", resp.StatusCode())
	}

	// Response keys may come back in any case.
	out := make(map[string]quote, len(quotes))
	for sym, q := range quotes {
		out[strings.ToUpper(sym)] = q
	}
	return out, nil
}
