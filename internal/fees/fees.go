// Package fees computes deterministic order fees from a bps policy.
//
// Paper mode charges only the platform component; live mode adds the taker
// component. The math runs in decimal so a buy and sell of identical size
// produce bit-identical fees, rounded to 8 fractional digits.
package fees

import (
	"github.com/shopspring/decimal"

	"colosseum/pkg/types"
)

// Policy is the configured fee taxonomy in basis points.
type Policy struct {
	PlatformFeeBps float64
	TakerFeeBps    float64
}

// Engine computes fees for orders.
type Engine struct {
	platformBps decimal.Decimal
	takerBps    decimal.Decimal
}

// New creates a fee engine from a policy.
func New(p Policy) *Engine {
	return &Engine{
		platformBps: decimal.NewFromFloat(p.PlatformFeeBps),
		takerBps:    decimal.NewFromFloat(p.TakerFeeBps),
	}
}

var bpsDivisor = decimal.NewFromInt(10000)

// Fee returns the USD fee for an order of the given gross notional. The
// side does not change the amount; it is part of the contract so callers
// cannot accidentally net fees into the price.
func (e *Engine) Fee(grossNotionalUsd float64, _ types.Side, mode types.Mode) float64 {
	bps := e.platformBps
	if mode == types.ModeLive {
		bps = bps.Add(e.takerBps)
	}
	fee := decimal.NewFromFloat(grossNotionalUsd).Mul(bps).Div(bpsDivisor)
	f, _ := fee.Round(8).Float64()
	return f
}
