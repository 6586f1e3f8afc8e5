// Package risk is the deterministic pre-trade decision function.
//
// Evaluate is pure: no I/O, no clock reads, no mutation. Rules run in a
// fixed order and the first rule that denies wins, so a rejection reason is
// always the earliest applicable one.
package risk

import (
	"time"

	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// Decision is the outcome of evaluating an intent against an agent's limits.
// On approval, NotionalUsd and Quantity are both populated (one derived
// from the other at the given price).
type Decision struct {
	Approved    bool
	Reason      string
	NotionalUsd float64
	Quantity    float64
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Evaluate checks the intent against the agent's risk limits at the given
// fill price. pricesUsd is the market snapshot used to value existing
// positions for the exposure and drawdown rules. now drives the daily-loss
// and cooldown rules.
func Evaluate(agent *types.Agent, intent *types.TradeIntent, priceUsd float64, pricesUsd map[string]float64, now time.Time) Decision {
	limits := agent.RiskLimits

	// 1. Notional derivation.
	if priceUsd <= 0 {
		return deny(types.ReasonInvalidOrder)
	}
	var notional, quantity float64
	switch {
	case intent.Quantity > 0:
		quantity = intent.Quantity
		notional = quantity * priceUsd
	case intent.NotionalUsd > 0:
		notional = intent.NotionalUsd
		quantity = notional / priceUsd
	default:
		return deny(types.ReasonInvalidOrder)
	}

	// 2. Max order notional. Exactly equal passes.
	if limits.MaxOrderNotionalUsd > 0 && notional > limits.MaxOrderNotionalUsd {
		return deny(types.ReasonMaxOrderNotional)
	}

	// 3. Projected gross exposure after the trade.
	if limits.MaxGrossExposureUsd > 0 {
		projected := agent.GrossExposure(pricesUsd)
		if intent.Side == types.Buy {
			projected += notional
		} else {
			projected -= notional
		}
		if projected > limits.MaxGrossExposureUsd {
			return deny(types.ReasonGrossExposureCap)
		}
	}

	// 4. Daily loss cap.
	if limits.DailyLossCapUsd > 0 {
		if agent.DailyRealizedPnlUsd[clock.DayKey(now)] <= -limits.DailyLossCapUsd {
			return deny(types.ReasonDailyLossCap)
		}
	}

	// 5. Drawdown guard. Exactly at the limit passes; strictly greater denies.
	if limits.MaxDrawdownPct > 0 && agent.PeakEquityUsd > 0 {
		equity := agent.Equity(pricesUsd)
		drawdown := (agent.PeakEquityUsd - equity) / agent.PeakEquityUsd
		if drawdown > limits.MaxDrawdownPct {
			return deny(types.ReasonDrawdownGuard)
		}
	}

	// 6. Cooldown. At exactly cooldownSeconds elapsed the trade is allowed.
	if limits.CooldownSeconds > 0 && agent.LastTradeAt != nil {
		elapsed := now.Sub(*agent.LastTradeAt)
		if elapsed < time.Duration(limits.CooldownSeconds)*time.Second {
			return deny(types.ReasonCooldownActive)
		}
	}

	return Decision{Approved: true, NotionalUsd: notional, Quantity: quantity}
}
