package api

import (
	"sort"
	"time"

	"colosseum/internal/state"
	"colosseum/pkg/types"
)

// BuildSnapshot projects an app-state deep copy onto the dashboard shape.
func BuildSnapshot(st *state.AppState, now time.Time) DashboardSnapshot {
	agents := make([]AgentSummary, 0, len(st.Agents))
	for _, a := range st.Agents {
		equity := a.Equity(st.MarketPricesUsd)
		var dd float64
		if a.PeakEquityUsd > 0 && equity < a.PeakEquityUsd {
			dd = (a.PeakEquityUsd - equity) / a.PeakEquityUsd
		}
		summary := AgentSummary{
			ID:             a.ID,
			Name:           a.Name,
			StrategyID:     a.StrategyID,
			CashUsd:        types.Round4(a.CashUsd),
			EquityUsd:      types.Round4(equity),
			RealizedPnlUsd: types.Round4(a.RealizedPnlUsd),
			PeakEquityUsd:  types.Round4(a.PeakEquityUsd),
			DrawdownPct:    types.Round4(dd),
			Positions:      len(a.Positions),
		}
		if as, ok := st.AutonomousState[a.ID]; ok {
			summary.Halted = as.Halted
			summary.HaltReason = as.HaltReason
		}
		agents = append(agents, summary)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	var pending int
	for _, in := range st.TradeIntents {
		if in.Status == types.IntentPending {
			pending++
		}
	}

	return DashboardSnapshot{
		Timestamp: now,
		Agents:    agents,
		Prices:    st.MarketPricesUsd,
		Pending:   pending,
		Metrics: MetricsSummary{
			IntentsReceived: st.Metrics.IntentsReceived,
			IntentsExecuted: st.Metrics.IntentsExecuted,
			IntentsRejected: st.Metrics.IntentsRejected,
			IntentsFailed:   st.Metrics.IntentsFailed,
			RejectsByReason: st.Metrics.RejectsByReason,
		},
		Treasury: st.Treasury,
	}
}
