package api

import (
	"time"

	"colosseum/pkg/types"
)

// DashboardEvent is the wrapper for all events pushed to WebSocket clients.
type DashboardEvent struct {
	Type      string    `json:"type"` // bus event name, or "snapshot"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// DashboardSnapshot is the aggregate platform state served to dashboards.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Agents  []AgentSummary     `json:"agents"`
	Prices  map[string]float64 `json:"pricesUsd"`
	Pending int                `json:"pendingIntents"`

	Metrics  MetricsSummary `json:"metrics"`
	Treasury types.Treasury `json:"treasury"`
}

// AgentSummary is the per-agent dashboard row. Equity and drawdown are
// marked to the snapshot's prices; the API key is never included.
type AgentSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	StrategyID     string  `json:"strategyId,omitempty"`
	CashUsd        float64 `json:"cashUsd"`
	EquityUsd      float64 `json:"equityUsd"`
	RealizedPnlUsd float64 `json:"realizedPnlUsd"`
	PeakEquityUsd  float64 `json:"peakEquityUsd"`
	DrawdownPct    float64 `json:"drawdownPct"`
	Positions      int     `json:"positions"`
	Halted         bool    `json:"halted"`
	HaltReason     string  `json:"haltReason,omitempty"`
}

// MetricsSummary mirrors the monotonic intent counters.
type MetricsSummary struct {
	IntentsReceived int64            `json:"intentsReceived"`
	IntentsExecuted int64            `json:"intentsExecuted"`
	IntentsRejected int64            `json:"intentsRejected"`
	IntentsFailed   int64            `json:"intentsFailed"`
	RejectsByReason map[string]int64 `json:"rejectsByReason"`
}

// RegisterAgentRequest is the POST /api/agents body.
type RegisterAgentRequest struct {
	Name               string            `json:"name"`
	StrategyID         string            `json:"strategyId,omitempty"`
	StartingCapitalUsd float64           `json:"startingCapitalUsd,omitempty"`
	RiskLimits         *types.RiskLimits `json:"riskLimits,omitempty"`
}

// RegisterAgentResponse returns the new agent including its API key; the
// only time the key is ever served.
type RegisterAgentResponse struct {
	Agent  *types.Agent `json:"agent"`
	APIKey string       `json:"apiKey"`
}

// CreateIntentRequest is the POST /api/intents body. The agent comes
// from the X-API-Key header, never from the body.
type CreateIntentRequest struct {
	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	Quantity    float64           `json:"quantity,omitempty"`
	NotionalUsd float64           `json:"notionalUsd,omitempty"`
	Mode        types.Mode        `json:"mode,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// CreateIntentResponse wraps the created (or replayed) intent.
type CreateIntentResponse struct {
	Intent   *types.TradeIntent `json:"intent"`
	Replayed bool               `json:"replayed"`
}

// CreateAlertRequest is the POST /api/alerts body.
type CreateAlertRequest struct {
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	ThresholdUsd float64 `json:"thresholdUsd"`
}

// ErrorResponse is the JSON error body. Kind is a stable reason code.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
