// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the platform — agents, trade
// intents, executions, receipts, and the event payloads published on the
// bus. It has no dependencies on internal packages, so it can be imported
// by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade intent: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Mode selects how an intent is filled. Paper fills against the in-memory
// market price; live is reserved for venue execution and applies taker fees.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// IntentStatus is the lifecycle state of a trade intent. Intents are created
// pending and move to exactly one terminal state; terminal intents are never
// re-processed.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentExecuted IntentStatus = "executed"
	IntentRejected IntentStatus = "rejected"
	IntentFailed   IntentStatus = "failed"
)

// ExecStatus is the outcome of processing an intent.
type ExecStatus string

const (
	ExecFilled ExecStatus = "filled"
	ExecFailed ExecStatus = "failed"
)

// ————————————————————————————————————————————————————————————————————————
// Reason codes
// ————————————————————————————————————————————————————————————————————————

// Reason codes are opaque, stable strings surfaced in intent statusReason
// fields, rejection counters, and events. External consumers match on them.
const (
	ReasonAgentNotFound          = "agent_not_found"
	ReasonIntentNotFound         = "intent_not_found"
	ReasonInvalidOrder           = "invalid_order"
	ReasonIdempotencyKeyConflict = "idempotency_key_conflict"

	ReasonMaxOrderNotional   = "max_order_notional_exceeded"
	ReasonGrossExposureCap   = "gross_exposure_cap_exceeded"
	ReasonDailyLossCap       = "daily_loss_cap_reached"
	ReasonDrawdownGuard      = "drawdown_guard_triggered"
	ReasonCooldownActive     = "cooldown_active"
	ReasonPriceUnavailable   = "market_price_unavailable"
	ReasonInsufficientPos    = "insufficient_position"
	ReasonAutonomousHalted   = "autonomous_halted"
	ReasonAutonomousCooldown = "autonomous_cooldown"
	ReasonInternalError      = "internal_error"
)

// DomainError is a caller-visible validation failure. Kind is one of the
// reason codes above; Message is human-readable. Risk and guard rejections
// are NOT DomainErrors — they are terminal intent states reported through
// the event stream.
type DomainError struct {
	Kind    string
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// NewDomainError builds a DomainError with the given kind and message.
func NewDomainError(kind, msg string) *DomainError {
	return &DomainError{Kind: kind, Message: msg}
}

// ————————————————————————————————————————————————————————————————————————
// Event names
// ————————————————————————————————————————————————————————————————————————

// Event names published on the bus. These are a contract with external
// consumers; payload shapes may gain fields but names never change.
const (
	EventIntentCreated  = "intent.created"
	EventIntentExecuted = "intent.executed"
	EventIntentRejected = "intent.rejected"
	EventIntentFailed   = "intent.failed"
	EventPriceUpdated   = "price.updated"
	EventAlertCreated   = "alert.created"
	EventAlertDeleted   = "alert.deleted"
	EventAlertTriggered = "alert.triggered"

	// Reserved for periphery services (tournaments, prediction markets,
	// snipe detection). The core never emits these itself.
	EventTournamentStarted = "tournament.started"
	EventTournamentEnded   = "tournament.ended"
	EventPredictionCreated = "prediction.created"
	EventSnipeDetected     = "snipe.detected"
)

// IntentCreatedPayload is the payload of intent.created.
type IntentCreatedPayload struct {
	IntentID string `json:"intentId"`
	AgentID  string `json:"agentId"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
}

// IntentExecutedPayload is the payload of intent.executed.
type IntentExecutedPayload struct {
	ExecutionID      string  `json:"executionId"`
	IntentID         string  `json:"intentId"`
	AgentID          string  `json:"agentId"`
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	Quantity         float64 `json:"quantity"`
	PriceUsd         float64 `json:"priceUsd"`
	GrossNotionalUsd float64 `json:"grossNotionalUsd"`
	FeeUsd           float64 `json:"feeUsd"`
	NetUsd           float64 `json:"netUsd"`
	RealizedPnlUsd   float64 `json:"realizedPnlUsd"`
	Mode             Mode    `json:"mode"`
}

// IntentOutcomePayload is the payload of intent.rejected and intent.failed.
type IntentOutcomePayload struct {
	IntentID string `json:"intentId"`
	AgentID  string `json:"agentId"`
	Reason   string `json:"reason"`
}

// PriceUpdatedPayload is the payload of price.updated.
type PriceUpdatedPayload struct {
	Symbol   string  `json:"symbol"`
	PriceUsd float64 `json:"priceUsd"`
}

// AlertPayload is the payload of the alert.* events.
type AlertPayload struct {
	AlertID   string  `json:"alertId"`
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Threshold float64 `json:"thresholdUsd"`
	PriceUsd  float64 `json:"priceUsd,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Agents and positions
// ————————————————————————————————————————————————————————————————————————

// RiskLimits are the per-agent limits the risk engine evaluates.
type RiskLimits struct {
	MaxPositionSizePct  float64 `json:"maxPositionSizePct"`
	MaxOrderNotionalUsd float64 `json:"maxOrderNotionalUsd"`
	MaxGrossExposureUsd float64 `json:"maxGrossExposureUsd"`
	DailyLossCapUsd     float64 `json:"dailyLossCapUsd"`
	MaxDrawdownPct      float64 `json:"maxDrawdownPct"`
	CooldownSeconds     int     `json:"cooldownSeconds"`
}

// Position is one symbol's holding inside an agent's ledger. Removed from
// the agent when quantity reaches zero.
type Position struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	AvgEntryPriceUsd float64 `json:"avgEntryPriceUsd"`
}

// Agent is a trading participant: identity, capital, ledger, and limits.
type Agent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	APIKey     string    `json:"apiKey"`
	StrategyID string    `json:"strategyId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	StartingCapitalUsd float64 `json:"startingCapitalUsd"`
	CashUsd            float64 `json:"cashUsd"`
	RealizedPnlUsd     float64 `json:"realizedPnlUsd"`
	PeakEquityUsd      float64 `json:"peakEquityUsd"`

	Positions           map[string]Position `json:"positions"`
	DailyRealizedPnlUsd map[string]float64  `json:"dailyRealizedPnlUsd"`

	RiskLimits             RiskLimits     `json:"riskLimits"`
	LastTradeAt            *time.Time     `json:"lastTradeAt,omitempty"`
	RiskRejectionsByReason map[string]int `json:"riskRejectionsByReason"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Positions = make(map[string]Position, len(a.Positions))
	for k, v := range a.Positions {
		c.Positions[k] = v
	}
	c.DailyRealizedPnlUsd = make(map[string]float64, len(a.DailyRealizedPnlUsd))
	for k, v := range a.DailyRealizedPnlUsd {
		c.DailyRealizedPnlUsd[k] = v
	}
	c.RiskRejectionsByReason = make(map[string]int, len(a.RiskRejectionsByReason))
	for k, v := range a.RiskRejectionsByReason {
		c.RiskRejectionsByReason[k] = v
	}
	if a.LastTradeAt != nil {
		t := *a.LastTradeAt
		c.LastTradeAt = &t
	}
	return &c
}

// Equity returns cash plus the mark-to-market value of all positions,
// priced from the given symbol → price map. Symbols with no known price
// contribute nothing.
func (a *Agent) Equity(pricesUsd map[string]float64) float64 {
	eq := a.CashUsd
	for sym, pos := range a.Positions {
		if px, ok := pricesUsd[sym]; ok {
			eq += pos.Quantity * px
		}
	}
	return eq
}

// GrossExposure returns the sum of absolute position values in USD.
func (a *Agent) GrossExposure(pricesUsd map[string]float64) float64 {
	var total float64
	for sym, pos := range a.Positions {
		if px, ok := pricesUsd[sym]; ok {
			v := pos.Quantity * px
			if v < 0 {
				v = -v
			}
			total += v
		}
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// Intents, executions, receipts
// ————————————————————————————————————————————————————————————————————————

// TradeIntent is a request to buy or sell. Exactly one of Quantity or
// NotionalUsd is positive. Meta is opaque to the core.
type TradeIntent struct {
	ID            string            `json:"id"`
	AgentID       string            `json:"agentId"`
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	Quantity      float64           `json:"quantity,omitempty"`
	NotionalUsd   float64           `json:"notionalUsd,omitempty"`
	RequestedMode Mode              `json:"requestedMode"`
	Meta          map[string]string `json:"meta,omitempty"`
	Status        IntentStatus      `json:"status"`
	StatusReason  string            `json:"statusReason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy of the intent.
func (in *TradeIntent) Clone() *TradeIntent {
	c := *in
	if in.Meta != nil {
		c.Meta = make(map[string]string, len(in.Meta))
		for k, v := range in.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// ExecutionRecord is the result of processing an intent. NetUsd is signed:
// negative for buys (cash out), positive for sells (cash in).
type ExecutionRecord struct {
	ID               string     `json:"id"`
	IntentID         string     `json:"intentId"`
	AgentID          string     `json:"agentId"`
	Symbol           string     `json:"symbol"`
	Side             Side       `json:"side"`
	Quantity         float64    `json:"quantity"`
	PriceUsd         float64    `json:"priceUsd"`
	GrossNotionalUsd float64    `json:"grossNotionalUsd"`
	FeeUsd           float64    `json:"feeUsd"`
	NetUsd           float64    `json:"netUsd"`
	RealizedPnlUsd   float64    `json:"realizedPnlUsd"`
	PnlSnapshotUsd   float64    `json:"pnlSnapshotUsd"`
	Mode             Mode       `json:"mode"`
	Status           ExecStatus `json:"status"`
	FailureReason    string     `json:"failureReason,omitempty"`
	TxSignature      string     `json:"txSignature,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// SignaturePayload is the envelope attached to each receipt. MessageHash
// always equals the receipt hash; Scheme is a fixed constant.
type SignaturePayload struct {
	Scheme      string `json:"scheme"`
	Message     string `json:"message"`
	MessageHash string `json:"messageHash"`
	// Signature and Signer are present only when a platform signing key is
	// configured. Chain verification never depends on them.
	Signature string `json:"signature,omitempty"`
	Signer    string `json:"signer,omitempty"`
}

// Receipt is a tamper-evident, hash-chained stamp of an execution.
type Receipt struct {
	Version          string           `json:"version"`
	ExecutionID      string           `json:"executionId"`
	Payload          map[string]any   `json:"payload"`
	PayloadHash      string           `json:"payloadHash"`
	PrevReceiptHash  string           `json:"prevReceiptHash,omitempty"`
	ReceiptHash      string           `json:"receiptHash"`
	SignaturePayload SignaturePayload `json:"signaturePayload"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	c := *r
	c.Payload = make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		c.Payload[k] = v
	}
	return &c
}

// IdempotencyRecord remembers a client-supplied key so that retries replay
// the original intent instead of creating a duplicate. Keyed by
// (agentId, key) in the store.
type IdempotencyRecord struct {
	Key                string    `json:"key"`
	IntentID           string    `json:"intentId"`
	PayloadFingerprint string    `json:"payloadFingerprint"`
	CreatedAt          time.Time `json:"createdAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Autonomous state, metrics, treasury, alerts
// ————————————————————————————————————————————————————————————————————————

// AutonomousState is the per-agent kill-switch state. Halted is terminal
// until an admin action outside the core resets it.
type AutonomousState struct {
	Halted              bool   `json:"halted"`
	HaltReason          string `json:"haltReason,omitempty"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	CooldownUntilMs     int64  `json:"cooldownUntilMs"`
}

// Metrics holds the monotonic intent counters.
type Metrics struct {
	IntentsReceived int64 `json:"intentsReceived"`
	IntentsExecuted int64 `json:"intentsExecuted"`
	IntentsRejected int64 `json:"intentsRejected"`
	IntentsFailed   int64 `json:"intentsFailed"`

	RejectsByReason map[string]int64 `json:"rejectsByReason"`
}

// Clone returns a deep copy of the metrics.
func (m *Metrics) Clone() *Metrics {
	c := *m
	c.RejectsByReason = make(map[string]int64, len(m.RejectsByReason))
	for k, v := range m.RejectsByReason {
		c.RejectsByReason[k] = v
	}
	return &c
}

// Treasury accumulates platform fee revenue.
type Treasury struct {
	FeesCollectedUsd float64 `json:"feesCollectedUsd"`
}

// Alert is a per-symbol price threshold watch. Direction is "above" or
// "below"; the alert fires (and is removed) when the price crosses it.
type Alert struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentId,omitempty"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	ThresholdUsd float64   `json:"thresholdUsd"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PricePoint is one sample in a symbol's bounded price history.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	PriceUsd  float64   `json:"priceUsd"`
}

// ————————————————————————————————————————————————————————————————————————
// Rounding
// ————————————————————————————————————————————————————————————————————————

// Round8 rounds a USD amount to 8 fractional digits. Amounts are IEEE-754
// internally; every externally observable output passes through here (or
// Round4 for display surfaces).
func Round8(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(8).Float64()
	return f
}

// Round4 rounds a USD amount to 4 fractional digits.
func Round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}
