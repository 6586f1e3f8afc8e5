// Package execution fills trade intents and stamps receipts.
//
// Execute runs the full pipeline for one intent inside a single store
// transaction: guard, risk, fill math, ledger update, receipt chaining,
// and the terminal intent transition. Every intent ends in exactly one of
// executed, rejected, or failed; rejected and failed intents never touch
// the position ledger and never produce an execution record.
package execution

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"colosseum/internal/fees"
	"colosseum/internal/guard"
	"colosseum/internal/receipt"
	"colosseum/internal/risk"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// qtyEpsilon absorbs float noise when comparing a sell quantity against
// the held position. Selling exactly the held quantity clears the
// position; anything meaningfully above it is an oversell.
const qtyEpsilon = 1e-9

// Service executes pending intents against the in-memory market.
type Service struct {
	store    *state.Store
	clk      clock.Clock
	guard    *guard.Guard
	fees     *fees.Engine
	receipts *receipt.Engine
	logger   *slog.Logger
}

// NewService wires the execution pipeline.
func NewService(store *state.Store, clk clock.Clock, g *guard.Guard, fe *fees.Engine, re *receipt.Engine, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		clk:      clk,
		guard:    g,
		fees:     fe,
		receipts: re,
		logger:   logger.With("component", "execution"),
	}
}

// Result is the outcome of Execute. Execution is non-nil only when the
// intent filled; Status is the intent's terminal status (or its current
// status when the intent was not pending and nothing happened).
type Result struct {
	Execution *types.ExecutionRecord
	Status    types.IntentStatus
	Reason    string
}

// fill is the computed outcome of the fill math, staged before any state
// mutation so a failure leaves the ledger untouched.
type fill struct {
	quantity    float64
	priceUsd    float64
	grossUsd    float64
	feeUsd      float64
	netUsd      float64
	realizedUsd float64
	newPosition types.Position
	closed      bool
}

// Execute processes one intent to a terminal state. Rejections and
// failures are recorded outcomes, not errors; the returned error is
// reserved for unknown intents.
func (s *Service) Execute(intentID string) (Result, error) {
	var res Result
	err := s.store.Transaction(func(st *state.AppState, tx *state.Tx) error {
		in, ok := st.TradeIntents[intentID]
		if !ok {
			return types.NewDomainError(types.ReasonIntentNotFound, "unknown intent "+intentID)
		}
		if in.Status != types.IntentPending {
			// Terminal intents are never re-processed.
			res = Result{Status: in.Status, Reason: in.StatusReason}
			return nil
		}

		now := s.clk.Now()
		as := st.EnsureAutonomous(in.AgentID)

		agent, ok := st.Agents[in.AgentID]
		if !ok {
			res = s.fail(st, tx, in, as, types.ReasonAgentNotFound, now)
			return nil
		}
		priceUsd, ok := st.MarketPricesUsd[in.Symbol]
		if !ok || priceUsd <= 0 {
			res = s.fail(st, tx, in, as, types.ReasonPriceUnavailable, now)
			return nil
		}

		verdict := s.guard.Allow(now.UnixMilli(), drawdownOf(agent, st.MarketPricesUsd), as)
		if !verdict.Allowed {
			res = s.reject(st, tx, in, agent, verdict.Reason, verdict.StatusReason(), now)
			return nil
		}

		decision := risk.Evaluate(agent, in, priceUsd, st.MarketPricesUsd, now)
		if !decision.Approved {
			res = s.reject(st, tx, in, agent, decision.Reason, decision.Reason, now)
			return nil
		}

		f, failReason := s.computeFill(agent, in, decision, priceUsd)
		if failReason != "" {
			res = s.fail(st, tx, in, as, failReason, now)
			return nil
		}

		exec := &types.ExecutionRecord{
			ID:               uuid.NewString(),
			IntentID:         in.ID,
			AgentID:          in.AgentID,
			Symbol:           in.Symbol,
			Side:             in.Side,
			Quantity:         types.Round8(f.quantity),
			PriceUsd:         types.Round8(f.priceUsd),
			GrossNotionalUsd: types.Round8(f.grossUsd),
			FeeUsd:           types.Round8(f.feeUsd),
			NetUsd:           types.Round8(f.netUsd),
			RealizedPnlUsd:   types.Round8(f.realizedUsd),
			PnlSnapshotUsd:   types.Round8(agent.RealizedPnlUsd + f.realizedUsd),
			Mode:             in.RequestedMode,
			Status:           types.ExecFilled,
			CreatedAt:        now,
		}

		rcpt, err := s.receipts.CreateReceipt(exec, st.LatestReceiptHash[in.AgentID])
		if err != nil {
			s.logger.Error("receipt creation failed", "intent_id", in.ID, "error", err)
			res = s.fail(st, tx, in, as, types.ReasonInternalError, now)
			return nil
		}

		// Commit: ledger, aggregates, records, receipt chain, intent.
		s.applyFill(agent, in.Symbol, f, st.MarketPricesUsd, now)
		st.Treasury.FeesCollectedUsd += f.feeUsd
		st.Executions[exec.ID] = exec
		st.Receipts[exec.ID] = rcpt
		st.LatestReceiptHash[in.AgentID] = rcpt.ReceiptHash

		in.Status = types.IntentExecuted
		in.StatusReason = ""
		in.UpdatedAt = now
		st.Metrics.IntentsExecuted++
		s.guard.RecordSuccess(as)

		tx.Emit(types.EventIntentExecuted, types.IntentExecutedPayload{
			ExecutionID:      exec.ID,
			IntentID:         exec.IntentID,
			AgentID:          exec.AgentID,
			Symbol:           exec.Symbol,
			Side:             exec.Side,
			Quantity:         exec.Quantity,
			PriceUsd:         exec.PriceUsd,
			GrossNotionalUsd: exec.GrossNotionalUsd,
			FeeUsd:           exec.FeeUsd,
			NetUsd:           exec.NetUsd,
			RealizedPnlUsd:   exec.RealizedPnlUsd,
			Mode:             exec.Mode,
		})
		res = Result{Execution: exec, Status: types.IntentExecuted}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch res.Status {
	case types.IntentExecuted:
		if res.Execution == nil {
			// Already-terminal intent: nothing happened, nothing to log.
			break
		}
		s.logger.Info("intent executed",
			"intent_id", intentID,
			"execution_id", res.Execution.ID,
			"symbol", res.Execution.Symbol,
			"side", res.Execution.Side,
			"quantity", res.Execution.Quantity,
			"price_usd", res.Execution.PriceUsd,
		)
	case types.IntentRejected:
		s.logger.Info("intent rejected", "intent_id", intentID, "reason", res.Reason)
	case types.IntentFailed:
		s.logger.Warn("intent failed", "intent_id", intentID, "reason", res.Reason)
	}
	return res, nil
}

// computeFill stages the fill on locals. It recovers from panics in the
// math so an internal fault surfaces as a failed intent instead of
// killing the worker.
func (s *Service) computeFill(agent *types.Agent, in *types.TradeIntent, d risk.Decision, priceUsd float64) (f fill, failReason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fill computation panic", "intent_id", in.ID, "panic", fmt.Sprint(r))
			f, failReason = fill{}, types.ReasonInternalError
		}
	}()

	f.quantity = d.Quantity
	f.priceUsd = priceUsd
	f.grossUsd = d.NotionalUsd
	f.feeUsd = s.fees.Fee(f.grossUsd, in.Side, in.RequestedMode)

	pos := agent.Positions[in.Symbol]
	switch in.Side {
	case types.Buy:
		f.netUsd = -(f.grossUsd + f.feeUsd)
		newQty := pos.Quantity + f.quantity
		f.newPosition = types.Position{
			Symbol:           in.Symbol,
			Quantity:         newQty,
			AvgEntryPriceUsd: (pos.Quantity*pos.AvgEntryPriceUsd + f.quantity*priceUsd) / newQty,
		}
	case types.Sell:
		if f.quantity > pos.Quantity+qtyEpsilon {
			return fill{}, types.ReasonInsufficientPos
		}
		f.netUsd = f.grossUsd - f.feeUsd
		f.realizedUsd = f.quantity*(priceUsd-pos.AvgEntryPriceUsd) - f.feeUsd
		remaining := pos.Quantity - f.quantity
		if remaining <= qtyEpsilon {
			f.closed = true
		} else {
			f.newPosition = types.Position{
				Symbol:           in.Symbol,
				Quantity:         remaining,
				AvgEntryPriceUsd: pos.AvgEntryPriceUsd,
			}
		}
	}
	return f, ""
}

// applyFill commits a staged fill to the agent's ledger and aggregates.
// The equity peak only advances at trade time; mark-to-market ticks do
// not refresh it.
func (s *Service) applyFill(agent *types.Agent, symbol string, f fill, pricesUsd map[string]float64, now time.Time) {
	if f.closed {
		delete(agent.Positions, symbol)
	} else {
		agent.Positions[symbol] = f.newPosition
	}
	agent.CashUsd += f.netUsd
	agent.RealizedPnlUsd += f.realizedUsd
	agent.DailyRealizedPnlUsd[clock.DayKey(now)] += f.realizedUsd

	if eq := agent.Equity(pricesUsd); eq > agent.PeakEquityUsd {
		agent.PeakEquityUsd = eq
	}

	t := now
	agent.LastTradeAt = &t
	agent.UpdatedAt = now
}

// reject marks the intent rejected and counts the reason globally and on
// the agent. Rejections do not advance the guard's failure streak; only
// failed executions do, so a cooldown denial cannot re-arm the counter
// it just reset.
func (s *Service) reject(st *state.AppState, tx *state.Tx, in *types.TradeIntent, agent *types.Agent, reasonCode, statusReason string, now time.Time) Result {
	in.Status = types.IntentRejected
	in.StatusReason = statusReason
	in.UpdatedAt = now

	st.Metrics.IntentsRejected++
	st.Metrics.RejectsByReason[reasonCode]++
	agent.RiskRejectionsByReason[reasonCode]++

	tx.Emit(types.EventIntentRejected, types.IntentOutcomePayload{
		IntentID: in.ID,
		AgentID:  in.AgentID,
		Reason:   reasonCode,
	})
	return Result{Status: types.IntentRejected, Reason: reasonCode}
}

// fail marks the intent failed without touching the position ledger.
func (s *Service) fail(st *state.AppState, tx *state.Tx, in *types.TradeIntent, as *types.AutonomousState, reason string, now time.Time) Result {
	in.Status = types.IntentFailed
	in.StatusReason = reason
	in.UpdatedAt = now

	st.Metrics.IntentsFailed++
	s.guard.RecordFailure(as)

	tx.Emit(types.EventIntentFailed, types.IntentOutcomePayload{
		IntentID: in.ID,
		AgentID:  in.AgentID,
		Reason:   reason,
	})
	return Result{Status: types.IntentFailed, Reason: reason}
}

// drawdownOf computes the agent's current drawdown in [0, 1].
func drawdownOf(agent *types.Agent, pricesUsd map[string]float64) float64 {
	if agent.PeakEquityUsd <= 0 {
		return 0
	}
	dd := (agent.PeakEquityUsd - agent.Equity(pricesUsd)) / agent.PeakEquityUsd
	if dd < 0 {
		return 0
	}
	return dd
}
