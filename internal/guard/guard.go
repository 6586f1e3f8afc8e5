// Package guard implements the per-agent autonomous kill switch.
//
// The guard halts an agent permanently when drawdown crosses the stop
// threshold and imposes a timed cooldown after a streak of failed
// executions. Halted is terminal: only an admin action outside the core
// clears it. Allow mutates the supplied state, so callers invoke it inside
// a store transaction.
package guard

import (
	"fmt"

	"colosseum/pkg/types"
)

// Policy is the configured kill-switch thresholds.
type Policy struct {
	MaxDrawdownStopPct               float64
	CooldownMs                       int64
	CooldownAfterConsecutiveFailures int
}

// Verdict is the guard's decision for one execution attempt. Reason is a
// stable code for counters; Detail carries the human-readable status
// (e.g. "cooldown until <ts>") when it differs from the code.
type Verdict struct {
	Allowed bool
	Reason  string
	Detail  string
}

// StatusReason returns the string recorded on a denied intent.
func (v Verdict) StatusReason() string {
	if v.Detail != "" {
		return v.Detail
	}
	return v.Reason
}

// Guard evaluates the kill-switch policy.
type Guard struct {
	policy Policy
}

// New creates a guard with the given policy.
func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Allow decides whether the agent may trade right now. drawdownPct is the
// agent's current drawdown in [0, 1]. State transitions:
//
//   - drawdown >= MaxDrawdownStopPct: halt permanently, deny.
//   - failure streak reached: start cooldown, reset the streak, deny.
//   - inside a cooldown window: deny with "cooldown until <ts>".
//   - otherwise: allow.
func (g *Guard) Allow(nowMs int64, drawdownPct float64, st *types.AutonomousState) Verdict {
	if st.Halted {
		return Verdict{Reason: types.ReasonAutonomousHalted, Detail: st.HaltReason}
	}

	if g.policy.MaxDrawdownStopPct > 0 && drawdownPct >= g.policy.MaxDrawdownStopPct {
		st.Halted = true
		st.HaltReason = fmt.Sprintf("drawdown %.4f reached stop threshold %.4f", drawdownPct, g.policy.MaxDrawdownStopPct)
		return Verdict{Reason: types.ReasonAutonomousHalted, Detail: st.HaltReason}
	}

	if g.policy.CooldownAfterConsecutiveFailures > 0 &&
		st.ConsecutiveFailures >= g.policy.CooldownAfterConsecutiveFailures {
		st.CooldownUntilMs = nowMs + g.policy.CooldownMs
		st.ConsecutiveFailures = 0
		return Verdict{Reason: types.ReasonAutonomousCooldown}
	}

	if nowMs < st.CooldownUntilMs {
		return Verdict{
			Reason: types.ReasonAutonomousCooldown,
			Detail: fmt.Sprintf("cooldown until %d", st.CooldownUntilMs),
		}
	}

	return Verdict{Allowed: true}
}

// RecordFailure increments the failure streak.
func (g *Guard) RecordFailure(st *types.AutonomousState) {
	st.ConsecutiveFailures++
}

// RecordSuccess clears the failure streak.
func (g *Guard) RecordSuccess(st *types.AutonomousState) {
	st.ConsecutiveFailures = 0
}
