package guard

import (
	"strings"
	"testing"

	"colosseum/pkg/types"
)

func testPolicy() Policy {
	return Policy{
		MaxDrawdownStopPct:               0.5,
		CooldownMs:                       60000,
		CooldownAfterConsecutiveFailures: 2,
	}
}

func TestAllowCleanState(t *testing.T) {
	t.Parallel()
	g := New(testPolicy())
	st := &types.AutonomousState{}

	if v := g.Allow(1000, 0.1, st); !v.Allowed {
		t.Errorf("clean state denied: %+v", v)
	}
}

func TestDrawdownStopHaltsPermanently(t *testing.T) {
	t.Parallel()
	g := New(testPolicy())
	st := &types.AutonomousState{}

	v := g.Allow(1000, 0.5, st)
	if v.Allowed || v.Reason != types.ReasonAutonomousHalted {
		t.Fatalf("verdict = %+v, want halted", v)
	}
	if !st.Halted || st.HaltReason == "" {
		t.Errorf("state = %+v, want halted with reason", st)
	}

	// Stays halted even after drawdown recovers.
	if v := g.Allow(999999999, 0.0, st); v.Allowed {
		t.Error("halted agent must stay halted until external reset")
	}
}

func TestFailureStreakTriggersCooldown(t *testing.T) {
	t.Parallel()
	g := New(testPolicy())
	st := &types.AutonomousState{}

	g.RecordFailure(st)
	g.RecordFailure(st)

	v := g.Allow(10000, 0, st)
	if v.Allowed || v.Reason != types.ReasonAutonomousCooldown {
		t.Fatalf("verdict = %+v, want autonomous_cooldown", v)
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("failure counter = %d, want reset to 0", st.ConsecutiveFailures)
	}
	if st.CooldownUntilMs != 70000 {
		t.Errorf("cooldownUntilMs = %d, want 70000", st.CooldownUntilMs)
	}

	// Within the window: denied with "cooldown until <ts>".
	v = g.Allow(40000, 0, st)
	if v.Allowed {
		t.Fatal("must deny inside cooldown window")
	}
	if !strings.HasPrefix(v.StatusReason(), "cooldown until ") {
		t.Errorf("status reason = %q, want cooldown until <ts>", v.StatusReason())
	}

	// One past the window: allowed.
	if v := g.Allow(70001, 0, st); !v.Allowed {
		t.Errorf("verdict at 70001 = %+v, want allowed", v)
	}
}

func TestRecordSuccessResetsStreak(t *testing.T) {
	t.Parallel()
	g := New(testPolicy())
	st := &types.AutonomousState{}

	g.RecordFailure(st)
	g.RecordSuccess(st)
	g.RecordFailure(st)

	if v := g.Allow(1000, 0, st); !v.Allowed {
		t.Errorf("one failure after success should not trigger cooldown: %+v", v)
	}
}
