package intent

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"colosseum/internal/bus"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T) (*Service, *state.Store, *bus.Bus, *clock.Virtual) {
	t.Helper()
	logger := testLogger()
	b := bus.New(logger)
	store := state.Open(filepath.Join(t.TempDir(), "state.json"), b, logger)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewVirtual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))

	err := store.Transaction(func(st *state.AppState, _ *state.Tx) error {
		st.Agents["a1"] = &types.Agent{
			ID:                     "a1",
			Name:                   "alpha",
			CashUsd:                10000,
			Positions:              map[string]types.Position{},
			DailyRealizedPnlUsd:    map[string]float64{},
			RiskRejectionsByReason: map[string]int{},
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	return NewService(store, clk, types.ModePaper, logger), store, b, clk
}

func TestCreatePendingIntent(t *testing.T) {
	t.Parallel()
	svc, store, b, _ := newTestService(t)

	var events []string
	b.On(types.EventIntentCreated, func(event string, _ any) { events = append(events, event) })

	res, err := svc.Create(CreateInput{
		AgentID:     "a1",
		Symbol:      "sol",
		Side:        types.Buy,
		NotionalUsd: 100,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Replayed {
		t.Error("fresh create must not be a replay")
	}
	if res.Intent.Symbol != "SOL" {
		t.Errorf("symbol = %q, want normalized SOL", res.Intent.Symbol)
	}
	if res.Intent.Status != types.IntentPending {
		t.Errorf("status = %q, want pending", res.Intent.Status)
	}
	if res.Intent.RequestedMode != types.ModePaper {
		t.Errorf("mode = %q, want default paper", res.Intent.RequestedMode)
	}

	snap := store.Snapshot()
	if snap.Metrics.IntentsReceived != 1 {
		t.Errorf("intentsReceived = %d, want 1", snap.Metrics.IntentsReceived)
	}
	if len(events) != 1 {
		t.Errorf("intent.created fired %d times, want 1", len(events))
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)

	cases := []struct {
		name string
		in   CreateInput
		kind string
	}{
		{"missing agent id", CreateInput{Symbol: "SOL", Side: types.Buy, NotionalUsd: 1}, types.ReasonInvalidOrder},
		{"missing symbol", CreateInput{AgentID: "a1", Side: types.Buy, NotionalUsd: 1}, types.ReasonInvalidOrder},
		{"bad side", CreateInput{AgentID: "a1", Symbol: "SOL", Side: "hold", NotionalUsd: 1}, types.ReasonInvalidOrder},
		{"neither amount", CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Buy}, types.ReasonInvalidOrder},
		{"both amounts", CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Buy, Quantity: 1, NotionalUsd: 1}, types.ReasonInvalidOrder},
		{"unknown agent", CreateInput{AgentID: "ghost", Symbol: "SOL", Side: types.Buy, NotionalUsd: 1}, types.ReasonAgentNotFound},
	}

	for _, tc := range cases {
		_, err := svc.Create(tc.in, "")
		var de *types.DomainError
		if !errors.As(err, &de) || de.Kind != tc.kind {
			t.Errorf("%s: err = %v, want kind %s", tc.name, err, tc.kind)
		}
	}

	// No validation failure may mutate state.
	snap := store.Snapshot()
	if snap.Metrics.IntentsReceived != 0 || len(snap.TradeIntents) != 0 {
		t.Errorf("validation failures mutated state: %d intents, received=%d",
			len(snap.TradeIntents), snap.Metrics.IntentsReceived)
	}
}

func TestIdempotentReplay(t *testing.T) {
	t.Parallel()
	svc, store, b, _ := newTestService(t)

	var created int
	b.On(types.EventIntentCreated, func(string, any) { created++ })

	in := CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Buy, NotionalUsd: 100}

	first, err := svc.Create(in, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Create(in, "key-1")
	if err != nil {
		t.Fatal(err)
	}

	if !second.Replayed {
		t.Error("second create must be flagged replayed")
	}
	if second.Intent.ID != first.Intent.ID {
		t.Errorf("replay returned %s, want original %s", second.Intent.ID, first.Intent.ID)
	}

	snap := store.Snapshot()
	if snap.Metrics.IntentsReceived != 1 {
		t.Errorf("intentsReceived = %d, want exactly 1", snap.Metrics.IntentsReceived)
	}
	if len(snap.TradeIntents) != 1 {
		t.Errorf("intent count = %d, want 1", len(snap.TradeIntents))
	}
	if created != 1 {
		t.Errorf("intent.created fired %d times, want 1", created)
	}
}

func TestIdempotencyKeyConflict(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	in := CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Buy, NotionalUsd: 100}
	if _, err := svc.Create(in, "key-1"); err != nil {
		t.Fatal(err)
	}

	in.NotionalUsd = 200
	_, err := svc.Create(in, "key-1")
	var de *types.DomainError
	if !errors.As(err, &de) || de.Kind != types.ReasonIdempotencyKeyConflict {
		t.Errorf("err = %v, want idempotency_key_conflict", err)
	}
}

func TestIdempotencyKeysAreScopedPerAgent(t *testing.T) {
	t.Parallel()
	svc, store, _, _ := newTestService(t)

	err := store.Transaction(func(st *state.AppState, _ *state.Tx) error {
		st.Agents["a2"] = &types.Agent{
			ID:                     "a2",
			Positions:              map[string]types.Position{},
			DailyRealizedPnlUsd:    map[string]float64{},
			RiskRejectionsByReason: map[string]int{},
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	r1, err := svc.Create(CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Buy, NotionalUsd: 100}, "shared")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := svc.Create(CreateInput{AgentID: "a2", Symbol: "SOL", Side: types.Buy, NotionalUsd: 100}, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if r2.Replayed || r1.Intent.ID == r2.Intent.ID {
		t.Error("same key under different agents must create distinct intents")
	}
}

func TestListPendingOldestFirst(t *testing.T) {
	t.Parallel()
	svc, _, _, clk := newTestService(t)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := svc.Create(CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Buy, NotionalUsd: 10}, "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.Intent.ID)
		clk.Advance(time.Second)
	}

	pending := svc.ListPending(2)
	if len(pending) != 2 {
		t.Fatalf("ListPending(2) returned %d", len(pending))
	}
	if pending[0].ID != ids[0] || pending[1].ID != ids[1] {
		t.Errorf("order = [%s %s], want oldest first [%s %s]",
			pending[0].ID, pending[1].ID, ids[0], ids[1])
	}

	all := svc.ListPending(0)
	if len(all) != 3 {
		t.Errorf("ListPending(0) returned %d, want all 3", len(all))
	}
}

func TestGetByID(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)

	res, err := svc.Create(CreateInput{AgentID: "a1", Symbol: "SOL", Side: types.Sell, Quantity: 1}, "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetByID(res.Intent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != res.Intent.ID {
		t.Errorf("GetByID returned %s", got.ID)
	}

	_, err = svc.GetByID("missing")
	var de *types.DomainError
	if !errors.As(err, &de) || de.Kind != types.ReasonIntentNotFound {
		t.Errorf("err = %v, want intent_not_found", err)
	}
}
