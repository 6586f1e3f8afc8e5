package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"colosseum/internal/bus"
	"colosseum/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path, nil, testLogger())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitFreshStartsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	snap := s.Snapshot()
	if len(snap.Agents) != 0 || len(snap.TradeIntents) != 0 {
		t.Errorf("fresh state not empty: %d agents, %d intents", len(snap.Agents), len(snap.TradeIntents))
	}
	if snap.Metrics == nil || snap.Metrics.RejectsByReason == nil {
		t.Error("metrics containers must be allocated")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.Transaction(func(st *AppState, _ *Tx) error {
		st.Agents["a1"] = &types.Agent{
			ID:                     "a1",
			CashUsd:                100,
			Positions:              map[string]types.Position{"SOL": {Symbol: "SOL", Quantity: 2, AvgEntryPriceUsd: 50}},
			DailyRealizedPnlUsd:    map[string]float64{},
			RiskRejectionsByReason: map[string]int{},
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	snap.Agents["a1"].CashUsd = 0
	pos := snap.Agents["a1"].Positions["SOL"]
	pos.Quantity = 999
	snap.Agents["a1"].Positions["SOL"] = pos

	again := s.Snapshot()
	if again.Agents["a1"].CashUsd != 100 {
		t.Errorf("snapshot mutation leaked into store: cash = %v", again.Agents["a1"].CashUsd)
	}
	if again.Agents["a1"].Positions["SOL"].Quantity != 2 {
		t.Errorf("snapshot mutation leaked into store: qty = %v", again.Agents["a1"].Positions["SOL"].Quantity)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")

	s := Open(path, nil, testLogger())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	err := s.Transaction(func(st *AppState, _ *Tx) error {
		st.MarketPricesUsd["SOL"] = 100
		st.Metrics.IntentsReceived = 7
		st.Treasury.FeesCollectedUsd = 1.25
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := Open(path, nil, testLogger())
	if err := reopened.Init(); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	snap := reopened.Snapshot()
	if snap.MarketPricesUsd["SOL"] != 100 {
		t.Errorf("price not persisted: %v", snap.MarketPricesUsd["SOL"])
	}
	if snap.Metrics.IntentsReceived != 7 {
		t.Errorf("metrics not persisted: %v", snap.Metrics.IntentsReceived)
	}
	if snap.Treasury.FeesCollectedUsd != 1.25 {
		t.Errorf("treasury not persisted: %v", snap.Treasury.FeesCollectedUsd)
	}
}

func TestCorruptStateFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Open(path, nil, testLogger())
	if err := s.Init(); err != nil {
		t.Fatalf("corrupt file must not fail Init: %v", err)
	}
	defer s.Close()

	if snap := s.Snapshot(); len(snap.Agents) != 0 {
		t.Error("corrupt file should yield empty defaults")
	}
}

func TestTransactionEventsDeliveredInOrder(t *testing.T) {
	t.Parallel()
	b := bus.New(testLogger())
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path, b, testLogger())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var got []string
	b.On(bus.Wildcard, func(event string, _ any) { got = append(got, event) })

	s.Transaction(func(_ *AppState, tx *Tx) error {
		tx.Emit("intent.created", nil)
		tx.Emit("intent.executed", nil)
		return nil
	})
	s.Transaction(func(_ *AppState, tx *Tx) error {
		tx.Emit("intent.rejected", nil)
		return nil
	})

	want := []string{"intent.created", "intent.executed", "intent.rejected"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestSetPriceBoundsHistory(t *testing.T) {
	t.Parallel()
	st := NewAppState()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxPriceHistory+10; i++ {
		st.SetPrice("SOL", float64(i), base.Add(time.Duration(i)*time.Minute))
	}

	hist := st.MarketPriceHistoryUsd["SOL"]
	if len(hist) != MaxPriceHistory {
		t.Errorf("history length = %d, want %d", len(hist), MaxPriceHistory)
	}
	if hist[len(hist)-1].PriceUsd != float64(MaxPriceHistory+9) {
		t.Errorf("last sample = %v, want most recent", hist[len(hist)-1].PriceUsd)
	}
	if st.MarketPricesUsd["SOL"] != float64(MaxPriceHistory+9) {
		t.Errorf("latest price = %v", st.MarketPricesUsd["SOL"])
	}
}
