// Package state owns the single in-memory application state and its
// crash-safe persistence.
//
// All mutation flows through Transaction, which serializes writers and
// delivers the transaction's events in order before any later transaction's
// events. Readers call Snapshot and get a deep copy they can never corrupt.
// Persistence is a whole-snapshot JSON file written atomically (write to
// .tmp, then rename) by a background saver; Flush forces a synchronous
// write. Load failure yields default state with a warning, never a crash.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"colosseum/internal/bus"
	"colosseum/pkg/types"
)

// MaxPriceHistory bounds the per-symbol price ring buffer.
const MaxPriceHistory = 288

// AppState is the whole domain snapshot: agents, intents, executions,
// receipts, idempotency registry, market prices, metrics, autonomous
// guard state, alerts, and the treasury.
type AppState struct {
	Agents                map[string]*types.Agent             `json:"agents"`
	TradeIntents          map[string]*types.TradeIntent       `json:"tradeIntents"`
	Executions            map[string]*types.ExecutionRecord   `json:"executions"`
	Receipts              map[string]*types.Receipt           `json:"receipts"`
	LatestReceiptHash     map[string]string                   `json:"latestReceiptHash"`
	Idempotency           map[string]*types.IdempotencyRecord `json:"idempotency"`
	MarketPricesUsd       map[string]float64                  `json:"marketPricesUsd"`
	MarketPriceHistoryUsd map[string][]types.PricePoint       `json:"marketPriceHistoryUsd"`
	Metrics               *types.Metrics                      `json:"metrics"`
	AutonomousState       map[string]*types.AutonomousState   `json:"autonomousState"`
	Alerts                map[string]*types.Alert             `json:"alerts"`
	Treasury              types.Treasury                      `json:"treasury"`
}

// NewAppState returns an empty state with all containers allocated.
func NewAppState() *AppState {
	return &AppState{
		Agents:                make(map[string]*types.Agent),
		TradeIntents:          make(map[string]*types.TradeIntent),
		Executions:            make(map[string]*types.ExecutionRecord),
		Receipts:              make(map[string]*types.Receipt),
		LatestReceiptHash:     make(map[string]string),
		Idempotency:           make(map[string]*types.IdempotencyRecord),
		MarketPricesUsd:       make(map[string]float64),
		MarketPriceHistoryUsd: make(map[string][]types.PricePoint),
		Metrics:               &types.Metrics{RejectsByReason: make(map[string]int64)},
		AutonomousState:       make(map[string]*types.AutonomousState),
		Alerts:                make(map[string]*types.Alert),
	}
}

// normalize re-allocates any containers a loaded snapshot left nil, so the
// rest of the code never nil-checks maps.
func (st *AppState) normalize() {
	fresh := NewAppState()
	if st.Agents == nil {
		st.Agents = fresh.Agents
	}
	if st.TradeIntents == nil {
		st.TradeIntents = fresh.TradeIntents
	}
	if st.Executions == nil {
		st.Executions = fresh.Executions
	}
	if st.Receipts == nil {
		st.Receipts = fresh.Receipts
	}
	if st.LatestReceiptHash == nil {
		st.LatestReceiptHash = fresh.LatestReceiptHash
	}
	if st.Idempotency == nil {
		st.Idempotency = fresh.Idempotency
	}
	if st.MarketPricesUsd == nil {
		st.MarketPricesUsd = fresh.MarketPricesUsd
	}
	if st.MarketPriceHistoryUsd == nil {
		st.MarketPriceHistoryUsd = fresh.MarketPriceHistoryUsd
	}
	if st.Metrics == nil {
		st.Metrics = fresh.Metrics
	} else if st.Metrics.RejectsByReason == nil {
		st.Metrics.RejectsByReason = make(map[string]int64)
	}
	if st.AutonomousState == nil {
		st.AutonomousState = fresh.AutonomousState
	}
	if st.Alerts == nil {
		st.Alerts = fresh.Alerts
	}
	for _, a := range st.Agents {
		if a.Positions == nil {
			a.Positions = make(map[string]types.Position)
		}
		if a.DailyRealizedPnlUsd == nil {
			a.DailyRealizedPnlUsd = make(map[string]float64)
		}
		if a.RiskRejectionsByReason == nil {
			a.RiskRejectionsByReason = make(map[string]int)
		}
	}
}

// Clone returns a deep copy of the state.
func (st *AppState) Clone() *AppState {
	c := &AppState{
		Agents:                make(map[string]*types.Agent, len(st.Agents)),
		TradeIntents:          make(map[string]*types.TradeIntent, len(st.TradeIntents)),
		Executions:            make(map[string]*types.ExecutionRecord, len(st.Executions)),
		Receipts:              make(map[string]*types.Receipt, len(st.Receipts)),
		LatestReceiptHash:     make(map[string]string, len(st.LatestReceiptHash)),
		Idempotency:           make(map[string]*types.IdempotencyRecord, len(st.Idempotency)),
		MarketPricesUsd:       make(map[string]float64, len(st.MarketPricesUsd)),
		MarketPriceHistoryUsd: make(map[string][]types.PricePoint, len(st.MarketPriceHistoryUsd)),
		Metrics:               st.Metrics.Clone(),
		AutonomousState:       make(map[string]*types.AutonomousState, len(st.AutonomousState)),
		Alerts:                make(map[string]*types.Alert, len(st.Alerts)),
		Treasury:              st.Treasury,
	}
	for k, v := range st.Agents {
		c.Agents[k] = v.Clone()
	}
	for k, v := range st.TradeIntents {
		c.TradeIntents[k] = v.Clone()
	}
	for k, v := range st.Executions {
		rec := *v
		c.Executions[k] = &rec
	}
	for k, v := range st.Receipts {
		c.Receipts[k] = v.Clone()
	}
	for k, v := range st.LatestReceiptHash {
		c.LatestReceiptHash[k] = v
	}
	for k, v := range st.Idempotency {
		rec := *v
		c.Idempotency[k] = &rec
	}
	for k, v := range st.MarketPricesUsd {
		c.MarketPricesUsd[k] = v
	}
	for k, v := range st.MarketPriceHistoryUsd {
		hist := make([]types.PricePoint, len(v))
		copy(hist, v)
		c.MarketPriceHistoryUsd[k] = hist
	}
	for k, v := range st.AutonomousState {
		as := *v
		c.AutonomousState[k] = &as
	}
	for k, v := range st.Alerts {
		al := *v
		c.Alerts[k] = &al
	}
	return c
}

// SetPrice records the latest price for a symbol and appends a sample to
// the bounded history ring.
func (st *AppState) SetPrice(symbol string, priceUsd float64, at time.Time) {
	st.MarketPricesUsd[symbol] = priceUsd
	hist := append(st.MarketPriceHistoryUsd[symbol], types.PricePoint{Timestamp: at, PriceUsd: priceUsd})
	if len(hist) > MaxPriceHistory {
		hist = hist[len(hist)-MaxPriceHistory:]
	}
	st.MarketPriceHistoryUsd[symbol] = hist
}

// EnsureAutonomous returns the agent's guard state, allocating it on first use.
func (st *AppState) EnsureAutonomous(agentID string) *types.AutonomousState {
	as, ok := st.AutonomousState[agentID]
	if !ok {
		as = &types.AutonomousState{}
		st.AutonomousState[agentID] = as
	}
	return as
}

// IdempotencyKey builds the registry key for a (agentId, clientKey) pair.
func IdempotencyKey(agentID, key string) string {
	return agentID + "|" + key
}

// Tx collects events emitted during a transaction. They are delivered on
// the bus, in emission order, after the mutation commits and strictly
// before any later transaction's events.
type Tx struct {
	events []txEvent
}

type txEvent struct {
	name string
	data any
}

// Emit queues an event for delivery when the transaction commits.
func (tx *Tx) Emit(name string, data any) {
	tx.events = append(tx.events, txEvent{name: name, data: data})
}

// Store owns the AppState and the state file. No other component may open
// the file.
type Store struct {
	path   string
	logger *slog.Logger
	bus    *bus.Bus

	mu     sync.Mutex // writer lock: at most one transaction at a time
	emitMu sync.Mutex // preserves cross-transaction event ordering
	state  *AppState

	saveCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open creates a store backed by the given state file path. Events emitted
// by transactions are published on b (may be nil in tests that do not care
// about events). Call Init before use.
func Open(path string, b *bus.Bus, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With("component", "store"),
		bus:    b,
		saveCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Init loads the state file if present, otherwise starts from defaults,
// then launches the background saver. Corrupt or unreadable files log a
// warning and fall back to defaults.
func (s *Store) Init() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st := NewAppState()
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		loaded := &AppState{}
		if uerr := json.Unmarshal(data, loaded); uerr != nil {
			s.logger.Warn("state file corrupt, starting from defaults", "path", s.path, "error", uerr)
		} else {
			st = loaded
			st.normalize()
		}
	case os.IsNotExist(err):
		// Fresh start.
	default:
		s.logger.Warn("state file unreadable, starting from defaults", "path", s.path, "error", err)
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	go s.saver()
	return nil
}

// Snapshot returns a deep copy of the current state. Readers never need
// the writer lock beyond the copy itself.
func (s *Store) Snapshot() *AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Transaction runs fn with exclusive access to the state. On return the
// in-memory mutation is visible to all readers; persistence happens
// asynchronously (best-effort, retried on the next transaction). Events
// queued on the Tx are delivered after commit, in order, before any later
// transaction's events. fn's error is propagated; mutations made before an
// error still commit, so fn must mutate only on its success path.
func (s *Store) Transaction(fn func(st *AppState, tx *Tx) error) error {
	tx := &Tx{}

	s.mu.Lock()
	err := fn(s.state, tx)

	// Signal the saver (coalesced).
	select {
	case s.saveCh <- struct{}{}:
	default:
	}

	// Hand over to the emit lock before releasing the writer lock so that
	// transaction N's events always precede transaction N+1's.
	s.emitMu.Lock()
	s.mu.Unlock()

	if s.bus != nil {
		for _, ev := range tx.events {
			s.bus.Emit(ev.name, ev.data)
		}
	}
	s.emitMu.Unlock()

	return err
}

// Flush forces a synchronous write of the current state.
func (s *Store) Flush() error {
	return s.save()
}

// Close stops the background saver and flushes once more.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return s.save()
}

func (s *Store) saver() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.saveCh:
			if err := s.save(); err != nil {
				s.logger.Error("state save failed", "error", err)
			}
		}
	}
}

// save serializes a snapshot and writes it atomically: .tmp then rename.
func (s *Store) save() error {
	snap := s.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}
