// Package alerts watches market prices against per-symbol thresholds.
//
// An alert fires once: when a price.updated event crosses its threshold
// the alert is removed and alert.triggered is emitted. Alerts persist in
// the app state, so they survive restarts.
package alerts

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"colosseum/internal/bus"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// Directions an alert can watch.
const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)

// Service manages price alerts and evaluates them on price updates.
type Service struct {
	store  *state.Store
	clk    clock.Clock
	logger *slog.Logger

	unsubscribe func()
}

// NewService creates the alert service. Call Start to begin evaluating.
func NewService(store *state.Store, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		clk:    clk,
		logger: logger.With("component", "alerts"),
	}
}

// Start subscribes to price updates on b. The subscription is async:
// evaluation opens its own store transaction, which must never run on
// the emitting transaction's goroutine.
func (s *Service) Start(b *bus.Bus) {
	s.unsubscribe = b.OnAsync(types.EventPriceUpdated, 256, func(_ string, data any) {
		p, ok := data.(types.PriceUpdatedPayload)
		if !ok {
			return
		}
		s.evaluate(p.Symbol, p.PriceUsd)
	})
}

// Stop detaches from the bus.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Create registers an alert for a symbol threshold.
func (s *Service) Create(agentID, symbol, direction string, thresholdUsd float64) (*types.Alert, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, types.NewDomainError(types.ReasonInvalidOrder, "symbol is required")
	}
	if direction != DirectionAbove && direction != DirectionBelow {
		return nil, types.NewDomainError(types.ReasonInvalidOrder, "direction must be above or below")
	}
	if thresholdUsd <= 0 {
		return nil, types.NewDomainError(types.ReasonInvalidOrder, "thresholdUsd must be positive")
	}

	alert := &types.Alert{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Symbol:       symbol,
		Direction:    direction,
		ThresholdUsd: thresholdUsd,
		CreatedAt:    s.clk.Now(),
	}
	err := s.store.Transaction(func(st *state.AppState, tx *state.Tx) error {
		st.Alerts[alert.ID] = alert
		tx.Emit(types.EventAlertCreated, types.AlertPayload{
			AlertID:   alert.ID,
			Symbol:    alert.Symbol,
			Direction: alert.Direction,
			Threshold: alert.ThresholdUsd,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// Delete removes an alert by ID.
func (s *Service) Delete(id string) error {
	return s.store.Transaction(func(st *state.AppState, tx *state.Tx) error {
		alert, ok := st.Alerts[id]
		if !ok {
			return types.NewDomainError(types.ReasonInvalidOrder, "unknown alert "+id)
		}
		delete(st.Alerts, id)
		tx.Emit(types.EventAlertDeleted, types.AlertPayload{
			AlertID:   alert.ID,
			Symbol:    alert.Symbol,
			Direction: alert.Direction,
			Threshold: alert.ThresholdUsd,
		})
		return nil
	})
}

// List returns all active alerts sorted by creation time.
func (s *Service) List() []*types.Alert {
	snap := s.store.Snapshot()
	out := make([]*types.Alert, 0, len(snap.Alerts))
	for _, a := range snap.Alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// evaluate fires and removes every alert the new price crosses.
func (s *Service) evaluate(symbol string, priceUsd float64) {
	err := s.store.Transaction(func(st *state.AppState, tx *state.Tx) error {
		for id, alert := range st.Alerts {
			if alert.Symbol != symbol || !crossed(alert, priceUsd) {
				continue
			}
			delete(st.Alerts, id)
			tx.Emit(types.EventAlertTriggered, types.AlertPayload{
				AlertID:   alert.ID,
				Symbol:    alert.Symbol,
				Direction: alert.Direction,
				Threshold: alert.ThresholdUsd,
				PriceUsd:  priceUsd,
			})
			s.logger.Info("alert triggered",
				"alert_id", alert.ID,
				"symbol", alert.Symbol,
				"direction", alert.Direction,
				"threshold_usd", alert.ThresholdUsd,
				"price_usd", priceUsd,
			)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("alert evaluation failed", "symbol", symbol, "error", err)
	}
}

func crossed(alert *types.Alert, priceUsd float64) bool {
	switch alert.Direction {
	case DirectionAbove:
		return priceUsd >= alert.ThresholdUsd
	case DirectionBelow:
		return priceUsd <= alert.ThresholdUsd
	}
	return false
}
