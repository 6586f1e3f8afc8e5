// Package intent creates and queries trade intents.
//
// Creation validates the order shape, normalizes the symbol, and runs the
// idempotency protocol: a replay with a matching fingerprint returns the
// original intent untouched, a key reuse with a different payload is a
// conflict. Reads come from store snapshots and never take the writer lock.
package intent

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"colosseum/internal/state"
	"colosseum/pkg/canonical"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// Service is the trade intent front door.
type Service struct {
	store       *state.Store
	clk         clock.Clock
	defaultMode types.Mode
	logger      *slog.Logger
}

// NewService creates the intent service. defaultMode applies when an
// intent omits its requested mode.
func NewService(store *state.Store, clk clock.Clock, defaultMode types.Mode, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		clk:         clk,
		defaultMode: defaultMode,
		logger:      logger.With("component", "intent"),
	}
}

// CreateInput is the caller-supplied intent request. Exactly one of
// Quantity or NotionalUsd must be positive.
type CreateInput struct {
	AgentID     string
	Symbol      string
	Side        types.Side
	Quantity    float64
	NotionalUsd float64
	Mode        types.Mode
	Meta        map[string]string
}

// CreateResult points at the created (or replayed) intent. Replayed is
// true when an idempotency key matched a previous identical request.
type CreateResult struct {
	Intent   *types.TradeIntent
	Replayed bool
}

// fingerprint canonically hashes the request fields that define identity
// for idempotency purposes.
func fingerprint(agentID, symbol string, side types.Side, notional, quantity float64, mode types.Mode) (string, error) {
	return canonical.Hash(map[string]any{
		"agentId":     agentID,
		"symbol":      symbol,
		"side":        string(side),
		"notionalUsd": notional,
		"quantity":    quantity,
		"mode":        string(mode),
	})
}

// Create validates and registers a new pending intent. With an idempotency
// key, an identical retry returns the original intent with Replayed=true
// and leaves all state untouched; a payload mismatch is an
// idempotency_key_conflict. Validation failures are DomainErrors and
// mutate nothing.
func (s *Service) Create(in CreateInput, idempotencyKey string) (CreateResult, error) {
	if in.AgentID == "" {
		return CreateResult{}, types.NewDomainError(types.ReasonInvalidOrder, "agentId is required")
	}
	symbol := normalizeSymbol(in.Symbol)
	if symbol == "" {
		return CreateResult{}, types.NewDomainError(types.ReasonInvalidOrder, "symbol is required")
	}
	if !in.Side.Valid() {
		return CreateResult{}, types.NewDomainError(types.ReasonInvalidOrder, "side must be buy or sell")
	}
	hasQty := in.Quantity > 0
	hasNotional := in.NotionalUsd > 0
	if hasQty == hasNotional {
		return CreateResult{}, types.NewDomainError(types.ReasonInvalidOrder, "exactly one of quantity or notionalUsd is required")
	}
	mode := in.Mode
	if mode == "" {
		mode = s.defaultMode
	}
	if mode != types.ModePaper && mode != types.ModeLive {
		return CreateResult{}, types.NewDomainError(types.ReasonInvalidOrder, "mode must be paper or live")
	}

	fp, err := fingerprint(in.AgentID, symbol, in.Side, in.NotionalUsd, in.Quantity, mode)
	if err != nil {
		return CreateResult{}, err
	}

	var result CreateResult
	err = s.store.Transaction(func(st *state.AppState, tx *state.Tx) error {
		if _, ok := st.Agents[in.AgentID]; !ok {
			return types.NewDomainError(types.ReasonAgentNotFound, "unknown agent "+in.AgentID)
		}

		if idempotencyKey != "" {
			regKey := state.IdempotencyKey(in.AgentID, idempotencyKey)
			if rec, ok := st.Idempotency[regKey]; ok {
				if rec.PayloadFingerprint != fp {
					return types.NewDomainError(types.ReasonIdempotencyKeyConflict,
						"idempotency key reused with a different payload")
				}
				existing, ok := st.TradeIntents[rec.IntentID]
				if !ok {
					return types.NewDomainError(types.ReasonIntentNotFound, "idempotency entry points at missing intent")
				}
				result = CreateResult{Intent: existing.Clone(), Replayed: true}
				return nil
			}
		}

		now := s.clk.Now()
		in2 := &types.TradeIntent{
			ID:            uuid.NewString(),
			AgentID:       in.AgentID,
			Symbol:        symbol,
			Side:          in.Side,
			Quantity:      in.Quantity,
			NotionalUsd:   in.NotionalUsd,
			RequestedMode: mode,
			Meta:          in.Meta,
			Status:        types.IntentPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		st.TradeIntents[in2.ID] = in2
		st.Metrics.IntentsReceived++

		if idempotencyKey != "" {
			regKey := state.IdempotencyKey(in.AgentID, idempotencyKey)
			st.Idempotency[regKey] = &types.IdempotencyRecord{
				Key:                idempotencyKey,
				IntentID:           in2.ID,
				PayloadFingerprint: fp,
				CreatedAt:          now,
			}
		}

		tx.Emit(types.EventIntentCreated, types.IntentCreatedPayload{
			IntentID: in2.ID,
			AgentID:  in2.AgentID,
			Symbol:   in2.Symbol,
			Side:     in2.Side,
		})
		result = CreateResult{Intent: in2.Clone()}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	if !result.Replayed {
		s.logger.Debug("intent created",
			"intent_id", result.Intent.ID,
			"agent_id", result.Intent.AgentID,
			"symbol", result.Intent.Symbol,
			"side", result.Intent.Side,
		)
	}
	return result, nil
}

// GetByID returns the intent or intent_not_found.
func (s *Service) GetByID(id string) (*types.TradeIntent, error) {
	snap := s.store.Snapshot()
	in, ok := snap.TradeIntents[id]
	if !ok {
		return nil, types.NewDomainError(types.ReasonIntentNotFound, "unknown intent "+id)
	}
	return in, nil
}

// ListPending returns up to limit pending intents, oldest first. Ties on
// createdAt break by ID so the order is total and stable.
func (s *Service) ListPending(limit int) []*types.TradeIntent {
	snap := s.store.Snapshot()
	pending := make([]*types.TradeIntent, 0)
	for _, in := range snap.TradeIntents {
		if in.Status == types.IntentPending {
			pending = append(pending, in)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
