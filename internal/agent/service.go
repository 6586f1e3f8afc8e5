// Package agent is the agent registry: registration with platform
// defaults, lookup, and API-key authentication.
package agent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// Defaults are the platform values applied to newly registered agents.
type Defaults struct {
	StartingCapitalUsd float64
	RiskLimits         types.RiskLimits
}

// Service manages the agent registry.
type Service struct {
	store    *state.Store
	clk      clock.Clock
	defaults Defaults
	logger   *slog.Logger
}

// NewService creates the registry.
func NewService(store *state.Store, clk clock.Clock, defaults Defaults, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		clk:      clk,
		defaults: defaults,
		logger:   logger.With("component", "agents"),
	}
}

// RegisterInput describes a new agent. Zero-value fields fall back to
// the platform defaults.
type RegisterInput struct {
	Name               string
	StrategyID         string
	StartingCapitalUsd float64
	RiskLimits         *types.RiskLimits
}

// Register creates an agent with a fresh ID and API key. The API key is
// returned once here; it is stored on the agent and never rotated by
// the core.
func (s *Service) Register(in RegisterInput) (*types.Agent, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, types.NewDomainError(types.ReasonInvalidOrder, "agent name is required")
	}

	capital := in.StartingCapitalUsd
	if capital <= 0 {
		capital = s.defaults.StartingCapitalUsd
	}
	limits := s.defaults.RiskLimits
	if in.RiskLimits != nil {
		limits = *in.RiskLimits
	}

	apiKey, err := newAPIKey()
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	agent := &types.Agent{
		ID:                     uuid.NewString(),
		Name:                   name,
		APIKey:                 apiKey,
		StrategyID:             in.StrategyID,
		CreatedAt:              now,
		UpdatedAt:              now,
		StartingCapitalUsd:     capital,
		CashUsd:                capital,
		PeakEquityUsd:          capital,
		Positions:              make(map[string]types.Position),
		DailyRealizedPnlUsd:    make(map[string]float64),
		RiskLimits:             limits,
		RiskRejectionsByReason: make(map[string]int),
	}

	err = s.store.Transaction(func(st *state.AppState, _ *state.Tx) error {
		st.Agents[agent.ID] = agent
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("agent registered", "agent_id", agent.ID, "name", agent.Name, "capital_usd", capital)
	return agent.Clone(), nil
}

// GetByID returns the agent or agent_not_found.
func (s *Service) GetByID(id string) (*types.Agent, error) {
	snap := s.store.Snapshot()
	a, ok := snap.Agents[id]
	if !ok {
		return nil, types.NewDomainError(types.ReasonAgentNotFound, "unknown agent "+id)
	}
	return a, nil
}

// GetByAPIKey authenticates an API key against the registry.
func (s *Service) GetByAPIKey(key string) (*types.Agent, error) {
	if key == "" {
		return nil, types.NewDomainError(types.ReasonAgentNotFound, "missing api key")
	}
	snap := s.store.Snapshot()
	for _, a := range snap.Agents {
		if a.APIKey == key {
			return a, nil
		}
	}
	return nil, types.NewDomainError(types.ReasonAgentNotFound, "unknown api key")
}

// List returns all agents sorted by creation time.
func (s *Service) List() []*types.Agent {
	snap := s.store.Snapshot()
	agents := make([]*types.Agent, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		if !agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].CreatedAt.Before(agents[j].CreatedAt)
		}
		return agents[i].ID < agents[j].ID
	})
	return agents
}

// newAPIKey returns a 256-bit random key with a recognizable prefix.
func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "csk_" + hex.EncodeToString(buf), nil
}
