package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"colosseum/internal/agent"
	"colosseum/internal/alerts"
	"colosseum/internal/config"
	"colosseum/internal/intent"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	store   *state.Store
	agents  *agent.Service
	intents *intent.Service
	alerts  *alerts.Service
	clk     clock.Clock
	cfg     config.DashboardConfig
	hub     *Hub
	logger  *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(store *state.Store, agents *agent.Service, intents *intent.Service, al *alerts.Service, clk clock.Clock, cfg config.DashboardConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:   store,
		agents:  agents,
		intents: intents,
		alerts:  al,
		clk:     clk,
		cfg:     cfg,
		hub:     hub,
		logger:  logger.With("component", "api-handlers"),
	}
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSnapshot serves the dashboard state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BuildSnapshot(h.store.Snapshot(), h.clk.Now()))
}

// HandleRegisterAgent creates an agent. The response is the only place
// the API key is ever served.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewDomainError(types.ReasonInvalidOrder, "invalid json body"))
		return
	}
	a, err := h.agents.Register(agent.RegisterInput{
		Name:               req.Name,
		StrategyID:         req.StrategyID,
		StartingCapitalUsd: req.StartingCapitalUsd,
		RiskLimits:         req.RiskLimits,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterAgentResponse{Agent: a, APIKey: a.APIKey})
}

// HandleListAgents lists all agents without their API keys.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, _ *http.Request) {
	all := h.agents.List()
	for _, a := range all {
		a.APIKey = ""
	}
	writeJSON(w, http.StatusOK, all)
}

// HandleCreateIntent submits a trade intent. The agent is authenticated
// by the X-API-Key header; X-Idempotency-Key makes the call replayable.
func (h *Handlers) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.GetByAPIKey(r.Header.Get("X-API-Key"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid api key"})
		return
	}

	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewDomainError(types.ReasonInvalidOrder, "invalid json body"))
		return
	}

	res, err := h.intents.Create(intent.CreateInput{
		AgentID:     a.ID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		NotionalUsd: req.NotionalUsd,
		Mode:        req.Mode,
		Meta:        req.Meta,
	}, r.Header.Get("X-Idempotency-Key"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, CreateIntentResponse{Intent: res.Intent, Replayed: res.Replayed})
}

// HandleGetIntent fetches one intent by ID.
func (h *Handlers) HandleGetIntent(w http.ResponseWriter, r *http.Request) {
	in, err := h.intents.GetByID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// HandleCreateAlert registers a price alert for the caller's agent.
func (h *Handlers) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var agentID string
	if a, err := h.agents.GetByAPIKey(r.Header.Get("X-API-Key")); err == nil {
		agentID = a.ID
	}

	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewDomainError(types.ReasonInvalidOrder, "invalid json body"))
		return
	}
	a, err := h.alerts.Create(agentID, req.Symbol, req.Direction, req.ThresholdUsd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleListAlerts lists active alerts.
func (h *Handlers) HandleListAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.alerts.List())
}

// HandleDeleteAlert removes an alert.
func (h *Handlers) HandleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), h.cfg, r.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	// Seed the client with the current snapshot.
	evt := DashboardEvent{
		Type:      "snapshot",
		Timestamp: h.clk.Now(),
		Data:      BuildSnapshot(h.store.Snapshot(), h.clk.Now()),
	}
	if data, err := json.Marshal(evt); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}

// isOriginAllowed decides WebSocket origin admission. With no allowlist
// configured, same-host and localhost origins pass; with an allowlist,
// only exact matches pass. An absent Origin header always passes.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if strings.EqualFold(origin, allowed) {
				return true
			}
		}
		return false
	}

	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if strings.EqualFold(host, reqHost) {
		return true
	}
	bare := host
	if i := strings.LastIndex(bare, ":"); i >= 0 {
		bare = bare[:i]
	}
	return bare == "localhost" || bare == "127.0.0.1"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps DomainError kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var de *types.DomainError
	if !errors.As(err, &de) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch de.Kind {
	case types.ReasonAgentNotFound, types.ReasonIntentNotFound:
		status = http.StatusNotFound
	case types.ReasonIdempotencyKeyConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, ErrorResponse{Error: de.Message, Kind: de.Kind})
}
