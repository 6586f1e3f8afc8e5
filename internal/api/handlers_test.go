package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"colosseum/internal/agent"
	"colosseum/internal/alerts"
	"colosseum/internal/bus"
	"colosseum/internal/config"
	"colosseum/internal/intent"
	"colosseum/internal/state"
	"colosseum/pkg/clock"
	"colosseum/pkg/types"
)

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.DashboardConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://colosseum.internal:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "colosseum.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func newTestHandlers(t *testing.T) (*Handlers, *state.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	b := bus.New(logger)
	store := state.Open(filepath.Join(t.TempDir(), "state.json"), b, logger)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewVirtual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	agents := agent.NewService(store, clk, agent.Defaults{
		StartingCapitalUsd: 10000,
		RiskLimits:         types.RiskLimits{MaxOrderNotionalUsd: 2000},
	}, logger)
	intents := intent.NewService(store, clk, types.ModePaper, logger)
	al := alerts.NewService(store, clk, logger)

	return NewHandlers(store, agents, intents, al, clk, config.DashboardConfig{}, NewHub(logger), logger), store
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestRegisterThenCreateIntent(t *testing.T) {
	t.Parallel()
	h, store := newTestHandlers(t)

	// Register.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(`{"name":"alpha"}`))
	h.HandleRegisterAgent(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body)
	}
	var reg RegisterAgentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatal(err)
	}
	if reg.APIKey == "" {
		t.Fatal("register must return the api key")
	}

	// Submit an intent with the key and an idempotency header.
	body := `{"symbol":"SOL","side":"buy","notionalUsd":100}`
	post := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/intents", strings.NewReader(body))
		req.Header.Set("X-API-Key", reg.APIKey)
		req.Header.Set("X-Idempotency-Key", "order-1")
		h.HandleCreateIntent(rec, req)
		return rec
	}

	first := post()
	if first.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", first.Code, first.Body)
	}
	var created CreateIntentResponse
	if err := json.Unmarshal(first.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Replayed || created.Intent.Symbol != "SOL" {
		t.Errorf("created = %+v", created)
	}

	// Replay returns 200 with the same intent.
	second := post()
	if second.Code != http.StatusOK {
		t.Fatalf("replay status = %d", second.Code)
	}
	var replayed CreateIntentResponse
	if err := json.Unmarshal(second.Body.Bytes(), &replayed); err != nil {
		t.Fatal(err)
	}
	if !replayed.Replayed || replayed.Intent.ID != created.Intent.ID {
		t.Errorf("replayed = %+v", replayed)
	}

	// Conflicting payload under the same key is a 409.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/intents", strings.NewReader(`{"symbol":"SOL","side":"buy","notionalUsd":999}`))
	req.Header.Set("X-API-Key", reg.APIKey)
	req.Header.Set("X-Idempotency-Key", "order-1")
	h.HandleCreateIntent(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("conflict status = %d", rec.Code)
	}

	if got := store.Snapshot().Metrics.IntentsReceived; got != 1 {
		t.Errorf("intentsReceived = %d, want 1", got)
	}
}

func TestCreateIntentRequiresAPIKey(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/intents", strings.NewReader(`{"symbol":"SOL","side":"buy","notionalUsd":100}`))
	h.HandleCreateIntent(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGetIntentNotFound(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/intents/missing", nil)
	req.SetPathValue("id", "missing")
	h.HandleGetIntent(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != types.ReasonIntentNotFound {
		t.Errorf("kind = %q", body.Kind)
	}
}

func TestSnapshotShape(t *testing.T) {
	t.Parallel()
	h, store := newTestHandlers(t)

	err := store.Transaction(func(st *state.AppState, _ *state.Tx) error {
		st.SetPrice("SOL", 150, time.Now())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap DashboardSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Prices["SOL"] != 150 {
		t.Errorf("snapshot prices = %v", snap.Prices)
	}
}
