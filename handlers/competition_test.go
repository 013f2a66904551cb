package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"competition-engine/config"
	"competition-engine/middleware"
	"competition-engine/services"
	"competition-engine/store"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

var now = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	app     *fiber.App
	gw      *store.GormGateway
	service *services.CompetitionService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	gw := store.NewGormGateway(db)
	clock := services.ClockFunc(func() time.Time { return now })
	validation := services.NewValidationService(gw, clock)
	ranking := services.NewRankingEngine(gw, services.DefaultPrizeTables(), clock, time.UTC)
	finalizer := services.NewFinalizationEngine(gw, ranking, validation, clock)
	monitor := services.NewMonitor(gw, nil, nil, clock, config.MonitoringConfig{
		AlertDedupWindow:        time.Hour,
		OrphanSessionThreshold:  10,
		PendingPaymentAge:       72 * time.Hour,
		PendingPaymentThreshold: 10,
	}, currency.USD)
	service := services.NewCompetitionService(gw, validation, ranking, finalizer, clock, time.UTC)

	app := fiber.New()
	app.Use(middleware.UserContextMiddleware())
	SetupCompetitionRoutes(app, NewCompetitionHandler(service))
	SetupHealthRoutes(app, gw, monitor, services.NewMetrics())
	return &testAPI{app: app, gw: gw, service: service}
}

type caller struct {
	user  string
	roles string
}

var (
	anonymous = caller{}
	player    = caller{user: "u1"}
	operator  = caller{user: "ops", roles: "Admin"}
)

func (a *testAPI) do(t *testing.T, who caller, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who.user != "" {
		req.Header.Set("X-User-ID", who.user)
	}
	if who.roles != "" {
		req.Header.Set("X-User-Roles", who.roles)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestCreateCompetitionRequiresOperator(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{"kind": "weekly", "title": "Week 2", "start_at": "2025-06-08", "end_at": "2025-06-14"}

	code, out := api.do(t, anonymous, http.MethodPost, "/competitions", body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", out["error"])

	code, out = api.do(t, player, http.MethodPost, "/competitions", body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", out["error"])

	code, out = api.do(t, operator, http.MethodPost, "/competitions", body)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "scheduled", out["status"])
	assert.NotEmpty(t, out["id"])
}

func TestCreateCompetitionErrorStatuses(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "weekly", "title": "Week 2", "start_at": "2025-06-08", "end_at": "2025-06-14"})
	require.Equal(t, http.StatusCreated, code)

	code, out := api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "weekly", "title": "Clash", "start_at": "2025-06-10", "end_at": "2025-06-16"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "OVERLAP", out["error"])
	assert.Equal(t, false, out["retryable"])

	code, out = api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "monthly", "title": "x", "start_at": "2025-06-08"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_KIND", out["error"])

	code, out = api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "daily", "title": "Yesterday", "start_at": "2025-06-02"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "EXPIRED", out["error"])

	code, out = api.do(t, anonymous, http.MethodGet, "/competitions/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "COMPETITION_NOT_FOUND", out["error"])
}

func TestPlayerFlowThroughFinalization(t *testing.T) {
	api := newTestAPI(t)

	code, comp := api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "weekly", "title": "Week 1", "start_at": "2025-06-01", "end_at": "2025-06-07", "prize_pool": "100"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "active", comp["status"])
	id := comp["id"].(string)

	code, _ = api.do(t, anonymous, http.MethodPost, "/competitions/"+id+"/join", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(t, player, http.MethodPost, "/competitions/"+id+"/join", nil)
	require.Equal(t, http.StatusCreated, code)
	code, out := api.do(t, player, http.MethodPost, "/competitions/"+id+"/join", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ALREADY_JOINED", out["error"])

	code, session := api.do(t, player, http.MethodPost, "/sessions", map[string]any{"competition_id": id})
	require.Equal(t, http.StatusCreated, code)
	sessionPath := "/sessions/" + session["id"].(string) + "/complete"

	code, out = api.do(t, player, http.MethodPost, sessionPath, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", out["error"])

	code, out = api.do(t, player, http.MethodPost, sessionPath, map[string]any{"score": "42.5"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["counted"])

	code, out = api.do(t, anonymous, http.MethodGet, "/competitions/"+id+"/leaderboard", nil)
	require.Equal(t, http.StatusOK, code)
	entries := out["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].(map[string]any)["user_id"])

	code, _ = api.do(t, player, http.MethodPost, "/competitions/"+id+"/finalize", nil)
	assert.Equal(t, http.StatusForbidden, code)

	// Still running.
	code, out = api.do(t, operator, http.MethodPost, "/competitions/"+id+"/finalize", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "NOT_FINALIZABLE", out["error"])

	code, out = api.do(t, operator, http.MethodGet, "/competitions/"+id+"/attempts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["attempts"], 2)
}

func TestCompleteSessionRequiresOwner(t *testing.T) {
	api := newTestAPI(t)
	intruder := caller{user: "u2"}

	code, comp := api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "weekly", "title": "Week 1", "start_at": "2025-06-01", "end_at": "2025-06-07"})
	require.Equal(t, http.StatusCreated, code)
	id := comp["id"].(string)
	code, _ = api.do(t, player, http.MethodPost, "/competitions/"+id+"/join", nil)
	require.Equal(t, http.StatusCreated, code)

	code, session := api.do(t, player, http.MethodPost, "/sessions", map[string]any{"competition_id": id})
	require.Equal(t, http.StatusCreated, code)
	sessionID := session["id"].(string)

	code, out := api.do(t, intruder, http.MethodPost, "/sessions/"+sessionID+"/complete", map[string]any{"score": "999"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SESSION_NOT_FOUND", out["error"])

	var status string
	require.NoError(t, api.gw.DB.Raw("SELECT status FROM game_sessions WHERE id = ?", sessionID).Scan(&status).Error)
	assert.Equal(t, "in_progress", status)

	code, out = api.do(t, player, http.MethodPost, "/sessions/"+sessionID+"/complete", map[string]any{"score": "15"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["counted"])
}

func TestFinalizeEndedCompetition(t *testing.T) {
	api := newTestAPI(t)

	code, comp := api.do(t, operator, http.MethodPost, "/competitions",
		map[string]any{"kind": "weekly", "title": "Week 1", "start_at": "2025-06-01", "end_at": "2025-06-07"})
	require.Equal(t, http.StatusCreated, code)
	id := comp["id"].(string)

	code, _ = api.do(t, player, http.MethodPost, "/competitions/"+id+"/join", nil)
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, api.gw.DB.Exec("UPDATE participations SET score = ?, score_achieved_at = ? WHERE competition_id = ?",
		decimal.NewFromInt(30), now, id).Error)
	require.NoError(t, api.gw.DB.Exec("UPDATE competitions SET end_at = ? WHERE id = ?", now.Add(-time.Minute), id).Error)

	code, out := api.do(t, operator, http.MethodPost, "/competitions/"+id+"/finalize", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["already_completed"])
	snapshot := out["snapshot"].(map[string]any)
	assert.EqualValues(t, 1, snapshot["entry_count"])

	code, out = api.do(t, operator, http.MethodPost, "/competitions/"+id+"/finalize", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["already_completed"])

	code, out = api.do(t, operator, http.MethodPost, "/competitions/"+id+"/participants/u1/paid", map[string]any{"reference": "tx-1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tx-1", out["payout_reference"])
	assert.Equal(t, "paid", out["payment_status"])

	code, out = api.do(t, anonymous, http.MethodGet, "/competitions?status=completed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["competitions"], 1)
}

func TestLeaderboardRoutes(t *testing.T) {
	api := newTestAPI(t)

	code, out := api.do(t, anonymous, http.MethodGet, "/leaderboards/weekly", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2025-W23", out["period_key"])
	assert.Empty(t, out["entries"])

	code, _ = api.do(t, player, http.MethodPost, "/leaderboards/weekly/publish", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, out = api.do(t, operator, http.MethodPost, "/leaderboards/weekly/publish", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "weekly", out["kind"])

	code, out = api.do(t, anonymous, http.MethodGet, "/leaderboards/hourly", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_KIND", out["error"])
}

func TestHealthRoutes(t *testing.T) {
	api := newTestAPI(t)

	code, out := api.do(t, anonymous, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])

	code, out = api.do(t, anonymous, http.MethodGet, "/health/deep", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["healthy"])
	assert.Len(t, out["checks"], 4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
