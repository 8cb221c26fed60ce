package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/allowance/internal/config"
	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/middleware"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/store"
)

func newTestServer(t *testing.T, adminHash string) (*Server, *database.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.AdminTokenHash = adminHash
	cfg.RateLimit.Burst = 100
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, cfg, logger), db
}

func send(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := send(t, srv.Router(), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["scheduler"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := send(t, srv.Router(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "allowance_")
}

func TestAdminRoutesRequireToken(t *testing.T) {
	hash, err := middleware.HashToken("s3cret")
	require.NoError(t, err)
	srv, _ := newTestServer(t, hash)
	router := srv.Router()
	body := `{"startDate":"2024-01-01","endDate":"2024-01-02"}`

	rec := send(t, router, http.MethodPost, "/api/admin/reprocess", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(t, router, http.MethodPost, "/api/admin/reprocess", body, "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(t, router, http.MethodPost, "/api/admin/reprocess", body, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Range checks answer 400 through the full stack.
	rec = send(t, router, http.MethodPost, "/api/admin/reprocess",
		`{"startDate":"2024-01-05","endDate":"2024-01-01"}`, "s3cret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := send(t, srv.Router(), http.MethodPost, "/api/admin/run-daily", "", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWalletRoute(t *testing.T) {
	srv, db := newTestServer(t, "")
	child, err := store.NewUserStore(db).Create(context.Background(), "Sam", model.RoleChild)
	require.NoError(t, err)

	rec := send(t, srv.Router(), http.MethodGet, "/api/wallets/"+strconv.FormatInt(child.ID, 10), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"0"`)
}

func TestDriverLogsOneComponentPerLine(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	driver := NewDriver(db, config.Default(), nil, logger)

	ctx := context.Background()
	users := store.NewUserStore(db)
	parent, err := users.Create(ctx, "Mom", model.RoleParent)
	require.NoError(t, err)
	child, err := users.Create(ctx, "Sam", model.RoleChild)
	require.NoError(t, err)
	yesterday := driver.Today().AddDate(0, 0, -1)
	_, err = store.NewContractStore(db).Create(ctx, store.ContractInput{
		Title: "Week", ChildID: child.ID, ParentID: parent.ID,
		DailyReward: decimal.NewFromInt(1),
		StartDate:   yesterday, EndDate: driver.Today(),
	})
	require.NoError(t, err)

	sum, err := driver.RunDailyCycle(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sum.RewardsCredited)

	out := buf.String()
	require.Contains(t, out, "component=materializer")
	require.Contains(t, out, "component=ledger")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Equal(t, 1, strings.Count(line, "component="), line)
	}
}
