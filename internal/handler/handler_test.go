package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/materialize"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/store"
	"github.com/dukerupert/allowance/internal/websocket"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type env struct {
	db      *database.DB
	users   *store.UserStore
	series  *store.SeriesStore
	wallets *store.WalletStore
	parent  *model.User
	child   *model.User
	hub     *recordingHub
	driver  *fakeDriver
}

func newEnv(t *testing.T, today time.Time) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:      db,
		users:   store.NewUserStore(db),
		series:  store.NewSeriesStore(db),
		wallets: store.NewWalletStore(db),
		hub:     &recordingHub{},
	}
	ctx := context.Background()
	e.parent, err = e.users.Create(ctx, "Mom", model.RoleParent)
	require.NoError(t, err)
	e.child, err = e.users.Create(ctx, "Sam", model.RoleChild)
	require.NoError(t, err)

	e.driver = &fakeDriver{
		today: today,
		m:     materialize.New(e.series, materialize.DefaultHorizonDays, discard),
	}
	return e
}

// fakeDriver materializes for real but pins the calendar day.
type fakeDriver struct {
	today   time.Time
	m       *materialize.Materializer
	changed []int64
}

func (f *fakeDriver) Today() time.Time { return f.today }

func (f *fakeDriver) OnSeriesChanged(ctx context.Context, id int64) (materialize.SeriesResult, error) {
	f.changed = append(f.changed, id)
	return f.m.MaterializeSeries(ctx, id, f.today)
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *recordingHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		out = append(out, m.Type)
	}
	return out
}

// do sends a request through a mux so path values are populated.
func do(t *testing.T, pattern string, h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, rec)["error"]
}
