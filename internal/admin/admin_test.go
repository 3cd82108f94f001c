package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/logger"
	"github.com/roach88/rover/internal/metrics"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/store"
	"github.com/roach88/rover/internal/testutil"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s := testutil.OpenStore(t)
	ctx := context.Background()

	for _, name := range []string{"echo", "keyword"} {
		_, err := s.RegisterHandler(ctx, name)
		require.NoError(t, err)
	}
	_, err := s.RecordReaction(ctx,
		model.DedupRecord{ItemID: "c1", Handler: "echo", CreatedAt: testutil.Epoch},
		model.StatsEntry{ID: "stat-1", ItemID: "c1", Handler: "echo", Scope: "pics", CreatedAt: testutil.Epoch},
	)
	require.NoError(t, err)
	_, err = s.AddBan(ctx, model.Ban{Kind: model.BanScope, Subject: "private", Handler: "echo", CreatedAt: testutil.Epoch})
	require.NoError(t, err)
	require.NoError(t, s.AddDayCounts(ctx, model.DayKey(testutil.Epoch), model.DayCounts{Comments: 3, Cycles: 1}))
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_Health(t *testing.T) {
	r := NewRouter(seededStore(t), nil, logger.Discard())

	w := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

type downStore struct{ Store }

func (downStore) Ping(context.Context) error { return errors.New("database is closed") }

func TestRouter_HealthUnavailable(t *testing.T) {
	r := NewRouter(downStore{seededStore(t)}, nil, logger.Discard())

	w := get(t, r, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_Handlers(t *testing.T) {
	r := NewRouter(seededStore(t), nil, logger.Discard())

	w := get(t, r, "/api/handlers")
	require.Equal(t, http.StatusOK, w.Code)

	summaries := decode[[]model.HandlerSummary](t, w)
	require.Len(t, summaries, 2)
	assert.Equal(t, "echo", summaries[0].Name)
	assert.Equal(t, int64(1), summaries[0].Reactions)
	assert.Equal(t, int64(1), summaries[0].Bans)
}

func TestRouter_DaysAndDay(t *testing.T) {
	r := NewRouter(seededStore(t), nil, logger.Discard())

	days := decode[[]model.DayStats](t, get(t, r, "/api/days?limit=5"))
	require.Len(t, days, 1)
	assert.Equal(t, int64(3), days[0].Comments)

	w := get(t, r, "/api/days/"+model.DayKey(testutil.Epoch)+"?handler=echo")
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[DayReport](t, w)
	assert.Equal(t, int64(1), report.Responses)
	assert.Equal(t, int64(1), report.Cycles)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/days/yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/days?limit=-1").Code)
}

func TestRouter_BansAndStats(t *testing.T) {
	r := NewRouter(seededStore(t), nil, logger.Discard())

	bans := decode[[]model.Ban](t, get(t, r, "/api/bans"))
	require.Len(t, bans, 1)
	assert.Equal(t, "private", bans[0].Subject)
	assert.Equal(t, "echo", bans[0].Handler)

	stats := decode[[]model.StatsEntry](t, get(t, r, "/api/stats?handler=echo"))
	require.Len(t, stats, 1)
	assert.Equal(t, "stat-1", stats[0].ID)

	since := testutil.Epoch.Add(time.Hour).Format(time.RFC3339)
	assert.Empty(t, decode[[]model.StatsEntry](t, get(t, r, "/api/stats?since="+since)))
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/stats?since=monday").Code)
}

func TestRouter_UnknownHandlerIs404(t *testing.T) {
	r := NewRouter(seededStore(t), nil, logger.Discard())

	w := get(t, r, "/api/stats?handler=ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "ghost")

	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/handlers/ghost/tasks").Code)
}

func TestRouter_HandlerTasksAndMessages(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	_, err := s.DeferUpdate(ctx, model.DeferRequest{ItemID: "r1", Handler: "echo", Lifetime: time.Hour, Interval: time.Minute}, testutil.Epoch)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, model.Message{ID: "m1", Handler: "echo", Author: "alice", Body: "hi", CreatedAt: testutil.Epoch})
	require.NoError(t, err)

	r := NewRouter(s, nil, logger.Discard())

	tasks := decode[[]model.DeferredTask](t, get(t, r, "/api/handlers/echo/tasks"))
	require.Len(t, tasks, 1)
	assert.Equal(t, "r1", tasks[0].ItemID)

	msgs := decode[[]model.Message](t, get(t, r, "/api/handlers/echo/messages?limit=10"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestRouter_Metrics(t *testing.T) {
	m := metrics.New()
	m.ItemRead("comment")
	r := NewRouter(seededStore(t), m, logger.Discard())

	w := get(t, r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rover_items_total")

	assert.Equal(t, http.StatusNotFound, get(t, NewRouter(seededStore(t), nil, logger.Discard()), "/metrics").Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	router := NewRouter(seededStore(t), nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, router, logger.Discard())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
