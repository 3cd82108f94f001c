// Package admin serves the read-only administrative HTTP API: liveness,
// Prometheus metrics and JSON views of handlers, day counters, bans and
// reaction statistics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/rover/internal/metrics"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/store"
)

// Store is the read side of the store the API exposes.
// Implemented by *store.Store.
type Store interface {
	Ping(ctx context.Context) error
	HandlerSummaries(ctx context.Context) ([]model.HandlerSummary, error)
	ListDays(ctx context.Context, limit int) ([]model.DayStats, error)
	DayStats(ctx context.Context, day string) (model.DayStats, error)
	ResponsesOnDay(ctx context.Context, day, handler string) (int64, error)
	ListBans(ctx context.Context) ([]model.Ban, error)
	ListStats(ctx context.Context, q store.StatsQuery) ([]model.StatsEntry, error)
	ListTasks(ctx context.Context, handler string) ([]model.DeferredTask, error)
	ListMessages(ctx context.Context, handler string, limit int) ([]model.Message, error)
}

// DayReport is the body of GET /api/days/{day}.
type DayReport struct {
	model.DayStats
	Responses int64 `json:"responses"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

type api struct {
	store  Store
	logger *slog.Logger
}

// NewRouter builds the admin router. A nil m leaves /metrics unrouted.
func NewRouter(s Store, m *metrics.Metrics, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{store: s, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))

	r.Get("/healthz", a.health)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/handlers", a.handlers)
		r.Get("/handlers/{name}/tasks", a.tasks)
		r.Get("/handlers/{name}/messages", a.messages)
		r.Get("/days", a.days)
		r.Get("/days/{day}", a.day)
		r.Get("/bans", a.bans)
		r.Get("/stats", a.stats)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handlers(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.store.HandlerSummaries(r.Context())
	a.reply(w, r, summaries, err)
}

func (a *api) tasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.store.ListTasks(r.Context(), chi.URLParam(r, "name"))
	a.reply(w, r, tasks, err)
}

func (a *api) messages(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	msgs, err := a.store.ListMessages(r.Context(), chi.URLParam(r, "name"), limit)
	a.reply(w, r, msgs, err)
}

func (a *api) days(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	days, err := a.store.ListDays(r.Context(), limit)
	a.reply(w, r, days, err)
}

func (a *api) day(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse(model.DayLayout, day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	counts, err := a.store.DayStats(r.Context(), day)
	if err != nil {
		a.reply(w, r, nil, err)
		return
	}
	responses, err := a.store.ResponsesOnDay(r.Context(), day, r.URL.Query().Get("handler"))
	a.reply(w, r, DayReport{DayStats: counts, Responses: responses}, err)
}

func (a *api) bans(w http.ResponseWriter, r *http.Request) {
	bans, err := a.store.ListBans(r.Context())
	a.reply(w, r, bans, err)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	q := store.StatsQuery{Handler: r.URL.Query().Get("handler")}

	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	q.Limit = limit

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		q.Since = t
	}

	entries, err := a.store.ListStats(r.Context(), q)
	a.reply(w, r, entries, err)
}

// reply writes v, or maps err to a status code.
func (a *api) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, store.ErrHandlerNotRegistered):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.ErrorContext(r.Context(), "admin request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
