package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/rover/internal/engine"
	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/logger"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/plugins"
	"github.com/roach88/rover/internal/source"
	"github.com/roach88/rover/internal/store"
	"github.com/roach88/rover/internal/testutil"
)

// Factories returns the handler types available to scenarios: every
// built-in plugin plus the scripted handler.
func Factories() map[string]handler.Factory {
	f := plugins.Builtin()
	f[ScriptType] = newScriptHandler
	return f
}

// Harness drives one scenario through the dispatcher and scheduler.
type Harness struct {
	store      *store.Store
	source     *source.Memory
	clock      *testutil.FakeClock
	registry   *handler.Registry
	dispatcher *engine.Dispatcher
	scheduler  *engine.Scheduler
	counters   *engine.Counters

	// sessions are the accounts configured on handlers, by username.
	sessions   map[string]*source.MemorySession
	msgReplies map[string]int
	result     *Result
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh SQLite file in a temporary directory,
// removed afterwards. An error is returned when the scenario cannot run at
// all (no active handler, a store failure, a message to an unknown
// account); failed assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "rover-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewFakeClock(time.Time{})
	st, err := store.Open(filepath.Join(dir, "rover.db"), store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:      st,
		source:     source.NewMemory(),
		clock:      clock,
		sessions:   make(map[string]*source.MemorySession),
		msgReplies: make(map[string]int),
		result:     NewResult(),
	}

	if err := h.build(ctx, scenario.Handlers); err != nil {
		return nil, err
	}
	if err := h.setup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	for i, step := range scenario.Steps {
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if err := h.counters.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush counters: %w", err)
	}
	if err := h.snapshot(ctx); err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) build(ctx context.Context, specs []HandlerSpec) error {
	factories := Factories()
	candidates := make([]handler.Candidate, 0, len(specs))
	for _, spec := range specs {
		c := handler.Candidate{Name: spec.Name, Factory: factories[spec.Type], Options: spec.Options}
		if username, _ := spec.Options["username"].(string); username != "" {
			s := h.source.MemorySession(username)
			h.sessions[username] = s
			c.Session = s
		}
		candidates = append(candidates, c)
	}

	reg, err := handler.NewRegistry(ctx, h.store, candidates, handler.Deps{
		Deferrer: h.store,
		Bans:     h.store,
		Logger:   logger.Discard(),
		Clock:    h.clock,
	})
	if err != nil {
		return fmt.Errorf("build handlers: %w", err)
	}
	for _, ex := range reg.Excluded() {
		h.result.record(TraceEvent{Type: EventExcluded, Handler: ex.Name, Text: ex.Err.Error()})
	}
	h.registry = reg

	retry := engine.DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithIDGenerator(engine.NewSequenceGenerator("stat")),
		engine.WithRetryPolicy(retry),
		engine.WithMarkRead(true),
		engine.WithLogger(logger.Discard()),
	}
	h.counters = engine.NewCounters(h.store, h.clock, logger.Discard())
	h.dispatcher = engine.NewDispatcher(h.store, reg.Handlers(), opts...)
	h.scheduler = engine.NewScheduler(h.store, reg.Handlers(), h.counters, opts...)
	return nil
}

func (h *Harness) setup(ctx context.Context, s Setup) error {
	now := h.clock.Now()
	for _, b := range s.Bans {
		ban := model.Ban{Kind: model.BanKind(b.Kind), Subject: b.Subject, Handler: b.Handler, CreatedAt: now}
		if _, err := h.store.AddBan(ctx, ban); err != nil {
			return err
		}
	}
	for i, r := range s.Reactions {
		_, err := h.store.RecordReaction(ctx,
			model.DedupRecord{ItemID: r.Item, Handler: r.Handler, CreatedAt: now},
			model.StatsEntry{ID: fmt.Sprintf("setup-%d", i+1), ItemID: r.Item, Handler: r.Handler, CreatedAt: now},
		)
		if err != nil {
			return err
		}
	}
	for _, f := range s.FailReplies {
		h.source.FailReplies(f.Scope, serviceError(f.Error))
	}
	return nil
}

func (h *Harness) step(ctx context.Context, step Step) error {
	switch {
	case step.Deliver != nil:
		h.deliver(ctx, step.Deliver.Item(h.clock.Now()))
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	case step.Tick:
		h.tick(ctx)
	case step.Message != nil:
		s, ok := h.sessions[step.Message.To]
		if !ok {
			return fmt.Errorf("message to unknown account %q", step.Message.To)
		}
		s.Deliver(step.Message.Message(h.clock.Now()))
	default:
		return errors.New("empty step")
	}
	return nil
}

func (h *Harness) deliver(ctx context.Context, item model.Item) {
	item.Replier = h
	summary := h.dispatcher.Dispatch(ctx, &item)
	for _, r := range summary.Results {
		h.result.record(TraceEvent{
			Type:     EventDispatch,
			Handler:  r.Handler,
			ItemID:   item.ID,
			Status:   r.Status(),
			Attempts: r.Attempts,
		})
	}
	h.counters.SeenItem(ctx, item.Kind)
}

// Reply implements model.Replier, recording each reply in the trace as it
// is posted.
func (h *Harness) Reply(ctx context.Context, item *model.Item, text string) (string, error) {
	id, err := h.source.Reply(ctx, item, text)
	if err != nil {
		return "", err
	}
	h.result.record(TraceEvent{Type: EventReply, ItemID: item.ID, Text: text})
	return id, nil
}

func (h *Harness) tick(ctx context.Context) {
	report := h.scheduler.Tick(ctx)
	for _, f := range report.Fired {
		status := "ok"
		if f.Err != nil {
			status = "error"
		}
		h.result.record(TraceEvent{Type: EventUpdate, Handler: f.Handler, ItemID: f.ItemID, Status: status})
	}

	usernames := make([]string, 0, len(h.sessions))
	for u := range h.sessions {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)
	for _, u := range usernames {
		replies := h.sessions[u].Replies()
		for _, r := range replies[h.msgReplies[u]:] {
			h.result.record(TraceEvent{Type: EventMessageReply, ItemID: r.MessageID, Text: r.Text})
		}
		h.msgReplies[u] = len(replies)
	}

	status := "ok"
	if len(report.Errors) > 0 {
		status = "error"
	}
	h.result.record(TraceEvent{Type: EventTick, Status: status, Count: report.Messages})
}

// snapshot loads every state table into the result as JSON-shaped rows.
func (h *Harness) snapshot(ctx context.Context) error {
	var dedup []model.DedupRecord
	for _, name := range h.registry.Names() {
		recs, err := h.store.ListDedup(ctx, name)
		if err != nil {
			return err
		}
		dedup = append(dedup, recs...)
	}
	bans, err := h.store.ListBans(ctx)
	if err != nil {
		return err
	}
	tasks, err := h.store.ListTasks(ctx, "")
	if err != nil {
		return err
	}
	msgs, err := h.store.ListMessages(ctx, "", 0)
	if err != nil {
		return err
	}
	stats, err := h.store.ListStats(ctx, store.StatsQuery{})
	if err != nil {
		return err
	}
	days, err := h.store.ListDays(ctx, 0)
	if err != nil {
		return err
	}

	tables := map[string]any{
		TableDedup:    dedup,
		TableBans:     bans,
		TableTasks:    tasks,
		TableMessages: msgs,
		TableStats:    stats,
		TableDays:     days,
	}
	for name, v := range tables {
		rows, err := toRows(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		h.result.State[name] = rows
	}
	return nil
}

func toRows(v any) ([]map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
