package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/store"
	"github.com/roach88/rover/internal/testutil"
)

type schedulerFixture struct {
	store     *store.Store
	clock     *testutil.FakeClock
	scheduler *Scheduler
	counters  *Counters
}

func newSchedulerFixture(t *testing.T, handlers ...*testutil.FakeHandler) *schedulerFixture {
	t.Helper()
	s := testutil.OpenStore(t)
	clock := testutil.NewFakeClock(time.Time{})
	counters := NewCounters(s, clock, nil)
	opts := append(testOptions(clock), WithRetention(24*time.Hour))
	return &schedulerFixture{
		store:     s,
		clock:     clock,
		counters:  counters,
		scheduler: NewScheduler(s, registerAll(t, s, handlers...), counters, opts...),
	}
}

func (f *schedulerFixture) deferUpdate(t *testing.T, itemID, handler string, lifetime, interval time.Duration) model.DeferredTask {
	t.Helper()
	task, err := f.store.DeferUpdate(context.Background(), model.DeferRequest{
		ItemID:   itemID,
		Handler:  handler,
		Lifetime: lifetime,
		Interval: interval,
	}, f.clock.Now())
	require.NoError(t, err)
	return task
}

func firedIDs(r TickReport) []string {
	var ids []string
	for _, f := range r.Fired {
		ids = append(ids, f.ItemID)
	}
	return ids
}

func TestTick_FiresStrictlyAfterInterval(t *testing.T) {
	h := testutil.NewFakeHandler("echo")
	f := newSchedulerFixture(t, h)
	ctx := context.Background()
	created := f.deferUpdate(t, "r1", "echo", 600*time.Second, 15*time.Second)

	f.clock.Advance(15 * time.Second)
	assert.Empty(t, firedIDs(f.scheduler.Tick(ctx)), "exactly one interval is not yet due")

	f.clock.Advance(time.Second)
	firstFire := f.clock.Now()
	assert.Equal(t, []string{"r1"}, firedIDs(f.scheduler.Tick(ctx)))

	assert.Empty(t, firedIDs(f.scheduler.Tick(ctx)), "touched task is not due again immediately")

	f.clock.Advance(16 * time.Second)
	assert.Equal(t, []string{"r1"}, firedIDs(f.scheduler.Tick(ctx)))

	updates := h.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, created.LastInvoked, updates[0].LastUpdated)
	assert.Equal(t, firstFire, updates[1].LastUpdated)
	assert.Equal(t, created.ExpiresAt, updates[0].ExpiresAt)
	assert.Equal(t, 15*time.Second, updates[0].Interval)
}

func TestTick_ExpiredTaskNeverFiresAndIsCompacted(t *testing.T) {
	h := testutil.NewFakeHandler("echo")
	f := newSchedulerFixture(t, h)
	ctx := context.Background()
	f.deferUpdate(t, "r1", "echo", 600*time.Second, 15*time.Second)

	f.clock.Advance(601 * time.Second)
	report := f.scheduler.Tick(ctx)

	assert.Empty(t, report.Fired)
	assert.Empty(t, h.Updates())
	assert.Equal(t, int64(1), report.Compacted.Tasks)

	tasks, err := f.store.ListTasks(ctx, "echo")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTick_TouchesBeforeCallback(t *testing.T) {
	h := testutil.NewFakeHandler("echo")
	f := newSchedulerFixture(t, h)
	ctx := context.Background()
	f.deferUpdate(t, "r1", "echo", 600*time.Second, 15*time.Second)

	var seen time.Time
	h.UpdateFunc = func(ctx context.Context, _ model.Update) error {
		tasks, err := f.store.ListTasks(ctx, "echo")
		if err != nil {
			return err
		}
		seen = tasks[0].LastInvoked
		panic("callback crashed")
	}

	now := f.clock.Advance(20 * time.Second)
	report := f.scheduler.Tick(ctx)

	require.Len(t, report.Fired, 1)
	assert.Equal(t, now, seen)
	assert.True(t, IsPanic(report.Fired[0].Err))
	code, ok := CodeOf(report.Fired[0].Err)
	require.True(t, ok)
	assert.Equal(t, CodeUpdateFailed, code)

	// The crash does not make the task due again before its next interval.
	f.clock.Advance(time.Second)
	assert.Empty(t, f.scheduler.Tick(ctx).Fired)
}

func TestTick_UpdateFailureIsolatedPerHandler(t *testing.T) {
	broken := testutil.NewFakeHandler("broken")
	broken.UpdateFunc = func(context.Context, model.Update) error { return errors.New("edit failed") }
	fine := testutil.NewFakeHandler("fine")
	f := newSchedulerFixture(t, broken, fine)
	ctx := context.Background()

	f.deferUpdate(t, "r1", "broken", time.Hour, time.Minute)
	f.deferUpdate(t, "r2", "fine", time.Hour, time.Minute)

	f.clock.Advance(2 * time.Minute)
	report := f.scheduler.Tick(ctx)

	assert.Equal(t, []string{"r1", "r2"}, firedIDs(report))
	assert.Error(t, report.Fired[0].Err)
	assert.NoError(t, report.Fired[1].Err)
	assert.Len(t, fine.Updates(), 1)
}

func TestTick_ProcessesInboxes(t *testing.T) {
	session := testutil.NewFakeSession("RoverBot")
	session.Deliver(
		model.Message{ID: "m1", Author: "alice", Body: "hi", CreatedAt: testutil.Epoch},
		model.Message{ID: "m2", Author: "AutoModerator", Body: "notice", CreatedAt: testutil.Epoch},
		model.Message{ID: "m3", Author: "bob", Body: "thanks", CreatedAt: testutil.Epoch},
	)
	bot := testutil.NewLoggedInFakeHandler("bot", session, true)
	anon := testutil.NewFakeHandler("anon")
	f := newSchedulerFixture(t, bot, anon)
	ctx := context.Background()

	report := f.scheduler.Tick(ctx)
	assert.Equal(t, 2, report.Messages)
	assert.Empty(t, report.Errors)

	msgs, err := f.store.ListMessages(ctx, "bot", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Empty(t, anon.Calls())
}

func TestTick_InboxFailureIsReported(t *testing.T) {
	session := testutil.NewFakeSession("RoverBot")
	session.FailUnread(model.ErrUnavailable)
	bot := testutil.NewLoggedInFakeHandler("bot", session, false)
	f := newSchedulerFixture(t, bot)

	report := f.scheduler.Tick(context.Background())
	require.Len(t, report.Errors, 1)
	code, ok := CodeOf(report.Errors[0])
	require.True(t, ok)
	assert.Equal(t, CodeInboxFailed, code)
}

func TestTick_CountsCycleAndFlushes(t *testing.T) {
	f := newSchedulerFixture(t, testutil.NewFakeHandler("echo"))
	ctx := context.Background()

	f.counters.SeenItem(ctx, model.KindComment)
	f.scheduler.Tick(ctx)
	f.scheduler.Tick(ctx)

	day, err := f.store.DayStats(ctx, model.DayKey(f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(2), day.Cycles)
	assert.Equal(t, int64(1), day.Comments)
	assert.True(t, f.counters.Pending().IsZero())
}
