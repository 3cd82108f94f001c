package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/model"
)

func TestRegisterHandler_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inserted, err := s.RegisterHandler(ctx, "echo")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RegisterHandler(ctx, "echo")
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Equal(t, 1, countRows(t, s, "handlers"))
}

func TestRegisterHandler_EmptyName(t *testing.T) {
	s := createTestStore(t)

	_, err := s.RegisterHandler(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, 0, countRows(t, s, "handlers"))
}

func TestRegisterHandler_DuplicateRowsAreReported(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "echo")

	// Simulate a corrupted registry: a second row with the same name.
	_, err := s.db.Exec(`INSERT INTO handlers (name, created_at) VALUES ('echo', 0)`)
	require.NoError(t, err)

	_, err = s.RegisterHandler(ctx, "echo")
	assert.ErrorIs(t, err, ErrInconsistentRegistry)

	_, err = s.HasReacted(ctx, "t3_a", "echo")
	assert.ErrorIs(t, err, ErrInconsistentRegistry)

	_, err = s.HandlerID(ctx, "echo")
	assert.ErrorIs(t, err, ErrInconsistentRegistry)
}

func TestHandlerID_NotRegistered(t *testing.T) {
	s := createTestStore(t)

	_, err := s.HandlerID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)
}

func TestListHandlers_RegistrationOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	names, err := s.ListHandlers(ctx)
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)

	registerTestHandlers(t, s, "zeta", "alpha", "mid")
	names, err = s.ListHandlers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestWipeHandler_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "echo", "other")

	for _, h := range []string{"echo", "other"} {
		_, err := s.RecordReaction(ctx,
			model.DedupRecord{ItemID: "t3_a", Handler: h, CreatedAt: testEpoch},
			model.StatsEntry{ID: "s-" + h, ItemID: "t3_a", Handler: h, Scope: "golang", CreatedAt: testEpoch},
		)
		require.NoError(t, err)
		_, err = s.DeferUpdate(ctx, model.DeferRequest{ItemID: "t3_a", Handler: h, Lifetime: 600 * time.Second, Interval: 15 * time.Second}, testEpoch)
		require.NoError(t, err)
		_, err = s.AddBan(ctx, model.Ban{Kind: model.BanScope, Subject: "pics", Handler: h})
		require.NoError(t, err)
		_, err = s.AddMessage(ctx, model.Message{ID: "m1", Handler: h, Body: "hi", CreatedAt: testEpoch})
		require.NoError(t, err)
	}
	_, err := s.AddBan(ctx, model.Ban{Kind: model.BanUser, Subject: "spammer"})
	require.NoError(t, err)

	res, err := s.WipeHandler(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, WipeResult{Handler: "echo", Dedup: 1, Tasks: 1, Bans: 1, Stats: 1, Messages: 1}, res)

	_, err = s.HandlerID(ctx, "echo")
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)

	// Nothing references the wiped handler; the other handler and global bans survive.
	assert.Equal(t, 1, countRows(t, s, "dedup_records"))
	assert.Equal(t, 1, countRows(t, s, "deferred_tasks"))
	assert.Equal(t, 1, countRows(t, s, "stats"))
	assert.Equal(t, 1, countRows(t, s, "messages"))
	assert.Equal(t, 2, countRows(t, s, "bans"))

	var orphans int
	require.NoError(t, s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM dedup_records WHERE handler_id NOT IN (SELECT id FROM handlers)) +
			(SELECT COUNT(*) FROM deferred_tasks WHERE handler_id NOT IN (SELECT id FROM handlers)) +
			(SELECT COUNT(*) FROM bans WHERE handler_id IS NOT NULL AND handler_id NOT IN (SELECT id FROM handlers))
	`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestWipeHandler_RemovesDuplicateRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "echo")
	_, err := s.db.Exec(`INSERT INTO handlers (name, created_at) VALUES ('echo', 0)`)
	require.NoError(t, err)

	_, err = s.WipeHandler(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, s, "handlers"))

	inserted, err := s.RegisterHandler(ctx, "echo")
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestWipeHandler_Unknown(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WipeHandler(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)
}
