package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/model"
)

func TestIsBanned_GlobalAppliesToEveryHandler(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a", "b")

	_, err := s.AddBan(ctx, model.Ban{Kind: model.BanUser, Subject: "Spammer"})
	require.NoError(t, err)

	for _, h := range []string{"a", "b", ""} {
		banned, err := s.IsBanned(ctx, model.BanUser, "spammer", h)
		require.NoError(t, err)
		assert.True(t, banned, "handler %q", h)
	}

	banned, err := s.IsBanned(ctx, model.BanScope, "spammer", "a")
	require.NoError(t, err)
	assert.False(t, banned, "kinds are separate namespaces")
}

func TestIsBanned_HandlerScoped(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a", "b")

	_, err := s.AddBan(ctx, model.Ban{Kind: model.BanScope, Subject: "r/Pics", Handler: "a"})
	require.NoError(t, err)

	banned, err := s.IsBanned(ctx, model.BanScope, "pics", "a")
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = s.IsBanned(ctx, model.BanScope, "pics", "b")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestIsBanned_EmptySubject(t *testing.T) {
	s := createTestStore(t)
	registerTestHandlers(t, s, "a")

	banned, err := s.IsBanned(context.Background(), model.BanUser, "", "a")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestAddBan_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.AddBan(ctx, model.Ban{Kind: "group", Subject: "x"})
	assert.Error(t, err)

	_, err = s.AddBan(ctx, model.Ban{Kind: model.BanUser, Subject: " "})
	assert.Error(t, err)

	_, err = s.AddBan(ctx, model.Ban{Kind: model.BanUser, Subject: "x", Handler: "ghost"})
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)
}

func TestRemoveBan(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a", "b")

	for _, h := range []string{"", "a", "b"} {
		_, err := s.AddBan(ctx, model.Ban{Kind: model.BanUser, Subject: "troll", Handler: h})
		require.NoError(t, err)
	}

	n, err := s.RemoveBan(ctx, model.BanUser, "troll", "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.RemoveBan(ctx, model.BanUser, "TROLL", "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	banned, err := s.IsBanned(ctx, model.BanUser, "troll", "b")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestPurgeAndListBans(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a")

	_, err := s.AddBan(ctx, model.Ban{Kind: model.BanUser, Subject: "u1"})
	require.NoError(t, err)
	_, err = s.AddBan(ctx, model.Ban{Kind: model.BanScope, Subject: "s1", Handler: "a"})
	require.NoError(t, err)

	bans, err := s.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 2)
	assert.Equal(t, model.Ban{ID: bans[0].ID, Kind: model.BanUser, Subject: "u1", CreatedAt: testEpoch}, bans[0])
	assert.Equal(t, "a", bans[1].Handler)

	n, err := s.PurgeBans(ctx, model.BanUser)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	bans, err = s.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, model.BanScope, bans[0].Kind)
}
