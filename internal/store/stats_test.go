package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/model"
)

func TestListStats_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a", "b")

	for i, h := range []string{"a", "b", "a"} {
		rec, entry := testReaction("c"+string(rune('1'+i)), h, "s"+string(rune('1'+i)))
		entry.CreatedAt = testEpoch.Add(time.Duration(i) * time.Hour)
		_, err := s.RecordReaction(ctx, rec, entry)
		require.NoError(t, err)
	}

	all, err := s.ListStats(ctx, StatsQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID, "newest first")

	onlyA, err := s.ListStats(ctx, StatsQuery{Handler: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	recent, err := s.ListStats(ctx, StatsQuery{Since: testEpoch.Add(30 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "s3", recent[0].ID)
}

func TestUpdateScores(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a")

	rec, entry := testReaction("c1", "a", "s1")
	_, err := s.RecordReaction(ctx, rec, entry)
	require.NoError(t, err)

	author := int64(12)
	ok, err := s.UpdateScores(ctx, "s1", &author, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	bot := int64(3)
	_, err = s.UpdateScores(ctx, "s1", nil, &bot)
	require.NoError(t, err)

	stats, err := s.ListStats(ctx, StatsQuery{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.NotNil(t, stats[0].AuthorScore)
	require.NotNil(t, stats[0].HandlerScore)
	assert.EqualValues(t, 12, *stats[0].AuthorScore)
	assert.EqualValues(t, 3, *stats[0].HandlerScore)

	ok, err = s.UpdateScores(ctx, "missing", &author, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddMessage_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a")

	msg := model.Message{ID: "m1", Handler: "a", Author: "bob", Subject: "hi", Body: "hello", CreatedAt: testEpoch}
	inserted, err := s.AddMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.AddMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)

	msgs, err := s.ListMessages(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg, msgs[0])
}

func TestDayCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.DayStats(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, model.DayStats{Day: "2024-01-01"}, empty)

	require.NoError(t, s.AddDayCounts(ctx, "2024-01-01", model.DayCounts{Submissions: 3, Comments: 10}))
	require.NoError(t, s.AddDayCounts(ctx, "2024-01-01", model.DayCounts{Comments: 5, Cycles: 1}))
	require.NoError(t, s.AddDayCounts(ctx, "2024-01-02", model.DayCounts{Cycles: 2}))
	require.NoError(t, s.AddDayCounts(ctx, "2024-01-03", model.DayCounts{}))

	day, err := s.DayStats(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, model.DayCounts{Submissions: 3, Comments: 15, Cycles: 1}, day.DayCounts)

	days, err := s.ListDays(ctx, 0)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-01-02", days[0].Day)

	days, err = s.ListDays(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, days, 1)
}

func TestHandlerSummaries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a", "b")

	rec, entry := testReaction("c1", "a", "s1")
	_, err := s.RecordReaction(ctx, rec, entry)
	require.NoError(t, err)
	_, err = s.AddBan(ctx, model.Ban{Kind: model.BanScope, Subject: "x", Handler: "b"})
	require.NoError(t, err)

	summaries, err := s.HandlerSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.HandlerSummary{
		{Name: "a", Reactions: 1},
		{Name: "b", Bans: 1},
	}, summaries)
}

func TestResponsesOnDay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerTestHandlers(t, s, "a", "b")

	day := model.DayKey(testEpoch)
	for i, at := range []time.Time{testEpoch, testEpoch.Add(time.Minute), testEpoch.AddDate(0, 0, 2)} {
		h := "a"
		if i == 1 {
			h = "b"
		}
		rec, entry := testReaction("c"+string(rune('1'+i)), h, "s"+string(rune('1'+i)))
		entry.CreatedAt = at
		_, err := s.RecordReaction(ctx, rec, entry)
		require.NoError(t, err)
	}

	n, err := s.ResponsesOnDay(ctx, day, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.ResponsesOnDay(ctx, day, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.ResponsesOnDay(ctx, "not-a-day", "")
	assert.Error(t, err)
}
