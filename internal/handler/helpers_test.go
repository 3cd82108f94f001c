package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/store"
	"github.com/roach88/rover/internal/testutil"
)

func TestReact_SelectsEntryPointByShape(t *testing.T) {
	h := testutil.NewFakeHandler("h")
	items := []*model.Item{
		{ID: "s1", Kind: model.KindSubmission, IsSelf: true, Body: "text"},
		{ID: "s2", Kind: model.KindSubmission, IsSelf: true},
		{ID: "s3", Kind: model.KindSubmission, URL: "https://example.com"},
		{ID: "c1", Kind: model.KindComment, Body: "hi"},
	}
	for _, it := range items {
		_, err := handler.React(context.Background(), h, it)
		require.NoError(t, err)
	}
	assert.Equal(t, []testutil.Call{
		{Entry: "submission", ItemID: "s1"},
		{Entry: "title_only", ItemID: "s2"},
		{Entry: "link", ItemID: "s3"},
		{Entry: "comment", ItemID: "c1"},
	}, h.Calls())
}

func TestDeferUpdate_UsesClockAndHandlerName(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeClock(time.Time{})
	s := testutil.OpenStore(t)
	h := testutil.NewFakeHandler("echo")
	_, err := s.RegisterHandler(ctx, "echo")
	require.NoError(t, err)

	task, err := handler.DeferUpdate(ctx, s, clock, h, "c1", 10*time.Minute, 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo", task.Handler)
	assert.Equal(t, testutil.Epoch, task.CreatedAt)
	assert.Equal(t, testutil.Epoch.Add(10*time.Minute), task.ExpiresAt)
	assert.Equal(t, 15*time.Second, task.Interval)

	_, err = handler.DeferUpdate(ctx, s, clock, h, "c1", 0, time.Second)
	assert.ErrorIs(t, err, store.ErrInvalidTask)
}

func TestProcessInbox(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	session := testutil.NewFakeSession("echobot")
	h := testutil.NewLoggedInFakeHandler("echo", session, false)
	_, err := s.RegisterHandler(ctx, "echo")
	require.NoError(t, err)

	h.MessageFunc = func(_ context.Context, msg model.Message) error {
		switch msg.ID {
		case "m2":
			return errors.New("cannot parse")
		case "m3":
			panic("boom")
		}
		return nil
	}
	session.Deliver(
		model.Message{ID: "m1", Author: "alice", Body: "hello", CreatedAt: testutil.Epoch},
		model.Message{ID: "m2", Author: "bob", Body: "??", CreatedAt: testutil.Epoch},
		model.Message{ID: "m3", Author: "carol", Body: "!!", CreatedAt: testutil.Epoch},
		model.Message{ID: "m4", Author: "dave", Body: "nice post", WasComment: true, CreatedAt: testutil.Epoch},
		model.Message{ID: "m5", Author: "AutoModerator", Body: "removed", CreatedAt: testutil.Epoch},
	)

	stored, err := handler.ProcessInbox(ctx, h, s, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse")
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Equal(t, 3, stored)

	assert.Len(t, h.Calls(), 5, "every message reaches the callback")

	msgs, err := s.ListMessages(ctx, "echo", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
		assert.Equal(t, "echo", m.Handler)
	}
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids)

	stored, err = handler.ProcessInbox(ctx, h, s, true)
	require.NoError(t, err)
	assert.Zero(t, stored, "inbox was marked read")
}

func TestProcessInbox_NoSession(t *testing.T) {
	stored, err := handler.ProcessInbox(context.Background(), testutil.NewFakeHandler("reader"), nil, true)
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestProcessInbox_FetchError(t *testing.T) {
	session := testutil.NewFakeSession("echobot")
	session.FailUnread(model.ErrUnavailable)
	h := testutil.NewLoggedInFakeHandler("echo", session, false)
	_, err := handler.ProcessInbox(context.Background(), h, nil, false)
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestStandardBanProcedure(t *testing.T) {
	opts := handler.BanOptions{AllowUsers: true, AllowScopes: true}

	tests := []struct {
		name      string
		msg       model.Message
		opts      handler.BanOptions
		wantOK    bool
		wantKind  model.BanKind
		wantReply string
	}{
		{
			name:      "user bans themselves",
			msg:       model.Message{ID: "m1", Author: "Alice", Body: "Please ban /u/alice"},
			opts:      opts,
			wantOK:    true,
			wantKind:  model.BanUser,
			wantReply: "Successfully banned /u/Alice from echobot. The bot should ignore you from now on.\n\nHave a nice day!",
		},
		{
			name:      "moderators ban their scope",
			msg:       model.Message{ID: "m2", Scope: "golang", Body: "ban /r/golang"},
			opts:      opts,
			wantOK:    true,
			wantKind:  model.BanScope,
			wantReply: "Successfully banned /r/golang from echobot. The bot should ignore this subreddit from now on.\n\nHave a nice day!",
		},
		{
			name: "user cannot ban someone else",
			msg:  model.Message{ID: "m3", Author: "alice", Body: "alice says ban /u/bob"},
			opts: opts,
		},
		{
			name: "user cannot ban a scope",
			msg:  model.Message{ID: "m4", Author: "golang", Body: "ban /r/golang"},
			opts: opts,
		},
		{
			name: "comment replies never qualify",
			msg:  model.Message{ID: "m5", Author: "alice", Body: "ban /u/alice", WasComment: true},
			opts: opts,
		},
		{
			name: "user bans disabled",
			msg:  model.Message{ID: "m6", Author: "alice", Body: "ban /u/alice"},
			opts: handler.BanOptions{AllowScopes: true},
		},
		{
			name: "no command",
			msg:  model.Message{ID: "m7", Author: "alice", Body: "alice here, nice bot"},
			opts: opts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := testutil.OpenStore(t)
			_, err := s.RegisterHandler(ctx, "echo")
			require.NoError(t, err)
			session := testutil.NewFakeSession("echobot")
			h := testutil.NewLoggedInFakeHandler("echo", session, false)

			ok, err := handler.StandardBanProcedure(ctx, h, s, tt.msg, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)

			bans, err := s.ListBans(ctx)
			require.NoError(t, err)
			if !tt.wantOK {
				assert.Empty(t, bans)
				assert.Empty(t, session.Replies())
				return
			}
			require.Len(t, bans, 1)
			assert.Equal(t, tt.wantKind, bans[0].Kind)
			assert.Equal(t, "echo", bans[0].Handler)
			assert.Equal(t, []testutil.MessageReply{{MessageID: tt.msg.ID, Text: tt.wantReply}}, session.Replies())

			// A second request confirms again without a second ban row.
			ok, err = handler.StandardBanProcedure(ctx, h, s, tt.msg, tt.opts)
			require.NoError(t, err)
			assert.True(t, ok)
			bans, err = s.ListBans(ctx)
			require.NoError(t, err)
			assert.Len(t, bans, 1)
		})
	}
}
