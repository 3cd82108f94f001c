package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/testutil"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()
	session := testutil.NewFakeSession("EchoBot")

	tests := []struct {
		name    string
		h       handler.Handler
		wantErr string
	}{
		{
			name: "anonymous ok",
			h:    testutil.NewFakeHandler("reader"),
		},
		{
			name: "logged in ok, case-insensitive",
			h: &testutil.FakeHandler{Base: handler.NewBase("echo",
				handler.Identity{Mode: handler.ModeLoggedIn, Username: "echobot"}, session)},
		},
		{
			name:    "empty name",
			h:       testutil.NewFakeHandler(" "),
			wantErr: "name is empty",
		},
		{
			name:    "undeclared mode",
			h:       &testutil.FakeHandler{Base: handler.NewBase("x", handler.Identity{}, nil)},
			wantErr: "undeclared mode",
		},
		{
			name: "anonymous with username",
			h: &testutil.FakeHandler{Base: handler.NewBase("x",
				handler.Identity{Mode: handler.ModeAnonymous, Username: "bob"}, nil)},
			wantErr: "anonymous handler has a username",
		},
		{
			name: "anonymous with session",
			h: &testutil.FakeHandler{Base: handler.NewBase("x",
				handler.Identity{Mode: handler.ModeAnonymous}, session)},
			wantErr: "anonymous handler has a session",
		},
		{
			name: "logged in without username",
			h: &testutil.FakeHandler{Base: handler.NewBase("x",
				handler.Identity{Mode: handler.ModeLoggedIn}, session)},
			wantErr: "no username",
		},
		{
			name: "logged in without session",
			h: &testutil.FakeHandler{Base: handler.NewBase("x",
				handler.Identity{Mode: handler.ModeLoggedIn, Username: "echobot"}, nil)},
			wantErr: "no session",
		},
		{
			name: "session logged in as someone else",
			h: &testutil.FakeHandler{Base: handler.NewBase("x",
				handler.Identity{Mode: handler.ModeLoggedIn, Username: "other"}, session)},
			wantErr: `logged in as "EchoBot"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler.Validate(ctx, tt.h)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *handler.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_SessionError(t *testing.T) {
	session := testutil.NewFakeSession("echobot")
	boom := errors.New("auth failed")
	session.FailMe(boom)
	h := &testutil.FakeHandler{Base: handler.NewBase("echo",
		handler.Identity{Mode: handler.ModeLoggedIn, Username: "echobot"}, session)}
	err := handler.Validate(context.Background(), h)
	assert.ErrorIs(t, err, boom)
}
