package source

import (
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/model"
)

func TestParseItem(t *testing.T) {
	msg := redis.XMessage{
		ID: "1700000000123-0",
		Values: map[string]any{
			"id":        "t3_abc",
			"author":    "alice",
			"scope":     "golang",
			"title":     "Generics",
			"body":      "text",
			"is_self":   "1",
			"permalink": "/r/golang/comments/abc",
		},
	}
	item, err := ParseItem(msg, model.KindSubmission)
	require.NoError(t, err)
	assert.Equal(t, "t3_abc", item.ID)
	assert.Equal(t, model.KindSubmission, item.Kind)
	assert.Equal(t, "alice", item.Author)
	assert.True(t, item.IsSelf)
	assert.Equal(t, model.ShapeSubmission, item.Shape())
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), item.CreatedAt, "defaults to entry time")
}

func TestParseItem_Errors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{"missing id", map[string]any{"body": "x"}, "missing id"},
		{"empty id", map[string]any{"id": ""}, "empty id"},
		{"bad bool", map[string]any{"id": "a", "is_self": "maybe"}, "parsing is_self"},
		{"bad created_at", map[string]any{"id": "a", "created_at": "yesterday"}, "parsing created_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseItem(redis.XMessage{ID: "1-0", Values: tt.values}, model.KindComment)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestItemValues_RoundTrip(t *testing.T) {
	in := model.Item{
		ID:          "t1_c1",
		Kind:        model.KindComment,
		Author:      "bob",
		Scope:       "dota2",
		Body:        "ancient necro",
		ParentTitle: "Patch notes",
		CreatedAt:   time.Unix(1_700_000_100, 0).UTC(),
	}
	values := ItemValues(in)
	assert.NotContains(t, values, "title")
	assert.NotContains(t, values, "is_self")

	// XREADGROUP returns every field as a string.
	str := make(map[string]any, len(values))
	for k, v := range values {
		str[k] = fmt.Sprint(v)
	}
	out, err := ParseItem(redis.XMessage{ID: "1-0", Values: str}, model.KindComment)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage(redis.XMessage{
		ID: "1700000000000-1",
		Values: map[string]any{
			"scope":      "golang",
			"subject":    "ban request",
			"body":       "ban /r/golang",
			"created_at": "1700000050",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-1", msg.ID)
	assert.Equal(t, "golang", msg.Scope)
	assert.Empty(t, msg.Author)
	assert.False(t, msg.WasComment)
	assert.Equal(t, time.Unix(1_700_000_050, 0).UTC(), msg.CreatedAt)

	msg, err = ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"id": "t4_m1", "was_comment": "true"}})
	require.NoError(t, err)
	assert.Equal(t, "t4_m1", msg.ID)
	assert.True(t, msg.WasComment)
}

func TestRedisConfig_Keys(t *testing.T) {
	cfg := RedisConfig{}.withDefaults()
	assert.Equal(t, "rover:items:comment", cfg.ItemStream(model.KindComment))
	assert.Equal(t, "rover:items:submission", cfg.ItemStream(model.KindSubmission))
	assert.Equal(t, "rover:inbox:echobot", cfg.InboxStream("echobot"))
	assert.Equal(t, "rover:account:echobot", cfg.AccountKey("echobot"))
	assert.Equal(t, 5*time.Second, cfg.Block)
}
