package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemShape(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want Shape
	}{
		{"self post with body", Item{Kind: KindSubmission, IsSelf: true, Body: "hello"}, ShapeSubmission},
		{"self post without body", Item{Kind: KindSubmission, IsSelf: true}, ShapeTitleOnly},
		{"link post", Item{Kind: KindSubmission, URL: "https://example.com"}, ShapeLink},
		{"link post ignores body", Item{Kind: KindSubmission, Body: "x"}, ShapeLink},
		{"comment", Item{Kind: KindComment, Body: "hi"}, ShapeComment},
		{"empty comment", Item{Kind: KindComment}, ShapeComment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Shape())
		})
	}
}

func TestItemDisplayTitle(t *testing.T) {
	sub := Item{Kind: KindSubmission, Title: "post"}
	com := Item{Kind: KindComment, Title: "ignored", ParentTitle: "parent"}

	assert.Equal(t, "post", sub.DisplayTitle())
	assert.Equal(t, "parent", com.DisplayTitle())
}

type recordingReplier struct {
	got string
}

func (r *recordingReplier) Reply(_ context.Context, item *Item, text string) (string, error) {
	r.got = item.ID + ":" + text
	return "r1", nil
}

func TestItemReply(t *testing.T) {
	it := Item{ID: "c1", Kind: KindComment}
	_, err := it.Reply(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoReplier)

	rep := &recordingReplier{}
	it.Replier = rep
	id, err := it.Reply(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
	assert.Equal(t, "c1:hi", rep.got)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindSubmission.Valid())
	assert.True(t, KindComment.Valid())
	assert.False(t, Kind("message").Valid())
}
