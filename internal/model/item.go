package model

import (
	"context"
	"errors"
	"time"
)

// Kind identifies which stream an item arrived on.
type Kind string

const (
	KindSubmission Kind = "submission"
	KindComment    Kind = "comment"
)

// Valid reports whether k is one of the two stream kinds.
func (k Kind) Valid() bool {
	return k == KindSubmission || k == KindComment
}

// Shape selects which reaction entry point of a handler receives an item.
type Shape string

const (
	// ShapeSubmission is a self post that carries body text.
	ShapeSubmission Shape = "submission"
	// ShapeLink is a submission pointing at an external URL.
	ShapeLink Shape = "link"
	// ShapeTitleOnly is a self post with an empty body.
	ShapeTitleOnly Shape = "title_only"
	// ShapeComment is any item from the comment stream.
	ShapeComment Shape = "comment"
)

// ErrNoReplier is returned by Item.Reply when the item was not produced by a
// source capable of replying.
var ErrNoReplier = errors.New("item has no replier")

// Replier posts a reply to an item on the external service.
// Implemented by the item source; returns the id of the created reply.
type Replier interface {
	Reply(ctx context.Context, item *Item, text string) (string, error)
}

// Item is one unit pulled from the submission or comment stream.
//
// Author is empty when the author account was deleted. Scope is the
// community (subreddit) the item was posted to. ParentTitle is only set on
// comments and carries the title of the submission they belong to.
type Item struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Author      string    `json:"author,omitempty"`
	Scope       string    `json:"scope"`
	Title       string    `json:"title,omitempty"`
	Body        string    `json:"body,omitempty"`
	URL         string    `json:"url,omitempty"`
	IsSelf      bool      `json:"is_self,omitempty"`
	Permalink   string    `json:"permalink,omitempty"`
	ParentTitle string    `json:"parent_title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Replier Replier `json:"-"`
}

// Shape classifies the item. Submissions split by self/link and by whether
// the self post carries a body; every comment is ShapeComment.
func (it *Item) Shape() Shape {
	if it.Kind == KindComment {
		return ShapeComment
	}
	if !it.IsSelf {
		return ShapeLink
	}
	if it.Body == "" {
		return ShapeTitleOnly
	}
	return ShapeSubmission
}

// DisplayTitle returns the title recorded in statistics: the submission title,
// or for comments the title of the parent submission.
func (it *Item) DisplayTitle() string {
	if it.Kind == KindComment {
		return it.ParentTitle
	}
	return it.Title
}

// Reply posts text as a reply to the item through its source.
func (it *Item) Reply(ctx context.Context, text string) (string, error) {
	if it.Replier == nil {
		return "", ErrNoReplier
	}
	return it.Replier.Reply(ctx, it, text)
}
