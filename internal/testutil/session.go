package testutil

import (
	"context"
	"sync"

	"github.com/roach88/rover/internal/model"
)

// MessageReply is a reply sent through a FakeSession.
type MessageReply struct {
	MessageID string
	Text      string
}

// FakeSession is an in-memory account session. Deliver puts messages in the
// inbox; Unread returns them.
type FakeSession struct {
	mu        sync.Mutex
	username  string
	meErr     error
	unreadErr error
	inbox     []model.Message
	replies   []MessageReply
}

// NewFakeSession creates a session logged in as username.
func NewFakeSession(username string) *FakeSession {
	return &FakeSession{username: username}
}

// FailMe makes Me return err.
func (s *FakeSession) FailMe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meErr = err
}

// FailUnread makes Unread return err.
func (s *FakeSession) FailUnread(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreadErr = err
}

// Deliver appends messages to the unread inbox.
func (s *FakeSession) Deliver(msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, msgs...)
}

func (s *FakeSession) Me(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.meErr
}

func (s *FakeSession) Unread(_ context.Context, markRead bool) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unreadErr != nil {
		return nil, s.unreadErr
	}
	out := make([]model.Message, len(s.inbox))
	copy(out, s.inbox)
	if markRead {
		s.inbox = nil
	}
	return out, nil
}

func (s *FakeSession) ReplyMessage(_ context.Context, msgID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, MessageReply{MessageID: msgID, Text: text})
	return nil
}

// Replies returns the replies sent so far.
func (s *FakeSession) Replies() []MessageReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageReply, len(s.replies))
	copy(out, s.replies)
	return out
}

// ItemReply is a reply posted to an item through a FakeReplier.
type ItemReply struct {
	ItemID string
	Text   string
}

// FakeReplier records item replies. Err, when set, is returned instead.
type FakeReplier struct {
	mu      sync.Mutex
	Err     error
	replies []ItemReply
}

func (r *FakeReplier) Reply(_ context.Context, item *model.Item, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.replies = append(r.replies, ItemReply{ItemID: item.ID, Text: text})
	return "reply-" + item.ID, nil
}

// Replies returns the replies posted so far.
func (r *FakeReplier) Replies() []ItemReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ItemReply, len(r.replies))
	copy(out, r.replies)
	return out
}
