package source

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
)

// DefaultMemoryWait is how long a memory stream's Next waits for an item.
const DefaultMemoryWait = 20 * time.Millisecond

// Reply is a reply posted through a Memory source.
type Reply struct {
	ID     string `json:"id"`
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

// Memory is an in-process Source. Items are pushed by the caller; replies
// are recorded. Used by tests and the scenario harness.
type Memory struct {
	wait time.Duration

	mu        sync.Mutex
	queues    map[model.Kind]chan model.Item
	acked     map[model.Kind][]string
	replies   []Reply
	replyErrs map[string]error
	sessions  map[string]*MemorySession
}

// NewMemory creates an empty memory source.
func NewMemory() *Memory {
	return &Memory{
		wait: DefaultMemoryWait,
		queues: map[model.Kind]chan model.Item{
			model.KindSubmission: make(chan model.Item, 1024),
			model.KindComment:    make(chan model.Item, 1024),
		},
		acked:     make(map[model.Kind][]string),
		replyErrs: make(map[string]error),
		sessions:  make(map[string]*MemorySession),
	}
}

// Push appends items to the stream of their kind.
func (m *Memory) Push(items ...model.Item) error {
	for _, it := range items {
		q, ok := m.queues[it.Kind]
		if !ok {
			return fmt.Errorf("push %s: unknown kind %q", it.ID, it.Kind)
		}
		q <- it
	}
	return nil
}

// FailReplies makes every reply to items in scope fail with err.
func (m *Memory) FailReplies(scope string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyErrs[model.NormalizeSubject(scope)] = err
}

// Reply implements model.Replier.
func (m *Memory) Reply(_ context.Context, item *model.Item, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.replyErrs[model.NormalizeSubject(item.Scope)]; err != nil {
		return "", err
	}
	r := Reply{ID: "r" + strconv.Itoa(len(m.replies)+1), ItemID: item.ID, Text: text}
	m.replies = append(m.replies, r)
	return r.ID, nil
}

// Replies returns every reply posted so far.
func (m *Memory) Replies() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reply, len(m.replies))
	copy(out, m.replies)
	return out
}

// Acked returns the ids of acknowledged items of kind, in order.
func (m *Memory) Acked(kind model.Kind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.acked[kind]))
	copy(out, m.acked[kind])
	return out
}

// Session returns the session of username, creating it on first use.
func (m *Memory) Session(username string) handler.Session {
	return m.MemorySession(username)
}

// MemorySession is like Session but returns the concrete type.
func (m *Memory) MemorySession(username string) *MemorySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[username]
	if !ok {
		s = &MemorySession{username: username}
		m.sessions[username] = s
	}
	return s
}

// Open implements Source.
func (m *Memory) Open(_ context.Context, kind model.Kind) (Stream, error) {
	q, ok := m.queues[kind]
	if !ok {
		return nil, fmt.Errorf("open stream: unknown kind %q", kind)
	}
	return &memoryStream{src: m, kind: kind, queue: q}, nil
}

type memoryStream struct {
	src   *Memory
	kind  model.Kind
	queue chan model.Item
}

func (s *memoryStream) Next(ctx context.Context) (*model.Item, error) {
	timer := time.NewTimer(s.src.wait)
	defer timer.Stop()
	select {
	case it := <-s.queue:
		it.Replier = s.src
		return &it, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memoryStream) Ack(_ context.Context, item *model.Item) error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	s.src.acked[s.kind] = append(s.src.acked[s.kind], item.ID)
	return nil
}

func (s *memoryStream) Close() error { return nil }

// MessageReply is a reply to an inbox message sent through a MemorySession.
type MessageReply struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// MemorySession is the in-memory inbox of one account.
type MemorySession struct {
	username string

	mu      sync.Mutex
	inbox   []model.Message
	replies []MessageReply
}

// Deliver adds messages to the unread inbox.
func (s *MemorySession) Deliver(msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, msgs...)
}

func (s *MemorySession) Me(context.Context) (string, error) {
	return s.username, nil
}

func (s *MemorySession) Unread(_ context.Context, markRead bool) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.inbox))
	copy(out, s.inbox)
	if markRead {
		s.inbox = nil
	}
	return out, nil
}

func (s *MemorySession) ReplyMessage(_ context.Context, msgID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, MessageReply{MessageID: msgID, Text: text})
	return nil
}

// Replies returns the replies sent so far.
func (s *MemorySession) Replies() []MessageReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageReply, len(s.replies))
	copy(out, s.replies)
	return out
}
