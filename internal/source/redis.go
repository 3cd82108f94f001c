package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
)

// RedisConfig configures a Redis streams source.
type RedisConfig struct {
	// Prefix namespaces every key, e.g. "rover".
	Prefix   string
	Group    string
	Consumer string
	// Block is how long Next waits for a new entry.
	Block time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Prefix == "" {
		c.Prefix = "rover"
	}
	if c.Group == "" {
		c.Group = "rover"
	}
	if c.Consumer == "" {
		c.Consumer = "rover-1"
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	return c
}

// ItemStream is the stream key items of kind are read from.
func (c RedisConfig) ItemStream(kind model.Kind) string {
	return c.Prefix + ":items:" + string(kind)
}

// ReplyStream receives every reply posted to an item.
func (c RedisConfig) ReplyStream() string {
	return c.Prefix + ":replies"
}

// InboxStream holds the inbox messages of an account.
func (c RedisConfig) InboxStream(username string) string {
	return c.Prefix + ":inbox:" + username
}

// MessageReplyStream receives replies to inbox messages.
func (c RedisConfig) MessageReplyStream() string {
	return c.Prefix + ":message_replies"
}

// AccountKey is the hash describing an account. Field "name" holds the
// username the account's credentials resolve to.
func (c RedisConfig) AccountKey(username string) string {
	return c.Prefix + ":account:" + username
}

// Redis reads items from Redis streams through a consumer group and publishes
// replies to a reply stream for an external poster.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger *slog.Logger
}

// NewRedis creates a Redis source.
func NewRedis(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func ensureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	// Start from "0" so entries added before the group existed are delivered.
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group on %s: %w", stream, err)
	}
	return nil
}

// Open implements Source.
func (r *Redis) Open(ctx context.Context, kind model.Kind) (Stream, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("open stream: unknown kind %q", kind)
	}
	stream := r.cfg.ItemStream(kind)
	if err := ensureGroup(ctx, r.client, stream, r.cfg.Group); err != nil {
		return nil, err
	}
	return &redisStream{
		src:     r,
		kind:    kind,
		stream:  stream,
		entries: make(map[string]string),
		pending: true,
		cursor:  "0",
	}, nil
}

// Reply implements model.Replier by publishing the reply.
func (r *Redis) Reply(ctx context.Context, item *model.Item, text string) (string, error) {
	id := uuid.NewString()
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.ReplyStream(),
		Values: map[string]any{
			"reply_id": id,
			"item_id":  item.ID,
			"kind":     string(item.Kind),
			"scope":    item.Scope,
			"text":     text,
		},
	}).Err(); err != nil {
		return "", fmt.Errorf("%w: publish reply: %v", model.ErrUnavailable, err)
	}
	return id, nil
}

// Session implements Sessions.
func (r *Redis) Session(username string) handler.Session {
	return &redisSession{src: r, username: username}
}

type redisStream struct {
	src    *Redis
	kind   model.Kind
	stream string

	mu      sync.Mutex
	buf     []redis.XMessage
	entries map[string]string // item id -> entry id
	// pending is set until this consumer's unacknowledged entries are drained.
	// cursor is the last pending entry id handed out; the pending list is
	// read forward from it so no entry is delivered twice.
	pending bool
	cursor  string
}

func (s *redisStream) Next(ctx context.Context) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
		if len(s.buf) == 0 {
			return nil, nil
		}
	}

	msg := s.buf[0]
	s.buf = s.buf[1:]
	item, err := ParseItem(msg, s.kind)
	if err != nil {
		// Acked so a poison entry is not redelivered forever.
		_ = s.src.client.XAck(ctx, s.stream, s.src.cfg.Group, msg.ID).Err()
		return nil, fmt.Errorf("%w %s on %s: %v", ErrMalformed, msg.ID, s.stream, err)
	}
	item.Replier = s.src
	s.entries[item.ID] = msg.ID
	return item, nil
}

// fill reads the next batch: this consumer's pending entries first, then new
// ones. Pending entries are read forward from the cursor without blocking;
// once none are left the stream switches to new entries for good.
func (s *redisStream) fill(ctx context.Context) error {
	if s.pending {
		msgs, err := s.read(ctx, s.cursor, -1)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			s.cursor = msgs[len(msgs)-1].ID
			s.buf = append(s.buf, msgs...)
			s.src.logger.DebugContext(ctx, "read pending entries", "stream", s.stream, "count", len(msgs))
			return nil
		}
		s.pending = false
	}

	msgs, err := s.read(ctx, ">", s.src.cfg.Block)
	if err != nil {
		return err
	}
	s.buf = append(s.buf, msgs...)
	if len(msgs) > 0 {
		s.src.logger.DebugContext(ctx, "read entries", "stream", s.stream, "count", len(msgs))
	}
	return nil
}

func (s *redisStream) read(ctx context.Context, start string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := s.src.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.src.cfg.Group,
		Consumer: s.src.cfg.Consumer,
		Streams:  []string{s.stream, start},
		Count:    100,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading from %s: %w", s.stream, err)
	}
	var msgs []redis.XMessage
	for _, st := range streams {
		msgs = append(msgs, st.Messages...)
	}
	return msgs, nil
}

func (s *redisStream) Ack(ctx context.Context, item *model.Item) error {
	s.mu.Lock()
	entry, ok := s.entries[item.ID]
	delete(s.entries, item.ID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ack %s: not delivered by %s", item.ID, s.stream)
	}
	if err := s.src.client.XAck(ctx, s.stream, s.src.cfg.Group, entry).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", s.stream, err)
	}
	return nil
}

func (s *redisStream) Close() error { return nil }

type redisSession struct {
	src      *Redis
	username string
}

func (s *redisSession) Me(ctx context.Context) (string, error) {
	name, err := s.src.client.HGet(ctx, s.src.cfg.AccountKey(s.username), "name").Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("account %s: %w", s.username, model.ErrForbidden)
	}
	if err != nil {
		return "", fmt.Errorf("account %s: %w: %v", s.username, model.ErrUnavailable, err)
	}
	return name, nil
}

func (s *redisSession) Unread(ctx context.Context, markRead bool) ([]model.Message, error) {
	stream := s.src.cfg.InboxStream(s.username)
	if err := ensureGroup(ctx, s.src.client, stream, s.src.cfg.Group); err != nil {
		return nil, err
	}

	var msgs []model.Message
	var entries []string
	// Unacknowledged entries first; they were read before but not marked.
	for _, start := range []string{"0", ">"} {
		streams, err := s.src.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.src.cfg.Group,
			Consumer: s.src.cfg.Consumer,
			Streams:  []string{stream, start},
			Count:    100,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading inbox %s: %w", stream, err)
		}
		for _, st := range streams {
			for _, raw := range st.Messages {
				entries = append(entries, raw.ID)
				msg, err := ParseMessage(raw)
				if err != nil {
					s.src.logger.ErrorContext(ctx, "failed to parse message", "error", err, "raw_message_id", raw.ID, "stream", stream)
					continue
				}
				msgs = append(msgs, msg)
			}
		}
	}

	if markRead && len(entries) > 0 {
		if err := s.src.client.XAck(ctx, stream, s.src.cfg.Group, entries...).Err(); err != nil {
			return nil, fmt.Errorf("xack (stream=%s): %w", stream, err)
		}
	}
	return msgs, nil
}

func (s *redisSession) ReplyMessage(ctx context.Context, msgID, text string) error {
	if err := s.src.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.src.cfg.MessageReplyStream(),
		Values: map[string]any{
			"message_id": msgID,
			"account":    s.username,
			"text":       text,
		},
	}).Err(); err != nil {
		return fmt.Errorf("%w: publish message reply: %v", model.ErrUnavailable, err)
	}
	return nil
}

// ParseItem decodes a stream entry into an item of kind. The "id" field is
// required; "created_at" is unix seconds and defaults to the entry time.
func ParseItem(msg redis.XMessage, kind model.Kind) (*model.Item, error) {
	id, err := parseString(msg.Values, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New("empty id")
	}
	it := &model.Item{ID: id, Kind: kind}
	for key, dst := range map[string]*string{
		"author":       &it.Author,
		"scope":        &it.Scope,
		"title":        &it.Title,
		"body":         &it.Body,
		"url":          &it.URL,
		"permalink":    &it.Permalink,
		"parent_title": &it.ParentTitle,
	} {
		if *dst, err = parseOptionalString(msg.Values, key); err != nil {
			return nil, err
		}
	}
	if it.IsSelf, err = parseOptionalBool(msg.Values, "is_self"); err != nil {
		return nil, err
	}
	if it.CreatedAt, err = parseCreated(msg); err != nil {
		return nil, err
	}
	return it, nil
}

// ParseMessage decodes an inbox entry. The entry id is used when the entry
// has no "id" field.
func ParseMessage(msg redis.XMessage) (model.Message, error) {
	m := model.Message{ID: msg.ID}
	var err error
	if id, _ := parseOptionalString(msg.Values, "id"); id != "" {
		m.ID = id
	}
	for key, dst := range map[string]*string{
		"author":  &m.Author,
		"scope":   &m.Scope,
		"subject": &m.Subject,
		"body":    &m.Body,
	} {
		if *dst, err = parseOptionalString(msg.Values, key); err != nil {
			return model.Message{}, err
		}
	}
	if m.WasComment, err = parseOptionalBool(msg.Values, "was_comment"); err != nil {
		return model.Message{}, err
	}
	if m.CreatedAt, err = parseCreated(msg); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

// ItemValues encodes an item as stream entry fields. Inverse of ParseItem.
func ItemValues(it model.Item) map[string]any {
	values := map[string]any{
		"id":         it.ID,
		"created_at": it.CreatedAt.Unix(),
	}
	for key, v := range map[string]string{
		"author":       it.Author,
		"scope":        it.Scope,
		"title":        it.Title,
		"body":         it.Body,
		"url":          it.URL,
		"permalink":    it.Permalink,
		"parent_title": it.ParentTitle,
	} {
		if v != "" {
			values[key] = v
		}
	}
	if it.IsSelf {
		values["is_self"] = "1"
	}
	return values
}

// Publish adds items to their streams. Used by the CLI to inject items.
func (r *Redis) Publish(ctx context.Context, items ...model.Item) error {
	for _, it := range items {
		if !it.Kind.Valid() {
			return fmt.Errorf("publish %s: unknown kind %q", it.ID, it.Kind)
		}
		if err := r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.cfg.ItemStream(it.Kind),
			Values: ItemValues(it),
		}).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", it.ID, err)
		}
	}
	return nil
}

func parseCreated(msg redis.XMessage) (time.Time, error) {
	sec, err := parseOptionalInt64(msg.Values, "created_at")
	if err != nil {
		return time.Time{}, err
	}
	if sec != nil {
		return time.Unix(*sec, 0).UTC(), nil
	}
	// Entry ids are "<unix millis>-<seq>".
	ms, _, _ := strings.Cut(msg.ID, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing entry id %s: %w", msg.ID, err)
	}
	return time.UnixMilli(n).Truncate(time.Second).UTC(), nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt64(values map[string]any, key string) (*int64, error) {
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &num, nil
}

func parseOptionalBool(values map[string]any, key string) (bool, error) {
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(fmt.Sprint(raw))
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}
