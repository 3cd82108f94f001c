package handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/rover/internal/model"
)

// DeferUpdate asks for h's update callback to be called for itemID every
// interval until lifetime has passed. A repeated request for the same item
// replaces the schedule.
func DeferUpdate(ctx context.Context, d Deferrer, clock Clock, h Handler, itemID string, lifetime, interval time.Duration) (model.DeferredTask, error) {
	if clock == nil {
		clock = SystemClock
	}
	return d.DeferUpdate(ctx, model.DeferRequest{
		ItemID:   itemID,
		Handler:  h.Name(),
		Lifetime: lifetime,
		Interval: interval,
	}, clock.Now())
}

// automoderator messages are never stored.
const automoderator = "automoderator"

// ProcessInbox fetches the unread messages of h's session, passes each to
// h.OnMessage and stores the ones that are neither comment replies nor from
// the automoderator. A failing or panicking callback does not stop the
// remaining messages. Handlers without a session have no inbox.
//
// Returns the number of messages stored and every callback or storage
// error joined together.
func ProcessInbox(ctx context.Context, h Handler, sink MessageSink, markRead bool) (int, error) {
	session := h.Session()
	if session == nil {
		return 0, nil
	}

	msgs, err := session.Unread(ctx, markRead)
	if err != nil {
		return 0, fmt.Errorf("fetch inbox of %s: %w", h.Name(), err)
	}

	var (
		stored int
		errs   []error
	)
	for _, msg := range msgs {
		msg.Handler = h.Name()
		if err := onMessage(ctx, h, msg); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", msg.ID, err))
		}
		if msg.WasComment || strings.EqualFold(msg.Author, automoderator) {
			continue
		}
		inserted, err := sink.AddMessage(ctx, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("store message %s: %w", msg.ID, err))
			continue
		}
		if inserted {
			stored++
		}
	}
	return stored, errors.Join(errs...)
}

func onMessage(ctx context.Context, h Handler, msg model.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.OnMessage(ctx, msg)
}

// BanOptions selects which kinds of self-service bans a handler accepts.
type BanOptions struct {
	AllowUsers  bool
	AllowScopes bool
}

var banCommand = regexp.MustCompile(`ban /([ru])/(\w*)`)

const (
	userBannedReply  = "Successfully banned /u/%s from %s. The bot should ignore you from now on.\n\nHave a nice day!"
	scopeBannedReply = "Successfully banned /r/%s from %s. The bot should ignore this subreddit from now on.\n\nHave a nice day!"
)

// StandardBanProcedure lets senders opt out of a handler.
//
// A private message whose body contains "ban /u/<name>" from the user <name>
// bans that user for h. A message sent on behalf of a community (no author,
// Scope set) containing "ban /r/<scope>" for that same community bans the
// community. Comment replies never qualify. On success the ban is stored
// once and the sender receives a confirmation through h's session.
//
// Reports whether the message was a valid ban request.
func StandardBanProcedure(ctx context.Context, h Handler, bans Bans, msg model.Message, opts BanOptions) (bool, error) {
	if msg.WasComment {
		return false, nil
	}

	sender, fromScope := msg.Author, false
	if sender == "" {
		sender, fromScope = msg.Scope, true
	}
	if sender == "" {
		return false, nil
	}

	body := strings.ToLower(msg.Body)
	if !strings.Contains(body, strings.ToLower(sender)) {
		return false, nil
	}
	m := banCommand.FindStringSubmatch(body)
	if m == nil || !model.SameSubject(m[2], sender) {
		return false, nil
	}

	var (
		kind  model.BanKind
		reply string
	)
	switch {
	case m[1] == "u" && !fromScope && opts.AllowUsers:
		kind, reply = model.BanUser, userBannedReply
	case m[1] == "r" && fromScope && opts.AllowScopes:
		kind, reply = model.BanScope, scopeBannedReply
	default:
		return false, nil
	}

	banned, err := bans.IsBanned(ctx, kind, sender, h.Name())
	if err != nil {
		return false, fmt.Errorf("ban procedure: %w", err)
	}
	if !banned {
		if _, err := bans.AddBan(ctx, model.Ban{Kind: kind, Subject: sender, Handler: h.Name()}); err != nil {
			return false, fmt.Errorf("ban procedure: %w", err)
		}
	}

	session := h.Session()
	if session == nil {
		return true, nil
	}
	botName := h.Identity().Username
	if botName == "" {
		botName = h.Name()
	}
	if err := session.ReplyMessage(ctx, msg.ID, fmt.Sprintf(reply, sender, botName)); err != nil {
		return true, fmt.Errorf("ban procedure: confirm: %w", err)
	}
	return true, nil
}
