// Package keyword implements a reference handler that answers items whose
// text matches a regular expression with a fixed response.
package keyword

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
)

// Type is the handler type name used in configuration.
const Type = "keyword"

// Options configures a keyword handler.
type Options struct {
	// Pattern is matched case-insensitively against the body, and against
	// the title of submissions without a body.
	Pattern string `yaml:"pattern"`
	// Response is posted as a reply to every matching item.
	Response string `yaml:"response"`
	// Scopes restricts the handler to these communities. Empty allows all.
	Scopes []string `yaml:"scopes"`
	// IgnoreAuthorsContaining skips authors whose name contains any of these.
	IgnoreAuthorsContaining []string `yaml:"ignore_authors_containing"`
	// Username is the account the handler replies as. Empty means anonymous.
	Username   string `yaml:"username"`
	SelfIgnore bool   `yaml:"self_ignore"`
	// Comments and Submissions select the streams the handler answers.
	// Both default to true.
	Comments    *bool `yaml:"comments"`
	Submissions *bool `yaml:"submissions"`
	Links       bool  `yaml:"links"`
	// UpdateInterval and UpdateLifetime, when both set, defer an update of
	// every answered item.
	UpdateInterval string `yaml:"update_interval"`
	UpdateLifetime string `yaml:"update_lifetime"`
	// AllowUserBans and AllowScopeBans enable the inbox ban procedure.
	AllowUserBans  bool `yaml:"allow_user_bans"`
	AllowScopeBans bool `yaml:"allow_scope_bans"`
}

// DecodeOptions converts a raw option map into Options. Unknown keys are
// rejected.
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return opts, fmt.Errorf("encode options: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return opts, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

// Handler answers matching items.
type Handler struct {
	handler.Base

	pattern     *regexp.Regexp
	response    string
	scopes      map[string]bool
	ignore      []string
	comments    bool
	submissions bool
	links       bool
	interval    time.Duration
	lifetime    time.Duration
	banOpts     handler.BanOptions

	deferrer handler.Deferrer
	bans     handler.Bans
	clock    handler.Clock
	logger   *slog.Logger
}

// New is the handler.Factory of keyword handlers.
func New(d handler.Deps) (handler.Handler, error) {
	opts, err := DecodeOptions(d.Options)
	if err != nil {
		return nil, err
	}
	if opts.Pattern == "" {
		return nil, errors.New("pattern is required")
	}
	if opts.Response == "" {
		return nil, errors.New("response is required")
	}
	re, err := regexp.Compile("(?i)" + opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}

	h := &Handler{
		pattern:     re,
		response:    opts.Response,
		ignore:      lowerAll(opts.IgnoreAuthorsContaining),
		comments:    opts.Comments == nil || *opts.Comments,
		submissions: opts.Submissions == nil || *opts.Submissions,
		links:       opts.Links,
		banOpts:     handler.BanOptions{AllowUsers: opts.AllowUserBans, AllowScopes: opts.AllowScopeBans},
		deferrer:    d.Deferrer,
		bans:        d.Bans,
		clock:       d.Clock,
		logger:      d.Logger,
	}
	if h.clock == nil {
		h.clock = handler.SystemClock
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	if len(opts.Scopes) > 0 {
		h.scopes = make(map[string]bool, len(opts.Scopes))
		for _, s := range opts.Scopes {
			h.scopes[model.NormalizeSubject(s)] = true
		}
	}

	if opts.UpdateInterval != "" || opts.UpdateLifetime != "" {
		if h.interval, err = time.ParseDuration(opts.UpdateInterval); err != nil {
			return nil, fmt.Errorf("update_interval: %w", err)
		}
		if h.lifetime, err = time.ParseDuration(opts.UpdateLifetime); err != nil {
			return nil, fmt.Errorf("update_lifetime: %w", err)
		}
		if h.deferrer == nil {
			return nil, errors.New("deferred updates need a deferrer")
		}
	}

	id := handler.Identity{Mode: handler.ModeAnonymous}
	var session handler.Session
	if opts.Username != "" {
		id = handler.Identity{Mode: handler.ModeLoggedIn, Username: opts.Username, SelfIgnore: opts.SelfIgnore}
		session = d.Session
	}
	h.Base = handler.NewBase(d.Name, id, session)
	return h, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func (h *Handler) OnSubmission(ctx context.Context, item *model.Item) (model.Outcome, error) {
	if !h.submissions {
		return model.NoMatch, nil
	}
	return h.answer(ctx, item, item.Body)
}

func (h *Handler) OnTitleOnly(ctx context.Context, item *model.Item) (model.Outcome, error) {
	if !h.submissions {
		return model.NoMatch, nil
	}
	return h.answer(ctx, item, item.Title)
}

func (h *Handler) OnLink(ctx context.Context, item *model.Item) (model.Outcome, error) {
	if !h.links {
		return model.NoMatch, nil
	}
	return h.answer(ctx, item, item.Title)
}

func (h *Handler) OnComment(ctx context.Context, item *model.Item) (model.Outcome, error) {
	if !h.comments {
		return model.NoMatch, nil
	}
	return h.answer(ctx, item, item.Body)
}

func (h *Handler) answer(ctx context.Context, item *model.Item, text string) (model.Outcome, error) {
	if h.scopes != nil && !h.scopes[model.NormalizeSubject(item.Scope)] {
		return model.NoMatch, nil
	}
	author := strings.ToLower(item.Author)
	for _, frag := range h.ignore {
		if frag != "" && strings.Contains(author, frag) {
			return model.NoMatch, nil
		}
	}
	if !h.pattern.MatchString(text) {
		return model.NoMatch, nil
	}

	replyID, err := item.Reply(ctx, h.response)
	if err != nil {
		return model.NoMatch, fmt.Errorf("reply to %s: %w", item.ID, err)
	}
	h.logger.Info("answered item", "item_id", item.ID, "reply_id", replyID)

	if h.interval > 0 {
		if _, err := handler.DeferUpdate(ctx, h.deferrer, h.clock, h, replyID, h.lifetime, h.interval); err != nil {
			// The reply is out; losing the follow-up must not cause a second reply.
			h.logger.Error("defer update failed", "item_id", replyID, "error", err)
		}
	}
	return model.Reacted, nil
}

// OnUpdate logs the revisit of an answered item.
func (h *Handler) OnUpdate(_ context.Context, u model.Update) error {
	h.logger.Info("update", "item_id", u.ItemID, "last_updated", u.LastUpdated, "expires_at", u.ExpiresAt)
	return nil
}

// OnMessage runs the standard ban procedure when enabled.
func (h *Handler) OnMessage(ctx context.Context, msg model.Message) error {
	if !h.banOpts.AllowUsers && !h.banOpts.AllowScopes {
		return nil
	}
	if h.bans == nil {
		return errors.New("ban procedure needs a ban store")
	}
	ok, err := handler.StandardBanProcedure(ctx, h, h.bans, msg, h.banOpts)
	if err != nil {
		return err
	}
	if ok {
		h.logger.Info("sender banned", "message_id", msg.ID)
	}
	return nil
}
