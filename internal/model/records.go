package model

import "time"

// DedupRecord marks that a handler has reacted to an item.
// At most one exists per (ItemID, Handler).
type DedupRecord struct {
	ItemID    string    `json:"item_id"`
	Handler   string    `json:"handler"`
	CreatedAt time.Time `json:"created_at"`
}

// DeferredTask asks the scheduler to call a handler's update callback for an
// item every Interval until ExpiresAt.
type DeferredTask struct {
	ItemID      string        `json:"item_id"`
	Handler     string        `json:"handler"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	LastInvoked time.Time     `json:"last_invoked"`
	Interval    time.Duration `json:"interval"`
}

// Due reports whether the task should fire at now: strictly more than one
// interval has passed since the last invocation and the task has not expired.
func (t DeferredTask) Due(now time.Time) bool {
	return !t.Expired(now) && now.Unix() > t.LastInvoked.Unix()+int64(t.Interval/time.Second)
}

// Expired reports whether now is past the task's expiry.
func (t DeferredTask) Expired(now time.Time) bool {
	return now.Unix() > t.ExpiresAt.Unix()
}

// DeferRequest is a handler's request to revisit an item later.
type DeferRequest struct {
	ItemID   string
	Handler  string
	Lifetime time.Duration
	Interval time.Duration
}

// Update is passed to a handler's update callback when one of its deferred
// tasks fires. LastUpdated is the invocation time before this firing.
type Update struct {
	ItemID      string        `json:"item_id"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	LastUpdated time.Time     `json:"last_updated"`
	Interval    time.Duration `json:"interval"`
}

// BanKind distinguishes banned authors from banned scopes.
type BanKind string

const (
	BanUser  BanKind = "user"
	BanScope BanKind = "scope"
)

// Valid reports whether k is a known ban kind.
func (k BanKind) Valid() bool {
	return k == BanUser || k == BanScope
}

// Ban excludes a subject from dispatch. An empty Handler makes the ban global.
type Ban struct {
	ID        int64     `json:"id"`
	Kind      BanKind   `json:"kind"`
	Subject   string    `json:"subject"`
	Handler   string    `json:"handler,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Global reports whether the ban applies to every handler.
func (b Ban) Global() bool {
	return b.Handler == ""
}

// StatsEntry records one reaction for reporting.
type StatsEntry struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	Handler      string    `json:"handler"`
	Title        string    `json:"title,omitempty"`
	Author       string    `json:"author,omitempty"`
	Scope        string    `json:"scope"`
	Permalink    string    `json:"permalink,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	AuthorScore  *int64    `json:"author_score,omitempty"`
	HandlerScore *int64    `json:"handler_score,omitempty"`
}

// Message is an inbound private message or reply delivered to a handler's
// account. Messages sent on behalf of a community (moderator mail) carry the
// sending Scope and no Author.
type Message struct {
	ID         string    `json:"id"`
	Handler    string    `json:"handler"`
	Author     string    `json:"author,omitempty"`
	Scope      string    `json:"scope,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	WasComment bool      `json:"was_comment,omitempty"`
}

// DayCounts are increments to the daily activity counters.
type DayCounts struct {
	Submissions int64 `json:"submissions"`
	Comments    int64 `json:"comments"`
	Cycles      int64 `json:"cycles"`
}

// IsZero reports whether there is nothing to add.
func (c DayCounts) IsZero() bool {
	return c.Submissions == 0 && c.Comments == 0 && c.Cycles == 0
}

// Add returns the element-wise sum of c and o.
func (c DayCounts) Add(o DayCounts) DayCounts {
	return DayCounts{
		Submissions: c.Submissions + o.Submissions,
		Comments:    c.Comments + o.Comments,
		Cycles:      c.Cycles + o.Cycles,
	}
}

// DayStats are the persisted counters for one calendar day (UTC, YYYY-MM-DD).
type DayStats struct {
	Day string `json:"day"`
	DayCounts
}

// DayLayout is the time layout of day keys.
const DayLayout = "2006-01-02"

// DayKey formats t as the key used for daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// HandlerSummary aggregates stored state per registered handler.
type HandlerSummary struct {
	Name      string `json:"name"`
	Reactions int64  `json:"reactions"`
	Tasks     int64  `json:"tasks"`
	Bans      int64  `json:"bans"`
	Messages  int64  `json:"messages"`
}
