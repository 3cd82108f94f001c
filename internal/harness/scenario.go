package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rover/internal/model"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Handlers is the ordered candidate list handed to the registry.
	Handlers []HandlerSpec `yaml:"handlers"`

	// Setup establishes store and source state before the first step.
	Setup Setup `yaml:"setup,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// HandlerSpec configures one handler candidate.
type HandlerSpec struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options,omitempty"`
}

// Setup is the initial state of a scenario.
type Setup struct {
	Bans        []BanSpec       `yaml:"bans,omitempty"`
	Reactions   []ReactionSpec  `yaml:"reactions,omitempty"`
	FailReplies []FailReplySpec `yaml:"fail_replies,omitempty"`
}

// BanSpec is a ban present before the first step. An empty handler bans
// globally.
type BanSpec struct {
	Kind    string `yaml:"kind"`
	Subject string `yaml:"subject"`
	Handler string `yaml:"handler,omitempty"`
}

// ReactionSpec marks an item as already handled by a handler.
type ReactionSpec struct {
	Handler string `yaml:"handler"`
	Item    string `yaml:"item"`
}

// FailReplySpec makes every reply to items in Scope fail with the named
// service error.
type FailReplySpec struct {
	Scope string `yaml:"scope"`
	Error string `yaml:"error"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Deliver dispatches an item to every handler.
	Deliver *ItemSpec `yaml:"deliver,omitempty"`
	// Advance moves the fake clock by a Go duration string.
	Advance string `yaml:"advance,omitempty"`
	// Tick runs one scheduler tick.
	Tick bool `yaml:"tick,omitempty"`
	// Message lands in the inbox of an account.
	Message *MessageSpec `yaml:"message,omitempty"`
}

// ItemSpec describes a delivered item.
type ItemSpec struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	Author      string `yaml:"author,omitempty"`
	Scope       string `yaml:"scope"`
	Title       string `yaml:"title,omitempty"`
	Body        string `yaml:"body,omitempty"`
	URL         string `yaml:"url,omitempty"`
	IsSelf      bool   `yaml:"is_self,omitempty"`
	Permalink   string `yaml:"permalink,omitempty"`
	ParentTitle string `yaml:"parent_title,omitempty"`
}

// Item converts the spec into an item created at now.
func (s ItemSpec) Item(now time.Time) model.Item {
	return model.Item{
		ID:          s.ID,
		Kind:        model.Kind(s.Kind),
		Author:      s.Author,
		Scope:       s.Scope,
		Title:       s.Title,
		Body:        s.Body,
		URL:         s.URL,
		IsSelf:      s.IsSelf,
		Permalink:   s.Permalink,
		ParentTitle: s.ParentTitle,
		CreatedAt:   now,
	}
}

// MessageSpec describes an inbox message sent to account To.
type MessageSpec struct {
	To         string `yaml:"to"`
	ID         string `yaml:"id"`
	Author     string `yaml:"author,omitempty"`
	Scope      string `yaml:"scope,omitempty"`
	Subject    string `yaml:"subject,omitempty"`
	Body       string `yaml:"body"`
	WasComment bool   `yaml:"was_comment,omitempty"`
}

// Message converts the spec into a message received at now.
func (s MessageSpec) Message(now time.Time) model.Message {
	return model.Message{
		ID:         s.ID,
		Author:     s.Author,
		Scope:      s.Scope,
		Subject:    s.Subject,
		Body:       s.Body,
		CreatedAt:  now,
		WasComment: s.WasComment,
	}
}

// Match selects trace events. Empty fields match anything.
type Match struct {
	Event   string `yaml:"event,omitempty"`
	Handler string `yaml:"handler,omitempty"`
	Item    string `yaml:"item,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Text    string `yaml:"text,omitempty"`
}

// Matches reports whether ev has every field set in m.
func (m Match) Matches(ev TraceEvent) bool {
	return (m.Event == "" || m.Event == ev.Type) &&
		(m.Handler == "" || m.Handler == ev.Handler) &&
		(m.Item == "" || m.Item == ev.ItemID) &&
		(m.Status == "" || m.Status == ev.Status) &&
		(m.Text == "" || m.Text == ev.Text)
}

func (m Match) String() string {
	return fmt.Sprintf("{event=%s handler=%s item=%s status=%s text=%q}", m.Event, m.Handler, m.Item, m.Status, m.Text)
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": some event matches the inline Match
	// - "trace_order": the Order matches appear in sequence
	// - "trace_count": exactly Count events match the inline Match
	// - "final_state": rows of Table filtered by Where match Expect/Count
	Type string `yaml:"type"`

	Match `yaml:",inline"`

	// Count is the expected number of matching events or rows.
	Count *int `yaml:"count,omitempty"`

	// Order is the expected event order (used by trace_order).
	Order []Match `yaml:"order,omitempty"`

	// Table is the state table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where filters rows; all fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset of fields one filtered row must carry.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// State tables available to final_state assertions.
const (
	TableDedup    = "dedup_records"
	TableBans     = "bans"
	TableTasks    = "deferred_tasks"
	TableMessages = "messages"
	TableStats    = "stats"
	TableDays     = "day_stats"
)

var stateTables = map[string]bool{
	TableDedup:    true,
	TableBans:     true,
	TableTasks:    true,
	TableMessages: true,
	TableStats:    true,
	TableDays:     true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Handlers) == 0 {
		return fmt.Errorf("handlers list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, h := range s.Handlers {
		if h.Name == "" {
			return fmt.Errorf("handlers[%d]: name is required", i)
		}
		if h.Type == "" {
			return fmt.Errorf("handlers[%d]: type is required", i)
		}
	}

	for i, b := range s.Setup.Bans {
		kind := model.BanKind(b.Kind)
		if kind != model.BanUser && kind != model.BanScope {
			return fmt.Errorf("setup.bans[%d]: unknown kind %q", i, b.Kind)
		}
		if b.Subject == "" {
			return fmt.Errorf("setup.bans[%d]: subject is required", i)
		}
	}
	for i, r := range s.Setup.Reactions {
		if r.Handler == "" || r.Item == "" {
			return fmt.Errorf("setup.reactions[%d]: handler and item are required", i)
		}
	}
	for i, f := range s.Setup.FailReplies {
		if f.Scope == "" || f.Error == "" {
			return fmt.Errorf("setup.fail_replies[%d]: scope and error are required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	set := 0
	if step.Deliver != nil {
		set++
		if step.Deliver.ID == "" {
			return fmt.Errorf("steps[%d].deliver: id is required", index)
		}
		if !model.Kind(step.Deliver.Kind).Valid() {
			return fmt.Errorf("steps[%d].deliver: unknown kind %q", index, step.Deliver.Kind)
		}
	}
	if step.Advance != "" {
		set++
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d].advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d].advance: clock cannot go backwards", index)
		}
	}
	if step.Tick {
		set++
	}
	if step.Message != nil {
		set++
		if step.Message.To == "" || step.Message.ID == "" {
			return fmt.Errorf("steps[%d].message: to and id are required", index)
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of deliver, advance, tick, message is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Match == (Match{}) {
			return fmt.Errorf("assertions[%d]: at least one event field is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Order) < 2 {
			return fmt.Errorf("assertions[%d]: order needs at least two entries for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for trace_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if !stateTables[a.Table] {
			return fmt.Errorf("assertions[%d]: unknown table %q for final_state", index, a.Table)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
