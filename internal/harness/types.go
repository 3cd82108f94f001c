package harness

// Trace event types.
const (
	// EventDispatch is one handler's result for a delivered item.
	EventDispatch = "dispatch"
	// EventReply is a reply posted to an item.
	EventReply = "reply"
	// EventUpdate is a deferred update fired by a tick.
	EventUpdate = "update"
	// EventMessageReply is an answer sent to an inbox message.
	EventMessageReply = "message_reply"
	// EventTick closes a scheduler tick.
	EventTick = "tick"
	// EventExcluded is a configured handler that did not make it into the
	// registry.
	EventExcluded = "excluded"
)

// TraceEvent is one observable effect of a scenario, in the order it
// happened.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Type     string `json:"type"`
	Handler  string `json:"handler,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Text     string `json:"text,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	// Count is the number of inbox messages stored by a tick.
	Count int `json:"count,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final rows of each store table, keyed by table name.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends ev with the next sequence number.
func (r *Result) record(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
