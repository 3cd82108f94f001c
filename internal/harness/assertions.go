package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s handler=%s item=%s status=%s", ev.Seq, ev.Type, ev.Handler, ev.ItemID, ev.Status)
			if ev.Text != "" {
				fmt.Fprintf(&buf, " text=%q", ev.Text)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// assertTraceContains checks that some event matches the assertion's fields.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range trace {
		if assertion.Matches(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s", assertion.Match),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the matches appear in the specified order.
// Events don't need to be consecutive; each match is searched after the
// position of the previous one.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, m := range assertion.Order {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if m.Matches(ev) {
				found = true
				break
			}
		}
		if !found {
			actual := fmt.Sprintf("no %s after %s", m, assertion.Order[max(i-1, 0)])
			if i == 0 {
				actual = fmt.Sprintf("missing %s", m)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Order),
				Actual:   actual,
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if assertion.Matches(ev) {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Match),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState filters the rows of a table by Where, then checks the
// number of rows against Count and that one of them carries Expect.
func assertFinalState(state map[string][]map[string]any, assertion Assertion) error {
	var rows []map[string]any
	for _, row := range state[assertion.Table] {
		if matchFields(row, assertion.Where) {
			rows = append(rows, row)
		}
	}

	if assertion.Count != nil && len(rows) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d rows in %s where %s", *assertion.Count, assertion.Table, formatFields(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}

	if len(assertion.Expect) == 0 {
		return nil
	}
	for _, row := range rows {
		if matchFields(row, assertion.Expect) {
			return nil
		}
	}
	actual := "no matching rows"
	if len(rows) > 0 {
		actual = fmt.Sprintf("rows: %v", rows)
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("row in %s where %s with %s", assertion.Table, formatFields(assertion.Where), formatFields(assertion.Expect)),
		Actual:   actual,
	}
}

// matchFields checks if row contains all expected fields (subset match).
// Extra keys in row are ignored.
func matchFields(row map[string]any, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := row[key]
		if !ok {
			// omitempty dropped a zero value
			if !isZero(want) {
				return false
			}
			continue
		}
		if !stateValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// formatFields renders fields with sorted keys for stable messages.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// stateValuesEqual compares a YAML value against a JSON-decoded state value.
// Numbers compare by value regardless of their Go type.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if e, ok := toFloat(expected); ok {
		a, ok := toFloat(actual)
		return ok && a == e
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case bool:
		act, ok := actual.(bool)
		return ok && exp == act
	}

	return reflect.DeepEqual(expected, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	if f, ok := toFloat(v); ok {
		return f == 0
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case bool:
		return !x
	}
	return false
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
