package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Identifiers cannot be parameterized, so anything else is refused.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Kind, formatFields(event.Fields))
		}
	}

	return buf.String()
}

// matches reports whether ev is of the given kind and carries every
// expected field (subset match).
func (m EventMatch) matches(ev TraceEvent) bool {
	if ev.Kind != m.Kind {
		return false
	}
	for key, want := range m.Fields {
		got, ok := ev.Fields[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func (m EventMatch) String() string {
	if len(m.Fields) == 0 {
		return m.Kind
	}
	return m.Kind + " " + formatFields(m.Fields)
}

// assertEventContains checks that at least one event matches.
func assertEventContains(trace []TraceEvent, assertion Assertion) error {
	m := EventMatch{Kind: assertion.Kind, Fields: assertion.Fields}
	for _, ev := range trace {
		if m.matches(ev) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertEventContains,
		Expected: m.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the matches occur in order. Events need not
// be consecutive; each match must come after the previous one.
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	var lastSeq int64
	for _, m := range assertion.Events {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if m.matches(ev) {
				found = true
				lastSeq = ev.Seq
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual:   fmt.Sprintf("%s not found after seq %d", m, lastSeq),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertEventCount checks that exactly Count events match.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	m := EventMatch{Kind: assertion.Kind, Fields: assertion.Fields}
	count := 0
	for _, ev := range trace {
		if m.matches(ev) {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, m),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// snapshotFields exposes a snapshot under the names final_state uses.
func snapshotFields(s engine.Snapshot) map[string]any {
	return map[string]any{
		"state":                s.State.String(),
		"batch":                s.BatchNumber,
		"size":                 s.BatchSize,
		"index":                s.Image,
		"current_index":        s.Index,
		"ok":                   s.OK,
		"ng":                   s.NG,
		"timeouts":             s.Timeouts,
		"awaiting_timeout_key": s.AwaitingTimeoutKey,
		"timeout_active":       s.TimeoutActive,
		"timeout_remaining_ms": s.TimeoutRemaining.Milliseconds(),
		"lag_pending":          s.LagPending,
		"lag_remaining_ms":     s.LagRemaining.Milliseconds(),
		"force_paused":         s.ForcePaused,
		"cycling_enabled":      s.CyclingEnabled,
		"next_batch_size":      s.NextBatchSize,
	}
}

// assertFinalState compares the final snapshot with the expected values.
func assertFinalState(final engine.Snapshot, assertion Assertion) error {
	actual := snapshotFields(final)
	for _, key := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("known fields: %v", sortedKeys(actual)),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %v", key, want),
				Actual:   fmt.Sprintf("%s = %v", key, got),
			}
		}
	}
	return nil
}

// assertAuditRow checks that exactly one row of the audit table matches
// Where (scoped to the scenario's session) and carries the Expect values.
func assertAuditRow(ctx context.Context, st *store.Store, sessionID string, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	where := make(map[string]any, len(assertion.Where)+1)
	for k, v := range assertion.Where {
		where[k] = v
	}
	sessionColumn := "session_id"
	if assertion.Table == "sessions" {
		sessionColumn = "id"
	}
	where[sessionColumn] = sessionID

	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", assertion.Table, whereSQL)
	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertAuditRow,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertAuditRow,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertAuditRow,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for _, key := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[key]
		got, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertAuditRow,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertAuditRow,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for deterministic query generation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "1 = 1", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func formatFields(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valuesEqual compares a produced value with an expected one from YAML.
// Numbers compare by value whatever their Go type; SQLite's 0/1 compare
// equal to booleans; everything else uses reflect.DeepEqual.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if a, ok := toFloat(actual); ok {
		if e, ok := toFloat(expected); ok {
			return a == e
		}
		if e, ok := expected.(bool); ok {
			return (a != 0) == e
		}
		return false
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	return reflect.DeepEqual(actual, expected)
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

// AssertionContext provides the audit store for audit_row assertions.
type AssertionContext struct {
	Store     *store.Store
	Ctx       context.Context
	SessionID string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventContains:
			err = assertEventContains(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.Final, assertion)
		case AssertAuditRow:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: audit_row requires database context", i)
			} else {
				err = assertAuditRow(actx.Ctx, actx.Store, actx.SessionID, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
