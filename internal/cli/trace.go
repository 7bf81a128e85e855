package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reviewpc/internal/events"
	"github.com/roach88/reviewpc/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string   // defaults to the latest session
	Kinds    []string // optional event kind filter
	List     bool     // list sessions instead of events
}

// TraceEvent is one stored event in the timeline.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Kind   string         `json:"kind"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields"`
}

// TraceStats summarises a session's trail.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	LastState   string         `json:"last_state"`
	OpenBatch   int            `json:"open_batch,omitempty"`
	Finished    bool           `json:"finished"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID string         `json:"session_id"`
	StartedAt time.Time      `json:"started_at"`
	Settings  map[string]any `json:"settings"`
	Timeline  []TraceEvent   `json:"timeline"`
	Stats     TraceStats     `json:"stats"`
}

// SessionSummary is one row of trace --list.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Events    int       `json:"events"`
	LastState string    `json:"last_state"`
	Finished  bool      `json:"finished"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded events of a session",
		Long: `Show the event timeline recorded in an audit database.

Without --session the most recently started session is shown. --kind
limits the timeline to the given event kinds and may be repeated.
--list prints every recorded session and whether it finished cleanly.

Examples:
  reviewpc trace --db audit.db
  reviewpc trace --db audit.db --session 0190d5c2-... --kind timeout_expired
  reviewpc trace --db audit.db --list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session ID (default: latest)")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "filter to event kind (repeatable)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list sessions")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	kinds, err := parseKinds(opts.Kinds)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --kind", err)
	}

	st, err := openAuditStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.List {
		return listSessions(ctx, st, formatter)
	}

	sess, err := resolveSession(ctx, st, opts.Session)
	if err != nil {
		return err
	}

	records, err := st.ReadEvents(ctx, sess.ID, kinds...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	state, err := st.GetSessionState(ctx, sess.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session state", err)
	}

	result := TraceResult{
		SessionID: sess.ID,
		StartedAt: sess.StartedAt,
		Settings:  sess.Settings,
		Timeline:  make([]TraceEvent, 0, len(records)),
		Stats: TraceStats{
			TotalEvents: len(records),
			ByKind:      map[string]int{},
			LastState:   state.LastState,
			OpenBatch:   state.OpenBatch,
			Finished:    state.Finished(),
		},
	}
	for _, rec := range records {
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:    rec.Seq,
			Kind:   string(rec.Kind),
			At:     rec.At,
			Fields: rec.Fields,
		})
		result.Stats.ByKind[string(rec.Kind)]++
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result, SessionID: sess.ID})
	}
	outputTraceText(formatter, result)
	return nil
}

func outputTraceText(f *OutputFormatter, r TraceResult) {
	w := f.Writer
	fmt.Fprintf(w, "Session %s (started %s)\n", r.SessionID, r.StartedAt.Format(time.RFC3339))
	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No events recorded.")
	}
	for _, ev := range r.Timeline {
		offset := ev.At.Sub(r.StartedAt)
		fmt.Fprintf(w, "%9s  %s\n", fmt.Sprintf("+%.3fs", offset.Seconds()), eventLine(ev.Seq, ev.Kind, ev.Fields))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d", r.Stats.TotalEvents)
	for _, k := range sortedKeys(r.Stats.ByKind) {
		fmt.Fprintf(w, "  %s=%d", k, r.Stats.ByKind[k])
	}
	fmt.Fprintln(w)
	if r.Stats.Finished {
		fmt.Fprintf(w, "Finished in %s\n", r.Stats.LastState)
	} else if r.Stats.OpenBatch > 0 {
		fmt.Fprintf(w, "Unfinished: batch %d open, last state %s\n", r.Stats.OpenBatch, r.Stats.LastState)
	} else {
		fmt.Fprintf(w, "Unfinished: last state %s\n", r.Stats.LastState)
	}
}

func listSessions(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		state, err := st.GetSessionState(ctx, sess.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read session state", err)
		}
		summaries = append(summaries, SessionSummary{
			SessionID: sess.ID,
			StartedAt: sess.StartedAt,
			Events:    state.EventCount,
			LastState: state.LastState,
			Finished:  state.Finished(),
		})
	}

	if f.JSON() {
		return f.Encode(CLIResponse{Status: "ok", Data: summaries})
	}
	if len(summaries) == 0 {
		fmt.Fprintln(f.Writer, "No sessions recorded.")
		return nil
	}
	for _, s := range summaries {
		status := "finished"
		if !s.Finished {
			status = "unfinished"
		}
		fmt.Fprintf(f.Writer, "%s  %s  %4d events  %-14s %s\n",
			s.SessionID, s.StartedAt.Format(time.RFC3339), s.Events, s.LastState, status)
	}
	return nil
}

func parseKinds(names []string) ([]events.Kind, error) {
	kinds := make([]events.Kind, 0, len(names))
	for _, n := range names {
		k := events.Kind(n)
		if !slices.Contains(events.AllKinds, k) {
			return nil, fmt.Errorf("unknown event kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// openAuditStore opens an existing audit database.
func openAuditStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// resolveSession returns the named session, or the latest one when id is
// empty.
func resolveSession(ctx context.Context, st *store.Store, id string) (store.Session, error) {
	if id == "" {
		latest, err := st.LatestSession(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, NewExitError(ExitCommandError, "no sessions recorded")
		}
		if err != nil {
			return store.Session{}, WrapExitError(ExitCommandError, "failed to find latest session", err)
		}
		id = latest
	}
	sess, err := st.ReadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", id))
	}
	if err != nil {
		return store.Session{}, WrapExitError(ExitCommandError, "failed to read session", err)
	}
	return sess, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
