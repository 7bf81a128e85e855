package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reviewpc/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Session  string
}

// ReportBatch is one closed batch in the report.
type ReportBatch struct {
	Batch    int       `json:"batch"`
	Size     int       `json:"size"`
	Outcome  string    `json:"outcome"`
	OK       int       `json:"ok"`
	NG       int       `json:"ng"`
	Timeouts int       `json:"timeouts"`
	ClosedAt time.Time `json:"closed_at"`
}

// ReportResult is the report command's output.
type ReportResult struct {
	SessionID string        `json:"session_id"`
	Batches   []ReportBatch `json:"batches"`
	Confirmed int           `json:"confirmed"`
	Cancelled int           `json:"cancelled"`
	Stopped   int           `json:"stopped"`
	OK        int           `json:"ok"`
	NG        int           `json:"ng"`
	Timeouts  int           `json:"timeouts"`
	Judged    int           `json:"judged"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise batch outcomes of a session",
		Long: `Summarise the batches closed in a recorded session.

Each batch is listed with its outcome (confirmed, cancelled or stopped)
and its OK/NG/timeout tallies, followed by session totals.

Examples:
  reviewpc report --db audit.db
  reviewpc report --db audit.db --session 0190d5c2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session ID (default: latest)")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openAuditStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := resolveSession(ctx, st, opts.Session)
	if err != nil {
		return err
	}
	report, err := st.BuildReport(ctx, sess.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build report", err)
	}
	result := toReportResult(report)

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result, SessionID: sess.ID})
	}
	outputReportText(formatter, result)
	return nil
}

func toReportResult(r store.Report) ReportResult {
	out := ReportResult{
		SessionID: r.SessionID,
		Batches:   make([]ReportBatch, 0, len(r.Batches)),
		Confirmed: r.Confirmed,
		Cancelled: r.Cancelled,
		Stopped:   r.Stopped,
		OK:        r.OK,
		NG:        r.NG,
		Timeouts:  r.Timeouts,
		Judged:    r.Judged(),
	}
	for _, b := range r.Batches {
		out.Batches = append(out.Batches, ReportBatch{
			Batch:    b.Batch,
			Size:     b.Size,
			Outcome:  b.Outcome,
			OK:       b.OK,
			NG:       b.NG,
			Timeouts: b.Timeouts,
			ClosedAt: b.ClosedAt,
		})
	}
	return out
}

func outputReportText(f *OutputFormatter, r ReportResult) {
	w := f.Writer
	fmt.Fprintf(w, "Session %s\n", r.SessionID)
	if len(r.Batches) == 0 {
		fmt.Fprintln(w, "No batches closed.")
		return
	}

	fmt.Fprintf(w, "%-6s %-5s %-10s %4s %4s %8s\n", "BATCH", "SIZE", "OUTCOME", "OK", "NG", "TIMEOUTS")
	for _, b := range r.Batches {
		fmt.Fprintf(w, "%-6d %-5d %-10s %4d %4d %8d\n", b.Batch, b.Size, b.Outcome, b.OK, b.NG, b.Timeouts)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Batches: %d confirmed, %d cancelled, %d stopped\n", r.Confirmed, r.Cancelled, r.Stopped)
	fmt.Fprintf(w, "Images:  %d judged, OK:%d NG:%d (%d timed out)\n", r.Judged, r.OK, r.NG, r.Timeouts)
}
