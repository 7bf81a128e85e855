package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/reviewpc/internal/clock"
	"github.com/roach88/reviewpc/internal/config"
	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/images"
	"github.com/roach88/reviewpc/internal/logging"
	"github.com/roach88/reviewpc/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string

	// Clock and SessionIDs override the system clock and UUIDv7 session
	// IDs (for testing).
	Clock      clock.Clock
	SessionIDs engine.SessionIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive review session",
		Long: `Start a review session driven from standard input.

Each line is a reviewer key (n, m, enter, esc) or an operator command
(start, pause, resume, stop, size N, cycle on|off [seq], timeout SECS,
lag [SECS], popup, crash). "status" prints the status line and "quit"
ends the session. Every engine event is printed as it happens.

When --db (or audit.database in the config) is set, the session and its
events are recorded to that SQLite file.

Examples:
  reviewpc run --config review_pc.yaml
  reviewpc run --config review_pc.yaml --db audit.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to configuration file (defaults when empty)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (overrides audit.database)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Defaults()
		return &cfg, nil
	}
	return config.Load(path)
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logOpts := cfg.LogOptions()
	logOpts.Console = cmd.ErrOrStderr()
	logOpts.Verbose = opts.Verbose
	prevLogger := slog.Default()
	closeLog, err := logging.Setup(logOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() {
		slog.SetDefault(prevLogger)
		_ = closeLog()
	}()

	settings, err := cfg.Settings()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}
	imgs, err := images.Load(cfg.ImageDirs())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load images", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	ids := opts.SessionIDs
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}

	out := &console{w: cmd.OutOrStdout(), json: opts.Format == "json"}
	eng, err := engine.New(settings,
		engine.WithClock(clk),
		engine.WithSessionIDs(ids),
		engine.WithImages(imgs),
		engine.WithPresenter(out.Presenter()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Audit.Database
	}
	var rec *store.Recorder
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.WriteSession(ctx, eng.SessionID(), clk.Now(), settings.Fields()); err != nil {
			return WrapExitError(ExitCommandError, "failed to record session", err)
		}
		rec = store.NewRecorder(ctx, st, eng.SessionID())
		eng.Subscribe(rec.Handle)
		slog.Info("audit trail enabled", "db", dbPath, "session", eng.SessionID())
	}
	eng.Subscribe(out.Event)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
	}()

	if !out.json {
		out.printf("Review session %s. Type help for commands.\n", eng.SessionID())
	}

	loopErr := readInput(ctx, cmd, eng, out)

	eng.Stop()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	if loopErr != nil {
		return WrapExitError(ExitFailure, "input error", loopErr)
	}

	final := eng.Snapshot()
	if rec != nil && rec.Failures() > 0 {
		slog.Warn("audit writes failed", "count", rec.Failures())
	}
	if out.json {
		out.writeJSON(map[string]any{"session_ended": true, "final": snapshotMap(final)})
	} else {
		out.printf("Session ended: %s\n", final.Status())
	}
	return nil
}

// readInput feeds console lines to the engine until quit, end of input or
// cancellation.
func readInput(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, out *console) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = l
		}

		action, err := parseInput(line)
		if err != nil {
			out.Rejected(line, err)
			continue
		}
		switch {
		case action.quit:
			return nil
		case action.help:
			if !out.json {
				out.printf("%s\n", consoleHelp)
			}
		case action.status:
			snap, err := eng.Query(ctx)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			out.Status(snap)
		case action.event != nil:
			res, err := eng.Submit(ctx, *action.event)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("submit: %w", err)
			}
			if res.Err != nil {
				out.Rejected(line, res.Err)
			}
		}
	}
}
