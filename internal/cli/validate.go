package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                     `json:"valid"`
	File     string                   `json:"file"`
	Errors   []config.ValidationError `json:"errors,omitempty"`
	Settings map[string]any           `json:"settings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a configuration file",
		Long: `Validate a Review PC configuration file without starting a session.

Unknown keys, out-of-range values and malformed cycling sequences are
reported. On success the effective startup settings are shown.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	formatter.VerboseLog("validating %s (%d bytes)", path, len(data))

	cfg, err := config.Parse(data)
	if err != nil {
		return outputValidationErrors(formatter, path, toValidationErrors(err))
	}
	settings, err := cfg.Settings()
	if err != nil {
		return outputValidationErrors(formatter, path, toValidationErrors(err))
	}

	result := ValidationResult{Valid: true, File: path, Settings: settings.Fields()}
	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", path)
	if opts.Verbose {
		for _, k := range sortedKeys(result.Settings) {
			fmt.Fprintf(formatter.Writer, "  %s: %v\n", k, result.Settings[k])
		}
	}
	return nil
}

// toValidationErrors flattens the error kinds config.Parse returns.
func toValidationErrors(err error) []config.ValidationError {
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	var cerr *batch.ConfigError
	if errors.As(err, &cerr) {
		return []config.ValidationError{{Field: "batch.cycling_sequence", Message: cerr.Error()}}
	}
	return []config.ValidationError{{Message: err.Error()}}
}

func outputValidationErrors(f *OutputFormatter, path string, errs []config.ValidationError) error {
	if f.JSON() {
		if err := f.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, File: path, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeConfigInvalid,
				Message: fmt.Sprintf("%d validation error(s)", len(errs)),
			},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "✗ %s is invalid\n", path)
		for _, e := range errs {
			fmt.Fprintf(f.Writer, "  %s\n", e.Error())
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s: %d validation error(s)", path, len(errs)))
}
