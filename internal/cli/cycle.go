package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/loop"
)

// CycleOptions holds flags for the cycle command.
type CycleOptions struct {
	*RootOptions
	ConfigPath string
	PolicyPath string
}

// NewCycleCommand creates the cycle command.
func NewCycleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CycleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Execute one manual cycle",
		Long: `Execute exactly one cycle under the manual trigger and exit.

The cycle appends to the configured audit trail and knowledge store,
so manual cycles interleave cleanly with a scheduled controller's
history.

Exit codes:
  0 - Cycle completed (including the quiet no-anomalies path)
  1 - Cycle aborted on a step failure
  2 - Command error (unreadable config, store failure)

Example:
  autarch cycle --config ./autarch.yaml
  autarch cycle --config ./autarch.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneCycle(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to loop configuration YAML (defaults apply when omitted)")
	cmd.Flags().StringVar(&opts.PolicyPath, "policy", "", "path to CUE policy pack (stock thresholds when omitted)")

	return cmd
}

func runOneCycle(opts *CycleOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rt, err := buildRuntime(opts.ConfigPath, opts.PolicyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build controller", err)
	}
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fc, err := rt.ctrl.RunCycle(ctx, audit.TriggerManual)
	if err != nil {
		// The aborted cycle record still describes what happened.
		if fc != nil {
			if ferr := outputCycle(formatter, fc); ferr != nil {
				return ferr
			}
		}
		return WrapExitError(ExitFailure, "cycle failed", err)
	}

	return outputCycle(formatter, fc)
}

// outputCycle renders one cycle record in the configured format.
func outputCycle(f *OutputFormatter, fc *loop.FeedbackCycle) error {
	if f.Format == "json" {
		return f.Success(fc)
	}

	w := f.Writer
	fmt.Fprintf(w, "Cycle %d: %s\n", fc.CycleNumber, fc.Outcome)
	fmt.Fprintf(w, "  Token:    %s\n", fc.Token)
	fmt.Fprintf(w, "  Trigger:  %s\n", fc.Trigger)
	fmt.Fprintf(w, "  Patterns: %d\n", fc.PatternsDetected)
	if fc.SnapshotID != "" {
		fmt.Fprintf(w, "  Snapshot: %s\n", fc.SnapshotID)
	}
	if fc.FailedStep != "" {
		fmt.Fprintf(w, "  Failed:   %s (%s)\n", fc.FailedStep, fc.Error)
	}
	fmt.Fprintf(w, "  Duration: %s\n", fc.Duration)
	return nil
}
