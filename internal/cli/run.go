package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	PolicyPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller until interrupted",
		Long: `Run the autonomic controller as a long-lived process.

Opens the audit trail and knowledge store from the configuration,
builds the controller, and executes scheduled cycles until SIGINT or
SIGTERM. Cycle failures back off and eventually pause the controller;
they never kill the process.

Example:
  autarch run --config ./autarch.yaml
  autarch run --config ./autarch.yaml --policy ./policy.cue --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runController(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to loop configuration YAML (defaults apply when omitted)")
	cmd.Flags().StringVar(&opts.PolicyPath, "policy", "", "path to CUE policy pack (stock thresholds when omitted)")

	return cmd
}

func runController(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	rt, err := buildRuntime(opts.ConfigPath, opts.PolicyPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build controller", err)
	}
	defer rt.Close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

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

	slog.Info("controller starting",
		"audit", rt.cfg.AuditPath, "knowledge", rt.cfg.KnowledgePath, "interval", rt.cfg.CycleInterval)
	fmt.Fprintln(cmd.OutOrStdout(), "Controller started. Running scheduled cycles.")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := rt.ctrl.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "controller error", err)
	}

	slog.Info("controller stopped gracefully")
	return nil
}
