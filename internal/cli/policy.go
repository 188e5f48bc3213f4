package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autarch/internal/invariant"
	"github.com/roach88/autarch/internal/policy"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and inspect invariant policy packs",
	}

	cmd.AddCommand(newPolicyValidateCommand(rootOpts))
	cmd.AddCommand(newPolicyShowCommand(rootOpts))

	return cmd
}

// policyOptions holds flags shared by the policy subcommands.
type policyOptions struct {
	*RootOptions
	PolicyPath string
}

func newPolicyValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &policyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile a CUE policy pack and report errors",
		Long: `Compile a CUE policy pack against the threshold schema.

Checks syntax, types, and the bounds each threshold must satisfy
(rates in [0,1], positive durations, nonzero tick budget).

Exit codes:
  0 - Policy pack compiles
  1 - Compilation or bounds failure
  2 - Command error (unreadable file)

Example:
  autarch policy validate --policy ./policy.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PolicyPath, "policy", "", "path to CUE policy pack (required)")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func runPolicyValidate(opts *policyOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pol, err := policy.LoadPolicyFile(opts.PolicyPath)
	if err != nil {
		var cerr *policy.CompileError
		if errors.As(err, &cerr) {
			if ferr := formatter.Error(ErrCodePolicy, cerr.Error(), map[string]string{
				"field": cerr.Field,
			}); ferr != nil {
				return ferr
			}
			return NewExitError(ExitFailure, "policy pack invalid")
		}
		if ferr := formatter.Error(ErrCodePolicy, err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitCommandError, "failed to load policy pack", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd, CLIResponse{Status: "ok", Data: policyView(*pol)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Policy pack valid.")
	printPolicy(cmd, *pol)
	return nil
}

func newPolicyShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &policyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective invariant thresholds",
		Long: `Show the thresholds the validator will enforce.

Without --policy this prints the stock production thresholds; with it,
the thresholds after applying the pack.

Example:
  autarch policy show
  autarch policy show --policy ./policy.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PolicyPath, "policy", "", "path to CUE policy pack (stock thresholds when omitted)")

	return cmd
}

func runPolicyShow(opts *policyOptions, cmd *cobra.Command) error {
	pol := invariant.DefaultPolicy()
	if opts.PolicyPath != "" {
		loaded, err := policy.LoadPolicyFile(opts.PolicyPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policy pack", err)
		}
		pol = *loaded
	}

	if opts.Format == "json" {
		return writeJSON(cmd, CLIResponse{Status: "ok", Data: policyView(pol)})
	}
	printPolicy(cmd, pol)
	return nil
}

// policyView renders a policy with human-readable durations for JSON.
func policyView(p invariant.Policy) map[string]any {
	return map[string]any{
		"max_violation_rate": p.MaxViolationRate,
		"tick_budget":        p.TickBudget,
		"max_warm_latency":   p.MaxWarmLatency.String(),
		"max_memory_bytes":   p.MaxMemoryBytes,
		"max_cpu_percent":    p.MaxCPUPercent,
		"max_tail_latency":   p.MaxTailLatency.String(),
	}
}

func printPolicy(cmd *cobra.Command, p invariant.Policy) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "max_violation_rate: %g\n", p.MaxViolationRate)
	fmt.Fprintf(w, "tick_budget:        %d\n", p.TickBudget)
	fmt.Fprintf(w, "max_warm_latency:   %s\n", p.MaxWarmLatency)
	fmt.Fprintf(w, "max_memory_bytes:   %d\n", p.MaxMemoryBytes)
	fmt.Fprintf(w, "max_cpu_percent:    %g\n", p.MaxCPUPercent)
	fmt.Fprintf(w, "max_tail_latency:   %s\n", p.MaxTailLatency)
}
