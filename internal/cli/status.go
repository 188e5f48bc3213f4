package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autarch/internal/audit"
	"github.com/roach88/autarch/internal/knowledge"
	"github.com/roach88/autarch/internal/loop"
	"github.com/roach88/autarch/internal/policy"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	ConfigPath string
}

// AuditStatus summarizes the audit trail for status reporting.
type AuditStatus struct {
	Path       string `json:"path"`
	Entries    int    `json:"entries"`
	LastCycle  uint64 `json:"last_cycle"`
	LastEvent  string `json:"last_event,omitempty"`
	LastAt     string `json:"last_at,omitempty"`
	ChainValid bool   `json:"chain_valid"`
}

// StatusReport is the aggregate status payload.
type StatusReport struct {
	Audit     AuditStatus       `json:"audit"`
	Knowledge knowledge.Summary `json:"knowledge"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the audit trail and knowledge base",
		Long: `Summarize the state recorded by past controller runs.

Reads the audit trail and knowledge store named in the configuration
and reports entry counts, the last recorded cycle, chain integrity,
and per-outcome cycle totals.

Example:
  autarch status --config ./autarch.yaml
  autarch status --config ./autarch.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to loop configuration YAML (defaults apply when omitted)")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	cfg := loop.DefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := policy.LoadConfig(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = *loaded
	}

	entries, err := audit.ReadLog(cfg.AuditPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit log", err)
	}

	report := StatusReport{
		Audit: AuditStatus{
			Path:    cfg.AuditPath,
			Entries: len(entries),
		},
	}
	_, report.Audit.ChainValid = audit.ChainValid(entries)
	if n := len(entries); n > 0 {
		last := entries[n-1]
		report.Audit.LastCycle = last.CycleNumber
		report.Audit.LastEvent = string(last.Event.Type)
		report.Audit.LastAt = last.Timestamp.UTC().Format(time.RFC3339)
	}

	store, err := knowledge.Open(cfg.KnowledgePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open knowledge store", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	summary, err := store.Summarize(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarize knowledge store", err)
	}
	report.Knowledge = summary

	if opts.Format == "json" {
		return writeJSON(cmd, CLIResponse{Status: "ok", Data: report})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Audit trail: %s\n", report.Audit.Path)
	fmt.Fprintf(w, "  Entries:  %d\n", report.Audit.Entries)
	if report.Audit.Entries > 0 {
		fmt.Fprintf(w, "  Last:     cycle %d, %s at %s\n",
			report.Audit.LastCycle, report.Audit.LastEvent, report.Audit.LastAt)
	}
	if report.Audit.ChainValid {
		fmt.Fprintln(w, "  Chain:    valid")
	} else {
		fmt.Fprintln(w, "  Chain:    BROKEN")
	}
	fmt.Fprintf(w, "Knowledge base: %d cycles, %d action outcomes\n",
		report.Knowledge.Cycles, report.Knowledge.Actions)
	outcomes := make([]string, 0, len(report.Knowledge.Outcomes))
	for outcome := range report.Knowledge.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "  %-16s %d\n", outcome+":", report.Knowledge.Outcomes[outcome])
	}
	return nil
}
