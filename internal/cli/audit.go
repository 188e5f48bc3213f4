package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autarch/internal/audit"
)

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify audit trails",
	}

	cmd.AddCommand(newAuditVerifyCommand(rootOpts))
	cmd.AddCommand(newAuditShowCommand(rootOpts))

	return cmd
}

// AuditVerifyResult holds the outcome of trail verification.
type AuditVerifyResult struct {
	Entries    int    `json:"entries"`
	ChainValid bool   `json:"chain_valid"`
	BreakIndex int    `json:"break_index,omitempty"` // first broken link, 0-based
	Signatures string `json:"signatures"`            // "valid", "invalid", or "not_checked"
	SigIndex   int    `json:"signature_break_index,omitempty"`
}

// auditVerifyOptions holds flags for audit verify.
type auditVerifyOptions struct {
	*RootOptions
	File      string
	PublicKey string
}

func newAuditVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &auditVerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain and signatures of a trail file",
		Long: `Verify the integrity of an audit trail file.

Recomputes the hash chain over every entry; any edit, deletion, or
reordering breaks the chain at the tampered entry. With --public-key,
every entry's ed25519 signature is checked as well.

Exit codes:
  0 - Trail intact
  1 - Chain or signature broken
  2 - Command error (unreadable file, bad key)

Example:
  autarch audit verify --file ./autarch.audit.ndjson
  autarch audit verify --file ./autarch.audit.ndjson --public-key 9f3a...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "path to audit trail NDJSON file (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&opts.PublicKey, "public-key", "", "hex-encoded ed25519 public key for signature checks")

	return cmd
}

func runAuditVerify(opts *auditVerifyOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	entries, err := audit.ReadLog(opts.File)
	if err != nil {
		if ferr := formatter.Error(ErrCodeAudit, err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitCommandError, "failed to read audit log", err)
	}

	result := AuditVerifyResult{
		Entries:    len(entries),
		Signatures: "not_checked",
	}

	breakIdx, ok := audit.ChainValid(entries)
	result.ChainValid = ok
	if !ok {
		result.BreakIndex = breakIdx
	}

	if opts.PublicKey != "" {
		pub, err := audit.ParsePublicKey(opts.PublicKey)
		if err != nil {
			if ferr := formatter.Error(ErrCodeAudit, fmt.Sprintf("invalid public key: %v", err), nil); ferr != nil {
				return ferr
			}
			return WrapExitError(ExitCommandError, "invalid public key", err)
		}
		sigIdx, sigOK := audit.SignaturesValid(entries, pub)
		if sigOK {
			result.Signatures = "valid"
		} else {
			result.Signatures = "invalid"
			result.SigIndex = sigIdx
		}
	}

	tampered := !result.ChainValid || result.Signatures == "invalid"

	if opts.Format == "json" {
		status := CLIResponse{Status: "ok", Data: result}
		if tampered {
			status.Status = "error"
			status.Error = &CLIError{Code: ErrCodeTampered, Message: "audit trail verification failed"}
		}
		if err := writeJSON(cmd, status); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Entries: %d\n", result.Entries)
		if result.ChainValid {
			fmt.Fprintln(w, "Chain: valid")
		} else {
			fmt.Fprintf(w, "Chain: BROKEN at entry %d\n", result.BreakIndex)
		}
		switch result.Signatures {
		case "valid":
			fmt.Fprintln(w, "Signatures: valid")
		case "invalid":
			fmt.Fprintf(w, "Signatures: INVALID at entry %d\n", result.SigIndex)
		default:
			fmt.Fprintln(w, "Signatures: not checked (no --public-key)")
		}
	}

	if tampered {
		return NewExitError(ExitFailure, "audit trail verification failed")
	}
	return nil
}

// auditShowOptions holds flags for audit show.
type auditShowOptions struct {
	*RootOptions
	File  string
	Limit int
	Cycle uint64
}

func newAuditShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &auditShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recent trail entries",
		Long: `Show entries from an audit trail file, most recent last.

Example:
  autarch audit show --file ./autarch.audit.ndjson
  autarch audit show --file ./autarch.audit.ndjson --limit 50
  autarch audit show --file ./autarch.audit.ndjson --cycle 12 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "path to audit trail NDJSON file (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of most recent entries to show")
	cmd.Flags().Uint64Var(&opts.Cycle, "cycle", 0, "show only entries from this cycle number")

	return cmd
}

func runAuditShow(opts *auditShowOptions, cmd *cobra.Command) error {
	entries, err := audit.ReadLog(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit log", err)
	}

	if opts.Cycle != 0 {
		var filtered []audit.Entry
		for _, e := range entries {
			if e.CycleNumber == opts.Cycle {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	} else if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}

	if opts.Format == "json" {
		return writeJSON(cmd, CLIResponse{Status: "ok", Data: entries})
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s cycle=%d %s", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.CycleNumber, e.Event.Type)
		if e.Event.Trigger != "" {
			fmt.Fprintf(w, " trigger=%s", e.Event.Trigger)
		}
		if e.Event.SnapshotID != "" {
			fmt.Fprintf(w, " snapshot=%s", shortSnapshotID(e.Event.SnapshotID))
		}
		if e.Event.Reason != "" {
			fmt.Fprintf(w, " reason=%q", e.Event.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// shortSnapshotID abbreviates snapshot ids for terminal output.
func shortSnapshotID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
