package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/faultguard/internal/store"
	"github.com/roach88/faultguard/internal/verifier"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	MaxOverhead float64
	AuditDB     string
}

// VerifySummary is the verify command's result payload.
type VerifySummary struct {
	Before string           `json:"before"`
	After  string           `json:"after"`
	Report *verifier.Report `json:"report"`
	RunID  string           `json:"run_id,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <before.ll> <after.ll>",
		Short: "Check that inserted protections survived optimization",
		Long: `Verify counts protection markers (fault-handler calls, verification
compares, duplicate instructions) in both files. PASS requires every
category to survive with at least its pre-optimization count and the
instruction overhead to stay within the ceiling.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.MaxOverhead, "max-overhead", verifier.DefaultMaxOverheadPct, "overhead ceiling in percent")
	cmd.Flags().StringVar(&opts.AuditDB, "audit-db", "", "SQLite audit database path")

	return cmd
}

func runVerify(opts *VerifyOptions, beforePath, afterPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	beforeData, err := os.ReadFile(beforePath)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeIO, fmt.Sprintf("reading %s: %v", beforePath, err), nil)
	}
	afterData, err := os.ReadFile(afterPath)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeIO, fmt.Sprintf("reading %s: %v", afterPath, err), nil)
	}

	engine := &verifier.Engine{MaxOverheadPct: opts.MaxOverhead}
	report, err := engine.Compare(string(beforeData), string(afterData))
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeParse, err.Error(), nil)
	}

	summary := &VerifySummary{Before: beforePath, After: afterPath, Report: report}

	if opts.AuditDB != "" {
		db, err := store.Open(opts.AuditDB)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeAudit, err.Error(), nil)
		}
		defer db.Close()
		runID, err := db.RecordVerification(cmd.Context(), afterPath, report)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeAudit, err.Error(), nil)
		}
		summary.RunID = runID
		formatter.VerboseLog("Audit run %s recorded in %s", runID, opts.AuditDB)
	}

	if formatter.Format == "json" {
		if err := formatter.JSON(summary); err != nil {
			return err
		}
	} else {
		outputVerifyText(formatter, summary)
	}

	if !report.Pass {
		return NewExitError(ExitFailure, "verification failed")
	}
	return nil
}

func outputVerifyText(formatter *OutputFormatter, summary *VerifySummary) {
	report := summary.Report
	if report.Pass {
		fmt.Fprintln(formatter.Writer, "✓ PASS: protections survived")
	} else {
		fmt.Fprintln(formatter.Writer, "✗ FAIL: protections did not survive")
	}
	fmt.Fprintln(formatter.Writer)

	for _, c := range report.Categories {
		fmt.Fprintf(formatter.Writer, "  %-21s %d → %d\n", c.Name+":", c.Before, c.After)
	}
	fmt.Fprintf(formatter.Writer, "  %-21s %d → %d (%.1f%%, ceiling %.1f%%)\n",
		"instructions:", report.InstrBefore, report.InstrAfter,
		report.OverheadPct, report.MaxOverhead)

	if len(report.Missing) > 0 {
		fmt.Fprintln(formatter.Writer)
		for _, m := range report.Missing {
			fmt.Fprintf(formatter.Writer, "  ✗ %s\n", m)
		}
	}
	if summary.RunID != "" {
		fmt.Fprintf(formatter.Writer, "\nAudit run: %s\n", summary.RunID)
	}
}
