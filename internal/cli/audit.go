package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/faultguard/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	DB    string
	Limit int
	Run   string // show one run's decisions instead of the run list
}

// AuditSummary is the audit command's result payload.
type AuditSummary struct {
	Runs      []store.Run      `json:"runs,omitempty"`
	Decisions []store.Decision `json:"decisions,omitempty"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect recorded protection and verification runs",
		Long: `Audit lists runs recorded with --audit-db, newest first. With --run it
shows that run's per-comparison protect/skip decisions instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite audit database path (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show decisions for one run id")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	db, err := store.Open(opts.DB)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeAudit, err.Error(), nil)
	}
	defer db.Close()

	summary := &AuditSummary{}
	if opts.Run != "" {
		decisions, err := db.Decisions(cmd.Context(), opts.Run)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeAudit, err.Error(), nil)
		}
		summary.Decisions = decisions
	} else {
		runs, err := db.ListRuns(cmd.Context(), opts.Limit)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeAudit, err.Error(), nil)
		}
		summary.Runs = runs
	}

	if formatter.Format == "json" {
		return formatter.JSON(summary)
	}
	outputAuditText(formatter, opts, summary)
	return nil
}

func outputAuditText(formatter *OutputFormatter, opts *AuditOptions, summary *AuditSummary) {
	if opts.Run != "" {
		fmt.Fprintf(formatter.Writer, "Decisions for run %s:\n", opts.Run)
		for _, d := range summary.Decisions {
			if d.Protected {
				fmt.Fprintf(formatter.Writer, "  %s: %%%s protected (score %d)\n", d.Function, d.Result, d.Score)
			} else {
				fmt.Fprintf(formatter.Writer, "  %s: %%%s skipped (%s, score %d)\n", d.Function, d.Result, d.SkipReason, d.Score)
			}
		}
		return
	}

	fmt.Fprintf(formatter.Writer, "Last %d run(s):\n", len(summary.Runs))
	for _, r := range summary.Runs {
		switch r.Kind {
		case "verify":
			verdict := "FAIL"
			if r.Passed.Valid && r.Passed.Int64 != 0 {
				verdict = "PASS"
			}
			fmt.Fprintf(formatter.Writer, "  %s  verify   %s  %s (%.1f%%)\n",
				r.ID, r.InputPath, verdict, r.OverheadPct.Float64)
		default:
			fmt.Fprintf(formatter.Writer, "  %s  protect  %s (threshold %d)\n",
				r.ID, r.InputPath, r.Threshold.Int64)
		}
	}
}
