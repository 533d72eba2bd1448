package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
	"github.com/roach88/faultguard/internal/scorer"
	"github.com/roach88/faultguard/internal/store"
	"github.com/roach88/faultguard/internal/transformer"
)

// ProtectOptions holds flags for the protect command.
type ProtectOptions struct {
	*RootOptions
	Output    string // protected IR output path; stdout when empty
	Threshold int
	Weights   string // CUE weight file path
	MaxDepth  int
	AuditDB   string // audit database path; no audit when empty
}

// ProtectSummary is the protect command's result payload.
type ProtectSummary struct {
	Input       string                         `json:"input"`
	Output      string                         `json:"output,omitempty"`
	Threshold   int                            `json:"threshold"`
	Comparisons int                            `json:"comparisons"`
	Protected   []string                       `json:"protected"`
	Skipped     []transformer.Skip             `json:"skipped"`
	RunID       string                         `json:"run_id,omitempty"`
	Records     []transformer.ProtectionRecord `json:"records,omitempty"`

	// ProtectedIR carries the emitted text when no --output path was given.
	ProtectedIR string `json:"protected_ir,omitempty"`
}

// NewProtectCommand creates the protect command.
func NewProtectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProtectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "protect <input.ll>",
		Short: "Insert fault-injection countermeasures into an IR file",
		Long: `Protect scores every comparison in the input IR, duplicates the data
flow feeding the ones at or above the threshold, inserts verification
compares, and rewires control flow through safe/fault block pairs.

The protected IR is written to --output (or stdout). Lines the pass
does not touch are emitted byte-identical to the input.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "protected IR output path (default stdout)")
	cmd.Flags().IntVar(&opts.Threshold, "threshold", scorer.DefaultThreshold, "minimum score to protect (ties protect)")
	cmd.Flags().StringVar(&opts.Weights, "weights", "", "CUE weight file overriding scorer defaults")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "dependency chain depth bound (0 = default)")
	cmd.Flags().StringVar(&opts.AuditDB, "audit-db", "", "SQLite audit database path")

	return cmd
}

func runProtect(opts *ProtectOptions, inputPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg := scorer.DefaultConfig()
	cfg.Threshold = opts.Threshold
	if opts.Weights != "" {
		loaded, err := scorer.LoadConfig(opts.Weights)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeWeights, err.Error(), nil)
		}
		cfg.Weights = loaded.Weights
		// An explicit --threshold flag beats the weight file's threshold.
		if !cmd.Flags().Changed("threshold") {
			cfg.Threshold = loaded.Threshold
		}
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeIO, fmt.Sprintf("reading %s: %v", inputPath, err), nil)
	}

	m, err := parser.Parse(string(data))
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeParse, err.Error(), nil)
	}
	formatter.VerboseLog("Parsed %d function(s), %d instruction(s)", len(m.Functions()), m.InstrCount())

	tr := &transformer.Transformer{
		Strategy:  scorer.NewWeightedStrategy(cfg.Weights),
		Threshold: cfg.Threshold,
		MaxDepth:  opts.MaxDepth,
	}
	res, err := tr.Protect(m)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodePass, err.Error(), nil)
	}

	output := ir.Emit(m)
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(output), 0644); err != nil {
			return fail(formatter, ExitCommandError, ErrCodeIO, fmt.Sprintf("writing %s: %v", opts.Output, err), nil)
		}
	}

	summary := buildProtectSummary(opts, inputPath, cfg.Threshold, res)

	if opts.AuditDB != "" {
		runID, err := recordProtectRun(cmd, opts, inputPath, cfg.Threshold, res)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeAudit, err.Error(), nil)
		}
		summary.RunID = runID
		formatter.VerboseLog("Audit run %s recorded in %s", runID, opts.AuditDB)
	}

	if formatter.Format == "json" {
		summary.Records = res.Protected
		if opts.Output == "" {
			summary.ProtectedIR = output
		}
		return formatter.JSON(summary)
	}
	return outputProtectText(formatter, summary, res, output, opts.Output == "")
}

func buildProtectSummary(opts *ProtectOptions, inputPath string, threshold int, res *transformer.Result) *ProtectSummary {
	summary := &ProtectSummary{
		Input:       inputPath,
		Output:      opts.Output,
		Threshold:   threshold,
		Comparisons: res.Comparisons,
		Skipped:     res.Skipped,
	}
	for _, rec := range res.Protected {
		summary.Protected = append(summary.Protected, rec.OriginalResult)
	}
	return summary
}

func recordProtectRun(cmd *cobra.Command, opts *ProtectOptions, inputPath string, threshold int, res *transformer.Result) (string, error) {
	db, err := store.Open(opts.AuditDB)
	if err != nil {
		return "", err
	}
	defer db.Close()
	return db.RecordProtection(cmd.Context(), inputPath, threshold, res)
}

func outputProtectText(formatter *OutputFormatter, summary *ProtectSummary, res *transformer.Result, output string, toStdout bool) error {
	// Without -o the protected IR itself is the stdout payload; the summary
	// moves to stderr so the output stays pipeable.
	w := formatter.Writer
	if toStdout {
		fmt.Fprint(formatter.Writer, output)
		w = formatter.ErrWriter
		if w == nil {
			return nil
		}
	}

	fmt.Fprintf(w, "✓ Protected %d of %d comparison(s) at threshold %d\n",
		len(summary.Protected), summary.Comparisons, summary.Threshold)
	for _, rec := range res.Protected {
		fmt.Fprintf(w, "  %s: %%%s (score %d) → verify %%%s, blocks %s/%s\n",
			rec.Function, rec.OriginalResult, rec.Score.Value,
			rec.VerifyResult, rec.SafeLabel, rec.FaultLabel)
	}
	for _, skip := range res.Skipped {
		fmt.Fprintf(w, "  %s: %%%s skipped (%s, score %d)\n",
			skip.Function, skip.Result, skip.Reason, skip.Score)
	}
	if summary.Output != "" {
		fmt.Fprintf(w, "Wrote protected IR to %s\n", summary.Output)
	}
	if summary.RunID != "" {
		fmt.Fprintf(w, "Audit run: %s\n", summary.RunID)
	}
	return nil
}
