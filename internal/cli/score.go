package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/faultguard/internal/depflow"
	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
	"github.com/roach88/faultguard/internal/scorer"
	"github.com/roach88/faultguard/internal/transformer"
)

// ScoreOptions holds flags for the score command.
type ScoreOptions struct {
	*RootOptions
	Threshold int
	Weights   string
	MaxDepth  int
}

// ScoreEntry is one comparison's rating and the decision protect would take.
type ScoreEntry struct {
	Function string       `json:"function"`
	Score    scorer.Score `json:"score"`
	Decision string       `json:"decision"` // "protect" or a skip reason
}

// ScoreSummary is the score command's result payload.
type ScoreSummary struct {
	Input     string       `json:"input"`
	Threshold int          `json:"threshold"`
	Entries   []ScoreEntry `json:"entries"`
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "score <input.ll>",
		Short: "Rate comparisons without transforming",
		Long: `Score rates every comparison in the input IR on the 0-100 criticality
scale and reports the decision a protect run would take, with the
contributing feature values. The input is never modified.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Threshold, "threshold", scorer.DefaultThreshold, "minimum score to protect (ties protect)")
	cmd.Flags().StringVar(&opts.Weights, "weights", "", "CUE weight file overriding scorer defaults")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "dependency chain depth bound (0 = default)")

	return cmd
}

func runScore(opts *ScoreOptions, inputPath string, cmd *cobra.Command) error {
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

	strategy := scorer.NewWeightedStrategy(cfg.Weights)
	builder := &depflow.Builder{MaxDepth: opts.MaxDepth}
	summary := &ScoreSummary{Input: inputPath, Threshold: cfg.Threshold}

	for _, fn := range m.Functions() {
		for _, b := range fn.Blocks {
			for _, id := range b.Instrs {
				cmpInst := fn.Instrs[id]
				if !cmpInst.IsComparison() {
					continue
				}
				chain := builder.Chain(fn, cmpInst)
				score := strategy.Score(fn, cmpInst, chain)

				decision := "protect"
				switch {
				case cmpInst.Synthetic:
					decision = string(transformer.SkipSynthetic)
				case verifyFed(fn, cmpInst):
					decision = string(transformer.SkipAlreadyProtected)
				case score.Value < cfg.Threshold:
					decision = string(transformer.SkipBelowThreshold)
				case chain.Truncated:
					decision = string(transformer.SkipChainDepth)
				case chain.TouchesOpaque:
					decision = string(transformer.SkipOpaqueChain)
				}
				summary.Entries = append(summary.Entries, ScoreEntry{
					Function: fn.Name,
					Score:    score,
					Decision: decision,
				})
			}
		}
	}

	if formatter.Format == "json" {
		return formatter.JSON(summary)
	}
	outputScoreText(formatter, summary)
	return nil
}

// verifyFed reports whether a verification compare already consumes the
// comparison's result, i.e. a protect run would skip it as already protected.
func verifyFed(fn *ir.Function, cmp *ir.Instruction) bool {
	want := "%" + cmp.Result
	for _, inst := range fn.Instrs {
		if !inst.IsComparison() || !strings.HasPrefix(inst.Result, ir.VerifyPrefix) {
			continue
		}
		for _, op := range inst.Operands {
			if op == want {
				return true
			}
		}
	}
	return false
}

func outputScoreText(formatter *OutputFormatter, summary *ScoreSummary) {
	fmt.Fprintf(formatter.Writer, "Scored %d comparison(s) at threshold %d\n\n",
		len(summary.Entries), summary.Threshold)

	for _, e := range summary.Entries {
		fmt.Fprintf(formatter.Writer, "  %s: %%%s = %d (%s)\n",
			e.Function, e.Score.Result, e.Score.Value, e.Decision)
		if !formatter.Verbose {
			continue
		}
		names := make([]string, 0, len(e.Score.Features))
		for name := range e.Score.Features {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(formatter.Writer, "      %s: %d\n", name, e.Score.Features[name])
		}
	}
}
