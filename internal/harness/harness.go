package harness

import (
	"fmt"
	"os"

	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
	"github.com/roach88/faultguard/internal/scorer"
	"github.com/roach88/faultguard/internal/transformer"
	"github.com/roach88/faultguard/internal/verifier"
)

// Result captures one scenario execution.
type Result struct {
	// Input is the fixture text as read.
	Input string

	// Output is the emitted protected IR.
	Output string

	// Pass is the transformer's summary.
	Pass *transformer.Result

	// Report compares input against output, for overhead expectations.
	Report *verifier.Report
}

// Run executes the full pipeline for a scenario: parse, score, transform,
// emit, then measure input-vs-output with the verifier.
func Run(s *Scenario) (*Result, error) {
	data, err := os.ReadFile(s.InputPath())
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	input := string(data)

	m, err := parser.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	threshold := s.Threshold
	if threshold == 0 {
		threshold = scorer.DefaultThreshold
	}
	tr := transformer.New(scorer.NewWeightedStrategy(scorer.DefaultWeights()), threshold)
	pass, err := tr.Protect(m)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	output := ir.Emit(m)

	report, err := verifier.NewEngine().Compare(input, output)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	return &Result{Input: input, Output: output, Pass: pass, Report: report}, nil
}

// Check validates the result against the scenario's expectations, returning
// every violation rather than stopping at the first.
func (s *Scenario) Check(res *Result) []error {
	var errs []error

	var protected []string
	for _, rec := range res.Pass.Protected {
		protected = append(protected, rec.OriginalResult)
	}
	if !equalStrings(protected, s.Expect.Protected) {
		errs = append(errs, fmt.Errorf("scenario %s: protected %v, want %v", s.Name, protected, s.Expect.Protected))
	}

	skipped := make(map[string]string, len(res.Pass.Skipped))
	for _, skip := range res.Pass.Skipped {
		skipped[skip.Result] = string(skip.Reason)
	}
	for result, reason := range s.Expect.Skipped {
		got, ok := skipped[result]
		if !ok {
			errs = append(errs, fmt.Errorf("scenario %s: %%%s was not skipped", s.Name, result))
			continue
		}
		if got != reason {
			errs = append(errs, fmt.Errorf("scenario %s: %%%s skipped for %q, want %q", s.Name, result, got, reason))
		}
	}

	if s.Expect.OverheadPct != 0 && res.Report.OverheadPct != s.Expect.OverheadPct {
		errs = append(errs, fmt.Errorf("scenario %s: overhead %.1f%%, want %.1f%%", s.Name, res.Report.OverheadPct, s.Expect.OverheadPct))
	}
	return errs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
