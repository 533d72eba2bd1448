// Package verifier decides whether inserted protections survived an external
// optimizer. It parses the pre- and post-optimization texts structurally (no
// regex scanning) and compares per-category marker counts: an optimizer that
// eliminated a fault-handler call or a shadow computation as dead code has
// reopened exactly the vulnerability the duplication scheme defends against.
package verifier

import (
	"fmt"
	"strings"

	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
)

// DefaultMaxOverheadPct is the default ceiling on instruction-count growth.
const DefaultMaxOverheadPct = 100.0

// Marker categories, in report order.
const (
	CategoryFaultHandler = "fault-handler"
	CategoryVerification = "verification-compare"
	CategoryDuplicate    = "duplicate"
)

// State tracks the engine through its lifecycle. Decided states are
// terminal.
type State string

const (
	StatePending      State = "Pending"
	StateParsedBefore State = "ParsedBefore"
	StateParsedAfter  State = "ParsedAfter"
	StateCounted      State = "Counted"
	StateDecidedPass  State = "Decided:Pass"
	StateDecidedFail  State = "Decided:Fail"
)

// CategoryCount is one marker category's before/after census.
type CategoryCount struct {
	Name   string `json:"name"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// Report is the verification verdict with its supporting counts.
type Report struct {
	Categories  []CategoryCount `json:"categories"`
	InstrBefore int             `json:"instr_before"`
	InstrAfter  int             `json:"instr_after"`
	OverheadPct float64         `json:"overhead_pct"`
	MaxOverhead float64         `json:"max_overhead_pct"`
	Pass        bool            `json:"pass"`

	// Missing lists the categories whose markers did not survive, e.g.
	// "fault-handler eliminated".
	Missing []string `json:"missing,omitempty"`
}

// Engine compares two module texts. It is a pure function over immutable
// inputs; the state field exists for observability of the decision
// lifecycle, not for reuse - create a fresh Engine per comparison.
type Engine struct {
	// MaxOverheadPct caps acceptable instruction-count growth;
	// DefaultMaxOverheadPct when zero. Negative growth always passes the
	// ceiling.
	MaxOverheadPct float64

	state State
}

// NewEngine creates an engine with the default overhead ceiling.
func NewEngine() *Engine {
	return &Engine{MaxOverheadPct: DefaultMaxOverheadPct, state: StatePending}
}

// State returns the engine's lifecycle state.
func (e *Engine) State() State {
	if e.state == "" {
		return StatePending
	}
	return e.state
}

// Compare parses both texts, counts protection markers per category, and
// decides the verdict. PASS requires every category's after-count to be at
// least its before-count and the overhead to stay within the ceiling.
func (e *Engine) Compare(beforeText, afterText string) (*Report, error) {
	before, err := parser.Parse(beforeText)
	if err != nil {
		return nil, fmt.Errorf("parsing pre-optimization IR: %w", err)
	}
	e.state = StateParsedBefore

	after, err := parser.Parse(afterText)
	if err != nil {
		return nil, fmt.Errorf("parsing post-optimization IR: %w", err)
	}
	e.state = StateParsedAfter

	b := census(before)
	a := census(after)
	e.state = StateCounted

	ceiling := e.MaxOverheadPct
	if ceiling == 0 {
		ceiling = DefaultMaxOverheadPct
	}
	report := &Report{
		Categories: []CategoryCount{
			{Name: CategoryFaultHandler, Before: b.faultCalls, After: a.faultCalls},
			{Name: CategoryVerification, Before: b.verifies, After: a.verifies},
			{Name: CategoryDuplicate, Before: b.duplicates, After: a.duplicates},
		},
		InstrBefore: b.instrs,
		InstrAfter:  a.instrs,
		MaxOverhead: ceiling,
	}
	if b.instrs > 0 {
		report.OverheadPct = float64(a.instrs-b.instrs) / float64(b.instrs) * 100
	}

	report.Pass = true
	for _, c := range report.Categories {
		if c.After >= c.Before {
			continue
		}
		report.Pass = false
		if c.After == 0 {
			report.Missing = append(report.Missing, fmt.Sprintf("%s eliminated", c.Name))
		} else {
			report.Missing = append(report.Missing, fmt.Sprintf("%s reduced (%d → %d)", c.Name, c.Before, c.After))
		}
	}
	if report.OverheadPct > ceiling {
		report.Pass = false
		report.Missing = append(report.Missing,
			fmt.Sprintf("overhead %.1f%% exceeds ceiling %.1f%%", report.OverheadPct, ceiling))
	}

	if report.Pass {
		e.state = StateDecidedPass
	} else {
		e.state = StateDecidedFail
	}
	return report, nil
}

type counts struct {
	faultCalls int
	verifies   int
	duplicates int
	instrs     int
}

// census walks the module structurally and counts protection markers:
// fault-handler call sites, distinct verification compares, and distinct
// duplicate (shadow) instructions.
func census(m *ir.Module) counts {
	var c counts
	for _, fn := range m.Functions() {
		for _, b := range fn.Blocks {
			for _, id := range b.Instrs {
				inst := fn.Instrs[id]
				if inst.IsComment() {
					continue
				}
				c.instrs++
				switch {
				case inst.Op == ir.OpCall && inst.Callee == ir.FaultHandler:
					c.faultCalls++
				case strings.HasPrefix(inst.Result, ir.VerifyPrefix):
					c.verifies++
				case strings.HasPrefix(inst.Result, ir.DupPrefix):
					c.duplicates++
				}
			}
		}
	}
	return c
}
