// Package scorer rates how attack-relevant each comparison is, on a 0-100
// scale. The default heuristic is a weighted feature sum with one override:
// a comparison gating the sole path to a constant "success" return - the
// authentication pattern - is the single highest-value target and scores the
// maximum outright.
//
// The exact weighting is deliberately a replaceable strategy: Strategy is an
// interface, WeightedStrategy is the documented default, and weights load
// from CUE configuration.
package scorer

import (
	"strings"

	"github.com/roach88/faultguard/internal/depflow"
	"github.com/roach88/faultguard/internal/ir"
)

const (
	// MaxScore is the score ceiling and the auth-gate override value.
	MaxScore = 100

	// DefaultThreshold is the protect-vs-skip boundary. Ties protect.
	DefaultThreshold = 50
)

// Feature names, reported per score for auditability.
const (
	FeatureFanOut     = "fan_out"
	FeatureBranchUse  = "branch_use"
	FeatureStoredUse  = "stored_use"
	FeatureChainDepth = "chain_depth"
	FeatureParamTaint = "param_taint"
	FeatureAuthGate   = "auth_gate"
	FeatureSynthetic  = "synthetic"
)

// Score is the criticality rating of one comparison, with the contributing
// feature values retained for audit output.
type Score struct {
	InstrID  int            `json:"instr_id"`
	Result   string         `json:"result"`
	Value    int            `json:"value"`
	Features map[string]int `json:"features"`
}

// Strategy computes a criticality score for a comparison given its
// dependency chain. Implementations must be deterministic over the same
// module.
type Strategy interface {
	Score(fn *ir.Function, cmp *ir.Instruction, chain *depflow.Chain) Score
}

// Weights parameterize WeightedStrategy. All values are integers in
// [0, 100]; score arithmetic never leaves the integers.
type Weights struct {
	// FanOutPerEdge scores each distinct control-flow successor gated by
	// the comparison, up to FanOutCap.
	FanOutPerEdge int `json:"fan_out_per_edge"`
	FanOutCap     int `json:"fan_out_cap"`

	// BranchUse scores a result consumed directly by a conditional branch;
	// StoredUse scores a result merely written to memory.
	BranchUse int `json:"branch_use"`
	StoredUse int `json:"stored_use"`

	// DepthPerLevel scores each level of the dependency chain, up to
	// DepthCap. Deeper chains mean more data flow worth shadowing.
	DepthPerLevel int `json:"depth_per_level"`
	DepthCap      int `json:"depth_cap"`

	// ParamTaint scores operands tracing back to function parameters -
	// the attacker-controlled surface. Constant-only chains add nothing.
	ParamTaint int `json:"param_taint"`
}

// DefaultWeights returns the documented default weighting.
func DefaultWeights() Weights {
	return Weights{
		FanOutPerEdge: 15,
		FanOutCap:     30,
		BranchUse:     20,
		StoredUse:     5,
		DepthPerLevel: 5,
		DepthCap:      20,
		ParamTaint:    30,
	}
}

// WeightedStrategy is the default Strategy.
type WeightedStrategy struct {
	W Weights
}

// NewWeightedStrategy creates the default strategy with the given weights.
func NewWeightedStrategy(w Weights) *WeightedStrategy {
	return &WeightedStrategy{W: w}
}

// Score implements Strategy.
func (s *WeightedStrategy) Score(fn *ir.Function, cmp *ir.Instruction, chain *depflow.Chain) Score {
	score := Score{
		InstrID:  cmp.ID,
		Result:   cmp.Result,
		Features: make(map[string]int),
	}

	// Synthetic comparisons are the protections themselves; scoring them
	// again would protect the protections forever.
	if cmp.Synthetic {
		score.Features[FeatureSynthetic] = 0
		return score
	}

	br := branchOn(fn, cmp.Result)
	if br != nil {
		fan := capAt(distinctLabels(br)*s.W.FanOutPerEdge, s.W.FanOutCap)
		score.Features[FeatureFanOut] = fan
		score.Features[FeatureBranchUse] = s.W.BranchUse
	} else if storedTo(fn, cmp.Result) {
		score.Features[FeatureStoredUse] = s.W.StoredUse
	}

	if chain.Depth > 0 {
		score.Features[FeatureChainDepth] = capAt(chain.Depth*s.W.DepthPerLevel, s.W.DepthCap)
	}
	if chain.TouchesParam {
		score.Features[FeatureParamTaint] = s.W.ParamTaint
	}

	if br != nil && authGate(fn, br) {
		score.Features[FeatureAuthGate] = MaxScore
		score.Value = MaxScore
		return score
	}

	total := 0
	for _, v := range score.Features {
		total += v
	}
	score.Value = capAt(total, MaxScore)
	return score
}

// branchOn returns the conditional branch consuming the given result, if any.
func branchOn(fn *ir.Function, result string) *ir.Instruction {
	want := "%" + result
	for _, inst := range fn.Instrs {
		if inst.Op == ir.OpBranch && len(inst.Operands) == 1 && inst.Operands[0] == want {
			return inst
		}
	}
	return nil
}

// storedTo reports whether the result is written to memory.
func storedTo(fn *ir.Function, result string) bool {
	want := "%" + result
	for _, inst := range fn.Instrs {
		if inst.Op == ir.OpStore && len(inst.Operands) == 2 && inst.Operands[0] == want {
			return true
		}
	}
	return false
}

// authGate reports whether the branch's two edges reach different constant
// outcomes - a decision gate in the authentication pattern, where flipping
// one comparison flips success into failure.
func authGate(fn *ir.Function, br *ir.Instruction) bool {
	if len(br.Labels) != 2 {
		return false
	}
	trueConst := pathConstant(fn, br.Labels[0], make(map[string]bool))
	falseConst := pathConstant(fn, br.Labels[1], make(map[string]bool))
	return trueConst != "" && falseConst != "" && trueConst != falseConst
}

// pathConstant walks a path of unconditional branches from label and returns
// the first constant outcome it finds: a constant return, or a constant
// stored to the function's result slot (the -O0 idiom for "return c").
// Returns "" when the path reaches no constant outcome.
func pathConstant(fn *ir.Function, label string, visited map[string]bool) string {
	if visited[label] {
		return ""
	}
	visited[label] = true

	b := fn.Block(label)
	if b == nil {
		return ""
	}
	for _, id := range b.Instrs {
		inst := fn.Instrs[id]
		switch inst.Op {
		case ir.OpReturn:
			if len(inst.Operands) == 1 && isConstant(inst.Operands[0]) {
				return inst.Operands[0]
			}
			return ""
		case ir.OpStore:
			if isConstant(inst.Operands[0]) {
				return inst.Operands[0]
			}
		case ir.OpBranch:
			if len(inst.Operands) == 0 && len(inst.Labels) == 1 {
				return pathConstant(fn, inst.Labels[0], visited)
			}
			return ""
		}
	}
	return ""
}

func isConstant(operand string) bool {
	return !strings.HasPrefix(operand, "%") && !strings.HasPrefix(operand, "@")
}

func capAt(v, cap_ int) int {
	if v > cap_ {
		return cap_
	}
	return v
}

// distinctLabels counts the branch's distinct successor labels.
func distinctLabels(br *ir.Instruction) int {
	seen := make(map[string]bool, len(br.Labels))
	for _, l := range br.Labels {
		seen[l] = true
	}
	return len(seen)
}
