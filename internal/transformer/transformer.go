// Package transformer applies the fault-injection countermeasure to a parsed
// module: for every comparison scoring at or above the threshold it clones
// the dependency chain, inserts a verification compare of original against
// shadow, and rewires control flow through a safe/fault block pair so a
// detected mismatch traps in a non-returning fault handler.
//
// The transformation is append-only: instructions are never deleted or
// reordered, only added and rewired. Every inserted instruction is marked
// synthetic (and carries marker names) so later passes never re-protect the
// protections. Unprotectable comparisons are skipped with a recorded reason;
// the transformer always emits a best-effort module.
package transformer

import (
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/faultguard/internal/depflow"
	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/scorer"
)

// Stage tracks a protection through its state machine. A record below
// StageDone indicates where an invariant violation aborted the pass.
type Stage string

const (
	StageIdentified           Stage = "Identified"
	StageChainCloned          Stage = "ChainCloned"
	StageDuplicateInserted    Stage = "DuplicateInserted"
	StageVerificationInserted Stage = "VerificationInserted"
	StageControlFlowRewired   Stage = "ControlFlowRewired"
	StageDone                 Stage = "Done"
)

// SkipReason explains why a comparison was left unprotected.
type SkipReason string

const (
	// SkipSynthetic marks a comparison the transformer itself inserted.
	SkipSynthetic SkipReason = "already-synthetic"

	// SkipOpaqueChain marks a dependency chain reaching an instruction
	// with unknown side effects (a call, a store, an opaque construct).
	SkipOpaqueChain SkipReason = "chain-touches-opaque"

	// SkipChainDepth marks a chain that hit the traversal depth bound.
	SkipChainDepth SkipReason = "chain-depth-exceeded"

	// SkipBelowThreshold marks a score under the protect threshold.
	SkipBelowThreshold SkipReason = "below-threshold"

	// SkipAlreadyProtected marks a comparison whose result already feeds a
	// verification compare: protected output was re-ingested.
	SkipAlreadyProtected SkipReason = "already-protected"
)

// Skip records one unprotected comparison and why.
type Skip struct {
	Function string     `json:"function"`
	InstrID  int        `json:"instr_id"`
	Result   string     `json:"result"`
	Score    int        `json:"score"`
	Reason   SkipReason `json:"reason"`
}

// ProtectionRecord describes one completed (or aborted) protection.
type ProtectionRecord struct {
	Function        string       `json:"function"`
	OriginalID      int          `json:"original_id"`
	OriginalResult  string       `json:"original_result"`
	DuplicateResult string       `json:"duplicate_result"`
	VerifyResult    string       `json:"verify_result"`
	SafeLabel       string       `json:"safe_label"`
	FaultLabel      string       `json:"fault_label"`
	ClonedMembers   []string     `json:"cloned_members,omitempty"`
	Score           scorer.Score `json:"score"`
	Stage           Stage        `json:"stage"`
}

// Result summarizes a protection pass over one module.
type Result struct {
	// Comparisons is the number of non-synthetic comparisons examined.
	Comparisons int `json:"comparisons"`

	// Protected lists completed protections in module order.
	Protected []ProtectionRecord `json:"protected"`

	// Skipped lists unprotected comparisons with reasons, in module order.
	Skipped []Skip `json:"skipped"`

	// Scores lists every examined comparison's score, in module order.
	Scores []scorer.Score `json:"scores"`
}

// Transformer runs the protection pass. The zero value is not usable; use
// New.
type Transformer struct {
	// Strategy scores comparisons; defaults to the weighted default.
	Strategy scorer.Strategy

	// Threshold is the protect-vs-skip boundary; ties protect.
	Threshold int

	// MaxDepth bounds dependency traversal; depflow.DefaultMaxDepth when 0.
	MaxDepth int

	// Workers caps parallel per-function transformation; GOMAXPROCS when 0.
	// Functions share no mutable state besides the name allocator, so they
	// transform independently with a join barrier before emission.
	Workers int
}

// New creates a Transformer with the given strategy and threshold.
func New(strategy scorer.Strategy, threshold int) *Transformer {
	return &Transformer{Strategy: strategy, Threshold: threshold}
}

// Protect mutates m in place, protecting every comparison that scores at or
// above the threshold, and returns the pass summary. The module is always
// left in a consistent, emittable state on success.
func (t *Transformer) Protect(m *ir.Module) (*Result, error) {
	strategy := t.Strategy
	if strategy == nil {
		strategy = scorer.NewWeightedStrategy(scorer.DefaultWeights())
	}

	alloc := ir.NewNameAllocator()
	alloc.SeedFrom(m)

	fns := m.Functions()
	perFn := make([]*Result, len(fns))

	workers := t.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			res, err := t.protectFunction(fn, strategy, alloc)
			perFn[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in declaration order so the summary is deterministic regardless
	// of worker scheduling.
	out := &Result{}
	for _, res := range perFn {
		out.Comparisons += res.Comparisons
		out.Protected = append(out.Protected, res.Protected...)
		out.Skipped = append(out.Skipped, res.Skipped...)
		out.Scores = append(out.Scores, res.Scores...)
	}

	// The handler declaration is inserted after the join barrier: module
	// items are shared state the workers must not touch.
	if len(out.Protected) > 0 {
		m.EnsureDeclaration(ir.FaultHandlerDecl)
	}
	return out, nil
}

// protectFunction handles one function sequentially. Insertion and rewiring
// within a function are order-dependent and must not run concurrently;
// comparisons are processed in program order, which also serializes any
// comparisons sharing chain members.
func (t *Transformer) protectFunction(fn *ir.Function, strategy scorer.Strategy, alloc *ir.NameAllocator) (*Result, error) {
	res := &Result{}
	builder := &depflow.Builder{MaxDepth: t.MaxDepth}

	// Snapshot the comparisons before mutating: the pass appends to the
	// blocks it walks.
	var cmps []*ir.Instruction
	for _, b := range fn.Blocks {
		for _, id := range b.Instrs {
			if inst := fn.Instrs[id]; inst.IsComparison() {
				cmps = append(cmps, inst)
			}
		}
	}

	for _, cmp := range cmps {
		if cmp.Synthetic {
			res.Skipped = append(res.Skipped, Skip{
				Function: fn.Name, InstrID: cmp.ID, Result: cmp.Result,
				Reason: SkipSynthetic,
			})
			continue
		}
		res.Comparisons++

		if alreadyProtected(fn, cmp) {
			res.Skipped = append(res.Skipped, Skip{
				Function: fn.Name, InstrID: cmp.ID, Result: cmp.Result,
				Reason: SkipAlreadyProtected,
			})
			continue
		}

		chain := builder.Chain(fn, cmp)
		score := strategy.Score(fn, cmp, chain)
		res.Scores = append(res.Scores, score)

		if score.Value < t.Threshold {
			res.Skipped = append(res.Skipped, Skip{
				Function: fn.Name, InstrID: cmp.ID, Result: cmp.Result,
				Score: score.Value, Reason: SkipBelowThreshold,
			})
			continue
		}
		if chain.Truncated {
			res.Skipped = append(res.Skipped, Skip{
				Function: fn.Name, InstrID: cmp.ID, Result: cmp.Result,
				Score: score.Value, Reason: SkipChainDepth,
			})
			continue
		}
		if chain.TouchesOpaque {
			res.Skipped = append(res.Skipped, Skip{
				Function: fn.Name, InstrID: cmp.ID, Result: cmp.Result,
				Score: score.Value, Reason: SkipOpaqueChain,
			})
			continue
		}

		rec, err := t.protectOne(fn, cmp, chain, score, alloc)
		if err != nil {
			return nil, err
		}
		res.Protected = append(res.Protected, rec)
	}
	return res, nil
}

// protectOne drives a single comparison through the protection state
// machine: Identified -> ChainCloned -> DuplicateInserted ->
// VerificationInserted -> ControlFlowRewired -> Done.
func (t *Transformer) protectOne(fn *ir.Function, cmp *ir.Instruction, chain *depflow.Chain, score scorer.Score, alloc *ir.NameAllocator) (ProtectionRecord, error) {
	rec := ProtectionRecord{
		Function:       fn.Name,
		OriginalID:     cmp.ID,
		OriginalResult: cmp.Result,
		Score:          score,
		Stage:          StageIdentified,
	}

	// ChainCloned: shadow every chain member with a fresh name, remapping
	// operands through the clone map so the shadow computation references
	// only shadow values (or shared chain sources).
	cloneMap := make(map[string]string, len(chain.Members)+1)
	clones := make([]*ir.Instruction, 0, len(chain.Members)+1)
	for _, id := range chain.Members {
		dup := cloneInstruction(fn.Instrs[id], alloc.Register(ir.DupPrefix), cloneMap)
		cloneMap[fn.Instrs[id].Result] = dup.Result
		clones = append(clones, dup)
		rec.ClonedMembers = append(rec.ClonedMembers, dup.Result)
	}
	dupCmp := cloneInstruction(cmp, alloc.Register(ir.DupPrefix), cloneMap)
	clones = append(clones, dupCmp)
	rec.Stage = StageChainCloned

	// DuplicateInserted: the whole shadow run goes immediately after the
	// original comparison, preserving program order.
	if err := fn.InsertAfter(cmp.ID, clones...); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}
	rec.DuplicateResult = dupCmp.Result
	rec.Stage = StageDuplicateInserted

	// VerificationInserted: original against shadow.
	verify := &ir.Instruction{
		Op:        ir.OpCompare,
		Mnemonic:  "icmp",
		Predicate: "eq",
		Type:      "i1",
		Result:    alloc.Register(ir.VerifyPrefix),
		Operands:  []string{"%" + cmp.Result, "%" + dupCmp.Result},
		Synthetic: true,
	}
	if err := fn.InsertAfter(dupCmp.ID, verify); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}
	rec.VerifyResult = verify.Result
	rec.Stage = StageVerificationInserted

	// ControlFlowRewired: the block's terminator moves into a new safe
	// block; the block now ends in a branch on the verification compare,
	// with the mismatch edge trapping in the fault block.
	block := fn.Block(cmp.Block)
	termID := block.Terminator()
	if termID < 0 || !fn.Instrs[termID].IsTerminator() {
		return rec, &PassError{
			Code:     ErrCodeNoTerminator,
			Message:  "comparison's block has no terminator to gate",
			Function: fn.Name,
			InstrID:  cmp.ID,
		}
	}
	term := fn.Instrs[termID]
	safeLabel, faultLabel := alloc.BlockPair()

	block.Instrs = block.Instrs[:len(block.Instrs)-1]
	checkBr := &ir.Instruction{
		Op:        ir.OpBranch,
		Mnemonic:  "br",
		Operands:  []string{"%" + verify.Result},
		Labels:    []string{safeLabel, faultLabel},
		Synthetic: true,
	}
	if _, err := fn.Append(block, checkBr); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}

	safe := &ir.BasicBlock{Label: safeLabel, Instrs: []int{termID}}
	term.Block = safeLabel
	if err := fn.InsertBlockAfter(block.Label, safe); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}

	fault := &ir.BasicBlock{Label: faultLabel}
	if err := fn.InsertBlockAfter(safeLabel, fault); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}
	trap := &ir.Instruction{
		Op:        ir.OpCall,
		Mnemonic:  "call",
		Type:      "void",
		Callee:    ir.FaultHandler,
		Synthetic: true,
	}
	unreachable := &ir.Instruction{Op: ir.OpOpaque, Text: "unreachable", Synthetic: true}
	if _, err := fn.Append(fault, trap); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}
	if _, err := fn.Append(fault, unreachable); err != nil {
		return rec, &PassError{Code: ErrCodeInsert, Message: err.Error(), Function: fn.Name, InstrID: cmp.ID}
	}
	rec.SafeLabel = safeLabel
	rec.FaultLabel = faultLabel
	rec.Stage = StageControlFlowRewired

	rec.Stage = StageDone
	return rec, nil
}

// cloneInstruction makes a synthetic copy with a fresh result name and
// operands remapped through the clone map. The copy has the identical
// opcode and operand shape as the original; unmapped operands (parameters,
// constants, chain sources) are shared with it.
func cloneInstruction(orig *ir.Instruction, result string, cloneMap map[string]string) *ir.Instruction {
	dup := *orig
	dup.ID = 0
	dup.Result = result
	dup.Synthetic = true
	dup.Text = "" // rendered from fields at emission

	dup.Operands = make([]string, len(orig.Operands))
	for i, op := range orig.Operands {
		if name, ok := cloneMap[trimPercent(op)]; ok && isLocal(op) {
			dup.Operands[i] = "%" + name
		} else {
			dup.Operands[i] = op
		}
	}
	dup.Flags = append([]string(nil), orig.Flags...)
	dup.Labels = append([]string(nil), orig.Labels...)
	dup.Suffix = append([]string(nil), orig.Suffix...)
	return &dup
}

// alreadyProtected reports whether the comparison's result is consumed by a
// verification compare. Protecting it again would shadow the shadow: a prior
// run (possibly round-tripped through text) has already covered it.
func alreadyProtected(fn *ir.Function, cmp *ir.Instruction) bool {
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

func isLocal(op string) bool {
	return len(op) > 1 && op[0] == '%'
}

func trimPercent(op string) string {
	if isLocal(op) {
		return op[1:]
	}
	return op
}
