// Package depflow builds backward use-def dependency chains for comparison
// instructions. The chain of a comparison is exactly the set of instructions
// that must be cloned together to produce a faithful shadow computation.
package depflow

import (
	"sort"
	"strings"

	"github.com/roach88/faultguard/internal/ir"
)

// DefaultMaxDepth bounds the backward traversal. Valid SSA has no use-def
// cycles, but malformed encodings must not hang the pass.
const DefaultMaxDepth = 32

// Chain is the ordered, deduplicated set of instructions a comparison
// transitively depends on within its function.
type Chain struct {
	// Target is the id of the comparison the chain was built for.
	Target int

	// Members holds the ids of clonable dependencies in original definition
	// order. The target itself is not a member.
	Members []int

	// Depth is the deepest recursion level the traversal reached.
	Depth int

	// TouchesParam is set when any leaf of the chain is a function
	// parameter (attacker-controlled surface).
	TouchesParam bool

	// TouchesOpaque is set when the chain reaches a call, a store, or an
	// opaque instruction. Such a chain has unknown side effects and cannot
	// be safely duplicated.
	TouchesOpaque bool

	// Truncated is set when the traversal hit the depth bound.
	Truncated bool

	constLeaves int
	paramLeaves int
}

// ConstantOnly reports whether every leaf of the chain is a compile-time
// constant: no parameter influence and no opaque boundary.
func (c *Chain) ConstantOnly() bool {
	return !c.TouchesParam && !c.TouchesOpaque && c.paramLeaves == 0 && c.constLeaves > 0
}

// Overlaps reports whether two chains share any member instruction.
// Comparisons with overlapping chains must be protected sequentially so
// shared upstream instructions are not duplicated twice.
func (c *Chain) Overlaps(other *Chain) bool {
	seen := make(map[int]bool, len(c.Members))
	for _, id := range c.Members {
		seen[id] = true
	}
	for _, id := range other.Members {
		if seen[id] {
			return true
		}
	}
	return false
}

// Builder performs bounded backward traversals over use-def edges.
type Builder struct {
	// MaxDepth is the defensive recursion bound; DefaultMaxDepth when zero.
	MaxDepth int
}

// NewBuilder creates a Builder with the default depth bound.
func NewBuilder() *Builder {
	return &Builder{MaxDepth: DefaultMaxDepth}
}

// Chain builds the dependency chain for target within fn. Traversal follows
// each operand to its producing instruction and recurses through pure
// value-producing instructions. It stops at function parameters, constants,
// allocas, and phi nodes: those are chain sources, not clonable members.
func (b *Builder) Chain(fn *ir.Function, target *ir.Instruction) *Chain {
	maxDepth := b.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	c := &Chain{Target: target.ID}
	visited := make(map[int]bool)
	b.walk(fn, target, c, visited, 0, maxDepth)

	// Members collect in traversal order; chains are defined in original
	// definition order so clones insert as one faithful program-order run.
	pos := fn.Positions()
	sort.Slice(c.Members, func(i, j int) bool {
		return pos[c.Members[i]] < pos[c.Members[j]]
	})
	return c
}

func (b *Builder) walk(fn *ir.Function, inst *ir.Instruction, c *Chain, visited map[int]bool, depth, maxDepth int) {
	if depth > c.Depth {
		c.Depth = depth
	}
	if depth >= maxDepth {
		c.Truncated = true
		return
	}

	for _, op := range inst.Operands {
		if !strings.HasPrefix(op, "%") {
			c.constLeaves++
			continue
		}
		name := strings.TrimPrefix(op, "%")
		if fn.HasParam(name) {
			c.TouchesParam = true
			c.paramLeaves++
			continue
		}
		def, ok := fn.Def(name)
		if !ok {
			// Unknown producer: defined by a construct the parser retained
			// opaquely, or by nothing at all. Either way, not clonable.
			c.TouchesOpaque = true
			continue
		}
		if visited[def.ID] {
			continue
		}
		visited[def.ID] = true

		switch def.Op {
		case ir.OpCompare, ir.OpBinary, ir.OpLoad:
			c.Members = append(c.Members, def.ID)
			b.walk(fn, def, c, visited, depth+1, maxDepth)
		case ir.OpAlloca, ir.OpPhi:
			// Memory roots and block-entry merges are chain sources.
			// Cloning a phi would require edge duplication in every
			// predecessor, which the append-only contract forbids.
		case ir.OpCall, ir.OpOpaque, ir.OpStore:
			c.TouchesOpaque = true
		default:
			c.TouchesOpaque = true
		}
	}
}
