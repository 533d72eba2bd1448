package depflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/faultguard/internal/depflow"
	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/testutil"
)

func comparison(t *testing.T, fn *ir.Function, result string) *ir.Instruction {
	t.Helper()
	inst, ok := fn.Def(result)
	require.True(t, ok, "no %%%s in %s", result, fn.Name)
	require.True(t, inst.IsComparison())
	return inst
}

func TestChainStopsAtAllocas(t *testing.T) {
	m := testutil.MustParse(t, testutil.AuthModuleText)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "cmp")

	chain := depflow.NewBuilder().Chain(fn, cmp)

	// Exactly the two loads feeding the comparison, in definition order;
	// the allocas behind them are sources, not members.
	require.Len(t, chain.Members, 2)
	assert.Equal(t, "2", fn.Instrs[chain.Members[0]].Result)
	assert.Equal(t, "3", fn.Instrs[chain.Members[1]].Result)

	assert.Equal(t, 1, chain.Depth)
	assert.False(t, chain.TouchesParam)
	assert.False(t, chain.TouchesOpaque)
	assert.False(t, chain.Truncated)
}

func TestChainRecordsParamLeaves(t *testing.T) {
	m := testutil.MustParse(t, testutil.LowScoreModuleText)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "c")

	chain := depflow.NewBuilder().Chain(fn, cmp)

	assert.Empty(t, chain.Members)
	assert.True(t, chain.TouchesParam)
	assert.False(t, chain.TouchesOpaque)
	assert.False(t, chain.ConstantOnly())
}

func TestChainPoisonedByCall(t *testing.T) {
	m := testutil.MustParse(t, testutil.OpaqueChainModuleText)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "ok")

	chain := depflow.NewBuilder().Chain(fn, cmp)

	assert.True(t, chain.TouchesOpaque)
	assert.Empty(t, chain.Members, "a call is a boundary, never a member")
}

func TestChainConstantOnly(t *testing.T) {
	m := testutil.MustParse(t, `define i1 @f() {
entry:
  %sum = add i32 40, 2
  %c = icmp eq i32 %sum, 42
  br i1 %c, label %a, label %b

a:
  ret i1 1

b:
  ret i1 0
}
`)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "c")

	chain := depflow.NewBuilder().Chain(fn, cmp)
	assert.True(t, chain.ConstantOnly())
	require.Len(t, chain.Members, 1)
	assert.Equal(t, "sum", fn.Instrs[chain.Members[0]].Result)
}

func TestChainDedupesSharedOperands(t *testing.T) {
	m := testutil.MustParse(t, `define i1 @f(i32 %x) {
entry:
  %a = add i32 %x, 1
  %b = mul i32 %a, %a
  %c = icmp eq i32 %b, %a
  ret i1 %c
}
`)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "c")

	chain := depflow.NewBuilder().Chain(fn, cmp)
	require.Len(t, chain.Members, 2)
	assert.Equal(t, "a", fn.Instrs[chain.Members[0]].Result)
	assert.Equal(t, "b", fn.Instrs[chain.Members[1]].Result)
	assert.True(t, chain.TouchesParam)
}

func TestChainDepthBound(t *testing.T) {
	m := testutil.MustParse(t, `define i1 @f(i32 %x) {
entry:
  %a = add i32 %x, 1
  %b = add i32 %a, 1
  %c = add i32 %b, 1
  %d = icmp eq i32 %c, 0
  ret i1 %d
}
`)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "d")

	bounded := &depflow.Builder{MaxDepth: 2}
	chain := bounded.Chain(fn, cmp)
	assert.True(t, chain.Truncated)

	full := depflow.NewBuilder().Chain(fn, cmp)
	assert.False(t, full.Truncated)
	assert.Equal(t, 3, full.Depth)
	assert.Len(t, full.Members, 3)
}

func TestChainOverlaps(t *testing.T) {
	m := testutil.MustParse(t, `define void @f(i32 %x, i32* %out) {
entry:
  %base = add i32 %x, 1
  %c1 = icmp eq i32 %base, 1
  %c2 = icmp eq i32 %base, 2
  %c3 = icmp eq i32 %x, 3
  ret void
}
`)
	fn := m.Functions()[0]

	b := depflow.NewBuilder()
	chain1 := b.Chain(fn, comparison(t, fn, "c1"))
	chain2 := b.Chain(fn, comparison(t, fn, "c2"))
	chain3 := b.Chain(fn, comparison(t, fn, "c3"))

	assert.True(t, chain1.Overlaps(chain2), "both depend on %base")
	assert.False(t, chain1.Overlaps(chain3))
}

func TestChainUnknownProducerIsOpaque(t *testing.T) {
	m := testutil.MustParse(t, `define i1 @f(i32* %base) {
entry:
  %p = getelementptr inbounds i32, i32* %base, i64 1
  %v = load i32, i32* %p, align 4
  %c = icmp eq i32 %v, 0
  ret i1 %c
}
`)
	fn := m.Functions()[0]
	cmp := comparison(t, fn, "c")

	chain := depflow.NewBuilder().Chain(fn, cmp)
	assert.True(t, chain.TouchesOpaque)
}
