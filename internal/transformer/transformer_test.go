package transformer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
	"github.com/roach88/faultguard/internal/scorer"
	"github.com/roach88/faultguard/internal/testutil"
	"github.com/roach88/faultguard/internal/transformer"
)

// protectedAuthModuleText is the exact expected emission for
// testutil.AuthModuleText: two shadow loads, the shadow compare, the
// verification compare, the check branch, and the safe/fault block pair,
// with every untouched line byte-identical to the input.
const protectedAuthModuleText = `; ModuleID = 'pin.c'
target triple = "x86_64-unknown-linux-gnu"

declare void @fault_handler() noreturn

define i32 @check_pin(i32 %pin, i32 %expected) {
entry:
  %retval = alloca i32, align 4
  %pin.addr = alloca i32, align 4
  %expected.addr = alloca i32, align 4
  %attempts = alloca i32, align 4
  %status = alloca i32, align 4
  store i32 %pin, i32* %pin.addr, align 4
  store i32 %expected, i32* %expected.addr, align 4
  store i32 0, i32* %attempts, align 4
  store i32 0, i32* %status, align 4
  %0 = load i32, i32* %attempts, align 4
  %inc = add nsw i32 %0, 1
  store i32 %inc, i32* %attempts, align 4
  %1 = load i32, i32* %status, align 4
  %or = or i32 %1, 1
  store i32 %or, i32* %status, align 4
  %2 = load i32, i32* %pin.addr, align 4
  %3 = load i32, i32* %expected.addr, align 4
  %cmp = icmp eq i32 %2, %3
  %dup_1000 = load i32, i32* %pin.addr, align 4
  %dup_1001 = load i32, i32* %expected.addr, align 4
  %dup_1002 = icmp eq i32 %dup_1000, %dup_1001
  %verify_1003 = icmp eq i1 %cmp, %dup_1002
  br i1 %verify_1003, label %safe_100, label %fault_100

safe_100:
  br i1 %cmp, label %if.then, label %if.else

fault_100:
  call void @fault_handler()
  unreachable

if.then:
  store i32 1, i32* %retval, align 4
  br label %return

if.else:
  %4 = load i32, i32* %attempts, align 4
  %mul = mul nsw i32 %4, 2
  store i32 %mul, i32* %attempts, align 4
  store i32 0, i32* %retval, align 4
  br label %return

return:
  %5 = load i32, i32* %retval, align 4
  ret i32 %5
}
`

func defaultTransformer() *transformer.Transformer {
	return transformer.New(scorer.NewWeightedStrategy(scorer.DefaultWeights()), scorer.DefaultThreshold)
}

func TestProtectAuthModule(t *testing.T) {
	m := testutil.MustParse(t, testutil.AuthModuleText)

	res, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Comparisons)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Protected, 1)

	rec := res.Protected[0]
	assert.Equal(t, "check_pin", rec.Function)
	assert.Equal(t, "cmp", rec.OriginalResult)
	assert.Equal(t, []string{"dup_1000", "dup_1001"}, rec.ClonedMembers)
	assert.Equal(t, "dup_1002", rec.DuplicateResult)
	assert.Equal(t, "verify_1003", rec.VerifyResult)
	assert.Equal(t, "safe_100", rec.SafeLabel)
	assert.Equal(t, "fault_100", rec.FaultLabel)
	assert.Equal(t, transformer.StageDone, rec.Stage)
	assert.Equal(t, scorer.MaxScore, rec.Score.Value)

	assert.Equal(t, protectedAuthModuleText, ir.Emit(m))
	assert.Equal(t, 35, m.InstrCount(), "28 original + 7 inserted")
}

func TestProtectLeavesUntouchedLinesByteIdentical(t *testing.T) {
	m := testutil.MustParse(t, testutil.AuthModuleText)
	_, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	output := ir.Emit(m)
	for _, line := range strings.Split(testutil.AuthModuleText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		assert.Contains(t, output, line)
	}
}

func TestProtectSkipsBelowThreshold(t *testing.T) {
	m := testutil.MustParse(t, testutil.LowScoreModuleText)

	res, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Comparisons)
	assert.Empty(t, res.Protected)
	require.Len(t, res.Skipped, 1)

	skip := res.Skipped[0]
	assert.Equal(t, transformer.SkipBelowThreshold, skip.Reason)
	assert.Equal(t, "c", skip.Result)
	assert.Equal(t, 30, skip.Score)

	// Nothing protected: no declaration, no markers, output identical.
	assert.Equal(t, testutil.LowScoreModuleText, ir.Emit(m))
}

func TestProtectSkipsOpaqueChain(t *testing.T) {
	m := testutil.MustParse(t, testutil.OpaqueChainModuleText)

	res, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	assert.Empty(t, res.Protected)
	require.Len(t, res.Skipped, 1)

	skip := res.Skipped[0]
	assert.Equal(t, transformer.SkipOpaqueChain, skip.Reason)
	assert.Equal(t, "ok", skip.Result)
	assert.Equal(t, scorer.MaxScore, skip.Score, "skipped despite a maximum score")

	assert.Equal(t, testutil.OpaqueChainModuleText, ir.Emit(m))
}

func TestProtectSkipsTruncatedChain(t *testing.T) {
	m := testutil.MustParse(t, testutil.AuthModuleText)

	tr := defaultTransformer()
	tr.MaxDepth = 1
	res, err := tr.Protect(m)
	require.NoError(t, err)

	assert.Empty(t, res.Protected)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, transformer.SkipChainDepth, res.Skipped[0].Reason)
	assert.Equal(t, testutil.AuthModuleText, ir.Emit(m))
}

func TestProtectTwiceDoesNotDuplicateTheDuplicates(t *testing.T) {
	m := testutil.MustParse(t, testutil.AuthModuleText)
	_, err := defaultTransformer().Protect(m)
	require.NoError(t, err)
	first := ir.Emit(m)

	again, err := parser.Parse(first)
	require.NoError(t, err)
	res, err := defaultTransformer().Protect(again)
	require.NoError(t, err)

	assert.Empty(t, res.Protected)

	reasons := make(map[string]transformer.SkipReason, len(res.Skipped))
	for _, skip := range res.Skipped {
		reasons[skip.Result] = skip.Reason
	}
	assert.Equal(t, transformer.SkipAlreadyProtected, reasons["cmp"])
	assert.Equal(t, transformer.SkipSynthetic, reasons["dup_1002"])
	assert.Equal(t, transformer.SkipSynthetic, reasons["verify_1003"])

	assert.Equal(t, first, ir.Emit(again))
}

func TestProtectThresholdTieProtects(t *testing.T) {
	// fan_out 30 + branch_use 20, nothing else: exactly the default
	// threshold, and ties must protect.
	text := `define i32 @f(i32 %x) {
entry:
  %c = icmp eq i32 4, 5
  br i1 %c, label %a, label %b

a:
  ret i32 %x

b:
  ret i32 %x
}
`
	m := testutil.MustParse(t, text)
	res, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	require.Len(t, res.Protected, 1)
	assert.Equal(t, scorer.DefaultThreshold, res.Protected[0].Score.Value)

	m2 := testutil.MustParse(t, text)
	tr := transformer.New(scorer.NewWeightedStrategy(scorer.DefaultWeights()), scorer.DefaultThreshold+1)
	res2, err := tr.Protect(m2)
	require.NoError(t, err)
	assert.Empty(t, res2.Protected)
	require.Len(t, res2.Skipped, 1)
	assert.Equal(t, transformer.SkipBelowThreshold, res2.Skipped[0].Reason)
}

func TestProtectMultipleFunctionsMergesInDeclarationOrder(t *testing.T) {
	text := `define i32 @alpha(i32 %a, i32 %b) {
entry:
  %c = icmp eq i32 %a, %b
  br i1 %c, label %yes, label %no

yes:
  ret i32 1

no:
  ret i32 0
}

define i32 @beta(i32 %x, i32 %y) {
entry:
  %d = icmp eq i32 %x, %y
  br i1 %d, label %yes, label %no

yes:
  ret i32 1

no:
  ret i32 0
}
`
	m := testutil.MustParse(t, text)
	res, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	require.Len(t, res.Protected, 2)
	assert.Equal(t, "alpha", res.Protected[0].Function)
	assert.Equal(t, "beta", res.Protected[1].Function)

	// Marker names are unique module-wide regardless of worker scheduling.
	seen := make(map[string]bool)
	for _, rec := range res.Protected {
		for _, name := range append([]string{rec.DuplicateResult, rec.VerifyResult, rec.SafeLabel, rec.FaultLabel}, rec.ClonedMembers...) {
			assert.False(t, seen[name], "marker %s allocated twice", name)
			seen[name] = true
		}
	}

	// One declaration, before the first function.
	output := ir.Emit(m)
	assert.Equal(t, 1, strings.Count(output, ir.FaultHandlerDecl))
	assert.Less(t, strings.Index(output, ir.FaultHandlerDecl), strings.Index(output, "define i32 @alpha"))
}

func TestProtectSeedsAllocatorFromExistingMarkers(t *testing.T) {
	// Already-protected text plus a fresh comparison: the new markers must
	// not collide with the ones already present.
	text := `declare void @fault_handler() noreturn

define i1 @old(i32 %a, i32 %b) {
entry:
  %cmp = icmp eq i32 %a, %b
  %dup_1000 = icmp eq i32 %a, %b
  %verify_1001 = icmp eq i1 %cmp, %dup_1000
  br i1 %verify_1001, label %safe_100, label %fault_100

safe_100:
  ret i1 %cmp

fault_100:
  call void @fault_handler()
  unreachable
}

define i32 @fresh(i32 %x, i32 %y) {
entry:
  %c = icmp eq i32 %x, %y
  br i1 %c, label %yes, label %no

yes:
  ret i32 1

no:
  ret i32 0
}
`
	m := testutil.MustParse(t, text)
	res, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	require.Len(t, res.Protected, 1)
	rec := res.Protected[0]
	assert.Equal(t, "fresh", rec.Function)
	assert.Equal(t, "dup_1002", rec.DuplicateResult)
	assert.Equal(t, "verify_1003", rec.VerifyResult)
	assert.Equal(t, "safe_101", rec.SafeLabel)
	assert.Equal(t, "fault_101", rec.FaultLabel)
}

func TestProtectFailsWithoutTerminator(t *testing.T) {
	m := testutil.MustParse(t, `define i1 @f(i32 %a, i32 %b) {
entry:
  %c = icmp eq i32 %a, %b
}
`)
	tr := &transformer.Transformer{
		Strategy:  scorer.NewWeightedStrategy(scorer.DefaultWeights()),
		Threshold: 0,
	}
	_, err := tr.Protect(m)
	require.Error(t, err)
	require.True(t, transformer.IsPassError(err))

	var passErr *transformer.PassError
	require.ErrorAs(t, err, &passErr)
	assert.Equal(t, transformer.ErrCodeNoTerminator, passErr.Code)
	assert.Equal(t, "f", passErr.Function)
}

func TestProtectedShadowIsSynthetic(t *testing.T) {
	m := testutil.MustParse(t, testutil.AuthModuleText)
	_, err := defaultTransformer().Protect(m)
	require.NoError(t, err)

	fn := m.Functions()[0]
	for _, name := range []string{"dup_1000", "dup_1001", "dup_1002", "verify_1003"} {
		inst, ok := fn.Def(name)
		require.True(t, ok, "%%%s missing", name)
		assert.True(t, inst.Synthetic)
	}

	dup, _ := fn.Def("dup_1002")
	orig, _ := fn.Def("cmp")
	assert.Equal(t, orig.Op, dup.Op)
	assert.Equal(t, orig.Predicate, dup.Predicate)
	assert.Len(t, dup.Operands, len(orig.Operands), "identical operand shape")
}
