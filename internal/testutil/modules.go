// Package testutil provides canned IR modules shared by package tests.
package testutil

import (
	"testing"

	"github.com/roach88/faultguard/internal/ir"
	"github.com/roach88/faultguard/internal/parser"
)

// MustParse parses text or fails the test.
func MustParse(t *testing.T, text string) *ir.Module {
	t.Helper()
	m, err := parser.Parse(text)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return m
}

// AuthModuleText is a clang -O0 style PIN check: the comparison gates the
// sole path to a constant success return, so it scores the maximum. The
// function holds 28 instructions; protecting the one comparison adds 7
// (two shadow loads, shadow compare, verification compare, check branch,
// trap call, unreachable), i.e. exactly 25% overhead.
const AuthModuleText = `; ModuleID = 'pin.c'
target triple = "x86_64-unknown-linux-gnu"

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
  br i1 %cmp, label %if.then, label %if.else

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

// LowScoreModuleText holds one comparison whose result is never branched on,
// only converted and stored: it scores below the default threshold.
const LowScoreModuleText = `define void @flag_zero(i32 %x, i32* %out) {
entry:
  %c = icmp eq i32 %x, 0
  %conv = zext i1 %c to i32
  store i32 %conv, i32* %out, align 4
  ret void
}
`

// OpaqueChainModuleText holds a maximum-scoring comparison whose dependency
// chain reaches an external call: duplicating it could repeat a side effect,
// so the transformer must skip it with a recorded reason.
const OpaqueChainModuleText = `declare i32 @read_sensor()

define i32 @gate(i32 %limit) {
entry:
  %raw = call i32 @read_sensor()
  %ok = icmp slt i32 %raw, 42
  br i1 %ok, label %accept, label %reject

accept:
  ret i32 1

reject:
  ret i32 0
}
`

// RoundTripModuleText exercises every supported opcode form, including phi
// incoming pairs, conversions, flags, and a call with a result.
const RoundTripModuleText = `; round-trip fixture
@counter = global i32 0

define i32 @mix(i32 %a, i32 %b) {
entry:
  %slot = alloca i32, align 4
  %sum = add nsw i32 %a, %b
  %wide = sext i32 %sum to i64
  %narrow = trunc i64 %wide to i32
  store i32 %narrow, i32* %slot, align 4
  %v = load i32, i32* %slot, align 4
  %big = icmp sgt i32 %v, 100
  br i1 %big, label %high, label %low

high:
  %scaled = mul i32 %v, 2
  br label %join

low:
  %kept = call i32 @clamp(i32 %v)
  br label %join

join:
  %merged = phi i32 [ %scaled, %high ], [ %kept, %low ]
  ret i32 %merged
}
`
