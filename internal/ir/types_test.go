package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFunction(t *testing.T) (*Function, *BasicBlock) {
	t.Helper()
	fn := NewFunction("f", "define i32 @f(i32 %x) {", []string{"x"})
	entry, err := fn.AddBlock("entry")
	require.NoError(t, err)
	return fn, entry
}

func TestAppendAssignsIDsAndRegistersDefs(t *testing.T) {
	fn, entry := buildFunction(t)

	a, err := fn.Append(entry, &Instruction{Op: OpBinary, Result: "sum", Mnemonic: "add", Type: "i32", Operands: []string{"%x", "1"}})
	require.NoError(t, err)
	b, err := fn.Append(entry, &Instruction{Op: OpReturn, Mnemonic: "ret", Type: "i32", Operands: []string{"%sum"}})
	require.NoError(t, err)

	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, "entry", a.Block)

	def, ok := fn.Def("sum")
	require.True(t, ok)
	assert.Same(t, a, def)
}

func TestAppendRejectsRedefinedResult(t *testing.T) {
	fn, entry := buildFunction(t)

	_, err := fn.Append(entry, &Instruction{Op: OpBinary, Result: "sum", Mnemonic: "add", Type: "i32", Operands: []string{"%x", "1"}})
	require.NoError(t, err)
	_, err = fn.Append(entry, &Instruction{Op: OpBinary, Result: "sum", Mnemonic: "add", Type: "i32", Operands: []string{"%x", "2"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redefined")
}

func TestInsertAfterSplicesInOrder(t *testing.T) {
	fn, entry := buildFunction(t)

	first, err := fn.Append(entry, &Instruction{Op: OpBinary, Result: "a", Mnemonic: "add", Type: "i32", Operands: []string{"%x", "1"}})
	require.NoError(t, err)
	_, err = fn.Append(entry, &Instruction{Op: OpReturn, Mnemonic: "ret", Type: "i32", Operands: []string{"%a"}})
	require.NoError(t, err)

	mid1 := &Instruction{Op: OpBinary, Result: "b", Mnemonic: "add", Type: "i32", Operands: []string{"%a", "1"}}
	mid2 := &Instruction{Op: OpBinary, Result: "c", Mnemonic: "add", Type: "i32", Operands: []string{"%b", "1"}}
	require.NoError(t, fn.InsertAfter(first.ID, mid1, mid2))

	assert.Equal(t, []int{first.ID, mid1.ID, mid2.ID, 1}, entry.Instrs)
	assert.Equal(t, "entry", mid1.Block)

	err = fn.InsertAfter(99, &Instruction{Op: OpOpaque, Text: "unreachable"})
	require.Error(t, err)
}

func TestInsertBlockAfter(t *testing.T) {
	fn, _ := buildFunction(t)
	_, err := fn.AddBlock("exit")
	require.NoError(t, err)

	mid := &BasicBlock{Label: "mid"}
	require.NoError(t, fn.InsertBlockAfter("entry", mid))

	labels := make([]string, len(fn.Blocks))
	for i, b := range fn.Blocks {
		labels[i] = b.Label
	}
	assert.Equal(t, []string{"entry", "mid", "exit"}, labels)

	assert.Error(t, fn.InsertBlockAfter("entry", &BasicBlock{Label: "mid"}), "duplicate label")
	assert.Error(t, fn.InsertBlockAfter("missing", &BasicBlock{Label: "other"}))
}

func TestTerminatorQueries(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		want bool
	}{
		{"conditional branch", Instruction{Op: OpBranch, Operands: []string{"%c"}, Labels: []string{"a", "b"}}, true},
		{"return", Instruction{Op: OpReturn, Type: "void"}, true},
		{"unreachable", Instruction{Op: OpOpaque, Text: "unreachable"}, true},
		{"comment", Instruction{Op: OpOpaque, Text: "; note"}, false},
		{"compare", Instruction{Op: OpCompare, Result: "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.inst.IsTerminator())
		})
	}
}

func TestInstrCountExcludesComments(t *testing.T) {
	fn, entry := buildFunction(t)
	_, err := fn.Append(entry, &Instruction{Op: OpOpaque, Text: "; setup"})
	require.NoError(t, err)
	_, err = fn.Append(entry, &Instruction{Op: OpReturn, Mnemonic: "ret", Type: "void"})
	require.NoError(t, err)

	assert.Equal(t, 1, fn.InstrCount())
}

func TestEnsureDeclaration(t *testing.T) {
	m := &Module{}
	m.AddGlobal("; header")
	m.AddFunction(NewFunction("f", "define void @f() {", nil))

	m.EnsureDeclaration(FaultHandlerDecl)
	require.Len(t, m.Items, 4)
	assert.Equal(t, FaultHandlerDecl, m.Items[1].Global)
	assert.Equal(t, "", m.Items[2].Global, "blank separator before the define")

	// Idempotent.
	m.EnsureDeclaration(FaultHandlerDecl)
	assert.Len(t, m.Items, 4)
}

func TestHasSideEffect(t *testing.T) {
	assert.True(t, (&Instruction{Op: OpCall}).HasSideEffect())
	assert.True(t, (&Instruction{Op: OpStore}).HasSideEffect())
	assert.True(t, (&Instruction{Op: OpOpaque}).HasSideEffect())
	assert.False(t, (&Instruction{Op: OpLoad}).HasSideEffect())
	assert.False(t, (&Instruction{Op: OpBinary}).HasSideEffect())
}
