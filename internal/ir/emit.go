package ir

import (
	"fmt"
	"strings"
)

// Emit serializes a module back to the textual dialect. Instructions carrying
// their original source line emit it unchanged; constructed instructions are
// rendered from their structured fields. Top-level globals pass through
// verbatim, including blank lines, so content the pass does not understand
// round-trips byte-exactly.
func Emit(m *Module) string {
	var sb strings.Builder
	for _, it := range m.Items {
		if it.Func == nil {
			sb.WriteString(it.Global)
			sb.WriteByte('\n')
			continue
		}
		emitFunction(&sb, it.Func)
	}
	return sb.String()
}

func emitFunction(sb *strings.Builder, f *Function) {
	sb.WriteString(f.Header)
	sb.WriteByte('\n')
	for bi, b := range f.Blocks {
		if bi > 0 {
			sb.WriteByte('\n')
		}
		if b.Label != "" {
			sb.WriteString(b.Label)
			sb.WriteString(":\n")
		}
		for _, id := range b.Instrs {
			sb.WriteString("  ")
			sb.WriteString(f.Instrs[id].Line())
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
}

// Line returns the textual form of the instruction: the original source line
// when present, otherwise a rendering of the structured fields.
func (i *Instruction) Line() string {
	if i.Text != "" {
		return i.Text
	}
	return i.Render()
}

// Render builds the canonical textual form from structured fields. For every
// supported opcode, parsing the rendered line yields an equivalent
// instruction.
func (i *Instruction) Render() string {
	var sb strings.Builder
	if i.Result != "" {
		fmt.Fprintf(&sb, "%%%s = ", i.Result)
	}
	switch i.Op {
	case OpCompare:
		fmt.Fprintf(&sb, "%s %s %s %s, %s", i.Mnemonic, i.Predicate, i.Type, i.Operands[0], i.Operands[1])
	case OpBinary:
		if i.CastTo != "" {
			fmt.Fprintf(&sb, "%s %s %s to %s", i.Mnemonic, i.Type, i.Operands[0], i.CastTo)
			break
		}
		sb.WriteString(i.Mnemonic)
		for _, fl := range i.Flags {
			sb.WriteByte(' ')
			sb.WriteString(fl)
		}
		fmt.Fprintf(&sb, " %s %s, %s", i.Type, i.Operands[0], i.Operands[1])
	case OpLoad:
		fmt.Fprintf(&sb, "load %s, %s %s", i.Type, i.PtrType, i.Operands[0])
		renderSuffix(&sb, i.Suffix)
	case OpStore:
		fmt.Fprintf(&sb, "store %s %s, %s %s", i.Type, i.Operands[0], i.PtrType, i.Operands[1])
		renderSuffix(&sb, i.Suffix)
	case OpAlloca:
		fmt.Fprintf(&sb, "alloca %s", i.Type)
		renderSuffix(&sb, i.Suffix)
	case OpPhi:
		fmt.Fprintf(&sb, "phi %s ", i.Type)
		for n := range i.Operands {
			if n > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "[ %s, %%%s ]", i.Operands[n], i.Labels[n])
		}
	case OpCall:
		fmt.Fprintf(&sb, "call %s @%s(%s)", i.Type, i.Callee, i.Args)
	case OpBranch:
		if len(i.Operands) == 1 {
			fmt.Fprintf(&sb, "br i1 %s, label %%%s, label %%%s", i.Operands[0], i.Labels[0], i.Labels[1])
		} else {
			fmt.Fprintf(&sb, "br label %%%s", i.Labels[0])
		}
	case OpReturn:
		if len(i.Operands) == 0 {
			fmt.Fprintf(&sb, "ret %s", i.Type)
		} else {
			fmt.Fprintf(&sb, "ret %s %s", i.Type, i.Operands[0])
		}
	case OpOpaque:
		return i.Text
	}
	return sb.String()
}

func renderSuffix(sb *strings.Builder, suffix []string) {
	for _, s := range suffix {
		sb.WriteString(", ")
		sb.WriteString(s)
	}
}
