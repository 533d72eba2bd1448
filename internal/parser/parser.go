// Package parser turns the textual IR dialect into a structured ir.Module.
//
// The parser is line-oriented and best-effort by design: function headers,
// block labels, and the closed instruction set parse structurally; any other
// line is retained verbatim as an Opaque instruction (in a function body) or
// an opaque global (at top level). Only structural violations - an
// unterminated function, a duplicate result name, a malformed known opcode -
// are errors. This guarantees round-trip fidelity for real-world IR the pass
// does not fully understand.
package parser

import (
	"fmt"
	"strings"

	"github.com/roach88/faultguard/internal/ir"
)

// Opcode classification tables. Anything absent from all tables falls back
// to Opaque.
var (
	compareMnemonics = map[string]bool{"icmp": true, "fcmp": true}

	binaryMnemonics = map[string]bool{
		"add": true, "sub": true, "mul": true,
		"udiv": true, "sdiv": true, "urem": true, "srem": true,
		"fadd": true, "fsub": true, "fmul": true, "fdiv": true, "frem": true,
		"and": true, "or": true, "xor": true,
		"shl": true, "lshr": true, "ashr": true,
	}

	castMnemonics = map[string]bool{
		"sext": true, "zext": true, "trunc": true, "bitcast": true,
		"inttoptr": true, "ptrtoint": true,
		"fpext": true, "fptrunc": true,
		"sitofp": true, "uitofp": true, "fptosi": true, "fptoui": true,
	}
)

// Parse builds a Module from dialect text. It fails with a ParseError on the
// first grammar violation; there is no error recovery.
func Parse(text string) (*ir.Module, error) {
	m := &ir.Module{}

	var fn *ir.Function
	var block *ir.BasicBlock

	lines := strings.Split(text, "\n")
	// A trailing newline produces one empty trailing element; drop it so we
	// do not emit a spurious blank global.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	for n, raw := range lines {
		lineNo := n + 1
		trimmed := strings.TrimSpace(raw)

		if fn == nil {
			if strings.HasPrefix(trimmed, "define ") {
				parsed, err := parseHeader(trimmed)
				if err != nil {
					return nil, &ParseError{Line: lineNo, Reason: err.Error()}
				}
				fn = parsed
				block = nil
				m.AddFunction(fn)
				continue
			}
			m.AddGlobal(raw)
			continue
		}

		switch {
		case trimmed == "}":
			fn = nil
			block = nil

		case trimmed == "":
			// Blank lines inside a body are layout, not content.

		case isLabelLine(trimmed):
			label := labelOf(trimmed)
			b, err := fn.AddBlock(label)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
			block = b

		default:
			if block == nil {
				// Unlabeled entry block.
				b, err := fn.AddBlock("")
				if err != nil {
					return nil, &ParseError{Line: lineNo, Reason: err.Error()}
				}
				block = b
			}
			inst, err := parseInstruction(trimmed)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
			inst.Text = trimmed
			if ir.SyntheticResult(inst.Result) || ir.SyntheticLabel(block.Label) {
				inst.Synthetic = true
			}
			if _, err := fn.Append(block, inst); err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
		}
	}

	if fn != nil {
		return nil, &ParseError{Line: len(lines), Reason: fmt.Sprintf("unterminated function %s: missing closing '}'", fn.Name)}
	}
	return m, nil
}

// parseHeader parses a "define ... @name(params) {" line.
func parseHeader(line string) (*ir.Function, error) {
	if !strings.HasSuffix(line, "{") {
		return nil, fmt.Errorf("function header must end with '{': %q", line)
	}
	at := strings.Index(line, "@")
	if at < 0 {
		return nil, fmt.Errorf("function header missing '@name': %q", line)
	}
	open := strings.Index(line[at:], "(")
	if open < 0 {
		return nil, fmt.Errorf("function header missing parameter list: %q", line)
	}
	open += at
	close_ := strings.LastIndex(line, ")")
	if close_ < open {
		return nil, fmt.Errorf("function header missing ')': %q", line)
	}

	name := line[at+1 : open]
	if name == "" {
		return nil, fmt.Errorf("function header has empty name: %q", line)
	}

	var params []string
	for _, part := range strings.Split(line[open+1:close_], ",") {
		fields := strings.Fields(part)
		for i := len(fields) - 1; i >= 0; i-- {
			if strings.HasPrefix(fields[i], "%") {
				params = append(params, strings.TrimPrefix(fields[i], "%"))
				break
			}
		}
	}
	return ir.NewFunction(name, line, params), nil
}

func isLabelLine(trimmed string) bool {
	code := stripComment(trimmed)
	if !strings.HasSuffix(code, ":") {
		return false
	}
	label := code[:len(code)-1]
	if label == "" {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}

func labelOf(trimmed string) string {
	code := stripComment(trimmed)
	return code[:len(code)-1]
}

// stripComment removes a trailing "; ..." comment. The dialect has no string
// literals, so the first semicolon always starts a comment.
func stripComment(line string) string {
	if i := strings.Index(line, ";"); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return strings.TrimSpace(line)
}

// parseInstruction classifies one body line. The structured fields are parsed
// from the comment-stripped text; the caller stores the verbatim line
// separately for byte-exact emission.
func parseInstruction(trimmed string) (*ir.Instruction, error) {
	code := stripComment(trimmed)
	if code == "" || strings.HasPrefix(trimmed, ";") {
		return &ir.Instruction{Op: ir.OpOpaque}, nil
	}

	result := ""
	rest := code
	if strings.HasPrefix(code, "%") {
		if eq := strings.Index(code, " = "); eq > 0 {
			candidate := code[1:eq]
			if candidate != "" && !strings.ContainsAny(candidate, " \t") {
				result = candidate
				rest = code[eq+3:]
			}
		}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return &ir.Instruction{Op: ir.OpOpaque}, nil
	}
	head := fields[0]

	switch {
	case compareMnemonics[head]:
		return parseCompare(result, rest)
	case binaryMnemonics[head]:
		return parseBinary(result, rest)
	case castMnemonics[head]:
		return parseCast(result, fields)
	case head == "load" && result != "":
		return parseLoad(result, rest)
	case head == "store" && result == "":
		return parseStore(rest)
	case head == "alloca" && result != "":
		return parseAlloca(result, rest)
	case head == "phi" && result != "":
		return parsePhi(result, rest)
	case head == "call":
		return parseCall(result, rest)
	case head == "br" && result == "":
		return parseBranch(fields)
	case head == "ret" && result == "":
		return parseReturn(fields)
	default:
		return &ir.Instruction{Op: ir.OpOpaque, Result: result}, nil
	}
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseCompare(result, rest string) (*ir.Instruction, error) {
	segs := splitComma(rest)
	head := strings.Fields(segs[0])
	if result == "" || len(segs) != 2 || len(head) != 4 || len(strings.Fields(segs[1])) != 1 {
		return nil, fmt.Errorf("malformed comparison: expected '%%r = icmp <pred> <ty> <a>, <b>', got %q", rest)
	}
	return &ir.Instruction{
		Op:        ir.OpCompare,
		Result:    result,
		Mnemonic:  head[0],
		Predicate: head[1],
		Type:      head[2],
		Operands:  []string{head[3], segs[1]},
	}, nil
}

func parseBinary(result, rest string) (*ir.Instruction, error) {
	segs := splitComma(rest)
	head := strings.Fields(segs[0])
	if result == "" || len(segs) != 2 || len(head) < 3 || len(strings.Fields(segs[1])) != 1 {
		return nil, fmt.Errorf("malformed binary op: expected '%%r = <op> <ty> <a>, <b>', got %q", rest)
	}
	return &ir.Instruction{
		Op:       ir.OpBinary,
		Result:   result,
		Mnemonic: head[0],
		Flags:    head[1 : len(head)-2],
		Type:     head[len(head)-2],
		Operands: []string{head[len(head)-1], segs[1]},
	}, nil
}

func parseCast(result string, fields []string) (*ir.Instruction, error) {
	if result == "" || len(fields) != 5 || fields[3] != "to" {
		return nil, fmt.Errorf("malformed conversion: expected '%%r = %s <ty> <a> to <ty>'", fields[0])
	}
	return &ir.Instruction{
		Op:       ir.OpBinary,
		Result:   result,
		Mnemonic: fields[0],
		Type:     fields[1],
		Operands: []string{fields[2]},
		CastTo:   fields[4],
	}, nil
}

func parseLoad(result, rest string) (*ir.Instruction, error) {
	segs := splitComma(rest)
	if len(segs) < 2 {
		return nil, fmt.Errorf("malformed load: expected '%%r = load <ty>, <ptrty> <p>', got %q", rest)
	}
	head := strings.Fields(segs[0])
	ptr := strings.Fields(segs[1])
	if len(head) != 2 || len(ptr) != 2 {
		return nil, fmt.Errorf("malformed load: expected '%%r = load <ty>, <ptrty> <p>', got %q", rest)
	}
	return &ir.Instruction{
		Op:       ir.OpLoad,
		Result:   result,
		Mnemonic: "load",
		Type:     head[1],
		PtrType:  ptr[0],
		Operands: []string{ptr[1]},
		Suffix:   segs[2:],
	}, nil
}

func parseStore(rest string) (*ir.Instruction, error) {
	segs := splitComma(rest)
	if len(segs) < 2 {
		return nil, fmt.Errorf("malformed store: expected 'store <ty> <v>, <ptrty> <p>', got %q", rest)
	}
	head := strings.Fields(segs[0])
	ptr := strings.Fields(segs[1])
	if len(head) != 3 || len(ptr) != 2 {
		return nil, fmt.Errorf("malformed store: expected 'store <ty> <v>, <ptrty> <p>', got %q", rest)
	}
	return &ir.Instruction{
		Op:       ir.OpStore,
		Mnemonic: "store",
		Type:     head[1],
		PtrType:  ptr[0],
		Operands: []string{head[2], ptr[1]},
		Suffix:   segs[2:],
	}, nil
}

func parseAlloca(result, rest string) (*ir.Instruction, error) {
	segs := splitComma(rest)
	head := strings.Fields(segs[0])
	if len(head) < 2 {
		return nil, fmt.Errorf("malformed alloca: expected '%%r = alloca <ty>', got %q", rest)
	}
	return &ir.Instruction{
		Op:       ir.OpAlloca,
		Result:   result,
		Mnemonic: "alloca",
		Type:     strings.Join(head[1:], " "),
		Suffix:   segs[1:],
	}, nil
}

func parsePhi(result, rest string) (*ir.Instruction, error) {
	fields := strings.Fields(rest)
	if len(fields) < 3 {
		return nil, fmt.Errorf("malformed phi: expected '%%r = phi <ty> [ <v>, %%<l> ], ...', got %q", rest)
	}
	ty := fields[1]

	var operands, labels []string
	s := rest
	for {
		open := strings.Index(s, "[")
		if open < 0 {
			break
		}
		close_ := strings.Index(s[open:], "]")
		if close_ < 0 {
			return nil, fmt.Errorf("malformed phi: unclosed incoming pair in %q", rest)
		}
		pair := splitComma(s[open+1 : open+close_])
		if len(pair) != 2 || !strings.HasPrefix(pair[1], "%") {
			return nil, fmt.Errorf("malformed phi: expected '[ <v>, %%<l> ]' in %q", rest)
		}
		operands = append(operands, pair[0])
		labels = append(labels, strings.TrimPrefix(pair[1], "%"))
		s = s[open+close_+1:]
	}
	if len(operands) == 0 {
		return nil, fmt.Errorf("malformed phi: no incoming pairs in %q", rest)
	}
	return &ir.Instruction{
		Op:       ir.OpPhi,
		Result:   result,
		Mnemonic: "phi",
		Type:     ty,
		Operands: operands,
		Labels:   labels,
	}, nil
}

func parseCall(result, rest string) (*ir.Instruction, error) {
	at := strings.Index(rest, " @")
	if at < 0 {
		return nil, fmt.Errorf("malformed call: missing '@callee' in %q", rest)
	}
	ty := strings.TrimSpace(strings.TrimPrefix(rest[:at], "call"))
	open := strings.Index(rest[at:], "(")
	close_ := strings.LastIndex(rest, ")")
	if open < 0 || close_ < at+open {
		return nil, fmt.Errorf("malformed call: missing argument list in %q", rest)
	}
	open += at
	callee := rest[at+2 : open]
	args := rest[open+1 : close_]

	// Value operands are extracted from the argument list for dependency
	// analysis; the list itself is kept verbatim for emission.
	var operands []string
	for _, f := range strings.Fields(args) {
		f = strings.TrimSuffix(f, ",")
		if strings.HasPrefix(f, "%") {
			operands = append(operands, f)
		}
	}
	return &ir.Instruction{
		Op:       ir.OpCall,
		Result:   result,
		Mnemonic: "call",
		Type:     ty,
		Callee:   callee,
		Args:     args,
		Operands: operands,
	}, nil
}

func parseBranch(fields []string) (*ir.Instruction, error) {
	clean := func(s string) string {
		return strings.TrimPrefix(strings.TrimSuffix(s, ","), "%")
	}
	switch {
	case len(fields) == 3 && fields[1] == "label":
		return &ir.Instruction{
			Op:       ir.OpBranch,
			Mnemonic: "br",
			Labels:   []string{clean(fields[2])},
		}, nil
	case len(fields) == 7 && fields[1] == "i1" && fields[3] == "label" && fields[5] == "label":
		return &ir.Instruction{
			Op:       ir.OpBranch,
			Mnemonic: "br",
			Operands: []string{strings.TrimSuffix(fields[2], ",")},
			Labels:   []string{clean(fields[4]), clean(fields[6])},
		}, nil
	default:
		return nil, fmt.Errorf("malformed branch: expected 'br label %%<l>' or 'br i1 <c>, label %%<t>, label %%<f>', got %q",
			strings.Join(fields, " "))
	}
}

func parseReturn(fields []string) (*ir.Instruction, error) {
	switch len(fields) {
	case 2:
		return &ir.Instruction{Op: ir.OpReturn, Mnemonic: "ret", Type: fields[1]}, nil
	case 3:
		return &ir.Instruction{
			Op:       ir.OpReturn,
			Mnemonic: "ret",
			Type:     fields[1],
			Operands: []string{fields[2]},
		}, nil
	default:
		return nil, fmt.Errorf("malformed return: expected 'ret <ty> [<v>]', got %q", strings.Join(fields, " "))
	}
}
