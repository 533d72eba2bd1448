package ir

import (
	"fmt"
	"strings"
)

// Opcode identifies the kind of an instruction. The set is closed: anything
// the parser does not recognize becomes OpOpaque with its text retained.
type Opcode string

const (
	OpCompare Opcode = "compare"
	OpBranch  Opcode = "branch"
	OpCall    Opcode = "call"
	OpReturn  Opcode = "return"
	OpAlloca  Opcode = "allocate"
	OpLoad    Opcode = "load"
	OpStore   Opcode = "store"
	OpPhi     Opcode = "phi"
	OpBinary  Opcode = "binary-op"
	OpOpaque  Opcode = "opaque"
)

// IsTerminator reports whether instructions of this opcode end a basic block.
// Opaque instructions may also sit in terminator position (e.g. unreachable);
// that is decided per instruction, not per opcode.
func (o Opcode) IsTerminator() bool {
	return o == OpBranch || o == OpReturn
}

// Instruction is a single IR instruction. Structured fields drive analysis
// and transformation; Text preserves the exact source line so untouched
// instructions emit byte-identically.
type Instruction struct {
	ID        int      `json:"id"`
	Op        Opcode   `json:"op"`
	Result    string   `json:"result,omitempty"`    // SSA name, without '%'
	Mnemonic  string   `json:"mnemonic,omitempty"`  // textual opcode as written (icmp, add, br, ...)
	Predicate string   `json:"predicate,omitempty"` // comparison predicate (eq, ne, slt, ...)
	Flags     []string `json:"flags,omitempty"`     // wrapping flags on binary ops (nsw, nuw, exact)
	Type      string   `json:"type,omitempty"`      // operand/result type as written
	PtrType   string   `json:"ptr_type,omitempty"`  // pointer operand type for load/store
	CastTo    string   `json:"cast_to,omitempty"`   // destination type for conversion ops
	Operands  []string `json:"operands,omitempty"`  // value operands as written (%x, 42, @g)
	Labels    []string `json:"labels,omitempty"`    // successor block labels, without '%'
	Callee    string   `json:"callee,omitempty"`    // called symbol, without '@'
	Args      string   `json:"args,omitempty"`      // verbatim call argument list
	Suffix    []string `json:"suffix,omitempty"`    // trailing comma segments kept verbatim (align, ...)
	Block     string   `json:"block"`               // owning block label
	Synthetic bool     `json:"synthetic,omitempty"` // inserted by the transformer
	Text      string   `json:"text,omitempty"`      // exact source line, trimmed; empty until rendered
}

// IsComparison reports whether the instruction is a comparison.
func (i *Instruction) IsComparison() bool {
	return i.Op == OpCompare
}

// ProducesValue reports whether the instruction defines a result name.
func (i *Instruction) ProducesValue() bool {
	return i.Result != ""
}

// HasSideEffect reports whether duplicating the instruction could change
// program behavior. Opaque instructions are conservatively side-effecting:
// the pass cannot prove otherwise.
func (i *Instruction) HasSideEffect() bool {
	switch i.Op {
	case OpCall, OpStore, OpOpaque:
		return true
	}
	return false
}

// IsTerminator reports whether the instruction ends its block. Opaque
// instructions count only for the known non-returning form.
func (i *Instruction) IsTerminator() bool {
	if i.Op.IsTerminator() {
		return true
	}
	return i.Op == OpOpaque && strings.TrimSpace(i.Text) == "unreachable"
}

// IsComment reports whether the instruction is an opaque comment line.
func (i *Instruction) IsComment() bool {
	return i.Op == OpOpaque && strings.HasPrefix(strings.TrimSpace(i.Text), ";")
}

// BasicBlock is a straight-line instruction sequence ending in one
// terminator. Label is empty for an unlabeled entry block.
type BasicBlock struct {
	Label  string `json:"label"`
	Instrs []int  `json:"instrs"` // ordered instruction ids
}

// Terminator returns the id of the block's terminator (its last
// instruction), or -1 for an empty block.
func (b *BasicBlock) Terminator() int {
	if len(b.Instrs) == 0 {
		return -1
	}
	return b.Instrs[len(b.Instrs)-1]
}

// Function is an ordered list of basic blocks. The first block is the entry.
type Function struct {
	Name   string         `json:"name"`
	Header string         `json:"header"` // verbatim define line, including the opening brace
	Params []string       `json:"params"` // parameter value names, without '%'
	Blocks []*BasicBlock  `json:"blocks"`
	Instrs []*Instruction `json:"instrs"` // indexed by Instruction.ID

	defs map[string]int // result name -> instruction id
}

// NewFunction creates an empty function.
func NewFunction(name, header string, params []string) *Function {
	return &Function{
		Name:   name,
		Header: header,
		Params: params,
		defs:   make(map[string]int),
	}
}

// Entry returns the entry block, or nil for a bodyless function.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Block returns the block with the given label, or nil.
func (f *Function) Block(label string) *BasicBlock {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Instr returns the instruction with the given id, or nil.
func (f *Function) Instr(id int) *Instruction {
	if id < 0 || id >= len(f.Instrs) {
		return nil
	}
	return f.Instrs[id]
}

// Def returns the instruction defining the given result name.
func (f *Function) Def(name string) (*Instruction, bool) {
	if f.defs == nil {
		return nil, false
	}
	id, ok := f.defs[name]
	if !ok {
		return nil, false
	}
	return f.Instrs[id], true
}

// HasParam reports whether name is a function parameter.
func (f *Function) HasParam(name string) bool {
	for _, p := range f.Params {
		if p == name {
			return true
		}
	}
	return false
}

// AddBlock appends a new block and returns it. The label must be unique
// within the function (empty is allowed once, for the entry block).
func (f *Function) AddBlock(label string) (*BasicBlock, error) {
	if label != "" && f.Block(label) != nil {
		return nil, fmt.Errorf("duplicate block label %q in function %s", label, f.Name)
	}
	b := &BasicBlock{Label: label}
	f.Blocks = append(f.Blocks, b)
	return b, nil
}

// InsertBlockAfter places b immediately after the block labeled after.
func (f *Function) InsertBlockAfter(after string, b *BasicBlock) error {
	if b.Label != "" && f.Block(b.Label) != nil {
		return fmt.Errorf("duplicate block label %q in function %s", b.Label, f.Name)
	}
	for i, blk := range f.Blocks {
		if blk.Label == after {
			f.Blocks = append(f.Blocks[:i+1], append([]*BasicBlock{b}, f.Blocks[i+1:]...)...)
			return nil
		}
	}
	return fmt.Errorf("no block labeled %q in function %s", after, f.Name)
}

// Append adds an instruction to the end of the given block, assigning its id
// and registering its result name. SSA uniqueness is enforced here.
func (f *Function) Append(b *BasicBlock, inst *Instruction) (*Instruction, error) {
	if err := f.register(inst); err != nil {
		return nil, err
	}
	inst.Block = b.Label
	b.Instrs = append(b.Instrs, inst.ID)
	return inst, nil
}

// InsertAfter splices instructions into the owning block immediately after
// the instruction with the given id, preserving the order of insts.
func (f *Function) InsertAfter(id int, insts ...*Instruction) error {
	b, pos := f.locate(id)
	if b == nil {
		return fmt.Errorf("instruction %d not found in function %s", id, f.Name)
	}
	for _, inst := range insts {
		if err := f.register(inst); err != nil {
			return err
		}
		inst.Block = b.Label
	}
	ids := make([]int, len(insts))
	for i, inst := range insts {
		ids[i] = inst.ID
	}
	b.Instrs = append(b.Instrs[:pos+1], append(ids, b.Instrs[pos+1:]...)...)
	return nil
}

// Positions returns the program-order index of every instruction id,
// following block order then in-block order.
func (f *Function) Positions() map[int]int {
	pos := make(map[int]int, len(f.Instrs))
	n := 0
	for _, b := range f.Blocks {
		for _, id := range b.Instrs {
			pos[id] = n
			n++
		}
	}
	return pos
}

// InstrCount returns the number of instructions, excluding comment lines.
func (f *Function) InstrCount() int {
	n := 0
	for _, b := range f.Blocks {
		for _, id := range b.Instrs {
			if !f.Instrs[id].IsComment() {
				n++
			}
		}
	}
	return n
}

func (f *Function) register(inst *Instruction) error {
	if inst.Result != "" {
		if f.defs == nil {
			f.defs = make(map[string]int)
		}
		if prev, ok := f.defs[inst.Result]; ok {
			return fmt.Errorf("result %%%s redefined in function %s (first defined by instruction %d)",
				inst.Result, f.Name, prev)
		}
		f.defs[inst.Result] = len(f.Instrs)
	}
	inst.ID = len(f.Instrs)
	f.Instrs = append(f.Instrs, inst)
	return nil
}

func (f *Function) locate(id int) (*BasicBlock, int) {
	for _, b := range f.Blocks {
		for i, cur := range b.Instrs {
			if cur == id {
				return b, i
			}
		}
	}
	return nil, -1
}

// Item is one top-level entry of a module: either a verbatim global line or
// a function. Globals are opaque pass-through; their content is never
// interpreted beyond exact-line matching.
type Item struct {
	Global string    `json:"global,omitempty"`
	Func   *Function `json:"func,omitempty"`
}

// Module is an ordered list of top-level items built once from a fixed input
// text and mutated only by the transformer.
type Module struct {
	Items []Item `json:"items"`
}

// Functions returns the module's functions in declaration order.
func (m *Module) Functions() []*Function {
	var fns []*Function
	for _, it := range m.Items {
		if it.Func != nil {
			fns = append(fns, it.Func)
		}
	}
	return fns
}

// AddGlobal appends a verbatim top-level line.
func (m *Module) AddGlobal(line string) {
	m.Items = append(m.Items, Item{Global: line})
}

// AddFunction appends a function item.
func (m *Module) AddFunction(f *Function) {
	m.Items = append(m.Items, Item{Func: f})
}

// EnsureDeclaration inserts the given top-level line before the first
// function unless an identical line is already present. Used for the
// fault-handler declaration, which must appear exactly once.
func (m *Module) EnsureDeclaration(line string) {
	for _, it := range m.Items {
		if it.Func == nil && strings.TrimSpace(it.Global) == strings.TrimSpace(line) {
			return
		}
	}
	for i, it := range m.Items {
		if it.Func != nil {
			items := append([]Item{}, m.Items[:i]...)
			items = append(items, Item{Global: line}, Item{Global: ""})
			items = append(items, m.Items[i:]...)
			m.Items = items
			return
		}
	}
	m.AddGlobal(line)
}

// InstrCount returns the total instruction count across all functions,
// excluding comment lines.
func (m *Module) InstrCount() int {
	n := 0
	for _, f := range m.Functions() {
		n += f.InstrCount()
	}
	return n
}
