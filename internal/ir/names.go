package ir

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Counter start values, matching the register/block numbering the original
// protected modules shipped with.
const (
	firstRegister = 1000
	firstBlock    = 100
)

// NameAllocator hands out fresh, module-unique names for synthetic registers
// and blocks. It is an explicit context threaded through the transformer,
// never process-wide state, so parallel per-function transformation stays
// safe. Name collisions are structurally impossible: every synthetic name
// comes from here, and SeedFrom advances the counters past any marker names
// already present in the input.
type NameAllocator struct {
	mu  sync.Mutex
	reg int
	blk int
}

// NewNameAllocator creates an allocator with the conventional start values.
func NewNameAllocator() *NameAllocator {
	return &NameAllocator{reg: firstRegister, blk: firstBlock}
}

// Register returns the next register name for the given marker prefix,
// e.g. Register(DupPrefix) -> "dup_1000". Duplicate and verification names
// share one counter so interleaved allocations never collide.
func (a *NameAllocator) Register(prefix string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := fmt.Sprintf("%s%d", prefix, a.reg)
	a.reg++
	return name
}

// BlockPair returns matching safe/fault labels sharing one sequence number,
// e.g. ("safe_100", "fault_100").
func (a *NameAllocator) BlockPair() (safe, fault string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	safe = fmt.Sprintf("%s%d", SafeBlockPrefix, a.blk)
	fault = fmt.Sprintf("%s%d", FaultBlockPrefix, a.blk)
	a.blk++
	return safe, fault
}

// SeedFrom advances the counters past every marker-suffixed name already in
// the module, so protecting already-protected input can never reuse a name.
func (a *NameAllocator) SeedFrom(m *Module) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range m.Functions() {
		for _, inst := range f.Instrs {
			a.bumpRegLocked(inst.Result, DupPrefix)
			a.bumpRegLocked(inst.Result, VerifyPrefix)
		}
		for _, b := range f.Blocks {
			a.bumpBlkLocked(b.Label, SafeBlockPrefix)
			a.bumpBlkLocked(b.Label, FaultBlockPrefix)
		}
	}
}

func (a *NameAllocator) bumpRegLocked(name, prefix string) {
	if n, ok := markerSuffix(name, prefix); ok && n >= a.reg {
		a.reg = n + 1
	}
}

func (a *NameAllocator) bumpBlkLocked(label, prefix string) {
	if n, ok := markerSuffix(label, prefix); ok && n >= a.blk {
		a.blk = n + 1
	}
}

func markerSuffix(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}
