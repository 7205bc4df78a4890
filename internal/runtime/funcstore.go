package runtime

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/amberlang/amberjit/internal/bytecode"
)

// FuncID is a dense identifier indexing into a FuncStore, playing the
// role the core spec assigns to a bare FuncId: an index into a store
// owned by the globals rather than a pointer the codegen and the
// function mutually own, which is how the cyclic Codegen/FuncData
// reference in §9's design notes is broken in a memory-safe host.
type FuncID uint32

// SourceLine maps a bytecode program counter to a source line; FuncData
// carries a sorted slice of these so vm_return can attach a location to
// a propagating error, per §7. This is a supplemented feature absent
// from the distilled spec (see SPEC_FULL.md) but present in the
// original implementation's bytecode-to-source mapping.
type SourceLine struct {
	PC   uint32
	Line uint32
}

// FuncData is one function's descriptor: its bytecode, its native entry
// point once compiled, and the bookkeeping the JIT driver needs to
// compile, re-patch and deoptimize it.
type FuncData struct {
	ID FuncID

	Code []bytecode.Bc

	// CodePointer is the function's current native entry. It begins
	// pointing at a shared JIT stub (CallKind VM) and is patched in
	// place to point at freshly emitted code after the first
	// successful compile (CallKind JIT).
	CodePointer unsafe.Pointer

	PCBase uint32
	RegNum uint16

	// SourceMap is sorted ascending by PC; see SourceLine.
	SourceMap []SourceLine

	// loopCounters tracks the remaining hotness budget for each
	// LoopStart site, keyed by bytecode PC, for on-stack replacement
	// (§4.3.3's closing paragraph).
	loopCounters map[uint32]int32
}

// LineFor resolves a bytecode PC to its nearest source line via binary
// search over SourceMap, falling back to the last known line.
func (f *FuncData) LineFor(pc uint32) uint32 {
	lo, hi := 0, len(f.SourceMap)
	for lo < hi {
		mid := (lo + hi) / 2
		if f.SourceMap[mid].PC <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return f.SourceMap[lo-1].Line
}

// DecrementLoopCounter decrements the hotness counter for the LoopStart
// at pc, initializing it from threshold on first sight, and reports
// whether it has just reached zero (triggering partial JIT compile).
func (f *FuncData) DecrementLoopCounter(pc uint32, threshold int32) (hot bool) {
	if f.loopCounters == nil {
		f.loopCounters = make(map[uint32]int32)
	}
	c, ok := f.loopCounters[pc]
	if !ok {
		c = threshold
	}
	c--
	f.loopCounters[pc] = c
	return c <= 0
}

// FuncStore owns every FuncData in the process, indexed densely by
// FuncID. All codegen patches to CodePointer go through the store
// rather than through a pointer the codegen holds directly, matching
// §9's "cyclic references ... broken by making FuncData an index into a
// store owned by the globals" design note.
type FuncStore struct {
	mu    sync.RWMutex
	funcs []*FuncData
}

func NewFuncStore() *FuncStore {
	return &FuncStore{}
}

// Define registers a new function and returns its id.
func (s *FuncStore) Define(code []bytecode.Bc, regNum uint16) FuncID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := FuncID(len(s.funcs))
	s.funcs = append(s.funcs, &FuncData{ID: id, Code: code, RegNum: regNum})
	return id
}

// Get returns the FuncData for id, or an error if id is out of range.
func (s *FuncStore) Get(id FuncID) (*FuncData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.funcs) {
		return nil, fmt.Errorf("runtime: func id %d out of range (have %d)", id, len(s.funcs))
	}
	return s.funcs[id], nil
}

// PatchCodePointer rewrites id's native entry point in place. Callers
// must hold the mutator-quiescent invariant described in §5: patches
// happen at method boundaries, never concurrently with execution of the
// patched function.
func (s *FuncStore) PatchCodePointer(id FuncID, p unsafe.Pointer) error {
	fd, err := s.Get(id)
	if err != nil {
		return err
	}
	fd.CodePointer = p
	return nil
}
