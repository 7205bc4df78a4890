package runtime

import (
	"sync"

	"github.com/amberlang/amberjit/internal/value"
)

// Interp is the per-execution interpreter state: the error slot (§7),
// mirroring the rbx register convention of §4.1 in Go-accessible form
// for the VM fallback and for runtime helper calls made from
// JIT-emitted code. PC and Deopted are the side-exit handoff described
// in §4.3.3: a guard failure writes the bytecode position execution
// should resume at and sets Deopted before returning control to its Go
// caller (jitmem.CallNative), since raw JIT code cannot safely re-enter
// the VM fallback's Go-level dispatch loop directly (see DESIGN.md) —
// the Go-side caller is the one that "jumps into the VM fetch loop"
// spec.md describes, once it observes Deopted set.
type Interp struct {
	Err     *Error
	PC      uint64
	Deopted uint64
}

// SetError records err on the interpreter's error slot, the Go
// realization of "None means an error has been set on the
// interpreter's error slot" (§7).
func (in *Interp) SetError(fid FuncID, line uint32, kind error) {
	in.Err = &Error{Kind: kind, FuncID: fid, Line: line}
}

// TakeDeopt reports whether a side exit left a pending resume point and
// clears it, so a caller can't act on a stale deopt from a prior call.
func (in *Interp) TakeDeopt() (pc uint32, ok bool) {
	if in.Deopted == 0 {
		return 0, false
	}
	pc, in.Deopted = uint32(in.PC), 0
	return pc, true
}

// Object is the minimal heap representation needed to exercise the
// runtime helpers and the attribute specialization in §4.3.2. The heap
// layout and GC are explicitly out of scope (§1); Go's own garbage
// collector stands in for it, and only the pointer-tag discipline
// (ClassID + ObjKind + an inline ivar array) is specified.
type Object struct {
	Class value.ClassID
	Kind  value.ObjKind

	InlineIvars [ObjectInlineIvar]value.Value
	ExtraIvars  map[uint32]value.Value

	Elements []value.Value // ObjKindArray
	Str      string        // ObjKindString
	Func     FuncID        // ObjKindProc
}

// Heap is a minimal object store. Objects are kept alive by Go's own
// GC via the objects slice; a pointer-tagged Value encodes a dense
// index into it (shifted left 3 bits, so the tag's low three bits read
// 000) rather than a raw machine pointer, so boxing never needs
// unsafe.Pointer/uintptr GC-hazard tricks.
type Heap struct {
	mu      sync.Mutex
	objects []*Object
}

// Box appends o to the heap and returns its pointer-tagged Value;
// boxing the same *Object twice yields two distinct Values.
func (h *Heap) Box(o *Object) value.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := len(h.objects)
	h.objects = append(h.objects, o)
	return value.Value(uint64(idx) << 3)
}

// Unbox resolves a pointer-tagged Value back to its *Object.
func (h *Heap) Unbox(v value.Value) *Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := uint64(v) >> 3
	if idx >= uint64(len(h.objects)) {
		return nil
	}
	return h.objects[idx]
}

// Globals is the process-wide state the core spec calls "globals*":
// the function table, class table, constant table and heap, all
// reachable from r12 in JIT-emitted code.
type Globals struct {
	Funcs   *FuncStore
	Classes *ClassTable
	Heap    *Heap

	constMu   sync.RWMutex
	constants map[uint32]value.Value

	LoopHotnessThreshold int32
}

func NewGlobals() *Globals {
	g := &Globals{
		Funcs:                NewFuncStore(),
		Classes:              NewClassTable(),
		Heap:                 &Heap{},
		constants:            make(map[uint32]value.Value),
		LoopHotnessThreshold: 10000,
	}
	// Box a throwaway object first so no real pointer-tagged value ever
	// comes out as the all-zero word, which collides with the "None"/
	// error-set sentinel every §6 helper's boxed-result slow path relies
	// on (dispatchHelper, helperdispatch.go).
	g.Heap.Box(&Object{})
	return g
}

// GetConstant/SetConstant back the LoadConst/StoreConst opcodes (§3,
// §6). A miss is a name error; ivar misses are not errors (they read
// nil per language semantics), which is why ivar access below never
// returns an error.
func (g *Globals) GetConstant(nameID uint32) (value.Value, error) {
	g.constMu.RLock()
	defer g.constMu.RUnlock()
	v, ok := g.constants[nameID]
	if !ok {
		return 0, ErrNameError
	}
	return v, nil
}

func (g *Globals) SetConstant(nameID uint32, v value.Value) {
	g.constMu.Lock()
	defer g.constMu.Unlock()
	g.constants[nameID] = v
	g.Classes.Bump()
}

