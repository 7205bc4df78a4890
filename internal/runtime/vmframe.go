package runtime

import (
	"unsafe"

	"github.com/amberlang/amberjit/internal/value"
)

// VMFrame is the Go-owned backing storage for one call's native stack
// frame, addressed exactly the way compiled code addresses it:
// rbp-relative, per §3's "slot address is rbp - (slot.index*8 +
// OFFSET_SELF)" invariant. method_invoker-style callers build a
// VMFrame, hand BasePointer() to compiled code as rbp via
// jitmem.CallNative, and read locals/results back afterward through
// Slot without any unsafe pointer arithmetic at the call site.
//
// A VMFrame's cells slice is heap-allocated and never grows once
// created, so taking its address and handing it to native code across
// the jitmem.CallNative boundary is safe: unlike a goroutine's own
// stack, a heap allocation is never moved by the Go runtime.
type VMFrame struct {
	cells []value.Value
}

// NewVMFrame allocates a frame with room for regNum local slots plus
// the fixed header cells (§3: caller-frame-pointer linkage, outer-env
// pointer, packed meta word, block argument, self/arg0).
func NewVMFrame(regNum int) *VMFrame {
	return &VMFrame{cells: make([]value.Value, regNum+OffsetSelf+1)}
}

// indexForOffset converts an rbp-relative word offset into cells'
// increasing-address index: offset k lives at BasePointer()-k*8, and
// BasePointer() is one past the end of cells, so offset k is cells
// index len(cells)-k.
func (f *VMFrame) indexForOffset(off int) int { return len(f.cells) - off }

func (f *VMFrame) SetCFP(v uintptr) { f.cells[f.indexForOffset(OffsetCFP)] = value.Value(v) }
func (f *VMFrame) CFP() uintptr     { return uintptr(f.cells[f.indexForOffset(OffsetCFP)]) }

func (f *VMFrame) SetOuter(v uintptr) { f.cells[f.indexForOffset(OffsetOuter)] = value.Value(v) }
func (f *VMFrame) Outer() uintptr     { return uintptr(f.cells[f.indexForOffset(OffsetOuter)]) }

func (f *VMFrame) SetMeta(m Meta) { f.cells[f.indexForOffset(OffsetMeta)] = value.Value(m.Pack()) }
func (f *VMFrame) Meta() Meta     { return UnpackMeta(uint64(f.cells[f.indexForOffset(OffsetMeta)])) }

func (f *VMFrame) SetBlock(v value.Value) { f.cells[f.indexForOffset(OffsetBlock)] = v }
func (f *VMFrame) Block() value.Value     { return f.cells[f.indexForOffset(OffsetBlock)] }

// SetSlot/Slot address the abstract local-storage cells bytecode
// refers to; slot 0 coincides with OFFSET_SELF (§3's "arguments/local
// slots begin at the self offset"), so SetSlot(0, self) is how a
// caller installs the receiver.
func (f *VMFrame) SetSlot(idx int, v value.Value) { f.cells[f.indexForOffset(SlotOffset(idx))] = v }
func (f *VMFrame) Slot(idx int) value.Value        { return f.cells[f.indexForOffset(SlotOffset(idx))] }

// BasePointer returns the rbp value compiled code should be entered
// with.
func (f *VMFrame) BasePointer() uintptr {
	return uintptr(unsafe.Pointer(&f.cells[0])) + uintptr(len(f.cells))*8
}
