// Package codegen is the x86-64 method-JIT code generator: the emitter
// and trampolines (§4.1), the per-basic-block register allocator
// (§3 BBContext / §4.3.1), and the per-opcode compilation rules
// (§4.3.2, §4.3.3).
//
// Grounded on wazero's internal/engine/compiler/compiler_value_location.go
// (the valueLocation / valueLocationStack abstraction is the direct
// analog of StackSlotInfo / BBContext) and compiler.go (the
// one-method-per-opcode compiler interface shape), generalized from
// WebAssembly's stack machine to this core's slot-indexed register
// file and its xmm-mirroring float speculation.
package codegen

import "fmt"

// Mode is the mirroring state of one stack slot, per §3's BBContext.
type Mode uint8

const (
	// ModeNone: canonical location is the stack slot; no xmm mirror.
	ModeNone Mode = iota
	// ModeXmmR: the slot's value is also in an xmm register as an
	// unboxed f64, but the stack slot remains authoritative — a
	// read-only cached copy.
	ModeXmmR
	// ModeXmmRW: the slot is a float whose authoritative location is
	// the xmm register; the stack slot is stale until written back.
	ModeXmmRW
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModeXmmR:
		return "XmmR"
	case ModeXmmRW:
		return "XmmRW"
	default:
		return "invalid"
	}
}

// StackSlotInfo is one stack slot's abstract state within a BBContext.
type StackSlotInfo struct {
	Mode Mode
	Xmm  int // valid iff Mode != ModeNone
}

// NumXmm is the number of xmm registers a BBContext tracks (xmm0 is
// reserved scratch for reconciliation swaps, per §4.3.1's
// reconciliation fixup; TakeFreeXmm hands out xmm1-xmm15 for
// mirroring).
const NumXmm = 16

// BBContext is the per-basic-block abstract register state described
// in §3: which stack slots are mirrored in which xmm registers, and the
// inverse map from xmm register to the set of slots it backs (a single
// xmm may back multiple aliased slots).
type BBContext struct {
	RegNum int
	Slots  []StackSlotInfo
	Xmm    [NumXmm]map[int]bool // xmm[f] -> set of slot indices
}

// NewBBContext returns the empty BBContext used to seed start_pos, per
// §4.3.1 step 1: reg_num slots, all None.
func NewBBContext(regNum int) *BBContext {
	c := &BBContext{RegNum: regNum, Slots: make([]StackSlotInfo, regNum)}
	for i := range c.Xmm {
		c.Xmm[i] = make(map[int]bool)
	}
	return c
}

// Clone deep-copies the context, used when a terminal instruction
// enqueues successors (§4.3.1 step 4: "cloned BBContext").
func (c *BBContext) Clone() *BBContext {
	n := &BBContext{RegNum: c.RegNum, Slots: make([]StackSlotInfo, len(c.Slots))}
	copy(n.Slots, c.Slots)
	for i, set := range c.Xmm {
		cp := make(map[int]bool, len(set))
		for s := range set {
			cp[s] = true
		}
		n.Xmm[i] = cp
	}
	return n
}

// SetNone forgets any xmm mirroring for slot s.
func (c *BBContext) SetNone(s int) {
	old := c.Slots[s]
	if old.Mode != ModeNone {
		delete(c.Xmm[old.Xmm], s)
	}
	c.Slots[s] = StackSlotInfo{Mode: ModeNone}
}

// SetXmm assigns slot s to mirror xmm register f in mode, maintaining
// the inverse map. Invariant (§8): afterwards s ∈ xmm[f] and
// stack_slot[s].xmm == f.
func (c *BBContext) SetXmm(s int, f int, mode Mode) {
	old := c.Slots[s]
	if old.Mode != ModeNone && old.Xmm != f {
		delete(c.Xmm[old.Xmm], s)
	}
	c.Slots[s] = StackSlotInfo{Mode: mode, Xmm: f}
	c.Xmm[f][s] = true
}

// TakeFreeXmm returns a vacant xmm register (one backing no slot),
// used when a slot needs to be mirrored and is currently None, per the
// "allocates a vacant xmm if the slot is None" rule in §4.3.2's "Float
// speculation" paragraph. Register 0 is reserved scratch for
// reconciliation swaps and is never allocated here.
func (c *BBContext) TakeFreeXmm() (int, bool) {
	for f := 1; f < NumXmm; f++ {
		if len(c.Xmm[f]) == 0 {
			return f, true
		}
	}
	return 0, false
}

// Validate checks the BBContext soundness invariants from §8: every
// mirrored slot belongs to its xmm's inverse-map entry, and vice versa.
func (c *BBContext) Validate() error {
	for s, info := range c.Slots {
		if info.Mode == ModeNone {
			continue
		}
		if !c.Xmm[info.Xmm][s] {
			return fmt.Errorf("codegen: slot %d claims xmm%d but is not in its inverse map", s, info.Xmm)
		}
	}
	for f, set := range c.Xmm {
		for s := range set {
			if c.Slots[s].Xmm != f || c.Slots[s].Mode == ModeNone {
				return fmt.Errorf("codegen: xmm%d inverse map contains slot %d whose own state disagrees", f, s)
			}
		}
	}
	return nil
}

// MergeSlot implements the join rule of §4.3.1 step 2 for a single slot,
// used when reconciling all pending worklist entries into a
// basic block's entry context.
func MergeSlot(a, b StackSlotInfo) StackSlotInfo {
	switch {
	case a.Mode == ModeXmmR && b.Mode == ModeXmmR:
		return StackSlotInfo{Mode: ModeXmmR, Xmm: a.Xmm}
	case a.Mode == ModeXmmRW && b.Mode == ModeXmmR, a.Mode == ModeXmmR && b.Mode == ModeXmmRW:
		return StackSlotInfo{Mode: ModeXmmR, Xmm: a.Xmm}
	case a.Mode == ModeXmmRW && b.Mode == ModeXmmRW:
		return StackSlotInfo{Mode: ModeXmmRW, Xmm: a.Xmm}
	default:
		return StackSlotInfo{Mode: ModeNone}
	}
}

// MergeContexts merges every pending BBContext in entries into a single
// entry context for a basic block, per §4.3.1 step 2. All entries must
// share the same RegNum.
func MergeContexts(entries []*BBContext) *BBContext {
	if len(entries) == 0 {
		return nil
	}
	merged := NewBBContext(entries[0].RegNum)
	for s := 0; s < merged.RegNum; s++ {
		cur := entries[0].Slots[s]
		for _, e := range entries[1:] {
			cur = MergeSlot(cur, e.Slots[s])
		}
		if cur.Mode == ModeNone {
			merged.SetNone(s)
		} else {
			merged.SetXmm(s, cur.Xmm, cur.Mode)
		}
	}
	return merged
}
