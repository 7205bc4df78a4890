package codegen

import (
	"sort"

	"github.com/amberlang/amberjit/internal/asm"
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/jitmem"
)

// BranchEntry records one pending control-flow edge into a not-yet
// compiled basic block: the source instruction index, the BBContext
// live at that edge, and the label the edge's branch instruction
// should ultimately target. §4.3's opening paragraph.
type BranchEntry struct {
	SrcIdx   int
	Ctx      *BBContext
	DestPos  int
	DestLbl  jitmem.Label
	Resolved bool
}

// basicBlockInfo is computed once per function: the set of positions
// that begin a basic block (branch targets and the instruction after
// any branch/return), per §4.3's "Blocks are discovered once".
type basicBlockInfo struct {
	starts map[int]bool
}

func discoverBasicBlocks(code []bytecode.Bc) *basicBlockInfo {
	info := &basicBlockInfo{starts: map[int]bool{0: true}}
	for i, b := range code {
		switch b.Op() {
		case bytecode.OpBr:
			op1, op2 := b.Narrow()
			_ = op1
			target := i + 1 + int(int32(op2))
			info.starts[target] = true
			if i+1 < len(code) {
				info.starts[i+1] = true
			}
		case bytecode.OpCondBr:
			op1, op2 := b.Narrow()
			_ = op1
			target := i + 1 + int(int32(op2))
			info.starts[target] = true
			if i+1 < len(code) {
				info.starts[i+1] = true
			}
		case bytecode.OpRet:
			if i+1 < len(code) {
				info.starts[i+1] = true
			}
		case bytecode.OpLoopStart:
			info.starts[i] = true
		}
	}
	return info
}

// sortedStarts returns basic-block start positions in ascending order,
// per §4.3.1 step 2's "in ascending order" compilation requirement.
func (info *basicBlockInfo) sortedStarts() []int {
	out := make([]int, 0, len(info.starts))
	for p := range info.starts {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// CompileContext is the per-compilation state described in §2:
// basic-block map, branch/backedge worklists, labels, source map. One
// CompileContext is created per whole-function or partial (OSR) compile.
type CompileContext struct {
	Code   []bytecode.Bc
	Blocks *basicBlockInfo

	// pending maps a block start position to the list of not-yet-merged
	// incoming edges.
	pending map[int][]*BranchEntry

	// Asm is the single node-list assembler backing this whole
	// compilation unit. Wazero's own compiler.go builds one such
	// assembler per function body and calls Assemble() exactly once at
	// the end; this core follows the same shape.
	Asm amd64.Assembler

	// pendingJumps maps a not-yet-reached bytecode position to the
	// asm.Node instances whose jump target is that position, so the
	// driver can call Asm.SetJumpTargetOnNext once it starts compiling
	// the block at that position (§4.3.1's forward-branch patching).
	pendingJumps map[int][]asm.Node

	// FuncID identifies the function currently being compiled, needed
	// by rules that record deopt/error source locations.
	FuncID uint32

	// osrBound marks a CompileContext created by CompileLoop: the
	// driver stops at the first OpLoopEnd instead of walking to the
	// function's end.
	osrBound bool
}

func NewCompileContext(code []bytecode.Bc, startPos int, seed *BBContext, a amd64.Assembler, fid uint32) *CompileContext {
	cc := &CompileContext{
		Code:         code,
		Blocks:       discoverBasicBlocks(code),
		pending:      make(map[int][]*BranchEntry),
		Asm:          a,
		pendingJumps: make(map[int][]asm.Node),
		FuncID:       fid,
	}
	cc.pending[startPos] = append(cc.pending[startPos], &BranchEntry{SrcIdx: -1, Ctx: seed, DestPos: startPos, Resolved: true})
	return cc
}

// AddPendingJump records that node's jump target is destPos, to be
// resolved once the driver reaches that position.
func (cc *CompileContext) AddPendingJump(destPos int, node asm.Node) {
	cc.pendingJumps[destPos] = append(cc.pendingJumps[destPos], node)
}

// ResolvePendingJumps instructs Asm that every node previously recorded
// against pos should target the next emitted node, then clears them.
func (cc *CompileContext) ResolvePendingJumps(pos int) {
	nodes := cc.pendingJumps[pos]
	if len(nodes) == 0 {
		return
	}
	cc.Asm.SetJumpTargetOnNext(nodes...)
	delete(cc.pendingJumps, pos)
}

// Enqueue records a new pending edge into DestPos, cloning ctx so later
// mutation by the source block doesn't alias it (§4.3.1 step 4).
func (cc *CompileContext) Enqueue(srcIdx, destPos int, ctx *BBContext) {
	cc.pending[destPos] = append(cc.pending[destPos], &BranchEntry{SrcIdx: srcIdx, Ctx: ctx.Clone(), DestPos: destPos})
}

// TakePending returns and clears the pending entries for a block start
// position.
func (cc *CompileContext) TakePending(pos int) []*BranchEntry {
	entries := cc.pending[pos]
	delete(cc.pending, pos)
	return entries
}

// HasPending reports whether pos has at least one undelivered edge.
func (cc *CompileContext) HasPending(pos int) bool {
	return len(cc.pending[pos]) > 0
}

