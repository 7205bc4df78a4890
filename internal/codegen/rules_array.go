package codegen

import (
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
)

// ruleArray materializes a new array object from a contiguous run of
// slots; since allocation always touches the heap, this always routes
// through the Go side (ABI.MakeArray, a supplemented helper beyond
// §6's enumerated surface — see SPEC_FULL.md) rather than attempting
// an inline bump allocator (§9 leaves heap allocation strategy to the
// host, unlike monoruby's own generational GC-aware inline allocation).
// rbp is passed so the helper can read the contiguous slot run
// directly off the frame rather than requiring each element staged
// into an argument register.
func ruleArray(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, first, count := b.Wide()
	cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_BP, argRegs[0])
	loadImm64(cc, uint64(first), argRegs[1])
	loadImm64(cc, uint64(count), argRegs[2])
	callHelper(cg, cc, HelperMakeArray)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleIndex lowers element access through get_index (§6), which
// bounds-checks and returns an error Value.Value on out-of-range
// access per §4.3.2's "Index" paragraph.
func ruleIndex(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, recvSlot, idxSlot := b.Wide()
	loadSlot(cc, int(recvSlot), argRegs[0])
	loadSlot(cc, int(idxSlot), argRegs[1])
	callHelper(cg, cc, HelperGetIndex)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleIndexAssign lowers element assignment through set_index (§6).
func ruleIndexAssign(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	recvSlot, idxSlot, valSlot := b.Wide()
	loadSlot(cc, int(recvSlot), argRegs[0])
	loadSlot(cc, int(idxSlot), argRegs[1])
	loadSlot(cc, int(valSlot), argRegs[2])
	callHelper(cg, cc, HelperSetIndex)
	return ctx, nil
}

// ruleConcatStr lowers string concatenation through ABI.ConcatString;
// like ruleArray this always allocates and so always calls into the
// Go side.
func ruleConcatStr(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, lhs, rhs := b.Wide()
	loadSlot(cc, int(lhs), argRegs[0])
	loadSlot(cc, int(rhs), argRegs[1])
	callHelper(cg, cc, HelperConcatString)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}
