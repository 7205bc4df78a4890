package codegen

import (
	"unsafe"

	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/runtime"
)

// ruleMethodArgs emits no code: a MethodArgs always immediately
// precedes the MethodCall that consumes it, and its aux word (the call
// site's packed name_id/func_id pair) is read by ruleMethodCall, which
// passes that word's address to the helper.
func ruleMethodArgs(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	return ctx, nil
}

// ruleMethodCall lowers a call site (§4.3.2's "Method dispatch"
// paragraph). This core's fast path does not build an inline-cached
// direct-call sequence (class_id/version hit -> CALL straight through
// the resolved entry): that would also need the fast path to construct
// the callee's frame (Meta/Block/Self layout, §3) inline, a larger
// feature than this iteration adds (see DESIGN.md). Instead it stages
// rbp and the call's slot geometry — mirroring ruleArray's precedent of
// passing the frame pointer itself when a helper needs more operands
// than fit in argRegs — so HelperFindMethod's dispatch case
// (helperdispatch.go) can read the receiver and argument values
// directly off the frame and perform a genuine resolve-and-invoke
// through the VM's existing call-dispatch logic (codegen.CallDispatcher),
// rather than only resolving a FuncData and leaving invocation to the
// caller.
func ruleMethodCall(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, op2 := b.Narrow()
	recvSlot, argc := unpackSlotAndName(op2)
	cacheAddr := uint64(uintptr(unsafe.Pointer(&cc.Code[idx-1].Word2)))

	reconcileXmm(cc, ctx)
	cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_BP, argRegs[0])
	loadImm64(cc, uint64(recvSlot), argRegs[1])
	loadImm64(cc, uint64(argc), argRegs[2])
	loadImm64(cc, cacheAddr, argRegs[3])
	callHelper(cg, cc, HelperFindMethod)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleMethodDef lowers a method definition: define_method (§6) records
// nameID -> funcID on the target class and bumps its version, which
// invalidates every inline cache keyed on that class in O(1) (§4.3.2's
// "Inline caching" paragraph).
func ruleMethodDef(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	classSlot, nameID := b.Narrow()
	funcID := uint32(b.Word2)
	loadSlot(cc, int(classSlot), argRegs[0])
	loadImm64(cc, uint64(nameID), argRegs[1])
	loadImm64(cc, uint64(funcID), argRegs[2])
	callHelper(cg, cc, HelperDefineMethod)
	return ctx, nil
}

// ruleYield lowers a block-argument invocation through get_block_data
// (§6), which resolves the caller's passed block (OFFSET_BLOCK) and
// invokes it; this core does not inline block bodies, matching §9's
// design note that block dispatch always goes through the boxed helper
// path. Like ruleMethodCall, rbp and the argument run's slot geometry
// are staged so HelperGetBlockData's dispatch case can gather the
// call's arguments directly off the frame and perform a real invoke
// through codegen.CallDispatcher, not just resolve the block's FuncData.
func ruleYield(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, argc := b.Narrow()
	reconcileXmm(cc, ctx)
	cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_BP, argRegs[0])
	cc.Asm.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, blockSlotOffset(), argRegs[1])
	loadImm64(cc, uint64(dst), argRegs[2])
	loadImm64(cc, uint64(argc), argRegs[3])
	callHelper(cg, cc, HelperGetBlockData)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

func blockSlotOffset() int64 {
	return -int64(runtime.OffsetBlock) * 8
}
