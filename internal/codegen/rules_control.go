package codegen

import (
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/runtime"
	"github.com/amberlang/amberjit/internal/value"
)

// ruleBr lowers an unconditional branch: emit a JMP and enqueue the
// target as a pending edge carrying the current BBContext, per
// §4.3.1 step 4.
func ruleBr(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	_, rel := b.Narrow()
	target := idx + 1 + int(int32(rel))
	node := cc.Asm.CompileJump(amd64.JMP)
	cc.AddPendingJump(target, node)
	cc.Enqueue(idx, target, ctx)
	return ctx, nil
}

// ruleCondBr lowers a conditional branch on a slot's truthiness
// (§4.3.2): the falsy test is the same bit trick value.IsTruthy uses,
// inlined rather than calling out, since it is a single OR+CMP. The
// branch is taken (falls to DestPos) when the slot is falsy; the
// fallthrough path (idx+1) is the truthy case. Both successors are
// enqueued with the same BBContext, since a boolean test never changes
// xmm mirroring state.
//
// When this CondBr's tested slot is exactly the immediately preceding
// instruction's Cmp/CmpRi result, §4.3.2's "comparisons are eligible
// for fusion with an immediately following CondBr" is implemented here
// as a peephole: a fixnum/fixnum comparison skips materializing a
// boolean altogether and jumps on the CMPQ flags directly. ruleCmp
// already unconditionally emitted a correct (helper-backed) boolean
// into that slot one instruction earlier, so the fused fast path only
// needs a fallback for its own fixnum guard failure, not for the
// comparison's correctness in general — that fallback re-tests the
// already-computed slot exactly as the unfused path below does.
func ruleCondBr(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	slot, rel := b.Narrow()
	target := idx + 1 + int(int32(rel))

	if idx > 0 {
		if info, ok := cmpFusionOperands(cc, idx-1, cc.Code[idx-1]); ok && info.dst == slot {
			if jcc, ok := cmpFalseJcc[info.kind]; ok {
				info.lhsLoad(amd64.REG_AX)
				info.rhsLoad(amd64.REG_CX)
				cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, amd64.REG_DX)
				cc.Asm.CompileRegisterToRegister(amd64.ANDQ, amd64.REG_CX, amd64.REG_DX)
				constOpToReg(cc, amd64.TESTQ, 1, amd64.REG_DX)
				guardFail := cc.Asm.CompileJump(amd64.JEQ)

				cc.Asm.CompileRegisterToRegister(amd64.CMPQ, amd64.REG_CX, amd64.REG_AX)
				fused := cc.Asm.CompileJump(jcc)
				cc.AddPendingJump(target, fused)
				done := cc.Asm.CompileJump(amd64.JMP)

				cc.Asm.SetJumpTargetOnNext(guardFail)
				loadSlot(cc, int(slot), amd64.REG_AX)
				constOpToReg(cc, amd64.ORQ, 0x10, amd64.REG_AX)
				constOpToReg(cc, amd64.CMPQ, int64(value.FalseValue), amd64.REG_AX)
				fallback := cc.Asm.CompileJump(amd64.JEQ)
				cc.AddPendingJump(target, fallback)

				cc.Asm.SetJumpTargetOnNext(done)
				cc.Enqueue(idx, target, ctx.Clone())
				cc.Enqueue(idx, idx+1, ctx)
				return ctx, nil
			}
		}
	}

	loadSlot(cc, int(slot), amd64.REG_AX)
	constOpToReg(cc, amd64.ORQ, 0x10, amd64.REG_AX)
	constOpToReg(cc, amd64.CMPQ, int64(value.FalseValue), amd64.REG_AX)
	node := cc.Asm.CompileJump(amd64.JEQ)

	cc.AddPendingJump(target, node)
	cc.Enqueue(idx, target, ctx.Clone())
	cc.Enqueue(idx, idx+1, ctx)
	return ctx, nil
}

// ruleRet lowers a return: reconcile any live xmm-only slot back to its
// stack location (so the caller, which only ever reads the stack slot
// representation, sees an up-to-date value), load the return slot into
// rax, restore rbp from the explicit caller-frame-pointer slot at
// OFFSET_CFP (this convention threads its own frame chain rather than
// the native push-rbp/pop-rbp one, since the interpreter's stack is a
// separate region from the native call stack — §3), and RET.
func ruleRet(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	slot, _ := b.Narrow()
	reconcileXmm(cc, ctx)
	loadSlot(cc, int(slot), amd64.REG_AX)
	cc.Asm.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, -int64(runtime.OffsetCFP)*8, amd64.REG_BP)
	cc.Asm.CompileStandAlone(amd64.RET)
	return ctx, nil
}

// reconcileXmm writes every ModeXmmRW slot's xmm mirror back to its
// stack location, the "reconciliation fixup" §4.3.1 requires at any
// point the abstract BBContext must agree with the concrete stack
// slots: function return, a helper call that can observe the stack
// directly, and a side exit (sideexit.go calls this too).
func reconcileXmm(cc *CompileContext, ctx *BBContext) {
	for s, info := range ctx.Slots {
		if info.Mode != ModeXmmRW {
			continue
		}
		cc.Asm.CompileRegisterToMemory(amd64.MOVQ, xmmReg(info.Xmm), amd64.REG_BP, slotOffsetBytes(s))
		ctx.SetXmm(s, info.Xmm, ModeXmmR)
	}
}

// ruleLoopStart lowers a trace marker at the top of a loop body: decrement
// the function's hotness counter for this PC and, once it reaches zero,
// call into the OSR entry helper which hands control to freshly
// CompileLoop-ed native code without reentering the VM (§4.3.3's closing
// paragraph). The counter/threshold comparison itself is Go-side: the
// emitted code calls HelperLoopCheck on every pass, which decrements the
// counter and, once it reaches zero, compiles the loop and returns its
// entry address; the code jumps there, and a zero return means carry on.
func ruleLoopStart(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	reconcileXmm(cc, ctx)
	loadImm64(cc, uint64(cc.FuncID), argRegs[0])
	loadImm64(cc, uint64(idx), argRegs[1])
	callHelper(cg, cc, HelperLoopCheck)

	constOpToReg(cc, amd64.CMPQ, 0, amd64.REG_AX)
	cold := cc.Asm.CompileJump(amd64.JEQ)
	cc.Asm.CompileNoneToRegister(amd64.JMP, amd64.REG_AX)
	cc.Asm.SetJumpTargetOnNext(cold)
	return ctx, nil
}

// ruleLoopEnd is a pure trace marker with no code of its own; it exists
// so discoverBasicBlocks and CompileLoop's OSR bound can locate the
// loop's back edge.
func ruleLoopEnd(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	return ctx, nil
}
