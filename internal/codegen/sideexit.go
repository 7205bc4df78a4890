package codegen

import (
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
)

// emitSideExit lowers a guard failure (a class check, an arity check,
// a cache-miss, or a float-speculation mismatch) into the deopt
// sequence described in §4.3.3: reconcile every live xmm mirror back
// to its stack slot so the interpreter's view of the frame is
// complete, record the bytecode position execution should resume at
// on the shared Interp struct (rbx), and jump to vm_return to unwind
// this native frame.
//
// Raw JIT code cannot safely re-enter the VM fallback's Go-level
// dispatch loop directly — doing so would call a Go function from a
// stack/register state the Go runtime doesn't recognize as its own
// (see DESIGN.md) — so unlike a classic "jump straight into the
// interpreter's fetch loop", this deopt always unwinds back to
// whichever Go frame called into this compiled method
// (jitmem.CallNative); that Go caller is the one that notices
// Interp.Deopted and actually resumes bytecode execution, exactly as
// if the JIT had never run this instruction, just one native/Go
// boundary crossing later than a single-address-space VM would need.
//
// Grounded on wazero's compileMaybeGrowValueStack/compileExitFromNativeCode
// pattern of "reconcile state, set a status/pc register, return to the
// host", generalized from wazero's single unconditional exit-to-host
// to this core's resumable, same-function deopt.
func emitSideExit(cg *Codegen, cc *CompileContext, ctx *BBContext, resumePC uint32) {
	reconcileXmm(cc, ctx)

	cc.Asm.CompileConstToRegister(amd64.MOVQ, int64(resumePC), RegScratch)
	cc.Asm.CompileRegisterToMemory(amd64.MOVQ, RegScratch, RegVMState, offsetInterpPC)
	cc.Asm.CompileConstToRegister(amd64.MOVQ, 1, RegScratch)
	cc.Asm.CompileRegisterToMemory(amd64.MOVQ, RegScratch, RegVMState, offsetInterpDeopted)

	// vm_return lives in a different, already-finalized page, so it
	// cannot be reached through the assembler's own same-assembly-unit
	// Node/SetJumpTargetOnNext mechanism; load its absolute address and
	// jump through a register instead, the same indirect-jump encoding
	// CALL reuses for helper calls (FF /4 rather than FF /2).
	target := cg.Mem.EntryAddress(cg.Labels["vm_return"])
	cc.Asm.CompileConstToRegister(amd64.MOVQ, int64(target), RegScratch)
	cc.Asm.CompileNoneToRegister(amd64.JMP, RegScratch)
}
