package codegen

import (
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/runtime"
)

// Shared emission primitives used by every per-opcode rule: reading and
// writing a stack slot relative to rbp (§3's frame layout), and calling
// one of the fixed C-ABI runtime helpers (§6) through RegScratch.
//
// Grounded on wazero's compiler_util.go helpers (compileReleaseRegisterToStack,
// compileLoadValueOnStackToRegister), generalized from its operand-stack
// addressing to this core's fixed slot index addressing.

func slotOffsetBytes(slot int) int64 {
	return -int64(runtime.SlotOffset(slot)) * 8
}

func loadSlot(cc *CompileContext, slot int, dst amd64.Register) {
	cc.Asm.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, slotOffsetBytes(slot), dst)
}

func storeSlot(cc *CompileContext, src amd64.Register, slot int) {
	cc.Asm.CompileRegisterToMemory(amd64.MOVQ, src, amd64.REG_BP, slotOffsetBytes(slot))
}

func loadImm64(cc *CompileContext, v uint64, dst amd64.Register) {
	cc.Asm.CompileConstToRegister(amd64.MOVQ, int64(v), dst)
}

// constOpToReg emits `reg = reg <instruction> imm` for an ALU
// instruction whose const-immediate form the encoder doesn't implement
// (only ADDQ/ANDQ/MOVQ/MOVL/SHLQ/SHRQ/XORQ and the PSxx shifts have a
// const-to-register encoding; ORQ/SUBQ/CMPQ/TESTQ and the arithmetic
// rotate/shift-by-immediate forms don't). It stages imm through
// RegScratch and falls back to the register-to-register encoding,
// which covers every instruction the generic ALU opcode table lists.
func constOpToReg(cc *CompileContext, instruction amd64.Instruction, imm int64, reg amd64.Register) {
	loadImm64(cc, uint64(imm), RegScratch)
	cc.Asm.CompileRegisterToRegister(instruction, RegScratch, reg)
}

// shiftOrRotateByImm emits `reg = reg <instruction> count` for SARQ,
// ROLQ or RORQ with an immediate shift/rotate count: the encoder only
// has a const-to-register encoding for SHLQ/SHRQ, and the
// register-to-register shift/rotate encoding hard-requires the count
// in CX, so count is staged there, saving and restoring CX's prior
// value through scratch if the caller still needs it afterward.
func shiftOrRotateByImm(cc *CompileContext, instruction amd64.Instruction, count int64, reg amd64.Register, preserveCX bool) {
	if reg == amd64.REG_CX {
		// The value being shifted is itself in CX, which the count must
		// also occupy; park it in scratch and shift that instead.
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_CX, RegScratch)
		loadImm64(cc, uint64(count), amd64.REG_CX)
		cc.Asm.CompileRegisterToRegister(instruction, amd64.REG_CX, RegScratch)
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, RegScratch, amd64.REG_CX)
		return
	}
	if preserveCX {
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_CX, RegScratch)
	}
	loadImm64(cc, uint64(count), amd64.REG_CX)
	cc.Asm.CompileRegisterToRegister(instruction, amd64.REG_CX, reg)
	if preserveCX {
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, RegScratch, amd64.REG_CX)
	}
}

// callHelper loads helperID's bound address into RegScratch and issues
// an indirect CALL through it, per §6's "fixed C-ABI surface" and the
// CALL (FF /2, register-indirect) encoding added to the native amd64
// encoder for this purpose (wazero's own copy never needed a CALL
// instruction, only JMP, since it has no notion of calling back into
// host-implemented helpers from already-compiled code the way this
// core's slow paths do).
//
// Every HelperID is bound to the same shared native entry point
// (regs.go's NewHelperTable/helperEntryAddr), so the CALL alone cannot
// tell the callee which ABI method to run; id itself is staged into rax
// immediately beforehand, which is otherwise free at this point (it is
// about to be overwritten by the callee's own return value anyway).
func callHelper(cg *Codegen, cc *CompileContext, id HelperID) {
	addr := cg.Helpers.Addr(id)
	loadImm64(cc, uint64(id), amd64.REG_AX)
	loadImm64(cc, uint64(addr), RegScratch)
	cc.Asm.CompileNoneToRegister(amd64.CALL, RegScratch)
}

// argRegs is the fixed register sequence helper calls stage their
// arguments into before the CALL, mirroring the System V AMD64 calling
// convention's integer argument registers (rdi, rsi, rdx, rcx).
var argRegs = []amd64.Register{amd64.REG_DI, amd64.REG_SI, amd64.REG_DX, amd64.REG_CX}
