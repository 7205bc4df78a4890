package codegen

import (
	"fmt"

	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/jitmem"
	"github.com/amberlang/amberjit/internal/runtime"
)

// BuildTrampolines emits the small fixed set of native entry points
// every compiled method and every side exit jumps through, using the
// same hand-written amd64 encoder as per-method compilation rather
// than a second code path — matching wazero's own division of labor,
// where golang-asm (internal/asm/amd64_debug) is an opt-in correctness
// oracle and never the encoder that actually ships code (see
// SPEC_FULL.md's DOMAIN STACK section). Must be called once, before
// the first CompileMethod.
//
// Grounded on wazero's compiler.go compileHostFunction /
// compileExitFromNativeCode, which play the analogous role of a fixed
// native/Go boundary crossing point generalized here from a single
// "return to the Go caller" trampoline to this core's five-way split
// (function entry, return, cold method-miss resolution, divide-by-zero
// error raise, float box/unbox).
func (cg *Codegen) BuildTrampolines() error {
	trampolines := []struct {
		name  string
		build func(asm amd64.Assembler)
	}{
		{"vm_entry", buildVMEntry},
		{"vm_return", buildVMReturn},
		{"entry_find_method", buildEntryFindMethod(cg)},
		{"div_by_zero", buildDivByZero(cg)},
		{"f64_to_val", buildF64ToVal},
		{"heap_to_f64", buildHeapToF64},
	}

	cg.Mem.SelectPage(jitmem.PageSlow)
	for _, t := range trampolines {
		a, err := amd64.NewAssembler(amd64.REG_AX)
		if err != nil {
			return fmt.Errorf("codegen: allocating trampoline assembler for %s: %w", t.name, err)
		}
		impl := a.(amd64.Assembler)
		t.build(impl)
		code, err := impl.Assemble()
		if err != nil {
			return fmt.Errorf("codegen: assembling trampoline %s: %w", t.name, err)
		}
		lbl, err := cg.Mem.Emit(code)
		if err != nil {
			return fmt.Errorf("codegen: emitting trampoline %s: %w", t.name, err)
		}
		cg.Labels[t.name] = lbl
	}
	return cg.Mem.Finalize()
}

// buildVMEntry is the landing pad a CallKindVM stub jumps to before
// the interpreter has compiled a function: it simply RETs, since the
// real dispatch lives in internal/vm and this trampoline only exists
// so a freshly Defined FuncData has a valid, callable CodePointer
// before its first compile (§4's "stub-based lazy compilation").
func buildVMEntry(a amd64.Assembler) {
	a.CompileStandAlone(amd64.RET)
}

// buildVMReturn is the shared unwind epilogue every side exit jumps to
// (§4.3.3): by the time control reaches here, sideexit.go has already
// reconciled xmm state and recorded the deopt resume point on Interp,
// so this trampoline only needs to restore rbp from the caller-frame
// slot at OFFSET_CFP, same as an ordinary Ret, and hand control back to
// whatever called into this native frame — jitmem.CallNative's Go
// caller, which is the one that notices Interp.Deopted and actually
// resumes bytecode execution (see sideexit.go).
func buildVMReturn(a amd64.Assembler) {
	a.CompileMemoryToRegister(amd64.MOVQ, amd64.REG_BP, -int64(runtime.OffsetCFP)*8, amd64.REG_BP)
	a.CompileStandAlone(amd64.RET)
}

// buildEntryFindMethod loads the find_method helper's selector and
// address and calls through it. Compiled call sites do not jump here:
// ruleMethodCall calls HelperFindMethod directly through callHelper.
func buildEntryFindMethod(cg *Codegen) func(amd64.Assembler) {
	return func(a amd64.Assembler) {
		a.CompileConstToRegister(amd64.MOVQ, int64(HelperFindMethod), amd64.REG_AX)
		a.CompileConstToRegister(amd64.MOVQ, int64(cg.Helpers.Addr(HelperFindMethod)), RegScratch)
		a.CompileNoneToRegister(amd64.CALL, RegScratch)
		a.CompileStandAlone(amd64.RET)
	}
}

// buildDivByZero calls error_divide_by_zero (§6) through the helper
// table and then returns to its caller with an ordinary RET.
func buildDivByZero(cg *Codegen) func(amd64.Assembler) {
	return func(a amd64.Assembler) {
		a.CompileConstToRegister(amd64.MOVQ, int64(HelperErrorDivideByZero), amd64.REG_AX)
		a.CompileConstToRegister(amd64.MOVQ, int64(cg.Helpers.Addr(HelperErrorDivideByZero)), RegScratch)
		a.CompileNoneToRegister(amd64.CALL, RegScratch)
		a.CompileStandAlone(amd64.RET)
	}
}

// buildF64ToVal converts an unboxed xmm0 double into a tagged
// value.Value in rax using the rotate-left-3 encoding (§3), inlined
// here rather than calling out since it is pure bit manipulation with
// no allocation or error path.
func buildF64ToVal(a amd64.Assembler) {
	a.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_X0, amd64.REG_AX)
	a.CompileConstToRegister(amd64.ANDQ, ^int64(0b11), amd64.REG_AX)
	// ROLQ/ORQ have no const-to-register encoding; stage the constant
	// through CX/RegScratch and fall back to the register-register form.
	a.CompileConstToRegister(amd64.MOVQ, 3, amd64.REG_CX)
	a.CompileRegisterToRegister(amd64.ROLQ, amd64.REG_CX, amd64.REG_AX)
	a.CompileConstToRegister(amd64.ANDQ, ^int64(0b111), amd64.REG_AX)
	a.CompileConstToRegister(amd64.MOVQ, 0b010, RegScratch)
	a.CompileRegisterToRegister(amd64.ORQ, RegScratch, amd64.REG_AX)
	a.CompileStandAlone(amd64.RET)
}

// buildHeapToF64 is the inverse of buildF64ToVal: an inline-float
// tagged value.Value in rax is unrotated back into raw IEEE-754 bits
// in xmm0.
func buildHeapToF64(a amd64.Assembler) {
	a.CompileConstToRegister(amd64.ANDQ, ^int64(0b111), amd64.REG_AX)
	a.CompileConstToRegister(amd64.MOVQ, 3, amd64.REG_CX)
	a.CompileRegisterToRegister(amd64.RORQ, amd64.REG_CX, amd64.REG_AX)
	a.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, amd64.REG_X0)
	a.CompileStandAlone(amd64.RET)
}
