package codegen

import (
	"github.com/amberlang/amberjit/internal/asm"
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/value"
)

var binHelper = map[bytecode.BinOpKind]HelperID{
	bytecode.BinAdd:    HelperAddValues,
	bytecode.BinSub:    HelperSubValues,
	bytecode.BinMul:    HelperMulValues,
	bytecode.BinDiv:    HelperDivValues,
	bytecode.BinBitOr:  HelperBitOrValues,
	bytecode.BinBitAnd: HelperBitAndValues,
	bytecode.BinBitXor: HelperBitXorValues,
	bytecode.BinShr:    HelperShrValues,
	bytecode.BinShl:    HelperShlValues,
}

// xmmArithOp is the subset of BinOpKind with a direct SSE2 lowering
// once both operands are confirmed float (§4.3.2's "Float speculation"
// paragraph); division and bitwise/shift ops on floats are never valid
// Ruby-like semantics and always route through the helper.
var xmmArithOp = map[bytecode.BinOpKind]asm.Instruction{
	bytecode.BinAdd: amd64.ADDSD,
	bytecode.BinSub: amd64.SUBSD,
	bytecode.BinMul: amd64.MULSD,
	bytecode.BinDiv: amd64.DIVSD,
}

// ruleBinOp lowers a wide-layout BinOp: op1=dst, op2=lhs, op3=rhs slots,
// with the BinCacheKind type-feedback word deciding whether to try the
// xmm fast path (§4.3.2). When the feedback says both operands are
// float, ensureFloatXmm makes each operand live in xmm (guarding its
// float tag and loading it if it is not mirrored yet); if either cannot
// be placed in xmm, the fixnum fast path is tried next, and failing
// that the boxed helper is called.
func ruleBinOp(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, lhs, rhs := b.Wide()
	kind := bytecode.BinOpKind(uint8(b.Word2))
	cache := bytecode.UnpackBinCache(b.Word2)

	if xi, ok := xmmArithOp[kind]; ok && isFloatClass(cache.LHSClass) && isFloatClass(cache.RHSClass) {
		if ensureFloatXmm(cg, cc, ctx, int(lhs), uint32(idx)) && ensureFloatXmm(cg, cc, ctx, int(rhs), uint32(idx)) {
			lInfo, rInfo := ctx.Slots[lhs], ctx.Slots[rhs]
			cc.Asm.CompileRegisterToRegister(xi, xmmReg(rInfo.Xmm), xmmReg(lInfo.Xmm))
			ctx.SetXmm(int(dst), lInfo.Xmm, ModeXmmRW)
			return ctx, nil
		}
	}

	loadLHS := func(dstReg amd64.Register) { loadSlot(cc, int(lhs), dstReg) }
	loadRHS := func(dstReg amd64.Register) { loadSlot(cc, int(rhs), dstReg) }
	if emitFixnumFastPath(cg, cc, loadLHS, loadRHS, int(dst), kind) {
		ctx.SetNone(int(dst))
		return ctx, nil
	}

	loadSlot(cc, int(lhs), argRegs[0])
	loadSlot(cc, int(rhs), argRegs[1])
	callHelper(cg, cc, binHelper[kind])
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// emitFixnumFastPath emits an inline guarded fast path for the fixnum
// arithmetic/bitwise/shift families of §4.3.2's "fixnum fast paths"
// paragraph: a tag-bit guard on both operands, then a kind-specific
// tag-preserving computation, falling through to a freshly reloaded
// call to kind's boxed helper on a guard failure (either operand isn't
// a fixnum), an arithmetic overflow (add/sub), or an out-of-range shift
// amount (shr/shl) — the helper's own ABI methods already handle the
// overflow-promotes-to-float and negative/saturating-shift edge cases
// correctly, so the fast path only needs to recognize the common case
// and bail out to full precision rather than duplicate that logic.
// Returns false without emitting anything for mul/div, which have no
// branch-free tagged-arithmetic trick worth inlining here.
func emitFixnumFastPath(cg *Codegen, cc *CompileContext, loadLHS, loadRHS func(amd64.Register), dst int, kind bytecode.BinOpKind) bool {
	helper, ok := binHelper[kind]
	if !ok {
		return false
	}
	switch kind {
	case bytecode.BinAdd, bytecode.BinSub, bytecode.BinBitOr, bytecode.BinBitAnd, bytecode.BinBitXor, bytecode.BinShr, bytecode.BinShl:
	default:
		return false
	}

	loadLHS(amd64.REG_AX)
	loadRHS(amd64.REG_CX)

	// Fixnum guard: AX&CX&1 == 1 only when both operands carry the tag
	// bit, the same trick ensureFloatXmm uses for the float tag check.
	cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, amd64.REG_DX)
	cc.Asm.CompileRegisterToRegister(amd64.ANDQ, amd64.REG_CX, amd64.REG_DX)
	constOpToReg(cc, amd64.TESTQ, 1, amd64.REG_DX)
	fails := []asm.Node{cc.Asm.CompileJump(amd64.JEQ)}

	switch kind {
	case bytecode.BinAdd:
		// (x<<1|1)+(y<<1|1) = (x+y)<<1+2, so a raw register add followed
		// by -1 recovers the tagged sum directly; overflow of that raw
		// add is checked via the standard two's-complement trick
		// ((origLHS^sum)&(origRHS^sum) < 0) rather than a CPU overflow
		// flag (the encoder this core uses has no JO/JNO condition).
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, amd64.REG_DX)
		cc.Asm.CompileRegisterToRegister(amd64.ADDQ, amd64.REG_CX, amd64.REG_AX)
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_CX, amd64.REG_SI)
		cc.Asm.CompileRegisterToRegister(amd64.XORQ, amd64.REG_AX, amd64.REG_SI)
		cc.Asm.CompileRegisterToRegister(amd64.XORQ, amd64.REG_AX, amd64.REG_DX)
		cc.Asm.CompileRegisterToRegister(amd64.ANDQ, amd64.REG_SI, amd64.REG_DX)
		fails = append(fails, cc.Asm.CompileJump(amd64.JMI))
		constOpToReg(cc, amd64.SUBQ, 1, amd64.REG_AX)

	case bytecode.BinSub:
		// (x<<1|1)-(y<<1|1) = (x-y)<<1, so a raw register sub followed
		// by |1 recovers the tagged difference; overflow uses the
		// matching subtraction trick ((origLHS^origRHS)&(origLHS^diff) < 0).
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, amd64.REG_DX)
		cc.Asm.CompileRegisterToRegister(amd64.SUBQ, amd64.REG_CX, amd64.REG_AX)
		cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_CX, amd64.REG_SI)
		cc.Asm.CompileRegisterToRegister(amd64.XORQ, amd64.REG_DX, amd64.REG_SI)
		cc.Asm.CompileRegisterToRegister(amd64.XORQ, amd64.REG_AX, amd64.REG_DX)
		cc.Asm.CompileRegisterToRegister(amd64.ANDQ, amd64.REG_DX, amd64.REG_SI)
		fails = append(fails, cc.Asm.CompileJump(amd64.JMI))
		constOpToReg(cc, amd64.ORQ, 1, amd64.REG_AX)

	case bytecode.BinBitAnd:
		// Both operands tag 1&1=1: the tag survives an AND untouched.
		cc.Asm.CompileRegisterToRegister(amd64.ANDQ, amd64.REG_CX, amd64.REG_AX)

	case bytecode.BinBitOr:
		// Both operands tag 1|1=1: the tag survives an OR untouched.
		cc.Asm.CompileRegisterToRegister(amd64.ORQ, amd64.REG_CX, amd64.REG_AX)

	case bytecode.BinBitXor:
		// Unlike AND/OR, XOR cancels the shared tag bit (1^1=0), so it
		// must be re-OR'd in afterward.
		cc.Asm.CompileRegisterToRegister(amd64.XORQ, amd64.REG_CX, amd64.REG_AX)
		constOpToReg(cc, amd64.ORQ, 1, amd64.REG_AX)

	case bytecode.BinShr, bytecode.BinShl:
		// Decode the shift count and bail to the helper for the
		// negative-reverses-direction / magnitude>=64-saturates edge
		// cases (§4.3.2's "Shift" paragraph), which the inline path
		// doesn't replicate; the common small-nonnegative-count case
		// is all that's worth guarding for here. shiftOrRotateByImm
		// parks CX's own value in RegScratch while it stages the
		// constant shift count there, since the decode target (CX
		// itself) and the count register are the same register here.
		shiftOrRotateByImm(cc, amd64.SARQ, 1, amd64.REG_CX, false)
		constOpToReg(cc, amd64.CMPQ, 0, amd64.REG_CX)
		fails = append(fails, cc.Asm.CompileJump(amd64.JLT))
		constOpToReg(cc, amd64.CMPQ, 64, amd64.REG_CX)
		fails = append(fails, cc.Asm.CompileJump(amd64.JGE))

		shiftOrRotateByImm(cc, amd64.SARQ, 1, amd64.REG_AX, true)
		if kind == bytecode.BinShl {
			cc.Asm.CompileRegisterToRegister(amd64.SHLQ, amd64.REG_CX, amd64.REG_AX)
		} else {
			cc.Asm.CompileRegisterToRegister(amd64.SARQ, amd64.REG_CX, amd64.REG_AX)
		}
		cc.Asm.CompileConstToRegister(amd64.SHLQ, 1, amd64.REG_AX)
		constOpToReg(cc, amd64.ORQ, 1, amd64.REG_AX)
	}

	storeSlot(cc, amd64.REG_AX, dst)
	done := cc.Asm.CompileJump(amd64.JMP)

	cc.Asm.SetJumpTargetOnNext(fails...)
	loadLHS(argRegs[0])
	loadRHS(argRegs[1])
	callHelper(cg, cc, helper)
	storeSlot(cc, amd64.REG_AX, dst)

	cc.Asm.SetJumpTargetOnNext(done)
	return true
}

// isFloatClass reports whether a cached class id from a prior
// execution's BinCacheKind observed the Float class, the type-feedback
// signal that makes attempting the xmm fast path worthwhile at all.
func isFloatClass(id uint32) bool {
	return value.ClassID(id) == value.ClassFloat
}

// ensureFloatXmm makes slot's value available in an xmm register,
// guarding that it is actually still a float at runtime (type feedback
// is a hint, not a proof) and side-exiting to resumePC on mismatch,
// per §4.3.2's "Float speculation" paragraph. Returns false (without
// emitting a guard) only when no xmm register is free to allocate,
// in which case the caller falls back to the boxed helper instead of
// guarding a fast path it can't actually take.
func ensureFloatXmm(cg *Codegen, cc *CompileContext, ctx *BBContext, slot int, resumePC uint32) bool {
	if ctx.Slots[slot].Mode != ModeNone {
		return true
	}
	f, ok := ctx.TakeFreeXmm()
	if !ok {
		return false
	}
	loadSlot(cc, slot, amd64.REG_AX)
	cc.Asm.CompileConstToRegister(amd64.ANDQ, 0b111, amd64.REG_AX)
	constOpToReg(cc, amd64.CMPQ, 0b010, amd64.REG_AX)
	skip := cc.Asm.CompileJump(amd64.JEQ)
	emitSideExit(cg, cc, ctx, resumePC)
	cc.Asm.SetJumpTargetOnNext(skip)

	loadSlot(cc, slot, amd64.REG_AX)
	cc.Asm.CompileConstToRegister(amd64.ANDQ, ^int64(0b111), amd64.REG_AX)
	shiftOrRotateByImm(cc, amd64.RORQ, 3, amd64.REG_AX, false)
	cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, xmmReg(f))
	ctx.SetXmm(slot, f, ModeXmmR)
	return true
}

// ruleBinOpImm lowers BinOpRi/BinOpIr (one operand is an immediate
// fixnum payload folded into the instruction at compile time); both
// still route through the boxed helper, staging the immediate as a
// materialized tagged value rather than a raw integer, since the
// helper's overflow/promotion semantics (ABI.AddValues et al.) are
// defined over value.Value pairs.
func ruleBinOpImm(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, slot, imm := b.Wide()
	kind := bytecode.BinOpKind(uint8(b.Word2))
	immVal := uint64(int32(imm))<<1 | 1 // fixnum-tag the folded immediate

	var loadLHS, loadRHS func(amd64.Register)
	if b.Op() == bytecode.OpBinOpRi {
		loadLHS = func(dstReg amd64.Register) { loadSlot(cc, int(slot), dstReg) }
		loadRHS = func(dstReg amd64.Register) { loadImm64(cc, immVal, dstReg) }
	} else {
		loadLHS = func(dstReg amd64.Register) { loadImm64(cc, immVal, dstReg) }
		loadRHS = func(dstReg amd64.Register) { loadSlot(cc, int(slot), dstReg) }
	}
	if emitFixnumFastPath(cg, cc, loadLHS, loadRHS, int(dst), kind) {
		ctx.SetNone(int(dst))
		return ctx, nil
	}

	loadLHS(argRegs[0])
	loadRHS(argRegs[1])
	callHelper(cg, cc, binHelper[kind])
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleNeg lowers unary negation through ABI.NegValue (§6); fixnums and
// floats both need overflow/sign-bit handling that's simplest left to
// the shared helper rather than duplicated inline.
func ruleNeg(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, src := b.Narrow()
	loadSlot(cc, int(src), argRegs[0])
	callHelper(cg, cc, HelperNegValue)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// xmmReg maps a BBContext xmm index (0-15) to its amd64.Register.
func xmmReg(f int) amd64.Register {
	return amd64.REG_X0 + amd64.Register(f)
}
