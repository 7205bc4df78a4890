package codegen

import (
	"github.com/amberlang/amberjit/internal/asm"
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/value"
)

var cmpHelper = map[bytecode.CmpKind]HelperID{
	bytecode.CmpEq: HelperCmpEq,
	bytecode.CmpNe: HelperCmpNe,
	bytecode.CmpLt: HelperCmpLt,
	bytecode.CmpLe: HelperCmpLe,
	bytecode.CmpGt: HelperCmpGt,
	bytecode.CmpGe: HelperCmpGe,
}

// cmpSetcc is the SETcc condition that materializes kind's truth value
// out of a CMPQ lhs,rhs (flags = lhs-rhs) comparison directly, without
// a helper call, for the fixnum fast path both ruleCmp and ruleCondBr's
// fusion peephole share.
var cmpSetcc = map[bytecode.CmpKind]asm.Instruction{
	bytecode.CmpEq: amd64.SETEQ,
	bytecode.CmpNe: amd64.SETNE,
	bytecode.CmpLt: amd64.SETLT,
	bytecode.CmpLe: amd64.SETLE,
	bytecode.CmpGt: amd64.SETGT,
	bytecode.CmpGe: amd64.SETGE,
}

// cmpFalseJcc is cmpSetcc's negation: the condition under which kind's
// comparison is FALSE, used by the fused compare-and-branch path to
// jump straight to CondBr's target (taken on falsy, per ruleCondBr's
// existing convention) without ever materializing a boolean.
var cmpFalseJcc = map[bytecode.CmpKind]asm.Instruction{
	bytecode.CmpEq: amd64.JNE,
	bytecode.CmpNe: amd64.JEQ,
	bytecode.CmpLt: amd64.JGE,
	bytecode.CmpLe: amd64.JGT,
	bytecode.CmpGt: amd64.JLE,
	bytecode.CmpGe: amd64.JLT,
}

// ruleCmp lowers both Cmp (wide, register-register) and CmpRi (narrow,
// register-immediate). §4.3.2 notes comparisons are eligible for fusion
// with an immediately following CondBr; that peephole is implemented at
// the CondBr site (rules_control.go's cmpFusionOperands/ruleCondBr),
// keeping this rule itself a self-contained, always-correct
// materialize-a-boolean lowering: a fixnum/fixnum comparison is done
// inline via CMPQ+SETcc, tag-translating the 0/1 result into
// TrueValue/FalseValue (which differ by exactly 0x10, so a single
// shift-and-add recovers either tag from the SETcc byte); anything else
// falls back to the ABI helper, which also covers float and mixed
// operands.
func ruleCmp(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	info := mustCmpFusionInfo(cc, idx, b)

	info.lhsLoad(amd64.REG_AX)
	info.rhsLoad(amd64.REG_CX)
	cc.Asm.CompileRegisterToRegister(amd64.MOVQ, amd64.REG_AX, amd64.REG_DX)
	cc.Asm.CompileRegisterToRegister(amd64.ANDQ, amd64.REG_CX, amd64.REG_DX)
	constOpToReg(cc, amd64.TESTQ, 1, amd64.REG_DX)
	guardFail := cc.Asm.CompileJump(amd64.JEQ)

	cc.Asm.CompileRegisterToRegister(amd64.CMPQ, amd64.REG_CX, amd64.REG_AX)
	cc.Asm.CompileConstToRegister(amd64.MOVQ, 0, amd64.REG_AX)
	cc.Asm.CompileNoneToRegister(cmpSetcc[info.kind], amd64.REG_AX)
	cc.Asm.CompileConstToRegister(amd64.SHLQ, 4, amd64.REG_AX)
	cc.Asm.CompileConstToRegister(amd64.ADDQ, int64(value.FalseValue), amd64.REG_AX)
	storeSlot(cc, amd64.REG_AX, int(info.dst))
	done := cc.Asm.CompileJump(amd64.JMP)

	cc.Asm.SetJumpTargetOnNext(guardFail)
	info.lhsLoad(argRegs[0])
	info.rhsLoad(argRegs[1])
	callHelper(cg, cc, cmpHelper[info.kind])
	storeSlot(cc, amd64.REG_AX, int(info.dst))

	cc.Asm.SetJumpTargetOnNext(done)
	ctx.SetNone(int(info.dst))
	return ctx, nil
}

// cmpFusionInfo captures one Cmp/CmpRi instruction's operands in a form
// both ruleCmp and ruleCondBr's fusion peephole can consume without
// duplicating bytecode.Bc layout knowledge in two places.
type cmpFusionInfo struct {
	dst              uint16
	kind             bytecode.CmpKind
	lhsLoad, rhsLoad func(amd64.Register)
}

func mustCmpFusionInfo(cc *CompileContext, idx int, b bytecode.Bc) cmpFusionInfo {
	info, _ := cmpFusionOperands(cc, idx, b)
	return info
}

// cmpFusionOperands extracts idx's Cmp/CmpRi operands, or reports false
// if cc.Code[idx] is not a comparison at all (ruleCondBr probes idx-1
// speculatively, which may be any opcode).
func cmpFusionOperands(cc *CompileContext, idx int, b bytecode.Bc) (cmpFusionInfo, bool) {
	switch b.Op() {
	case bytecode.OpCmp:
		dst, lhs, rhs := b.Wide()
		kind := bytecode.CmpKind(uint8(b.Word2))
		return cmpFusionInfo{
			dst:     dst,
			kind:    kind,
			lhsLoad: func(r amd64.Register) { loadSlot(cc, int(lhs), r) },
			rhsLoad: func(r amd64.Register) { loadSlot(cc, int(rhs), r) },
		}, true
	case bytecode.OpCmpRi:
		dst, slot, imm := b.Wide()
		kind := bytecode.CmpKind(uint8(b.Word2))
		immVal := uint64(int32(imm))<<1 | 1
		return cmpFusionInfo{
			dst:     dst,
			kind:    kind,
			lhsLoad: func(r amd64.Register) { loadSlot(cc, int(slot), r) },
			rhsLoad: func(r amd64.Register) { loadImm64(cc, immVal, r) },
		}, true
	default:
		return cmpFusionInfo{}, false
	}
}
