package codegen

import (
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/value"
)

// ruleInteger materializes a fixnum literal directly into its
// destination slot: op1 is the destination slot, op2 the signed
// payload, per §4.3.2's "Constants" paragraph.
func ruleInteger(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, payload := b.Narrow()
	v := value.FromInt(int64(int32(payload)))
	loadImm64(cc, uint64(v), amd64.REG_AX)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleLiteral loads a pre-tagged value.Value cached in the aux word
// (used for Literal and Symbol, both of which are already-tagged
// payloads with no further encoding step).
func ruleLiteral(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, _ := b.Narrow()
	v := bytecode.UnpackLiteral(b.Word2)
	loadImm64(cc, uint64(v), amd64.REG_AX)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

func ruleNil(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, _ := b.Narrow()
	loadImm64(cc, uint64(value.NilValue), amd64.REG_AX)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleMov copies src slot to dst slot, carrying over its xmm mirror
// state verbatim rather than forcing a reload, per §4.3.2's "Mov is a
// context-preserving copy" note.
func ruleMov(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, src, _ := b.Wide()
	loadSlot(cc, int(src), amd64.REG_AX)
	storeSlot(cc, amd64.REG_AX, int(dst))
	info := ctx.Slots[src]
	if info.Mode == ModeNone {
		ctx.SetNone(int(dst))
	} else {
		ctx.SetXmm(int(dst), info.Xmm, info.Mode)
	}
	return ctx, nil
}

// ruleLoadConst reads a global constant by name id through the
// get_constant helper (§6), staging nameID in rdi.
func ruleLoadConst(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, nameID := b.Narrow()
	loadImm64(cc, uint64(nameID), argRegs[0])
	callHelper(cg, cc, HelperGetConstant)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleStoreConst writes a global constant through set_constant (§6),
// which also bumps the class-version counter since constants can hold
// classes reopened later.
func ruleStoreConst(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	nameID, src := b.Narrow()
	loadImm64(cc, uint64(nameID), argRegs[0])
	loadSlot(cc, int(src), argRegs[1])
	callHelper(cg, cc, HelperSetConstant)
	return ctx, nil
}
