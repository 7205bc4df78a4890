package codegen

import (
	"unsafe"

	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
)

// ivarCacheAddr bakes the address of this instruction's own aux word
// into the generated code as an immediate: the inline cache for an
// ivar site lives inline in the bytecode stream (§4.2's aux word), and
// FuncData.Code is allocated once and never reallocated after a
// function is handed to the compiler, so its elements' addresses are
// stable for the lifetime of the compiled entry.
func ivarCacheAddr(cc *CompileContext, idx int) uint64 {
	return uint64(uintptr(unsafe.Pointer(&cc.Code[idx].Word2)))
}

// unpackSlotAndName splits a narrow op2 word into a 16-bit slot index
// and a 16-bit name id, the packing LoadIvar/StoreIvar use since they
// each need three small operands (a destination or source slot, a
// receiver slot, and a name id) but the narrow layout only carries
// op1:u16 plus op2:u32.
func unpackSlotAndName(op2 uint32) (slot, nameID uint16) {
	return uint16(op2 >> 16), uint16(op2)
}

// ruleLoadIvar reads an instance variable through
// get_instance_var_with_cache (§6), staging receiver, name id and the
// inline cache's address.
func ruleLoadIvar(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	dst, op2 := b.Narrow()
	recvSlot, nameID := unpackSlotAndName(op2)
	loadSlot(cc, int(recvSlot), argRegs[0])
	loadImm64(cc, uint64(nameID), argRegs[1])
	loadImm64(cc, ivarCacheAddr(cc, idx), argRegs[2])
	callHelper(cg, cc, HelperGetInstanceVar)
	storeSlot(cc, amd64.REG_AX, int(dst))
	ctx.SetNone(int(dst))
	return ctx, nil
}

// ruleStoreIvar writes an instance variable through
// set_instance_var_with_cache (§6).
func ruleStoreIvar(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	srcSlot, op2 := b.Narrow()
	recvSlot, nameID := unpackSlotAndName(op2)
	loadSlot(cc, int(recvSlot), argRegs[0])
	loadImm64(cc, uint64(nameID), argRegs[1])
	loadSlot(cc, int(srcSlot), argRegs[2])
	loadImm64(cc, ivarCacheAddr(cc, idx), argRegs[3])
	callHelper(cg, cc, HelperSetInstanceVar)
	return ctx, nil
}
