// Package bytecode defines the 16-byte instruction record produced by
// the (out of scope) front end and consumed by both the VM fallback and
// the method-JIT code generator.
package bytecode

import "github.com/amberlang/amberjit/internal/value"

// Op is a numeric opcode, numbered by declaration order below;
// internal/vm's interpreter switches on it and internal/codegen looks
// up each opcode's lowering rule in a map.
type Op uint16

const (
	OpNop Op = iota

	// Constants / loads.
	OpInteger
	OpLiteral
	OpNil
	OpSymbol
	OpLoadConst
	OpStoreConst
	OpLoadIvar
	OpStoreIvar

	// Arithmetic / bitwise.
	OpNeg
	OpBinOp
	OpBinOpRi
	OpBinOpIr

	// Comparison.
	OpCmp
	OpCmpRi

	// Control.
	OpBr
	OpCondBr
	OpRet
	OpMov

	// Calls.
	OpMethodCall
	OpMethodArgs
	OpMethodDef
	OpYield

	// Aggregates.
	OpArray
	OpIndex
	OpIndexAssign
	OpConcatStr

	// Trace markers.
	OpLoopStart
	OpLoopEnd

	opCount
)

// wideBit, set on Word1's high bit, selects the three-register "wide"
// operand layout over the "narrow" one-16-bit/one-32-bit layout.
const wideBit = uint16(0x8000)

// wideOps is the closed set of opcodes that use the three-register
// layout: binary arithmetic and comparisons (including the
// immediate forms, whose third operand is a 16-bit immediate), Mov, and
// the aggregate ops, per §4.2.
var wideOps = map[Op]bool{
	OpBinOp:       true,
	OpBinOpRi:     true,
	OpBinOpIr:     true,
	OpCmp:         true,
	OpCmpRi:       true,
	OpMov:         true,
	OpArray:       true,
	OpIndex:       true,
	OpIndexAssign: true,
	OpConcatStr:   true,
}

// BinOpKind enumerates the arithmetic/bitwise operator carried by BinOp
// and its immediate variants.
type BinOpKind uint8

const (
	BinAdd BinOpKind = iota
	BinSub
	BinMul
	BinDiv
	BinBitOr
	BinBitAnd
	BinBitXor
	BinShr
	BinShl
)

// CmpKind enumerates the comparison operator carried by Cmp/Cmpri.
type CmpKind uint8

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// Slot is an abstract local-storage cell index in the current stack
// frame; slot 0 is always self.
type Slot uint16

// Bc is the 16-byte on-the-wire instruction record: one 8-byte
// opcode+operand word, and one 8-byte inline-cache auxiliary word.
type Bc struct {
	Word1 uint64
	Word2 uint64
}

// decodeHeader splits Word1's low 16 bits into the opcode and the
// wide-layout flag.
func (b Bc) decodeHeader() (op Op, wide bool) {
	h := uint16(b.Word1)
	return Op(h &^ wideBit), h&wideBit != 0
}

// Op returns the instruction's opcode.
func (b Bc) Op() Op {
	op, _ := b.decodeHeader()
	return op
}

// Narrow decodes the narrow layout: op1:u16, op2:u32, packed into the
// high 48 bits of Word1.
func (b Bc) Narrow() (op1 uint16, op2 uint32) {
	op1 = uint16(b.Word1 >> 16)
	op2 = uint32(b.Word1 >> 32)
	return
}

// Wide decodes the three-register layout: op1:u16, op2:u16, op3:u16.
func (b Bc) Wide() (op1, op2, op3 uint16) {
	op1 = uint16(b.Word1 >> 16)
	op2 = uint16(b.Word1 >> 32)
	op3 = uint16(b.Word1 >> 48)
	return
}

// NewNarrow builds a narrow-layout instruction.
func NewNarrow(op Op, op1 uint16, op2 uint32, aux uint64) Bc {
	w1 := uint64(op) | uint64(op1)<<16 | uint64(op2)<<32
	return Bc{Word1: w1, Word2: aux}
}

// NewWide builds a wide-layout instruction. op must be a member of the
// closed wideOps set.
func NewWide(op Op, op1, op2, op3 uint16, aux uint64) Bc {
	w1 := uint64(op) | uint64(wideBit) | uint64(op1)<<16 | uint64(op2)<<32 | uint64(op3)<<48
	return Bc{Word1: w1, Word2: aux}
}

// IsWide reports whether op uses the three-register layout.
func IsWide(op Op) bool { return wideOps[op] }

// ClassCache is the (class_id, version) shape of an inline-cache word
// used by type-feedback and attribute sites.
type ClassCache struct {
	ClassID uint32
	Version uint32
}

// PackClassCache packs a ClassCache into the aux word layout (class id
// in the low 32 bits, version in the high 32 bits). An unresolved site
// holds SentinelAux, whose version half reads 0xFFFFFFFF and so does
// not match the global class-version counter, which starts at 1.
func PackClassCache(c ClassCache) uint64 {
	return uint64(c.ClassID) | uint64(c.Version)<<32
}

// UnpackClassCache is the inverse of PackClassCache.
func UnpackClassCache(aux uint64) ClassCache {
	return ClassCache{ClassID: uint32(aux), Version: uint32(aux >> 32)}
}

// MethodCache is the (name_id, func_id) shape cached at a MethodArgs
// aux word once a call site has resolved; FuncEntry additionally caches
// the resolved native entry address for the fast path described in
// §4.3.2.
type MethodCache struct {
	NameID    uint32
	FuncID    uint32
	FuncEntry uintptr
}

// SentinelAux is the initial value of every inline-cache word before
// first resolution.
const SentinelAux = ^uint64(0)

// SentinelFuncID marks a MethodCache slot as not yet resolved.
const SentinelFuncID = ^uint32(0)

// PackMethodCache packs a MethodArgs site's name id and its
// last-resolved func id into an aux word. FuncEntry (the resolved
// native address MethodCache also names) has no room left in these 64
// bits once NameID/FuncID fill them, so a cached-entry fast path
// keeps that pointer in a side table keyed by call site rather than
// inline here; this pair only needs to support the internal/vm
// fallback's own re-resolution, not a native direct-call elision.
func PackMethodCache(nameID, funcID uint32) uint64 {
	return uint64(nameID) | uint64(funcID)<<32
}

// UnpackMethodCache is the inverse of PackMethodCache.
func UnpackMethodCache(aux uint64) (nameID, funcID uint32) {
	return uint32(aux), uint32(aux >> 32)
}

// BinCacheKind is the pair of receiver/argument class ids cached at a
// BinOp site for float-speculation type feedback (§4.3.2's "Float
// speculation" paragraph).
type BinCacheKind struct {
	LHSClass uint32
	RHSClass uint32
}

func PackBinCache(k BinCacheKind) uint64 {
	return uint64(k.LHSClass) | uint64(k.RHSClass)<<32
}

func UnpackBinCache(aux uint64) BinCacheKind {
	return BinCacheKind{LHSClass: uint32(aux), RHSClass: uint32(aux >> 32)}
}

// PackLiteral packs a cached value.Value literal directly into the aux
// word (used by Integer/Literal sites after their first materialization
// is proven stable, and by LoadConst).
func PackLiteral(v value.Value) uint64 { return uint64(v) }
func UnpackLiteral(aux uint64) value.Value { return value.Value(aux) }
