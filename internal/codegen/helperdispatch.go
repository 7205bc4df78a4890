package codegen

import (
	"unsafe"

	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/runtime"
	"github.com/amberlang/amberjit/internal/value"
)

// activeCodegen is the process-wide Codegen dispatchHelper reaches
// FuncStore/Globals/CompileLoop/Dispatcher through. There is exactly
// one: helperEntry (helpercall_amd64.s) is raw machine code with no
// Go-level receiver to thread a *Codegen through, and §5 already
// assumes a single mutator and process-wide shared state, so a single
// package-level pointer set once by Codegen.New carries no more risk
// than the rest of this core's shared state already does.
var activeCodegen *Codegen

// helperEntryAddr returns the address of helperEntry (helpercall_amd64.s),
// the single native entry every HelperTable slot is bound to.
func helperEntryAddr() uintptr

// readFrameSlot reads local slot idx out of the JIT frame based at
// framePtr, inverting emit.go's slotOffsetBytes/loadSlot addressing: a
// few helpers (HelperFindMethod, HelperGetBlockData, HelperMakeArray)
// are handed rbp itself rather than individual slot values, because
// their callers need to forward a whole contiguous run of arguments
// that doesn't fit in the four argument registers.
func readFrameSlot(framePtr uintptr, slot int) value.Value {
	addr := framePtr - uintptr(runtime.SlotOffset(slot))*8
	return *(*value.Value)(unsafe.Pointer(addr))
}

func collectFrameSlots(framePtr uintptr, first, count int) []value.Value {
	out := make([]value.Value, count)
	for i := range out {
		out[i] = readFrameSlot(framePtr, first+i)
	}
	return out
}

// classOfForDefine resolves a MethodDef/DefineClass class-slot operand
// to a value.ClassID. Mirrors vm.go's unexported classOf: no opcode in
// this core materializes a first-class Class value, so a class
// reference reaching a slot is always already a fixnum-encoded ClassID,
// with abi.ClassOf as the fallback for anything else (e.g. reopening an
// existing instance's class).
func classOfForDefine(abi *runtime.ABI, v value.Value) value.ClassID {
	if value.IsFixnum(v) {
		return value.ClassID(value.AsInt(v))
	}
	return abi.ClassOf(v)
}

// dispatchHelper is the single Go-side landing point every HelperID's
// shared native trampoline (helperEntry) calls into: selector names
// which §6 ABI method to run, vmState/globals/frame are the always-live
// rbx/r12/rbp values, and a0-a3 are whatever the emitting rule staged
// into rdi/rsi/rdx/rcx (emit.go's argRegs). The return value becomes
// rax in the caller's emitted code; for the arithmetic/comparison/etc.
// families that's the call's tagged result, and for HelperLoopCheck
// it's either 0 (stay interpreted-this-time) or a fresh OSR entry
// address to jump through.
//
// A failing ABI call records its error on Interp (§7's "None means an
// error has been set on the interpreter's error slot") and returns 0;
// no valid tagged value.Value ever encodes as the raw word 0 (NilValue
// is 0x04, a tagged fixnum's low bit is always set, and a tagged float
// is never all-zero since its 2-bit class tag occupies the low bits),
// so 0 is an unambiguous sentinel for the caller to test against.
func dispatchHelper(selector, vmState, globals, frame, a0, a1, a2, a3 uint64) uint64 {
	in := (*runtime.Interp)(unsafe.Pointer(uintptr(vmState)))
	g := (*runtime.Globals)(unsafe.Pointer(uintptr(globals)))
	abi := runtime.NewABI(in, g)
	cg := activeCodegen

	fail := func(err error) uint64 {
		in.SetError(0, 0, err)
		return 0
	}

	switch HelperID(selector) {
	case HelperAddValues:
		v, err := abi.AddValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperSubValues:
		v, err := abi.SubValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperMulValues:
		v, err := abi.MulValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperDivValues:
		v, err := abi.DivValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperBitOrValues:
		v, err := abi.BitOrValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperBitAndValues:
		v, err := abi.BitAndValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperBitXorValues:
		v, err := abi.BitXorValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperShrValues:
		v, err := abi.ShrValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperShlValues:
		v, err := abi.ShlValues(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)
	case HelperNegValue:
		v, err := abi.NegValue(value.Value(a0))
		if err != nil {
			return fail(err)
		}
		return uint64(v)

	case HelperCmpEq:
		return uint64(abi.CmpEqValues(value.Value(a0), value.Value(a1)))
	case HelperCmpNe:
		return uint64(abi.CmpNeValues(value.Value(a0), value.Value(a1)))
	case HelperCmpLt:
		return uint64(abi.CmpLtValues(value.Value(a0), value.Value(a1)))
	case HelperCmpLe:
		return uint64(abi.CmpLeValues(value.Value(a0), value.Value(a1)))
	case HelperCmpGt:
		return uint64(abi.CmpGtValues(value.Value(a0), value.Value(a1)))
	case HelperCmpGe:
		return uint64(abi.CmpGeValues(value.Value(a0), value.Value(a1)))

	case HelperFindMethod:
		// a0=rbp, a1=recvSlot, a2=argc, a3=cache-word address
		// (ruleMethodCall, rules_call.go).
		recvSlot, argc := int(a1), int(a2)
		recv := readFrameSlot(uintptr(frame), recvSlot)
		args := collectFrameSlots(uintptr(frame), recvSlot+1, argc)
		cacheWord := *(*uint64)(unsafe.Pointer(uintptr(a3)))
		nameID, _ := bytecode.UnpackMethodCache(cacheWord)
		v, err := cg.Helpers.Dispatcher.InvokeMethod(in, nameID, recv, args, value.NilValue)
		if err != nil {
			return fail(err)
		}
		return uint64(v)

	case HelperGetConstant:
		v, err := g.GetConstant(uint32(a0))
		if err != nil {
			return fail(err)
		}
		return uint64(v)

	case HelperSetConstant:
		g.SetConstant(uint32(a0), value.Value(a1))
		return 0

	case HelperGetIndex:
		v, err := abi.GetIndex(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)

	case HelperSetIndex:
		if err := abi.SetIndex(value.Value(a0), value.Value(a1), value.Value(a2)); err != nil {
			return fail(err)
		}
		return 0

	case HelperGetInstanceVar:
		cache := (*runtime.IvarCacheEntry)(unsafe.Pointer(uintptr(a2)))
		return uint64(abi.GetInstanceVarWithCache(value.Value(a0), uint32(a1), cache))

	case HelperSetInstanceVar:
		cache := (*runtime.IvarCacheEntry)(unsafe.Pointer(uintptr(a3)))
		abi.SetInstanceVarWithCache(value.Value(a0), uint32(a1), value.Value(a2), cache)
		return 0

	case HelperDefineMethod:
		class := classOfForDefine(abi, value.Value(a0))
		abi.DefineMethod(class, uint32(a1), runtime.FuncID(uint32(a2)))
		return 0

	case HelperDefineClass:
		abi.DefineClass(value.ClassID(uint32(a0)), value.ClassID(uint32(a1)))
		return 0

	case HelperGetBlockData:
		// a0=rbp, a1=block value, a2=dst slot, a3=argc (ruleYield,
		// rules_call.go); the yielded call's arguments are the argc
		// slots immediately following dst, matching vm.go's
		// collectSlots(frame, dst+1, argc) convention.
		dst, argc := int(a2), int(a3)
		args := collectFrameSlots(uintptr(frame), dst+1, argc)
		v, err := cg.Helpers.Dispatcher.InvokeBlock(in, value.Value(a1), args)
		if err != nil {
			return fail(err)
		}
		return uint64(v)

	case HelperErrorDivideByZero:
		abi.ErrorDivideByZero(runtime.FuncID(uint32(a0)), uint32(a1))
		return 0

	case HelperGetErrorLocation:
		fid, line := abi.GetErrorLocation()
		return uint64(fid)<<32 | uint64(line)

	case HelperMakeArray:
		// a0=rbp, a1=first slot, a2=count (ruleArray, rules_array.go).
		elems := collectFrameSlots(uintptr(frame), int(a1), int(a2))
		return uint64(abi.MakeArray(elems))

	case HelperConcatString:
		v, err := abi.ConcatString(value.Value(a0), value.Value(a1))
		if err != nil {
			return fail(err)
		}
		return uint64(v)

	case HelperLoopCheck:
		// a0=FuncID, a1=bytecode pc (ruleLoopStart, rules_control.go).
		fd, err := cg.Funcs.Get(runtime.FuncID(uint32(a0)))
		if err != nil {
			return fail(err)
		}
		if !fd.DecrementLoopCounter(uint32(a1), g.LoopHotnessThreshold) {
			return 0
		}
		entry, err := cg.CompileLoop(fd, int(a1))
		if err != nil {
			return 0
		}
		return uint64(entry)

	default:
		return fail(runtime.ErrTypeError)
	}
}
