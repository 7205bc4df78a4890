package codegen

import (
	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/runtime"
	"github.com/amberlang/amberjit/internal/value"
)

// Global register convention for JIT-emitted code, per §4.1: rbx holds
// the current Interpreter/VM state pointer, r12 the global state
// pointer, r13 the bytecode program counter of the executing function,
// r15 a scratch/return-value/cached-receiver-class register. rbp/rsp
// keep their conventional roles.
var (
	RegVMState = amd64.REG_BX
	RegGlobals = amd64.REG_R12
	RegPC      = amd64.REG_R13
	RegScratch = amd64.REG_R15
)

// HelperID identifies one of the fixed C-ABI runtime functions
// enumerated in §6 that a slow path calls into when a fast-path guard
// fails.
type HelperID int

const (
	HelperAddValues HelperID = iota
	HelperSubValues
	HelperMulValues
	HelperDivValues
	HelperBitOrValues
	HelperBitAndValues
	HelperBitXorValues
	HelperShrValues
	HelperShlValues
	HelperNegValue
	HelperCmpEq
	HelperCmpNe
	HelperCmpLt
	HelperCmpLe
	HelperCmpGt
	HelperCmpGe
	HelperFindMethod
	HelperGetConstant
	HelperSetConstant
	HelperGetIndex
	HelperSetIndex
	HelperGetInstanceVar
	HelperSetInstanceVar
	HelperDefineMethod
	HelperDefineClass
	HelperGetBlockData
	HelperErrorDivideByZero
	HelperGetErrorLocation
	HelperMakeArray
	HelperConcatString
	HelperLoopCheck
	helperCount
)

// CallDispatcher is the recursive half of the call-dispatch helpers
// (HelperFindMethod, HelperGetBlockData): resolving a callee is a pure
// ABI lookup (runtime.ABI.FindMethod), but actually invoking it needs
// frame construction and the compile-or-interpret decision that only
// internal/vm's VM owns. Defining the interface here, satisfied by
// *vm.VM without vm importing codegen's callers or codegen importing
// vm, avoids the import cycle that would otherwise exist between the
// two packages (vm already imports codegen for Codegen/CompileLoop).
type CallDispatcher interface {
	InvokeMethod(in *runtime.Interp, nameID uint32, recv value.Value, args []value.Value, block value.Value) (value.Value, error)
	InvokeBlock(in *runtime.Interp, block value.Value, args []value.Value) (value.Value, error)
}

// HelperTable resolves a HelperID to its callable native entry address.
// Every id shares the same bound address, helperEntryAddr() (see
// helpercall_amd64.s/helperdispatch.go): callHelper stages the
// HelperID itself into rax immediately before the CALL, and the shared
// native entry point reads it back to select which Go-side ABI method
// to run, so no per-signature shim is needed per HelperID — one
// hand-written assembly trampoline crosses from raw JIT code back into
// Go for all of them. Bind/Addr stay as the stable API codegen.go and
// the rules files already use; NewHelperTable is what actually
// installs the shared address.
type HelperTable struct {
	entries [helperCount]uintptr

	// Owner is the Codegen this table belongs to, set by New so
	// dispatchHelper can reach FuncStore/Globals/CompileLoop for
	// HelperLoopCheck's OSR trigger and Dispatcher for call dispatch
	// (§5's single-mutator, process-wide-state assumption already
	// governs every other piece of shared state this core has, e.g.
	// ClassTable's version counter; this is the same assumption,
	// applied to which Codegen a bound helper address talks to).
	Owner *Codegen

	// Dispatcher resolves HelperFindMethod/HelperGetBlockData's actual
	// invocation step. It is nil until the embedding host constructs
	// its VM and assigns it (engine.go), since BuildTrampolines runs
	// before the VM exists but the Dispatcher is only consulted later,
	// at JIT-execution time.
	Dispatcher CallDispatcher
}

// NewHelperTable builds a HelperTable with every HelperID already bound
// to the shared native entry point.
func NewHelperTable() *HelperTable {
	t := &HelperTable{}
	addr := helperEntryAddr()
	for id := HelperID(0); id < helperCount; id++ {
		t.entries[id] = addr
	}
	return t
}

func (t *HelperTable) Bind(id HelperID, addr uintptr) { t.entries[id] = addr }
func (t *HelperTable) Addr(id HelperID) uintptr       { return t.entries[id] }
