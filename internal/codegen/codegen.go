package codegen

import (
	"fmt"
	"unsafe"

	amd64 "github.com/amberlang/amberjit/internal/asm/amd64"
	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/jitmem"
	"github.com/amberlang/amberjit/internal/runtime"
)

// Codegen owns the shared, long-lived pieces of the method-JIT: the
// executable-memory arena, the helper-call jump table, and the
// function/class tables it reads type feedback from and writes
// compiled entry points back into. One Codegen serves the whole
// process; CompileMethod/CompileLoop each build their own throwaway
// amd64.Assembler and CompileContext, but share the Codegen's arena and
// FuncData state without locking, so they must not run concurrently
// (§5's single-mutator model).
//
// Grounded on wazero's internal/engine/compiler.compiler, which plays
// the same "one compiler instance drives one function's Compile*
// calls, then Assemble() once" role, generalized from a WebAssembly
// operand stack to this core's slot-indexed BBContext.
type Codegen struct {
	Mem     *jitmem.JitMemory
	Funcs   *runtime.FuncStore
	Globals *runtime.Globals
	Classes *runtime.ClassTable
	Helpers *HelperTable
	Dump    bool

	// Labels holds the fixed trampoline entry points built once by
	// BuildTrampolines: vm_entry, vm_return, entry_find_method,
	// div_by_zero, f64_to_val, heap_to_f64 (§4.1).
	Labels map[string]jitmem.Label
}

func New(mem *jitmem.JitMemory, funcs *runtime.FuncStore, g *runtime.Globals, classes *runtime.ClassTable, helpers *HelperTable) *Codegen {
	cg := &Codegen{Mem: mem, Funcs: funcs, Globals: g, Classes: classes, Helpers: helpers, Labels: make(map[string]jitmem.Label)}
	helpers.Owner = cg
	// dispatchHelper (helperdispatch.go) is reached from raw machine
	// code with no Codegen receiver of its own to call through, so it
	// goes through this package-level pointer instead. §5 already
	// assumes a single mutator and process-wide, unsynchronized shared
	// state (e.g. ClassTable.version); one Codegen per process is the
	// same assumption applied to which Codegen a bound helper call
	// reaches.
	activeCodegen = cg
	return cg
}

// compileRule lowers one bytecode instruction against the live BBContext
// for its block, returning the context live on fallthrough (straight-line
// rules return ctx unchanged; terminal rules enqueue their own successors
// and the return value is ignored by the driver).
type compileRule func(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error)

var opTable = map[bytecode.Op]compileRule{
	bytecode.OpNop:         ruleNop,
	bytecode.OpInteger:     ruleInteger,
	bytecode.OpLiteral:     ruleLiteral,
	bytecode.OpNil:         ruleNil,
	bytecode.OpSymbol:      ruleLiteral,
	bytecode.OpLoadConst:   ruleLoadConst,
	bytecode.OpStoreConst:  ruleStoreConst,
	bytecode.OpLoadIvar:    ruleLoadIvar,
	bytecode.OpStoreIvar:   ruleStoreIvar,
	bytecode.OpNeg:         ruleNeg,
	bytecode.OpBinOp:       ruleBinOp,
	bytecode.OpBinOpRi:     ruleBinOpImm,
	bytecode.OpBinOpIr:     ruleBinOpImm,
	bytecode.OpCmp:         ruleCmp,
	bytecode.OpCmpRi:       ruleCmp,
	bytecode.OpBr:          ruleBr,
	bytecode.OpCondBr:      ruleCondBr,
	bytecode.OpRet:         ruleRet,
	bytecode.OpMov:         ruleMov,
	bytecode.OpMethodCall:  ruleMethodCall,
	bytecode.OpMethodArgs:  ruleMethodArgs,
	bytecode.OpMethodDef:   ruleMethodDef,
	bytecode.OpYield:       ruleYield,
	bytecode.OpArray:       ruleArray,
	bytecode.OpIndex:       ruleIndex,
	bytecode.OpIndexAssign: ruleIndexAssign,
	bytecode.OpConcatStr:   ruleConcatStr,
	bytecode.OpLoopStart:   ruleLoopStart,
	bytecode.OpLoopEnd:     ruleLoopEnd,
}

func ruleNop(cg *Codegen, cc *CompileContext, ctx *BBContext, idx int, b bytecode.Bc) (*BBContext, error) {
	return ctx, nil
}

// CompileMethod whole-function compiles fn per §4.3.1: seed an empty
// BBContext at position 0, walk basic-block starts in ascending order,
// merging every pending incoming edge's context before lowering the
// block's instructions, and enqueueing successors as terminal
// instructions are reached. The assembled code is written into
// jitmem's main page and the function's native entry point is patched
// into place.
func (cg *Codegen) CompileMethod(fn *runtime.FuncData) error {
	a, err := amd64.NewAssembler(amd64.REG_AX)
	if err != nil {
		return fmt.Errorf("codegen: allocating assembler: %w", err)
	}
	asmImpl, ok := a.(amd64.Assembler)
	if !ok {
		return fmt.Errorf("codegen: assembler does not implement amd64.Assembler")
	}

	seed := NewBBContext(int(fn.RegNum))
	cc := NewCompileContext(fn.Code, 0, seed, asmImpl, uint32(fn.ID))

	if err := cg.compileBlocks(cc); err != nil {
		return fmt.Errorf("codegen: compiling func %d: %w", fn.ID, err)
	}

	code, err := cc.Asm.Assemble()
	if err != nil {
		return fmt.Errorf("codegen: assembling func %d: %w", fn.ID, err)
	}

	cg.Mem.SelectPage(jitmem.PageMain)
	lbl, err := cg.Mem.Emit(code)
	if err != nil {
		return fmt.Errorf("codegen: emitting func %d: %w", fn.ID, err)
	}
	if err := cg.Mem.Finalize(); err != nil {
		return fmt.Errorf("codegen: finalizing func %d: %w", fn.ID, err)
	}
	entry := cg.Mem.EntryAddress(lbl)
	if err := cg.Funcs.PatchCodePointer(runtime.FuncID(fn.ID), unsafe.Pointer(entry)); err != nil {
		return fmt.Errorf("codegen: patching entry for func %d: %w", fn.ID, err)
	}
	if cg.Dump {
		dumpBlock(fn.ID, code)
	}
	return nil
}

// CompileLoop partial-compiles a single hot LoopStart onward, per §9's
// OSR resolution in SPEC_FULL.md: the loop gets its own dedicated
// entry and deopt targets rather than reusing the whole function's. It
// is otherwise the same worklist driver seeded at pc instead of 0,
// bounded to the loop's own exit rather than running to the function's
// end (the OpLoopEnd encountered first terminates the walk).
func (cg *Codegen) CompileLoop(fn *runtime.FuncData, pc int) (uintptr, error) {
	a, err := amd64.NewAssembler(amd64.REG_AX)
	if err != nil {
		return 0, fmt.Errorf("codegen: allocating OSR assembler: %w", err)
	}
	asmImpl := a.(amd64.Assembler)

	seed := NewBBContext(int(fn.RegNum))
	cc := NewCompileContext(fn.Code, pc, seed, asmImpl, uint32(fn.ID))
	cc.osrBound = true

	if err := cg.compileBlocks(cc); err != nil {
		return 0, fmt.Errorf("codegen: OSR compiling func %d at pc %d: %w", fn.ID, pc, err)
	}
	code, err := cc.Asm.Assemble()
	if err != nil {
		return 0, fmt.Errorf("codegen: OSR assembling func %d: %w", fn.ID, err)
	}
	cg.Mem.SelectPage(jitmem.PageMain)
	lbl, err := cg.Mem.Emit(code)
	if err != nil {
		return 0, err
	}
	if err := cg.Mem.Finalize(); err != nil {
		return 0, err
	}
	return cg.Mem.EntryAddress(lbl), nil
}

func (cg *Codegen) compileBlocks(cc *CompileContext) error {
	for _, pos := range cc.Blocks.sortedStarts() {
		if !cc.HasPending(pos) {
			continue
		}
		entries := cc.TakePending(pos)
		ctxs := make([]*BBContext, 0, len(entries))
		for _, e := range entries {
			ctxs = append(ctxs, e.Ctx)
		}
		ctx := MergeContexts(ctxs)
		if err := ctx.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", pos, err)
		}
		cc.ResolvePendingJumps(pos)

		i := pos
		for i < len(cc.Code) {
			if i != pos && cc.Blocks.starts[i] {
				// Fell through into the next block's start; requeue it
				// as a normal incoming edge and stop this straight line.
				cc.Enqueue(i-1, i, ctx)
				break
			}
			b := cc.Code[i]
			rule, ok := opTable[b.Op()]
			if !ok {
				return fmt.Errorf("codegen: no compile rule for opcode %d at pc %d", b.Op(), i)
			}
			next, err := rule(cg, cc, ctx, i, b)
			if err != nil {
				return fmt.Errorf("pc %d: %w", i, err)
			}
			ctx = next
			if isTerminal(b.Op()) {
				break
			}
			if cc.osrBound && b.Op() == bytecode.OpLoopEnd {
				break
			}
			i++
		}
	}
	return nil
}

func isTerminal(op bytecode.Op) bool {
	switch op {
	case bytecode.OpBr, bytecode.OpCondBr, bytecode.OpRet:
		return true
	default:
		return false
	}
}
