package amberjit

import (
	"fmt"

	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/codegen"
	"github.com/amberlang/amberjit/internal/jitmem"
	"github.com/amberlang/amberjit/internal/runtime"
	"github.com/amberlang/amberjit/internal/value"
	"github.com/amberlang/amberjit/internal/vm"
)

// Engine wires the executable-memory arena, the process-wide runtime
// state and the code generator into one usable object, and exposes
// method definition/invocation through internal/vm's compile-on-first-
// call dispatch (§4's "stub-based lazy compilation").
//
// Grounded on wazero's top-level RuntimeConfig/Runtime split: a Config
// value tunes behavior, a constructed object then owns every later
// module's compiled code and lives for the process's lifetime.
type Engine struct {
	Globals *runtime.Globals
	Mem     *jitmem.JitMemory
	Codegen *codegen.Codegen
	VM      *vm.VM
}

// NewEngine allocates the executable-memory arena, builds the fixed
// trampoline set (§4.1) and constructs the VM dispatcher. The returned
// Engine is ready to accept DefineFunc calls immediately.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	mem, err := jitmem.New()
	if err != nil {
		return nil, fmt.Errorf("amberjit: allocating executable memory: %w", err)
	}

	g := runtime.NewGlobals()
	g.LoopHotnessThreshold = cfg.LoopHotnessThreshold

	helpers := codegen.NewHelperTable()
	cg := codegen.New(mem, g.Funcs, g, g.Classes, helpers)
	cg.Dump = cfg.DumpAssembly
	if err := cg.BuildTrampolines(); err != nil {
		return nil, fmt.Errorf("amberjit: building trampolines: %w", err)
	}

	v := vm.New(g, mem, cg)
	// HelperFindMethod/HelperGetBlockData's dispatch cases
	// (internal/codegen/helperdispatch.go) need a real resolve-and-invoke
	// step, which only internal/vm's compile-or-interpret logic knows how
	// to do; BuildTrampolines runs before the VM exists, so the table is
	// only wired up to it here, once construction is otherwise complete.
	helpers.Dispatcher = v

	return &Engine{
		Globals: g,
		Mem:     mem,
		Codegen: cg,
		VM:      v,
	}, nil
}

// DefineFunc registers a new function's bytecode, returning the FuncID
// later Invoke calls address it by.
func (e *Engine) DefineFunc(code []bytecode.Bc, regNum uint16) (runtime.FuncID, error) {
	return e.VM.DefineFunc(code, regNum)
}

// Invoke calls fid with the given receiver, positional arguments and
// block (value.NilValue if none).
func (e *Engine) Invoke(fid runtime.FuncID, self value.Value, args []value.Value, block value.Value) (value.Value, error) {
	return e.VM.Invoke(fid, self, args, block)
}

// DefineClass registers a class id with the given superclass (0 for
// none), matching define_class's §6 contract.
func (e *Engine) DefineClass(id, super value.ClassID) {
	e.Globals.Classes.Define(id, super)
	e.Globals.Classes.Bump()
}

// DefineMethod installs fid as nameID on class id, per §4.3.2's
// "Method definition" paragraph.
func (e *Engine) DefineMethod(class value.ClassID, nameID uint32, fid runtime.FuncID) {
	e.Globals.Classes.DefineMethod(class, nameID, fid)
}
