package codegen

import (
	"unsafe"

	"github.com/amberlang/amberjit/internal/runtime"
)

// Field offsets into runtime.Interp, computed once so emitted code can
// write the side-exit handoff (§4.3.3) directly through rbx (RegVMState)
// without a helper call: a guard failure is on the hottest possible
// path out of compiled code, and every other write to Interp state goes
// through Go already holding the pointer, so no synchronization beyond
// the single-mutator assumption of §5 is needed.
var (
	offsetInterpPC      = int64(unsafe.Offsetof(runtime.Interp{}.PC))
	offsetInterpDeopted = int64(unsafe.Offsetof(runtime.Interp{}.Deopted))
)
