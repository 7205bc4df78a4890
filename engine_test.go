package amberjit

import (
	"testing"

	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/value"
	"github.com/stretchr/testify/require"
)

// TestEngineCompilesAndRunsNativeCode exercises the full native path —
// CompileMethod emitting real x86-64 into jitmem, then CallNative
// crossing into it and back — for a function whose opcodes (Integer,
// Ret) need no runtime-helper callback.
func TestEngineCompilesAndRunsNativeCode(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpInteger, 0, 42, 0),
		bytecode.NewNarrow(bytecode.OpRet, 0, 0, 0),
	}
	fid, err := e.DefineFunc(code, 1)
	require.NoError(t, err)

	r, err := e.Invoke(fid, value.NilValue, nil, value.NilValue)
	require.NoError(t, err)
	require.Equal(t, int64(42), value.AsInt(r))
}

// TestEngineRunsControlFlowNatively covers Mov/CondBr/Br, the other
// family of opcodes (besides Integer/Ret) that needs no runtime-helper
// callback, so the compiled path is safe to exercise for real.
func TestEngineRunsControlFlowNatively(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpNil, 1, 0, 0),       // slot1 = nil (falsy)
		bytecode.NewNarrow(bytecode.OpCondBr, 1, 2, 0),    // falsy -> pc 2+2=4
		bytecode.NewNarrow(bytecode.OpInteger, 0, 1, 0),   // truthy path (skipped)
		bytecode.NewNarrow(bytecode.OpRet, 0, 0, 0),
		bytecode.NewNarrow(bytecode.OpInteger, 0, 7, 0),   // falsy path (taken)
		bytecode.NewNarrow(bytecode.OpRet, 0, 0, 0),
	}
	fid, err := e.DefineFunc(code, 2)
	require.NoError(t, err)

	r, err := e.Invoke(fid, value.NilValue, nil, value.NilValue)
	require.NoError(t, err)
	require.Equal(t, int64(7), value.AsInt(r))
}
