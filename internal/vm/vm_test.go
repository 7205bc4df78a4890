package vm

import (
	"testing"

	"github.com/amberlang/amberjit/internal/bytecode"
	"github.com/amberlang/amberjit/internal/runtime"
	"github.com/amberlang/amberjit/internal/value"
	"github.com/stretchr/testify/require"
)

func newTestVM() (*VM, *runtime.Globals) {
	g := runtime.NewGlobals()
	return &VM{Globals: g}, g
}

func TestInterpretArithmeticAndReturn(t *testing.T) {
	v, _ := newTestVM()

	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpInteger, 1, 2, 0),
		bytecode.NewNarrow(bytecode.OpInteger, 2, 3, 0),
		bytecode.NewWide(bytecode.OpBinOp, 3, 1, 2, uint64(bytecode.BinAdd)),
		bytecode.NewNarrow(bytecode.OpRet, 3, 0, 0),
	}
	fd := &runtime.FuncData{ID: 0, Code: code, RegNum: 4}
	frame := runtime.NewVMFrame(int(fd.RegNum))

	r, err := v.interpret(fd, frame, 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), value.AsInt(r))
}

func TestInterpretCondBrTakesFalsyBranch(t *testing.T) {
	v, _ := newTestVM()

	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpNil, 1, 0, 0), // slot1 = nil (falsy)
		bytecode.NewNarrow(bytecode.OpCondBr, 1, 2, 0),
		bytecode.NewNarrow(bytecode.OpInteger, 0, 111, 0), // truthy path (skipped)
		bytecode.NewNarrow(bytecode.OpRet, 0, 0, 0),
		bytecode.NewNarrow(bytecode.OpInteger, 0, 222, 0), // falsy path (taken)
		bytecode.NewNarrow(bytecode.OpRet, 0, 0, 0),
	}
	fd := &runtime.FuncData{ID: 0, Code: code, RegNum: 2}
	frame := runtime.NewVMFrame(int(fd.RegNum))

	r, err := v.interpret(fd, frame, 0)
	require.NoError(t, err)
	require.Equal(t, int64(222), value.AsInt(r))
}

func TestInterpretMethodCallDispatchesThroughClassTable(t *testing.T) {
	v, g := newTestVM()

	calleeCode := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpRet, 1, 0, 0), // return args[0]
	}
	calleeID := g.Funcs.Define(calleeCode, 2)

	classID := value.ClassID(50)
	g.Classes.Define(classID, 0)
	g.Classes.DefineMethod(classID, 7, calleeID)

	recv := g.Heap.Box(&runtime.Object{Class: classID})

	const nameID = uint32(7)
	op2 := uint32(1)<<16 | uint32(1) // recvSlot=1, argc=1
	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpLiteral, 1, 0, uint64(recv)),
		bytecode.NewNarrow(bytecode.OpInteger, 2, 99, 0),
		bytecode.NewNarrow(bytecode.OpMethodArgs, 0, 0, bytecode.PackMethodCache(nameID, bytecode.SentinelFuncID)),
		bytecode.NewNarrow(bytecode.OpMethodCall, 3, op2, 0),
		bytecode.NewNarrow(bytecode.OpRet, 3, 0, 0),
	}
	fd := &runtime.FuncData{ID: 1, Code: code, RegNum: 4}
	frame := runtime.NewVMFrame(int(fd.RegNum))

	r, err := v.interpret(fd, frame, 0)
	require.NoError(t, err)
	require.Equal(t, int64(99), value.AsInt(r))
}

func TestInterpretArrayAndIndex(t *testing.T) {
	v, _ := newTestVM()

	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpInteger, 1, 10, 0),
		bytecode.NewNarrow(bytecode.OpInteger, 2, 20, 0),
		bytecode.NewWide(bytecode.OpArray, 3, 1, 2, 0), // slot3 = [slot1, slot2]
		bytecode.NewNarrow(bytecode.OpInteger, 4, 1, 0),
		bytecode.NewWide(bytecode.OpIndex, 5, 3, 4, 0), // slot5 = slot3[slot4]
		bytecode.NewNarrow(bytecode.OpRet, 5, 0, 0),
	}
	fd := &runtime.FuncData{ID: 0, Code: code, RegNum: 6}
	frame := runtime.NewVMFrame(int(fd.RegNum))

	r, err := v.interpret(fd, frame, 0)
	require.NoError(t, err)
	require.Equal(t, int64(20), value.AsInt(r))
}

func TestInterpretDivideByZeroPropagatesError(t *testing.T) {
	v, _ := newTestVM()

	code := []bytecode.Bc{
		bytecode.NewNarrow(bytecode.OpInteger, 1, 5, 0),
		bytecode.NewNarrow(bytecode.OpInteger, 2, 0, 0),
		bytecode.NewWide(bytecode.OpBinOp, 3, 1, 2, uint64(bytecode.BinDiv)),
		bytecode.NewNarrow(bytecode.OpRet, 3, 0, 0),
	}
	fd := &runtime.FuncData{ID: 0, Code: code, RegNum: 4}
	frame := runtime.NewVMFrame(int(fd.RegNum))

	_, err := v.interpret(fd, frame, 0)
	require.ErrorIs(t, err, runtime.ErrDivideByZero)
}
