package runtime

import (
	"testing"

	"github.com/amberlang/amberjit/internal/value"
	"github.com/stretchr/testify/require"
)

func newTestABI() *ABI {
	return NewABI(&Interp{}, NewGlobals())
}

func TestAddOverflowPromotesToFloat(t *testing.T) {
	a := newTestABI()
	max := value.FromInt(1<<62 - 1)
	one := value.FromInt(1)
	// Not an overflow: still representable.
	r, err := a.AddValues(max, value.FromInt(0))
	require.NoError(t, err)
	require.True(t, value.IsFixnum(r))

	// Force a result outside the fixnum range.
	big := value.FromInt(1<<62 - 1)
	r2, err := a.AddValues(big, big)
	require.NoError(t, err)
	require.True(t, value.IsFloat(r2))
	_ = one
}

func TestDivideByZero(t *testing.T) {
	a := newTestABI()
	_, err := a.DivValues(value.FromInt(1), value.FromFloat(0))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestShiftEdgeCases(t *testing.T) {
	v, err := shiftValues(value.FromInt(1), value.FromInt(100), true)
	require.NoError(t, err)
	require.Equal(t, int64(0), value.AsInt(v))

	v, err = shiftValues(value.FromInt(-1), value.FromInt(100), false)
	require.NoError(t, err)
	require.Equal(t, int64(-1), value.AsInt(v))
}

func TestClassOf(t *testing.T) {
	a := newTestABI()
	require.Equal(t, value.ClassInteger, a.ClassOf(value.FromInt(1)))
	require.Equal(t, value.ClassNilClass, a.ClassOf(value.NilValue))
}

func TestFindMethodAndVersionBump(t *testing.T) {
	a := newTestABI()
	classP := value.ClassID(100)
	a.DefineClass(classP, 0)
	fid := a.g.Funcs.Define(nil, 0)
	v0 := a.g.Classes.Version()
	a.DefineMethod(classP, 1, fid)
	require.Greater(t, a.g.Classes.Version(), v0)

	fd, err := a.FindMethod(1, 0, a.g.Heap.Box(&Object{Class: classP}))
	require.NoError(t, err)
	require.Equal(t, fid, fd.ID)
}

func TestIvarInlineVsExtra(t *testing.T) {
	a := newTestABI()
	classQ := value.ClassID(200)
	recv := a.g.Heap.Box(&Object{Class: classQ})
	var cache IvarCacheEntry
	a.SetInstanceVarWithCache(recv, 1, value.FromInt(42), &cache)
	got := a.GetInstanceVarWithCache(recv, 1, &cache)
	require.Equal(t, int64(42), value.AsInt(got))

	for name := uint32(2); name <= 5; name++ {
		a.SetInstanceVarWithCache(recv, name, value.FromInt(int64(name)), &cache)
	}
	// Name 5 gets ivar id 4, past the ObjectInlineIvar inline slots.
	extra := a.GetInstanceVarWithCache(recv, 5, &cache)
	require.Equal(t, int64(5), value.AsInt(extra))
}

func TestIndexBounds(t *testing.T) {
	a := newTestABI()
	arr := a.g.Heap.Box(&Object{Kind: value.ObjKindArray, Elements: []value.Value{value.FromInt(1), value.FromInt(2)}})
	v, err := a.GetIndex(arr, value.FromInt(1))
	require.NoError(t, err)
	require.Equal(t, int64(2), value.AsInt(v))

	_, err = a.GetIndex(arr, value.FromInt(5))
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}
