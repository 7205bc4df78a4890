package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNarrowRoundTrip(t *testing.T) {
	b := NewNarrow(OpBr, 7, 0x1234, SentinelAux)
	require.Equal(t, OpBr, b.Op())
	op1, op2 := b.Narrow()
	require.Equal(t, uint16(7), op1)
	require.Equal(t, uint32(0x1234), op2)
	require.False(t, IsWide(b.Op()))
}

func TestWideRoundTrip(t *testing.T) {
	b := NewWide(OpBinOp, 1, 2, 3, PackBinCache(BinCacheKind{LHSClass: 1, RHSClass: 1}))
	require.Equal(t, OpBinOp, b.Op())
	require.True(t, IsWide(b.Op()))
	op1, op2, op3 := b.Wide()
	require.Equal(t, uint16(1), op1)
	require.Equal(t, uint16(2), op2)
	require.Equal(t, uint16(3), op3)
	c := UnpackBinCache(b.Word2)
	require.Equal(t, uint32(1), c.LHSClass)
	require.Equal(t, uint32(1), c.RHSClass)
}

func TestClassCachePacking(t *testing.T) {
	c := ClassCache{ClassID: 42, Version: 7}
	aux := PackClassCache(c)
	require.Equal(t, c, UnpackClassCache(aux))
}

func TestSentinelNeverMatchesRealVersion(t *testing.T) {
	c := UnpackClassCache(SentinelAux)
	require.NotEqual(t, uint32(1), c.Version)
}

func TestMethodCachePacking(t *testing.T) {
	aux := PackMethodCache(9, SentinelFuncID)
	nameID, funcID := UnpackMethodCache(aux)
	require.Equal(t, uint32(9), nameID)
	require.Equal(t, SentinelFuncID, funcID)
}
