package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBBContextXmmInverseInvariant(t *testing.T) {
	c := NewBBContext(4)
	c.SetXmm(0, 2, ModeXmmRW)
	require.NoError(t, c.Validate())
	require.True(t, c.Xmm[2][0])

	c.SetNone(0)
	require.NoError(t, c.Validate())
	require.False(t, c.Xmm[2][0])
}

func TestBBContextCloneIsIndependent(t *testing.T) {
	c := NewBBContext(2)
	c.SetXmm(1, 3, ModeXmmR)
	clone := c.Clone()
	clone.SetNone(1)

	require.Equal(t, ModeXmmR, c.Slots[1].Mode)
	require.Equal(t, ModeNone, clone.Slots[1].Mode)
}

func TestMergeSlotRules(t *testing.T) {
	xr := func(f int) StackSlotInfo { return StackSlotInfo{Mode: ModeXmmR, Xmm: f} }
	xw := func(f int) StackSlotInfo { return StackSlotInfo{Mode: ModeXmmRW, Xmm: f} }
	none := StackSlotInfo{Mode: ModeNone}

	require.Equal(t, xr(1), MergeSlot(xr(1), xr(5)))
	require.Equal(t, xr(1), MergeSlot(xw(1), xr(5)))
	require.Equal(t, xr(5), MergeSlot(xr(5), xw(1)))
	require.Equal(t, xw(1), MergeSlot(xw(1), xw(5)))
	require.Equal(t, none, MergeSlot(none, xw(1)))
	require.Equal(t, none, MergeSlot(xr(1), none))
}

func TestMergeContexts(t *testing.T) {
	a := NewBBContext(2)
	a.SetXmm(0, 1, ModeXmmRW)
	b := NewBBContext(2)
	b.SetXmm(0, 2, ModeXmmR)

	m := MergeContexts([]*BBContext{a, b})
	require.Equal(t, ModeXmmR, m.Slots[0].Mode)
	require.NoError(t, m.Validate())
}
