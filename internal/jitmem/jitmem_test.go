package jitmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitAndFinalize(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.SelectPage(PageMain)
	lbl, err := m.Emit([]byte{0xc3}) // ret
	require.NoError(t, err)
	require.Equal(t, PageMain, lbl.Page)
	require.Equal(t, 0, lbl.Offset)

	require.NoError(t, m.Finalize())
	require.NotZero(t, m.EntryAddress(lbl))
}

func TestPatchAfterFinalize(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.SelectPage(PageMain)
	lbl, err := m.Emit([]byte{0x90, 0x90, 0x90, 0x90}) // nop x4
	require.NoError(t, err)
	require.NoError(t, m.Finalize())

	require.NoError(t, m.Patch(PatchSite{Label: lbl, Width: 1}, []byte{0xc3}))
}

func TestSelectPageIsolatesBuffers(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.SelectPage(PageMain)
	l1, err := m.Emit([]byte{0x01})
	require.NoError(t, err)

	m.SelectPage(PageSlow)
	l2, err := m.Emit([]byte{0x02})
	require.NoError(t, err)

	require.Equal(t, 0, l1.Offset)
	require.Equal(t, 0, l2.Offset)
	require.NotEqual(t, l1.Page, l2.Page)
}
