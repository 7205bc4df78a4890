package jitmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCallNativeReturnsRaxOfCallee exercises the plumbing in
// call_amd64.s end to end against real machine code: mov rax, rbx; ret
// (encoded 48 89 D8 C3), which hands back whatever CallNative loaded
// into rbx (the vmState argument) untouched, proving the argument
// actually lands in the register the JIT's own code generation
// expects it in.
func TestCallNativeReturnsRaxOfCallee(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.SelectPage(PageMain)
	lbl, err := m.Emit([]byte{0x48, 0x89, 0xd8, 0xc3})
	require.NoError(t, err)
	require.NoError(t, m.Finalize())

	entry := m.EntryAddress(lbl)
	got := m.CallNative(entry, 0xdeadbeef, 0, 0, 0)
	require.Equal(t, uint64(0xdeadbeef), got)
}

// TestCallNativePreservesGoStateAcrossCall calls twice in a row with
// different vmState values to guard against the stub leaking state
// between calls (e.g. a save/restore slot miscomputed as shared rather
// than per-call-frame).
func TestCallNativePreservesGoStateAcrossCall(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.SelectPage(PageMain)
	lbl, err := m.Emit([]byte{0x48, 0x89, 0xd8, 0xc3})
	require.NoError(t, err)
	require.NoError(t, m.Finalize())

	entry := m.EntryAddress(lbl)
	require.Equal(t, uint64(1), m.CallNative(entry, 1, 0, 0, 0))
	require.Equal(t, uint64(2), m.CallNative(entry, 2, 0, 0, 0))
}
