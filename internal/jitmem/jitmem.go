// Package jitmem manages the executable memory the method-JIT emits
// into: three logical pages (hot, cold/slow, deopt), a label/patch API,
// and the instruction-cache flush step that must follow any in-place
// patch to already-executing code.
//
// Grounded on wazero's internal/engine/compiler/engine_cache.go, which
// mmaps a code segment via internal/platform and registers it for
// later lookup; that supporting platform package was not present in
// the retrieval pack (only internal/platform/mmap_test.go's contract
// was), so the mmap/mprotect calls here are written directly against
// the standard library's golang.org/x/sys/unix-free syscall package —
// see DESIGN.md for why no third-party mmap library could be wired in
// (none appears anywhere in the retrieval pack).
package jitmem

import (
	"fmt"
	"sync"
	"syscall"
)

// Page selects one of the three logical regions a method's code is
// emitted into, per §4.1 and §9's "page selection is a per-emit
// cursor" design note.
type Page int

const (
	PageMain Page = iota
	PageSlow
	PageDeopt
	pageCount
)

// Label is an offset, within a Page, recorded for later patching —
// a forward branch target, an inline-cache word, or a stub's relative
// jump to freshly compiled code.
type Label struct {
	Page   Page
	Offset int
}

// PatchSite records where and how wide a previously-emitted relative
// reference needs rewriting once its target label is known.
type PatchSite struct {
	Label
	Width int // 1 (rel8) or 4 (rel32)
}

// buf is one mmap-backed, growable code buffer for a single page. It is
// writable while being emitted into and must be made executable (and
// non-writable, preserving W^X) before any generated code runs.
type buf struct {
	mem       []byte // mmap-backed, len==cap, logically used[:size]
	size      int
	executable bool
}

const initialPageBytes = 64 * 1024

func newBuf() (*buf, error) {
	mem, err := mmapRW(initialPageBytes)
	if err != nil {
		return nil, err
	}
	return &buf{mem: mem}, nil
}

func (b *buf) ensureWritable() error {
	if !b.executable {
		return nil
	}
	if err := mprotectRW(b.mem); err != nil {
		return err
	}
	b.executable = false
	return nil
}

func (b *buf) grow(extra int) error {
	if b.size+extra <= len(b.mem) {
		return nil
	}
	newSize := len(b.mem) * 2
	for newSize < b.size+extra {
		newSize *= 2
	}
	nb, err := mmapRW(newSize)
	if err != nil {
		return err
	}
	copy(nb, b.mem[:b.size])
	if err := munmap(b.mem); err != nil {
		return err
	}
	b.mem = nb
	return nil
}

func (b *buf) write(p []byte) (int, error) {
	if err := b.ensureWritable(); err != nil {
		return 0, err
	}
	if err := b.grow(len(p)); err != nil {
		return 0, err
	}
	n := copy(b.mem[b.size:], p)
	b.size += n
	return n, nil
}

func (b *buf) makeExecutable() error {
	if b.executable {
		return nil
	}
	if err := mprotectRX(b.mem[:pageRoundUp(b.size)]); err != nil {
		return err
	}
	clearInstructionCache(b.mem[:b.size])
	b.executable = true
	return nil
}

func (b *buf) entry() uintptr {
	return addrOf(b.mem)
}

// JitMemory owns the three logical pages and exposes the label/patch
// API the code generator uses: Emit appends bytes to the current page,
// DefineLabel captures the current offset, and Patch rewrites a
// previously recorded relative reference once its target is known.
type JitMemory struct {
	mu    sync.Mutex
	pages [pageCount]*buf
	cur   Page
}

func New() (*JitMemory, error) {
	m := &JitMemory{}
	for i := range m.pages {
		b, err := newBuf()
		if err != nil {
			return nil, fmt.Errorf("jitmem: allocating page %d: %w", i, err)
		}
		m.pages[i] = b
	}
	return m, nil
}

// SelectPage sets the page subsequent Emit/DefineLabel calls apply to,
// the "select_page(n) switch" of §4.1.
func (m *JitMemory) SelectPage(p Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = p
}

// Emit appends code bytes to the currently selected page, returning the
// label at which they were written.
func (m *JitMemory) Emit(code []byte) (Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pages[m.cur]
	off := p.size
	if _, err := p.write(code); err != nil {
		return Label{}, err
	}
	return Label{Page: m.cur, Offset: off}, nil
}

// DefineLabel captures the current write cursor of the selected page
// without emitting anything, for forward-declared basic-block starts.
func (m *JitMemory) DefineLabel() Label {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pages[m.cur]
	return Label{Page: m.cur, Offset: p.size}
}

// Patch overwrites the bytes at site with patch, used both for
// forward-branch backpatching within one compilation and for
// in-place inline-cache rewrites to already-executing code. Either
// way it is followed by an instruction-cache flush of the patched
// range, per §9's "Self-modifying inline caches" design note.
func (m *JitMemory) Patch(site PatchSite, patch []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pages[site.Page]
	if err := p.ensureWritable(); err != nil {
		return err
	}
	if site.Offset+len(patch) > p.size {
		return fmt.Errorf("jitmem: patch at %d+%d exceeds written size %d", site.Offset, len(patch), p.size)
	}
	copy(p.mem[site.Offset:], patch)
	if err := p.makeExecutable(); err != nil {
		return err
	}
	return nil
}

// Finalize makes every page executable (and non-writable), flushing
// the instruction cache over the written ranges. No code is ever freed
// during the program run (§5: "no eviction").
func (m *JitMemory) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if err := p.makeExecutable(); err != nil {
			return err
		}
	}
	return nil
}

// EntryAddress returns the absolute address of a label, valid only
// after the owning page has been finalized at least once.
func (m *JitMemory) EntryAddress(l Label) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[l.Page].entry() + uintptr(l.Offset)
}

func pageRoundUp(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

func mmapRW(size int) ([]byte, error) {
	return syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
}

func munmap(b []byte) error {
	return syscall.Munmap(b)
}

func mprotectRW(b []byte) error {
	return syscall.Mprotect(b, syscall.PROT_READ|syscall.PROT_WRITE)
}

func mprotectRX(b []byte) error {
	return syscall.Mprotect(b, syscall.PROT_READ|syscall.PROT_EXEC)
}
