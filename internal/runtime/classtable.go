package runtime

import "github.com/amberlang/amberjit/internal/value"

// ObjectInlineIvar is the number of instance-variable slots stored
// inline in an ordinary OBJECT's header rather than spilled to an
// out-of-line table: ABI.readIvar/writeIvar keep ivar ids below this
// count in Object.InlineIvars and the rest in Object.ExtraIvars.
// Generated code does not load or store ivars at a direct offset; every
// ivar access goes through the ABI helpers. Supplemented from SPEC_FULL.md since the core
// spec references OBJECT_INLINE_IVAR without defining its storage.
const ObjectInlineIvar = 4

// AttrReader/AttrWriter describe a resolved accessor method target, as
// distinguished from an ordinary FuncID target at method-resolution
// time (§4.3.2 "Attribute reader/writer specialization").
type AttrReader struct{ IvarName uint32 }
type AttrWriter struct{ IvarName uint32 }

// IvarCacheEntry is the (class_id, ivar_id) cache filled in by
// get_instance_var_with_cache on a miss.
type IvarCacheEntry struct {
	ClassID value.ClassID
	IvarID  uint32
}

// ClassEntry is one class's method table and ivar layout.
type ClassEntry struct {
	ID      value.ClassID
	Super   value.ClassID
	Methods map[uint32]FuncID // name id -> FuncID; attribute accessors are synthesized FuncIDs resolving to AttrReader/AttrWriter
	Attrs   map[FuncID]any    // FuncID -> AttrReader|AttrWriter, for synthesized accessors
	IvarIDs map[uint32]uint32 // ivar name id -> dense ivar id, assigned on first write
}

// ClassTable is the process-wide class table plus the monotonic
// class-version counter used for O(1) mass inline-cache invalidation
// (§3 "Class version", §9 "Dispatch table").
type ClassTable struct {
	classes map[value.ClassID]*ClassEntry
	version uint32
}

func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[value.ClassID]*ClassEntry), version: 1}
}

// Version returns the current global class-version counter. A cache
// read is a single aligned load of this value in the JIT-emitted fast
// path.
func (t *ClassTable) Version() uint32 { return t.version }

// Bump increments the class-version counter, invalidating every
// existing inline cache en masse. Called by MethodDef, class
// (re)definition, and constant assignment per §4.3.2 and §9.
func (t *ClassTable) Bump() uint32 {
	t.version++
	return t.version
}

func (t *ClassTable) Define(id value.ClassID, super value.ClassID) *ClassEntry {
	e := &ClassEntry{
		ID:      id,
		Super:   super,
		Methods: make(map[uint32]FuncID),
		Attrs:   make(map[FuncID]any),
		IvarIDs: make(map[uint32]uint32),
	}
	t.classes[id] = e
	return e
}

func (t *ClassTable) Lookup(id value.ClassID) (*ClassEntry, bool) {
	e, ok := t.classes[id]
	return e, ok
}

// FindMethod resolves nameID on class id, walking the superclass chain,
// mirroring find_method's (globals*, name_id, argc, receiver) contract
// from §6 minus argc/receiver (arity is checked by the caller).
func (t *ClassTable) FindMethod(id value.ClassID, nameID uint32) (FuncID, bool) {
	for {
		e, ok := t.classes[id]
		if !ok {
			return 0, false
		}
		if fid, ok := e.Methods[nameID]; ok {
			return fid, true
		}
		if e.Super == 0 {
			return 0, false
		}
		id = e.Super
	}
}

// DefineMethod installs fid as nameID on class id and bumps the class
// version, invalidating every inline cache that might have cached the
// prior binding (§4.3.2's "Method definition").
func (t *ClassTable) DefineMethod(id value.ClassID, nameID uint32, fid FuncID) {
	e, ok := t.classes[id]
	if !ok {
		e = t.Define(id, 0)
	}
	e.Methods[nameID] = fid
	t.Bump()
}
