package runtime

import (
	"math"

	"github.com/amberlang/amberjit/internal/value"
)

// This file implements the downward C-ABI surface enumerated in §6: the
// slow-path runtime functions the method-JIT's fast paths call out to
// when a fixnum/float guard fails. Signatures mirror the spec exactly
// ((interp*, globals*, lhs, rhs) -> Option<Value>, realized as
// (value.Value, error)) because call-site argument order is baked into
// emission (§6's opening sentence); only the (interp*, globals*)
// leading pair is implicit receiver state here.

type ABI struct {
	in *Interp
	g  *Globals
}

func NewABI(in *Interp, g *Globals) *ABI { return &ABI{in: in, g: g} }

func asFloat(v value.Value) (float64, bool) {
	if value.IsFloat(v) {
		return value.AsFloat(v), true
	}
	if value.IsFixnum(v) {
		return float64(value.AsInt(v)), true
	}
	return 0, false
}

func (a *ABI) numericBinOp(lhs, rhs value.Value, ii func(a, b int64) (int64, bool), ff func(a, b float64) float64) (value.Value, error) {
	if value.IsFixnum(lhs) && value.IsFixnum(rhs) {
		if r, ok := ii(value.AsInt(lhs), value.AsInt(rhs)); ok && r >= -(1<<62) && r <= 1<<62-1 {
			return value.FromInt(r), nil
		}
		// Overflow promotes to float, matching "Fixnum add at i63::MAX
		// overflows to slow path, which promotes to arbitrary
		// precision" (§8); this host uses float64 as its arbitrary
		// precision stand-in since bignum is out of scope.
		lf, _ := asFloat(lhs)
		rf, _ := asFloat(rhs)
		return value.FromFloat(ff(lf, rf)), nil
	}
	lf, lok := asFloat(lhs)
	rf, rok := asFloat(rhs)
	if !lok || !rok {
		return 0, ErrTypeError
	}
	return value.FromFloat(ff(lf, rf)), nil
}

func (a *ABI) AddValues(lhs, rhs value.Value) (value.Value, error) {
	return a.numericBinOp(lhs, rhs,
		func(x, y int64) (int64, bool) {
			s := x + y
			if (s > x) == (y > 0) {
				return s, true
			}
			return 0, false
		},
		func(x, y float64) float64 { return x + y })
}

func (a *ABI) SubValues(lhs, rhs value.Value) (value.Value, error) {
	return a.numericBinOp(lhs, rhs,
		func(x, y int64) (int64, bool) {
			d := x - y
			if (d < x) == (y > 0) {
				return d, true
			}
			return 0, false
		},
		func(x, y float64) float64 { return x - y })
}

func (a *ABI) MulValues(lhs, rhs value.Value) (value.Value, error) {
	return a.numericBinOp(lhs, rhs,
		func(x, y int64) (int64, bool) {
			if x == 0 || y == 0 {
				return 0, true
			}
			p := x * y
			if p/y != x {
				return 0, false
			}
			return p, true
		},
		func(x, y float64) float64 { return x * y })
}

func (a *ABI) DivValues(lhs, rhs value.Value) (value.Value, error) {
	lf, lok := asFloat(lhs)
	rf, rok := asFloat(rhs)
	if !lok || !rok {
		return 0, ErrTypeError
	}
	if rf == 0 {
		return 0, ErrDivideByZero
	}
	if value.IsFixnum(lhs) && value.IsFixnum(rhs) {
		li, ri := value.AsInt(lhs), value.AsInt(rhs)
		if ri != 0 && li%ri == 0 {
			return value.FromInt(li / ri), nil
		}
	}
	return value.FromFloat(lf / rf), nil
}

func bitOp(lhs, rhs value.Value, f func(a, b int64) int64) (value.Value, error) {
	if !value.IsFixnum(lhs) || !value.IsFixnum(rhs) {
		return 0, ErrTypeError
	}
	return value.FromInt(f(value.AsInt(lhs), value.AsInt(rhs))), nil
}

func (a *ABI) BitOrValues(lhs, rhs value.Value) (value.Value, error) {
	return bitOp(lhs, rhs, func(x, y int64) int64 { return x | y })
}

func (a *ABI) BitAndValues(lhs, rhs value.Value) (value.Value, error) {
	return bitOp(lhs, rhs, func(x, y int64) int64 { return x & y })
}

func (a *ABI) BitXorValues(lhs, rhs value.Value) (value.Value, error) {
	return bitOp(lhs, rhs, func(x, y int64) int64 { return x ^ y })
}

// shiftValues implements Shr/Shl's documented edge cases: a negative
// effective count reverses direction, and a magnitude ≥64 saturates
// (zero for left shifts, arithmetic sign for right shifts), per
// §4.3.2's "Shift" paragraph.
func shiftValues(lhs, rhs value.Value, left bool) (value.Value, error) {
	if !value.IsFixnum(lhs) || !value.IsFixnum(rhs) {
		return 0, ErrTypeError
	}
	x := value.AsInt(lhs)
	n := value.AsInt(rhs)
	if n < 0 {
		left = !left
		n = -n
	}
	if n >= 64 {
		if left {
			return value.FromInt(0), nil
		}
		if x < 0 {
			return value.FromInt(-1), nil
		}
		return value.FromInt(0), nil
	}
	if left {
		return value.FromInt(x << uint(n)), nil
	}
	return value.FromInt(x >> uint(n)), nil
}

func (a *ABI) ShrValues(lhs, rhs value.Value) (value.Value, error) { return shiftValues(lhs, rhs, false) }
func (a *ABI) ShlValues(lhs, rhs value.Value) (value.Value, error) { return shiftValues(lhs, rhs, true) }

func (a *ABI) NegValue(v value.Value) (value.Value, error) {
	if value.IsFixnum(v) {
		return value.FromInt(-value.AsInt(v)), nil
	}
	if value.IsFloat(v) {
		return value.FromFloat(-value.AsFloat(v)), nil
	}
	return 0, ErrTypeError
}

// cmpValues implements the shared ordered-comparison logic for
// cmp_{lt,le,gt,ge}_values. Unlike the arithmetic helpers, comparisons
// never fail at the language level (non-numeric operands simply
// compare as neither less, equal, nor greater); they return a plain
// value.Value, not an error, matching §6's signature for this family.
// A NaN operand makes every ordered relation false, per the tag
// round-trip invariant in §8 ("== does not hold for NaN").
func cmpValues(lhs, rhs value.Value, cmp func(c int, ordered bool) bool) value.Value {
	lf, lok := asFloat(lhs)
	rf, rok := asFloat(rhs)
	if !lok || !rok {
		return boolValue(false)
	}
	if math.IsNaN(lf) || math.IsNaN(rf) {
		return boolValue(false)
	}
	var c int
	switch {
	case lf < rf:
		c = -1
	case lf > rf:
		c = 1
	}
	return boolValue(cmp(c, true))
}

func boolValue(b bool) value.Value {
	if b {
		return value.TrueValue
	}
	return value.FalseValue
}

// CmpEqValues compares by value identity for non-numerics and by
// ordered equality (NaN != NaN) for numerics.
func (a *ABI) CmpEqValues(lhs, rhs value.Value) value.Value {
	if (value.IsFixnum(lhs) || value.IsFloat(lhs)) && (value.IsFixnum(rhs) || value.IsFloat(rhs)) {
		lf, _ := asFloat(lhs)
		rf, _ := asFloat(rhs)
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return value.FalseValue
		}
		return boolValue(lf == rf)
	}
	return boolValue(lhs == rhs)
}

func (a *ABI) CmpNeValues(lhs, rhs value.Value) value.Value {
	return boolValue(a.CmpEqValues(lhs, rhs) != value.TrueValue)
}

func (a *ABI) CmpLtValues(lhs, rhs value.Value) value.Value {
	return cmpValues(lhs, rhs, func(c int, _ bool) bool { return c < 0 })
}

func (a *ABI) CmpLeValues(lhs, rhs value.Value) value.Value {
	return cmpValues(lhs, rhs, func(c int, _ bool) bool { return c <= 0 })
}

func (a *ABI) CmpGtValues(lhs, rhs value.Value) value.Value {
	return cmpValues(lhs, rhs, func(c int, _ bool) bool { return c > 0 })
}

func (a *ABI) CmpGeValues(lhs, rhs value.Value) value.Value {
	return cmpValues(lhs, rhs, func(c int, _ bool) bool { return c >= 0 })
}

// FindMethod is find_method's Go realization: (globals*, name_id, argc,
// receiver) -> Option<&FuncData>. argc is checked against the callee's
// declared arity; a mismatch is an arity error rather than a
// method-not-found error.
func (a *ABI) FindMethod(nameID uint32, argc int, recv value.Value) (*FuncData, error) {
	class := a.ClassOf(recv)
	fid, ok := a.g.Classes.FindMethod(class, nameID)
	if !ok {
		return nil, ErrMethodNotFound
	}
	fd, err := a.g.Funcs.Get(fid)
	if err != nil {
		return nil, err
	}
	if int(fd.RegNum) < argc {
		return nil, ErrArityMismatch
	}
	return fd, nil
}

// ClassOf returns the dynamic class of v, used by FindMethod to pick
// the method table to search.
func (a *ABI) ClassOf(v value.Value) value.ClassID {
	switch {
	case value.IsFixnum(v):
		return value.ClassInteger
	case value.IsFloat(v):
		return value.ClassFloat
	case v == value.NilValue:
		return value.ClassNilClass
	case v == value.TrueValue:
		return value.ClassTrueClass
	case v == value.FalseValue:
		return value.ClassFalseClass
	default:
		if o := a.g.Heap.Unbox(v); o != nil {
			return o.Class
		}
		return 0
	}
}

// GetInstanceVarWithCache / SetInstanceVarWithCache implement
// §4.3.2's ivar cache fallback: on a miss, recompute the dense ivar id
// for (class, name) and fill the caller-owned cache entry.
func (a *ABI) GetInstanceVarWithCache(recv value.Value, nameID uint32, cache *IvarCacheEntry) value.Value {
	o := a.g.Heap.Unbox(recv)
	if o == nil {
		return value.NilValue
	}
	ivarID := a.resolveIvarID(o.Class, nameID)
	cache.ClassID = o.Class
	cache.IvarID = ivarID
	return a.readIvar(o, ivarID)
}

func (a *ABI) SetInstanceVarWithCache(recv value.Value, nameID uint32, v value.Value, cache *IvarCacheEntry) {
	o := a.g.Heap.Unbox(recv)
	if o == nil {
		return
	}
	ivarID := a.resolveIvarID(o.Class, nameID)
	cache.ClassID = o.Class
	cache.IvarID = ivarID
	a.writeIvar(o, ivarID, v)
}

func (a *ABI) resolveIvarID(class value.ClassID, nameID uint32) uint32 {
	entry, ok := a.g.Classes.Lookup(class)
	if !ok {
		entry = a.g.Classes.Define(class, 0)
	}
	id, ok := entry.IvarIDs[nameID]
	if !ok {
		id = uint32(len(entry.IvarIDs))
		entry.IvarIDs[nameID] = id
	}
	return id
}

func (a *ABI) readIvar(o *Object, ivarID uint32) value.Value {
	if int(ivarID) < ObjectInlineIvar {
		return o.InlineIvars[ivarID]
	}
	if o.ExtraIvars == nil {
		return value.NilValue
	}
	if v, ok := o.ExtraIvars[ivarID]; ok {
		return v
	}
	return value.NilValue
}

func (a *ABI) writeIvar(o *Object, ivarID uint32, v value.Value) {
	if int(ivarID) < ObjectInlineIvar {
		o.InlineIvars[ivarID] = v
		return
	}
	if o.ExtraIvars == nil {
		o.ExtraIvars = make(map[uint32]value.Value)
	}
	o.ExtraIvars[ivarID] = v
}

// GetIndex/SetIndex back the Index/IndexAssign opcodes for arrays.
func (a *ABI) GetIndex(recv value.Value, idx value.Value) (value.Value, error) {
	o := a.g.Heap.Unbox(recv)
	if o == nil || o.Kind != value.ObjKindArray {
		return 0, ErrTypeError
	}
	i := value.AsInt(idx)
	if i < 0 || i >= int64(len(o.Elements)) {
		return 0, ErrIndexOutOfRange
	}
	return o.Elements[i], nil
}

func (a *ABI) SetIndex(recv value.Value, idx value.Value, v value.Value) error {
	o := a.g.Heap.Unbox(recv)
	if o == nil || o.Kind != value.ObjKindArray {
		return ErrTypeError
	}
	i := value.AsInt(idx)
	if i < 0 || i >= int64(len(o.Elements)) {
		return ErrIndexOutOfRange
	}
	o.Elements[i] = v
	return nil
}

// MakeArray backs the Array opcode: it boxes a contiguous run of stack
// slots (read by the caller, since the ABI has no frame access of its
// own) into a new array object. This is a supplemented helper beyond
// §6's enumerated surface: the distilled spec references an Array
// opcode without naming the allocation entry point behind it.
func (a *ABI) MakeArray(elems []value.Value) value.Value {
	cp := make([]value.Value, len(elems))
	copy(cp, elems)
	return a.g.Heap.Box(&Object{Class: value.ClassID(0), Kind: value.ObjKindArray, Elements: cp})
}

// ConcatString backs ConcatStr; like MakeArray it always allocates and
// has no §6 entry point of its own in the distilled spec.
func (a *ABI) ConcatString(lhs, rhs value.Value) (value.Value, error) {
	lo, ro := a.g.Heap.Unbox(lhs), a.g.Heap.Unbox(rhs)
	if lo == nil || ro == nil || lo.Kind != value.ObjKindString || ro.Kind != value.ObjKindString {
		return 0, ErrTypeError
	}
	return a.g.Heap.Box(&Object{Class: value.ClassID(0), Kind: value.ObjKindString, Str: lo.Str + ro.Str}), nil
}

// DefineMethod/DefineClass back MethodDef and class
// definition opcodes (§4.3.2's "Method definition").
func (a *ABI) DefineMethod(class value.ClassID, nameID uint32, fid FuncID) {
	a.g.Classes.DefineMethod(class, nameID, fid)
}

func (a *ABI) DefineClass(id, super value.ClassID) {
	a.g.Classes.Define(id, super)
	a.g.Classes.Bump()
}

// MakeProc boxes fid as a callable block value, the representation
// OFFSET_BLOCK and get_block_data (§6) expect. No bytecode opcode
// constructs one directly since block literals are a front-end
// concern (out of scope, §1); callers driving the VM fallback (and
// its tests) use this to build a block argument to pass through Yield.
func (a *ABI) MakeProc(fid FuncID) value.Value {
	return a.g.Heap.Box(&Object{Kind: value.ObjKindProc, Func: fid})
}

// ErrorDivideByZero / GetErrorLocation back the remaining §6 helpers.
func (a *ABI) ErrorDivideByZero(fid FuncID, line uint32) {
	a.in.SetError(fid, line, ErrDivideByZero)
}

func (a *ABI) GetErrorLocation() (FuncID, uint32) {
	if a.in.Err == nil {
		return 0, 0
	}
	return a.in.Err.FuncID, a.in.Err.Line
}
