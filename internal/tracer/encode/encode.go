// Package encode implements the Heap/Value Encoder (C4): the recursive
// conversion from live gopher-lua values into the tagged-union wire
// format of internal/tracer/trace, with the identity and cycle-safety
// rules that format requires.
//
// The recursion shape (a visited-set guarding against infinite descent
// into self-referential tables) never fully materializes nested
// structures inline. Reference types are registered once in the
// Identity Registry and encoded as REF, with the referenced object's
// own encoding placed into the shared Heap table exactly once per entry.
package encode

import (
	"fmt"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/tracelab/steptrace/internal/tracer/identity"
	"github.com/tracelab/steptrace/internal/tracer/trace"
	"github.com/tracelab/steptrace/internal/tracer/wrapper"
)

// Encoder converts live lua.LValue trees into trace.Value / trace.Heap
// entries. One Encoder is created per trace entry so that the heap table
// it accumulates is scoped to a single step (the heap's "Heap Table is
// rebuilt fresh for every entry" invariant); the identity.ObjectRegistry
// it wraps, by contrast, is shared across the whole run so object ids
// stay stable step to step.
type Encoder struct {
	objects *identity.ObjectRegistry
	heap    trace.Heap
	// visiting guards recursive descent: an object id present here is
	// currently being encoded higher up the call stack, so a nested
	// reference to it should stop at REF rather than recurse again.
	visiting map[int]bool
	// sourceLines is the traced program's own source, split on newlines,
	// used to recover a function's real body text by line range. Empty
	// when the caller has no source to offer (unit tests encoding a
	// bare function value), in which case encodeFunction falls back to a
	// synthesized placeholder.
	sourceLines []string
	// funcNames maps a function value to the name of the global it was
	// found bound to, the best-effort name-recovery source available:
	// gopher-lua functions carry no inherent name of their own, only the
	// name a particular call site happened to look them up by.
	funcNames map[*lua.LFunction]string
	// L is the live state a table's __tostring metamethod is invoked
	// against, via ToStringMeta. Nil when the caller has no state to
	// offer (a unit test encoding a bare table), in which case the
	// INSTANCE_PPRINT check is skipped and encoding falls through to a
	// plain INSTANCE.
	L *lua.LState
}

// New returns an Encoder that writes into a fresh Heap and shares object
// identity with objects, the run-scoped registry. source is the user
// program's own text, used to recover real function body text; globals
// is the current global table, walked once to resolve function names
// best-effort; L is the live state a table's __tostring metamethod is
// invoked against. Any of the three may be empty/nil, in which case the
// corresponding enrichment is skipped.
func New(objects *identity.ObjectRegistry, source string, globals *lua.LTable, L *lua.LState) *Encoder {
	e := &Encoder{
		objects:   objects,
		heap:      trace.Heap{},
		visiting:  map[int]bool{},
		funcNames: map[*lua.LFunction]string{},
		L:         L,
	}
	if source != "" {
		e.sourceLines = strings.Split(source, "\n")
	}
	if globals != nil {
		globals.ForEach(func(k, v lua.LValue) {
			ks, ok := k.(lua.LString)
			if !ok {
				return
			}
			fn, ok := v.(*lua.LFunction)
			if !ok {
				return
			}
			if _, already := e.funcNames[fn]; !already {
				e.funcNames[fn] = string(ks)
			}
		})
	}
	return e
}

// Heap returns the heap table accumulated by Encode calls so far.
func (e *Encoder) Heap() trace.Heap {
	return e.heap
}

// Encode converts one live Lua value to its wire form. It is the single
// entry point the Stepping Engine calls for every local, global, and
// nested field.
func (e *Encoder) Encode(lv lua.LValue) trace.Value {
	if lv == nil {
		return trace.SpecialVal("undefined")
	}
	switch v := lv.(type) {
	case *lua.LNilType:
		return trace.SpecialVal("undefined")
	case lua.LBool:
		if bool(v) {
			return trace.SpecialVal("true")
		}
		return trace.SpecialVal("false")
	case lua.LNumber:
		return e.encodeNumber(float64(v))
	case lua.LString:
		return trace.Str(string(v))
	case *lua.LTable:
		return e.encodeRef(v, v)
	case *lua.LFunction:
		return e.encodeRef(v, v)
	case *lua.LUserData:
		return e.encodeRef(v, v)
	default:
		// Channels and other exotic LValue implementations gopher-lua
		// exposes (lua.LChannel) have no meaningful heap representation;
		// render them the same way Python Tutor renders opaque handles.
		return trace.Str(fmt.Sprintf("<%s>", lv.Type().String()))
	}
}

// encodeNumber renders a Lua number as its wire form: finite numbers
// are bare JSON leaves, NaN/+Inf/-Inf use the SPECIAL_FLOAT tagged form
// since JSON cannot carry them as literals.
func (e *Encoder) encodeNumber(f float64) trace.Value {
	switch {
	case math.IsNaN(f):
		return trace.SpecialFloat("NaN")
	case math.IsInf(f, 1):
		return trace.SpecialFloat("Infinity")
	case math.IsInf(f, -1):
		return trace.SpecialFloat("-Infinity")
	default:
		return trace.Number(f)
	}
}

// encodeRef always encodes a reference type as a REF into the heap
// table, with the referenced object placed into the heap exactly once
// per entry, the first time it is reached.
func (e *Encoder) encodeRef(ref any, lv lua.LValue) trace.Value {
	id, isNew := e.objects.IDFor(ref)
	if !isNew {
		if _, already := e.heap[id]; already || e.visiting[id] {
			return trace.Ref(id)
		}
	}
	// Place a placeholder before recursing so a self-reference
	// encountered mid-descent resolves to REF instead of looping forever.
	e.visiting[id] = true
	defer delete(e.visiting, id)

	switch v := lv.(type) {
	case *lua.LTable:
		e.heap[id] = e.encodeTable(v)
	case *lua.LFunction:
		e.heap[id] = e.encodeFunction(v)
	case *lua.LUserData:
		e.heap[id] = e.encodeUserData(v)
	}
	return trace.Ref(id)
}

// encodeTable classifies a table as a LIST (dense 1..n integer keys,
// matching Lua's own notion of a sequence) or an INSTANCE (anything
// else).
func (e *Encoder) encodeTable(t *lua.LTable) trace.HeapObject {
	maxN := t.Len()
	isSequence := maxN > 0
	if isSequence {
		count := 0
		t.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if count != maxN {
			isSequence = false
		}
	}

	if isSequence {
		elems := make([]trace.Value, maxN)
		for i := 1; i <= maxN; i++ {
			elems[i-1] = e.Encode(t.RawGetInt(i))
		}
		return trace.NewListObject(elems)
	}

	if s, ok := e.tableStringForm(t); ok {
		return trace.NewInstancePprintObject(s)
	}

	// Own properties must appear in insertion order. gopher-lua's
	// LTable records the order string/non-array keys were first assigned
	// and ForEach walks the hash part in that order, so no separate sort
	// is needed here (see collectGlobals for the same assumption spelled
	// out at length).
	var out [][2]trace.Value
	t.ForEach(func(k, v lua.LValue) {
		out = append(out, [2]trace.Value{trace.Str(keyString(k)), e.Encode(v)})
	})
	if proto := prototypeOf(t); proto != nil && tableHasOwnFields(proto) {
		out = append(out, [2]trace.Value{trace.Str("__proto__"), e.Encode(proto)})
	}
	return trace.NewInstanceObject(out)
}

// tableStringForm returns t's __tostring-metamethod rendering when it
// has one and that rendering isn't gopher-lua's own generic "table:
// 0x..." default, mirroring stdout.Capture's own use of ToStringMeta for
// print(). This is the Lua analogue of a plain object's pretty-print
// string form: `setmetatable(obj, {__tostring = ...})` is the standard
// OOP idiom for giving a table a custom textual identity, the same way a
// JS object gets one from an overridden toString.
func (e *Encoder) tableStringForm(t *lua.LTable) (s string, ok bool) {
	if e.L == nil {
		return "", false
	}
	mt, isTable := t.Metatable.(*lua.LTable)
	if !isTable || mt.RawGetString("__tostring") == lua.LNil {
		return "", false
	}
	s = e.L.ToStringMeta(t).String()
	if strings.HasPrefix(s, "table: ") {
		return "", false
	}
	return s, true
}

// prototypeOf resolves the table a Lua OOP instance inherits from: its
// metatable's __index table when set (the `setmetatable(obj, {__index =
// Class})` idiom), or the metatable itself when __index is absent (the
// `setmetatable(obj, Class)` idiom, where the class table doubles as its
// own metatable). Returns nil when t has no metatable at all.
func prototypeOf(t *lua.LTable) *lua.LTable {
	mt, ok := t.Metatable.(*lua.LTable)
	if !ok {
		return nil
	}
	if idx, ok := mt.RawGetString("__index").(*lua.LTable); ok {
		return idx
	}
	return mt
}

// tableHasOwnFields reports whether t has at least one own key, the
// "non-empty object" test P3's __proto__ pair and P1's prototype-pair
// rule both gate on.
func tableHasOwnFields(t *lua.LTable) bool {
	found := false
	t.ForEach(func(lua.LValue, lua.LValue) { found = true })
	return found
}

// keyString renders a Lua table key the way Lua's own tostring would,
// for the string label attached to INSTANCE fields.
func keyString(k lua.LValue) string {
	switch v := k.(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return fmt.Sprintf("%v", float64(v))
	default:
		return k.String()
	}
}

// encodeFunction renders a Lua closure as a JS_FUNCTION heap entry.
//
// name is resolved best-effort from funcNames (the first global name the
// function was found bound to); a function never assigned to a global — a
// local helper, a table field, an argument — has no name gopher-lua
// exposes and falls back to "<anonymous>".
//
// body is the function's real source text, sliced out of sourceLines by
// Proto.LineDefined/LastLineDefined and adjusted for the wrapper's
// prelude offset, with the same indentation fix-up P1 specifies for a
// brace-closed body: Lua closes a function with "end" rather than "}",
// so the fix-up triggers on that keyword instead.
//
// properties is always nil: unlike a JS Function object, a gopher-lua
// *lua.LFunction carries no settable property table of its own (no
// value analogous to Function.prototype exists to seed a "prototype"
// pair from), so there is nothing here for P1's own-property list to
// enumerate. The prototype-chain propagation P1 and P3 both care about
// is fully implemented on the table side instead (see prototypeOf),
// which is where a Lua program's actual OOP inheritance chain lives via
// setmetatable/getmetatable.
func (e *Encoder) encodeFunction(f *lua.LFunction) trace.HeapObject {
	if f.IsG {
		name := e.funcNames[f]
		if name == "" {
			name = "<builtin>"
		}
		return trace.NewFunctionObject(name, "<builtin function>", nil)
	}

	name := e.funcNames[f]
	if name == "" {
		name = "<anonymous>"
	}
	return trace.NewFunctionObject(name, e.functionBody(f), nil)
}

// functionBody recovers f's real declaration text from sourceLines, or a
// synthesized placeholder when no source was supplied or the recorded
// line range doesn't resolve to a valid slice (e.g. a function value
// manufactured outside of any traced source, as in an encode-only test).
func (e *Encoder) functionBody(f *lua.LFunction) string {
	if f.Proto == nil || len(e.sourceLines) == 0 {
		if f.Proto != nil {
			return fmt.Sprintf("<function defined at line %d>", wrapper.ToUserLine(f.Proto.LineDefined))
		}
		return "<function>"
	}

	start := wrapper.ToUserLine(f.Proto.LineDefined)
	end := wrapper.ToUserLine(f.Proto.LastLineDefined)
	if start < 1 || end < start || end > len(e.sourceLines) {
		return fmt.Sprintf("<function defined at line %d>", start)
	}

	lines := append([]string(nil), e.sourceLines[start-1:end]...)
	body := strings.Join(lines, "\n")

	last := lines[len(lines)-1]
	if strings.TrimSpace(last) == "end" {
		indent := last[:len(last)-len(strings.TrimLeft(last, " \t"))]
		body = indent + body
	}
	return body
}

// encodeUserData renders userdata via its Go String()/Stringer form,
// the fallback for values with no natural LIST/INSTANCE shape.
func (e *Encoder) encodeUserData(ud *lua.LUserData) trace.HeapObject {
	s := fmt.Sprintf("%v", ud.Value)
	return trace.NewInstancePprintObject(s)
}
