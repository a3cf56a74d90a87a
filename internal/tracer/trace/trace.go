// Package trace defines the wire data model emitted by the stepping
// engine: encoded values, the per-entry heap table, stack entries, and
// the trace entry sequence itself.
//
// Every type here is a direct materialization of the tagged-union schema
// in the wire format. Nothing in this package touches the Lua runtime; it is
// pure data plus the JSON encoding rules the schema mandates.
package trace

import (
	"encoding/json"
	"fmt"
)

// Event names a debugger step's classification.
type Event string

// Recognized event tags, in canonical order.
const (
	EventStepLine            Event = "step_line"
	EventCall                Event = "call"
	EventReturn              Event = "return"
	EventException           Event = "exception"
	EventUncaughtException   Event = "uncaught_exception"
	EventInstructionLimitHit Event = "instruction_limit_reached"
)

// Value tag constants used by the tagged-union encoding.
const (
	tagRef            = "REF"
	tagSpecialFloat   = "SPECIAL_FLOAT"
	tagJSSpecialVal   = "JS_SPECIAL_VAL"
	tagJSFunction     = "JS_FUNCTION"
	tagList           = "LIST"
	tagInstance       = "INSTANCE"
	tagInstancePprint = "INSTANCE_PPRINT"
)

// Value is an encoded runtime value: either a JSON leaf (number, string)
// or a tagged array described below. It marshals to exactly
// the wire form the visualizer expects, with no wrapping struct.
type Value struct {
	// leaf holds a bare JSON scalar (number or string) when tag == "".
	leaf json.RawMessage
	// tag, when non-empty, selects one of the tagged-array forms below.
	tag  string
	rest []any
}

// Number encodes a finite number leaf.
func Number(f float64) Value {
	b, _ := json.Marshal(f)
	return Value{leaf: b}
}

// Str encodes a string leaf.
func Str(s string) Value {
	b, _ := json.Marshal(s)
	return Value{leaf: b}
}

// SpecialFloat encodes NaN/+Inf/-Inf, which JSON cannot represent as a
// bare number.
func SpecialFloat(kind string) Value {
	return Value{tag: tagSpecialFloat, rest: []any{kind}}
}

// SpecialVal encodes one of the four JS-style singleton tokens: "true",
// "false", "null", "undefined". Lua has no distinct null/undefined, so
// the encoder maps Lua's single nil to "undefined" (see internal/tracer/encode).
func SpecialVal(word string) Value {
	return Value{tag: tagJSSpecialVal, rest: []any{word}}
}

// Ref encodes a reference into the current entry's Heap table.
func Ref(id int) Value {
	return Value{tag: tagRef, rest: []any{id}}
}

// MarshalJSON renders the tagged-union form: a bare scalar for leaves, or
// `[tag, ...rest]` for tagged values.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.tag == "" {
		if v.leaf == nil {
			return []byte("null"), nil
		}
		return v.leaf, nil
	}
	arr := make([]any, 0, len(v.rest)+1)
	arr = append(arr, v.tag)
	arr = append(arr, v.rest...)
	return json.Marshal(arr)
}

// UnmarshalJSON parses either a bare scalar or a tagged array back into a
// Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	arr, ok := raw.([]any)
	if !ok {
		v.leaf = json.RawMessage(data)
		v.tag = ""
		v.rest = nil
		return nil
	}
	if len(arr) == 0 {
		return fmt.Errorf("trace: empty tagged value")
	}
	tag, ok := arr[0].(string)
	if !ok {
		return fmt.Errorf("trace: tagged value missing string tag")
	}
	v.tag = tag
	v.rest = arr[1:]
	v.leaf = nil
	return nil
}

// HeapObject is one Heap-table entry: a tagged array describing a
// function, list, or object (a Heap Table entry).
type HeapObject struct {
	tag  string
	rest []any
}

// MarshalJSON renders `[tag, ...rest]`.
func (h HeapObject) MarshalJSON() ([]byte, error) {
	arr := make([]any, 0, len(h.rest)+1)
	arr = append(arr, h.tag)
	arr = append(arr, h.rest...)
	return json.Marshal(arr)
}

// NewFunctionObject builds a `["JS_FUNCTION", name, body, properties, null]` entry.
func NewFunctionObject(name, body string, properties []NameValue) HeapObject {
	var props any
	if properties == nil {
		props = nil
	} else {
		props = properties
	}
	return HeapObject{tag: tagJSFunction, rest: []any{name, body, props, nil}}
}

// NewListObject builds a `["LIST", elem0, elem1, ...]` entry.
func NewListObject(elems []Value) HeapObject {
	rest := make([]any, len(elems))
	for i, e := range elems {
		rest[i] = e
	}
	return HeapObject{tag: tagList, rest: rest}
}

// NewInstancePprintObject builds an `["INSTANCE_PPRINT", "object", s]` entry.
func NewInstancePprintObject(s string) HeapObject {
	return HeapObject{tag: tagInstancePprint, rest: []any{"object", s}}
}

// NewInstanceObject builds an `["INSTANCE", "", [k, v], ...]` entry.
func NewInstanceObject(pairs [][2]Value) HeapObject {
	rest := make([]any, 0, len(pairs)+1)
	rest = append(rest, "")
	for _, p := range pairs {
		rest = append(rest, [2]Value{p[0], p[1]})
	}
	return HeapObject{tag: tagInstance, rest: rest}
}

// NameValue is a `[name, encoded-value]` pair, used for function
// property lists.
type NameValue [2]any

// MarshalJSON renders the pair as a two-element JSON array.
func (nv NameValue) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{nv[0], nv[1]})
}

// Prop builds a NameValue pair from a plain string key.
func Prop(name string, v Value) NameValue {
	return NameValue{name, v}
}

// Heap is the per-entry object table, keyed by the stable small integer
// object ID assigned by the Identity Registry. It is rebuilt fresh for
// every trace entry.
type Heap map[int]HeapObject

// StackEntry is one live user frame: one call activation's rendered locals.
type StackEntry struct {
	FuncName          string           `json:"func_name"`
	FrameID           int              `json:"frame_id"`
	IsHighlighted     bool             `json:"is_highlighted"`
	IsParent          bool             `json:"is_parent"`
	IsZombie          bool             `json:"is_zombie"`
	ParentFrameIDList []int            `json:"parent_frame_id_list"`
	UniqueHash        string           `json:"unique_hash"`
	OrderedVarnames   []string         `json:"ordered_varnames"`
	EncodedLocals     map[string]Value `json:"encoded_locals"`
}

// NewStackEntry builds a StackEntry with the invariant fields
// (unique_hash, empty parent_frame_id_list) pre-filled.
func NewStackEntry(funcName string, frameID int, highlighted bool) *StackEntry {
	return &StackEntry{
		FuncName:          funcName,
		FrameID:           frameID,
		IsHighlighted:     highlighted,
		ParentFrameIDList: []int{},
		UniqueHash:        fmt.Sprintf("%s_f%d", funcName, frameID),
		OrderedVarnames:   []string{},
		EncodedLocals:     map[string]Value{},
	}
}

// Bind adds a local binding, preserving first-insertion order in
// OrderedVarnames.
func (s *StackEntry) Bind(name string, v Value) {
	if _, exists := s.EncodedLocals[name]; !exists {
		s.OrderedVarnames = append(s.OrderedVarnames, name)
	}
	s.EncodedLocals[name] = v
}

// Entry is one record in the output trace sequence.
type Entry struct {
	Event          Event            `json:"event"`
	Line           int              `json:"line"`
	Col            int              `json:"col"`
	FuncName       string           `json:"func_name"`
	Stdout         string           `json:"stdout"`
	Globals        map[string]Value `json:"globals"`
	OrderedGlobals []string         `json:"ordered_globals"`
	StackToRender  []*StackEntry    `json:"stack_to_render"`
	Heap           Heap             `json:"heap"`
	ExceptionMsg   string           `json:"exception_msg,omitempty"`
}

// NewEntry builds an Entry with the invariant collections pre-allocated
// (never nil, so JSON always renders `[]`/`{}` rather than `null`).
func NewEntry(event Event) *Entry {
	return &Entry{
		Event:          event,
		Globals:        map[string]Value{},
		OrderedGlobals: []string{},
		StackToRender:  []*StackEntry{},
		Heap:           Heap{},
	}
}

// BindGlobal adds a global binding, preserving first-insertion order.
func (e *Entry) BindGlobal(name string, v Value) {
	if _, exists := e.Globals[name]; !exists {
		e.OrderedGlobals = append(e.OrderedGlobals, name)
	}
	e.Globals[name] = v
}

// PrependFrame unshifts a stack entry so the list grows bottom-of-stack
// first.
func (e *Entry) PrependFrame(s *StackEntry) {
	e.StackToRender = append([]*StackEntry{s}, e.StackToRender...)
}

// Blob is the top-level output object: a code string alongside its
// trace, with a stamped trace_id for dedup across re-runs.
type Blob struct {
	Code    string   `json:"code"`
	Trace   []*Entry `json:"trace"`
	TraceID string   `json:"trace_id,omitempty"`
}
