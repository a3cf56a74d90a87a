package encode

import (
	"encoding/json"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/tracelab/steptrace/internal/tracer/identity"
	"github.com/tracelab/steptrace/internal/tracer/wrapper"
)

func marshalStr(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return string(data)
}

func TestEncodeScalars(t *testing.T) {
	e := New(identity.NewObjectRegistry(), "", nil, nil)

	tests := []struct {
		name string
		in   lua.LValue
		want string
	}{
		{"nil", lua.LNil, `["JS_SPECIAL_VAL","undefined"]`},
		{"true", lua.LTrue, `["JS_SPECIAL_VAL","true"]`},
		{"false", lua.LFalse, `["JS_SPECIAL_VAL","false"]`},
		{"integer", lua.LNumber(42), "42"},
		{"float", lua.LNumber(3.5), "3.5"},
		{"string", lua.LString("hi"), `"hi"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := marshalStr(t, e.Encode(tt.in))
			if got != tt.want {
				t.Errorf("Encode(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeSpecialFloats(t *testing.T) {
	e := New(identity.NewObjectRegistry(), "", nil, nil)

	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"nan", nan(), `["SPECIAL_FLOAT","NaN"]`},
		{"pos inf", posInf(), `["SPECIAL_FLOAT","Infinity"]`},
		{"neg inf", negInf(), `["SPECIAL_FLOAT","-Infinity"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := marshalStr(t, e.Encode(lua.LNumber(tt.in)))
			if got != tt.want {
				t.Errorf("Encode(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeListTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetInt(1, lua.LString("a"))
	tbl.RawSetInt(2, lua.LString("b"))

	e := New(identity.NewObjectRegistry(), "", nil, L)
	v := e.Encode(tbl)

	if marshalStr(t, v) != `["REF",1]` {
		t.Fatalf("Encode(list table) = %s, want a REF", marshalStr(t, v))
	}
	obj, ok := e.Heap()[1]
	if !ok {
		t.Fatal("heap entry for the list table was not created")
	}
	if got := marshalStr(t, obj); got != `["LIST","a","b"]` {
		t.Errorf("heap entry = %s, want LIST", got)
	}
}

func TestEncodeInstanceTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("x", lua.LNumber(1))
	tbl.RawSetString("y", lua.LNumber(2))

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(tbl)

	obj, ok := e.Heap()[1]
	if !ok {
		t.Fatal("heap entry for the instance table was not created")
	}
	if got := marshalStr(t, obj); got != `["INSTANCE","",["x",1],["y",2]]` {
		t.Errorf("heap entry = %s, want an INSTANCE with x then y", got)
	}
}

func TestEncodeCyclicTableTerminates(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	e := New(identity.NewObjectRegistry(), "", nil, L)
	done := make(chan struct{})
	go func() {
		e.Encode(tbl)
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // if this deadlocks the test will time out, proving the cycle guard failed

	obj, ok := e.Heap()[1]
	if !ok {
		t.Fatal("heap entry for the cyclic table was not created")
	}
	if got := marshalStr(t, obj); got != `["INSTANCE","",["self",["REF",1]]]` {
		t.Errorf("heap entry = %s, want self field to resolve to REF 1", got)
	}
}

func TestEncodeSharedReferenceReusesID(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	shared := L.NewTable()
	shared.RawSetString("v", lua.LNumber(1))

	holder := L.NewTable()
	holder.RawSetString("a", shared)
	holder.RawSetString("b", shared)

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(holder)

	if len(e.Heap()) != 2 {
		t.Fatalf("len(Heap()) = %d, want 2 (holder + shared, once each)", len(e.Heap()))
	}
}

func TestEncodeFunction(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	fn, err := L.LoadString("return 1")
	if err != nil {
		t.Fatalf("LoadString error: %v", err)
	}

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(fn)

	obj, ok := e.Heap()[1]
	if !ok {
		t.Fatal("heap entry for the function was not created")
	}
	var raw []any
	if err := json.Unmarshal([]byte(marshalStr(t, obj)), &raw); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if raw[0] != "JS_FUNCTION" {
		t.Errorf("tag = %v, want JS_FUNCTION", raw[0])
	}
}

func TestEncodeFunctionNameAndBody(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	source := "function greet()\n  return 1\nend\n"
	// Compile the wrapped chunk, as the engine does: the encoder maps the
	// wrapped chunk's line numbers back onto source via ToUserLine.
	wrapped, _ := wrapper.Wrap(source)
	fn, err := L.LoadString(wrapped)
	if err != nil {
		t.Fatalf("LoadString error: %v", err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		t.Fatalf("PCall error: %v", err)
	}
	greet, ok := L.GetGlobal("greet").(*lua.LFunction)
	if !ok {
		t.Fatal("greet was not defined as a global function")
	}

	e := New(identity.NewObjectRegistry(), source, L.Get(lua.GlobalsIndex).(*lua.LTable), L)
	e.Encode(greet)

	obj, ok := e.Heap()[1]
	if !ok {
		t.Fatal("heap entry for greet was not created")
	}
	var raw []any
	if err := json.Unmarshal([]byte(marshalStr(t, obj)), &raw); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if raw[1] != "greet" {
		t.Errorf("name = %v, want greet", raw[1])
	}
	body, _ := raw[2].(string)
	if !strings.Contains(body, "return 1") {
		t.Errorf("body = %q, want it to contain the function's real source text", body)
	}
}

func TestEncodeFunctionWithoutSourceFallsBackToPlaceholder(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	fn, err := L.LoadString("return 1")
	if err != nil {
		t.Fatalf("LoadString error: %v", err)
	}

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(fn)

	obj, ok := e.Heap()[1]
	if !ok {
		t.Fatal("heap entry for the function was not created")
	}
	var raw []any
	if err := json.Unmarshal([]byte(marshalStr(t, obj)), &raw); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if raw[1] != "<anonymous>" {
		t.Errorf("name = %v, want <anonymous> when no globals table was given", raw[1])
	}
}

func TestEncodeInstanceWithMetatablePrototype(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	proto := L.NewTable()
	proto.RawSetString("speak", lua.LString("woof"))

	mt := L.NewTable()
	mt.RawSetString("__index", proto)

	obj := L.NewTable()
	obj.RawSetString("name", lua.LString("Rex"))
	obj.Metatable = mt

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(obj)

	heap := e.Heap()
	if len(heap) != 2 {
		t.Fatalf("len(Heap()) = %d, want 2 (instance + prototype)", len(heap))
	}
	if got := marshalStr(t, heap[1]); got != `["INSTANCE","",["name","Rex"],["__proto__",["REF",2]]]` {
		t.Errorf("heap entry = %s, want a trailing __proto__ pair", got)
	}
	if got := marshalStr(t, heap[2]); got != `["INSTANCE","",["speak","woof"]]` {
		t.Errorf("prototype heap entry = %s, want an INSTANCE for speak", got)
	}
}

func TestEncodeInstanceSkipsEmptyPrototype(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	mt := L.NewTable() // no __index, and empty itself

	obj := L.NewTable()
	obj.RawSetString("x", lua.LNumber(1))
	obj.Metatable = mt

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(obj)

	if got := marshalStr(t, e.Heap()[1]); got != `["INSTANCE","",["x",1]]` {
		t.Errorf("heap entry = %s, want no __proto__ pair for an empty prototype", got)
	}
}

func TestEncodeListIgnoresMetatable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	proto := L.NewTable()
	proto.RawSetString("speak", lua.LString("woof"))
	mt := L.NewTable()
	mt.RawSetString("__index", proto)

	list := L.NewTable()
	list.RawSetInt(1, lua.LString("a"))
	list.Metatable = mt

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(list)

	if got := marshalStr(t, e.Heap()[1]); got != `["LIST","a"]` {
		t.Errorf("heap entry = %s, want a plain LIST with no prototype pair", got)
	}
}

func TestEncodeTableWithToStringMetamethodProducesPprint(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	closure, err := L.LoadString(`return function() return "<Point x=1 y=2>" end`)
	if err != nil {
		t.Fatalf("LoadString error: %v", err)
	}
	L.Push(closure)
	if err := L.PCall(0, 1, nil); err != nil {
		t.Fatalf("PCall error: %v", err)
	}
	tostringFn, ok := L.Get(-1).(*lua.LFunction)
	if !ok {
		t.Fatal("expected a function result")
	}
	L.Pop(1)

	mt := L.NewTable()
	mt.RawSetString("__tostring", tostringFn)

	obj := L.NewTable()
	obj.RawSetString("x", lua.LNumber(1))
	obj.RawSetString("y", lua.LNumber(2))
	obj.Metatable = mt

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(obj)

	if got := marshalStr(t, e.Heap()[1]); got != `["INSTANCE_PPRINT","object","<Point x=1 y=2>"]` {
		t.Errorf("heap entry = %s, want an INSTANCE_PPRINT using the __tostring result", got)
	}
}

func TestEncodeTableWithoutToStringUsesPlainInstance(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	mt := L.NewTable() // metatable present, but no __tostring

	obj := L.NewTable()
	obj.RawSetString("x", lua.LNumber(1))
	obj.Metatable = mt

	e := New(identity.NewObjectRegistry(), "", nil, L)
	e.Encode(obj)

	if got := marshalStr(t, e.Heap()[1]); got != `["INSTANCE","",["x",1]]` {
		t.Errorf("heap entry = %s, want a plain INSTANCE with no __tostring", got)
	}
}

func nan() float64      { var z float64; return z / z }
func posInf() float64   { return 1 / zero() }
func negInf() float64   { return -1 / zero() }
func zero() float64     { var z float64; return z }
