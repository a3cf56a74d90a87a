// Package identity assigns stable small-integer identities to two kinds
// of runtime handle that the underlying Lua VM otherwise recycles: call
// frames (C3) and heap objects (tables, functions,
// userdata) referenced from encoded values.
//
// Both registries follow the same shape: a monotonically increasing
// counter and a map from a raw runtime handle to the id it was first
// assigned. This mirrors the sequential-handle pattern used by Delve's
// DAP server for exactly the same reason — client-visible ids must
// survive relocation/recycling of the underlying process-level handles.
package identity

// startID is the first id handed out by a Registry. Starting above zero
// keeps zero available as a caller-side "no id" sentinel.
const startID = 1

// Registry maps arbitrary raw handles to stable sequential integer ids.
// A given raw handle always maps to the same id for the lifetime of the
// Registry; distinct raw handles never collide.
type Registry struct {
	nextID int
	idOf   map[any]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		nextID: startID,
		idOf:   make(map[any]int),
	}
}

// IDFor returns the stable id for raw, allocating a new one on first
// sight. The second return value reports whether this call allocated a
// fresh id (false means raw was already known).
func (r *Registry) IDFor(raw any) (id int, isNew bool) {
	if id, ok := r.idOf[raw]; ok {
		return id, false
	}
	id = r.nextID
	r.nextID++
	r.idOf[raw] = id
	return id, true
}

// Lookup reports the id already assigned to raw, if any, without
// allocating one.
func (r *Registry) Lookup(raw any) (id int, ok bool) {
	id, ok = r.idOf[raw]
	return id, ok
}

// Reset clears the registry back to its initial empty state. Object
// identity is process-lifetime (never reset mid-run); Reset exists for
// the -watch supplement, which starts a fresh trace per file change and
// must not carry stale ids across runs.
func (r *Registry) Reset() {
	r.nextID = startID
	r.idOf = make(map[any]int)
}

// FrameKey identifies a call activation for the Frame registry. A
// frame's id must stay stable across steps within one activation of a
// function, but re-entering the same call site (recursion, or the same
// function called again) must produce a distinct id.
// Lua debug frames are addressed by stack level, which gopher-lua reuses
// across activations, so raw level alone is not a safe key: FrameKey
// pairs the level with an activation sequence number that the engine
// bumps after it observes a return from that level.
type FrameKey struct {
	Level      int
	Activation uint64
}

// FrameRegistry assigns stable frame ids to FrameKeys. It is a thin,
// type-safe wrapper over Registry since Go maps require FrameKey to be
// comparable, which it is (two plain ints).
type FrameRegistry struct {
	reg *Registry
}

// NewFrameRegistry returns an empty FrameRegistry.
func NewFrameRegistry() *FrameRegistry {
	return &FrameRegistry{reg: NewRegistry()}
}

// IDFor returns the stable frame id for key, allocating one on first
// sight.
func (f *FrameRegistry) IDFor(key FrameKey) (id int, isNew bool) {
	return f.reg.IDFor(key)
}

// Reset clears all known frame activations. The engine does not call
// it: each Engine builds its own FrameRegistry in New.
func (f *FrameRegistry) Reset() {
	f.reg.Reset()
}

// ObjectRegistry assigns stable heap-object ids to Lua reference values
// (tables, functions, userdata) keyed by their runtime pointer identity.
// Unlike frame ids, object ids are stable for the entire trace run: two
// steps that both hold a reference to the same table see the same id,
// which is what lets the visualizer draw one heap node with converging
// arrows instead of a fresh node per step (the append-in-place identity rule).
type ObjectRegistry struct {
	reg *Registry
}

// NewObjectRegistry returns an empty ObjectRegistry.
func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{reg: NewRegistry()}
}

// IDFor returns the stable object id for a reference-typed Lua value,
// identified by its pointer. Callers pass the *lua.LTable, *lua.LFunction,
// or *lua.LUserData itself; Go's map equality on the resulting any is
// pointer equality for these types, which is exactly the identity
// gopher-lua itself uses.
func (o *ObjectRegistry) IDFor(ref any) (id int, isNew bool) {
	return o.reg.IDFor(ref)
}

// Lookup reports the id already assigned to ref, if any.
func (o *ObjectRegistry) Lookup(ref any) (id int, ok bool) {
	return o.reg.Lookup(ref)
}

// Reset clears all known object identities. Used only between
// independent trace runs (e.g. -watch re-runs), never mid-run.
func (o *ObjectRegistry) Reset() {
	o.reg.Reset()
}
