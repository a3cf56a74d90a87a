// Package runtime wraps a gopher-lua state configured for tracing: a
// deliberately small standard-library surface, minus any plugin
// capability system (which has no meaning for a one-shot trace run),
// the stdout redirection installed on construction, and the single
// debug hook the Stepping Engine (C5) drives execution through.
//
// An LState is not goroutine-safe: callers must confine all use of a
// Runtime to one goroutine, which is exactly the single-threaded model
// this tracer follows.
package runtime

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/tracelab/steptrace/internal/tracer/stdout"
	"github.com/tracelab/steptrace/internal/tracer/wrapper"
)

// DefaultInstructionLimit bounds the count IncrementInstructions keeps
// before the engine reports instruction_limit_reached. The engine adds 1
// per debug-hook event (call, return or line, in user or library code),
// so the count is of hook events, not of individual VM instructions.
// It is deliberately generous: large enough
// that ordinary teaching-sized programs never hit it, small enough that
// a runaway loop terminates the trace instead of the process.
const DefaultInstructionLimit = 1_000_000

// Runtime wraps a *lua.LState scoped to one trace run.
type Runtime struct {
	L *lua.LState

	mu sync.Mutex

	instructionLimit int64
	instructionCount int64

	Stdout *stdout.Capture

	closed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithInstructionLimit overrides DefaultInstructionLimit.
func WithInstructionLimit(limit int64) Option {
	return func(r *Runtime) {
		r.instructionLimit = limit
	}
}

// New returns a Runtime with a fresh Lua state: base library plus the
// safe subset of the standard library (string, table, math), C2 stdout
// capture installed, and the loader/filesystem/process surfaces removed
// exactly as an embedding sandbox would.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		instructionLimit: DefaultInstructionLimit,
		Stdout:           stdout.New(),
	}
	for _, opt := range opts {
		opt(r)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	r.L = L

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	r.hardenGlobals()
	r.Stdout.Install(L)

	return r
}

// hardenGlobals removes the base-library entry points that would let
// user source escape the sandbox or read the wrapped prelude off disk,
// mirroring a conventional Lua sandbox's denylist of loader/filesystem escapes.
func (r *Runtime) hardenGlobals() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		r.L.SetGlobal(name, lua.LNil)
	}
}

// LoadUserSource wraps and compiles source, without running it. The
// returned function is what the engine resumes under the debug hook.
func (r *Runtime) LoadUserSource(userSource string) (*lua.LFunction, error) {
	if r.closed {
		return nil, ErrClosed
	}
	wrapped, _ := wrapper.Wrap(userSource)
	fn, err := r.L.LoadString(wrapped)
	if err != nil {
		return nil, err
	}
	fn.Proto.SourceName = wrapper.ChunkName
	return fn, nil
}

// SetHook installs the single debug hook that drives single-stepping,
// firing on call, return, and line-boundary events. count is the VM
// instruction-count granularity gopher-lua polls hooks at when the
// MaskCount bit isn't set; passing 0 leaves count-based interruption to
// InstructionLimit's own bookkeeping in the hook body instead.
func (r *Runtime) SetHook(fn lua.LHookFunction) {
	r.L.SetHook(fn, lua.MaskCall|lua.MaskRet|lua.MaskLine, 0)
}

// ClearHook removes the debug hook, used once the traced call returns so
// that any Lua the finalizer might still run (there is none today, but
// future output-formatting hooks should not be traced) executes plainly.
func (r *Runtime) ClearHook() {
	r.L.SetHook(nil, 0, 0)
}

// GetStack returns the debug record for the given call-stack level (0 is
// the currently executing function), matching gopher-lua's own
// zero-based level numbering.
func (r *Runtime) GetStack(level int) (*lua.Debug, bool) {
	dbg, ok := r.L.GetStack(level)
	return dbg, ok
}

// GetInfo populates the remaining fields of dbg (name, source, line
// info) that GetStack alone does not fill in, matching the reference Lua
// debug library's split between lua_getstack and lua_getinfo.
func (r *Runtime) GetInfo(what string, dbg *lua.Debug) error {
	_, err := r.L.GetInfo(what, dbg, lua.LNil)
	return err
}

// LocalName returns the name and current value of the n'th local
// variable (1-based) active at dbg's frame, or ok=false once n exceeds
// the frame's local count.
func (r *Runtime) LocalName(dbg *lua.Debug, n int) (name string, val lua.LValue, ok bool) {
	name, val = r.L.GetLocal(dbg, n)
	return name, val, name != ""
}

// Globals returns the global table, walked directly by the engine when
// collecting the globals section of a trace entry.
func (r *Runtime) Globals() *lua.LTable {
	return r.L.Get(lua.GlobalsIndex).(*lua.LTable)
}

// IncrementInstructions adds n to the running instruction count and
// reports whether the configured limit has now been exceeded. The
// Stepping Engine calls this from inside the debug hook, once per event,
// since gopher-lua's own MaskCount granularity is coarser than the
// per-line resolution the trace needs.
func (r *Runtime) IncrementInstructions(n int64) (exceeded bool) {
	r.instructionCount += n
	if r.instructionLimit <= 0 {
		return false
	}
	return r.instructionCount > r.instructionLimit
}

// InstructionLimit returns the configured VM-instruction ceiling, for
// callers reporting why IncrementInstructions tripped.
func (r *Runtime) InstructionLimit() int64 {
	return r.instructionLimit
}

// ReturnValue makes a best-effort attempt to read the value a function
// is about to return, for use only from inside a return-classified debug
// hook callback. gopher-lua's public debug API has no equivalent of a
// dedicated "return value" accessor (real Lua's own debug library has
// none either — this is normally reconstructed by disassembling the
// calling bytecode around the return site). This implementation peeks
// the top of the Lua value stack, which holds the about-to-be-returned
// value in the common single-return-value case; it is not reliable for
// multiple-return-value functions. See DESIGN.md.
func (r *Runtime) ReturnValue() (lua.LValue, bool) {
	top := r.L.GetTop()
	if top < 1 {
		return nil, false
	}
	v := r.L.Get(top)
	if v == lua.LNil {
		return nil, false
	}
	return v, true
}

// PCallUser invokes fn (as returned by LoadUserSource) under panic
// recovery, translating a Lua runtime panic into a Go error so the
// engine can route it through the same exception path as an ordinary
// Lua error() call.
func (r *Runtime) PCallUser(fn *lua.LFunction) (err error) {
	if r.closed {
		return ErrClosed
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runtime: lua panic: %v", rec)
		}
	}()
	r.L.Push(fn)
	return r.L.PCall(0, lua.MultRet, nil)
}

// Close releases the underlying Lua state. Safe to call once; further
// calls are no-ops.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.L.Close()
	r.closed = true
	return nil
}
