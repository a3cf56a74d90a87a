// Package engine implements the Stepping Engine (C5): the debug-hook
// listener that classifies every VM break, walks the live user-frame
// stack, and builds one trace.Entry per observable step, using
// internal/tracer/identity for stable IDs and internal/tracer/encode for
// value serialization.
//
// Concretely this drives github.com/yuin/gopher-lua's own debug-hook
// mechanism (internal/tracer/runtime) rather than the "pause on
// breakpoint, resume on command" model a V8-inspector-style debugger
// uses. Two adaptations follow directly from that:
//
//   - There is no explicit StepIn/StepOut action to issue: gopher-lua
//     resumes automatically once the hook returns, so "issue StepOut and
//     return without recording" simply means the hook body returns
//     without appending a trace entry.
//   - There is no distinct "paused on exception" break. A Lua runtime
//     error unwinds synchronously past every stack frame in one PCall,
//     so the terminal "exception" entry is synthesized after PCallUser
//     returns an error, reusing the last position the hook did observe —
//     the same "attribute to the last user-level position" rule this
//     tracer already applies to library-frame exceptions.
package engine

import (
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/tracelab/steptrace/internal/tracer/encode"
	"github.com/tracelab/steptrace/internal/tracer/identity"
	"github.com/tracelab/steptrace/internal/tracer/runtime"
	"github.com/tracelab/steptrace/internal/tracer/trace"
	"github.com/tracelab/steptrace/internal/tracer/wrapper"
)

// DefaultMaxSteps is MAX_EXECUTED_LINES, the recommended default step budget.
const DefaultMaxSteps = 300

// DefaultIgnoreList names the globals a fresh Runtime exposes that are
// runtime-intrinsic rather than user-authored, adapted from a JS-runtime
// intrinsic-globals list to gopher-lua's own safe-library surface.
// Callers may extend or shrink this via Config.IgnoreGlobals, which
// internal/config does by layering TOML/env overrides on top of this
// default so the ignore list stays documented and configurable.
var DefaultIgnoreList = []string{
	"_G", "_VERSION",
	"assert", "error", "getmetatable", "ipairs", "next", "pairs", "pcall",
	"print", "rawequal", "rawget", "rawlen", "rawset", "select",
	"setmetatable", "tonumber", "tostring", "type", "xpcall",
	"string", "table", "math",
}

// Config configures an Engine.
type Config struct {
	// IgnoreGlobals lists names excluded from every entry's globals
	// section. Defaults to DefaultIgnoreList when nil.
	IgnoreGlobals []string
	// MaxSteps is the step budget (MAX_EXECUTED_LINES). Defaults to
	// DefaultMaxSteps when zero.
	MaxSteps int
}

// Engine drives one trace run to completion and returns its entry
// sequence. An Engine is single-use: construct a fresh one per run via
// New.
type Engine struct {
	rt      *runtime.Runtime
	frames  *identity.FrameRegistry
	objects *identity.ObjectRegistry
	ignore  map[string]bool
	maxStep int

	source     string // the traced program's own text, handed to each Encoder for function-body recovery
	entries    []*trace.Entry
	prevStack  []int // canonical frame ids, top-first, from the previous entry
	prevEntry  *trace.Entry
	activation map[int]uint64 // per stack level, bumped after an observed return

	budgetHit bool
}

// New returns an Engine bound to rt. rt must not have a hook installed
// yet; Run installs and clears it.
func New(rt *runtime.Runtime, cfg Config) *Engine {
	ignoreList := cfg.IgnoreGlobals
	if ignoreList == nil {
		ignoreList = DefaultIgnoreList
	}
	ignore := make(map[string]bool, len(ignoreList))
	for _, name := range ignoreList {
		ignore[name] = true
	}
	maxStep := cfg.MaxSteps
	if maxStep == 0 {
		maxStep = DefaultMaxSteps
	}
	return &Engine{
		rt:         rt,
		frames:     identity.NewFrameRegistry(),
		objects:    identity.NewObjectRegistry(),
		ignore:     ignore,
		maxStep:    maxStep,
		activation: map[int]uint64{},
	}
}

// Run compiles and executes userSource under the debug hook, returning
// the complete (unfinalized) entry sequence. Callers pass the result to
// internal/output.Finalize before emission.
func (e *Engine) Run(userSource string) ([]*trace.Entry, error) {
	fn, err := e.rt.LoadUserSource(userSource)
	if err != nil {
		return nil, &InvariantError{Kind: KindParseFailure, Message: err.Error()}
	}
	e.source = userSource

	e.rt.SetHook(e.onEvent)
	runErr := e.rt.PCallUser(fn)
	e.rt.ClearHook()

	if runErr != nil && !e.budgetHit {
		e.appendExceptionEntry(runErr.Error())
	}

	return e.entries, nil
}

// onEvent is the debug hook gopher-lua invokes on every call, return,
// and line-boundary event enabled by runtime.Runtime.SetHook's mask.
//
// This implementation assumes gopher-lua reports which of the three
// enabled masks fired the current event via dbg.What, using the same
// "call"/"return"/"line" vocabulary the reference Lua C API's ar->event
// names use — the natural choice for a hook signature that otherwise
// gives no way to tell a return break from a line break. If a future
// gopher-lua release exposes this differently, only this function's
// event-kind lookup needs to change.
func (e *Engine) onEvent(L *lua.LState, dbg *lua.Debug) {
	if e.budgetHit {
		return
	}

	// The VM-instruction ceiling is a secondary runaway-loop guard,
	// coarser but broader than maxStep: maxStep only counts entries
	// actually appended for user-code steps, so a program stuck spinning
	// inside library/builtin code (e.g. a pathological string.find
	// pattern) would never trip it. Every enabled hook event, including
	// ones the user-code gate below discards, counts toward this limit.
	if e.rt.IncrementInstructions(1) {
		e.entries = append(e.entries, terminalInstructionBudgetEntry(e.rt.InstructionLimit()))
		e.budgetHit = true
		L.RaiseError(stepBudgetSentinel)
		return
	}

	rawKind := dbg.What
	script := dbg.Source
	userLine := wrapper.ToUserLine(dbg.CurrentLine)
	const col = 0 // gopher-lua's debug info carries no column; see DESIGN.md.

	if !wrapper.IsUserChunk(script) {
		// Library/builtin frame: step out silently. Exception attribution
		// for errors raised inside library code is handled after PCallUser
		// returns, not here (see package doc).
		return
	}
	if userLine <= 0 {
		// Inside the wrapper prelude itself; nothing to record yet.
		return
	}

	frames, total := e.liveUserFrames()
	if total == 0 {
		return
	}

	curStack := make([]int, len(frames))
	for i, f := range frames {
		curStack[i] = f.frameID
	}

	logEvent := trace.EventStepLine
	if e.prevStack != nil && sliceEqual(tail(curStack), e.prevStack) {
		logEvent = trace.EventCall
	}
	if rawKind == "return" {
		logEvent = trace.EventReturn
	}

	entry := trace.NewEntry(logEvent)
	entry.Line = userLine
	entry.Col = col
	if len(frames) > 0 {
		entry.FuncName = frames[0].name
	}
	entry.Stdout = e.rt.Stdout.Snapshot()

	// Return cosmetics (the return-line cosmetics rule): a
	// return that lands on the same canonical frame as the previous
	// entry's top borrows that entry's line, so returns don't visually
	// land on a closing brace. The wrapped chunk's own trailing return
	// (frames empty) has no canonical frame to compare against, so it
	// keeps whatever line the runtime reported.
	if logEvent == trace.EventReturn && len(frames) > 0 && e.prevEntry != nil && len(e.prevEntry.StackToRender) > 0 {
		prevStack := e.prevEntry.StackToRender // bottom-of-stack first
		prevTop := prevStack[len(prevStack)-1]
		if prevTop.FrameID == frames[0].frameID {
			entry.Line = e.prevEntry.Line
		}
	}

	enc := encode.New(e.objects, e.source, e.rt.Globals(), e.rt.L)
	e.collectGlobals(entry, enc)
	e.collectFrames(entry, enc, frames, logEvent)
	entry.Heap = enc.Heap()

	e.entries = append(e.entries, entry)
	e.prevStack = curStack
	e.prevEntry = entry

	if logEvent == trace.EventReturn && len(frames) > 0 {
		e.activation[frames[0].level]++
	}

	if len(e.entries) >= e.maxStep {
		e.entries = append(e.entries, terminalStepBudgetEntry(e.maxStep))
		e.budgetHit = true
		L.RaiseError(stepBudgetSentinel)
	}
}

// terminalStepBudgetEntry builds the instruction_limit_reached entry
// appended once the step budget is spent.
func terminalStepBudgetEntry(limit int) *trace.Entry {
	e := trace.NewEntry(trace.EventInstructionLimitHit)
	e.ExceptionMsg = "(stopped after " + strconv.Itoa(limit) + " steps to prevent possible infinite loop)"
	return e
}

// terminalInstructionBudgetEntry builds the instruction_limit_reached
// entry appended when the runtime.Runtime instruction ceiling trips
// instead of the line-count step budget — the same terminal event kind,
// since both report "execution was cut off to prevent an infinite loop",
// just triggered by a different counter.
func terminalInstructionBudgetEntry(limit int64) *trace.Entry {
	e := trace.NewEntry(trace.EventInstructionLimitHit)
	e.ExceptionMsg = "(stopped after " + strconv.FormatInt(limit, 10) + " VM instructions to prevent possible infinite loop)"
	return e
}

// appendExceptionEntry synthesizes the terminal "exception" entry for a
// runtime error that unwound past PCallUser, reusing the last observed
// position and frame set (the library-exception attribution rule, generalized to every runtime error since gopher-lua
// gives no mid-unwind hook to catch it earlier).
func (e *Engine) appendExceptionEntry(message string) {
	entry := trace.NewEntry(trace.EventException)
	entry.ExceptionMsg = message
	entry.Stdout = e.rt.Stdout.Snapshot()
	if e.prevEntry != nil {
		entry.Line = e.prevEntry.Line
		entry.Col = e.prevEntry.Col
		entry.FuncName = e.prevEntry.FuncName
		entry.Globals = e.prevEntry.Globals
		entry.OrderedGlobals = e.prevEntry.OrderedGlobals
		entry.StackToRender = e.prevEntry.StackToRender
		entry.Heap = e.prevEntry.Heap
	}
	e.entries = append(e.entries, entry)
}

// collectGlobals implements the globals-collection rule: every global not on the
// ignore list is bound into the entry, in first-insertion order.
//
// gopher-lua's LTable keeps a "keys" slice recording the order string
// keys were first assigned, and ForEach walks the hash part in that
// order (only the dense array part, unused here since globals are never
// integer-keyed, would reorder). Relying on that walk order — rather
// than re-sorting — is what makes ordered_globals reflect the user
// program's actual assignment order: three globals assigned in sequence
// end up listed in that same sequence.
func (e *Engine) collectGlobals(entry *trace.Entry, enc *encode.Encoder) {
	globals := e.rt.Globals()
	globals.ForEach(func(k, v lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok {
			return
		}
		name := string(ks)
		if e.ignore[name] {
			return
		}
		entry.BindGlobal(name, enc.Encode(v))
	})
}

// liveFrame is one live user-code call activation as observed at a
// single debug break.
type liveFrame struct {
	level   int
	dbg     *lua.Debug
	frameID int
	name    string
	isCtor  bool
}

// liveUserFrames walks the call stack top-first via runtime.GetStack,
// keeping only frames backed by the wrapped user chunk, and drops the
// bottommost of those (the wrapper's own top-level chunk activation) from
// the returned slice, excluding it from stack_to_render exactly as a
// synthetic outer wrapper frame should be. total counts every live user
// frame including the dropped one, so callers can tell "nothing running"
// (total == 0, impossible once the user-code gate has already passed)
// apart from "only the top-level chunk itself is running" (total == 1,
// frames == nil): the latter is a normal global-scope step, not an empty
// stack.
func (e *Engine) liveUserFrames() (frames []*liveFrame, total int) {
	var all []*liveFrame
	for level := 0; ; level++ {
		dbg, ok := e.rt.GetStack(level)
		if !ok {
			break
		}
		_ = e.rt.GetInfo("Sln", dbg)
		if !wrapper.IsUserChunk(dbg.Source) {
			continue
		}
		key := identity.FrameKey{Level: level, Activation: e.activation[level]}
		id, _ := e.frames.IDFor(key)
		name := dbg.Name
		isCtor := dbg.Name == "new"
		if name == "" {
			name = "<anonymous>"
		}
		if isCtor {
			name += " (constructor)"
		}
		all = append(all, &liveFrame{
			level:   level,
			dbg:     dbg,
			frameID: id,
			name:    name,
			isCtor:  isCtor,
		})
	}
	if len(all) == 0 {
		return nil, 0
	}
	return all[:len(all)-1], len(all)
}

// tail returns s[1:], or nil if s is empty, so callers can compare
// against a possibly-empty curStack without slicing out of range.
func tail(s []int) []int {
	if len(s) == 0 {
		return nil
	}
	return s[1:]
}

// collectFrames builds one StackEntry per live user frame, prepended so
// the list ends up bottom-of-stack first.
func (e *Engine) collectFrames(entry *trace.Entry, enc *encode.Encoder, frames []*liveFrame, logEvent trace.Event) {
	for i, f := range frames {
		se := trace.NewStackEntry(f.name, f.frameID, i == 0)

		var receiver lua.LValue
		haveReceiver := false
		for n := 1; ; n++ {
			name, val, ok := e.rt.LocalName(f.dbg, n)
			if !ok {
				break
			}
			if strings.HasPrefix(name, "(") {
				continue // gopher-lua's internal temporaries are parenthesized, e.g. "(for state)"
			}
			se.Bind(name, enc.Encode(val))

			// Lua has no implicit receiver slot: a method call
			// `obj:m(...)` simply desugars to `m(obj, ...)` with obj
			// bound to whatever name the method declares for its first
			// parameter, which by convention (and by every OOP example
			// in this pack) is "self". Treat that convention as the
			// receiver the same way dbg.Name == "new" already stands in
			// for a constructor call.
			if name == "self" {
				if t, ok := val.(*lua.LTable); ok && t.Metatable != lua.LNil {
					receiver, haveReceiver = val, true
					se.Bind("this", enc.Encode(val))
				}
			}
		}

		// Closure/upvalue scopes would normally be inlined here under a
		// "parent:" prefix, but gopher-lua's public debug API exposes upvalues only via
		// GetUpvalue(fn, n), which needs the *lua.LFunction being executed
		// at this frame — a handle the Debug record returned by GetStack
		// does not expose. Without it there is no way to enumerate a live
		// frame's upvalues from outside the package, so this
		// implementation omits parent-scope inlining rather than guess at
		// an unverifiable API; see DESIGN.md.

		if i == 0 && logEvent == trace.EventReturn {
			if f.isCtor && haveReceiver {
				se.Bind("__return__", enc.Encode(receiver))
			} else if rv, ok := e.rt.ReturnValue(); ok {
				se.Bind("__return__", enc.Encode(rv))
			}
		}

		entry.PrependFrame(se)
	}
}

// sliceEqual reports whether a and b contain the same ints in the same
// order.
func sliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
