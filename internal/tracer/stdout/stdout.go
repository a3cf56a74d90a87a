// Package stdout implements Stdout Capture (C2): it replaces the traced
// script's global print with a version that appends to an internal
// buffer instead of writing to the process's real stdout, and exposes
// that buffer's accumulated content as a running total attached to
// every trace entry, never reset mid-run.
package stdout

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Capture owns the buffer that a sandboxed print() call appends to.
type Capture struct {
	buf strings.Builder
}

// New returns an empty Capture.
func New() *Capture {
	return &Capture{}
}

// Install replaces L's global print with one that formats its arguments
// the same way Lua's own print does (tostring, tab-separated, trailing
// newline) and appends the result to c instead of any real stream.
func (c *Capture) Install(L *lua.LState) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		c.buf.WriteString(strings.Join(parts, "\t"))
		c.buf.WriteByte('\n')
		return 0
	}))
}

// Snapshot returns everything written so far. This is
// a running total: it is never cleared between trace entries, only
// appended to, so entry N's stdout field is always a prefix of entry
// N+1's.
func (c *Capture) Snapshot() string {
	return c.buf.String()
}
