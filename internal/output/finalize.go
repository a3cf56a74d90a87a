// Package output implements the Finalizer and the external-interfaces
// emission modes from the output contract: compact JSON, deterministic pretty
// JSON, and the `var trace = <json>;` file form, plus the
// parse-failure recovery path that needs a second, independent
// parser to recover an accurate line/column.
package output

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/tracelab/steptrace/internal/tracer/trace"
)

// Finalize implements the finalizer's trailing-entry rule: it drops a
// trailing "return" entry whose stack_to_render is empty — the synthetic
// top-level return every run ends with once execution falls off the end
// of the wrapped chunk, which carries no user-visible frame and is
// uninteresting to a viewer stepping through the trace.
//
// The check is exactly "stack length is zero", not any broader
// heuristic about the entry being a return at all.
func Finalize(entries []*trace.Entry) []*trace.Entry {
	if len(entries) == 0 {
		return entries
	}
	last := entries[len(entries)-1]
	if last.Event == trace.EventReturn && len(last.StackToRender) == 0 {
		return entries[:len(entries)-1]
	}
	return entries
}

// ParseFailureEntry builds the single trace entry emitted when the user
// source fails to compile: an "uncaught_exception" entry carrying the
// best available line/column.
//
// The engine's own compiler error rarely carries a column, so this
// re-parses source independently, purely to recover position info —
// satisfied here by calling gopher-lua's own parser a second time in
// isolation rather than importing an unrelated parsing library, since
// gopher-lua's parser is the authoritative grammar for the source being
// traced.
func ParseFailureEntry(source string, compileErr error) *trace.Entry {
	entry := trace.NewEntry(trace.EventUncaughtException)
	line, col, msg, ok := reparse(source)
	if ok {
		entry.Line = line
		entry.Col = col
		entry.ExceptionMsg = msg
	} else {
		entry.ExceptionMsg = compileErr.Error() + " (location unavailable: independent parse succeeded unexpectedly)"
	}
	return entry
}

// reparse compiles source a second time with gopher-lua's parser
// directly, returning the failure position it reports. ok is false if
// the independent parse unexpectedly succeeds, as a fallback.
func reparse(source string) (line, col int, msg string, ok bool) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	_, err := L.LoadString(source)
	if err == nil {
		return 0, 0, "", false
	}
	line, col, msg, ok = extractPosition(err.Error())
	if ok && line == 0 {
		// An error at end of input carries no line number; end of input
		// is the source's last line.
		line = strings.Count(strings.TrimRight(source, "\n"), "\n") + 1
	}
	return line, col, msg, ok
}

// extractPosition pulls the line number out of gopher-lua's syntax-error
// text, which reads "<chunk> line:<N>(column:<M>) near '<token>': ..."
// for an error inside the source and "<chunk> at EOF: ..." for one at
// end of input. The EOF form has no digits after its first ':', so line
// comes back 0 for it. The column is not extracted: col is always 0.
func extractPosition(msg string) (line, col int, out string, ok bool) {
	// Find the digits right after the first ':', e.g.
	// "<string> line:3(column:5) near ..." — the ':' of "line:".
	depth := 0
	numStart := -1
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c == ':' {
			depth++
			if depth == 1 {
				numStart = i + 1
			}
			continue
		}
		if numStart >= 0 && (c < '0' || c > '9') {
			n := parseInt(msg[numStart:i])
			return n, 0, msg, true
		}
	}
	return 0, 0, msg, false
}

func parseInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
