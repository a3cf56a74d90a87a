// Package wrapper implements the Source Wrapper (C1): it prepares user
// source for tracing without altering its observable behavior, and
// tracks the bookkeeping the Stepping Engine needs to translate wrapped
// line numbers back to the user's original line numbers.
package wrapper

import (
	"strings"
	"unicode"
)

// ChunkName is the canonical name gopher-lua reports for the wrapped
// user script in stack traces and Debug.Source. Keeping it fixed lets
// the Stepping Engine distinguish user frames from library/builtin
// frames by name alone (the user-code gate below).
const ChunkName = "userscript"

// PreludeLines is the number of non-user lines Wrap prepends before the
// user's own source. The Stepping Engine subtracts this from every
// reported line number so entries carry the line numbers the user
// actually wrote, not the wrapped chunk's internal numbering.
const PreludeLines = 2

// prelude is emitted verbatim before user source. It declares nothing
// observable: no globals, no output, no stack frame of its own once
// gopher-lua's compiler folds a bare comment away. Its only purpose is
// to hold PreludeLines stable as a documented constant rather than a
// magic number scattered through the engine.
const prelude = "-- steptrace wrapped chunk\n-- do not edit above this line\n"

// Wrap returns the source text handed to the Lua compiler, and the
// number of prelude lines prepended (always PreludeLines, returned
// alongside the text so callers never need to import the constant
// separately when threading it through).
func Wrap(userSource string) (wrapped string, preludeLines int) {
	return prelude + strings.TrimRightFunc(userSource, unicode.IsSpace), PreludeLines
}

// ToUserLine converts a 1-based line number reported by the Lua runtime
// against the wrapped chunk into the corresponding 1-based line number
// in the user's original source. Lines at or above the prelude map
// directly; a wrapped-line number that resolves to zero or negative
// indicates a hook firing inside the prelude itself, which callers
// should treat as not-yet-user-code.
func ToUserLine(wrappedLine int) int {
	return wrappedLine - PreludeLines
}

// IsUserChunk reports whether a Debug.Source string (as gopher-lua
// formats it, e.g. "@userscript" for a named chunk) refers to the
// wrapped user script rather than a builtin or another loaded chunk.
func IsUserChunk(source string) bool {
	return strings.TrimPrefix(source, "@") == ChunkName
}
