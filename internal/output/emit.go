package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tidwall/pretty"
	"golang.org/x/term"

	"github.com/tracelab/steptrace/internal/tracer/trace"
)

// Mode selects one of the three emission options.
type Mode string

// Recognized emission modes.
const (
	ModeJSON   Mode = "emit-json-to-stdout"
	ModePretty Mode = "emit-pretty-to-stdout"
	ModeFile   Mode = "emit-to-file"
)

// NewBlob builds the top-level {code, trace} object, stamped with a
// trace_id derived deterministically from code via uuid.NewSHA1: two
// runs over identical source produce the same trace_id, so the
// idempotence property (identical input yields byte-identical compact
// JSON) holds for the whole blob, not just the entries underneath it.
// A random trace_id would make every run's JSON differ regardless of
// what the traced program does, which is not what visualizers dedupe
// re-runs against — they key on the source they fed in, exactly what
// this hash captures.
func NewBlob(code string, entries []*trace.Entry) *trace.Blob {
	return &trace.Blob{
		Code:    code,
		Trace:   entries,
		TraceID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(code)).String(),
	}
}

// EmitJSON writes compact JSON to w, matching emit-json-to-stdout.
func EmitJSON(w io.Writer, blob *trace.Blob) error {
	enc := json.NewEncoder(w)
	return enc.Encode(blob)
}

// EmitPretty writes deterministic, sorted-key, indented JSON to w,
// matching emit-pretty-to-stdout. Sorted keys make the output diffable
// across runs for regression testing, which is the whole point of the
// mode. When w is a terminal, output is colorized using tidwall/pretty's
// ANSI styling; piped output stays plain so it stays diff-friendly.
func EmitPretty(w io.Writer, blob *trace.Blob) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("output: marshaling blob: %w", err)
	}
	formatted := pretty.PrettyOptions(raw, &pretty.Options{
		Width:    80,
		Prefix:   "",
		Indent:   "  ",
		SortKeys: true,
	})
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		formatted = pretty.Color(formatted, nil)
	}
	_, err = w.Write(formatted)
	return err
}

// EmitFile writes `var trace = <json>;` to path, matching emit-to-file.
func EmitFile(path string, blob *trace.Blob) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("output: marshaling blob: %w", err)
	}
	content := append([]byte("var trace = "), raw...)
	content = append(content, ';', '\n')
	return os.WriteFile(path, content, 0o644)
}
