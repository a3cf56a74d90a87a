package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/tracelab/steptrace/internal/config"
	"github.com/tracelab/steptrace/internal/output"
	"github.com/tracelab/steptrace/internal/tracer/engine"
	"github.com/tracelab/steptrace/internal/tracer/runtime"
	"github.com/tracelab/steptrace/internal/tracer/trace"
)

// Options collects everything one invocation of the tracer needs,
// already resolved from flags and config — cmd/steptrace/main.go's job
// is just to build one of these and hand it to Run.
type Options struct {
	// FilePath is the .lua source file to trace. Mutually exclusive with
	// InlineCode.
	FilePath string
	// InlineCode is source passed directly on the command line via
	// -inline-code, skipping the filesystem entirely.
	InlineCode string

	// ConfigPath is an optional TOML settings file.
	ConfigPath string
	// SetOverrides holds repeated --set key=value flag values.
	SetOverrides []string

	// Mode selects the output.Mode. Empty defers to the resolved
	// Config.OutputMode.
	Mode output.Mode
	// OutPath is the destination file for output.ModeFile.
	OutPath string
	// SidecarPath, if non-empty, also writes the effective config as a
	// JSON sidecar to this path.
	SidecarPath string

	// Stdout is where emit-json-to-stdout/emit-pretty-to-stdout write.
	// Defaults to os.Stdout when nil.
	Stdout io.Writer
}

// Run executes one full trace: load source, load config, run the
// engine, finalize, and emit. It returns the process exit code — 0 for
// a completed trace (even one that ends in a caught or uncaught user
// exception, or hits the step budget), non-zero only for a
// tracer-internal failure such as a missing source file or an
// unwritable output path.
func Run(opts Options) int {
	log := GetLogger().WithComponent("app")

	source, err := loadSource(opts)
	if err != nil {
		log.Error("loading source: %v", err)
		return 1
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Error("loading config: %v", err)
		return 1
	}
	if err := config.ApplySet(&cfg, opts.SetOverrides); err != nil {
		log.Error("applying --set overrides: %v", err)
		return 1
	}

	entries, err := traceSource(source, cfg)
	if err != nil {
		log.Error("tracing: %v", err)
		return 1
	}

	blob := output.NewBlob(source, entries)

	mode := opts.Mode
	if mode == "" {
		switch cfg.OutputMode {
		case "pretty":
			mode = output.ModePretty
		case "file":
			mode = output.ModeFile
		default:
			mode = output.Mode(cfg.OutputMode)
		}
		switch mode {
		case output.ModeJSON, output.ModePretty, output.ModeFile:
		default:
			mode = output.ModeJSON
		}
	}

	if err := emit(mode, opts, blob); err != nil {
		log.Error("emitting output: %v", err)
		return 1
	}

	if opts.SidecarPath != "" {
		if err := config.WriteSidecar(opts.SidecarPath, cfg); err != nil {
			log.Error("writing sidecar: %v", err)
			return 1
		}
	}

	log.WithTraceID(blob.TraceID).Debug("trace complete: %d entries", len(blob.Trace))
	return 0
}

// loadSource resolves the exactly-one-of FilePath/InlineCode contract,
// trimming trailing whitespace off either source the same way -file-path
// and -inline-code both promise to.
func loadSource(opts Options) (string, error) {
	if opts.InlineCode != "" {
		return strings.TrimRightFunc(opts.InlineCode, unicode.IsSpace), nil
	}
	if opts.FilePath == "" {
		return "", fmt.Errorf("app: neither file-path nor inline-code was given")
	}
	data, err := os.ReadFile(opts.FilePath)
	if err != nil {
		return "", fmt.Errorf("app: reading %s: %w", opts.FilePath, err)
	}
	return strings.TrimRightFunc(string(data), unicode.IsSpace), nil
}

// traceSource runs one Engine over source under a fresh Runtime built
// from cfg, and returns the finalized entry sequence. A compile failure
// is not a tracer-internal error: it becomes the single
// uncaught_exception entry, and Run still exits 0.
func traceSource(source string, cfg config.Config) ([]*trace.Entry, error) {
	rt := runtime.New()
	defer rt.Close()

	eng := engine.New(rt, cfg.EngineConfig())
	entries, err := eng.Run(source)
	if err != nil {
		var ierr *engine.InvariantError
		if errors.As(err, &ierr) && ierr.Kind == engine.KindParseFailure {
			return []*trace.Entry{output.ParseFailureEntry(source, ierr)}, nil
		}
		return nil, err
	}

	return output.Finalize(entries), nil
}

// emit dispatches to the output package's writer matching mode.
func emit(mode output.Mode, opts Options, blob *trace.Blob) error {
	switch mode {
	case output.ModeFile:
		if opts.OutPath == "" {
			return fmt.Errorf("app: emit-to-file requires an output path")
		}
		return output.EmitFile(opts.OutPath, blob)
	case output.ModePretty:
		w := opts.Stdout
		if w == nil {
			w = os.Stdout
		}
		return output.EmitPretty(w, blob)
	default:
		w := opts.Stdout
		if w == nil {
			w = os.Stdout
		}
		return output.EmitJSON(w, blob)
	}
}
