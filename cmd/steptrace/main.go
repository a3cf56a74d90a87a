// Package main is the entry point for steptrace, the single-step
// execution tracer.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tracelab/steptrace/internal/app"
	"github.com/tracelab/steptrace/internal/output"
	"github.com/tracelab/steptrace/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, watchMode := parseFlags()

	if !watchMode {
		return app.Run(opts)
	}

	return runWatch(opts)
}

// runWatch re-traces opts.FilePath every time it changes, printing each
// trace as it completes. This mirrors how OPT-style tools commonly re-run on save, though nothing in
// the wire format changes for it — each save simply produces a
// fresh, independent Blob.
func runWatch(opts app.Options) int {
	log := app.GetLogger().WithComponent("watch")

	if opts.FilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: -watch requires -file-path")
		return 1
	}

	fw, err := watch.New(opts.FilePath, watch.DefaultDebounce)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to watch %s: %v\n", opts.FilePath, err)
		return 1
	}
	defer fw.Close()

	trace := func() {
		log.Info("re-tracing %s", opts.FilePath)
		if code := app.Run(opts); code != 0 {
			log.Warn("trace run exited %d", code)
		}
	}

	trace()

	err = fw.Watch(trace, func(err error) {
		log.Warn("watch error: %v", err)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: watch failed: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() (app.Options, bool) {
	var opts app.Options
	var showVersion bool
	var showHelp bool
	var watchMode bool
	var mode string
	var setFlags stringList

	flag.StringVar(&opts.FilePath, "file-path", "", "Path to the .lua source file to trace")
	flag.StringVar(&opts.InlineCode, "inline-code", "", "Lua source to trace, given directly instead of a file")
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to a TOML settings file")
	flag.StringVar(&mode, "mode", "", "Output mode: emit-json-to-stdout, emit-pretty-to-stdout, emit-to-file")
	flag.StringVar(&opts.OutPath, "out", "", "Output file path (for -mode emit-to-file)")
	flag.StringVar(&opts.SidecarPath, "sidecar", "", "Also write the effective config as a JSON sidecar to this path")
	flag.BoolVar(&watchMode, "watch", false, "Re-trace file-path on every save")
	flag.Var(&setFlags, "set", "Override a config key, key=value (repeatable)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "steptrace - single-step execution tracer\n\n")
		fmt.Fprintf(os.Stderr, "Usage: steptrace [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  steptrace -file-path prog.lua\n")
		fmt.Fprintf(os.Stderr, "  steptrace -inline-code 'x = 1' -mode emit-pretty-to-stdout\n")
		fmt.Fprintf(os.Stderr, "  steptrace -file-path prog.lua -watch\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("steptrace %s (%s)\n", version, commit)
		os.Exit(0)
	}

	opts.SetOverrides = []string(setFlags)

	switch output.Mode(mode) {
	case "", output.ModeJSON, output.ModePretty, output.ModeFile:
		opts.Mode = output.Mode(mode)
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid -mode %q\n", mode)
		os.Exit(1)
	}

	if opts.FilePath == "" && opts.InlineCode == "" {
		fmt.Fprintln(os.Stderr, "Error: one of -file-path or -inline-code is required")
		os.Exit(1)
	}
	if opts.FilePath != "" && opts.InlineCode != "" {
		fmt.Fprintln(os.Stderr, "Error: -file-path and -inline-code are mutually exclusive")
		os.Exit(1)
	}

	return opts, watchMode
}

// stringList accumulates repeated -set flag occurrences.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
