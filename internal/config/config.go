// Package config loads steptrace's tunables — the step budget and the
// globals ignore-list, kept documented and configurable rather than
// hard-coded — from a layered TOML-defaults-plus-environment-override
// scheme.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tracelab/steptrace/internal/tracer/engine"
)

// EnvPrefix is the prefix recognized for one-off environment overrides,
// mirroring a conventional PREFIX_-style env loader.
const EnvPrefix = "STEPTRACE_"

// Config holds the effective tracer settings after loading defaults,
// applying the TOML file (if any), environment overrides, and finally
// any --set flags the caller supplies.
type Config struct {
	// StepBudget overrides engine.DefaultMaxSteps.
	StepBudget int `toml:"step_budget"`
	// IgnoreAdd appends names to engine.DefaultIgnoreList.
	IgnoreAdd []string `toml:"ignore_add"`
	// IgnoreRemove removes names from the effective ignore list, letting
	// a caller trace a program that intentionally shadows a
	// runtime-intrinsic name.
	IgnoreRemove []string `toml:"ignore_remove"`
	// OutputMode is the default emission mode when the CLI is not told
	// otherwise: "json", "pretty", or "file".
	OutputMode string `toml:"output_mode"`
}

// Default returns the built-in configuration: engine defaults, no
// ignore-list adjustments, compact JSON output.
func Default() Config {
	return Config{
		StepBudget: engine.DefaultMaxSteps,
		OutputMode: "json",
	}
}

// Load reads tomlPath (if non-empty and present; a missing file is not
// an error), then layers
// STEPTRACE_-prefixed environment variables on top.
func Load(tomlPath string) (Config, error) {
	cfg := Default()

	if tomlPath != "" {
		data, err := os.ReadFile(tomlPath)
		switch {
		case os.IsNotExist(err):
			// no file: defaults stand
		case err != nil:
			return Config{}, fmt.Errorf("config: reading %s: %w", tomlPath, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", tomlPath, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers STEPTRACE_STEP_BUDGET, STEPTRACE_IGNORE_ADD, and
// STEPTRACE_IGNORE_REMOVE (comma-separated) over cfg.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPrefix + "STEP_BUDGET"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepBudget = n
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "IGNORE_ADD"); ok {
		cfg.IgnoreAdd = append(cfg.IgnoreAdd, splitCSV(v)...)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "IGNORE_REMOVE"); ok {
		cfg.IgnoreRemove = append(cfg.IgnoreRemove, splitCSV(v)...)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "OUTPUT_MODE"); ok {
		cfg.OutputMode = v
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplySet applies "key=value" overrides from repeated --set flags,
// e.g. --set step_budget=500. Unknown keys are reported as an error
// rather than silently ignored, since a typo'd override that silently
// does nothing is worse than a startup failure.
func ApplySet(cfg *Config, assignments []string) error {
	for _, a := range assignments {
		key, val, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("config: --set %q is not in key=value form", a)
		}
		switch key {
		case "step_budget":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("config: --set step_budget: %w", err)
			}
			cfg.StepBudget = n
		case "output_mode":
			cfg.OutputMode = val
		case "ignore_add":
			cfg.IgnoreAdd = append(cfg.IgnoreAdd, splitCSV(val)...)
		case "ignore_remove":
			cfg.IgnoreRemove = append(cfg.IgnoreRemove, splitCSV(val)...)
		default:
			return fmt.Errorf("config: unknown --set key %q", key)
		}
	}
	return nil
}

// EngineConfig derives the engine.Config this Config implies.
func (c Config) EngineConfig() engine.Config {
	ignore := map[string]bool{}
	for _, n := range engine.DefaultIgnoreList {
		ignore[n] = true
	}
	for _, n := range c.IgnoreAdd {
		ignore[n] = true
	}
	for _, n := range c.IgnoreRemove {
		delete(ignore, n)
	}
	list := make([]string, 0, len(ignore))
	for n := range ignore {
		list = append(list, n)
	}
	return engine.Config{
		IgnoreGlobals: list,
		MaxSteps:      c.StepBudget,
	}
}
