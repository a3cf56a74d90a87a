package config

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// WriteSidecar writes the effective configuration for one trace run to
// path (conventionally the emit-to-file target with ".settings.json"
// appended), so a downstream visualizer can explain why a trace stopped
// where it did without re-deriving the tracer's defaults.
func WriteSidecar(path string, cfg Config) error {
	doc := "{}"
	var err error
	doc, err = sjson.Set(doc, "step_budget", cfg.StepBudget)
	if err != nil {
		return fmt.Errorf("config: building sidecar: %w", err)
	}
	doc, err = sjson.Set(doc, "output_mode", cfg.OutputMode)
	if err != nil {
		return fmt.Errorf("config: building sidecar: %w", err)
	}
	doc, err = sjson.Set(doc, "ignore_add", cfg.IgnoreAdd)
	if err != nil {
		return fmt.Errorf("config: building sidecar: %w", err)
	}
	doc, err = sjson.Set(doc, "ignore_remove", cfg.IgnoreRemove)
	if err != nil {
		return fmt.Errorf("config: building sidecar: %w", err)
	}
	return os.WriteFile(path, []byte(doc), 0o644)
}

// ReadSidecarStepBudget extracts just the step_budget field from a
// previously written sidecar file without parsing the whole document.
// Nothing in the CLI, -watch included, calls it.
func ReadSidecarStepBudget(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	res := gjson.GetBytes(data, "step_budget")
	if !res.Exists() {
		return 0, false
	}
	return int(res.Int()), true
}
