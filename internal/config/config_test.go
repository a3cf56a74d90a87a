package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tracelab/steptrace/internal/tracer/engine"
)

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := Default()
	if cfg.StepBudget != want.StepBudget || cfg.OutputMode != want.OutputMode {
		t.Errorf("Load(missing) = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadEmptyPathIsNotAnError(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.StepBudget != engine.DefaultMaxSteps {
		t.Errorf("StepBudget = %d, want default %d", cfg.StepBudget, engine.DefaultMaxSteps)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "steptrace.toml")
	content := "step_budget = 42\noutput_mode = \"pretty\"\nignore_add = [\"foo\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writeFile error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.StepBudget != 42 {
		t.Errorf("StepBudget = %d, want 42", cfg.StepBudget)
	}
	if cfg.OutputMode != "pretty" {
		t.Errorf("OutputMode = %q, want pretty", cfg.OutputMode)
	}
	if len(cfg.IgnoreAdd) != 1 || cfg.IgnoreAdd[0] != "foo" {
		t.Errorf("IgnoreAdd = %v, want [foo]", cfg.IgnoreAdd)
	}
}

func TestLoadEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "steptrace.toml")
	if err := os.WriteFile(path, []byte("step_budget = 42\n"), 0o644); err != nil {
		t.Fatalf("writeFile error: %v", err)
	}
	t.Setenv(EnvPrefix+"STEP_BUDGET", "99")
	t.Setenv(EnvPrefix+"IGNORE_ADD", "a, b ,c")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.StepBudget != 99 {
		t.Errorf("StepBudget = %d, want env override 99", cfg.StepBudget)
	}
	want := []string{"a", "b", "c"}
	if len(cfg.IgnoreAdd) != len(want) {
		t.Fatalf("IgnoreAdd = %v, want %v", cfg.IgnoreAdd, want)
	}
	for i, name := range want {
		if cfg.IgnoreAdd[i] != name {
			t.Errorf("IgnoreAdd[%d] = %q, want %q", i, cfg.IgnoreAdd[i], name)
		}
	}
}

func TestApplySetKnownKeys(t *testing.T) {
	cfg := Default()
	err := ApplySet(&cfg, []string{"step_budget=7", "output_mode=file", "ignore_add=x,y"})
	if err != nil {
		t.Fatalf("ApplySet error: %v", err)
	}
	if cfg.StepBudget != 7 {
		t.Errorf("StepBudget = %d, want 7", cfg.StepBudget)
	}
	if cfg.OutputMode != "file" {
		t.Errorf("OutputMode = %q, want file", cfg.OutputMode)
	}
	if len(cfg.IgnoreAdd) != 2 {
		t.Errorf("IgnoreAdd = %v, want 2 entries", cfg.IgnoreAdd)
	}
}

func TestApplySetUnknownKeyErrors(t *testing.T) {
	cfg := Default()
	if err := ApplySet(&cfg, []string{"bogus=1"}); err == nil {
		t.Fatal("expected an error for an unknown --set key")
	}
}

func TestApplySetMalformedAssignmentErrors(t *testing.T) {
	cfg := Default()
	if err := ApplySet(&cfg, []string{"no-equals-sign"}); err == nil {
		t.Fatal("expected an error for an assignment with no '='")
	}
}

func TestEngineConfigMergesDefaultsAndAdjustments(t *testing.T) {
	cfg := Default()
	cfg.IgnoreAdd = []string{"myGlobal"}
	cfg.IgnoreRemove = []string{"print"}
	cfg.StepBudget = 10

	ec := cfg.EngineConfig()
	if ec.MaxSteps != 10 {
		t.Errorf("MaxSteps = %d, want 10", ec.MaxSteps)
	}
	set := map[string]bool{}
	for _, n := range ec.IgnoreGlobals {
		set[n] = true
	}
	if !set["myGlobal"] {
		t.Error("IgnoreGlobals must include an added name")
	}
	if set["print"] {
		t.Error("IgnoreGlobals must not include a removed default name")
	}
	if !set["assert"] {
		t.Error("IgnoreGlobals must still include untouched defaults")
	}
}
