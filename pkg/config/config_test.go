package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the default parameter values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Registration.Alpha != 2.5 {
		t.Errorf("default alpha %v, want 2.5", cfg.Registration.Alpha)
	}
	if cfg.Registration.Beta != 150 {
		t.Errorf("default beta %v, want 150", cfg.Registration.Beta)
	}
	if cfg.Registration.Sigma != 1.4 {
		t.Errorf("default sigma %v, want 1.4", cfg.Registration.Sigma)
	}
	if cfg.Ablation.BorderDist != 10 {
		t.Errorf("default borderDist %v, want 10", cfg.Ablation.BorderDist)
	}
	if cfg.Ablation.BorderDensity != 2.0 {
		t.Errorf("default borderDensity %v, want 2.0", cfg.Ablation.BorderDensity)
	}
	if cfg.Stages.SearchRadius != "16x8" {
		t.Errorf("default search radius %q, want \"16x8\"", cfg.Stages.SearchRadius)
	}
	if cfg.Stages.Transform != "nxn" {
		t.Errorf("default transform %q, want \"nxn\"", cfg.Stages.Transform)
	}
}

// TestSaveLoadRoundTrip verifies that a configuration survives a save
// and load cycle.
func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.Alpha = 3.75
	cfg.Ablation.BorderDist = 7
	cfg.Stages.SearchRadius = "12x6x3"
	cfg.Output.SaveDeformation = true

	path := filepath.Join(t.TempDir(), "corrfield.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Registration.Alpha != 3.75 {
		t.Errorf("alpha %v, want 3.75", loaded.Registration.Alpha)
	}
	if loaded.Ablation.BorderDist != 7 {
		t.Errorf("borderDist %v, want 7", loaded.Ablation.BorderDist)
	}
	if loaded.Stages.SearchRadius != "12x6x3" {
		t.Errorf("search radius %q, want \"12x6x3\"", loaded.Stages.SearchRadius)
	}
	if !loaded.Output.SaveDeformation {
		t.Error("saveDeformation flag lost in round trip")
	}
}

// TestLoadConfigMissingFile verifies that a nonexistent path falls back
// to the defaults without an error.
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registration.Alpha != DefaultConfig().Registration.Alpha {
		t.Error("missing file did not return defaults")
	}
}

// TestLoadConfigPartialFile verifies that unspecified fields keep their
// defaults when the YAML only overrides some values.
func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	partial := "registration:\n  alpha: 9.5\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registration.Alpha != 9.5 {
		t.Errorf("alpha %v, want 9.5", cfg.Registration.Alpha)
	}
	if cfg.Registration.Beta != 150 {
		t.Errorf("beta %v, want default 150", cfg.Registration.Beta)
	}
	if cfg.Ablation.BorderDist != 10 {
		t.Errorf("borderDist %v, want default 10", cfg.Ablation.BorderDist)
	}
}

// TestCreateDefaultConfigFile verifies file creation and readback.
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registration.Gamma != 5 {
		t.Errorf("gamma %v, want 5", cfg.Registration.Gamma)
	}
}
