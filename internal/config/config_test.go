package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
sources:
  - /data/egs
mode: parallel
objective: CrossEntropy
minibatch_size: 256
num_threads: 3
zero_stats: false
model:
  feat_dim: 13
  left_context: 2
  right_context: 2
  hidden_dims: [64, 64]
  num_classes: 40
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Mode != "parallel" || cfg.MinibatchSize != 256 || cfg.NumThreads != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.MinibatchesPerPhase != 50 {
		t.Fatalf("expected default minibatches_per_phase 50, got %d", cfg.MinibatchesPerPhase)
	}
	if cfg.ZeroStats == nil || *cfg.ZeroStats {
		t.Fatalf("expected zero_stats false to be kept")
	}
	if cfg.Model.LearningRate != 0.01 || cfg.Model.Nonlinearity != "tanh" {
		t.Fatalf("unexpected model defaults %+v", cfg.Model)
	}
	if len(cfg.Model.HiddenDims) != 2 {
		t.Fatalf("expected 2 hidden dims, got %v", cfg.Model.HiddenDims)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, sampleYAML+"bogus: 1\n"))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateEnsembleNeedsModels(t *testing.T) {
	cfg := &Config{
		Sources:      []string{"x"},
		Mode:         "ensemble",
		EnsembleSize: 1,
		Model:        ModelConfig{FeatDim: 1, NumClasses: 2},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for single-model ensemble")
	}
}

func TestValidateDefaultsThreads(t *testing.T) {
	cfg := &Config{Sources: []string{"x"}, Model: ModelConfig{FeatDim: 1, NumClasses: 2}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.NumThreads <= 0 {
		t.Fatalf("expected positive default thread count, got %d", cfg.NumThreads)
	}
	if cfg.Mode != "simple" || cfg.Objective != "CrossEntropy" {
		t.Fatalf("unexpected defaults mode=%s objective=%s", cfg.Mode, cfg.Objective)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{Sources: []string{"a"}, MinibatchSize: 8}
	cfg.ApplyOverrides(Overrides{Sources: []string{"b"}, MinibatchSize: 0, NumThreads: 4})
	if cfg.Sources[0] != "b" || cfg.MinibatchSize != 8 || cfg.NumThreads != 4 {
		t.Fatalf("unexpected overrides result %+v", cfg)
	}
}

func TestLoadDefersValidationToOverrides(t *testing.T) {
	body := `
model:
  feat_dim: 13
  num_classes: 40
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing sources to fail validation")
	}
	cfg.ApplyOverrides(Overrides{Sources: []string{"/data/egs"}})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate after overrides error: %v", err)
	}
	if cfg.Sources[0] != "/data/egs" {
		t.Fatalf("expected sources from overrides, got %v", cfg.Sources)
	}
}
