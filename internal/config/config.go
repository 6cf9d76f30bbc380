package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Sources    []string `yaml:"sources"`
	Validation []string `yaml:"validation"`
	Mode       string   `yaml:"mode"`

	Objective string `yaml:"objective"`
	TargetDim int    `yaml:"target_dim"`

	MinibatchSize       int   `yaml:"minibatch_size"`
	MinibatchesPerPhase int   `yaml:"minibatches_per_phase"`
	NumThreads          int   `yaml:"num_threads"`
	NumWorkers          int   `yaml:"num_workers"`
	ZeroStats           *bool `yaml:"zero_stats"`
	Seed                int64 `yaml:"seed"`

	EnsembleSize int     `yaml:"ensemble_size"`
	EnsembleBeta float64 `yaml:"ensemble_beta"`

	Model ModelConfig `yaml:"model"`
}

// ModelConfig describes the freshly initialized model to train.
type ModelConfig struct {
	FeatDim      int     `yaml:"feat_dim"`
	SpkDim       int     `yaml:"spk_dim"`
	LeftContext  int     `yaml:"left_context"`
	RightContext int     `yaml:"right_context"`
	HiddenDims   []int   `yaml:"hidden_dims"`
	NumClasses   int     `yaml:"num_classes"`
	LearningRate float64 `yaml:"learning_rate"`
	Nonlinearity string  `yaml:"nonlinearity"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Sources       []string
	Validation    []string
	Mode          string
	Objective     string
	TargetDim     int
	MinibatchSize int
	NumThreads    int
	NumWorkers    int
	Seed          int64
}

// Load reads a Config from YAML. Callers apply overrides and then Validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if len(o.Sources) > 0 {
		c.Sources = o.Sources
	}
	if len(o.Validation) > 0 {
		c.Validation = o.Validation
	}
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if o.Objective != "" {
		c.Objective = o.Objective
	}
	if o.TargetDim > 0 {
		c.TargetDim = o.TargetDim
	}
	if o.MinibatchSize > 0 {
		c.MinibatchSize = o.MinibatchSize
	}
	if o.NumThreads > 0 {
		c.NumThreads = o.NumThreads
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one example source must be set")
	}
	switch c.Mode {
	case "":
		c.Mode = "simple"
	case "simple", "parallel":
	case "ensemble":
		if c.EnsembleSize < 2 {
			return fmt.Errorf("ensemble_size must be >= 2 (got %d)", c.EnsembleSize)
		}
		if c.EnsembleBeta < 0 || c.EnsembleBeta > 1 {
			return fmt.Errorf("ensemble_beta must be in [0, 1] (got %g)", c.EnsembleBeta)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Objective == "" {
		c.Objective = "CrossEntropy"
	}
	if c.TargetDim < 0 {
		return fmt.Errorf("target_dim must be >= 0 (got %d)", c.TargetDim)
	}
	if c.MinibatchSize <= 0 {
		c.MinibatchSize = 1024
	}
	if c.MinibatchesPerPhase <= 0 {
		c.MinibatchesPerPhase = 50
	}
	if c.NumThreads <= 0 {
		c.NumThreads = DefaultThreads()
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 2
	}
	if c.ZeroStats == nil {
		zero := true
		c.ZeroStats = &zero
	}
	return c.Model.validate()
}

func (m *ModelConfig) validate() error {
	if m.FeatDim <= 0 {
		return fmt.Errorf("model.feat_dim must be > 0 (got %d)", m.FeatDim)
	}
	if m.SpkDim < 0 {
		return fmt.Errorf("model.spk_dim must be >= 0 (got %d)", m.SpkDim)
	}
	if m.LeftContext < 0 || m.RightContext < 0 {
		return fmt.Errorf("model context must be >= 0 (got %d, %d)", m.LeftContext, m.RightContext)
	}
	if m.NumClasses <= 0 {
		return fmt.Errorf("model.num_classes must be > 0 (got %d)", m.NumClasses)
	}
	for _, h := range m.HiddenDims {
		if h <= 0 {
			return fmt.Errorf("model.hidden_dims entries must be > 0 (got %d)", h)
		}
	}
	if m.LearningRate <= 0 {
		m.LearningRate = 0.01
	}
	if m.Nonlinearity == "" {
		m.Nonlinearity = "tanh"
	}
	return nil
}

// DefaultThreads returns the number of logical cores reported by CPUID,
// falling back to the Go runtime's count.
func DefaultThreads() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}
