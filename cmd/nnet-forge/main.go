package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/klauspost/cpuid/v2"

	"nnet-forge/internal/component"
	"nnet-forge/internal/config"
	"nnet-forge/internal/trainer"
	"nnet-forge/internal/update"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	sources := flag.String("egs", "", "Comma separated example shard directories or files")
	validation := flag.String("valid-egs", "", "Comma separated validation shard directories or files")
	mode := flag.String("mode", "", "Training mode: simple, parallel or ensemble")
	objective := flag.String("objective", "", "Objective function: CrossEntropy, CrossEntropySum or SquaredError")
	targetDim := flag.Int("target-dim", 0, "Target dimension for CrossEntropySum and SquaredError")
	minibatchSize := flag.Int("minibatch-size", 0, "Number of examples per minibatch")
	numThreads := flag.Int("num-threads", 0, "Training goroutines for parallel mode")
	numWorkers := flag.Int("num-workers", 0, "Shards decoded ahead of training")
	seed := flag.Int64("seed", 0, "PRNG seed for initialization and shard order")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Sources:       splitList(*sources),
		Validation:    splitList(*validation),
		Mode:          *mode,
		Objective:     *objective,
		TargetDim:     *targetDim,
		MinibatchSize: *minibatchSize,
		NumThreads:    *numThreads,
		NumWorkers:    *numWorkers,
		Seed:          *seed,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("cpu=%q physical_cores=%d logical_cores=%d avx2=%t fma3=%t threads=%d",
		cpuid.CPU.BrandName,
		cpuid.CPU.PhysicalCores,
		cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2),
		cpuid.CPU.Supports(cpuid.FMA3),
		cfg.NumThreads,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		Sources:    cfg.Sources,
		Validation: cfg.Validation,
		Mode:       cfg.Mode,
		Update: update.Config{
			ObjFunc:   cfg.Objective,
			TargetDim: cfg.TargetDim,
		},
		MinibatchSize:       cfg.MinibatchSize,
		MinibatchesPerPhase: cfg.MinibatchesPerPhase,
		NumThreads:          cfg.NumThreads,
		NumWorkers:          cfg.NumWorkers,
		ZeroStats:           *cfg.ZeroStats,
		Seed:                cfg.Seed,
		EnsembleSize:        cfg.EnsembleSize,
		EnsembleBeta:        cfg.EnsembleBeta,
		Model: component.ModelSpec{
			FeatDim:      cfg.Model.FeatDim,
			SpkDim:       cfg.Model.SpkDim,
			LeftContext:  cfg.Model.LeftContext,
			RightContext: cfg.Model.RightContext,
			HiddenDims:   cfg.Model.HiddenDims,
			NumClasses:   cfg.Model.NumClasses,
			LearningRate: cfg.Model.LearningRate,
			Nonlinearity: cfg.Model.Nonlinearity,
		},
	}

	res, err := trainer.Run(ctx, runCfg)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("finished training, processed %.0f training examples (weighted)", res.Processed)
	if res.Processed == 0 {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
