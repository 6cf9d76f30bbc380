package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"nnet-forge/internal/component"
	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
	"nnet-forge/internal/update"
)

// Training modes accepted by Run.
const (
	ModeSimple   = "simple"
	ModeParallel = "parallel"
	ModeEnsemble = "ensemble"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Sources    []string
	Validation []string
	Mode       string
	Update     update.Config

	MinibatchSize       int
	MinibatchesPerPhase int
	NumThreads          int
	NumWorkers          int
	ZeroStats           bool
	Seed                int64

	EnsembleSize int
	EnsembleBeta float64

	Model component.ModelSpec
}

// Result reports a finished run.
type Result struct {
	// Processed is the total label weight of the training examples seen.
	Processed float64
	Models    []*nnet.Model
	// ValidObjf holds each model's validation objective per frame, if a
	// validation set was configured.
	ValidObjf []float64
}

// Run builds the model(s), trains them over one pass of the sources and
// evaluates them on the validation set.
func Run(ctx context.Context, cfg RunConfig) (Result, error) {
	if cfg.MinibatchSize <= 0 {
		return Result{}, errors.New("trainer: minibatch size must be > 0")
	}
	numModels := 1
	if cfg.Mode == ModeEnsemble {
		if cfg.EnsembleSize < 2 {
			return Result{}, fmt.Errorf("trainer: ensemble needs at least 2 models (got %d)", cfg.EnsembleSize)
		}
		numModels = cfg.EnsembleSize
	}

	models := make([]*nnet.Model, numModels)
	for k := range models {
		m, err := component.BuildModel(cfg.Model, cfg.Seed+int64(k))
		if err != nil {
			return Result{}, err
		}
		if cfg.ZeroStats {
			m.ZeroStats()
		}
		models[k] = m
	}
	log.Printf("mode=%s models=%d left_context=%d right_context=%d input_dim=%d output_dim=%d",
		cfg.Mode, numModels, models[0].LeftContext(), models[0].RightContext(),
		models[0].InputDim(), models[0].OutputDim())

	reader, err := dataset.Open(ctx, dataset.ReaderOptions{
		Sources:    cfg.Sources,
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return Result{}, err
	}
	defer reader.Close()

	start := time.Now()
	var processed float64
	switch cfg.Mode {
	case ModeSimple:
		processed, err = trainSimple(ctx, cfg, models[0], reader)
	case ModeParallel:
		processed, err = update.DoBackpropParallel(ctx, models[0], cfg.MinibatchSize, reader, cfg.Update, cfg.NumThreads)
	case ModeEnsemble:
		processed, err = trainEnsemble(ctx, cfg, models, reader)
	default:
		err = fmt.Errorf("trainer: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return Result{}, err
	}
	log.Printf("training finished processed=%.0f elapsed=%s", processed, time.Since(start).Round(time.Millisecond))

	res := Result{Processed: processed, Models: models}
	if len(cfg.Validation) == 0 {
		return res, nil
	}
	valid, err := readValidation(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	for k, m := range models {
		objf, err := update.ComputeObjfBatched(m, valid, cfg.MinibatchSize, cfg.Update)
		if err != nil {
			return Result{}, fmt.Errorf("validation: %w", err)
		}
		perFrame := 0.0
		if w := dataset.TotalWeight(valid); w > 0 {
			perFrame = objf / w
		}
		log.Printf("validation model=%d examples=%d objf_per_frame=%.4f", k, len(valid), perFrame)
		res.ValidObjf = append(res.ValidObjf, perFrame)
	}
	return res, nil
}

type exampleTrainer interface {
	TrainOnExample(eg dataset.Example) error
}

func feed(ctx context.Context, reader update.ExampleReader, t exampleTrainer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		eg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read example: %w", err)
		}
		if err := t.TrainOnExample(eg); err != nil {
			return err
		}
	}
}

func trainSimple(ctx context.Context, cfg RunConfig, model *nnet.Model, reader update.ExampleReader) (float64, error) {
	t, err := NewSimpleTrainer(SimpleConfig{
		MinibatchSize:       cfg.MinibatchSize,
		MinibatchesPerPhase: cfg.MinibatchesPerPhase,
		Update:              cfg.Update,
	}, model)
	if err != nil {
		return 0, err
	}
	if err := feed(ctx, reader, t); err != nil {
		return 0, err
	}
	p, err := t.Finish()
	return p.Weight, err
}

func trainEnsemble(ctx context.Context, cfg RunConfig, models []*nnet.Model, reader update.ExampleReader) (float64, error) {
	var mixer Mixer
	if cfg.EnsembleBeta > 0 {
		mixer = AverageDerivs{Beta: cfg.EnsembleBeta}
	}
	t, err := NewEnsembleTrainer(SimpleConfig{
		MinibatchSize:       cfg.MinibatchSize,
		MinibatchesPerPhase: cfg.MinibatchesPerPhase,
		Update:              cfg.Update,
	}, models, mixer)
	if err != nil {
		return 0, err
	}
	if err := feed(ctx, reader, t); err != nil {
		return 0, err
	}
	totals, err := t.Finish()
	if err != nil {
		return 0, err
	}
	return totals[0].Weight, nil
}

func readValidation(ctx context.Context, cfg RunConfig) ([]dataset.Example, error) {
	reader, err := dataset.Open(ctx, dataset.ReaderOptions{Sources: cfg.Validation, NumWorkers: cfg.NumWorkers})
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	defer reader.Close()
	var egs []dataset.Example
	for {
		eg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return egs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("validation: %w", err)
		}
		egs = append(egs, eg)
	}
}
