package trainer

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/metrics"
	"nnet-forge/internal/nnet"
	"nnet-forge/internal/update"
)

var errNoModels = errors.New("trainer: no models")

// Mixer combines statistics across the models of an ensemble. It receives
// every model's output and objective gradient for the same minibatch, in
// model order, and may rewrite the gradients in place before backprop.
type Mixer interface {
	Mix(outputs, derivs []*mat.Dense) error
}

// AverageDerivs moves each gradient a fraction Beta of the way toward the
// ensemble mean gradient.
type AverageDerivs struct {
	Beta float64
}

func (a AverageDerivs) Mix(_, derivs []*mat.Dense) error {
	if a.Beta < 0 || a.Beta > 1 {
		return fmt.Errorf("trainer: beta must be in [0, 1] (got %g)", a.Beta)
	}
	if a.Beta == 0 || len(derivs) < 2 {
		return nil
	}
	mean := mat.DenseCopyOf(derivs[0])
	for _, d := range derivs[1:] {
		mean.Add(mean, d)
	}
	mean.Scale(a.Beta/float64(len(derivs)), mean)
	for _, d := range derivs {
		d.Scale(1-a.Beta, d)
		d.Add(d, mean)
	}
	return nil
}

// EnsembleTrainer trains several models on one example stream on the calling
// goroutine. Every model sees the same minibatches in the same order.
type EnsembleTrainer struct {
	cfg      SimpleConfig
	mixer    Mixer
	models   []*nnet.Model
	updaters []*update.Updater

	buffer   []dataset.Example
	windows  []metrics.Window
	totals   []Progress
	phase    int
	gathered time.Time
}

// NewEnsembleTrainer returns a trainer updating each model in place. mixer
// may be nil, in which case the models train independently.
func NewEnsembleTrainer(cfg SimpleConfig, models []*nnet.Model, mixer Mixer) (*EnsembleTrainer, error) {
	if len(models) == 0 {
		return nil, errNoModels
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	updaters := make([]*update.Updater, len(models))
	for k, m := range models {
		u, err := update.NewUpdater(m, cfg.Update, m)
		if err != nil {
			return nil, err
		}
		updaters[k] = u
	}
	return &EnsembleTrainer{
		cfg:      cfg,
		mixer:    mixer,
		models:   models,
		updaters: updaters,
		buffer:   make([]dataset.Example, 0, cfg.MinibatchSize),
		windows:  make([]metrics.Window, len(models)),
		totals:   make([]Progress, len(models)),
		gathered: time.Now(),
	}, nil
}

// TrainOnExample buffers eg and trains every model once a full minibatch is
// available.
func (t *EnsembleTrainer) TrainOnExample(eg dataset.Example) error {
	t.buffer = append(t.buffer, eg)
	if len(t.buffer) == t.cfg.MinibatchSize {
		return t.trainOneMinibatch()
	}
	return nil
}

// Finish trains on any partial minibatch and returns per-model totals.
func (t *EnsembleTrainer) Finish() ([]Progress, error) {
	if len(t.buffer) > 0 {
		if err := t.trainOneMinibatch(); err != nil {
			return t.totals, err
		}
	}
	if t.windows[0].Minibatches() > 0 {
		t.logPhase()
	}
	for k, p := range t.totals {
		log.Printf("training done model=%d minibatches=%d objf_per_frame=%.4f frames=%.0f",
			k, p.Minibatches, p.ObjfPerFrame(), p.Weight)
	}
	return t.totals, nil
}

func (t *EnsembleTrainer) trainOneMinibatch() error {
	dataTime := time.Since(t.gathered)
	outputs := make([]*mat.Dense, len(t.models))
	derivs := make([]*mat.Dense, len(t.models))
	objfs := make([]float64, len(t.models))
	computeTimes := make([]time.Duration, len(t.models))

	for k, u := range t.updaters {
		start := time.Now()
		if err := u.Forward(t.buffer); err != nil {
			return update.ReportFailure(t.models[k], err)
		}
		objf, _, deriv, err := u.ComputeObjfAndDeriv(t.buffer)
		if err != nil {
			return update.ReportFailure(t.models[k], err)
		}
		outputs[k], derivs[k], objfs[k] = u.Output(), deriv, objf
		computeTimes[k] = time.Since(start)
	}
	if t.mixer != nil {
		if err := t.mixer.Mix(outputs, derivs); err != nil {
			return err
		}
	}
	weight := dataset.TotalWeight(t.buffer)
	for k, u := range t.updaters {
		start := time.Now()
		if err := u.Backprop(derivs[k]); err != nil {
			return update.ReportFailure(t.models[k], err)
		}
		computeTimes[k] += time.Since(start)
		t.windows[k].Record(weight, dataTime, computeTimes[k], objfs[k])
		t.totals[k].add(t.buffer, weight, objfs[k])
	}
	t.buffer = t.buffer[:0]

	if t.windows[0].Minibatches() == t.cfg.MinibatchesPerPhase {
		t.logPhase()
	}
	t.gathered = time.Now()
	return nil
}

func (t *EnsembleTrainer) logPhase() {
	for k := range t.windows {
		snap := t.windows[k].Snapshot()
		log.Printf("phase=%d model=%d minibatches=%d objf_per_frame=%.4f frames=%.0f compute_ms=%.2f",
			t.phase, k, snap.Minibatches, snap.ObjfPerFrame, snap.Weight, snap.AvgComputeMS)
	}
	t.phase++
}
