package trainer

import (
	"fmt"
	"log"
	"time"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/metrics"
	"nnet-forge/internal/nnet"
	"nnet-forge/internal/update"
)

// SimpleConfig configures SimpleTrainer and EnsembleTrainer.
type SimpleConfig struct {
	MinibatchSize int
	// MinibatchesPerPhase controls how often progress is logged.
	MinibatchesPerPhase int
	Update              update.Config
}

func (c *SimpleConfig) validate() error {
	if c.MinibatchSize <= 0 {
		return fmt.Errorf("trainer: minibatch size must be > 0 (got %d)", c.MinibatchSize)
	}
	if c.MinibatchesPerPhase <= 0 {
		c.MinibatchesPerPhase = 50
	}
	_, err := update.NewObjective(c.Update.ObjFunc, c.Update.TargetDim)
	return err
}

// Progress totals the work done by a trainer.
type Progress struct {
	Examples    int
	Weight      float64
	Objf        float64
	Minibatches int
}

// ObjfPerFrame normalizes the summed objective by the processed weight.
func (p Progress) ObjfPerFrame() float64 {
	if p.Weight == 0 {
		return 0
	}
	return p.Objf / p.Weight
}

func (p *Progress) add(egs []dataset.Example, weight, objf float64) {
	p.Examples += len(egs)
	p.Weight += weight
	p.Objf += objf
	p.Minibatches++
}

// SimpleTrainer trains one model in place with plain minibatch SGD on the
// calling goroutine.
type SimpleTrainer struct {
	cfg     SimpleConfig
	model   *nnet.Model
	updater *update.Updater

	buffer   []dataset.Example
	window   metrics.Window
	phase    int
	total    Progress
	gathered time.Time
}

// NewSimpleTrainer returns a trainer that updates model in place.
func NewSimpleTrainer(cfg SimpleConfig, model *nnet.Model) (*SimpleTrainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	u, err := update.NewUpdater(model, cfg.Update, model)
	if err != nil {
		return nil, err
	}
	return &SimpleTrainer{
		cfg:      cfg,
		model:    model,
		updater:  u,
		buffer:   make([]dataset.Example, 0, cfg.MinibatchSize),
		gathered: time.Now(),
	}, nil
}

// TrainOnExample buffers eg and trains once a full minibatch is available.
func (t *SimpleTrainer) TrainOnExample(eg dataset.Example) error {
	t.buffer = append(t.buffer, eg)
	if len(t.buffer) == t.cfg.MinibatchSize {
		return t.trainOneMinibatch()
	}
	return nil
}

// Finish trains on any partial minibatch still buffered, logs the final
// phase and returns the totals.
func (t *SimpleTrainer) Finish() (Progress, error) {
	if len(t.buffer) > 0 {
		if err := t.trainOneMinibatch(); err != nil {
			return t.total, err
		}
	}
	if t.window.Minibatches() > 0 {
		t.logPhase()
	}
	log.Printf("training done minibatches=%d objf_per_frame=%.4f frames=%.0f",
		t.total.Minibatches, t.total.ObjfPerFrame(), t.total.Weight)
	return t.total, nil
}

func (t *SimpleTrainer) trainOneMinibatch() error {
	dataTime := time.Since(t.gathered)
	start := time.Now()
	objf, err := t.updater.ComputeForMinibatch(t.buffer)
	if err != nil {
		return update.ReportFailure(t.model, err)
	}
	computeTime := time.Since(start)

	weight := dataset.TotalWeight(t.buffer)
	t.window.Record(weight, dataTime, computeTime, objf)
	t.total.add(t.buffer, weight, objf)
	t.buffer = t.buffer[:0]

	if t.window.Minibatches() == t.cfg.MinibatchesPerPhase {
		t.logPhase()
	}
	t.gathered = time.Now()
	return nil
}

func (t *SimpleTrainer) logPhase() {
	snap := t.window.Snapshot()
	log.Printf("phase=%d minibatches=%d objf_per_frame=%.4f frames=%.0f frames_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
		t.phase,
		snap.Minibatches,
		snap.ObjfPerFrame,
		snap.Weight,
		snap.FramesPerSec,
		snap.AvgDataMS,
		snap.AvgComputeMS,
	)
	t.phase++
}
