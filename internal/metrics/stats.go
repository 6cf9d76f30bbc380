package metrics

import "time"

// Window accumulates objective and timing stats across minibatches.
type Window struct {
	weight      float64
	objf        float64
	data        time.Duration
	compute     time.Duration
	minibatches int
}

// Record adds one minibatch: its total label weight, the time spent
// gathering and computing it, and its weight-summed objective.
func (w *Window) Record(weight float64, dataTime, computeTime time.Duration, objf float64) {
	w.weight += weight
	w.objf += objf
	w.data += dataTime
	w.compute += computeTime
	w.minibatches++
}

// Minibatches returns the number of minibatches recorded since the last
// snapshot.
func (w *Window) Minibatches() int { return w.minibatches }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Weight: w.weight, Objf: w.objf, Minibatches: w.minibatches}
	total := w.data + w.compute
	if total > 0 {
		snap.FramesPerSec = w.weight / total.Seconds()
	}
	if w.minibatches > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.minibatches)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.minibatches)
	}
	if w.weight > 0 {
		snap.ObjfPerFrame = w.objf / w.weight
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Weight       float64
	Objf         float64
	Minibatches  int
	FramesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	ObjfPerFrame float64
}
