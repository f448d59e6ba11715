// Package progress converts stage completion and media duration into a
// monotonic progress fraction and a best-effort ETA. Nothing here is a
// correctness contract except monotonic non-decrease of progress.
package progress

import (
	"sync"
	"time"

	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
)

// Estimator turns configured stage weights and per-model speed factors
// into per-job trackers.
type Estimator struct {
	weights       config.StageWeights
	speedFactors  map[string]float64
	defaultFactor float64
}

func NewEstimator(weights config.StageWeights, speedFactors map[string]float64, defaultFactor float64) *Estimator {
	if defaultFactor <= 0 {
		defaultFactor = 1.0
	}
	return &Estimator{
		weights:       weights,
		speedFactors:  speedFactors,
		defaultFactor: defaultFactor,
	}
}

// SpeedFactor returns the relative processing cost for a model id.
func (e *Estimator) SpeedFactor(model string) float64 {
	if f, ok := e.speedFactors[model]; ok && f > 0 {
		return f
	}
	return e.defaultFactor
}

// Models lists the model ids with a configured speed factor.
func (e *Estimator) Models() map[string]float64 {
	out := make(map[string]float64, len(e.speedFactors))
	for k, v := range e.speedFactors {
		out[k] = v
	}
	return out
}

func (e *Estimator) stageWeight(stage job.Stage) float64 {
	switch stage {
	case job.StageIngest:
		return e.weights.Ingest
	case job.StageTranscribe:
		return e.weights.Transcribe
	case job.StageAlign:
		return e.weights.Align
	case job.StageDiarize:
		return e.weights.Diarize
	case job.StageExport:
		// Finalize has no stage of its own; the tail weight is realized
		// when the job transitions to succeeded with progress 1.0.
		return e.weights.Export
	default:
		return 0
	}
}

// NewTracker creates a per-job tracker. When diarization is off, the
// align/diarize weights are dropped and the rest renormalized so the
// realized stage sequence still spans [0,1].
func (e *Estimator) NewTracker(model string, durationSeconds float64, diarization bool) *Tracker {
	stages := []job.Stage{job.StageIngest, job.StageTranscribe}
	if diarization {
		stages = append(stages, job.StageAlign, job.StageDiarize)
	}
	stages = append(stages, job.StageExport)

	total := e.weights.Finalize
	weights := make(map[job.Stage]float64, len(stages))
	for _, st := range stages {
		weights[st] = e.stageWeight(st)
		total += weights[st]
	}
	if total > 0 && total != 1.0 {
		for st := range weights {
			weights[st] /= total
		}
	}

	return &Tracker{
		stages:   stages,
		weights:  weights,
		factor:   e.SpeedFactor(model),
		duration: durationSeconds,
		current:  -1,
		now:      time.Now,
	}
}

// Tracker computes progress and ETA for one job as its stages advance.
// Safe for concurrent use: the orchestrator's ticker reads snapshots while
// the pipeline goroutine crosses stage boundaries.
type Tracker struct {
	mu       sync.Mutex
	stages   []job.Stage
	weights  map[job.Stage]float64
	factor   float64
	duration float64
	current  int
	started  time.Time
	last     float64
	now      func() time.Time
}

// Stages returns the realized stage sequence for this job.
func (t *Tracker) Stages() []job.Stage {
	out := make([]job.Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// CurrentStage returns the stage most recently entered ("" before the
// first EnterStage).
func (t *Tracker) CurrentStage() job.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current < 0 || t.current >= len(t.stages) {
		return ""
	}
	return t.stages[t.current]
}

// SetDuration refines the source duration once a probe produced a better
// value than the submission-time estimate.
func (t *Tracker) SetDuration(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds > 0 {
		t.duration = seconds
	}
}

// EnterStage marks the start of a stage. Stages must be entered in the
// realized order; unknown stages are ignored.
func (t *Tracker) EnterStage(stage job.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, st := range t.stages {
		if st == stage && i > t.current {
			t.current = i
			t.started = t.now()
			return
		}
	}
}

// TotalSeconds is the estimated total processing time for the job.
func (t *Tracker) TotalSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *Tracker) totalLocked() float64 {
	return t.duration * t.factor
}

// Snapshot returns (progress, etaSeconds). Progress is the weight of all
// completed stages plus the elapsed fraction of the current one; it never
// decreases across calls. ETA is (1-progress) x estimated total, floored
// at zero.
func (t *Tracker) Snapshot() (float64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := 0.0
	for i := 0; i < t.current && i < len(t.stages); i++ {
		p += t.weights[t.stages[i]]
	}

	if t.current >= 0 && t.current < len(t.stages) {
		w := t.weights[t.stages[t.current]]
		total := t.totalLocked()
		if total > 0 && w > 0 {
			elapsed := t.now().Sub(t.started).Seconds()
			frac := elapsed / (total * w)
			if frac > 1.0 {
				frac = 1.0
			}
			p += w * frac
		}
	}

	if p > 1.0 {
		p = 1.0
	}
	if p < t.last {
		p = t.last
	}
	t.last = p

	eta := (1.0 - p) * t.totalLocked()
	if eta < 0 {
		eta = 0
	}
	return p, eta
}
