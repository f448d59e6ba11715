package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
)

func testWeights() config.StageWeights {
	return config.StageWeights{
		Ingest:     0.10,
		Transcribe: 0.60,
		Align:      0.05,
		Diarize:    0.10,
		Export:     0.10,
		Finalize:   0.05,
	}
}

func testEstimator() *Estimator {
	return NewEstimator(testWeights(), map[string]float64{
		"tiny":     0.10,
		"large-v2": 1.00,
	}, 1.0)
}

func TestSpeedFactor(t *testing.T) {
	e := testEstimator()
	assert.Equal(t, 0.10, e.SpeedFactor("tiny"))
	assert.Equal(t, 1.0, e.SpeedFactor("unknown-model"), "unknown models fall back to the default factor")
}

func TestTrackerStageSequence(t *testing.T) {
	e := testEstimator()

	with := e.NewTracker("tiny", 60, true)
	assert.Equal(t, []job.Stage{job.StageIngest, job.StageTranscribe, job.StageAlign, job.StageDiarize, job.StageExport}, with.Stages())

	without := e.NewTracker("tiny", 60, false)
	assert.Equal(t, []job.Stage{job.StageIngest, job.StageTranscribe, job.StageExport}, without.Stages())
}

func TestTrackerRenormalizationWithoutDiarization(t *testing.T) {
	e := testEstimator()
	tr := e.NewTracker("tiny", 60, false)

	// Dropping align (.05) and diarize (.10) leaves .85 to renormalize.
	// Completing ingest and transcribe should yield (.10+.60)/.85.
	tr.EnterStage(job.StageIngest)
	tr.EnterStage(job.StageTranscribe)
	tr.EnterStage(job.StageExport)

	p, _ := tr.Snapshot()
	assert.InDelta(t, 0.70/0.85, p, 0.02)
}

func TestTrackerProgressMonotonic(t *testing.T) {
	e := testEstimator()
	tr := e.NewTracker("large-v2", 120, true)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	tr.EnterStage(job.StageIngest)
	clock = clock.Add(5 * time.Second)
	p1, _ := tr.Snapshot()

	clock = clock.Add(5 * time.Second)
	p2, _ := tr.Snapshot()
	assert.GreaterOrEqual(t, p2, p1)

	tr.EnterStage(job.StageTranscribe)
	p3, _ := tr.Snapshot()
	assert.GreaterOrEqual(t, p3, p2, "entering a stage never drops progress")

	// Re-entering a past stage is ignored.
	tr.EnterStage(job.StageIngest)
	assert.Equal(t, job.StageTranscribe, tr.CurrentStage())
	p4, _ := tr.Snapshot()
	assert.GreaterOrEqual(t, p4, p3)
}

func TestTrackerETA(t *testing.T) {
	e := testEstimator()
	tr := e.NewTracker("large-v2", 100, false) // total = 100s x 1.0

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	require.Equal(t, 100.0, tr.TotalSeconds())

	tr.EnterStage(job.StageIngest)
	p, eta := tr.Snapshot()
	assert.Zero(t, p)
	assert.InDelta(t, 100.0, eta, 0.001)

	// Halfway through the job's estimated total, ETA is the other half.
	tr.EnterStage(job.StageTranscribe)
	clock = clock.Add(40 * time.Second)
	p, eta = tr.Snapshot()
	assert.InDelta(t, (1.0-p)*100.0, eta, 0.001)
	assert.GreaterOrEqual(t, eta, 0.0)
}

func TestTrackerSetDurationRefinesTotal(t *testing.T) {
	e := testEstimator()
	tr := e.NewTracker("tiny", 0, false)
	assert.Zero(t, tr.TotalSeconds())

	tr.SetDuration(600)
	assert.InDelta(t, 60.0, tr.TotalSeconds(), 0.001)

	tr.SetDuration(0) // non-positive refinements are ignored
	assert.InDelta(t, 60.0, tr.TotalSeconds(), 0.001)
}

func TestTrackerCurrentStageBeforeStart(t *testing.T) {
	e := testEstimator()
	tr := e.NewTracker("tiny", 60, false)
	assert.Equal(t, job.Stage(""), tr.CurrentStage())
}
