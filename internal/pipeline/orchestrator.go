// Package pipeline drives one transcription job through its ordered
// stages, writing state into the job store as it goes. Stages execute
// strictly sequentially; cancellation is cooperative and observed at
// stage boundaries, with in-flight external processes terminated through
// the job context.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ilyanovopashin/whisper-gui/internal/export"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/media"
	"github.com/ilyanovopashin/whisper-gui/internal/progress"
	"github.com/ilyanovopashin/whisper-gui/internal/transcribe"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// ErrCancelled marks a pipeline abort caused by a cancellation request.
// It produces the cancelled terminal status, never failed.
var ErrCancelled = errors.New("cancellation requested")

// Resolver is the slice of the media resolver the orchestrator needs.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, desc media.Descriptor, logf func(string)) (media.Source, error)
	PrepareAudio(ctx context.Context, sourcePath string) (string, error)
}

// Orchestrator executes job pipelines. One Execute call owns its job's
// record exclusively until the job reaches a terminal state.
type Orchestrator struct {
	store       *job.Store
	resolver    Resolver
	transcriber transcribe.Transcriber
	estimator   *progress.Estimator
	resultsDir  string

	// device serializes access to the shared transcription accelerator.
	// Scaling to more devices is a weight change, not a redesign.
	device *semaphore.Weighted

	progressInterval time.Duration
}

func New(
	store *job.Store,
	resolver Resolver,
	transcriber transcribe.Transcriber,
	estimator *progress.Estimator,
	resultsDir string,
	deviceTokens int64,
	progressInterval time.Duration,
) *Orchestrator {
	if deviceTokens < 1 {
		deviceTokens = 1
	}
	if progressInterval <= 0 {
		progressInterval = time.Second
	}
	return &Orchestrator{
		store:            store,
		resolver:         resolver,
		transcriber:      transcriber,
		estimator:        estimator,
		resultsDir:       resultsDir,
		device:           semaphore.NewWeighted(deviceTokens),
		progressInterval: progressInterval,
	}
}

// Execute drives the job to a terminal state. The context is cancelled by
// the worker pool when a client requests cancellation of a running job.
func (o *Orchestrator) Execute(ctx context.Context, jobID string, desc media.Descriptor) {
	// A cancel can land between dequeue and start; honor it before any work.
	if o.store.CancelRequested(jobID) {
		_ = o.store.Transition(jobID, job.StatusCancelled, nil, "")
		return
	}

	if err := o.store.Transition(jobID, job.StatusRunning, nil, ""); err != nil {
		logger.Errorf("❌ Job %s could not start: %v", jobID, err)
		return
	}
	_ = o.store.AppendLog(jobID, "Job accepted by worker")

	snap, err := o.store.Get(jobID)
	if err != nil {
		return
	}
	tracker := o.estimator.NewTracker(snap.Config.Model, desc.DurationHintSeconds, snap.Config.Diarization)

	results, err := o.run(ctx, jobID, snap.Config, desc, tracker)
	o.finish(jobID, results, err)
}

// run executes the stage sequence and returns the exported artifacts.
func (o *Orchestrator) run(ctx context.Context, jobID string, cfg job.Config, desc media.Descriptor, tracker *progress.Tracker) (*job.Results, error) {
	var audioPath string
	var source media.Source

	err := o.runStage(ctx, jobID, tracker, job.StageIngest, func(ctx context.Context) error {
		var err error
		source, err = o.resolver.Resolve(ctx, jobID, desc, func(msg string) {
			_ = o.store.AppendLog(jobID, msg)
		})
		if err != nil {
			return err
		}

		tracker.SetDuration(source.DurationSeconds)
		_ = o.store.SetDuration(jobID, source.DurationSeconds)
		_ = o.store.SetSourcePath(jobID, source.Path)
		if source.Estimated {
			_ = o.store.AppendLog(jobID, fmt.Sprintf("Estimated media duration: %.0fs", source.DurationSeconds))
		} else {
			_ = o.store.AppendLog(jobID, fmt.Sprintf("Media duration: %.0fs", source.DurationSeconds))
		}

		audioPath, err = o.resolver.PrepareAudio(ctx, source.Path)
		return err
	})
	if err != nil {
		return nil, err
	}

	var segments []transcribe.Segment
	err = o.runStage(ctx, jobID, tracker, job.StageTranscribe, func(ctx context.Context) error {
		if err := o.device.Acquire(ctx, 1); err != nil {
			return err
		}
		defer o.device.Release(1)

		opts := transcribe.Options{
			Model:       cfg.Model,
			Diarization: cfg.Diarization,
			MinSpeakers: cfg.MinSpeakers,
			MaxSpeakers: cfg.MaxSpeakers,
			// The engine covers transcription, alignment and diarization
			// in one call; its phase markers advance our stage machine.
			OnPhase: func(phase transcribe.Phase) {
				o.enterEnginePhase(jobID, tracker, cfg, phase)
			},
			OnLog: func(line string) {
				logger.Debugf("  engine [%s]: %s", jobID, line)
			},
		}

		var err error
		segments, err = o.transcriber.Transcribe(ctx, audioPath, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	var results *job.Results
	err = o.runStage(ctx, jobID, tracker, job.StageExport, func(ctx context.Context) error {
		dir := filepath.Join(o.resultsDir, jobID)
		artifacts, err := export.WriteAll(dir, export.Document{
			DurationSeconds: source.DurationSeconds,
			Diarization:     cfg.Diarization,
			Highlight:       cfg.Highlight,
			Segments:        segments,
		})
		if err != nil {
			return err
		}
		results = &job.Results{SRT: artifacts.SRT, VTT: artifacts.VTT, JSON: artifacts.JSON}
		_ = o.store.AppendLog(jobID, fmt.Sprintf("Exported %d segments", len(segments)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// runStage enters a stage, keeps progress flowing while fn runs, and
// enforces the stage-boundary cancellation check.
func (o *Orchestrator) runStage(ctx context.Context, jobID string, tracker *progress.Tracker, stage job.Stage, fn func(context.Context) error) error {
	if o.store.CancelRequested(jobID) || ctx.Err() != nil {
		return ErrCancelled
	}

	tracker.EnterStage(stage)
	_ = o.store.AppendLog(jobID, "Stage started: "+string(stage))
	o.pushProgress(jobID, tracker)

	stop := o.startProgressPump(jobID, tracker)
	defer stop()

	if err := fn(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return ErrCancelled
		}
		return err
	}
	return nil
}

// enterEnginePhase advances the stage machine on engine phase markers.
func (o *Orchestrator) enterEnginePhase(jobID string, tracker *progress.Tracker, cfg job.Config, phase transcribe.Phase) {
	var stage job.Stage
	switch phase {
	case transcribe.PhaseAlign:
		stage = job.StageAlign
	case transcribe.PhaseDiarize:
		stage = job.StageDiarize
	default:
		return
	}
	if !cfg.Diarization {
		return
	}
	tracker.EnterStage(stage)
	_ = o.store.AppendLog(jobID, "Stage started: "+string(stage))
	o.pushProgress(jobID, tracker)
}

func (o *Orchestrator) startProgressPump(jobID string, tracker *progress.Tracker) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				o.pushProgress(jobID, tracker)
			}
		}
	}()
	return func() { close(done) }
}

func (o *Orchestrator) pushProgress(jobID string, tracker *progress.Tracker) {
	stage := tracker.CurrentStage()
	if stage == "" {
		return
	}
	p, eta := tracker.Snapshot()
	_ = o.store.UpdateProgress(jobID, stage, p, eta)
}

// finish maps the pipeline outcome onto a terminal status. Partial
// artifacts from completed stages are discarded on failure and
// cancellation so results exist only for succeeded jobs.
func (o *Orchestrator) finish(jobID string, results *job.Results, err error) {
	switch {
	case err == nil:
		_ = o.store.AppendLog(jobID, "Job completed successfully")
		if terr := o.store.Transition(jobID, job.StatusSucceeded, results, ""); terr != nil {
			logger.Errorf("❌ Job %s could not record success: %v", jobID, terr)
			return
		}
		logger.Infof("✅ Job succeeded: %s", jobID)

	case errors.Is(err, ErrCancelled):
		o.discardArtifacts(jobID)
		if terr := o.store.Transition(jobID, job.StatusCancelled, nil, ""); terr != nil {
			logger.Errorf("❌ Job %s could not record cancellation: %v", jobID, terr)
			return
		}
		logger.Infof("🛑 Job cancelled: %s", jobID)

	default:
		o.discardArtifacts(jobID)
		_ = o.store.AppendLog(jobID, "Job failed: "+err.Error())
		if terr := o.store.Transition(jobID, job.StatusFailed, nil, err.Error()); terr != nil {
			logger.Errorf("❌ Job %s could not record failure: %v", jobID, terr)
			return
		}
		logger.Errorf("❌ Job failed: %s: %v", jobID, err)
	}
}

func (o *Orchestrator) discardArtifacts(jobID string) {
	dir := filepath.Join(o.resultsDir, jobID)
	if err := os.RemoveAll(dir); err != nil {
		logger.Warnf("⚠️ Could not discard artifacts for job %s: %v", jobID, err)
	}
}
