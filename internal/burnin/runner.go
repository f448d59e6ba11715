package burnin

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ilyanovopashin/whisper-gui/internal/export"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/preflight"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// Runner manages burn tasks. The store's StartBurn claim guarantees at most
// one active task per job; the runner just executes claimed tasks in the
// background and records their outcome.
type Runner struct {
	store     *job.Store
	renderer  *Renderer
	minFreeGB float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(store *job.Store, renderer *Renderer, minFreeGB float64) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:     store,
		renderer:  renderer,
		minFreeGB: minFreeGB,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start claims the job's burn slot and launches rendering in the
// background. Fails when the job is not succeeded or a task is already
// active.
func (r *Runner) Start(jobID string) error {
	snap, err := r.store.Get(jobID)
	if err != nil {
		return err
	}
	if snap.Results == nil || snap.SourcePath == "" {
		return fmt.Errorf("%w: no artifacts to burn", job.ErrBurnUnavailable)
	}

	if err := r.store.StartBurn(jobID); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(jobID, snap)
	}()
	return nil
}

// Stop cancels in-flight renders and waits for them to record an outcome.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) execute(jobID string, snap job.Job) {
	outPath := filepath.Join(filepath.Dir(snap.Results.JSON), "burned.mp4")
	err := r.render(snap, outPath)

	if err != nil {
		logger.Errorf("❌ Burn-in failed for job %s: %v", jobID, err)
		outPath = ""
	}
	if finishErr := r.store.FinishBurn(jobID, outPath, err); finishErr != nil {
		logger.Warnf("⚠️ Could not record burn outcome for job %s: %v", jobID, finishErr)
	}
}

func (r *Runner) render(snap job.Job, outPath string) error {
	// Re-encoding needs scratch space roughly the size of the source;
	// fail fast instead of dying mid-encode.
	if err := preflight.CheckDiskSpace(filepath.Dir(outPath), r.minFreeGB); err != nil {
		return err
	}

	doc, err := export.ReadDocument(snap.Results.JSON)
	if err != nil {
		return err
	}
	return r.renderer.Render(r.ctx, snap.SourcePath, doc, outPath)
}
