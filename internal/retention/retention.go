// Package retention reclaims what finished jobs leave behind: the uploaded
// or downloaded media, the exported artifacts, the in-memory store record
// and the persisted history row all expire together after the retention
// window.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyanovopashin/whisper-gui/internal/history"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// Janitor sweeps expired terminal jobs on an interval.
type Janitor struct {
	store        *job.Store
	hist         *history.Repository // nil when persistence is disabled
	downloadsDir string
	resultsDir   string
	retention    time.Duration

	now func() time.Time
}

func NewJanitor(store *job.Store, hist *history.Repository, downloadsDir, resultsDir string, retention time.Duration) *Janitor {
	return &Janitor{
		store:        store,
		hist:         hist,
		downloadsDir: downloadsDir,
		resultsDir:   resultsDir,
		retention:    retention,
		now:          time.Now,
	}
}

// Sweep evicts terminal jobs past the retention window, deletes their
// media and artifact directories, and prunes expired history rows.
// Returns the number of jobs evicted.
func (j *Janitor) Sweep() int {
	cutoff := j.now().UTC().Add(-j.retention)

	evicted := j.store.PruneExpired(cutoff)
	for _, old := range evicted {
		j.removeFiles(old)
	}
	if len(evicted) > 0 {
		logger.Infof("🧹 Evicted %d expired jobs and their files", len(evicted))
	}

	if j.hist != nil {
		if n, err := j.hist.Prune(j.retention); err != nil {
			logger.Warnf("⚠️ History pruning failed: %v", err)
		} else if n > 0 {
			logger.Infof("🧹 Pruned %d expired history records", n)
		}
	}
	return len(evicted)
}

// removeFiles deletes everything the job wrote: the directory holding its
// source media (uploads or downloads), plus its per-id download and
// results directories.
func (j *Janitor) removeFiles(old job.Job) {
	dirs := []string{
		filepath.Join(j.downloadsDir, old.ID),
		filepath.Join(j.resultsDir, old.ID),
	}
	if old.SourcePath != "" {
		dirs = append(dirs, filepath.Dir(old.SourcePath))
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf("⚠️ Could not remove %s for expired job %s: %v", dir, old.ID, err)
		}
	}
}

// Start sweeps on an interval until ctx is done.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep()
			}
		}
	}()
}
