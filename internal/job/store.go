package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// ErrTerminal is returned when a mutation reaches a job that already
// finished. Late writers (progress tickers, straggling stage goroutines)
// treat it as a signal to stop.
var ErrTerminal = errors.New("job is in a terminal state")

// ErrBurnUnavailable is returned when a burn task cannot start.
var ErrBurnUnavailable = errors.New("burn-in not available for this job")

// Store owns every Job record. All mutations of the same job id take the
// store lock, so they appear in a single total order; Get returns a deep
// copy taken under the same lock, so snapshots are always consistent.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]*entry
	logWindow int
	now       func() time.Time

	// onTerminal, when set, is invoked (outside the lock) with a snapshot
	// of every job that reaches a terminal status.
	onTerminal func(Job)
}

type entry struct {
	job  Job
	logs *logWindow
}

// NewStore creates an empty job store retaining logWindow log entries per
// job (0 selects DefaultLogWindow).
func NewStore(logWindow int) *Store {
	return &Store{
		jobs:      make(map[string]*entry),
		logWindow: logWindow,
		now:       time.Now,
	}
}

// OnTerminal registers a hook fired once per job when it reaches a
// terminal status. Must be set before jobs are created.
func (s *Store) OnTerminal(fn func(Job)) {
	s.onTerminal = fn
}

// Create registers a new queued job with an immutable config snapshot and
// returns its snapshot.
func (s *Store) Create(cfg Config) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	e := &entry{
		job: Job{
			ID:        uuid.New().String(),
			Status:    StatusQueued,
			Config:    cfg,
			Burn:      BurnTask{State: BurnIdle},
			CreatedAt: now,
			UpdatedAt: now,
		},
		logs: newLogWindow(s.logWindow),
	}
	s.jobs[e.job.ID] = e
	return s.snapshotLocked(e)
}

// Get returns a consistent snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return s.snapshotLocked(e), nil
}

// AppendLog adds one timestamped log entry. Rejected once the job is
// terminal so a cancelled or failed job never grows its log.
func (s *Store) AppendLog(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status.Terminal() {
		return ErrTerminal
	}

	if e.logs.append(s.now().UTC(), message) {
		e.job.UpdatedAt = s.now().UTC()
	}
	return nil
}

// UpdateProgress records stage, progress and ETA for a running job.
// Progress is clamped so it never decreases; ETA is floored at zero.
func (s *Store) UpdateProgress(id string, stage Stage, progress, etaSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status.Terminal() {
		return ErrTerminal
	}
	if e.job.Status != StatusRunning {
		return fmt.Errorf("job %s is %s, not running", id, e.job.Status)
	}

	e.job.Stage = stage
	if progress > e.job.Progress {
		if progress > 1.0 {
			progress = 1.0
		}
		e.job.Progress = progress
	}
	if etaSeconds < 0 {
		etaSeconds = 0
	}
	e.job.ETASeconds = &etaSeconds
	e.job.UpdatedAt = s.now().UTC()
	return nil
}

// SetDuration refines the source duration estimate for a live job.
func (s *Store) SetDuration(id string, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status.Terminal() {
		return ErrTerminal
	}
	e.job.DurationSeconds = seconds
	e.job.UpdatedAt = s.now().UTC()
	return nil
}

// SetSourcePath records the resolved local media file for later burn-in.
func (s *Store) SetSourcePath(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	e.job.SourcePath = path
	return nil
}

// Transition moves the job to a new status, enforcing the state machine:
//
//	queued  -> running | cancelled
//	running -> succeeded | failed | cancelled
//
// succeeded requires results, failed requires an error message; both are
// cleared otherwise, so results are set iff succeeded and error iff failed.
func (s *Store) Transition(id string, status Status, results *Results, errMsg string) error {
	var terminalSnapshot *Job

	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	if err := validateTransition(e.job.Status, status); err != nil {
		s.mu.Unlock()
		return err
	}

	switch status {
	case StatusRunning:
		e.job.Stage = StageIngest
	case StatusSucceeded:
		if results == nil {
			s.mu.Unlock()
			return fmt.Errorf("transition to succeeded requires results")
		}
		r := *results
		e.job.Results = &r
		e.job.Stage = ""
		e.job.Progress = 1.0
		zero := 0.0
		e.job.ETASeconds = &zero
	case StatusFailed:
		if errMsg == "" {
			s.mu.Unlock()
			return fmt.Errorf("transition to failed requires an error message")
		}
		e.job.Error = errMsg
		e.job.Results = nil
		e.job.Stage = ""
	case StatusCancelled:
		e.job.Results = nil
		e.job.Stage = ""
	}

	e.job.Status = status
	e.job.UpdatedAt = s.now().UTC()

	if status.Terminal() && s.onTerminal != nil {
		snap := s.snapshotLocked(e)
		terminalSnapshot = &snap
	}
	s.mu.Unlock()

	if terminalSnapshot != nil {
		s.onTerminal(*terminalSnapshot)
	}
	return nil
}

// RequestCancel marks cancellation intent and returns the status observed
// at that moment so the caller can decide how to act on it. Requesting
// cancel on a terminal job is a no-op.
func (s *Store) RequestCancel(id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	if !e.job.Status.Terminal() {
		e.job.cancelRequested = true
	}
	return e.job.Status, nil
}

// CancelRequested reports pending cancellation intent; the orchestrator
// polls this at stage boundaries.
func (s *Store) CancelRequested(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	return e.job.cancelRequested
}

// StartBurn claims the job's burn-in slot. Only a succeeded job with no
// active burn task can start one.
func (s *Store) StartBurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status != StatusSucceeded {
		return fmt.Errorf("%w: job is %s", ErrBurnUnavailable, e.job.Status)
	}
	if e.job.Burn.State == BurnRunning {
		return fmt.Errorf("%w: burn-in already running", ErrBurnUnavailable)
	}

	e.job.Burn = BurnTask{State: BurnRunning}
	e.job.UpdatedAt = s.now().UTC()
	return nil
}

// FinishBurn records the burn task outcome. The owning job's terminal
// status is untouched either way.
func (s *Store) FinishBurn(id, outputPath string, burnErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Burn.State != BurnRunning {
		return fmt.Errorf("no burn task running for job %s", id)
	}

	if burnErr != nil {
		e.job.Burn = BurnTask{State: BurnFailed, Error: burnErr.Error()}
	} else {
		e.job.Burn = BurnTask{State: BurnDone, Output: outputPath}
	}
	e.job.UpdatedAt = s.now().UTC()
	return nil
}

// PruneExpired evicts terminal jobs whose last update is before cutoff and
// returns their snapshots so the caller can release on-disk artifacts.
// A job with a burn task still running is kept until the task records an
// outcome.
func (s *Store) PruneExpired(cutoff time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Job
	for id, e := range s.jobs {
		if !e.job.Status.Terminal() || e.job.Burn.State == BurnRunning {
			continue
		}
		if !e.job.UpdatedAt.Before(cutoff) {
			continue
		}
		evicted = append(evicted, s.snapshotLocked(e))
		delete(s.jobs, id)
	}
	return evicted
}

func (s *Store) snapshotLocked(e *entry) Job {
	snap := e.job
	snap.Logs = e.logs.snapshot()
	if e.job.ETASeconds != nil {
		eta := *e.job.ETASeconds
		snap.ETASeconds = &eta
	}
	if e.job.Results != nil {
		r := *e.job.Results
		snap.Results = &r
	}
	return snap
}

func validateTransition(from, to Status) error {
	ok := false
	switch from {
	case StatusQueued:
		ok = to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		ok = to == StatusSucceeded || to == StatusFailed || to == StatusCancelled
	}
	if !ok {
		if from.Terminal() {
			return fmt.Errorf("%w: cannot move %s -> %s", ErrTerminal, from, to)
		}
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return nil
}
