package job

import (
	"fmt"
	"time"
)

// Status is the client-visible lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Stage is one phase of a running job's pipeline.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageTranscribe Stage = "transcribe"
	StageAlign      Stage = "align"
	StageDiarize    Stage = "diarize"
	StageExport     Stage = "export"
)

// HighlightStyle configures word-level highlighting applied during burn-in.
// It rides along in the structured JSON artifact and never leaks into the
// plain SRT/VTT outputs.
type HighlightStyle struct {
	Enabled bool `json:"enabled"`
	// Color is a hex RGB value like "#FFD700".
	Color string `json:"color"`
	// OffsetSeconds advances (negative) or retards (positive) the
	// highlight window relative to detected word timings.
	OffsetSeconds float64 `json:"offset_seconds"`
	// PaddingSeconds extends a word's highlighted interval past its
	// detected boundaries to absorb small alignment error.
	PaddingSeconds float64 `json:"padding_seconds"`
}

// Config is the immutable snapshot of submission parameters. Validated
// once at submission; never mutated afterwards.
type Config struct {
	Model       string         `json:"model"`
	Diarization bool           `json:"diarization"`
	MinSpeakers int            `json:"min_speakers,omitempty"`
	MaxSpeakers int            `json:"max_speakers,omitempty"`
	Highlight   HighlightStyle `json:"highlight"`
}

// Validate rejects submission parameters the pipeline cannot honor.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Diarization {
		if c.MinSpeakers < 1 {
			return fmt.Errorf("min_speakers must be >= 1 when diarization is enabled")
		}
		if c.MaxSpeakers < c.MinSpeakers {
			return fmt.Errorf("max_speakers (%d) must be >= min_speakers (%d)", c.MaxSpeakers, c.MinSpeakers)
		}
	}
	if c.Highlight.PaddingSeconds < 0 {
		return fmt.Errorf("highlight_padding must be >= 0")
	}
	return nil
}

// LogEntry is one timestamped progress message.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Results links the artifacts of a succeeded job.
type Results struct {
	SRT  string `json:"srt"`
	VTT  string `json:"vtt"`
	JSON string `json:"json"`
}

// BurnState tracks the job-scoped subtitle burn-in task.
type BurnState string

const (
	BurnIdle    BurnState = "idle"
	BurnRunning BurnState = "running"
	BurnDone    BurnState = "done"
	BurnFailed  BurnState = "failed"
)

// BurnTask is the secondary async action available once a job succeeded.
// At most one may be active per job.
type BurnTask struct {
	State  BurnState `json:"state"`
	Output string    `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Job is the unit of work and the unit of client-visible state. Snapshots
// returned by the store are deep copies; callers can read them freely.
type Job struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	// Stage is non-empty exactly while Status == running.
	Stage Stage `json:"stage,omitempty"`
	// Progress is monotonically non-decreasing while running.
	Progress float64 `json:"progress"`
	// ETASeconds is best-effort and absent until the first estimate.
	ETASeconds *float64   `json:"eta_seconds,omitempty"`
	Logs       []LogEntry `json:"logs"`
	Config     Config     `json:"config"`
	// Results is set if and only if Status == succeeded.
	Results *Results `json:"results,omitempty"`
	// Error is set if and only if Status == failed.
	Error string `json:"error,omitempty"`
	// DurationSeconds is the known or estimated source media duration.
	DurationSeconds float64   `json:"duration_seconds"`
	Burn            BurnTask  `json:"burn"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// SourcePath is the resolved local media file, needed again for
	// burn-in. Not part of the client snapshot payload.
	SourcePath string `json:"-"`

	cancelRequested bool
}

// CancelRequested reports whether a cooperative cancel is pending.
func (j Job) CancelRequested() bool { return j.cancelRequested }
