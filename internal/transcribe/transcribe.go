// Package transcribe wraps the external speech-to-text engine. The engine
// is a long-running black box: cancellation mid-call is honored only by
// terminating the backing process through the context.
package transcribe

import (
	"context"
	"fmt"
)

// Word is one word with aligned timing inside a segment.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"word"`
}

// Segment is one timed transcript unit. Speaker is set only when
// diarization ran; Words only when alignment produced word timings.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// Phase identifies the engine's internal processing phases. The engine
// reports phase changes so the orchestrator can advance its stage state
// without splitting the engine call.
type Phase string

const (
	PhaseTranscribe Phase = "transcribe"
	PhaseAlign      Phase = "align"
	PhaseDiarize    Phase = "diarize"
)

// Options configures one engine invocation.
type Options struct {
	Model       string
	Language    string
	Diarization bool
	MinSpeakers int
	MaxSpeakers int

	// OnPhase, when set, is called as the engine crosses internal phase
	// boundaries (transcribe -> align -> diarize).
	OnPhase func(Phase)
	// OnLog, when set, receives notable engine output lines.
	OnLog func(string)
}

// Transcriber is the external collaborator interface around the engine.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string, opts Options) ([]Segment, error)
}

// TranscriptionError covers model load failures, device exhaustion and
// malformed or empty engine output. Fatal to the job: re-running an
// expensive model call rarely resolves a deterministic failure, so there
// is no automatic retry.
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription: %s", e.Reason)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ValidateSegments enforces the adapter's output contract: at least one
// segment, and when diarization ran, a distinct speaker count inside the
// configured bounds.
func ValidateSegments(segments []Segment, opts Options) error {
	if len(segments) == 0 {
		return &TranscriptionError{Reason: "engine produced no segments"}
	}

	if !opts.Diarization {
		return nil
	}

	speakers := make(map[string]struct{})
	for _, seg := range segments {
		if seg.Speaker != "" {
			speakers[seg.Speaker] = struct{}{}
		}
	}
	n := len(speakers)
	if n < opts.MinSpeakers || n > opts.MaxSpeakers {
		return &TranscriptionError{
			Reason: fmt.Sprintf("diarization labeled %d speakers, expected between %d and %d",
				n, opts.MinSpeakers, opts.MaxSpeakers),
		}
	}
	return nil
}
