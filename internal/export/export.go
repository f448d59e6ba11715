// Package export serializes final transcript segments into the subtitle
// artifacts clients download: SRT, WebVTT and a structured JSON document.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/transcribe"
)

// ExportError indicates an internal encoding inconsistency, which means an
// upstream contract violation by the transcription adapter. Fatal.
type ExportError struct {
	Reason string
}

func (e *ExportError) Error() string { return "export: " + e.Reason }

// Document is the structured JSON artifact. Highlight styling rides here
// for the burn-in renderer; the plain subtitle formats stay unstyled.
type Document struct {
	DurationSeconds float64              `json:"duration_seconds"`
	Diarization     bool                 `json:"diarization"`
	Highlight       job.HighlightStyle   `json:"highlight"`
	Segments        []transcribe.Segment `json:"segments"`
}

// Artifacts holds the written file paths.
type Artifacts struct {
	SRT  string
	VTT  string
	JSON string
}

// WriteAll validates the segments and writes all three artifacts into dir,
// creating it if needed.
func WriteAll(dir string, doc Document) (Artifacts, error) {
	if err := Validate(doc.Segments); err != nil {
		return Artifacts{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create results dir: %w", err)
	}

	a := Artifacts{
		SRT:  filepath.Join(dir, "transcript.srt"),
		VTT:  filepath.Join(dir, "transcript.vtt"),
		JSON: filepath.Join(dir, "transcript.json"),
	}

	if err := writeFile(a.SRT, func(w io.Writer) error { return WriteSRT(w, doc.Segments) }); err != nil {
		return Artifacts{}, err
	}
	if err := writeFile(a.VTT, func(w io.Writer) error { return WriteVTT(w, doc.Segments) }); err != nil {
		return Artifacts{}, err
	}
	if err := writeFile(a.JSON, func(w io.Writer) error { return WriteJSON(w, doc) }); err != nil {
		return Artifacts{}, err
	}
	return a, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := write(f); err != nil {
		return err
	}
	return f.Close()
}

// Validate checks segment timestamps for internal consistency: every
// segment must have start <= end and segments must not move backwards.
func Validate(segments []transcribe.Segment) error {
	prev := 0.0
	for i, seg := range segments {
		if seg.Start < 0 || seg.End < seg.Start {
			return &ExportError{Reason: fmt.Sprintf("segment %d has inconsistent timestamps [%.3f, %.3f]", i, seg.Start, seg.End)}
		}
		if seg.Start < prev {
			return &ExportError{Reason: fmt.Sprintf("segment %d starts at %.3f, before previous segment's %.3f", i, seg.Start, prev)}
		}
		prev = seg.Start
	}
	return nil
}

// WriteSRT writes numbered, text-only SRT cues with HH:MM:SS,mmm stamps.
func WriteSRT(w io.Writer, segments []transcribe.Segment) error {
	for i, seg := range segments {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(seg.Start, ','),
			FormatTimestamp(seg.End, ','),
			cueText(seg),
		)
		if err != nil {
			return fmt.Errorf("write srt: %w", err)
		}
	}
	return nil
}

// WriteVTT writes a WEBVTT file with HH:MM:SS.mmm stamps.
func WriteVTT(w io.Writer, segments []transcribe.Segment) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return fmt.Errorf("write vtt: %w", err)
	}
	for _, seg := range segments {
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			FormatTimestamp(seg.Start, '.'),
			FormatTimestamp(seg.End, '.'),
			cueText(seg),
		)
		if err != nil {
			return fmt.Errorf("write vtt: %w", err)
		}
	}
	return nil
}

// WriteJSON writes the structured document.
func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// ReadDocument loads a previously exported JSON artifact; the burn-in
// renderer consumes segments and styling from here.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func cueText(seg transcribe.Segment) string {
	text := strings.TrimSpace(seg.Text)
	if seg.Speaker != "" {
		return "[" + seg.Speaker + "] " + text
	}
	return text
}

// FormatTimestamp renders seconds as HH:MM:SS<sep>mmm. SRT uses a comma
// separator, WebVTT a period.
func FormatTimestamp(seconds float64, sep byte) string {
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// ParseTimestamp is the inverse of FormatTimestamp, accepting either
// separator.
func ParseTimestamp(stamp string) (float64, error) {
	normalized := strings.Replace(stamp, ",", ".", 1)
	parts := strings.SplitN(normalized, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", stamp)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", stamp)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", stamp)
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", stamp)
	}
	return float64(h)*3600 + float64(m)*60 + s, nil
}
