package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// WhisperX runs the whisperx CLI as a subprocess and parses its JSON
// output. One invocation covers transcription, alignment and (optionally)
// diarization; phase markers in the process output drive OnPhase.
type WhisperX struct {
	cfg config.WhisperConfig
}

func NewWhisperX(cfg config.WhisperConfig) *WhisperX {
	return &WhisperX{cfg: cfg}
}

// output line prefixes whisperx prints when crossing internal phases.
var phaseMarkers = []struct {
	marker string
	phase  Phase
}{
	{"Performing transcription", PhaseTranscribe},
	{"Performing alignment", PhaseAlign},
	{"Performing diarization", PhaseDiarize},
}

func (w *WhisperX) Transcribe(ctx context.Context, mediaPath string, opts Options) ([]Segment, error) {
	outputDir, err := os.MkdirTemp("", "whisperx-")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := w.buildArgs(mediaPath, outputDir, opts)
	logger.Infof("🎤 Transcribing: %s (model=%s diarize=%v)", filepath.Base(mediaPath), opts.Model, opts.Diarization)
	logger.Debugf("  Command: %s %s", w.cfg.Binary, strings.Join(redactArgs(args), " "))

	cmd := exec.CommandContext(ctx, w.cfg.Binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go w.scanOutput(&wg, stdoutPipe, &stdoutBuf, opts)
	go w.scanOutput(&wg, stderrPipe, &stderrBuf, opts)

	if err := cmd.Start(); err != nil {
		return nil, &TranscriptionError{Reason: "engine failed to start", Err: err}
	}

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		// Cancellation surfaces as the context error so the orchestrator
		// distinguishes it from a real engine failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyEngineError(err, stderrBuf.String())
	}

	stderrStr := stderrBuf.String()
	if strings.Contains(stderrStr, "Traceback") {
		return nil, classifyEngineError(fmt.Errorf("engine reported errors"), stderrStr)
	}

	segments, err := readSegments(outputDir, mediaPath)
	if err != nil {
		return nil, err
	}
	if err := ValidateSegments(segments, opts); err != nil {
		return nil, err
	}

	logger.Infof("✅ Transcription complete: %d segments", len(segments))
	return segments, nil
}

func (w *WhisperX) buildArgs(mediaPath, outputDir string, opts Options) []string {
	model := opts.Model
	if model == "" {
		model = w.cfg.DefaultModel
	}

	args := []string{
		mediaPath,
		"--model", model,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--device", w.cfg.Device,
		"--compute_type", w.cfg.ComputeType,
	}
	if w.cfg.Language != "" && w.cfg.Language != "auto" {
		args = append(args, "--language", w.cfg.Language)
	}
	if opts.Diarization {
		args = append(args,
			"--diarize",
			"--min_speakers", strconv.Itoa(opts.MinSpeakers),
			"--max_speakers", strconv.Itoa(opts.MaxSpeakers),
		)
		if w.cfg.HFToken != "" {
			args = append(args, "--hf_token", w.cfg.HFToken)
		}
	}
	return args
}

// redactArgs masks the secret following --hf_token so tokens never land
// in logs.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--hf_token" {
			out[i+1] = "***"
		}
	}
	return out
}

// scanOutput captures process output while watching for phase markers.
func (w *WhisperX) scanOutput(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer, opts Options) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')

		for _, m := range phaseMarkers {
			if strings.Contains(line, m.marker) {
				if opts.OnPhase != nil {
					opts.OnPhase(m.phase)
				}
				if opts.OnLog != nil {
					opts.OnLog(line)
				}
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debugf("engine output scanner: %v", err)
	}
}

func classifyEngineError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "out of memory"), strings.Contains(lower, "cuda error"):
		return &TranscriptionError{Reason: "device resource exhaustion", Err: fmt.Errorf("%w: %s", err, tail(stderr))}
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"):
		return &TranscriptionError{Reason: "model access rejected (check hf_token)", Err: err}
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "model"):
		return &TranscriptionError{Reason: "model load failure", Err: fmt.Errorf("%w: %s", err, tail(stderr))}
	default:
		return &TranscriptionError{Reason: "engine exited abnormally", Err: fmt.Errorf("%w: %s", err, tail(stderr))}
	}
}

// tail keeps error messages readable when the engine dumps long tracebacks.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}

// whisperxDocument mirrors the JSON file whisperx writes.
type whisperxDocument struct {
	Segments []Segment `json:"segments"`
}

func readSegments(outputDir, mediaPath string) ([]Segment, error) {
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	jsonPath := filepath.Join(outputDir, base+".json")

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, &TranscriptionError{Reason: "engine produced no output file", Err: err}
	}

	var doc whisperxDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &TranscriptionError{Reason: "malformed engine output", Err: err}
	}
	return doc.Segments, nil
}
