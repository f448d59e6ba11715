// Package burnin re-encodes source media with subtitles rendered into the
// pixel stream, honoring the job's word-highlight styling. It runs as a
// job-scoped burn task after the job itself already succeeded.
package burnin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/internal/export"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// Renderer wraps the external video encoder.
type Renderer struct {
	cfg config.BurninConfig

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, name string, args ...string) (string, string, error)
}

func NewRenderer(cfg config.BurninConfig) *Renderer {
	return &Renderer{
		cfg: cfg,
		runCommand: func(ctx context.Context, name string, args ...string) (string, string, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			err := cmd.Run()
			return stdout.String(), stderr.String(), err
		},
	}
}

// Render produces outPath from sourcePath with the document's subtitles
// burned in.
func (r *Renderer) Render(ctx context.Context, sourcePath string, doc export.Document, outPath string) error {
	if len(doc.Segments) == 0 {
		return fmt.Errorf("burn-in: no segments to render")
	}

	script := buildASS(doc.Segments, doc.Highlight)
	assPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".ass"
	if err := os.WriteFile(assPath, []byte(script), 0o644); err != nil {
		return fmt.Errorf("burn-in: write subtitle script: %w", err)
	}
	defer os.Remove(assPath)

	args := []string{
		"-y",
		"-i", sourcePath,
		"-vf", "ass=" + assPath,
		"-c:v", "libx264",
		"-preset", r.cfg.Preset,
		"-crf", strconv.Itoa(r.cfg.CRF),
		"-c:a", "copy",
		outPath,
	}

	logger.Infof("🔥 Burning subtitles into %s", filepath.Base(sourcePath))
	logger.Debugf("  Command: %s %s", r.cfg.FFmpegBinary, strings.Join(args, " "))

	if _, stderr, err := r.runCommand(ctx, r.cfg.FFmpegBinary, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("burn-in: encoder failed: %w: %s", err, tail(stderr))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("burn-in: encoder produced no output")
	}

	logger.Infof("✅ Burn-in complete: %s", filepath.Base(outPath))
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, " | ")
}
