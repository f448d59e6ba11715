package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// fatalDownloadMarkers identify downloader failures that retrying cannot
// fix: bad URLs and unsupported or removed content.
var fatalDownloadMarkers = []string{
	"Unsupported URL",
	"is not a valid URL",
	"Video unavailable",
	"Private video",
	"HTTP Error 404",
	"HTTP Error 403",
	"HTTP Error 410",
}

// downloadWithYtdlp invokes the external downloader, retrying transient
// network failures up to the configured bound with doubling backoff.
func (r *Resolver) downloadWithYtdlp(ctx context.Context, dest, url string) (string, error) {
	if _, err := exec.LookPath(r.cfg.YtdlpBinary); err != nil {
		return "", &AcquisitionError{Reason: "external downloader unavailable", Err: err}
	}

	delay := time.Duration(r.cfg.RetryDelayMs) * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warnf("⚠️ Download attempt %d/%d failed, retrying in %v: %v",
				attempt, r.cfg.MaxRetries, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay *= 2
		}

		path, err := r.runYtdlp(ctx, dest, url)
		if err == nil {
			return path, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) && !acqErr.transient {
			return "", err
		}
		lastErr = err
	}

	return "", &AcquisitionError{Reason: fmt.Sprintf("download failed after %d retries", r.cfg.MaxRetries), Err: lastErr}
}

func (r *Resolver) runYtdlp(ctx context.Context, dest, url string) (string, error) {
	args := []string{
		"--format", "bestaudio/best",
		"--no-playlist",
		"--output", filepath.Join(dest, "media.%(ext)s"),
		url,
	}

	logger.Debugf("  Command: %s %s", r.cfg.YtdlpBinary, strings.Join(args, " "))
	stdout, stderr, err := r.runCommand(ctx, r.cfg.YtdlpBinary, args...)
	if err != nil {
		for _, marker := range fatalDownloadMarkers {
			if strings.Contains(stderr, marker) || strings.Contains(stdout, marker) {
				return "", &AcquisitionError{Reason: "URL rejected by downloader: " + marker, Err: err}
			}
		}
		return "", &AcquisitionError{Reason: "downloader failed", Err: err, transient: true}
	}

	matches, _ := filepath.Glob(filepath.Join(dest, "media.*"))
	if len(matches) == 0 {
		return "", &AcquisitionError{Reason: "download produced no usable media"}
	}
	return matches[0], nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
