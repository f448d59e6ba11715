// Package media normalizes an input descriptor — an uploaded file or a
// remote video URL — into a local playable media file with a known or
// estimated duration.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/internal/preflight"
)

// AcquisitionError covers unreachable URLs, unavailable external tools and
// downloads that produce no usable media stream. Fatal to the job apart
// from the bounded transient-network retry inside the download step.
type AcquisitionError struct {
	Reason string
	Err    error

	// transient marks failures worth retrying (network hiccups), as
	// opposed to invalid URLs or unsupported content.
	transient bool
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquisition: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("acquisition: %s", e.Reason)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Descriptor is the normalized submission input: exactly one of UploadPath
// or URL is set.
type Descriptor struct {
	// UploadPath is a media file already saved from a multipart upload.
	UploadPath string
	// URL is a remote video location handed to the external downloader.
	URL string
	// DurationHintSeconds, when positive, seeds the ETA estimate before
	// any probe has run.
	DurationHintSeconds float64
}

// Source is the resolver's output.
type Source struct {
	Path            string
	DurationSeconds float64
	// Estimated marks the duration as a coarse size-based guess used only
	// for ETA, not for display of final truth.
	Estimated bool
}

// Resolver acquires media and estimates its duration.
type Resolver struct {
	cfg         config.DownloaderConfig
	downloadDir string
	http        *resty.Client
	limiter     *rate.Limiter

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, name string, args ...string) (string, string, error)
}

// directMediaExts are URL suffixes fetched over plain HTTP instead of the
// external downloader.
var directMediaExts = map[string]struct{}{
	".mp3": {}, ".mp4": {}, ".wav": {}, ".m4a": {}, ".flac": {},
	".ogg": {}, ".opus": {}, ".webm": {}, ".mkv": {}, ".mov": {},
}

func NewResolver(cfg config.DownloaderConfig, downloadDir string) *Resolver {
	client := resty.New().
		SetTimeout(30 * time.Minute).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryDelayMs) * time.Millisecond)

	var limiter *rate.Limiter
	if cfg.RateLimitRPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), 1)
	}

	return &Resolver{
		cfg:         cfg,
		downloadDir: downloadDir,
		http:        client,
		limiter:     limiter,
		runCommand:  runCommand,
	}
}

// Resolve produces a local media path plus a best-effort duration. logf
// feeds the job log.
func (r *Resolver) Resolve(ctx context.Context, jobID string, desc Descriptor, logf func(string)) (Source, error) {
	switch {
	case desc.UploadPath != "":
		return r.resolveUpload(ctx, desc)
	case desc.URL != "":
		return r.resolveRemote(ctx, jobID, desc, logf)
	default:
		return Source{}, &AcquisitionError{Reason: "no media source provided"}
	}
}

func (r *Resolver) resolveUpload(ctx context.Context, desc Descriptor) (Source, error) {
	info, err := os.Stat(desc.UploadPath)
	if err != nil {
		return Source{}, &AcquisitionError{Reason: "uploaded file missing", Err: err}
	}

	// Ingest may transcode the upload to uncompressed PCM next to the
	// source, so the upload path needs headroom too.
	if err := preflight.CheckDiskSpace(filepath.Dir(desc.UploadPath), r.cfg.MinFreeGB); err != nil {
		return Source{}, err
	}

	src := Source{Path: desc.UploadPath}
	if dur, probeErr := r.probeDuration(ctx, desc.UploadPath); probeErr == nil && dur > 0 {
		src.DurationSeconds = dur
		return src, nil
	}

	src.DurationSeconds = r.EstimateDurationFromSize(info.Size())
	src.Estimated = true
	return src, nil
}

func (r *Resolver) resolveRemote(ctx context.Context, jobID string, desc Descriptor, logf func(string)) (Source, error) {
	if err := preflight.CheckDiskSpace(r.downloadDir, r.cfg.MinFreeGB); err != nil {
		return Source{}, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Source{}, err
		}
	}

	dest := filepath.Join(r.downloadDir, jobID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return Source{}, fmt.Errorf("create download dir: %w", err)
	}

	var (
		path string
		err  error
	)
	if isDirectMediaURL(desc.URL) {
		logf("Downloading media file from " + desc.URL)
		path, err = r.downloadDirect(ctx, dest, desc.URL)
	} else {
		logf("Fetching media via downloader from " + desc.URL)
		path, err = r.downloadWithYtdlp(ctx, dest, desc.URL)
	}
	if err != nil {
		return Source{}, err
	}
	logf("Download finished: " + filepath.Base(path))

	src := Source{Path: path}
	if dur, probeErr := r.probeDuration(ctx, path); probeErr == nil && dur > 0 {
		src.DurationSeconds = dur
		return src, nil
	}
	if desc.DurationHintSeconds > 0 {
		src.DurationSeconds = desc.DurationHintSeconds
		src.Estimated = true
		return src, nil
	}
	if info, statErr := os.Stat(path); statErr == nil {
		src.DurationSeconds = r.EstimateDurationFromSize(info.Size())
		src.Estimated = true
	}
	return src, nil
}

// downloadDirect fetches a plain media URL over HTTP. Transient failures
// are retried by the resty client with backoff.
func (r *Resolver) downloadDirect(ctx context.Context, dest, url string) (string, error) {
	name := filepath.Base(strings.SplitN(url, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "media"
	}
	outPath := filepath.Join(dest, name)

	resp, err := r.http.R().
		SetContext(ctx).
		SetOutput(outPath).
		Get(url)
	if err != nil {
		return "", &AcquisitionError{Reason: "download failed", Err: err}
	}
	if resp.StatusCode() >= 400 {
		return "", &AcquisitionError{Reason: fmt.Sprintf("download failed with HTTP %d", resp.StatusCode())}
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return "", &AcquisitionError{Reason: "download produced no usable media"}
	}
	return outPath, nil
}

// EstimateDurationFromSize turns a byte count into a coarse duration
// guess from the assumed bitrate: seconds = bits / (kbps * 1000).
func (r *Resolver) EstimateDurationFromSize(sizeBytes int64) float64 {
	kbps := r.cfg.AssumedBitrateKbps
	if kbps <= 0 {
		kbps = 1024
	}
	return float64(sizeBytes) * 8 / (float64(kbps) * 1000)
}

func isDirectMediaURL(url string) bool {
	trimmed := strings.SplitN(url, "?", 2)[0]
	ext := strings.ToLower(filepath.Ext(trimmed))
	_, ok := directMediaExts[ext]
	return ok
}
