package media

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// probeResult mirrors the relevant parts of ffprobe's JSON output.
type probeResult struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (r *Resolver) probe(ctx context.Context, path string) (probeResult, error) {
	stdout, stderr, err := r.runCommand(ctx, r.cfg.FFprobeBinary,
		"-v", "error", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return probeResult{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr))
	}

	var result probeResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return probeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// probeDuration returns the container duration in seconds, or an error
// when ffprobe is unavailable or the file carries no duration.
func (r *Resolver) probeDuration(ctx context.Context, path string) (float64, error) {
	result, err := r.probe(ctx, path)
	if err != nil {
		return 0, err
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("no duration in probe result")
	}
	return dur, nil
}

// PrepareAudio ensures the engine receives mono 16kHz PCM WAV. Media
// already in that shape passes through untouched; everything else is
// transcoded next to the source file.
func (r *Resolver) PrepareAudio(ctx context.Context, sourcePath string) (string, error) {
	if r.isEngineReady(ctx, sourcePath) {
		return sourcePath, nil
	}

	prepared := strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".prepared.wav"
	logger.Debugf("🎚️ Transcoding %s for the engine", filepath.Base(sourcePath))

	_, stderr, err := r.runCommand(ctx, r.cfg.FFmpegBinary,
		"-y", "-i", sourcePath, "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", prepared)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &AcquisitionError{Reason: "audio transcode failed", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))}
	}
	return prepared, nil
}

func (r *Resolver) isEngineReady(ctx context.Context, path string) bool {
	result, err := r.probe(ctx, path)
	if err != nil {
		return false
	}
	for _, stream := range result.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		rate, _ := strconv.Atoi(stream.SampleRate)
		return stream.CodecName == "pcm_s16le" && rate == 16000 && stream.Channels == 1
	}
	return false
}
