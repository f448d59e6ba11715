package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
//
// Jobs snapshot the parts of this they need at submission time, so the
// config is loaded once at startup. Hot reload would let a running job
// observe two different stage weightings, which breaks the monotonic
// progress contract.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Whisper    WhisperConfig    `mapstructure:"whisper"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Burnin     BurninConfig     `mapstructure:"burnin"`
	History    HistoryConfig    `mapstructure:"history"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig lists the working directories for job artifacts.
type StorageConfig struct {
	Uploads   string `mapstructure:"uploads"`   // raw uploaded media, one file per job
	Downloads string `mapstructure:"downloads"` // media fetched from remote URLs
	Results   string `mapstructure:"results"`   // exported artifacts, one directory per job
}

type WhisperConfig struct {
	// Binary is the whisperx CLI entry point.
	Binary string `mapstructure:"binary"`
	// DefaultModel is used when a submission does not name a model.
	DefaultModel string `mapstructure:"default_model"`
	Device       string `mapstructure:"device"`
	ComputeType  string `mapstructure:"compute_type"`
	// Language: source language hint ("auto" for auto-detect)
	Language string `mapstructure:"language"`
	HFToken  string `mapstructure:"hf_token"`
	// SpeedFactors maps a model identifier to its relative processing cost:
	// estimated processing time = media duration x factor. Heuristic only.
	SpeedFactors map[string]float64 `mapstructure:"speed_factors"`
	// DefaultSpeedFactor applies to models missing from SpeedFactors.
	DefaultSpeedFactor float64 `mapstructure:"default_speed_factor"`
}

// PipelineConfig carries the per-stage progress weights. They must sum
// to 1.0; Align and Diarize are dropped (and the rest renormalized) when
// diarization is disabled for a job.
type PipelineConfig struct {
	Weights StageWeights `mapstructure:"weights"`
	// ProgressIntervalMs is how often in-flight stage progress is pushed
	// into the job record.
	ProgressIntervalMs int `mapstructure:"progress_interval_ms"`
}

type StageWeights struct {
	Ingest     float64 `mapstructure:"ingest"`
	Transcribe float64 `mapstructure:"transcribe"`
	Align      float64 `mapstructure:"align"`
	Diarize    float64 `mapstructure:"diarize"`
	Export     float64 `mapstructure:"export"`
	Finalize   float64 `mapstructure:"finalize"`
}

// Sum returns the total weight including the optional diarization stages.
func (w StageWeights) Sum() float64 {
	return w.Ingest + w.Transcribe + w.Align + w.Diarize + w.Export + w.Finalize
}

type WorkerConfig struct {
	// PoolSize bounds how many job pipelines run concurrently.
	PoolSize int `mapstructure:"pool_size"`
	// DeviceTokens bounds concurrent transcription engine invocations
	// (one per accelerator; a single shared GPU means 1).
	DeviceTokens int `mapstructure:"device_tokens"`
}

type DownloaderConfig struct {
	// YtdlpBinary is the external downloader for video-site URLs.
	YtdlpBinary string `mapstructure:"ytdlp_binary"`
	// FFmpegBinary and FFprobeBinary are used by ingest to transcode and
	// probe acquired media.
	FFmpegBinary  string `mapstructure:"ffmpeg_binary"`
	FFprobeBinary string `mapstructure:"ffprobe_binary"`
	// MaxRetries bounds retries of transient network failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelayMs is the base backoff between retries, doubled per attempt.
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
	// RateLimitRPM throttles outbound download launches (0 = no limit).
	RateLimitRPM int `mapstructure:"rate_limit_rpm"`
	// AssumedBitrateKbps is used to estimate duration from file size when
	// no probe result or hint is available.
	AssumedBitrateKbps int `mapstructure:"assumed_bitrate_kbps"`
	// MinFreeGB is the disk-space floor checked before heavy stages.
	MinFreeGB float64 `mapstructure:"min_free_gb"`
}

type BurninConfig struct {
	FFmpegBinary string `mapstructure:"ffmpeg_binary"`
	// Preset and CRF are passed straight to the encoder.
	Preset string `mapstructure:"preset"`
	CRF    int    `mapstructure:"crf"`
}

type HistoryConfig struct {
	Path                 string `mapstructure:"path"`
	RetentionDays        int    `mapstructure:"retention_days"`
	CleanupIntervalHours int    `mapstructure:"cleanup_interval_hours"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8095)

	v.SetDefault("storage.uploads", "data/uploads")
	v.SetDefault("storage.downloads", "data/downloads")
	v.SetDefault("storage.results", "data/results")

	v.SetDefault("whisper.binary", "whisperx")
	v.SetDefault("whisper.default_model", "large-v2")
	v.SetDefault("whisper.device", "cpu")
	v.SetDefault("whisper.compute_type", "float32")
	v.SetDefault("whisper.language", "auto")
	v.SetDefault("whisper.hf_token", "")
	v.SetDefault("whisper.default_speed_factor", 1.0)
	v.SetDefault("whisper.speed_factors", map[string]float64{
		"tiny":     0.10,
		"base":     0.15,
		"small":    0.30,
		"medium":   0.60,
		"large-v2": 1.00,
		"large-v3": 1.00,
	})

	v.SetDefault("pipeline.weights.ingest", 0.10)
	v.SetDefault("pipeline.weights.transcribe", 0.60)
	v.SetDefault("pipeline.weights.align", 0.05)
	v.SetDefault("pipeline.weights.diarize", 0.10)
	v.SetDefault("pipeline.weights.export", 0.10)
	v.SetDefault("pipeline.weights.finalize", 0.05)
	v.SetDefault("pipeline.progress_interval_ms", 1000)

	v.SetDefault("worker.pool_size", 2)
	v.SetDefault("worker.device_tokens", 1)

	v.SetDefault("downloader.ytdlp_binary", "yt-dlp")
	v.SetDefault("downloader.ffmpeg_binary", "ffmpeg")
	v.SetDefault("downloader.ffprobe_binary", "ffprobe")
	v.SetDefault("downloader.max_retries", 3)
	v.SetDefault("downloader.retry_delay_ms", 2000)
	v.SetDefault("downloader.rate_limit_rpm", 0)
	v.SetDefault("downloader.assumed_bitrate_kbps", 1024)
	v.SetDefault("downloader.min_free_gb", 2.0)

	v.SetDefault("burnin.ffmpeg_binary", "ffmpeg")
	v.SetDefault("burnin.preset", "medium")
	v.SetDefault("burnin.crf", 20)

	v.SetDefault("history.path", "data/history.db")
	v.SetDefault("history.retention_days", 7)
	v.SetDefault("history.cleanup_interval_hours", 6)
}

// Load reads the config file at path (optional — defaults plus environment
// are enough to run) and applies WHISPER_GUI_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WHISPER_GUI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("worker.pool_size must be >= 1, got %d", c.Worker.PoolSize)
	}
	if c.Worker.DeviceTokens < 1 {
		return fmt.Errorf("worker.device_tokens must be >= 1, got %d", c.Worker.DeviceTokens)
	}
	if sum := c.Pipeline.Weights.Sum(); sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("pipeline.weights must sum to 1.0, got %.3f", sum)
	}
	if c.Whisper.DefaultSpeedFactor <= 0 {
		return fmt.Errorf("whisper.default_speed_factor must be positive")
	}
	if c.Downloader.MaxRetries < 0 {
		return fmt.Errorf("downloader.max_retries must be >= 0")
	}
	return nil
}
