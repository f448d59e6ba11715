package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilyanovopashin/whisper-gui/internal/burnin"
	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/internal/fileops"
	"github.com/ilyanovopashin/whisper-gui/internal/handler"
	"github.com/ilyanovopashin/whisper-gui/internal/history"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/media"
	"github.com/ilyanovopashin/whisper-gui/internal/pipeline"
	"github.com/ilyanovopashin/whisper-gui/internal/preflight"
	"github.com/ilyanovopashin/whisper-gui/internal/progress"
	"github.com/ilyanovopashin/whisper-gui/internal/retention"
	"github.com/ilyanovopashin/whisper-gui/internal/transcribe"
	"github.com/ilyanovopashin/whisper-gui/internal/version"
	"github.com/ilyanovopashin/whisper-gui/internal/worker"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

func main() {
	// Initialize logger
	isDev := os.Getenv("ENV") != "production"
	logger.Init(isDev)
	defer logger.Sync()

	version.PrintBanner(nil)

	// Load configuration (defaults + env overrides when no file is given)
	configPath := os.Getenv("CONFIG_PATH")
	if configPath != "" {
		logger.Infof("📁 Loading config: %s", configPath)
	} else {
		logger.Info("📁 No CONFIG_PATH set, using defaults and WHISPER_GUI_* env")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("❌ Config error: %v", err)
	}

	// Ensure required directories exist
	if err := ensureDirectories(cfg.Storage); err != nil {
		logger.Fatalf("❌ Directory setup error: %v", err)
	}

	// External binaries must be resolvable before any job is accepted.
	if err := preflight.CheckBinaries([]preflight.Requirement{
		{Binary: cfg.Whisper.Binary, Hint: "install whisperx (pip install whisperx)"},
		{Binary: cfg.Downloader.FFmpegBinary, Hint: "install ffmpeg"},
		{Binary: cfg.Downloader.FFprobeBinary, Hint: "install ffmpeg (provides ffprobe)"},
	}); err != nil {
		logger.Fatalf("❌ %v", err)
	}
	if err := preflight.CheckDiskSpace(cfg.Storage.Results, cfg.Downloader.MinFreeGB); err != nil {
		logger.Fatalf("❌ %v", err)
	}

	// Job store and history
	store := job.NewStore(30)

	var hist *history.Repository
	if cfg.History.Path != "" {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Fatalf("❌ History error: %v", err)
		}
		defer hist.Close()

		store.OnTerminal(func(j job.Job) {
			if err := hist.Record(j); err != nil {
				logger.Warnf("⚠️ Could not record job %s in history: %v", j.ID, err)
			}
		})
	} else {
		logger.Info("📜 History: disabled")
	}

	// Pipeline wiring
	estimator := progress.NewEstimator(cfg.Pipeline.Weights, cfg.Whisper.SpeedFactors, cfg.Whisper.DefaultSpeedFactor)
	resolver := media.NewResolver(cfg.Downloader, cfg.Storage.Downloads)
	engine := transcribe.NewWhisperX(cfg.Whisper)

	orch := pipeline.New(
		store,
		resolver,
		engine,
		estimator,
		cfg.Storage.Results,
		int64(cfg.Worker.DeviceTokens),
		time.Duration(cfg.Pipeline.ProgressIntervalMs)*time.Millisecond,
	)

	pool := worker.NewPool(store, orch, cfg.Worker.PoolSize)
	pool.Start()
	defer pool.Stop()

	burner := burnin.NewRunner(store, burnin.NewRenderer(cfg.Burnin), cfg.Downloader.MinFreeGB)
	defer burner.Stop()

	// Retention loop: expired terminal jobs lose their media, artifacts,
	// store record and history rows.
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	defer stopRetention()
	if cfg.History.RetentionDays > 0 {
		janitor := retention.NewJanitor(store, hist,
			cfg.Storage.Downloads, cfg.Storage.Results,
			time.Duration(cfg.History.RetentionDays)*24*time.Hour,
		)
		janitor.Start(retentionCtx, time.Duration(cfg.History.CleanupIntervalHours)*time.Hour)
	}

	// Initialize HTTP server
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	h := handler.New(store, pool, burner, hist, estimator, cfg.Storage.Uploads, cfg.Whisper.DefaultModel)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // large media uploads
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	logger.Info("")
	logger.Infof("🎤 Engine: %s (default model: %s, device: %s)", cfg.Whisper.Binary, cfg.Whisper.DefaultModel, cfg.Whisper.Device)
	logger.Infof("👷 Workers: %d (device tokens: %d)", cfg.Worker.PoolSize, cfg.Worker.DeviceTokens)
	logger.Info("")
	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Infof("   POST /api/transcribe          - Upload media for transcription")
	logger.Infof("   POST /api/transcribe/youtube  - Transcribe a remote URL")
	logger.Infof("   GET  /jobs/:id                - Poll job status")
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready! Waiting for transcription jobs...")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("")
	logger.Info("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	logger.Info("👋 Goodbye!")
}

func ensureDirectories(storage config.StorageConfig) error {
	dirs := []string{
		storage.Uploads,
		storage.Downloads,
		storage.Results,
	}

	for _, dir := range dirs {
		if err := fileops.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if path != "/api/health" || status >= 400 {
			latency := time.Since(start)
			logger.Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
