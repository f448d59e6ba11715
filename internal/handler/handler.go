// Package handler exposes the HTTP surface: job submission, polling,
// cancellation, burn-in, artifact download, and a few read-only
// service endpoints. Non-2xx responses carry a plain-text body.
package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ilyanovopashin/whisper-gui/internal/burnin"
	"github.com/ilyanovopashin/whisper-gui/internal/history"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/media"
	"github.com/ilyanovopashin/whisper-gui/internal/progress"
	"github.com/ilyanovopashin/whisper-gui/internal/version"
	"github.com/ilyanovopashin/whisper-gui/internal/worker"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

// Handler handles HTTP requests.
type Handler struct {
	store        *job.Store
	pool         *worker.Pool
	burner       *burnin.Runner
	history      *history.Repository
	estimator    *progress.Estimator
	uploadsDir   string
	defaultModel string
}

// New creates a new Handler. history may be nil when persistence is
// disabled.
func New(store *job.Store, pool *worker.Pool, burner *burnin.Runner, hist *history.Repository, estimator *progress.Estimator, uploadsDir, defaultModel string) *Handler {
	return &Handler{
		store:        store,
		pool:         pool,
		burner:       burner,
		history:      hist,
		estimator:    estimator,
		uploadsDir:   uploadsDir,
		defaultModel: defaultModel,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/version", h.Version)
		api.GET("/models", h.Models)
		api.GET("/history", h.History)

		api.POST("/transcribe", h.TranscribeUpload)
		api.POST("/transcribe/youtube", h.TranscribeRemote)
	}

	jobs := r.Group("/jobs")
	{
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/cancel", h.CancelJob)
		jobs.POST("/:id/burn", h.BurnJob)
		jobs.GET("/:id/artifacts/:name", h.GetArtifact)
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Version returns service version.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": version.Version})
}

// Models lists known transcription models with their speed factors.
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": h.defaultModel,
		"models":  h.estimator.Models(),
	})
}

// History returns recently finished jobs, newest first.
func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []history.Entry{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.history.Recent(limit)
	if err != nil {
		logger.Errorf("❌ History query failed: %v", err)
		c.String(http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": entries})
}

// TranscribeUpload accepts a multipart media upload and queues a job.
func (h *Handler) TranscribeUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, "file is required")
		return
	}

	cfg, err := h.parseConfig(c.PostForm)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	// Persist the upload before any job record exists.
	path, err := h.saveUpload(c, file)
	if err != nil {
		logger.Errorf("❌ Could not store upload %s: %v", file.Filename, err)
		c.String(http.StatusInternalServerError, "could not store uploaded file")
		return
	}

	created := h.store.Create(cfg)
	_ = h.store.SetSourcePath(created.ID, path)

	logger.Infof("📥 Upload accepted: %s (job %s, model %s)", file.Filename, created.ID, cfg.Model)
	h.pool.Submit(created.ID, media.Descriptor{UploadPath: path})
	c.JSON(http.StatusAccepted, gin.H{"id": created.ID})
}

// RemoteRequest is the body of POST /api/transcribe/youtube.
type RemoteRequest struct {
	URL              string  `json:"url" binding:"required"`
	Model            string  `json:"model"`
	Diarization      bool    `json:"diarization"`
	MinSpeakers      int     `json:"min_speakers"`
	MaxSpeakers      int     `json:"max_speakers"`
	HighlightWords   bool    `json:"highlight_words"`
	HighlightColor   string  `json:"highlight_color"`
	HighlightOffset  float64 `json:"highlight_offset"`
	HighlightPadding float64 `json:"highlight_padding"`
	// DurationMinutes is an optional hint used for ETA before the real
	// duration is probed.
	DurationMinutes float64 `json:"duration_minutes"`
}

// TranscribeRemote queues a job for a remote media URL.
func (h *Handler) TranscribeRemote(c *gin.Context) {
	var req RemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.String(http.StatusBadRequest, "url must be http(s)")
		return
	}

	cfg := job.Config{
		Model:       req.Model,
		Diarization: req.Diarization,
		MinSpeakers: req.MinSpeakers,
		MaxSpeakers: req.MaxSpeakers,
		Highlight: job.HighlightStyle{
			Enabled:        req.HighlightWords,
			Color:          req.HighlightColor,
			OffsetSeconds:  req.HighlightOffset,
			PaddingSeconds: req.HighlightPadding,
		},
	}
	if cfg.Model == "" {
		cfg.Model = h.defaultModel
	}
	if err := cfg.Validate(); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	created := h.store.Create(cfg)
	logger.Infof("📥 Remote job accepted: %s (job %s, model %s)", req.URL, created.ID, cfg.Model)
	h.pool.Submit(created.ID, media.Descriptor{
		URL:                 req.URL,
		DurationHintSeconds: req.DurationMinutes * 60,
	})
	c.JSON(http.StatusAccepted, gin.H{"id": created.ID})
}

// jobResponse is the poll payload: the store snapshot plus queue position
// and artifact links.
type jobResponse struct {
	job.Job
	QueuePosition int               `json:"queue_position,omitempty"`
	Artifacts     map[string]string `json:"artifacts,omitempty"`
}

// GetJob returns the current snapshot of one job.
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	snap, err := h.store.Get(id)
	if err != nil {
		c.String(http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{Job: snap}
	if snap.Status == job.StatusQueued {
		resp.QueuePosition = h.pool.QueuePosition(id)
	}
	if snap.Results != nil {
		resp.Artifacts = map[string]string{
			"srt":  artifactLink(id, "srt"),
			"vtt":  artifactLink(id, "vtt"),
			"json": artifactLink(id, "json"),
		}
		if snap.Burn.State == job.BurnDone {
			resp.Artifacts["burned"] = artifactLink(id, "burned")
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CancelJob requests cancellation. Idempotent: cancelling a terminal job
// reports its current status unchanged.
func (h *Handler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	status, err := h.pool.Cancel(id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.String(http.StatusNotFound, "job not found")
			return
		}
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	logger.Infof("🛑 Cancellation requested for job %s (was %s)", id, status)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": status})
}

// BurnJob starts a subtitle burn-in task for a succeeded job.
func (h *Handler) BurnJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.burner.Start(id); err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			c.String(http.StatusNotFound, "job not found")
		case errors.Is(err, job.ErrBurnUnavailable):
			c.String(http.StatusConflict, err.Error())
		default:
			c.String(http.StatusInternalServerError, err.Error())
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "burn": job.BurnRunning})
}

// GetArtifact streams one produced artifact (srt, vtt, json, burned).
func (h *Handler) GetArtifact(c *gin.Context) {
	id := c.Param("id")
	name := c.Param("name")

	snap, err := h.store.Get(id)
	if err != nil {
		c.String(http.StatusNotFound, "job not found")
		return
	}

	var path string
	switch name {
	case "srt", "vtt", "json":
		if snap.Results == nil {
			c.String(http.StatusConflict, "job has no results yet")
			return
		}
		switch name {
		case "srt":
			path = snap.Results.SRT
		case "vtt":
			path = snap.Results.VTT
		case "json":
			path = snap.Results.JSON
		}
	case "burned":
		if snap.Burn.State != job.BurnDone {
			c.String(http.StatusConflict, "no burned video available")
			return
		}
		path = snap.Burn.Output
	default:
		c.String(http.StatusNotFound, "unknown artifact: "+name)
		return
	}

	if _, err := os.Stat(path); err != nil {
		c.String(http.StatusNotFound, "artifact missing on disk")
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// parseConfig builds a job config from form fields, applying defaults.
func (h *Handler) parseConfig(field func(string) string) (job.Config, error) {
	cfg := job.Config{
		Model:       field("model"),
		Diarization: parseBool(field("diarization")),
		Highlight: job.HighlightStyle{
			Enabled: parseBool(field("highlight_words")),
			Color:   field("highlight_color"),
		},
	}
	if cfg.Model == "" {
		cfg.Model = h.defaultModel
	}

	var err error
	if cfg.MinSpeakers, err = parseIntField(field("min_speakers")); err != nil {
		return job.Config{}, fmt.Errorf("min_speakers: %w", err)
	}
	if cfg.MaxSpeakers, err = parseIntField(field("max_speakers")); err != nil {
		return job.Config{}, fmt.Errorf("max_speakers: %w", err)
	}
	if cfg.Highlight.OffsetSeconds, err = parseFloatField(field("highlight_offset")); err != nil {
		return job.Config{}, fmt.Errorf("highlight_offset: %w", err)
	}
	if cfg.Highlight.PaddingSeconds, err = parseFloatField(field("highlight_padding")); err != nil {
		return job.Config{}, fmt.Errorf("highlight_padding: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return job.Config{}, err
	}
	return cfg, nil
}

func (h *Handler) saveUpload(c *gin.Context, file *multipart.FileHeader) (string, error) {
	dir := filepath.Join(h.uploadsDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dst, nil
}

func artifactLink(id, name string) string {
	return fmt.Sprintf("/jobs/%s/artifacts/%s", id, name)
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}

func parseIntField(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseFloatField(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
