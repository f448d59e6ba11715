package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyanovopashin/whisper-gui/internal/burnin"
	"github.com/ilyanovopashin/whisper-gui/internal/config"
	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/media"
	"github.com/ilyanovopashin/whisper-gui/internal/progress"
	"github.com/ilyanovopashin/whisper-gui/internal/worker"
	"github.com/ilyanovopashin/whisper-gui/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(true)
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// instantExecutor finishes every job immediately with canned results.
type instantExecutor struct {
	store      *job.Store
	resultsDir string
}

func (e *instantExecutor) Execute(_ context.Context, jobID string, _ media.Descriptor) {
	if e.store.CancelRequested(jobID) {
		_ = e.store.Transition(jobID, job.StatusCancelled, nil, "")
		return
	}
	_ = e.store.Transition(jobID, job.StatusRunning, nil, "")

	dir := filepath.Join(e.resultsDir, jobID)
	_ = os.MkdirAll(dir, 0o755)
	results := job.Results{
		SRT:  filepath.Join(dir, "transcript.srt"),
		VTT:  filepath.Join(dir, "transcript.vtt"),
		JSON: filepath.Join(dir, "transcript.json"),
	}
	for _, p := range []string{results.SRT, results.VTT, results.JSON} {
		_ = os.WriteFile(p, []byte("artifact content"), 0o644)
	}
	_ = e.store.Transition(jobID, job.StatusSucceeded, &results, "")
}

type testEnv struct {
	store  *job.Store
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithUploads(t, t.TempDir())
}

func newTestEnvWithUploads(t *testing.T, uploadsDir string) *testEnv {
	t.Helper()

	store := job.NewStore(0)
	exec := &instantExecutor{store: store, resultsDir: t.TempDir()}
	pool := worker.NewPool(store, exec, 1)
	pool.Start()
	t.Cleanup(pool.Stop)

	burner := burnin.NewRunner(store, burnin.NewRenderer(config.BurninConfig{
		FFmpegBinary: "ffmpeg", Preset: "medium", CRF: 20,
	}), 0)
	t.Cleanup(burner.Stop)

	estimator := progress.NewEstimator(config.StageWeights{
		Ingest: 0.10, Transcribe: 0.60, Align: 0.05, Diarize: 0.10, Export: 0.10, Finalize: 0.05,
	}, map[string]float64{"base": 0.15, "large-v2": 1.0}, 1.0)

	h := New(store, pool, burner, nil, estimator, uploadsDir, "large-v2")
	router := gin.New()
	h.RegisterRoutes(router)

	return &testEnv{store: store, router: router}
}

func (env *testEnv) do(method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) waitForStatus(t *testing.T, id string, want job.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := env.store.Get(id)
		return err == nil && snap.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/version", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModels(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/models", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Default string             `json:"default"`
		Models  map[string]float64 `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "large-v2", resp.Default)
	assert.Contains(t, resp.Models, "base")
}

func TestHistoryWithoutRepository(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[]}`, rec.Body.String())
}

func TestTranscribeUploadLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "interview.mp3")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake media bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("model", "base"))
	require.NoError(t, mw.WriteField("highlight_words", "true"))
	require.NoError(t, mw.WriteField("highlight_color", "#FFD700"))
	require.NoError(t, mw.Close())

	rec := env.do(http.MethodPost, "/api/transcribe", &body, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	env.waitForStatus(t, created.ID, job.StatusSucceeded)

	rec = env.do(http.MethodGet, "/jobs/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Status    string            `json:"status"`
		Progress  float64           `json:"progress"`
		Artifacts map[string]string `json:"artifacts"`
		Config    job.Config        `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "succeeded", snap.Status)
	assert.Equal(t, 1.0, snap.Progress)
	assert.Equal(t, "base", snap.Config.Model)
	assert.True(t, snap.Config.Highlight.Enabled)
	assert.Equal(t, "/jobs/"+created.ID+"/artifacts/srt", snap.Artifacts["srt"])
	assert.NotContains(t, snap.Artifacts, "burned")

	rec = env.do(http.MethodGet, "/jobs/"+created.ID+"/artifacts/srt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "artifact content", rec.Body.String())
}

func TestTranscribeUploadSaveFailureCreatesNoJob(t *testing.T) {
	// An uploads "directory" that is a regular file makes the save fail
	// before any job record is created.
	uploadsDir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.WriteFile(uploadsDir, []byte("not a dir"), 0o644))
	env := newTestEnvWithUploads(t, uploadsDir)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "interview.mp3")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake media bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := env.do(http.MethodPost, "/api/transcribe", &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "could not store uploaded file", rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "id")
}

func TestTranscribeUploadRecordsSourcePath(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "talk.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake media bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := env.do(http.MethodPost, "/api/transcribe", &body, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	snap, err := env.store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "talk.wav", filepath.Base(snap.SourcePath))
	assert.FileExists(t, snap.SourcePath)
}

func TestTranscribeUploadRequiresFile(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("model", "base"))
	require.NoError(t, mw.Close())

	rec := env.do(http.MethodPost, "/api/transcribe", &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file is required", rec.Body.String())
}

func TestTranscribeRemoteValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/transcribe/youtube",
		bytes.NewBufferString(`{"url":"ftp://example.com/file"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "http(s)")

	rec = env.do(http.MethodPost, "/api/transcribe/youtube",
		bytes.NewBufferString(`{"url":"https://example.com/v","diarization":true}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "min_speakers")

	rec = env.do(http.MethodPost, "/api/transcribe/youtube",
		bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribeRemoteAccepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/transcribe/youtube",
		bytes.NewBufferString(`{"url":"https://www.youtube.com/watch?v=abc","model":"base","duration_minutes":5}`),
		"application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	env.waitForStatus(t, created.ID, job.StatusSucceeded)
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job not found", rec.Body.String())
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/jobs/missing/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	created := env.store.Create(job.Config{Model: "base"})
	rec = env.do(http.MethodPost, "/jobs/"+created.ID+"/cancel", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestBurnRejectedForUnfinishedJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/jobs/missing/burn", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	created := env.store.Create(job.Config{Model: "base"})
	rec = env.do(http.MethodPost, "/jobs/"+created.ID+"/burn", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "burn-in not available"), rec.Body.String())
}

func TestGetArtifactErrors(t *testing.T) {
	env := newTestEnv(t)
	created := env.store.Create(job.Config{Model: "base"})

	rec := env.do(http.MethodGet, "/jobs/"+created.ID+"/artifacts/srt", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "no results yet")

	rec = env.do(http.MethodGet, "/jobs/"+created.ID+"/artifacts/exe", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/jobs/"+created.ID+"/artifacts/burned", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
