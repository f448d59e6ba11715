package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyanovopashin/whisper-gui/internal/job"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func terminalJob(id string, status job.Status, finished time.Time) job.Job {
	j := job.Job{
		ID:              id,
		Status:          status,
		Config:          job.Config{Model: "base"},
		DurationSeconds: 120,
		CreatedAt:       finished.Add(-time.Minute),
		UpdatedAt:       finished,
	}
	switch status {
	case job.StatusSucceeded:
		j.Results = &job.Results{SRT: "a.srt", VTT: "a.vtt", JSON: "a.json"}
	case job.StatusFailed:
		j.Error = "engine exited abnormally"
	}
	return j
}

func TestRecordAndRecent(t *testing.T) {
	repo := openTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Record(terminalJob("old", job.StatusFailed, now.Add(-2*time.Hour))))
	require.NoError(t, repo.Record(terminalJob("new", job.StatusSucceeded, now)))

	entries, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "new", entries[0].ID, "newest first")
	assert.Equal(t, job.StatusSucceeded, entries[0].Status)
	require.NotNil(t, entries[0].Results)
	assert.Equal(t, "a.srt", entries[0].Results.SRT)

	assert.Equal(t, "old", entries[1].ID)
	assert.Equal(t, "engine exited abnormally", entries[1].Error)
	assert.Nil(t, entries[1].Results)
}

func TestRecordRejectsLiveJobs(t *testing.T) {
	repo := openTestRepo(t)

	err := repo.Record(job.Job{ID: "live", Status: job.StatusRunning})
	assert.Error(t, err)
}

func TestRecordIsIdempotentPerID(t *testing.T) {
	repo := openTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Record(terminalJob("dup", job.StatusFailed, now)))
	require.NoError(t, repo.Record(terminalJob("dup", job.StatusFailed, now)))

	entries, err := repo.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecentLimit(t *testing.T) {
	repo := openTestRepo(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, repo.Record(terminalJob(id, job.StatusCancelled, now.Add(time.Duration(i)*time.Second))))
	}

	entries, err := repo.Recent(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].ID)
}

func TestPrune(t *testing.T) {
	repo := openTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Record(terminalJob("ancient", job.StatusSucceeded, now.Add(-48*time.Hour))))
	require.NoError(t, repo.Record(terminalJob("recent", job.StatusSucceeded, now)))

	n, err := repo.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].ID)
}
