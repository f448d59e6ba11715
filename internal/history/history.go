// Package history persists finished jobs to a local sqlite database so
// past runs survive restarts. Only terminal jobs are recorded; live job
// state stays in memory.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ilyanovopashin/whisper-gui/internal/job"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	model        TEXT NOT NULL,
	diarization  INTEGER NOT NULL,
	duration_sec REAL NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	results_json TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at);
`

// Entry is one persisted job record.
type Entry struct {
	ID              string       `json:"id"`
	Status          job.Status   `json:"status"`
	Model           string       `json:"model"`
	Diarization     bool         `json:"diarization"`
	DurationSeconds float64      `json:"duration_seconds"`
	Error           string       `json:"error,omitempty"`
	Results         *job.Results `json:"results,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

// Repository stores terminal job records.
type Repository struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// sqlite handles one writer at a time; serialize through the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Record persists a terminal job. Recording is best effort; callers log
// and move on when it fails.
func (r *Repository) Record(j job.Job) error {
	if !j.Status.Terminal() {
		return fmt.Errorf("job %s is not terminal", j.ID)
	}

	resultsJSON := ""
	if j.Results != nil {
		b, err := json.Marshal(j.Results)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		resultsJSON = string(b)
	}

	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, status, model, diarization, duration_sec, error, results_json, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Status), j.Config.Model, boolInt(j.Config.Diarization),
		j.DurationSeconds, j.Error, resultsJSON,
		j.CreatedAt.UTC().Format(time.RFC3339Nano),
		j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

// Recent returns the most recently finished jobs, newest first.
func (r *Repository) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, status, model, diarization, duration_sec, error, results_json, created_at, finished_at
		FROM jobs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var diarization int
		var resultsJSON, createdAt, finishedAt string
		if err := rows.Scan(&e.ID, &e.Status, &e.Model, &diarization, &e.DurationSeconds,
			&e.Error, &resultsJSON, &createdAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Diarization = diarization != 0
		if resultsJSON != "" {
			var res job.Results
			if err := json.Unmarshal([]byte(resultsJSON), &res); err == nil {
				e.Results = &res
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes records that finished before the cutoff. Returns the
// number of rows removed.
func (r *Repository) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := r.db.Exec(`DELETE FROM jobs WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
