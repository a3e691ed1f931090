package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
)

// ErrInvalidTransition is returned when a job is not in the state a
// transition requires.
var ErrInvalidTransition = errors.New("invalid job status transition")

const jobColumns = `id, status, payload, article_id, error, claimed_by,
	created_at, updated_at, started_at, finished_at`

// EnqueueJob stores req as a pending job and returns its id. The same source
// may be queued any number of times.
func (db *DB) EnqueueJob(ctx context.Context, req article.Request) (int64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshaling job payload: %w", err)
	}
	stamp := db.timestamp()
	res, err := db.execWithRetry(ctx,
		`INSERT INTO gen_jobs (status, payload, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		string(JobPending), string(payload), stamp, stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueueing job: %w", err)
	}
	return res.LastInsertId()
}

// ClaimNextJob moves the oldest pending job to running and returns it, or nil
// when nothing is pending. The select and the transition are a single
// conditional UPDATE, so concurrent callers never receive the same job.
func (db *DB) ClaimNextJob(ctx context.Context, claimedBy string) (*Job, error) {
	stamp := db.timestamp()
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := db.conn.QueryRowContext(ctx,
			`UPDATE gen_jobs
			SET status = ?, claimed_by = ?, started_at = ?, updated_at = ?
			WHERE id = (
				SELECT id FROM gen_jobs WHERE status = ?
				ORDER BY created_at ASC, id ASC LIMIT 1
			) AND status = ?
			RETURNING `+jobColumns,
			string(JobRunning), claimedBy, stamp, stamp, string(JobPending), string(JobPending),
		)
		j, err := scanJob(row)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a running job done and links the produced post.
func (db *DB) CompleteJob(ctx context.Context, id, articleID int64) error {
	stamp := db.timestamp()
	return db.finishJob(ctx, id,
		`UPDATE gen_jobs SET status = ?, article_id = ?, error = NULL, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(JobDone), articleID, stamp, stamp, id, string(JobRunning),
	)
}

// FailJob marks a running job failed with message.
func (db *DB) FailJob(ctx context.Context, id int64, message string) error {
	stamp := db.timestamp()
	return db.finishJob(ctx, id,
		`UPDATE gen_jobs SET status = ?, error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(JobFailed), message, stamp, stamp, id, string(JobRunning),
	)
}

func (db *DB) finishJob(ctx context.Context, id int64, query string, args ...any) error {
	res, err := db.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job %d: %w", id, err)
	}
	if n == 0 {
		job, err := db.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return apperr.Wrap(apperr.ErrNotFound, "job %d", id)
		}
		return fmt.Errorf("%w: job %d is %s, not running", ErrInvalidTransition, id, job.Status)
	}
	return nil
}

// GetJob returns a job by id, or nil if none exists.
func (db *DB) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM gen_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns the most recent jobs, optionally restricted to one status.
func (db *DB) ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM gen_jobs`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// JobCounts returns the number of jobs in each status.
func (db *DB) JobCounts(ctx context.Context) (JobCounts, error) {
	var c JobCounts
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM gen_jobs GROUP BY status")
	if err != nil {
		return c, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch JobStatus(status) {
		case JobPending:
			c.Pending = n
		case JobRunning:
			c.Running = n
		case JobDone:
			c.Done = n
		case JobFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		status, payload      string
		articleID            sql.NullInt64
		errText, claimedBy   sql.NullString
		createdAt, updatedAt string
		startedAt, finished  sql.NullString
	)
	if err := row.Scan(&j.ID, &status, &payload, &articleID, &errText, &claimedBy,
		&createdAt, &updatedAt, &startedAt, &finished); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	if err := json.Unmarshal([]byte(payload), &j.Request); err != nil {
		return nil, fmt.Errorf("job %d payload: %w", j.ID, err)
	}
	if articleID.Valid {
		id := articleID.Int64
		j.ArticleID = &id
	}
	j.Error = errText.String
	j.ClaimedBy = claimedBy.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.StartedAt = optionalTime(startedAt)
	j.FinishedAt = optionalTime(finished)
	return &j, nil
}

func optionalTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
