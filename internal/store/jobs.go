package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a scheduled job row.
type JobStatus string

const (
	// JobPending jobs wait for their run_at instant.
	JobPending JobStatus = "pending"
	// JobRunning jobs have been claimed by a worker.
	JobRunning JobStatus = "running"
	// JobDone jobs were admitted and their body succeeded.
	JobDone JobStatus = "done"
	// JobSuperseded jobs fired but admission rejected them.
	JobSuperseded JobStatus = "superseded"
	// JobFailed jobs were admitted but the body (or admission) returned an error.
	JobFailed JobStatus = "failed"
)

// JobRecord is one row of the jobs table.
type JobRecord struct {
	Seq       int64
	ID        string
	Topic     string
	Params    []string
	Key       string
	RunAt     time.Time
	Status    JobStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	Key    string
	Status JobStatus
	Limit  int
}

// EnqueueJob inserts a pending job.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) EnqueueJob(ctx context.Context, job JobRecord) error {
	params := job.Params
	if params == nil {
		params = []string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("enqueue job: marshal params: %w", err)
	}

	now := s.clock.Now().UnixMicro()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, topic, params, job_key, run_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, job.ID, job.Topic, string(paramsJSON), job.Key, job.RunAt.UnixMicro(), JobPending, now, now)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimDueJobs marks up to limit pending jobs whose run_at is not after
// now as running and returns them in (run_at, seq) order.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC, seq ASC
		LIMIT ?
	`, JobPending, now.UnixMicro(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: query: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	stamp := s.clock.Now().UnixMicro()
	for i := range jobs {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
			WHERE seq = ?
		`, JobRunning, stamp, jobs[i].Seq)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", jobs[i].ID, err)
		}
		jobs[i].Status = JobRunning
		jobs[i].Attempts++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim jobs: commit: %w", err)
	}
	return jobs, nil
}

// FinishJob records the final status of a claimed job.
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, status, lastErr, s.clock.Now().UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish job %s: not found", id)
	}
	return nil
}

// NextJobAt returns the earliest run_at among pending jobs.
func (s *Store) NextJobAt(ctx context.Context) (time.Time, bool, error) {
	var runAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(run_at) FROM jobs WHERE status = ?
	`, JobPending).Scan(&runAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next job: %w", err)
	}
	if !runAt.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(runAt.Int64), true, nil
}

// ListJobs returns jobs matching filter ordered by seq.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]JobRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Key != "" {
		where = append(where, "job_key = ?")
		args = append(args, filter.Key)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []JobRecord{}
	}
	return jobs, nil
}

// CountJobs returns the number of jobs in the given status.
func (s *Store) CountJobs(ctx context.Context, status JobStatus) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

const jobColumns = `seq, id, topic, params, job_key, run_at, status, attempts, last_error, created_at, updated_at`

// scanJobs reads all rows and closes them.
func scanJobs(rows *sql.Rows) ([]JobRecord, error) {
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var (
			j                       JobRecord
			params                  string
			status                  string
			runAt, created, updated int64
		)
		if err := rows.Scan(&j.Seq, &j.ID, &j.Topic, &params, &j.Key, &runAt, &status,
			&j.Attempts, &j.LastError, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
			return nil, fmt.Errorf("job %s: decode params: %w", j.ID, err)
		}
		j.Status = JobStatus(status)
		j.RunAt = time.UnixMicro(runAt)
		j.CreatedAt = time.UnixMicro(created)
		j.UpdatedAt = time.UnixMicro(updated)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
