package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobRow is one unit of assignable work backing a generation.
type JobRow struct {
	ID           string
	GenerationID string
	State        string
	WorkerID     sql.NullString
	Attempts     int
	RetryLimit   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateJob inserts a queued job.
func (d *DB) CreateJob(ctx context.Context, j *JobRow) error {
	if j.RetryLimit <= 0 {
		j.RetryLimit = 3
	}
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO jobs (id, generation_id, state, retry_limit)
		 VALUES ($1, $2, 'queued', $3)`,
		j.ID, j.GenerationID, j.RetryLimit,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves one job row.
func (d *DB) GetJob(ctx context.Context, id string) (*JobRow, error) {
	j := &JobRow{}
	err := d.Pool.QueryRowContext(ctx,
		`SELECT id, generation_id, state, worker_id, attempts, retry_limit, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.GenerationID, &j.State, &j.WorkerID, &j.Attempts,
		&j.RetryLimit, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// TryClaimJob atomically assigns a job to a worker.  The claim succeeds only
// when the job is unclaimed or already held by the same worker, so exactly
// one worker out of any set of concurrent claimants wins.  The losing callers
// get false with no error.
func (d *DB) TryClaimJob(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE jobs
		 SET worker_id = $2, state = 'assigned', attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $1 AND (worker_id IS NULL OR worker_id = $2)`,
		jobID, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return affected == 1, nil
}

// ReleaseJob returns a job to the queue after a failed hand-off, but only
// when the releasing worker still holds it.
func (d *DB) ReleaseJob(ctx context.Context, jobID, workerID string) error {
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE jobs SET worker_id = NULL, state = 'queued', updated_at = NOW()
		 WHERE id = $1 AND worker_id = $2`,
		jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// UpdateJobState records a state transition.
func (d *DB) UpdateJobState(ctx context.Context, jobID, state string) error {
	_, err := d.Pool.ExecContext(ctx,
		`UPDATE jobs SET state = $2, updated_at = NOW() WHERE id = $1`, jobID, state)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return nil
}
