// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

const jobColumns = `id, type, priority, payload, state, retry_count, max_retries,
	scheduled_at, claimed_at, claimed_by, completed_at, last_error, parent_job_id,
	dedupe_key, created_at`

// Spec describes a job to enqueue. Payload is marshaled with goccy/go-json;
// zero Priority and MaxRetries take the type defaults.
type Spec struct {
	Type        models.JobType
	Priority    int
	Payload     any
	MaxRetries  int
	ScheduledAt time.Time
	ParentJobID *int64
	// DedupeKey suppresses the insert when a non-terminal job with the
	// same type and key already exists. Empty disables deduplication.
	DedupeKey string
}

// Store is the durable job queue over SQLite. All state transitions are
// single statements so concurrent workers never double-claim.
type Store struct {
	db     *database.DB
	notify chan struct{}
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, notify: make(chan struct{}, 1)}
}

// NotifyC signals workers that new work may be claimable. The channel is
// lossy on purpose: one pending signal is enough to wake the pool.
func (s *Store) NotifyC() <-chan struct{} { return s.notify }

func (s *Store) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Insert enqueues a job. When spec.DedupeKey matches an existing
// non-terminal job of the same type, the existing job is returned and
// enqueued is false.
func (s *Store) Insert(ctx context.Context, spec Spec) (job *models.Job, enqueued bool, err error) {
	priority := spec.Priority
	if priority == 0 {
		priority = models.PriorityNormal
	}
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	scheduledAt := spec.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	var payload []byte
	if spec.Payload != nil {
		payload, err = json.Marshal(spec.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("marshal %s payload: %w", spec.Type, err)
		}
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if spec.DedupeKey != "" {
			var existingID int64
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM jobs
				WHERE type=? AND dedupe_key=?
				  AND state IN ('pending','claimed','processing','retrying')
				LIMIT 1`,
				string(spec.Type), spec.DedupeKey).Scan(&existingID)
			switch {
			case err == nil:
				job, err = getJobTx(ctx, tx, existingID)
				return err
			case err != sql.ErrNoRows:
				return fmt.Errorf("dedupe lookup: %w", err)
			}
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (type, priority, payload, state, max_retries,
				scheduled_at, parent_job_id, dedupe_key, created_at)
			VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
			string(spec.Type), priority, payload, maxRetries,
			scheduledAt.Unix(), spec.ParentJobID, spec.DedupeKey, now.Unix())
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert job id: %w", err)
		}
		job = &models.Job{
			ID:          id,
			Type:        spec.Type,
			Priority:    priority,
			Payload:     payload,
			State:       models.JobPending,
			MaxRetries:  maxRetries,
			ScheduledAt: scheduledAt,
			ParentJobID: spec.ParentJobID,
			DedupeKey:   spec.DedupeKey,
			CreatedAt:   now,
		}
		enqueued = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if enqueued {
		s.poke()
	}
	return job, enqueued, nil
}

// Claim atomically moves up to limit due jobs to the claimed state for
// workerID, ordered by priority, then scheduled time, then id. Jobs in the
// retrying state whose backoff has elapsed are claimable alongside pending
// ones.
func (s *Store) Claim(ctx context.Context, workerID string, limit int) ([]*models.Job, error) {
	now := time.Now().UTC().Unix()
	rows, err := s.db.SQL().QueryContext(ctx, `
		UPDATE jobs SET state='claimed', claimed_at=?, claimed_by=?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state IN ('pending','retrying') AND scheduled_at <= ?
			ORDER BY priority ASC, scheduled_at ASC, id ASC
			LIMIT ?
		)
		RETURNING `+jobColumns,
		now, workerID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("closing claim rows")
		}
	}()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkProcessing transitions a claimed job to processing. A zero-row update
// means the claim was lost underneath us, e.g. to a release or a stale-job
// recovery by another process.
func (s *Store) MarkProcessing(ctx context.Context, id int64, workerID string) error {
	res, err := s.db.SQL().ExecContext(ctx,
		`UPDATE jobs SET state='processing' WHERE id=? AND state='claimed' AND claimed_by=?`,
		id, workerID)
	if err != nil {
		return fmt.Errorf("mark processing %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrLostClaim)
	}
	return nil
}

// ErrLostClaim means another actor changed the job state between claim and
// completion, typically a release or stale-job recovery.
var ErrLostClaim = fmt.Errorf("claim no longer held")

// ErrNotCancellable means the job exists but is past the point where a
// cancel may reach it: only pending and retrying jobs can be cancelled.
var ErrNotCancellable = fmt.Errorf("job not in a cancellable state")

// Complete marks a processing job done. A zero-row update means the claim
// was lost underneath the worker.
func (s *Store) Complete(ctx context.Context, id int64) error {
	res, err := s.db.SQL().ExecContext(ctx, `
		UPDATE jobs SET state='completed', completed_at=?, last_error=''
		WHERE id=? AND state='processing'`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrLostClaim)
	}
	return nil
}

// Fail records a handler failure. Retryable kinds go back to retrying with
// backoff (or the provider-advertised delay) while retry_count is below
// max_retries; anything else lands in the terminal failed state. Both
// transitions require the job to still be processing. The updated job is
// returned so the pool can broadcast the transition.
func (s *Store) Fail(ctx context.Context, job *models.Job, cause error) (*models.Job, error) {
	kind := Classify(cause)
	msg := truncateError(cause)

	retry := kind.Retryable() && job.RetryCount < job.MaxRetries
	if !retry {
		res, err := s.db.SQL().ExecContext(ctx, `
			UPDATE jobs SET state='failed', completed_at=?, last_error=?
			WHERE id=? AND state='processing'`,
			time.Now().UTC().Unix(), msg, job.ID)
		if err != nil {
			return nil, fmt.Errorf("fail job %d: %w", job.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, fmt.Errorf("job %d: %w", job.ID, ErrLostClaim)
		}
		return s.Get(ctx, job.ID)
	}

	delay := RetryAfter(cause)
	if delay <= 0 {
		delay = backoff(job.RetryCount + 1)
	}
	res, err := s.db.SQL().ExecContext(ctx, `
		UPDATE jobs SET state='retrying', retry_count=retry_count+1,
			scheduled_at=?, claimed_at=NULL, claimed_by='', last_error=?
		WHERE id=? AND state='processing'`,
		time.Now().UTC().Add(delay).Unix(), msg, job.ID)
	if err != nil {
		return nil, fmt.Errorf("retry job %d: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("job %d: %w", job.ID, ErrLostClaim)
	}
	return s.Get(ctx, job.ID)
}

// Cancel moves a pending or retrying job to cancelled. Jobs a worker has
// already picked up are past cancelling; terminal jobs stay as they are.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.SQL().ExecContext(ctx, `
		UPDATE jobs SET state='cancelled', completed_at=?
		WHERE id=? AND state IN ('pending','retrying')`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %d: %w", id, ErrNotCancellable)
	}
	return nil
}

// Release returns claimed-but-unstarted jobs of a worker to pending. Called
// during shutdown for work the pool drained without running.
func (s *Store) Release(ctx context.Context, workerID string) (int64, error) {
	res, err := s.db.SQL().ExecContext(ctx, `
		UPDATE jobs SET state='pending', claimed_at=NULL, claimed_by=''
		WHERE claimed_by=? AND state='claimed'`, workerID)
	if err != nil {
		return 0, fmt.Errorf("release jobs for %s: %w", workerID, err)
	}
	return res.RowsAffected()
}

// Requeue returns one processing job to pending, ready immediately. The
// pool uses it when the shutdown drain deadline expires under an in-flight
// handler: the aborted work reruns on the next start instead of failing.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	res, err := s.db.SQL().ExecContext(ctx, `
		UPDATE jobs SET state='pending', claimed_at=NULL, claimed_by='', scheduled_at=?
		WHERE id=? AND state='processing'`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("requeue job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrLostClaim)
	}
	s.poke()
	return nil
}

// RecoverStale requeues jobs stuck in claimed or processing, used at startup
// to pick up work orphaned by a crash. Returns the number requeued.
func (s *Store) RecoverStale(ctx context.Context) (int64, error) {
	res, err := s.db.SQL().ExecContext(ctx, `
		UPDATE jobs SET state='pending', claimed_at=NULL, claimed_by=''
		WHERE state IN ('claimed','processing')`)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// Get loads one job or database.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*models.Job, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row)
}

// List returns jobs filtered by state (empty means all), newest first.
func (s *Store) List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if state != "" {
		query += ` WHERE state=?`
		args = append(args, string(state))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("closing job rows")
		}
	}()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Stats returns per-state job counts.
func (s *Store) Stats(ctx context.Context) (models.QueueStats, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("closing stats rows")
		}
	}()

	var stats models.QueueStats
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		switch models.JobState(state) {
		case models.JobPending:
			stats.Pending = n
		case models.JobClaimed:
			stats.Claimed = n
		case models.JobProcessing:
			stats.Processing = n
		case models.JobRetrying:
			stats.Retrying = n
		case models.JobCompleted:
			stats.Completed = n
		case models.JobFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// Cleanup drops terminal jobs past their retention windows. Cancelled jobs
// share the failed retention.
func (s *Store) Cleanup(ctx context.Context, completedAge, failedAge time.Duration) (int64, error) {
	now := time.Now().UTC()
	var total int64

	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM jobs WHERE state='completed' AND completed_at < ?`,
		now.Add(-completedAge).Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup completed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.SQL().ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN ('failed','cancelled') AND completed_at < ?`,
		now.Add(-failedAge).Unix())
	if err != nil {
		return total, fmt.Errorf("cleanup failed jobs: %w", err)
	}
	n, _ = res.RowsAffected()
	return total + n, nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                      models.Job
		jobType, state         string
		scheduledAt, createdAt int64
		claimedAt, completedAt sql.NullInt64
		parentJobID            sql.NullInt64
	)
	err := row.Scan(&j.ID, &jobType, &j.Priority, &j.Payload, &state,
		&j.RetryCount, &j.MaxRetries, &scheduledAt, &claimedAt, &j.ClaimedBy,
		&completedAt, &j.LastError, &parentJobID, &j.DedupeKey, &createdAt)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Type = models.JobType(jobType)
	j.State = models.JobState(state)
	j.ScheduledAt = time.Unix(scheduledAt, 0).UTC()
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	if claimedAt.Valid {
		t := time.Unix(claimedAt.Int64, 0).UTC()
		j.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		j.CompletedAt = &t
	}
	if parentJobID.Valid {
		j.ParentJobID = &parentJobID.Int64
	}
	return &j, nil
}

// truncateError keeps stored error text bounded; stack-laden wrapped errors
// can get long.
func truncateError(err error) string {
	msg := err.Error()
	msg = strings.ToValidUTF8(msg, "")
	if len(msg) > 2048 {
		msg = msg[:2048]
	}
	return msg
}
