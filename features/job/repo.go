package job

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	Enqueue(ctx context.Context, j *Job) error
	TryDequeue(ctx context.Context) (*Job, error)
	Claim(ctx context.Context, id string) (*Job, error)
	Complete(ctx context.Context, id string, result []byte) error
	MarkRetrying(ctx context.Context, id string, retryCount int, errMsg string, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error
	ReleaseExpired(ctx context.Context, olderThan time.Time) (int, error)
	Reset(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, status string) ([]Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, job_type, status, priority, payload, result, error_message, retry_count, max_retries, next_run_at, started_at, completed_at, created_at, updated_at`

func (r *PostgresRepo) Enqueue(ctx context.Context, j *Job) error {
	query := `INSERT INTO job_queue (job_type, priority, payload, max_retries, next_run_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, status, retry_count, next_run_at, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, j.JobType, j.Priority, []byte(j.Payload), j.MaxRetries).
		Scan(&j.ID, &j.Status, &j.RetryCount, &j.NextRunAt, &j.CreatedAt, &j.UpdatedAt)
}

// TryDequeue claims the next eligible job in a single conditional update.
// The status check is repeated in the outer WHERE so a concurrent claim of
// the selected row makes the update match zero rows instead of stealing it.
func (r *PostgresRepo) TryDequeue(ctx context.Context) (*Job, error) {
	query := `UPDATE job_queue SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status IN ('pending', 'retrying') AND next_run_at <= now()
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		) AND status IN ('pending', 'retrying')
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	return j, err
}

// Claim locks a specific job for the immediate-trigger fast path, bypassing
// queue ordering. Only pending/retrying jobs whose run time has arrived are
// eligible.
func (r *PostgresRepo) Claim(ctx context.Context, id string) (*Job, error) {
	query := `UPDATE job_queue SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'retrying') AND next_run_at <= now()
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	return j, err
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, result []byte) error {
	query := `UPDATE job_queue SET status = 'completed', result = $2, completed_at = now(), updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, nullableJSON(result))
	return err
}

func (r *PostgresRepo) MarkRetrying(ctx context.Context, id string, retryCount int, errMsg string, nextRunAt time.Time) error {
	query := `UPDATE job_queue SET status = 'retrying', retry_count = $2, error_message = $3, next_run_at = $4, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, retryCount, errMsg, nextRunAt)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	query := `UPDATE job_queue SET status = 'failed', retry_count = $2, error_message = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, retryCount, errMsg)
	return err
}

// ReleaseExpired returns running jobs whose lease has lapsed to the pending
// pool so a crashed worker cannot strand them forever.
func (r *PostgresRepo) ReleaseExpired(ctx context.Context, olderThan time.Time) (int, error) {
	query := `UPDATE job_queue SET status = 'pending', started_at = NULL, updated_at = now()
		WHERE status = 'running' AND started_at < $1`
	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Reset re-arms a permanently failed job for another round of attempts.
func (r *PostgresRepo) Reset(ctx context.Context, id string) error {
	query := `UPDATE job_queue SET status = 'pending', retry_count = 0, error_message = NULL, next_run_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'failed'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_queue WHERE id = $1`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) List(ctx context.Context, status string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_queue`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM job_queue GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	j := &Job{}
	var payload, result []byte
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.JobType, &j.Status, &j.Priority, &payload, &result, &errMsg,
		&j.RetryCount, &j.MaxRetries, &j.NextRunAt, &startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Payload = payload
	j.Result = result
	if errMsg.Valid {
		j.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
