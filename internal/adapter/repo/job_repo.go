package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"docify/internal/domain"
	"docify/internal/infra"
	"docify/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	inputs, err := json.Marshal(job.InputFiles)
	if err != nil {
		return fmt.Errorf("encode input files: %w", err)
	}
	opts := job.Options
	if opts == nil {
		opts = domain.Options{}
	}
	options, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	output, err := marshalOutput(job.OutputFile)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		string(job.Status),
		job.Tool,
		inputs,
		output,
		options,
		job.Progress,
		job.Error,
		job.CreatedAt,
		job.ExpiresAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Transition moves the job from one status to another only when the stored
// status still equals from.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, from, to domain.JobStatus, upd domain.JobUpdate) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrConflict, from, to)
	}
	output, err := marshalOutput(upd.OutputFile)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QTransitionJob,
		jobID,
		string(from),
		string(to),
		upd.Progress,
		output,
		upd.Error,
		upd.MirrorKey,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missOrConflict(ctx, jobID, from)
}

// UpdateProgress raises progress on a processing job. Lower values are ignored.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateJobProgress, jobID, progress)
	return err
}

// Delete removes a job record.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteJob, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepositoryPG) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListExpiredJobs, asOf)
}

func (r *JobRepositoryPG) ListLive(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListLiveJobs, asOf)
}

func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListJobsByStatus, string(status))
}

func (r *JobRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListRecentJobs, limit)
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepositoryPG) missOrConflict(ctx context.Context, jobID string, from domain.JobStatus) error {
	var current string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobStatus, jobID).Scan(&current); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrConflict, jobID, current, from)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		status  string
		inputs  []byte
		output  []byte
		options []byte
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.Tool,
		&inputs,
		&output,
		&options,
		&job.Progress,
		&job.Error,
		&job.MirrorKey,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ExpiresAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &job.InputFiles); err != nil {
			return nil, fmt.Errorf("decode input files: %w", err)
		}
	}
	if len(output) > 0 && string(output) != "null" {
		job.OutputFile = &domain.OutputFile{}
		if err := json.Unmarshal(output, job.OutputFile); err != nil {
			return nil, fmt.Errorf("decode output file: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	return &job, nil
}

func marshalOutput(out *domain.OutputFile) ([]byte, error) {
	if out == nil {
		return nil, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode output file: %w", err)
	}
	return b, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
