package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"docify/internal/domain"
)

// JobRepositoryMemory keeps jobs in process memory. It is used when no
// DATABASE_URL is configured and by tests. Every read returns a copy.
type JobRepositoryMemory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewMemoryJobRepository creates an empty in-memory job repository.
func NewMemoryJobRepository() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := job.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.jobs[job.ID] = cp
	return nil
}

func (r *JobRepositoryMemory) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *JobRepositoryMemory) Transition(ctx context.Context, jobID string, from, to domain.JobStatus, upd domain.JobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrConflict, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != from {
		return fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrConflict, jobID, job.Status, from)
	}
	job.Status = to
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	job.OutputFile = nil
	if upd.OutputFile != nil {
		out := *upd.OutputFile
		job.OutputFile = &out
	}
	job.Error = upd.Error
	if upd.MirrorKey != "" {
		job.MirrorKey = upd.MirrorKey
	}
	job.UpdatedAt = r.now()
	return nil
}

func (r *JobRepositoryMemory) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing || progress <= job.Progress {
		return nil
	}
	job.Progress = progress
	job.UpdatedAt = r.now()
	return nil
}

func (r *JobRepositoryMemory) Delete(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, jobID)
	return nil
}

func (r *JobRepositoryMemory) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	jobs, err := r.filter(ctx, func(j *domain.Job) bool { return j.Expired(asOf) })
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ExpiresAt.Before(jobs[k].ExpiresAt) })
	return jobs, err
}

func (r *JobRepositoryMemory) ListLive(ctx context.Context, asOf time.Time) ([]domain.Job, error) {
	return r.filter(ctx, func(j *domain.Job) bool { return j.Status.Live() || !j.Expired(asOf) })
}

func (r *JobRepositoryMemory) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	jobs, err := r.filter(ctx, func(j *domain.Job) bool { return j.Status == status })
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, err
}

func (r *JobRepositoryMemory) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	jobs, err := r.filter(ctx, func(*domain.Job) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Len returns the number of stored jobs.
func (r *JobRepositoryMemory) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *JobRepositoryMemory) filter(ctx context.Context, keep func(*domain.Job) bool) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Job
	for _, job := range r.jobs {
		if keep(job) {
			out = append(out, *job.Clone())
		}
	}
	return out, nil
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
