package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
//
// Transition is a compare-and-set: it only applies when the stored status
// equals from, and returns ErrConflict otherwise.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	Transition(ctx context.Context, jobID string, from, to JobStatus, upd JobUpdate) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	Delete(ctx context.Context, jobID string) error
	ListExpired(ctx context.Context, asOf time.Time) ([]Job, error)
	ListLive(ctx context.Context, asOf time.Time) ([]Job, error)
	ListByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	ListRecent(ctx context.Context, limit int) ([]Job, error)
}
