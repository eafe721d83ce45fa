package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"docify/internal/domain"
	"docify/internal/jobs"
	"docify/internal/storage"
)

var errExpired = errors.New("expired before completion")

// JobReleaser is the slice of the job engine the scheduler needs.
type JobReleaser interface {
	Abort(id string, reason error) bool
	Release(ctx context.Context, job *domain.Job)
}

// Report summarises one cleanup cycle.
type Report struct {
	ExpiredJobs   int
	AbortedJobs   int
	OrphanedFiles int
	Errors        int
}

// Scheduler periodically deletes expired jobs and orphaned files.
type Scheduler struct {
	repo     domain.JobRepository
	engine   JobReleaser
	files    *storage.FileStore
	ttl      time.Duration
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// New returns a scheduler that runs every interval and treats files older
// than ttl as orphans.
func New(repo domain.JobRepository, engine JobReleaser, files *storage.FileStore, ttl, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		engine:   engine,
		files:    files,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("cleanup: scheduler started")
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("cleanup: cycle failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cleanup: scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one cleanup cycle. Individual failures are logged and
// counted; only a failure to list expired jobs is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	now := s.now().UTC()

	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return report, err
	}
	for i := range expired {
		job := &expired[i]
		if s.expire(ctx, job, &report) {
			report.ExpiredJobs++
		}
	}

	s.sweepOrphans(ctx, now, &report)

	if report.ExpiredJobs > 0 || report.OrphanedFiles > 0 || report.Errors > 0 {
		s.logger.Info().
			Int("expired_jobs", report.ExpiredJobs).
			Int("aborted_jobs", report.AbortedJobs).
			Int("orphaned_files", report.OrphanedFiles).
			Int("errors", report.Errors).
			Msg("cleanup: cycle finished")
	}
	return report, nil
}

func (s *Scheduler) expire(ctx context.Context, job *domain.Job, report *Report) bool {
	log := s.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()

	if job.Status.Live() {
		err := s.fail(ctx, job.ID, job.Status)
		if errors.Is(err, domain.ErrConflict) && job.Status == domain.JobStatusPending {
			// A worker picked the job up after the listing.
			if cur, getErr := s.repo.GetByID(ctx, job.ID); getErr == nil && cur.Status == domain.JobStatusProcessing {
				err = s.fail(ctx, job.ID, domain.JobStatusProcessing)
			}
		}
		switch {
		case err == nil:
			report.AbortedJobs++
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
			// Settled between the listing and now; the record is deleted below either way.
		default:
			log.Warn().Err(err).Msg("cleanup: failed to mark expired job")
			report.Errors++
		}
	}

	s.engine.Release(ctx, job)

	if err := s.repo.Delete(ctx, job.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Msg("cleanup: failed to delete job record")
		report.Errors++
		return false
	}
	log.Debug().Msg("cleanup: expired job removed")
	return true
}

// fail aborts a running handler and moves the job from status to failed.
func (s *Scheduler) fail(ctx context.Context, id string, from domain.JobStatus) error {
	s.engine.Abort(id, errExpired)
	return s.repo.Transition(ctx, id, from, domain.JobStatusFailed, domain.JobUpdate{Error: errExpired.Error()})
}

func (s *Scheduler) sweepOrphans(ctx context.Context, now time.Time, report *Report) {
	refs, err := jobs.ReferencedFiles(ctx, s.repo, now, "")
	if err != nil {
		s.logger.Warn().Err(err).Msg("cleanup: reference check failed, skipping orphan sweep")
		report.Errors++
		return
	}

	cutoff := now.Add(-s.ttl)
	for _, ns := range []string{storage.NamespaceTemp, storage.NamespaceResults} {
		stale, err := s.files.ListOlderThan(ns, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Str("namespace", ns).Msg("cleanup: failed to list files")
			report.Errors++
			continue
		}
		for _, f := range stale {
			if refs[f.Path] {
				continue
			}
			if err := s.files.Remove(f.Path); err != nil {
				s.logger.Warn().Err(err).Str("path", f.Path).Msg("cleanup: failed to remove orphan")
				report.Errors++
				continue
			}
			report.OrphanedFiles++
		}
	}
}
