package jobs

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docify/internal/convert"
	"docify/internal/domain"
	"docify/internal/storage"
)

// Resolver looks up the handler for a tool id.
type Resolver interface {
	Resolve(tool string) (convert.Handler, error)
}

// Notifier receives job lifecycle events.
type Notifier interface {
	Publish(event domain.JobEvent)
}

// Mirror copies completed outputs to object storage.
type Mirror interface {
	Upload(ctx context.Context, key, path string) error
	Remove(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config holds the engine limits.
type Config struct {
	Workers   int
	QueueSize int
	TTL       time.Duration
	Timeout   time.Duration
}

const (
	progressStarted  = 10
	progressCeiling  = 95
	progressComplete = 100
)

var (
	errAborted  = errors.New("job aborted")
	errShutdown = errors.New("interrupted by shutdown")
)

// Engine owns job creation, execution and removal.
type Engine struct {
	repo   domain.JobRepository
	tools  Resolver
	files  *storage.FileStore
	mirror Mirror
	events Notifier
	pool   *Pool
	cfg    Config
	logger zerolog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc

	abandoned  atomic.Int64
	stragglers sync.WaitGroup
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMirror enables mirroring of completed outputs.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithNotifier routes lifecycle events to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.events = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine starts the worker pool and returns a ready engine.
func NewEngine(repo domain.JobRepository, tools Resolver, files *storage.FileStore, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		tools:   tools,
		files:   files,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		running: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pool = NewPool(cfg.Workers, cfg.QueueSize, logger)
	return e
}

func (e *Engine) publish(eventType string, job *domain.Job) {
	if e.events == nil || job == nil {
		return
	}
	e.events.Publish(domain.NewJobEvent(eventType, job, e.now()))
}

// Create validates the request, persists a pending job and queues it. The
// call never waits for execution.
func (e *Engine) Create(ctx context.Context, tool string, fileIDs []string, opts domain.Options) (*domain.Job, error) {
	handler, err := e.tools.Resolve(tool)
	if err != nil {
		return nil, err
	}
	if err := handler.Validate(len(fileIDs), opts); err != nil {
		return nil, err
	}

	inputs := make([]domain.FileRef, 0, len(fileIDs))
	for _, id := range fileIDs {
		path, err := e.files.ResolveUpload(id)
		if err != nil {
			return nil, err
		}
		size, err := e.files.Stat(path)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(path)
		inputs = append(inputs, domain.FileRef{
			StoredName:   name,
			OriginalName: name,
			Path:         path,
			SizeBytes:    size,
			MediaType:    mime.TypeByExtension(filepath.Ext(name)),
		})
	}

	now := e.now().UTC()
	job := &domain.Job{
		ID:         e.newID(),
		Status:     domain.JobStatusPending,
		Tool:       tool,
		InputFiles: inputs,
		Options:    opts.Clone(),
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.TTL),
	}
	if err := e.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	// job_created goes out before a worker can publish the first update.
	e.publish(domain.EventJobCreated, job)
	if err := e.submit(job, handler); err != nil {
		if delErr := e.repo.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			e.logger.Error().Err(delErr).Str("job_id", job.ID).Msg("jobs: failed to discard unqueued job")
		}
		e.publish(domain.EventJobDeleted, job)
		return nil, err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("tool", tool).
		Int("files", len(inputs)).
		Msg("jobs: job created")
	return job, nil
}

func (e *Engine) outputPath(job *domain.Job, handler convert.Handler) string {
	spec := handler.Output(job.Options)
	return e.files.ResultPath(job.ID, spec.Suffix, spec.Ext)
}

func (e *Engine) submit(job *domain.Job, handler convert.Handler) error {
	snapshot := job.Clone()
	output := e.outputPath(snapshot, handler)
	return e.pool.Submit(job.ID, func(ctx context.Context) {
		e.execute(ctx, snapshot, handler, output)
	})
}

// execute runs one job to a terminal state.
func (e *Engine) execute(poolCtx context.Context, job *domain.Job, handler convert.Handler, output string) {
	log := e.logger.With().Str("job_id", job.ID).Str("tool", job.Tool).Logger()
	bg := context.WithoutCancel(poolCtx)

	started := progressStarted
	if err := e.repo.Transition(bg, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, domain.JobUpdate{Progress: &started}); err != nil {
		// Deleted or expired while queued.
		log.Debug().Err(err).Msg("jobs: job no longer pending, skipping")
		return
	}
	job.Status = domain.JobStatusProcessing
	job.Progress = started
	e.publish(domain.EventJobUpdated, job)

	ctx, cancel := context.WithCancelCause(poolCtx)
	defer cancel(nil)
	ctx, stop := context.WithTimeoutCause(ctx, e.cfg.Timeout, domain.ErrJobTimeout)
	defer stop()
	e.track(job.ID, cancel)
	defer e.untrack(job.ID)

	inputs := make([]string, len(job.InputFiles))
	for i, in := range job.InputFiles {
		inputs[i] = in.Path
	}

	begin := e.now()
	req := convert.Request{
		Tool:    job.Tool,
		Inputs:  inputs,
		Output:  output,
		Options: job.Options,
	}
	// Handlers backed by libraries that never look at ctx keep running past
	// the deadline, so the worker stops waiting for them on ctx.Done.
	outcome := make(chan execResult, 1)
	go func() {
		res, err := handler.Execute(ctx, req, e.progressReporter(ctx, bg, job))
		outcome <- execResult{res: res, err: err}
	}()

	var res convert.Result
	var err error
	select {
	case r := <-outcome:
		res, err = r.res, r.err
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
	case <-ctx.Done():
		err = ctx.Err()
		e.abandon(job.ID, outcome, output)
	}

	if err != nil {
		msg := e.failureMessage(ctx, err)
		e.removeOutput(output, res.Path)
		e.finishFailed(bg, job, msg)
		log.Warn().Err(err).Dur("elapsed", e.now().Sub(begin)).Msg("jobs: job failed")
		return
	}

	path := res.Path
	if path == "" {
		path = output
	}
	size, err := e.files.Stat(path)
	if err != nil {
		e.finishFailed(bg, job, "conversion produced no output file")
		log.Error().Err(err).Msg("jobs: output missing after success")
		return
	}
	out := &domain.OutputFile{StoredName: filepath.Base(path), Path: path, SizeBytes: size}

	var mirrorKey string
	if e.mirror != nil {
		key := storage.ObjectKey(job.ID, path)
		if err := e.mirror.Upload(bg, key, path); err != nil {
			log.Warn().Err(err).Msg("jobs: mirror upload failed")
		} else {
			mirrorKey = key
		}
	}

	done := progressComplete
	err = e.repo.Transition(bg, job.ID, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobUpdate{
		Progress:   &done,
		OutputFile: out,
		MirrorKey:  mirrorKey,
	})
	if err != nil {
		// The scheduler or a delete got there first; the output is orphaned.
		log.Warn().Err(err).Msg("jobs: completion rejected")
		e.removeOutput(path, "")
		e.removeMirror(bg, mirrorKey)
		return
	}

	job.Status = domain.JobStatusCompleted
	job.Progress = done
	job.OutputFile = out
	log.Info().
		Int64("bytes", size).
		Dur("elapsed", e.now().Sub(begin)).
		Msg("jobs: job completed")
	e.publish(domain.EventJobUpdated, job)
}

type execResult struct {
	res convert.Result
	err error
}

// abandon hands a handler that outlived its job context to a watcher which
// removes whatever it writes once it finally returns.
func (e *Engine) abandon(jobID string, outcome <-chan execResult, output string) {
	n := e.abandoned.Add(1)
	e.logger.Warn().Str("job_id", jobID).Int64("abandoned", n).Msg("jobs: handler ignored cancellation, worker released")
	e.stragglers.Add(1)
	go func() {
		defer e.stragglers.Done()
		r := <-outcome
		e.removeOutput(output, r.res.Path)
		left := e.abandoned.Add(-1)
		e.logger.Info().Str("job_id", jobID).Int64("abandoned", left).Msg("jobs: abandoned handler returned")
	}()
}

// Abandoned returns the number of handlers still running after their job
// was failed.
func (e *Engine) Abandoned() int64 {
	return e.abandoned.Load()
}

// progressReporter maps handler progress 0..100 onto 10..95 and only ever
// moves forward. Reports stop once run is done.
func (e *Engine) progressReporter(run context.Context, store context.Context, job *domain.Job) convert.ProgressFunc {
	var mu sync.Mutex
	last := progressStarted
	return func(p int) {
		if run.Err() != nil {
			return
		}
		mapped := MapProgress(p)
		mu.Lock()
		if mapped <= last {
			mu.Unlock()
			return
		}
		last = mapped
		mu.Unlock()

		if err := e.repo.UpdateProgress(store, job.ID, mapped); err != nil {
			e.logger.Debug().Err(err).Str("job_id", job.ID).Msg("jobs: progress update dropped")
			return
		}
		e.publish(domain.EventJobProgress, &domain.Job{
			ID:       job.ID,
			Tool:     job.Tool,
			Status:   domain.JobStatusProcessing,
			Progress: mapped,
		})
	}
}

// MapProgress converts handler progress into stored job progress.
func MapProgress(p int) int {
	p = min(max(p, 0), 100)
	return progressStarted + p*(progressCeiling-progressStarted)/100
}

func (e *Engine) failureMessage(ctx context.Context, err error) string {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, domain.ErrJobTimeout):
		return fmt.Sprintf("job timed out after %s", e.cfg.Timeout)
	case errors.Is(cause, errShutdown):
		return errShutdown.Error()
	case cause != nil && ctx.Err() != nil:
		return cause.Error()
	}
	return err.Error()
}

func (e *Engine) finishFailed(ctx context.Context, job *domain.Job, msg string) {
	if err := e.repo.Transition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, domain.JobUpdate{Error: msg}); err != nil {
		e.logger.Debug().Err(err).Str("job_id", job.ID).Msg("jobs: failure already recorded")
		return
	}
	job.Status = domain.JobStatusFailed
	job.Error = msg
	e.publish(domain.EventJobUpdated, job)
}

func (e *Engine) removeOutput(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := e.files.Remove(p); err != nil {
			e.logger.Warn().Err(err).Str("path", p).Msg("jobs: failed to remove output")
		}
	}
}

func (e *Engine) removeMirror(ctx context.Context, key string) {
	if e.mirror == nil || key == "" {
		return
	}
	if err := e.mirror.Remove(ctx, key); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("jobs: failed to remove mirrored output")
	}
}

func (e *Engine) track(id string, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// Abort cancels a running job with reason. It reports whether the job was
// running.
func (e *Engine) Abort(id string, reason error) bool {
	if reason == nil {
		reason = errAborted
	}
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel(reason)
	}
	return ok
}

// QueueDepth returns the number of jobs waiting for a worker.
func (e *Engine) QueueDepth() int {
	return e.pool.Pending()
}

// GetStatus returns the job or domain.ErrNotFound.
func (e *Engine) GetStatus(ctx context.Context, id string) (*domain.Job, error) {
	return e.repo.GetByID(ctx, id)
}

// List returns the most recently created jobs.
func (e *Engine) List(ctx context.Context, limit int) ([]domain.Job, error) {
	return e.repo.ListRecent(ctx, limit)
}

// Download returns the output of a completed job.
func (e *Engine) Download(ctx context.Context, id string) (domain.OutputFile, error) {
	job, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return domain.OutputFile{}, err
	}
	if job.Status != domain.JobStatusCompleted {
		return domain.OutputFile{}, fmt.Errorf("%w: job is %s", domain.ErrNotCompleted, job.Status)
	}
	if job.OutputFile == nil {
		return domain.OutputFile{}, fmt.Errorf("%w: job has no output", domain.ErrNotFound)
	}
	if _, err := e.files.Stat(job.OutputFile.Path); err != nil {
		return domain.OutputFile{}, err
	}
	return *job.OutputFile, nil
}

// MirrorURL returns a presigned link to the mirrored output, or "" when the
// job was not mirrored.
func (e *Engine) MirrorURL(ctx context.Context, job *domain.Job) (string, error) {
	if e.mirror == nil || job.MirrorKey == "" || job.Status != domain.JobStatusCompleted {
		return "", nil
	}
	ttl := time.Until(job.ExpiresAt)
	if ttl <= 0 {
		return "", nil
	}
	return e.mirror.DownloadURL(ctx, job.MirrorKey, ttl)
}

// Delete removes a job's files and record. Files still referenced by other
// live jobs are kept. Deleting a job that no longer exists is a no-op.
func (e *Engine) Delete(ctx context.Context, id string) error {
	job, err := e.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if job.Status.Live() {
		e.Abort(id, errAborted)
	}
	e.release(ctx, job)

	if err := e.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	e.logger.Info().Str("job_id", id).Msg("jobs: job deleted")
	e.publish(domain.EventJobDeleted, job)
	return nil
}

// release removes the job's files and mirrored object best effort.
func (e *Engine) release(ctx context.Context, job *domain.Job) {
	refs, err := ReferencedFiles(ctx, e.repo, e.now(), job.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: reference check failed, keeping inputs")
	}
	for _, path := range job.Paths() {
		if err != nil || refs[path] {
			continue
		}
		if rmErr := e.files.Remove(path); rmErr != nil {
			e.logger.Warn().Err(rmErr).Str("job_id", job.ID).Str("path", path).Msg("jobs: failed to remove file")
		}
	}
	e.removeMirror(ctx, job.MirrorKey)
}

// Release is used by the cleanup scheduler to drop an expired job's files.
func (e *Engine) Release(ctx context.Context, job *domain.Job) {
	e.release(ctx, job)
}

// Recover reconciles jobs left behind by a previous process: pending jobs
// are queued again and processing jobs are failed.
func (e *Engine) Recover(ctx context.Context) error {
	interrupted, err := e.repo.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}
	for i := range interrupted {
		job := &interrupted[i]
		if err := e.repo.Transition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, domain.JobUpdate{Error: "interrupted by restart"}); err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: could not fail interrupted job")
		}
	}

	pending, err := e.repo.ListByStatus(ctx, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	requeued := 0
	for i := range pending {
		job := &pending[i]
		handler, err := e.tools.Resolve(job.Tool)
		if err == nil {
			err = e.submit(job, handler)
		}
		if err != nil {
			if tErr := e.repo.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusFailed, domain.JobUpdate{Error: err.Error()}); tErr != nil {
				e.logger.Warn().Err(tErr).Str("job_id", job.ID).Msg("jobs: could not fail unrecoverable job")
			}
			continue
		}
		requeued++
	}

	e.logger.Info().
		Int("failed", len(interrupted)).
		Int("requeued", requeued).
		Msg("jobs: recovery finished")
	return nil
}

// Shutdown stops the pool. Jobs still queued are failed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel(errShutdown)
	}
	e.mu.Unlock()

	dropped, err := e.pool.Shutdown(ctx)
	if waitErr := e.waitStragglers(ctx); waitErr != nil && err == nil {
		err = waitErr
	}
	bg := context.WithoutCancel(ctx)
	for _, id := range dropped {
		if tErr := e.repo.Transition(bg, id, domain.JobStatusPending, domain.JobStatusFailed, domain.JobUpdate{Error: errShutdown.Error()}); tErr != nil {
			e.logger.Debug().Err(tErr).Str("job_id", id).Msg("jobs: queued job already settled")
		}
	}
	if len(dropped) > 0 {
		e.logger.Info().Int("jobs", len(dropped)).Msg("jobs: failed queued jobs on shutdown")
	}
	return err
}

// waitStragglers blocks until abandoned handlers return or ctx ends.
func (e *Engine) waitStragglers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.stragglers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.logger.Warn().Int64("abandoned", e.abandoned.Load()).Msg("jobs: shutdown left abandoned handlers running")
		return ctx.Err()
	}
}
