package jobs

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docify/internal/adapter/repo"
	"docify/internal/convert"
	"docify/internal/domain"
	"docify/internal/infra"
	"docify/internal/storage"
)

type fakeHandler struct {
	run func(ctx context.Context, req convert.Request, progress convert.ProgressFunc) error
}

func (fakeHandler) Validate(n int, _ domain.Options) error {
	if n < 1 {
		return domain.ErrValidation
	}
	return nil
}

func (fakeHandler) Output(domain.Options) convert.OutputSpec {
	return convert.OutputSpec{Suffix: "out", Ext: ".txt"}
}

func (h fakeHandler) Execute(ctx context.Context, req convert.Request, progress convert.ProgressFunc) (convert.Result, error) {
	return convert.Result{Path: req.Output}, h.run(ctx, req, progress)
}

type fakeResolver map[string]convert.Handler

func (r fakeResolver) Resolve(tool string) (convert.Handler, error) {
	if h, ok := r[tool]; ok {
		return h, nil
	}
	return nil, domain.ErrUnsupportedTool
}

func writeOutput(_ context.Context, req convert.Request, progress convert.ProgressFunc) error {
	progress(50)
	return os.WriteFile(req.Output, []byte("done"), 0o644)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (n *recordingNotifier) Publish(ev domain.JobEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types(jobID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		if ev.JobID == jobID {
			out = append(out, ev.Type+":"+string(ev.Status))
		}
	}
	return out
}

type harness struct {
	engine *Engine
	repo   *repo.JobRepositoryMemory
	files  *storage.FileStore
	events *recordingNotifier
}

func newHarness(t *testing.T, cfg Config, tools fakeResolver) *harness {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 10
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	h := &harness{
		repo:   repo.NewMemoryJobRepository(),
		files:  files,
		events: &recordingNotifier{},
	}
	h.engine = NewEngine(h.repo, tools, files, cfg, infra.NopLogger(), WithNotifier(h.events))
	t.Cleanup(func() {
		_ = h.engine.Shutdown(context.Background())
	})
	return h
}

func (h *harness) upload(t *testing.T, id string) {
	t.Helper()
	if _, _, err := h.files.Save(context.Background(), storage.NamespaceTemp, id+".pdf", strings.NewReader("%PDF-1.4"), 1<<20); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func (h *harness) waitFor(t *testing.T, id string, want domain.JobStatus) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.engine.GetStatus(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, err := h.engine.GetStatus(context.Background(), id)
	t.Fatalf("job %s did not reach %s: %+v (%v)", id, want, job, err)
	return nil
}

func TestCreateReturnsPendingJobWithUniqueID(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{}, fakeResolver{"slow": fakeHandler{run: func(ctx context.Context, req convert.Request, p convert.ProgressFunc) error {
		<-release
		return writeOutput(ctx, req, p)
	}}})
	defer close(release)
	h.upload(t, "f1")

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		job, err := h.engine.Create(context.Background(), "slow", []string{"f1"}, nil)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if job.Status != domain.JobStatusPending || job.Progress != 0 {
			t.Fatalf("Create() status = %s progress = %d, want pending 0", job.Status, job.Progress)
		}
		if seen[job.ID] {
			t.Fatalf("duplicate job id %s", job.ID)
		}
		seen[job.ID] = true
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, Config{}, fakeResolver{"ok": fakeHandler{run: writeOutput}})

	if _, err := h.engine.Create(context.Background(), "nope", []string{"x"}, nil); !errors.Is(err, domain.ErrUnsupportedTool) {
		t.Fatalf("unknown tool error = %v", err)
	}
	if _, err := h.engine.Create(context.Background(), "ok", nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("no files error = %v", err)
	}
	if _, err := h.engine.Create(context.Background(), "ok", []string{"missing"}, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing upload error = %v", err)
	}
	if h.repo.Len() != 0 {
		t.Fatalf("rejected requests left %d jobs", h.repo.Len())
	}
}

func TestJobCompletes(t *testing.T) {
	h := newHarness(t, Config{}, fakeResolver{"ok": fakeHandler{run: writeOutput}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "ok", []string{"f1"}, domain.Options{"k": "v"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	done := h.waitFor(t, job.ID, domain.JobStatusCompleted)

	if done.Progress != 100 || done.Error != "" || done.OutputFile == nil {
		t.Fatalf("completed job = %+v", done)
	}
	if done.OutputFile.SizeBytes != 4 || !strings.HasSuffix(done.OutputFile.StoredName, "_out.txt") {
		t.Fatalf("output file = %+v", done.OutputFile)
	}

	out, err := h.engine.Download(context.Background(), job.ID)
	if err != nil || out.Path != done.OutputFile.Path {
		t.Fatalf("Download() = %+v, %v", out, err)
	}

	want := []string{"job_created:pending", "job_update:processing", "job_progress:processing", "job_update:completed"}
	if got := h.events.types(job.ID); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestJobFailureRecordsError(t *testing.T) {
	h := newHarness(t, Config{}, fakeResolver{"bad": fakeHandler{run: func(context.Context, convert.Request, convert.ProgressFunc) error {
		return errors.New("corrupt input")
	}}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "bad", []string{"f1"}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	failed := h.waitFor(t, job.ID, domain.JobStatusFailed)
	if failed.Error != "corrupt input" || failed.OutputFile != nil {
		t.Fatalf("failed job = %+v", failed)
	}
	if _, err := h.engine.Download(context.Background(), job.ID); !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("Download() error = %v, want ErrNotCompleted", err)
	}
}

func TestJobTimeout(t *testing.T) {
	h := newHarness(t, Config{Timeout: 50 * time.Millisecond}, fakeResolver{"hang": fakeHandler{run: func(ctx context.Context, _ convert.Request, _ convert.ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	}}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "hang", []string{"f1"}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	failed := h.waitFor(t, job.ID, domain.JobStatusFailed)
	if failed.Error != "job timed out after 50ms" {
		t.Fatalf("Error = %q", failed.Error)
	}
}

func TestJobTimeoutWithHandlerIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{Workers: 1, Timeout: 50 * time.Millisecond}, fakeResolver{
		"stuck": fakeHandler{run: func(_ context.Context, req convert.Request, p convert.ProgressFunc) error {
			<-release
			p(80)
			return os.WriteFile(req.Output, []byte("late"), 0o644)
		}},
		"ok": fakeHandler{run: writeOutput},
	})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "stuck", []string{"f1"}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	failed := h.waitFor(t, job.ID, domain.JobStatusFailed)
	if failed.Error != "job timed out after 50ms" {
		t.Fatalf("Error = %q", failed.Error)
	}
	if h.engine.Abandoned() != 1 {
		t.Fatalf("Abandoned() = %d, want 1", h.engine.Abandoned())
	}

	// The single worker is free again while the stuck handler still runs.
	next, err := h.engine.Create(context.Background(), "ok", []string{"f1"}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	h.waitFor(t, next.ID, domain.JobStatusCompleted)

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for h.engine.Abandoned() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.engine.Abandoned() != 0 {
		t.Fatalf("abandoned handler was never collected")
	}
	output := h.files.ResultPath(job.ID, "out", ".txt")
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("abandoned output still on disk: %v", err)
	}
	got, err := h.engine.GetStatus(context.Background(), job.ID)
	if err != nil || got.Status != domain.JobStatusFailed || got.Progress != failed.Progress {
		t.Fatalf("late handler changed the job: %+v, %v", got, err)
	}
	for _, ev := range h.events.types(job.ID) {
		if ev == "job_update:completed" {
			t.Fatalf("late handler published completion: %v", h.events.types(job.ID))
		}
	}
}

func TestQueueFullDiscardsJob(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{Workers: 1, QueueSize: 1}, fakeResolver{"block": fakeHandler{run: func(ctx context.Context, req convert.Request, p convert.ProgressFunc) error {
		<-release
		return writeOutput(ctx, req, p)
	}}})
	h.upload(t, "f1")

	first, err := h.engine.Create(context.Background(), "block", []string{"f1"}, nil)
	if err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	h.waitFor(t, first.ID, domain.JobStatusProcessing)

	if _, err := h.engine.Create(context.Background(), "block", []string{"f1"}, nil); err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if _, err := h.engine.Create(context.Background(), "block", []string{"f1"}, nil); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("third Create() error = %v, want ErrQueueFull", err)
	}
	if h.repo.Len() != 2 {
		t.Fatalf("stored jobs = %d, want 2", h.repo.Len())
	}
	close(release)
	h.waitFor(t, first.ID, domain.JobStatusCompleted)
}

func TestConcurrencyIsBounded(t *testing.T) {
	var active, peak atomic.Int32
	h := newHarness(t, Config{Workers: 2, QueueSize: 10}, fakeResolver{"track": fakeHandler{run: func(ctx context.Context, req convert.Request, p convert.ProgressFunc) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return writeOutput(ctx, req, p)
	}}})
	h.upload(t, "f1")

	var ids []string
	for i := 0; i < 6; i++ {
		job, err := h.engine.Create(context.Background(), "track", []string{"f1"}, nil)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		h.waitFor(t, id, domain.JobStatusCompleted)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{}, fakeResolver{"ok": fakeHandler{run: writeOutput}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "ok", []string{"f1"}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	done := h.waitFor(t, job.ID, domain.JobStatusCompleted)

	if err := h.engine.Delete(context.Background(), job.ID); err != nil {
		t.Fatalf("first Delete() error = %v", err)
	}
	if err := h.engine.Delete(context.Background(), job.ID); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := h.engine.GetStatus(context.Background(), job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetStatus() after delete error = %v", err)
	}
	for _, p := range []string{done.OutputFile.Path, done.InputFiles[0].Path} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still exists after delete", p)
		}
	}
}

func TestDeleteKeepsInputsOfOtherJobs(t *testing.T) {
	h := newHarness(t, Config{}, fakeResolver{"ok": fakeHandler{run: writeOutput}})
	h.upload(t, "shared")

	a, err := h.engine.Create(context.Background(), "ok", []string{"shared"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.engine.Create(context.Background(), "ok", []string{"shared"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.waitFor(t, a.ID, domain.JobStatusCompleted)
	h.waitFor(t, b.ID, domain.JobStatusCompleted)

	if err := h.engine.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(a.InputFiles[0].Path); err != nil {
		t.Fatalf("shared input removed while job %s still references it: %v", b.ID, err)
	}
	if _, err := h.engine.Download(context.Background(), b.ID); err != nil {
		t.Fatalf("Download(%s) error = %v", b.ID, err)
	}
}

func TestDeleteAbortsRunningJob(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, Config{}, fakeResolver{"hang": fakeHandler{run: func(ctx context.Context, _ convert.Request, _ convert.ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "hang", []string{"f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if err := h.engine.Delete(context.Background(), job.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := h.engine.GetStatus(context.Background(), job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetStatus() error = %v", err)
	}
}

func TestAbortFailsJobWithReason(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, Config{}, fakeResolver{"hang": fakeHandler{run: func(ctx context.Context, _ convert.Request, _ convert.ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "hang", []string{"f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if !h.engine.Abort(job.ID, errors.New("expired before completion")) {
		t.Fatalf("Abort() = false for a running job")
	}
	failed := h.waitFor(t, job.ID, domain.JobStatusFailed)
	if failed.Error != "expired before completion" {
		t.Fatalf("Error = %q", failed.Error)
	}
	if h.engine.Abort("unknown", nil) {
		t.Fatalf("Abort() = true for an unknown job")
	}
}

func TestRecover(t *testing.T) {
	h := newHarness(t, Config{}, fakeResolver{"ok": fakeHandler{run: writeOutput}})
	h.upload(t, "f1")
	path, err := h.files.ResolveUpload("f1")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	input := []domain.FileRef{{StoredName: "f1.pdf", Path: path}}
	for _, j := range []*domain.Job{
		{ID: "left-pending", Status: domain.JobStatusPending, Tool: "ok", InputFiles: input, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "left-running", Status: domain.JobStatusProcessing, Tool: "ok", InputFiles: input, Progress: 40, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "left-unknown", Status: domain.JobStatusPending, Tool: "gone", InputFiles: input, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		if err := h.repo.Create(context.Background(), j); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.engine.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	if got := h.waitFor(t, "left-running", domain.JobStatusFailed); got.Error != "interrupted by restart" {
		t.Fatalf("interrupted job error = %q", got.Error)
	}
	h.waitFor(t, "left-pending", domain.JobStatusCompleted)
	h.waitFor(t, "left-unknown", domain.JobStatusFailed)
}

func TestMapProgress(t *testing.T) {
	tests := map[int]int{-5: 10, 0: 10, 50: 52, 100: 95, 250: 95}
	for in, want := range tests {
		if got := MapProgress(in); got != want {
			t.Fatalf("MapProgress(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	var observed []int
	h := newHarness(t, Config{}, fakeResolver{"wobble": fakeHandler{run: func(ctx context.Context, req convert.Request, p convert.ProgressFunc) error {
		for _, v := range []int{30, 20, 60, 60, 10, 90} {
			p(v)
		}
		return os.WriteFile(req.Output, []byte("x"), 0o644)
	}}})
	h.upload(t, "f1")

	job, err := h.engine.Create(context.Background(), "wobble", []string{"f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.waitFor(t, job.ID, domain.JobStatusCompleted)

	h.events.mu.Lock()
	for _, ev := range h.events.events {
		if ev.JobID == job.ID && ev.Type == domain.EventJobProgress {
			observed = append(observed, ev.Progress)
		}
	}
	h.events.mu.Unlock()

	want := []int{35, 61, 86}
	if len(observed) != len(want) {
		t.Fatalf("progress events = %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("progress events = %v, want %v", observed, want)
		}
	}
}

func TestReferencedFiles(t *testing.T) {
	r := repo.NewMemoryJobRepository()
	now := time.Now().UTC()
	jobs := []*domain.Job{
		{ID: "live", Status: domain.JobStatusProcessing, InputFiles: []domain.FileRef{{Path: "/u/temp/a.pdf"}}, ExpiresAt: now.Add(-time.Minute)},
		{ID: "fresh", Status: domain.JobStatusCompleted, InputFiles: []domain.FileRef{{Path: "/u/temp/b.pdf"}}, OutputFile: &domain.OutputFile{Path: "/u/results/b_out.pdf"}, ExpiresAt: now.Add(time.Hour)},
		{ID: "stale", Status: domain.JobStatusCompleted, InputFiles: []domain.FileRef{{Path: "/u/temp/c.pdf"}}, ExpiresAt: now.Add(-time.Minute)},
	}
	for _, j := range jobs {
		if err := r.Create(context.Background(), j); err != nil {
			t.Fatal(err)
		}
	}

	refs, err := ReferencedFiles(context.Background(), r, now, "fresh")
	if err != nil {
		t.Fatalf("ReferencedFiles() error = %v", err)
	}
	if !refs["/u/temp/a.pdf"] || refs["/u/temp/b.pdf"] || refs["/u/results/b_out.pdf"] || refs["/u/temp/c.pdf"] {
		t.Fatalf("refs = %v", refs)
	}
}
