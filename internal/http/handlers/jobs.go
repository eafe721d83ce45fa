package handlers

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"docify/internal/domain"
)

const recentJobsLimit = 50

type jobView struct {
	JobID       string           `json:"jobId"`
	Status      domain.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	Tool        string           `json:"tool"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	DownloadURL string           `json:"downloadUrl,omitempty"`
	MirrorURL   string           `json:"mirrorUrl,omitempty"`
	OutputFile  string           `json:"outputFile,omitempty"`
}

func newJobView(job *domain.Job) jobView {
	v := jobView{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Tool:      job.Tool,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		ExpiresAt: job.ExpiresAt,
	}
	if job.Status == domain.JobStatusCompleted {
		v.DownloadURL = "/api/jobs/" + job.ID + "/download"
		if job.OutputFile != nil {
			v.OutputFile = job.OutputFile.StoredName
		}
	}
	return v
}

// JobStatus reports a single job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	view := newJobView(job)
	if url, err := a.Jobs.MirrorURL(r.Context(), job); err != nil {
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("http: mirror url unavailable")
	} else {
		view.MirrorURL = url
	}
	a.ok(w, view)
}

// ListJobs returns the most recent jobs.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Jobs.List(r.Context(), recentJobsLimit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for i := range jobs {
		out = append(out, newJobView(&jobs[i]))
	}
	a.ok(w, out)
}

// DownloadJob streams a completed job's output as an attachment.
func (a *App) DownloadJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusBadRequest, "Job not completed yet")
		return
	}
	out, err := a.Jobs.Download(r.Context(), job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Output file not found")
			return
		}
		a.fail(w, r, err)
		return
	}

	f, err := os.Open(out.Path)
	if err != nil {
		a.error(w, http.StatusNotFound, "Output file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(out.StoredName)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.StoredName}))
	http.ServeContent(w, r, out.StoredName, info.ModTime(), f)
}

// DeleteJob removes a job and its files.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	if err := a.Jobs.Delete(r.Context(), job.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, envelope{Success: true, Message: "Job deleted"})
}

func (a *App) loadJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	job, err := a.Jobs.GetStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
		} else {
			a.fail(w, r, err)
		}
		return nil, false
	}
	return job, true
}
