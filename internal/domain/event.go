package domain

import "time"

// JobEvent is emitted whenever a job is created, changes status, reports
// progress or is removed.
type JobEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"jobId"`
	Tool      string    `json:"tool,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventJobCreated  = "job_created"
	EventJobUpdated  = "job_update"
	EventJobProgress = "job_progress"
	EventJobDeleted  = "job_deleted"
)

// NewJobEvent snapshots the job into an event of the given type.
func NewJobEvent(eventType string, job *Job, at time.Time) JobEvent {
	return JobEvent{
		Type:      eventType,
		JobID:     job.ID,
		Tool:      job.Tool,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.Error,
		Timestamp: at.UTC(),
	}
}
