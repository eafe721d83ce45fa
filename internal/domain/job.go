package domain

import (
	"path/filepath"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Live reports whether a job in this status may still touch its files.
func (s JobStatus) Live() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileRef describes one input file owned by a job.
type FileRef struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"sizeBytes"`
	MediaType    string `json:"mediaType"`
}

// OutputFile describes the artifact produced by a completed job.
type OutputFile struct {
	StoredName string `json:"storedName"`
	Path       string `json:"path"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// Job is one requested transformation over one or more uploaded files.
type Job struct {
	ID         string
	Status     JobStatus
	Tool       string
	InputFiles []FileRef
	OutputFile *OutputFile
	Options    Options
	Progress   int
	Error      string
	MirrorKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the job's TTL elapsed at the given instant.
func (j *Job) Expired(at time.Time) bool {
	return !j.ExpiresAt.After(at)
}

// Paths returns every file path the job references.
func (j *Job) Paths() []string {
	paths := make([]string, 0, len(j.InputFiles)+1)
	for _, in := range j.InputFiles {
		if in.Path != "" {
			paths = append(paths, filepath.Clean(in.Path))
		}
	}
	if j.OutputFile != nil && j.OutputFile.Path != "" {
		paths = append(paths, filepath.Clean(j.OutputFile.Path))
	}
	return paths
}

// Clone returns a deep copy so stores can hand out values without aliasing.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.InputFiles = append([]FileRef(nil), j.InputFiles...)
	if j.OutputFile != nil {
		out := *j.OutputFile
		cp.OutputFile = &out
	}
	cp.Options = j.Options.Clone()
	return &cp
}

// JobUpdate carries the fields written alongside a status transition.
type JobUpdate struct {
	Progress   *int
	OutputFile *OutputFile
	Error      string
	MirrorKey  string
}

// UploadedFile is a file accepted by intake and not yet owned by a job.
type UploadedFile struct {
	ID           string
	StoredName   string
	OriginalName string
	StoredPath   string
	MediaType    string
	SizeBytes    int64
}
