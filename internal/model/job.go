package model

import "time"

// JobStatus represents the state of an asynchronous per-prospect research job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// JobTypeDossier is the only job type currently produced by discovery.
const JobTypeDossier = "dossier"

// ResearchJob is created once per newly discovered prospect.
type ResearchJob struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ProspectKey string    `json:"prospect_key"`
	JobType     string    `json:"job_type"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job will not change status again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}
