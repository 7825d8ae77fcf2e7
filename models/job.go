package models

import (
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusUploading  Status = "uploading"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Job tracks a single video through the removal pipeline:
// upload to the file host, prediction creation, polling, result download.
type Job struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Status     Status    `json:"status"`
	UploadURL  string    `json:"upload_url,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	ResultURL  string    `json:"result_url,omitempty"`
	OutputPath string    `json:"-"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Status check methods
func (j *Job) IsQueued() bool    { return j.Status == StatusQueued }
func (j *Job) IsCompleted() bool { return j.Status == StatusCompleted }
func (j *Job) IsFailed() bool    { return j.Status == StatusFailed }
func (j *Job) IsCanceled() bool  { return j.Status == StatusCanceled }

// IsActive reports whether the job is still somewhere in the pipeline.
func (j *Job) IsActive() bool {
	switch j.Status {
	case StatusQueued, StatusUploading, StatusSubmitted, StatusProcessing:
		return true
	}
	return false
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return !j.IsActive()
}

// IsStale checks if the job has been stuck in the pipeline for too long
func (j *Job) IsStale(timeout time.Duration) bool {
	if !j.IsActive() {
		return false
	}
	return time.Since(j.UpdatedAt) > timeout
}

// Clone returns an independent copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// Fail moves the job to the failed state, recording the cause.
func (j *Job) Fail(err error) {
	j.Status = StatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.UpdatedAt = time.Now()
}

// Advance moves the job to the next pipeline stage, clearing any stale error.
func (j *Job) Advance(status Status) {
	j.Status = status
	j.Error = ""
	j.UpdatedAt = time.Now()
}
