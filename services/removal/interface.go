package removal

import (
	"context"
	"mime/multipart"
	"time"

	"demark/models"
)

type Service interface {
	// SubmitBatch validates the uploaded files, creates one job per file
	// and enqueues them. It returns as soon as the jobs are queued.
	SubmitBatch(ctx context.Context, files []*multipart.FileHeader, apiKey string) ([]*models.Job, error)

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// ListJobs returns every job of the current run, newest first
	ListJobs(ctx context.Context) ([]*models.Job, error)

	// Cancel stops a queued or running job
	Cancel(ctx context.Context, id string) error

	// Close drains the worker pool
	Close()
}

type Config struct {
	// Tier decides how many pipelines may run concurrently
	Tier models.Tier `json:"tier"`

	// FileHostProvider mirrors the configured temporary file host; uploads
	// follow a per-request API key only on the wavespeed host.
	FileHostProvider string `json:"file_host_provider"`

	// TempDir stages uploaded files until a worker picks them up
	TempDir string `json:"temp_dir"`

	// ResultsDir receives downloaded result files
	ResultsDir string `json:"results_dir"`

	// ProcessTimeout is the maximum time allowed for a single pipeline
	ProcessTimeout time.Duration `json:"process_timeout"`

	// SubmitPerMinute throttles batch submissions
	SubmitPerMinute int `json:"submit_per_minute"`
	SubmitBurst     int `json:"submit_burst"`
}
