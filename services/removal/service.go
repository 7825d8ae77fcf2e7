package removal

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"demark/errors"
	"demark/filehost"
	"demark/models"
	"demark/repository"
	"demark/validation"
	"demark/wavespeed"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Repository = repository.JobRepository

type service struct {
	repo      Repository
	client    *wavespeed.Client
	host      filehost.Host
	validator *validation.Validator
	config    Config
	queue     *JobQueue
	limiter   *rate.Limiter
	logger    *logrus.Logger
	quit      chan struct{}
}

func NewService(
	repo Repository,
	client *wavespeed.Client,
	host filehost.Host,
	validator *validation.Validator,
	config Config,
	log *logrus.Logger,
) Service {
	if log == nil {
		log = logrus.StandardLogger()
	}

	workers := config.Tier.Concurrency()
	rpm := config.SubmitPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := config.SubmitBurst
	if burst <= 0 {
		burst = workers
	}

	s := &service{
		repo:      repo,
		client:    client,
		host:      host,
		validator: validator,
		config:    config,
		queue:     NewJobQueue(workers, workers*10, log),
		limiter:   rate.NewLimiter(rate.Limit(rpm)/60, burst),
		logger:    log,
		quit:      make(chan struct{}),
	}
	s.queue.Start(s.processJob)
	go s.monitorStaleJobs()

	return s
}

func (s *service) SubmitBatch(
	ctx context.Context,
	files []*multipart.FileHeader,
	apiKey string,
) ([]*models.Job, error) {
	const op = "RemovalService.SubmitBatch"
	logger := s.logger.WithFields(logrus.Fields{
		"operation": op,
		"files":     len(files),
	})
	logger.Info("Received batch submission")

	if err := s.validator.ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateBatch(files); err != nil {
		logger.WithError(err).Info("Batch validation failed")
		return nil, err
	}
	if !s.limiter.Allow() {
		return nil, errors.RateLimitExceeded(op)
	}

	client := s.client.WithAPIKey(apiKey)
	host := s.host
	if apiKey != "" && s.config.FileHostProvider == "wavespeed" {
		host = filehost.NewWaveSpeedHost(client)
	}

	jobs := make([]*models.Job, 0, len(files))
	for _, fh := range files {
		job, err := s.enqueueFile(ctx, fh, client, host)
		if err != nil {
			logger.WithError(err).WithField("filename", fh.Filename).
				Error("Failed to enqueue file")
			// Earlier files of the batch are already running; surface
			// the failure on this job instead of aborting the batch.
			job = s.failedJob(ctx, fh, err)
		}
		jobs = append(jobs, job)
	}

	logger.WithField("jobs", len(jobs)).Info("Batch enqueued")
	return jobs, nil
}

func (s *service) enqueueFile(
	ctx context.Context,
	fh *multipart.FileHeader,
	client *wavespeed.Client,
	host filehost.Host,
) (*models.Job, error) {
	const op = "RemovalService.enqueueFile"

	now := time.Now()
	job := &models.Job{
		ID:        uuid.New().String(),
		Filename:  fh.Filename,
		Size:      fh.Size,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sourcePath, err := s.stageUpload(fh, job.ID)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to stage upload")
	}

	if err := s.repo.Save(ctx, job); err != nil {
		os.Remove(sourcePath)
		return nil, err
	}

	// The worker owns job once it is submitted; the caller gets a snapshot
	// so the response can be marshaled while the pipeline advances.
	snapshot := job.Clone()

	// Jobs outlive the request; the pipeline runs on its own context.
	if err := s.queue.Submit(context.Background(), job, sourcePath, client, host); err != nil {
		os.Remove(sourcePath)
		return nil, errors.E(op, err, "Job queue is full, try again later", http.StatusServiceUnavailable)
	}

	return snapshot, nil
}

// stageUpload spools the multipart file to disk so the pipeline can read it
// after the request body is gone.
func (s *service) stageUpload(fh *multipart.FileHeader, jobID string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(s.config.TempDir, jobID+filepath.Ext(fh.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *service) failedJob(ctx context.Context, fh *multipart.FileHeader, cause error) *models.Job {
	now := time.Now()
	job := &models.Job{
		ID:        uuid.New().String(),
		Filename:  fh.Filename,
		Size:      fh.Size,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.Fail(cause)
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.WithError(err).Error("Failed to save rejected job")
	}
	return job
}

func (s *service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	const op = "RemovalService.GetJob"

	if id == "" {
		return nil, errors.InvalidInput(op, nil, "ID is required")
	}

	return s.repo.Find(ctx, id)
}

func (s *service) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return s.repo.List(ctx)
}

func (s *service) Cancel(ctx context.Context, id string) error {
	const op = "RemovalService.Cancel"

	job, err := s.repo.Find(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return errors.Conflict(op, nil, "Job already finished")
	}

	if !s.queue.Cancel(id) {
		// The pool let go of the job between the lookup and the cancel
		// attempt. Re-read before writing so a finished status survives.
		job, err = s.repo.Find(ctx, id)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			return errors.Conflict(op, nil, "Job already finished")
		}
		job.Advance(models.StatusCanceled)
		return s.repo.Save(ctx, job)
	}
	return nil
}

func (s *service) Close() {
	close(s.quit)
	s.queue.Close()
}

// monitorStaleJobs sweeps for jobs persisted as active that have stopped
// moving, such as leftovers from a crashed run.
func (s *service) monitorStaleJobs() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.failStaleJobs()
		}
	}
}

func (s *service) failStaleJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-2 * s.processTimeout())
	stale, err := s.repo.FindStale(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Stale job sweep failed")
		return
	}

	for _, job := range stale {
		// Jobs still in the pool are the hung-job monitor's concern.
		if s.queue.Active(job.ID) {
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"job_id":     job.ID,
			"updated_at": job.UpdatedAt,
		}).Warn("Failing stale job")
		job.Fail(fmt.Errorf("no progress since %s", job.UpdatedAt.Format(time.RFC3339)))
		s.save(job)
	}
}

// processJob runs the four pipeline stages for one video, persisting every
// transition so status polls see progress.
func (s *service) processJob(ctx context.Context, pj *pipelineJob) {
	job := pj.Job
	logger := s.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"filename": job.Filename,
	})
	defer os.Remove(pj.SourcePath)

	ctx, cancel := context.WithTimeout(ctx, s.processTimeout())
	defer cancel()

	client, host := pj.client, pj.host
	if client == nil {
		client = s.client
	}
	if host == nil {
		host = s.host
	}

	// Stage 1: upload to the temporary file host
	s.transition(job, models.StatusUploading)
	uploadURL, err := s.uploadSource(ctx, pj, host)
	if err != nil {
		s.finishWithError(ctx, job, logger, "Upload failed", err)
		return
	}
	job.UploadURL = uploadURL
	logger.WithField("upload_url", uploadURL).Info("Video uploaded")

	// Stage 2: create the prediction
	s.transition(job, models.StatusSubmitted)
	requestID, err := client.CreatePrediction(ctx, uploadURL)
	if err != nil {
		s.finishWithError(ctx, job, logger, "Prediction creation failed", err)
		return
	}
	job.RequestID = requestID
	logger.WithField("request_id", requestID).Info("Prediction created")

	// Stage 3: poll until the remote service finishes
	s.transition(job, models.StatusProcessing)
	result, err := client.WaitForResult(ctx, requestID)
	if err != nil {
		s.finishWithError(ctx, job, logger, "Polling failed", err)
		return
	}
	if !result.Succeeded() {
		s.finishWithError(ctx, job, logger, "Processing failed",
			fmt.Errorf("remote status %q", result.Status))
		return
	}
	job.ResultURL = result.ResultURL

	// Stage 4: fetch the processed file
	outputPath := filepath.Join(s.config.ResultsDir, job.ID+filepath.Ext(job.Filename))
	if err := client.Download(ctx, result.ResultURL, outputPath); err != nil {
		s.finishWithError(ctx, job, logger, "Result download failed", err)
		return
	}
	job.OutputPath = outputPath

	job.Advance(models.StatusCompleted)
	s.save(job)
	logger.WithField("output_path", outputPath).Info("Job completed")
}

func (s *service) uploadSource(ctx context.Context, pj *pipelineJob, host filehost.Host) (string, error) {
	f, err := os.Open(pj.SourcePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return host.Upload(ctx, pj.Job.Filename, f)
}

func (s *service) transition(job *models.Job, status models.Status) {
	job.Advance(status)
	s.save(job)
}

func (s *service) finishWithError(
	ctx context.Context,
	job *models.Job,
	logger *logrus.Entry,
	message string,
	err error,
) {
	if ctx.Err() == context.Canceled {
		logger.Info("Job canceled")
		job.Advance(models.StatusCanceled)
	} else {
		logger.WithError(err).Error(message)
		job.Fail(fmt.Errorf("%s: %w", message, err))
	}
	s.save(job)
}

func (s *service) save(job *models.Job) {
	// Persist with a fresh context; the job context may already be done.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.Save(saveCtx, job); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).
			Error("Failed to save job state")
	}
}

func (s *service) processTimeout() time.Duration {
	if s.config.ProcessTimeout > 0 {
		return s.config.ProcessTimeout
	}
	return 15 * time.Minute
}
