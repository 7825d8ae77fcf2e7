package removal

import (
	"context"
	"errors"
	"sync"
	"time"

	"demark/filehost"
	"demark/models"
	"demark/wavespeed"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrQueueFull = errors.New("job queue is full")
)

// JobQueue runs removal pipelines on a fixed pool of workers. The worker
// count is the account tier's concurrency allowance, so at most that many
// pipelines hit the remote API at once.
type JobQueue struct {
	jobs        chan *pipelineJob
	activeJobs  map[string]*pipelineJob
	workerCount int
	maxJobs     int
	mu          sync.Mutex
	quit        chan struct{}
	wg          sync.WaitGroup
	log         *logrus.Logger
}

type pipelineJob struct {
	ID         string
	Job        *models.Job
	SourcePath string
	// client and host are the batch's, carrying any per-request API key.
	client     *wavespeed.Client
	host       filehost.Host
	ctx        context.Context
	cancelFunc context.CancelFunc
	startTime  time.Time
}

func NewJobQueue(workerCount, maxQueueSize int, log *logrus.Logger) *JobQueue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &JobQueue{
		jobs:        make(chan *pipelineJob, maxQueueSize),
		activeJobs:  make(map[string]*pipelineJob),
		workerCount: workerCount,
		maxJobs:     maxQueueSize,
		quit:        make(chan struct{}),
		log:         log,
	}
}

// Start begins processing jobs
func (q *JobQueue) Start(processFunc func(context.Context, *pipelineJob)) {
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i, processFunc)
	}

	// Watch for pipelines stuck on the remote API
	go q.monitorHungJobs()
}

// Submit adds a job to the queue
func (q *JobQueue) Submit(
	ctx context.Context,
	job *models.Job,
	sourcePath string,
	client *wavespeed.Client,
	host filehost.Host,
) error {
	jobCtx, cancel := context.WithCancel(ctx)

	pj := &pipelineJob{
		ID:         job.ID,
		Job:        job,
		SourcePath: sourcePath,
		client:     client,
		host:       host,
		ctx:        jobCtx,
		cancelFunc: cancel,
		startTime:  time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) >= q.maxJobs {
		cancel() // Clean up context
		return ErrQueueFull
	}

	q.activeJobs[pj.ID] = pj
	q.jobs <- pj

	return nil
}

// Cancel attempts to cancel a queued or running job
func (q *JobQueue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	pj, exists := q.activeJobs[jobID]
	if !exists {
		return false
	}

	pj.cancelFunc()
	return true
}

// Active reports whether the job is queued or running.
func (q *JobQueue) Active(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, exists := q.activeJobs[jobID]
	return exists
}

// worker processes jobs from the queue
func (q *JobQueue) worker(id int, processFunc func(context.Context, *pipelineJob)) {
	defer q.wg.Done()

	log := q.log.WithField("worker_id", id)
	log.Debug("Starting worker")

	for {
		select {
		case <-q.quit:
			log.Debug("Worker shutting down")
			return
		case pj := <-q.jobs:
			start := time.Now()
			log.WithField("job_id", pj.ID).Info("Started processing job")

			processFunc(pj.ctx, pj)
			pj.cancelFunc()

			q.mu.Lock()
			delete(q.activeJobs, pj.ID)
			q.mu.Unlock()

			log.WithFields(logrus.Fields{
				"job_id":      pj.ID,
				"duration_ms": time.Since(start).Milliseconds(),
				"status":      pj.Job.Status,
			}).Info("Job finished")
		}
	}
}

// Close shuts down the queue and cancels everything still in flight.
func (q *JobQueue) Close() {
	close(q.quit)

	q.mu.Lock()
	for _, pj := range q.activeJobs {
		pj.cancelFunc()
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// monitorHungJobs periodically checks for hung jobs
func (q *JobQueue) monitorHungJobs() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-q.quit:
			return
		case <-ticker.C:
			q.checkHungJobs()
		}
	}
}

// checkHungJobs looks for jobs that have been running too long
func (q *JobQueue) checkHungJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	hungTimeout := 30 * time.Minute

	for id, pj := range q.activeJobs {
		if now.Sub(pj.startTime) > hungTimeout {
			q.log.WithFields(logrus.Fields{
				"job_id":   id,
				"duration": now.Sub(pj.startTime),
			}).Warn("Found hung job")
			// Log but don't automatically cancel - that should be a separate policy decision
		}
	}
}
