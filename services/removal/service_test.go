package removal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"demark/config"
	"demark/errors"
	"demark/models"
	"demark/validation"
	"demark/wavespeed"
)

// memoryRepo is an in-memory JobRepository for service tests.
type memoryRepo struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{jobs: make(map[string]models.Job)}
}

func (r *memoryRepo) Save(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memoryRepo) Find(ctx context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.NotFound("memoryRepo.Find", nil, "Job not found")
	}
	return &job, nil
}

func (r *memoryRepo) List(ctx context.Context) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		j := job
		out = append(out, &j)
	}
	return out, nil
}

func (r *memoryRepo) FindStale(ctx context.Context, before time.Time) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Job
	for _, job := range r.jobs {
		j := job
		if j.IsActive() && j.UpdatedAt.Before(before) {
			out = append(out, &j)
		}
	}
	return out, nil
}

// finishingRepo completes the job right after the first lookup, imitating a
// pipeline that finishes while a cancel request is in flight.
type finishingRepo struct {
	*memoryRepo
	finds int32
}

func (r *finishingRepo) Find(ctx context.Context, id string) (*models.Job, error) {
	if atomic.AddInt32(&r.finds, 1) == 2 {
		if job, err := r.memoryRepo.Find(ctx, id); err == nil {
			job.Advance(models.StatusCompleted)
			r.memoryRepo.Save(ctx, job)
		}
	}
	return r.memoryRepo.Find(ctx, id)
}

// stubHost records uploads and returns a fixed public URL.
type stubHost struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (h *stubHost) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	h.mu.Lock()
	h.uploads = append(h.uploads, filename)
	h.mu.Unlock()
	return "https://files.example.com/" + filename, nil
}

// fakeAPI is an httptest WaveSpeed backend: predictions complete after one
// poll and results download as a fixed payload.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /wavespeed-ai/video-watermark-remover", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"request_id": "req-1"})
	})
	mux.HandleFunc("GET /predictions/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "succeeded",
			"result": map[string]string{"video": "http://" + r.Host + "/files/out.mp4"},
		})
	})
	mux.HandleFunc("GET /files/out.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("clean video"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, host *stubHost, repo Repository) Service {
	t.Helper()

	server := fakeAPI(t)
	client, err := wavespeed.NewClient(wavespeed.Config{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() returned error: %v", err)
	}

	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxFileSize:  1 << 20,
			MaxBatchSize: 10,
			Extensions:   []string{".mp4"},
		},
		WaveSpeed: config.WaveSpeedConfig{APIKey: "test-key"},
	}

	svc := NewService(repo, client, host, validation.NewValidator(cfg), Config{
		Tier:           models.TierBronze,
		TempDir:        t.TempDir(),
		ResultsDir:     t.TempDir(),
		ProcessTimeout: 5 * time.Second,
	}, nil)
	t.Cleanup(svc.Close)

	return svc
}

// formFiles builds real multipart file headers the way Fiber hands them to
// the service.
func formFiles(t *testing.T, names ...string) []*multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		fmt.Fprintf(part, "fake video content of %s", name)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("failed to parse multipart form: %v", err)
	}
	return req.MultipartForm.File["files"]
}

func waitForStatus(t *testing.T, svc Service, id string, want models.Status) *models.Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob() returned error: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.IsTerminal() {
			t.Fatalf("job reached terminal status %s (error %q), want %s",
				job.Status, job.Error, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestSubmitBatchRunsPipeline(t *testing.T) {
	host := &stubHost{}
	svc := newTestService(t, host, newMemoryRepo())

	jobs, err := svc.SubmitBatch(context.Background(), formFiles(t, "a.mp4", "b.mp4"), "")
	if err != nil {
		t.Fatalf("SubmitBatch() returned error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	for _, j := range jobs {
		done := waitForStatus(t, svc, j.ID, models.StatusCompleted)

		if done.RequestID != "req-1" {
			t.Errorf("expected request ID req-1, got %q", done.RequestID)
		}
		if done.ResultURL == "" {
			t.Error("completed job has no result URL")
		}
		data, err := os.ReadFile(done.OutputPath)
		if err != nil {
			t.Fatalf("failed to read output file: %v", err)
		}
		if string(data) != "clean video" {
			t.Errorf("unexpected output contents %q", data)
		}
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.uploads) != 2 {
		t.Errorf("expected 2 uploads, got %d", len(host.uploads))
	}
}

func TestSubmitBatchReturnsSnapshots(t *testing.T) {
	svc := newTestService(t, &stubHost{}, newMemoryRepo())

	jobs, err := svc.SubmitBatch(context.Background(), formFiles(t, "a.mp4"), "")
	if err != nil {
		t.Fatalf("SubmitBatch() returned error: %v", err)
	}

	// Marshal the response while the pipeline advances the job.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if _, err := json.Marshal(models.NewBatchResponse(jobs)); err != nil {
				t.Errorf("marshaling batch response: %v", err)
				return
			}
		}
	}()

	waitForStatus(t, svc, jobs[0].ID, models.StatusCompleted)
	<-done

	if jobs[0].Status != models.StatusQueued {
		t.Errorf("returned job mutated by the pipeline: status %s", jobs[0].Status)
	}
}

func TestSubmitBatchRejectsInvalidFiles(t *testing.T) {
	svc := newTestService(t, &stubHost{}, newMemoryRepo())

	_, err := svc.SubmitBatch(context.Background(), formFiles(t, "a.exe"), "")
	if err == nil {
		t.Fatal("expected validation error for disallowed extension")
	}

	if _, err := svc.SubmitBatch(context.Background(), nil, ""); err == nil {
		t.Fatal("expected validation error for empty batch")
	}
}

func TestSubmitBatchFailsJobOnUploadError(t *testing.T) {
	host := &stubHost{err: fmt.Errorf("bucket unavailable")}
	svc := newTestService(t, host, newMemoryRepo())

	jobs, err := svc.SubmitBatch(context.Background(), formFiles(t, "a.mp4"), "")
	if err != nil {
		t.Fatalf("SubmitBatch() returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), jobs[0].ID)
		if err != nil {
			t.Fatalf("GetJob() returned error: %v", err)
		}
		if job.IsTerminal() {
			if !job.IsFailed() {
				t.Fatalf("expected failed, got %s", job.Status)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
}

func TestCancelFinishedJob(t *testing.T) {
	svc := newTestService(t, &stubHost{}, newMemoryRepo())

	jobs, err := svc.SubmitBatch(context.Background(), formFiles(t, "a.mp4"), "")
	if err != nil {
		t.Fatalf("SubmitBatch() returned error: %v", err)
	}
	waitForStatus(t, svc, jobs[0].ID, models.StatusCompleted)

	err = svc.Cancel(context.Background(), jobs[0].ID)
	if err == nil {
		t.Fatal("expected conflict when canceling a finished job")
	}
	if errors.Code(err) != http.StatusConflict {
		t.Errorf("expected 409, got %d", errors.Code(err))
	}
}

func TestCancelJobFinishingDuringCancel(t *testing.T) {
	repo := &finishingRepo{memoryRepo: newMemoryRepo()}
	svc := newTestService(t, &stubHost{}, repo)

	now := time.Now()
	job := &models.Job{
		ID:        "j1",
		Filename:  "a.mp4",
		Status:    models.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.memoryRepo.Save(context.Background(), job); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	err := svc.Cancel(context.Background(), "j1")
	if err == nil {
		t.Fatal("expected conflict when the job finishes mid-cancel")
	}
	if errors.Code(err) != http.StatusConflict {
		t.Errorf("expected 409, got %d", errors.Code(err))
	}

	stored, err := repo.memoryRepo.Find(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Find() returned error: %v", err)
	}
	if stored.Status != models.StatusCompleted {
		t.Errorf("finished status overwritten, got %s", stored.Status)
	}
}

func TestStaleJobSweep(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, &stubHost{}, repo).(*service)

	old := time.Now().Add(-time.Hour)
	stuck := &models.Job{
		ID:        "stuck",
		Filename:  "a.mp4",
		Status:    models.StatusProcessing,
		CreatedAt: old,
		UpdatedAt: old,
	}
	if err := repo.Save(context.Background(), stuck); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	svc.failStaleJobs()

	swept, err := repo.Find(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("Find() returned error: %v", err)
	}
	if !swept.IsFailed() {
		t.Fatalf("expected stale job to be failed, got %s", swept.Status)
	}
	if swept.Error == "" {
		t.Error("swept job has no recorded cause")
	}
}

func TestGetJobUnknownID(t *testing.T) {
	svc := newTestService(t, &stubHost{}, newMemoryRepo())

	if _, err := svc.GetJob(context.Background(), "missing"); !errors.IsNotFound(err) {
		t.Errorf("expected a not-found error, got %v", err)
	}
	if _, err := svc.GetJob(context.Background(), ""); err == nil {
		t.Error("expected error for empty ID")
	}
}
