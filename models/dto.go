package models

// JobResponse represents a single job in API responses
type JobResponse struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Status    Status `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewJobResponse creates a response from a job model
func NewJobResponse(j *Job) *JobResponse {
	return &JobResponse{
		ID:        j.ID,
		Filename:  j.Filename,
		Status:    j.Status,
		ResultURL: j.ResultURL,
		Error:     j.Error,
	}
}

// BatchResponse represents the result of submitting a set of files
type BatchResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

// NewBatchResponse creates a response from the accepted jobs
func NewBatchResponse(jobs []*Job) *BatchResponse {
	resp := &BatchResponse{Jobs: make([]*JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, NewJobResponse(j))
	}
	return resp
}
