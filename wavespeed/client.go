package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.wavespeed.ai/api/v3"

const predictionPath = "/wavespeed-ai/video-watermark-remover"

// Result is the terminal outcome of a prediction.
type Result struct {
	RequestID string
	Status    string
	ResultURL string
}

// Succeeded reports whether the remote service produced a result file.
func (r *Result) Succeeded() bool {
	return r.Status == "succeeded" && r.ResultURL != ""
}

// APIError carries the HTTP status of a failed WaveSpeed call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wavespeed api returned %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTPTimeout  time.Duration
}

// Client talks to the WaveSpeed watermark-removal API.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
	// httpClient bounds the short JSON calls. streamClient carries no total
	// timeout since http.Client.Timeout covers the whole body copy, which
	// would cut off large transfers mid-stream; upload and download are
	// bounded by their context instead.
	httpClient   *http.Client
	streamClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("an API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Minute
	}
	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		httpClient:   &http.Client{Timeout: httpTimeout},
		streamClient: &http.Client{},
	}, nil
}

// WithAPIKey returns a copy of the client using the given key. Used for
// per-request key overrides from the form.
func (c *Client) WithAPIKey(key string) *Client {
	if key == "" || key == c.apiKey {
		return c
	}
	clone := *c
	clone.apiKey = key
	return &clone
}

// Upload sends the video to the WaveSpeed upload endpoint and returns the
// public URL the prediction endpoint can fetch.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", errors.Wrap(err, "creating multipart form")
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", errors.Wrap(err, "writing file to form")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "closing multipart form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", &buf)
	if err != nil {
		return "", errors.Wrap(err, "building upload request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var payload map[string]interface{}
	if err := c.doWith(c.streamClient, req, &payload); err != nil {
		return "", errors.Wrap(err, "upload failed")
	}

	for _, key := range []string{"url", "file_url"} {
		if url, ok := payload[key].(string); ok && url != "" {
			return url, nil
		}
	}
	return "", errors.New("unexpected upload response structure; expected a URL")
}

// CreatePrediction submits the hosted video for watermark removal and
// returns the prediction request ID.
func (c *Client) CreatePrediction(ctx context.Context, videoURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"video": videoURL})
	if err != nil {
		return "", errors.Wrap(err, "encoding prediction request")
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+predictionPath, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building prediction request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var payload map[string]interface{}
	if err := c.do(req, &payload); err != nil {
		return "", errors.Wrap(err, "prediction creation failed")
	}

	if id := extractRequestID(payload); id != "" {
		return id, nil
	}
	return "", errors.New("prediction response did not include a request ID")
}

// GetResult performs a single poll of the prediction result endpoint.
// The returned Result is nil while the prediction is still running.
func (c *Client) GetResult(ctx context.Context, requestID string) (*Result, error) {
	url := fmt.Sprintf("%s/predictions/%s/result", c.baseURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building poll request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var payload map[string]interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, errors.Wrap(err, "polling failed")
	}

	status := extractStatus(payload)
	switch status {
	case "succeeded", "failed", "error":
		return &Result{
			RequestID: requestID,
			Status:    status,
			ResultURL: extractResultURL(payload),
		}, nil
	}
	return nil, nil
}

// WaitForResult polls until the prediction reaches a terminal status or the
// poll timeout elapses.
func (c *Client) WaitForResult(ctx context.Context, requestID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		result, err := c.GetResult(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(),
				"timed out waiting for result of %s", requestID)
		case <-ticker.C:
		}
	}
}

// Download fetches the processed video into destPath.
func (c *Client) Download(ctx context.Context, resultURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return errors.Wrap(err, "building download request")
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "downloading result")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.Wrap(err, "creating results directory")
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "creating result file")
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(destPath)
		return errors.Wrap(err, "writing result file")
	}

	return nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	return c.doWith(c.httpClient, req, out)
}

func (c *Client) doWith(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(b))
}

// The API is loose about field names; accept every variant the service has
// been seen returning.
func extractRequestID(payload map[string]interface{}) string {
	for _, key := range []string{"request_id", "requestId", "id", "prediction_id"} {
		if id, ok := payload[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func extractStatus(payload map[string]interface{}) string {
	if s, ok := payload["status"].(string); ok && s != "" {
		return s
	}
	if s, ok := payload["state"].(string); ok && s != "" {
		return s
	}
	if result, ok := payload["result"].(map[string]interface{}); ok {
		if s, ok := result["status"].(string); ok {
			return s
		}
	}
	return ""
}

func extractResultURL(payload map[string]interface{}) string {
	result, ok := payload["result"]
	if !ok {
		return ""
	}

	if s, ok := result.(string); ok {
		return s
	}

	obj, ok := result.(map[string]interface{})
	if !ok {
		return ""
	}

	for _, key := range []string{"video", "output", "url", "video_url"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}

	// Fall back to any http(s) string value in the object.
	for _, v := range obj {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "http") {
			return s
		}
	}
	return ""
}
