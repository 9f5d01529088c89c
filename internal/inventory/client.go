// Package inventory is the HTTP client for the admin backend's import
// control-plane endpoints: preview upload, import confirmation and the
// point-in-time job-status query used for reconciliation.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client talks to the inventory admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// JobStatusResponse is the reconciliation endpoint's payload.
type JobStatusResponse struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	SucceededCount int    `json:"succeededCount"`
	FailedCount    int    `json:"failedCount"`
	ErrorMessage   string `json:"errorMessage"`
}

// NewClient builds a client for the given base URL. A zero timeout falls back
// to 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UploadForPreview posts the CSV as a multipart body and returns the
// server-assigned job id. Non-2xx responses become errors carrying the
// response body text.
func (c *Client) UploadForPreview(ctx context.Context, fileName string, file io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/products/import-preview", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload preview: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("upload response missing jobId")
	}
	return payload.JobID, nil
}

// ConfirmImport asks the server to commit a previewed job.
func (c *Client) ConfirmImport(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return fmt.Errorf("marshal confirm payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/products/confirm-import", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("confirm import: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// JobStatus queries the current server-side status of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/import/status/"+jobID, nil)
	if err != nil {
		return JobStatusResponse{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JobStatusResponse{}, fmt.Errorf("query job status: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return JobStatusResponse{}, err
	}
	var payload JobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return JobStatusResponse{}, fmt.Errorf("decode job status: %w", err)
	}
	return payload, nil
}

// checkStatus turns a non-2xx response into an error whose message is the
// trimmed response body, falling back to the HTTP status line.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("%s", msg)
}
