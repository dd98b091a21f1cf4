// Package pipeline talks to the Python point-cloud processing service: it
// uploads raw clouds, fetches per-chunk results and submits committed box
// deletions for export.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pointcarve/server/internal/config"
)

// Client handles communication with the Python processing service
type Client struct {
	baseURL    string
	timeout    time.Duration
	retryCount int
	client     *http.Client
	validate   *validator.Validate
}

// NewClient creates a new processing service client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.Pipeline.BaseURL,
		timeout:    cfg.Pipeline.Timeout,
		retryCount: cfg.Pipeline.RetryCount,
		client: &http.Client{
			Timeout: cfg.Pipeline.Timeout,
		},
		validate: validator.New(),
	}
}

// ProcessPointCloud uploads a raw .pcd file and runs the full pipeline
// (clustering, ground split, inference). The call blocks until the service
// finishes and returns the per-chunk results. Uploads are not retried: the
// pipeline is not idempotent and a retry would spawn a second job.
func (c *Client) ProcessPointCloud(filename string, r io.Reader) (*JobResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to copy upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/process_pcd", c.baseURL)
	req, err := http.NewRequest("POST", endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer closeBody(resp, "process")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("processing failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return c.decodeJobResult(respBody)
}

// Results fetches the per-chunk results of a previously processed job.
func (c *Client) Results(jobID string) (*JobResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	endpoint := fmt.Sprintf("%s/results/%s", c.baseURL, url.PathEscape(jobID))

	respBody, err := c.getWithRetry(endpoint)
	if err != nil {
		return nil, fmt.Errorf("results fetch failed after %d attempts: %w", c.retryCount+1, err)
	}
	return c.decodeJobResult(respBody)
}

// SubmitDeletions posts the session's committed box deletions back to the
// service, which applies them to the original cloud and returns a download
// location for the filtered result.
func (c *Client) SubmitDeletions(req ExportRequest) (*ExportResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid export request: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/results", c.baseURL)

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 100ms, 200ms, 400ms
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			time.Sleep(backoff)
		}

		httpReq, err := http.NewRequest("POST", endpoint, bytes.NewBuffer(body))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		closeBody(resp, "export")
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("export failed with status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var response ExportResponse
		if err := json.Unmarshal(respBody, &response); err != nil {
			lastErr = fmt.Errorf("failed to decode export response: %w", err)
			continue
		}
		if !response.Success {
			lastErr = fmt.Errorf("service reported export failure")
			continue
		}
		return &response, nil
	}

	return nil, fmt.Errorf("export failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *Client) getWithRetry(endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			time.Sleep(backoff)
		}

		req, err := http.NewRequest("GET", endpoint, nil)
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		closeBody(resp, "results")
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			// Unknown jobs never become known; retrying is pointless.
			return nil, fmt.Errorf("job not found: %s", string(respBody))
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		return respBody, nil
	}
	return nil, lastErr
}

func (c *Client) decodeJobResult(body []byte) (*JobResult, error) {
	var result JobResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	if err := c.validate.Struct(result); err != nil {
		return nil, fmt.Errorf("job result failed validation: %w", err)
	}
	return &result, nil
}

func closeBody(resp *http.Response, context string) {
	if err := resp.Body.Close(); err != nil {
		log.Printf("Warning: failed to close pipeline %s response body: %v", context, err)
	}
}
