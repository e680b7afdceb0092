package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/config"
)

// ErrTransport marks failures where no response came back from the remote
// batch service.
var ErrTransport = errors.New("remote batch service unreachable")

// APIError is a well-formed error response from the remote batch service.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote batch service error (status %d) %s %s: %s", e.StatusCode, e.Method, e.Path, e.Detail)
	}
	return fmt.Sprintf("remote batch service error (status %d) %s %s", e.StatusCode, e.Method, e.Path)
}

// RemoteBatchService defines the operations consumed from the remote
// batch/call processing backend.
type RemoteBatchService interface {
	Upload(ctx context.Context, fileName string, body io.Reader) (*UploadResponse, error)
	ListBatches(ctx context.Context) ([]RemoteBatch, error)
	GetBatchCalls(ctx context.Context, batchID string) (*BatchCallsResponse, error)
	Redial(ctx context.Context, callID string) (*RedialResponse, error)
}

// BatchClient implements RemoteBatchService over HTTP/JSON.
type BatchClient struct {
	httpClient *http.Client
	baseURL    string
	log        logrus.FieldLogger
}

// UploadResponse is the remote reply to POST /upload. The batch id is
// either top-level or carried by the first created call.
type UploadResponse struct {
	Message          string       `json:"message"`
	BatchID          string       `json:"batch_id"`
	OriginalFilename string       `json:"original_filename"`
	TotalUsers       int          `json:"total_users"`
	Calls            []RemoteCall `json:"calls"`
}

// ResolveBatchID returns the batch id from either location, or "".
func (r *UploadResponse) ResolveBatchID() string {
	if r.BatchID != "" {
		return r.BatchID
	}
	if len(r.Calls) > 0 {
		return r.Calls[0].BatchID
	}
	return ""
}

// RemoteBatch is one entry of GET /batches.
type RemoteBatch struct {
	ID        string `json:"id"`
	MongoID   string `json:"_id"`
	FileName  string `json:"file_name"`
	CreatedAt string `json:"created_at"`
}

// Identifier returns whichever id field the remote populated.
func (b RemoteBatch) Identifier() string {
	if b.ID != "" {
		return b.ID
	}
	return b.MongoID
}

// BatchCallsResponse is the reply to GET /calls/batch/{batchId}.
type BatchCallsResponse struct {
	BatchID    string       `json:"batch_id"`
	TotalCalls int          `json:"total_calls"`
	Calls      []RemoteCall `json:"calls"`
}

// RemoteCall is a call task as the remote service sends it.
type RemoteCall struct {
	ID         string            `json:"id"`
	MongoID    string            `json:"_id"`
	BatchID    string            `json:"batch_id"`
	Status     string            `json:"status"`
	User       *RemoteUser       `json:"user"`
	VapiCallID *string           `json:"vapi_call_id"`
	CallResult *RemoteCallResult `json:"call_result"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

// RemoteUser is the contact a call task dials.
type RemoteUser struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// RemoteCallResult is attached once the remote service processed a call.
type RemoteCallResult struct {
	Summary        *string  `json:"summary"`
	Transcript     *string  `json:"transcript"`
	QualityScore   *float64 `json:"quality_score"`
	CustomerIntent *string  `json:"customer_intent"`
	RecordingURL   *string  `json:"recording_url"`
}

// RedialResponse identifies the newly triggered remote call attempt.
type RedialResponse struct {
	CallID     string `json:"call_id"`
	ID         string `json:"id"`
	VapiCallID string `json:"vapi_call_id"`
	Status     string `json:"status"`
}

// AttemptID returns the first populated identifier.
func (r *RedialResponse) AttemptID() string {
	switch {
	case r.CallID != "":
		return r.CallID
	case r.ID != "":
		return r.ID
	default:
		return r.VapiCallID
	}
}

// NewBatchClient creates a client for the remote batch service
func NewBatchClient(cfg *config.RemoteConfig, log logrus.FieldLogger) *BatchClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultRemoteBaseURL
	}
	return &BatchClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		log:     log,
	}
}

// BaseURL returns the remote service root this client talks to.
func (c *BatchClient) BaseURL() string {
	return c.baseURL
}

// Upload sends a spreadsheet as multipart field "file".
func (c *BatchClient) Upload(ctx context.Context, fileName string, body io.Reader) (*UploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("failed to copy upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result UploadResponse
	if err := c.doRequest(req, "/upload", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListBatches returns batches in remote order. Both a bare array and an
// object with a "batches" array are accepted.
func (c *BatchClient) ListBatches(ctx context.Context) ([]RemoteBatch, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/batches", &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var batches []RemoteBatch
		if err := json.Unmarshal(raw, &batches); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batches: %w", err)
		}
		return batches, nil
	}

	var wrapped struct {
		Batches []RemoteBatch `json:"batches"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batches: %w", err)
	}
	return wrapped.Batches, nil
}

// GetBatchCalls retrieves every call of a batch
func (c *BatchClient) GetBatchCalls(ctx context.Context, batchID string) (*BatchCallsResponse, error) {
	endpoint := fmt.Sprintf("/calls/batch/%s", url.PathEscape(batchID))
	var result BatchCallsResponse
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Redial asks the remote service to call a contact again
func (c *BatchClient) Redial(ctx context.Context, callID string) (*RedialResponse, error) {
	endpoint := fmt.Sprintf("/calls/%s/redial", url.PathEscape(callID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result RedialResponse
	if err := c.doRequest(req, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck reports whether the remote service answers at all.
func (c *BatchClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &APIError{Method: http.MethodGet, Path: "/", StatusCode: resp.StatusCode}
	}
	return nil
}

// get sends a GET request and parses JSON response
func (c *BatchClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, endpoint, result)
}

// doRequest executes an HTTP request and parses the response
func (c *BatchClient) doRequest(req *http.Request, endpoint string, result interface{}) error {
	req.Header.Set("Accept", "application/json")
	log := c.log.WithFields(logrus.Fields{"method": req.Method, "path": endpoint})

	log.Debug("[Batch API] →")
	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("[Batch API] ✗ request failed")
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Warn("[Batch API] ✗ failed to read response")
		return fmt.Errorf("%w: reading %s %s: %v", ErrTransport, req.Method, endpoint, err)
	}

	log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"latency": time.Since(started).String(),
		"bytes":   len(respBody),
	}).Debug("[Batch API] ←")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     req.Method,
			Path:       endpoint,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(respBody),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.WithError(err).Warn("[Batch API] ✗ unmarshal error")
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// errorDetail extracts {"detail": "..."} when present, else the raw body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(payload.Detail); err == nil {
			return string(b)
		}
	}
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	// A cut may split a multi-byte rune.
	return strings.ToValidUTF8(string(body), "")
}
