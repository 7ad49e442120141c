// Package generation talks to the external generative-AI executor. Work is
// submitted over HTTP; results arrive later on the webhook endpoint.
package generation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SignatureHeader carries the provider's HMAC over the raw webhook body.
const SignatureHeader = "X-Generation-Signature"

// SubmitRequest asks the provider to start one job. The webhook URL tells
// it where to deliver status callbacks.
type SubmitRequest struct {
	JobID      uuid.UUID       `json:"jobId"`
	JobType    string          `json:"jobType"`
	Input      json.RawMessage `json:"input"`
	WebhookURL string          `json:"webhookUrl"`
}

// WebhookPayload is the provider's asynchronous callback body.
type WebhookPayload struct {
	JobID  uuid.UUID       `json:"jobId"`
	Status string          `json:"status"` // processing | completed | failed
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WebhookError   `json:"error,omitempty"`
}

type WebhookError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Result is the subset of the provider's opaque result payload the
// coordinator needs for model updates and artifact storage.
type Result struct {
	ModelURL string          `json:"modelUrl,omitempty"`
	Images   []Image         `json:"images,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type Image struct {
	URL string `json:"url"`
}

// Submitter starts externally-executed work.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) error
}

// Client is the HTTP Submitter for the real provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Submitter = (*Client)(nil)

// Submit hands the job to the provider. Acceptance is all that is confirmed
// here; completion or failure arrives later via webhook.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("submit job %s: %w", req.JobID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("submit job %s: provider returned status %d", req.JobID, resp.StatusCode)
	}
	return nil
}

// ValidateSignature checks the provider's hex HMAC-SHA256 over the raw body.
func ValidateSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
