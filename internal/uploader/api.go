package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiResponse is the control-plane response envelope
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *apiError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InitiateRequest mirrors POST /uploads
type InitiateRequest struct {
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// PartURL mirrors one signed part target
type PartURL struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
}

// InitiateResponse mirrors the transfer plan
type InitiateResponse struct {
	VideoID    string    `json:"videoId"`
	SessionID  string    `json:"sessionId"`
	Mode       string    `json:"mode"`
	UploadURL  string    `json:"uploadUrl,omitempty"`
	PartSize   int64     `json:"partSize,omitempty"`
	TotalParts int       `json:"totalParts,omitempty"`
	PartURLs   []PartURL `json:"partUrls,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// RefreshURLsResponse mirrors the re-signed part URLs
type RefreshURLsResponse struct {
	PartURLs  []PartURL `json:"partUrls"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Client talks to the upload control plane
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a control-plane client for the given base URL, for
// example http://localhost:8080/api/v1
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Initiate asks the control plane for a transfer plan
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	var resp InitiateResponse
	if err := c.do(ctx, http.MethodPost, "/uploads", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshURLs asks the control plane to re-sign every part URL
func (c *Client) RefreshURLs(ctx context.Context, videoID string) (*RefreshURLsResponse, error) {
	var resp RefreshURLsResponse
	if err := c.do(ctx, http.MethodPost, "/uploads/"+videoID+"/refresh-urls", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordChecksums merges part checksums into the server-side manifest
func (c *Client) RecordChecksums(ctx context.Context, videoID string, parts []PartChecksum) error {
	body := map[string]interface{}{"parts": parts}
	return c.do(ctx, http.MethodPatch, "/uploads/"+videoID+"/part-checksums", body, nil)
}

// Complete finalizes the upload
func (c *Client) Complete(ctx context.Context, videoID string, parts []UploadedPart) error {
	body := map[string]interface{}{"parts": parts}
	return c.do(ctx, http.MethodPost, "/uploads/"+videoID+"/complete", body, nil)
}

// Abort cancels the upload server side
func (c *Client) Abort(ctx context.Context, videoID string) error {
	return c.do(ctx, http.MethodPost, "/uploads/"+videoID+"/abort", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return envelope.Error
		}
		return fmt.Errorf("request rejected with status %d", resp.StatusCode)
	}
	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
