// Package storage talks to a Supabase-style backend: an object store for
// source and result PDFs and a REST table for job progress.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when an object or job row does not exist.
var ErrNotFound = errors.New("not found")

// JobTable is the REST table holding job rows.
const JobTable = "translation_jobs"

// Client communicates with the storage HTTP API.
type Client struct {
	baseURL     string
	apiKey      string
	maxDownload int64
	httpClient  *http.Client
}

// NewClient returns a client. maxDownload caps the size of a downloaded
// object; zero or less means no cap.
func NewClient(baseURL, apiKey string, maxDownload int64) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		maxDownload: maxDownload,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// JobUpdate is the body of a job row PATCH. Zero fields are omitted.
type JobUpdate struct {
	Progress     int       `json:"progress"`
	Status       string    `json:"status,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OutputPath   string    `json:"output_path,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func objectURL(base, bucket, path string) string {
	parts := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return base + "/storage/v1/object/" + url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

// Download fetches an object's bytes.
func (c *Client) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL(c.baseURL, bucket, path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(fmt.Sprintf("download %s/%s", bucket, path), resp)
	}

	var r io.Reader = resp.Body
	if c.maxDownload > 0 {
		r = io.LimitReader(resp.Body, c.maxDownload+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, path, err)
	}
	if c.maxDownload > 0 && int64(len(data)) > c.maxDownload {
		return nil, fmt.Errorf("download %s/%s: object exceeds %d bytes", bucket, path, c.maxDownload)
	}
	return data, nil
}

// Upload stores data at bucket/path, replacing any existing object.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, objectURL(c.baseURL, bucket, path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError(fmt.Sprintf("upload %s/%s", bucket, path), resp)
	}
	return nil
}

// UpdateJob patches the job row with the given id. Progress is clamped to
// 0-100. A row that does not exist is ErrNotFound.
func (c *Client) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	upd.Progress = max(0, min(100, upd.Progress))
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("marshal job update: %w", err)
	}
	u := c.baseURL + "/rest/v1/" + JobTable + "?id=eq." + url.QueryEscape(id)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("update job "+id, resp)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("decode job update: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("update job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
