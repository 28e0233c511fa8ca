package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/docqa/internal/app"
	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/models"
)

// Backend is what the data commands talk to: a running server or the local index.
type Backend interface {
	Status(ctx context.Context) (*models.Status, error)
	// Sync ingests dir; an empty dir means the configured data directory.
	Sync(ctx context.Context, dir string) (*models.SyncReport, error)
	// Query answers req; MaxResults zero means the server default.
	Query(ctx context.Context, req *models.QueryRequest) (*models.Answer, error)
	Consistency(ctx context.Context, dir string) (*models.ConsistencyReport, error)
	Documents(ctx context.Context) ([]*models.DocumentInfo, error)
	Delete(ctx context.Context, filename string) (*models.DeleteResult, error)
}

// Local runs commands against the on-disk index directly.
type Local struct {
	App *app.App
}

func (l *Local) Status(ctx context.Context) (*models.Status, error) {
	return l.App.Reporter.Status(ctx)
}

func (l *Local) Sync(ctx context.Context, dir string) (*models.SyncReport, error) {
	if dir == "" {
		dir = l.App.Config.Documents.DataDir
	}
	return l.App.Pipeline.Sync(ctx, dir)
}

func (l *Local) Query(ctx context.Context, req *models.QueryRequest) (*models.Answer, error) {
	if req.MaxResults == 0 {
		req.MaxResults = l.App.Engine.DefaultMaxResults()
	}
	return l.App.Engine.Answer(ctx, req)
}

func (l *Local) Consistency(ctx context.Context, dir string) (*models.ConsistencyReport, error) {
	return l.App.Reporter.CheckConsistency(ctx, dir)
}

func (l *Local) Documents(ctx context.Context) ([]*models.DocumentInfo, error) {
	return l.App.Reporter.Documents(ctx)
}

func (l *Local) Delete(ctx context.Context, filename string) (*models.DeleteResult, error) {
	return l.App.Pipeline.DeleteDocument(ctx, filename)
}

// Client talks to a running docqa server, which avoids opening the index
// from a second process.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync asks the server to sync its own data directory; dir must be empty.
func (c *Client) Sync(ctx context.Context, dir string) (*models.SyncReport, error) {
	if dir != "" {
		return nil, apperr.New(apperr.ValidationFailure, "--dir is not supported with --server; the server syncs its data directory")
	}
	var out models.SyncReport
	if err := c.do(ctx, http.MethodPost, "/api/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Query(ctx context.Context, req *models.QueryRequest) (*models.Answer, error) {
	body := map[string]interface{}{"query": req.Query}
	if req.MaxResults != 0 {
		body["max_results"] = req.MaxResults
	}
	if req.SimilarityThreshold != nil {
		body["similarity_threshold"] = *req.SimilarityThreshold
	}
	if len(req.Filters) > 0 {
		body["filters"] = req.Filters
	}
	var out models.Answer
	if err := c.do(ctx, http.MethodPost, "/api/query", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Consistency checks the server's data directory; dir must be empty.
func (c *Client) Consistency(ctx context.Context, dir string) (*models.ConsistencyReport, error) {
	if dir != "" {
		return nil, apperr.New(apperr.ValidationFailure, "--dir is not supported with --server; the server checks its data directory")
	}
	var out models.ConsistencyReport
	if err := c.do(ctx, http.MethodGet, "/api/consistency", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Documents(ctx context.Context) ([]*models.DocumentInfo, error) {
	var out struct {
		Documents []*models.DocumentInfo `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/documents", nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func (c *Client) Delete(ctx context.Context, filename string) (*models.DeleteResult, error) {
	var out models.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(filename), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends a JSON request and decodes a JSON response. Error responses are
// turned back into structured errors carrying the server's kind.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(b, &e) == nil && e.Kind != "" {
			return apperr.New(apperr.Kind(e.Kind), "%s", e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
