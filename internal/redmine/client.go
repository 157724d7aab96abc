// ABOUTME: HTTP client for the Redmine REST API
// ABOUTME: Every call is made with the acting user's API key in X-Redmine-API-Key

package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// apiKeyHeader carries the per-user API key.
const apiKeyHeader = "X-Redmine-API-Key"

// MaxTopIssues caps ListOpenIssues for chat display.
const MaxTopIssues = 10

// Client talks to one Redmine instance.
type Client struct {
	baseURL       string
	openStatusIDs string
	http          *http.Client
	logger        *slog.Logger
}

// NewClient creates a client. openStatusIDs is the status_id filter used for
// "open" issues, e.g. "1,2,3".
func NewClient(baseURL string, timeout time.Duration, openStatusIDs string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		openStatusIDs: openStatusIDs,
		http:          &http.Client{Timeout: timeout},
		logger:        logger.With("component", "redmine"),
	}
}

// BaseURL returns the instance URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IssueURL returns the browser URL of an issue.
func (c *Client) IssueURL(id int64) string {
	return fmt.Sprintf("%s/issues/%d", c.baseURL, id)
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *Client) newRequest(ctx context.Context, apiKey string, r request) (*http.Request, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(apiKeyHeader, apiKey)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	return req, nil
}

// do sends r and decodes a JSON answer into out (when non-nil).
func (c *Client) do(ctx context.Context, apiKey string, r request, out any) error {
	req, err := c.newRequest(ctx, apiKey, r)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, r.method, r.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(r, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrUnavailable, r.path, err)
	}
	return nil
}

// handleErrorResponse turns a non-2xx answer into a typed error.
func (c *Client) handleErrorResponse(r request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var payload struct {
			Errors []string `json:"errors"`
		}
		if json.Unmarshal(body, &payload) == nil && len(payload.Errors) > 0 {
			return &ValidationError{Messages: payload.Errors}
		}
	}

	c.logger.Warn("redmine request failed", "method", r.method, "path", r.path, "status", resp.StatusCode)
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

// GetIssue fetches an issue with its journals.
func (c *Client) GetIssue(ctx context.Context, apiKey string, id int64) (*Issue, error) {
	var out struct {
		Issue Issue `json:"issue"`
	}
	err := c.do(ctx, apiKey, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/issues/%d.json", id),
		query:  url.Values{"include": {"journals"}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Issue, nil
}

type issueList struct {
	Issues     []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
}

func (c *Client) openIssues(ctx context.Context, apiKey string, userID int64, limit int) (*issueList, error) {
	var out issueList
	err := c.do(ctx, apiKey, request{
		method: http.MethodGet,
		path:   "/issues.json",
		query: url.Values{
			"assigned_to_id": {strconv.FormatInt(userID, 10)},
			"status_id":      {c.openStatusIDs},
			"limit":          {strconv.Itoa(limit)},
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOpenIssues returns up to limit (at most MaxTopIssues) open issues
// assigned to userID, newest first as Redmine sorts them.
func (c *Client) ListOpenIssues(ctx context.Context, apiKey string, userID int64, limit int) ([]Issue, error) {
	if limit <= 0 || limit > MaxTopIssues {
		limit = MaxTopIssues
	}
	list, err := c.openIssues(ctx, apiKey, userID, limit)
	if err != nil {
		return nil, err
	}
	return list.Issues, nil
}

// CountOpenIssues returns the number of open issues assigned to userID.
func (c *Client) CountOpenIssues(ctx context.Context, apiKey string, userID int64) (int, error) {
	list, err := c.openIssues(ctx, apiKey, userID, 1)
	if err != nil {
		return 0, err
	}
	return list.TotalCount, nil
}

// Upload sends file content and returns the token to reference it from an issue.
func (c *Client) Upload(ctx context.Context, apiKey string, f File) (Upload, error) {
	var out struct {
		Upload struct {
			Token string `json:"token"`
		} `json:"upload"`
	}
	err := c.do(ctx, apiKey, request{
		method:      http.MethodPost,
		path:        "/uploads.json",
		query:       url.Values{"filename": {f.Name}},
		body:        bytes.NewReader(f.Data),
		contentType: "application/octet-stream",
	}, &out)
	if err != nil {
		return Upload{}, fmt.Errorf("uploading %s: %w", f.Name, err)
	}
	return Upload{Token: out.Upload.Token, Filename: f.Name, ContentType: f.ContentType}, nil
}

func (c *Client) uploadAll(ctx context.Context, apiKey string, files []File) ([]Upload, error) {
	uploads := make([]Upload, 0, len(files))
	for _, f := range files {
		u, err := c.Upload(ctx, apiKey, f)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// CreateIssue uploads files and creates the issue referencing them.
func (c *Client) CreateIssue(ctx context.Context, apiKey string, in NewIssue, files []File) (*Issue, error) {
	uploads, err := c.uploadAll(ctx, apiKey, files)
	if err != nil {
		return nil, err
	}

	type issuePayload struct {
		NewIssue
		Uploads []Upload `json:"uploads,omitempty"`
	}
	body, err := jsonBody(map[string]issuePayload{"issue": {NewIssue: in, Uploads: uploads}})
	if err != nil {
		return nil, err
	}

	var out struct {
		Issue Issue `json:"issue"`
	}
	err = c.do(ctx, apiKey, request{
		method:      http.MethodPost,
		path:        "/issues.json",
		body:        body,
		contentType: "application/json",
	}, &out)
	if err != nil {
		return nil, err
	}

	c.logger.Info("issue created", "issue_id", out.Issue.ID, "project_id", in.ProjectID, "attachments", len(uploads))
	return &out.Issue, nil
}

// AddNotes appends a journal entry with optional attachments to an issue.
func (c *Client) AddNotes(ctx context.Context, apiKey string, issueID int64, notes string, files []File) error {
	uploads, err := c.uploadAll(ctx, apiKey, files)
	if err != nil {
		return err
	}

	payload := map[string]any{"notes": notes}
	if len(uploads) > 0 {
		payload["uploads"] = uploads
	}
	body, err := jsonBody(map[string]any{"issue": payload})
	if err != nil {
		return err
	}

	err = c.do(ctx, apiKey, request{
		method:      http.MethodPut,
		path:        fmt.Sprintf("/issues/%d.json", issueID),
		body:        body,
		contentType: "application/json",
	}, nil)
	if err != nil {
		return err
	}

	c.logger.Info("notes added", "issue_id", issueID, "attachments", len(uploads))
	return nil
}

// Memberships returns the projects userID belongs to. A positive limit
// truncates the list, so limit 1 yields only the default project.
func (c *Client) Memberships(ctx context.Context, apiKey string, userID int64, limit int) ([]Membership, error) {
	var out struct {
		User struct {
			Memberships []Membership `json:"memberships"`
		} `json:"user"`
	}
	err := c.do(ctx, apiKey, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/users/%d.json", userID),
		query:  url.Values{"include": {"memberships"}},
	}, &out)
	if err != nil {
		return nil, err
	}
	ms := out.User.Memberships
	if limit > 0 && len(ms) > limit {
		ms = ms[:limit]
	}
	return ms, nil
}

// Project fetches a project's id and name.
func (c *Client) Project(ctx context.Context, apiKey string, id int64) (*Ref, error) {
	var out struct {
		Project Ref `json:"project"`
	}
	if err := c.do(ctx, apiKey, request{method: http.MethodGet, path: fmt.Sprintf("/projects/%d.json", id)}, &out); err != nil {
		return nil, err
	}
	return &out.Project, nil
}

func (c *Client) listRefs(ctx context.Context, apiKey, path, field string) ([]Ref, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, apiKey, request{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	var refs []Ref
	if raw, ok := out[field]; ok {
		if err := json.Unmarshal(raw, &refs); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", ErrUnavailable, field, err)
		}
	}
	return refs, nil
}

// Trackers lists all trackers.
func (c *Client) Trackers(ctx context.Context, apiKey string) ([]Ref, error) {
	return c.listRefs(ctx, apiKey, "/trackers.json", "trackers")
}

// Statuses lists all issue statuses.
func (c *Client) Statuses(ctx context.Context, apiKey string) ([]Ref, error) {
	return c.listRefs(ctx, apiKey, "/issue_statuses.json", "issue_statuses")
}

// Priorities lists the issue priority enumeration.
func (c *Client) Priorities(ctx context.Context, apiKey string) ([]Ref, error) {
	return c.listRefs(ctx, apiKey, "/enumerations/issue_priorities.json", "issue_priorities")
}

// DownloadAttachment fetches attachment content by id.
func (c *Client) DownloadAttachment(ctx context.Context, apiKey string, attachmentID int64) ([]byte, error) {
	r := request{method: http.MethodGet, path: fmt.Sprintf("/attachments/download/%d", attachmentID)}
	req, err := c.newRequest(ctx, apiKey, r)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading attachment %d: %v", ErrUnavailable, attachmentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(r, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading attachment %d: %v", ErrUnavailable, attachmentID, err)
	}
	return data, nil
}
