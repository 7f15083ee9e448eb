package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the tracker collaborator contract consumed by the sync engine.
// Listings are unfiltered: completed and cancelled items are included.
type Client interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ListItems(ctx context.Context, projectID string) ([]Item, error)
	GetItem(ctx context.Context, projectID, itemID string) (Item, error)
}

// HTTPClient talks to the tracker's REST API. It performs no retries itself;
// callers wrap calls in their own retry policy.
type HTTPClient struct {
	baseURL    string
	webBaseURL string
	apiToken   string
	workspace  string
	httpClient *http.Client
}

// NewHTTPClient builds a tracker client. baseURL is the API root
// (e.g. "https://tracker.example.com"); workspace is the workspace slug.
func NewHTTPClient(baseURL, apiToken, workspace string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if workspace == "" {
		workspace = "default"
	}
	return &HTTPClient{
		baseURL:    baseURL,
		webBaseURL: baseURL,
		apiToken:   strings.TrimSpace(apiToken),
		workspace:  workspace,
		httpClient: httpClient,
	}
}

type apiProject struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

type apiItem struct {
	ID          string  `json:"id"`
	SequenceID  int     `json:"sequence_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	StartDate   string  `json:"start_date"`
	TargetDate  string  `json:"target_date"`
	CompletedAt string  `json:"completed_at"`
	Priority    string  `json:"priority"`
	Assignees   []User  `json:"assignees"`
	Labels      []Label `json:"labels"`
	Project     string  `json:"project"`
	UpdatedAt   string  `json:"updated_at"`
	Link        string  `json:"link"`
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]Project, error) {
	var out struct {
		Results []apiProject `json:"results"`
	}
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/", url.PathEscape(c.workspace))
	if err := c.doJSON(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(out.Results))
	for _, p := range out.Results {
		projects = append(projects, Project{ID: p.ID, Name: p.Name, Identifier: p.Identifier})
	}
	return projects, nil
}

func (c *HTTPClient) ListItems(ctx context.Context, projectID string) ([]Item, error) {
	var out struct {
		Results []apiItem `json:"results"`
	}
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/",
		url.PathEscape(c.workspace), url.PathEscape(projectID))
	if err := c.doJSON(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(out.Results))
	for _, raw := range out.Results {
		items = append(items, c.toItem(raw))
	}
	return items, nil
}

func (c *HTTPClient) GetItem(ctx context.Context, projectID, itemID string) (Item, error) {
	var out apiItem
	path := fmt.Sprintf("/api/v1/workspaces/%s/projects/%s/issues/%s/",
		url.PathEscape(c.workspace), url.PathEscape(projectID), url.PathEscape(itemID))
	if err := c.doJSON(ctx, http.MethodGet, path, &out); err != nil {
		return Item{}, err
	}
	return c.toItem(out), nil
}

func (c *HTTPClient) toItem(raw apiItem) Item {
	item := Item{
		ID:          raw.ID,
		SequenceID:  raw.SequenceID,
		Name:        raw.Name,
		Description: raw.Description,
		StartDate:   parseInstant(raw.StartDate),
		DueDate:     parseInstant(raw.TargetDate),
		CompletedAt: parseInstant(raw.CompletedAt),
		Priority:    raw.Priority,
		Assignees:   raw.Assignees,
		Labels:      raw.Labels,
		ProjectID:   raw.Project,
		URL:         raw.Link,
	}
	if ts := parseInstant(raw.UpdatedAt); ts != nil {
		item.UpdatedAt = *ts
	}
	if item.URL == "" {
		item.URL = fmt.Sprintf("%s/%s/projects/%s/issues/%s",
			c.webBaseURL, c.workspace, item.ProjectID, item.ID)
	}
	return item
}

// parseInstant accepts the tracker's two timestamp shapes: RFC 3339 for
// audit fields and bare dates for start/due.
func parseInstant(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts
		}
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	req.Header.Set("X-API-Key", c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &APIError{Message: readErr.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(payload))
		if len(message) > 200 {
			message = message[:200]
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}
