// Package client is a typed HTTP client for the buildor API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:4000"

// Client provides typed access to the buildor API for interactive tools.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError is an error envelope returned by the API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Details)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Commands are the build commands of a project.
type Commands struct {
	PreBuild []string `json:"preBuild,omitempty"`
	Build    []string `json:"build,omitempty"`
}

// Project mirrors the project resource.
type Project struct {
	ID                  string     `json:"uuid"`
	Name                string     `json:"name"`
	Repository          string     `json:"repository"`
	Commands            Commands   `json:"commands"`
	OutputFolder        string     `json:"outputFolder"`
	CurrentDeploymentID *string    `json:"currentDeploymentId"`
	LastPublished       *time.Time `json:"lastPublished"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// CreateProjectRequest registers a project.
type CreateProjectRequest struct {
	Name         string    `json:"name"`
	Repository   string    `json:"repository"`
	Commands     *Commands `json:"commands,omitempty"`
	OutputFolder string    `json:"outputFolder,omitempty"`
}

// Receipt is returned when a deployment starts.
type Receipt struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	BuildJobID string    `json:"buildJobId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Deployment is the status view of a deployment.
type Deployment struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	BuildNumber int64      `json:"buildNumber,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Duration is the build's wall time, or zero until both ends are known.
func (d Deployment) Duration() time.Duration {
	if d.StartedAt == nil || d.EndedAt == nil {
		return 0
	}
	return d.EndedAt.Sub(*d.StartedAt)
}

// Terminal reports whether the deployment can no longer change.
func (d Deployment) Terminal() bool {
	return d.Status != "Pending" && d.Status != "Building"
}

type list[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// CreateProject registers a project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "/projects", req, &out)
	return out, err
}

// ListProjects returns up to limit projects.
func (c *Client) ListProjects(ctx context.Context, limit int) ([]Project, error) {
	var out list[Project]
	err := c.do(ctx, http.MethodGet, "/projects"+limitQuery(limit), nil, &out)
	return out.Items, err
}

// GetProject fetches a project.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, &out)
	return out, err
}

// TriggerDeployment starts a deployment of the project.
func (c *Client) TriggerDeployment(ctx context.Context, projectID, sourceVersion string) (Receipt, error) {
	body := map[string]string{"project_uuid": projectID}
	if sourceVersion != "" {
		body["sourceVersion"] = sourceVersion
	}
	var out Receipt
	err := c.do(ctx, http.MethodPost, "/project-deployments", body, &out)
	return out, err
}

// ListDeployments returns the project's deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, projectID string, limit int) ([]Deployment, error) {
	var out list[Deployment]
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/deployments"+limitQuery(limit), nil, &out)
	return out.Items, err
}

// DeploymentStatus fetches the current status of a deployment.
func (c *Client) DeploymentStatus(ctx context.Context, deploymentID string) (Deployment, error) {
	var out Deployment
	err := c.do(ctx, http.MethodGet, "/project-deployments/"+url.PathEscape(deploymentID), nil, &out)
	return out, err
}

// WaitForDeployment polls until the deployment is terminal or ctx ends.
// onChange is called whenever the status or phase changes.
func (c *Client) WaitForDeployment(ctx context.Context, deploymentID string, interval time.Duration, onChange func(Deployment)) (Deployment, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	var last Deployment
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d, err := c.DeploymentStatus(ctx, deploymentID)
		if err != nil {
			return last, err
		}
		if onChange != nil && (d.Status != last.Status || d.Phase != last.Phase) {
			onChange(d)
		}
		last = d
		if d.Terminal() {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		apiErr.Details = payload.Details
	}
	return apiErr
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
