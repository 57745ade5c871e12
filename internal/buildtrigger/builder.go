package buildtrigger

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

	"github.com/splax/buildor/internal/domain"
)

// BuilderTokenHeader authenticates calls between the API and the builder service.
const BuilderTokenHeader = "X-Builder-Token"

// Builder starts builds on the self-hosted builder service over HTTP.
type Builder struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ Trigger = (*Builder)(nil)
	_ Stopper = (*Builder)(nil)
)

// NewBuilder returns an HTTP trigger for the builder at baseURL.
func NewBuilder(baseURL, token string, timeout time.Duration) *Builder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Builder{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type startBuildRequest struct {
	JobDefinition string   `json:"job_definition"`
	Env           []EnvVar `json:"env"`
	BuildSpec     string   `json:"build_spec,omitempty"`
}

type startBuildResponse struct {
	JobID string `json:"job_id"`
}

// StartBuild posts the build to the builder and returns its job id.
func (b *Builder) StartBuild(ctx context.Context, req BuildRequest) (string, error) {
	payload, err := json.Marshal(startBuildRequest{
		JobDefinition: req.JobDefinition,
		Env:           req.Env,
		BuildSpec:     req.BuildSpec,
	})
	if err != nil {
		return "", err
	}
	resp, err := b.post(ctx, "/builds", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("start build: %w", err)
	}
	var out startBuildResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("start build: decode response: %w", err)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", fmt.Errorf("start build: %w: no job id returned", ErrRejected)
	}
	return domain.NormalizeBuildJobID(out.JobID), nil
}

// StopBuild asks the builder to cancel a job.
func (b *Builder) StopBuild(ctx context.Context, jobID string) error {
	resp, err := b.post(ctx, "/builds/"+url.PathEscape(jobID)+"/stop", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("stop build: %w", err)
	}
	return nil
}

func (b *Builder) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set(BuilderTokenHeader, b.token)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("builder request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s %s", ErrRejected, resp.Status, msg)
	}
	return fmt.Errorf("builder returned %s %s", resp.Status, msg)
}
