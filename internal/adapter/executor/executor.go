// Package executor implements the Remote Executor Client (C9): it asks an
// external automation service to start/stop a service on a named machine
// and polls the resulting task to completion. A narrow interface scoped to
// exactly the calls the orchestrator needs wraps an HTTP client behind
// Start/Stop/Poll, the way a thin SDK client would; since the external API
// here is a generic job-runner (POST /tasks, GET /tasks/{id}) rather than
// a named automation product, the client is built directly on
// hashicorp/go-retryablehttp rather than a product-specific SDK whose
// resource model wouldn't carry over.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

// Client talks to the remote automation service's task API.
type Client struct {
	baseURL    string
	projectID  string
	authHeader string
	authToken  string
	http       *retryablehttp.Client
}

// Config configures the executor client.
type Config struct {
	BaseURL    string
	ProjectID  string
	AuthHeader string // defaults to "Authorization" when empty
	AuthToken  string
	MaxRetries int // defaults to 3
	Timeout    time.Duration
}

// New builds a Client wrapping a retrying HTTP transport. Retries/backoff
// come from retryablehttp's defaults (exponential, capped), overridden only
// by MaxRetries since the remote task API's own timeout policy is what the
// caller actually cares about tuning.
func New(cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	if cfg.MaxRetries > 0 {
		rc.RetryMax = cfg.MaxRetries
	} else {
		rc.RetryMax = 3
	}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	} else {
		rc.HTTPClient.Timeout = 15 * time.Second
	}

	header := cfg.AuthHeader
	if header == "" {
		header = "Authorization"
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		projectID:  cfg.ProjectID,
		authHeader: header,
		authToken:  cfg.AuthToken,
		http:       rc,
	}
}

type taskRequest struct {
	ServiceID  string            `json:"service_id"`
	MachineID  string            `json:"machine_id"`
	TemplateID string            `json:"template_id"`
	ExtraVars  map[string]string `json:"extra_vars,omitempty"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatusResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

func (c *Client) Start(ctx context.Context, serviceID, machineID, templateID string, extraVars map[string]string) (ports.TaskHandle, error) {
	return c.submit(ctx, serviceID, machineID, templateID, extraVars)
}

func (c *Client) Stop(ctx context.Context, serviceID, machineID, templateID string, extraVars map[string]string) (ports.TaskHandle, error) {
	return c.submit(ctx, serviceID, machineID, templateID, extraVars)
}

func (c *Client) submit(ctx context.Context, serviceID, machineID, templateID string, extraVars map[string]string) (ports.TaskHandle, error) {
	body, err := json.Marshal(taskRequest{
		ServiceID:  serviceID,
		MachineID:  machineID,
		TemplateID: templateID,
		ExtraVars:  extraVars,
	})
	if err != nil {
		return "", fmt.Errorf("encoding task request: %w", err)
	}

	url := fmt.Sprintf("%s/api/project/%s/tasks", c.baseURL, c.projectID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building task request: %w", err)
	}
	c.authorise(req.Request)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting task: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("task submission got status %d", resp.StatusCode)
	}

	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding task response: %w", err)
	}
	return ports.TaskHandle(out.TaskID), nil
}

func (c *Client) Poll(ctx context.Context, handle ports.TaskHandle) (ports.TaskStatus, error) {
	url := fmt.Sprintf("%s/api/project/%s/tasks/%s", c.baseURL, c.projectID, handle)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ports.TaskStatus{}, fmt.Errorf("building poll request: %w", err)
	}
	c.authorise(req.Request)

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.TaskStatus{}, fmt.Errorf("polling task: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.TaskStatus{}, fmt.Errorf("task poll got status %d", resp.StatusCode)
	}

	var out taskStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.TaskStatus{}, fmt.Errorf("decoding poll response: %w", err)
	}

	return ports.TaskStatus{State: mapState(out.State), Reason: out.Reason}, nil
}

func mapState(raw string) ports.TaskState {
	switch raw {
	case "success", "succeeded", "completed":
		return ports.TaskSuccess
	case "failed", "error":
		return ports.TaskFailed
	default:
		return ports.TaskRunning
	}
}

func (c *Client) authorise(req *http.Request) {
	if c.authToken == "" {
		return
	}
	req.Header.Set(c.authHeader, c.authToken)
}

var _ ports.RemoteExecutor = (*Client)(nil)
