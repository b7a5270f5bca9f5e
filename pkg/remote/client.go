package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignatij/flowmirror/internal/config"
	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/pkg/errors"
)

const apiKeyHeader = "X-N8N-API-KEY"

// Logger defines the logging interface for CatalogClient
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// CatalogClient is a stateless adapter over the remote automation engine's
// HTTP API. It holds no local state; every call is a pure request/response
// mapping and every failure is typed. The client is constructed once at
// process start and passed by dependency injection so tests can substitute a
// stub server.
type CatalogClient struct {
	cfg        config.Remote
	httpClient *http.Client
	strategies []invocationStrategy
	logger     Logger
}

func NewCatalogClient(cfg config.Remote, httpClient *http.Client, logger Logger) *CatalogClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &CatalogClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
	// Ordered by preference: a configured webhook is tried first, the generic
	// run endpoint is the fallback when the webhook misbehaves.
	c.strategies = []invocationStrategy{
		webhookStrategy{client: c},
		directRunStrategy{client: c},
	}
	return c
}

// ListWorkflows fetches the complete remote workflow catalog.
func (c *CatalogClient) ListWorkflows(ctx context.Context) ([]RemoteWorkflow, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}
	body, err := c.get(ctx, c.cfg.BaseURL+"/api/v1/workflows")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []RemoteWorkflow `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, "malformed workflow list response")
	}
	return payload.Data, nil
}

// GetExecution fetches the remote state of one execution.
func (c *CatalogClient) GetExecution(ctx context.Context, remoteExecutionID string) (RemoteExecution, error) {
	if !c.cfg.Configured() {
		return RemoteExecution{}, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/executions/%s", c.cfg.BaseURL, remoteExecutionID), nil)
	if err != nil {
		return RemoteExecution{}, errors.Wrap(err, "build execution request")
	}
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RemoteExecution{}, errors.Wrapf(ErrRemoteUnavailable, "get execution %s: %v", remoteExecutionID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return RemoteExecution{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RemoteExecution{}, errors.Wrapf(ErrRemoteUnavailable, "get execution %s: status %d", remoteExecutionID, resp.StatusCode)
	}
	var exec RemoteExecution
	if err := json.NewDecoder(resp.Body).Decode(&exec); err != nil {
		return RemoteExecution{}, errors.Wrap(ErrRemoteUnavailable, "malformed execution response")
	}
	return exec, nil
}

// Invoke triggers a workflow remotely, attempting each invocation strategy in
// order. A webhook failure falls through to the direct-run endpoint so that a
// misconfigured or rate-limited webhook does not block dispatch when the
// generic API path is reachable.
func (c *CatalogClient) Invoke(ctx context.Context, wf models.WorkflowDefinition, input json.RawMessage) (InvocationResult, error) {
	if !c.cfg.Configured() {
		return InvocationResult{}, ErrNotConfigured
	}
	var lastErr error
	for _, s := range c.strategies {
		if !s.applicable(wf) {
			continue
		}
		res, err := s.invoke(ctx, wf, input)
		if err == nil {
			return res, nil
		}
		c.logger.Errorf("Invocation strategy %s failed for workflow %s: %v", s.name(), wf.RemoteID, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.Wrapf(ErrRemoteUnavailable, "no invocation strategy applicable for workflow %s", wf.RemoteID)
	}
	return InvocationResult{}, lastErr
}

func (c *CatalogClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrRemoteUnavailable, "GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrapf(ErrRemoteUnavailable, "GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *CatalogClient) postJSON(ctx context.Context, url string, body json.RawMessage, withAPIKey bool) (int, []byte, error) {
	if body == nil {
		body = json.RawMessage("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if withAPIKey {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(ErrRemoteUnavailable, "POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, nil
}
