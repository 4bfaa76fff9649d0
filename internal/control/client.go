package control

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

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/plan"
)

// DefaultTimeout bounds every request of a Client built without an
// http.Client.
const DefaultTimeout = 30 * time.Second

// Client drives a remote Surface over HTTP. Error responses are mapped back
// to the orchestrator's sentinel errors.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL (for example
// "http://localhost:7420"). A nil hc uses a client with DefaultTimeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

var _ Surface = (*Client)(nil)

// Initialize implements Surface.
func (c *Client) Initialize(ctx context.Context, planID string) (execution.Context, error) {
	var exec execution.Context
	err := c.do(ctx, http.MethodPost, "/executions", initializeRequest{PlanID: planID}, &exec)
	return exec, err
}

// Start implements Surface.
func (c *Client) Start(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, executionPath(executionID, "start"), nil, nil)
}

// Pause implements Surface.
func (c *Client) Pause(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, executionPath(executionID, "pause"), nil, nil)
}

// Resume implements Surface.
func (c *Client) Resume(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, executionPath(executionID, "resume"), nil, nil)
}

// Cancel implements Surface.
func (c *Client) Cancel(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, executionPath(executionID, "cancel"), nil, nil)
}

// GetStatus implements Surface.
func (c *Client) GetStatus(ctx context.Context, executionID string) (events.State, error) {
	var st events.State
	err := c.do(ctx, http.MethodGet, executionPath(executionID, ""), nil, &st)
	return st, err
}

// GetMetrics implements Surface.
func (c *Client) GetMetrics(ctx context.Context, executionID string) (execution.Metrics, error) {
	var m execution.Metrics
	err := c.do(ctx, http.MethodGet, executionPath(executionID, "metrics"), nil, &m)
	return m, err
}

// Healthz reports whether the server answers its liveness check.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func executionPath(id, action string) string {
	p := "/executions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError rebuilds the error a handler classified.
func decodeError(resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = resp.Status
		}
	}

	var sentinel error
	switch body.Code {
	case codeInvalidGraph:
		return &orchestrator.InvalidGraphError{ExecutionID: body.ExecutionID, Issues: body.Issues}
	case codeAlreadyRunning:
		sentinel = orchestrator.ErrAlreadyRunning
	case codeInvalidTransition:
		sentinel = orchestrator.ErrInvalidTransition
	case codeNotInitialized:
		sentinel = orchestrator.ErrNotInitialized
	case codePlanNotFound:
		sentinel = plan.ErrPlanNotFound
	default:
		switch resp.StatusCode {
		case http.StatusNotFound:
			sentinel = orchestrator.ErrNotInitialized
		case http.StatusConflict:
			sentinel = orchestrator.ErrInvalidTransition
		case http.StatusUnprocessableEntity:
			sentinel = orchestrator.ErrInvalidGraph
		}
	}
	if sentinel == nil {
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
	return &remoteError{msg: body.Error, sentinel: sentinel}
}

// remoteError keeps the server's message and matches the sentinel it maps to.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// StatusError is an error response that maps to no lifecycle error.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control server returned %d: %s", e.Code, e.Message)
}
