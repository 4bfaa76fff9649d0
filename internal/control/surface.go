// Package control exposes the execution lifecycle over HTTP and provides
// the matching client.
package control

import (
	"context"
	"errors"
	"net/http"

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/plan"
)

// Surface is the set of lifecycle operations a caller can drive. The
// orchestrator engine implements it in process and Client over HTTP.
type Surface interface {
	Initialize(ctx context.Context, planID string) (execution.Context, error)
	Start(ctx context.Context, executionID string) error
	Pause(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string) error
	Cancel(ctx context.Context, executionID string) error
	GetStatus(ctx context.Context, executionID string) (events.State, error)
	GetMetrics(ctx context.Context, executionID string) (execution.Metrics, error)
}

var _ Surface = (*orchestrator.Engine)(nil)

// Error codes carried in error bodies so clients can tell apart errors that
// share an HTTP status.
const (
	codeAlreadyRunning    = "already_running"
	codeNotInitialized    = "not_initialized"
	codePlanNotFound      = "plan_not_found"
	codeInvalidTransition = "invalid_transition"
	codeInvalidGraph      = "invalid_graph"
	codeBadRequest        = "bad_request"
	codeInternal          = "internal"
)

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	ExecutionID string   `json:"executionId,omitempty"`
	Issues      []string `json:"issues,omitempty"`
}

// classify maps an operation error to its HTTP status and body.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var gerr *orchestrator.InvalidGraphError
	switch {
	case errors.As(err, &gerr):
		body.Code = codeInvalidGraph
		body.ExecutionID = gerr.ExecutionID
		body.Issues = gerr.Issues
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		body.Code = codeAlreadyRunning
		return http.StatusConflict, body
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		body.Code = codeInvalidTransition
		return http.StatusConflict, body
	case errors.Is(err, orchestrator.ErrNotInitialized):
		body.Code = codeNotInitialized
		return http.StatusNotFound, body
	case errors.Is(err, plan.ErrPlanNotFound):
		body.Code = codePlanNotFound
		return http.StatusNotFound, body
	}
	body.Code = codeInternal
	return http.StatusInternalServerError, body
}
