package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/scheduler"
)

var (
	colorOK      = color.New(color.FgGreen)
	colorWarn    = color.New(color.FgYellow)
	colorFail    = color.New(color.FgRed)
	colorMuted   = color.New(color.FgHiBlack)
	colorHeading = color.New(color.Bold)
)

func executionStatus(s execution.Status) string {
	switch s {
	case execution.StatusCompleted:
		return colorOK.Sprint(s)
	case execution.StatusRunning, execution.StatusPaused:
		return colorWarn.Sprint(s)
	case execution.StatusFailed, execution.StatusCancelled:
		return colorFail.Sprint(s)
	default:
		return colorMuted.Sprint(s)
	}
}

func taskMarker(s scheduler.TaskStatus) string {
	switch s {
	case scheduler.TaskCompleted:
		return colorOK.Sprint("✓")
	case scheduler.TaskFailed:
		return colorFail.Sprint("✗")
	case scheduler.TaskAssigned, scheduler.TaskInProgress:
		return colorWarn.Sprint("●")
	case scheduler.TaskSkipped:
		return colorMuted.Sprint("-")
	default:
		return colorMuted.Sprint("○")
	}
}

// printState writes an execution summary and its task table.
func printState(w io.Writer, st events.State) {
	if e := st.Execution; e != nil {
		fmt.Fprintf(w, "%s %s  plan %s  [%s]\n", colorHeading.Sprint("Execution"), e.ID, e.PlanID, executionStatus(e.Status))
		fmt.Fprintf(w, "  tasks: %d total, %d completed, %d failed\n", e.TotalTasks, e.CompletedTasks, e.FailedTasks)
		if e.StartedAt != nil {
			fmt.Fprintf(w, "  started: %s\n", e.StartedAt.Format(time.RFC3339))
		}
		if e.CompletedAt != nil {
			fmt.Fprintf(w, "  finished: %s\n", e.CompletedAt.Format(time.RFC3339))
		}
	}
	if h := st.Health; h != nil {
		score := colorOK
		if !h.Healthy() {
			score = colorWarn
		}
		fmt.Fprintf(w, "  health: %s", score.Sprintf("%.0f", h.Score))
		if len(h.Issues) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(h.Issues, "; "))
		}
		fmt.Fprintln(w)
	}
	if len(st.Tasks) > 0 {
		fmt.Fprintln(w)
	}
	for _, t := range st.Tasks {
		fmt.Fprintf(w, "  %s %-14s %-7s %s", taskMarker(t.Status), t.Role, t.Priority, t.Title)
		if t.RetryCount > 0 {
			fmt.Fprintf(w, " %s", colorWarn.Sprintf("(retries %d/%d)", t.RetryCount, t.MaxRetries))
		}
		if t.Error != "" {
			fmt.Fprintf(w, " %s", colorFail.Sprint(t.Error))
		}
		fmt.Fprintln(w)
	}
}

// printMetrics writes execution metrics.
func printMetrics(w io.Writer, m execution.Metrics) {
	fmt.Fprintf(w, "%s %s\n", colorHeading.Sprint("Metrics"), m.ExecutionID)
	fmt.Fprintf(w, "  tasks:        %d\n", m.TotalTasks)
	fmt.Fprintf(w, "  success rate: %.0f%%\n", m.SuccessRate*100)
	fmt.Fprintf(w, "  failure rate: %.0f%%\n", m.FailureRate*100)
	fmt.Fprintf(w, "  retry rate:   %.0f%%\n", m.RetryRate*100)
	fmt.Fprintf(w, "  avg duration: %s\n", m.AvgTaskDuration.Round(time.Millisecond))
	if m.HealthScore != nil {
		fmt.Fprintf(w, "  health:       %.0f\n", *m.HealthScore)
	}
	for _, role := range scheduler.Roles {
		rm, ok := m.Roles[role]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-14s %d total, %d completed, %d failed\n", role, rm.Total, rm.Completed, rm.Failed)
	}
}

// printEvent writes one event as a log line.
func printEvent(w io.Writer, ev events.BridgeEvent) {
	ts := colorMuted.Sprint(ev.Timestamp.Format("15:04:05"))
	line := fmt.Sprintf("%s %-20s", ts, ev.Type)

	switch {
	case ev.Task != nil:
		t := ev.Task
		line += fmt.Sprintf(" %s %s (%s)", taskMarker(t.Status), t.Title, t.Role)
		if ev.Message != "" {
			line += " " + colorWarn.Sprint(ev.Message)
		} else if t.Error != "" && t.Status == scheduler.TaskFailed {
			line += " " + colorFail.Sprint(t.Error)
		}
	case ev.Type == events.HealthUpdate && ev.Data.Health != nil:
		line += fmt.Sprintf(" score %.0f", ev.Data.Health.Score)
	case ev.Data.Execution != nil:
		line += " " + executionStatus(ev.Data.Execution.Status)
		if ev.Message != "" {
			line += " " + colorFail.Sprint(ev.Message)
		}
	case ev.Message != "":
		line += " " + colorFail.Sprint(ev.Message)
	}
	fmt.Fprintln(w, line)
}

// terminalEvent reports whether ev ends an execution.
func terminalEvent(ev events.BridgeEvent) bool {
	switch ev.Type {
	case events.ExecutionCompleted, events.ExecutionCancelled:
		return true
	case events.Error:
		return ev.Data.Execution != nil && ev.Data.Execution.Status.Terminal()
	}
	return false
}
